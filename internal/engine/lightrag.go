// Package engine is the HTTP client for the external LightRAG-compatible
// retrieval engine. The engine owns knowledge-graph construction, embedding,
// vector indexing, and answer generation; this client only moves content and
// queries across the wire.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nguyenngocdue/RAG-MCP/internal/model"
)

// Options configure the client.
type Options struct {
	BaseURL string
	// APIKey is forwarded so the engine can reach its upstream LLM and
	// embedding provider.
	APIKey         string
	LLMModel       string
	EmbeddingModel string
	// RPS throttles insert/query/delete calls; the engine fans each one out
	// to rate-limited upstream APIs, so this is the protective valve.
	RPS float64
}

// Client implements model.Engine over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	llm     string
	embed   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu          sync.Mutex
	initialized bool
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	rps := opts.RPS
	if rps <= 0 {
		rps = 4
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		llm:     opts.LLMModel,
		embed:   opts.EmbeddingModel,
		http:    &http.Client{Timeout: 10 * time.Minute},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger:  logger,
	}
}

// SetHTTPClient replaces the underlying HTTP client; used by tests.
func (c *Client) SetHTTPClient(h *http.Client) { c.http = h }

// Init performs the engine's one-time storage initialization. It must
// complete once before Insert/Query/Delete; subsequent calls are no-ops.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	body := map[string]any{
		"llm_model":       c.llm,
		"embedding_model": c.embed,
	}
	if err := c.post(ctx, "/initialize", body, nil); err != nil {
		return model.WrapError(model.KindEngine, err, "engine initialization failed")
	}
	c.initialized = true
	c.logger.Info("retrieval engine initialized", "llm_model", c.llm, "embedding_model", c.embed)
	return nil
}

// Insert pushes extracted text into the knowledge base. Inserts are NOT
// idempotent per logical content: re-inserting a processed document creates
// duplicate graph content, which is why callers gate on document state.
func (c *Client) Insert(ctx context.Context, docID, text string) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	body := map[string]any{
		"doc_id": docID,
		"text":   text,
	}
	if err := c.post(ctx, "/insert", body, nil); err != nil {
		return model.WrapError(model.KindEngine, err, "insert failed for %q", docID)
	}
	return nil
}

// Query runs one retrieval in the given mode. Mode strings pass through to
// the engine unchanged; validation happens in the query dispatcher before
// this call.
func (c *Client) Query(ctx context.Context, query string, mode model.QueryMode, topK int) (string, error) {
	if err := c.ready(ctx); err != nil {
		return "", err
	}
	body := map[string]any{
		"query": query,
		"mode":  string(mode),
	}
	if topK > 0 {
		body["top_k"] = topK
	}
	var out struct {
		Answer string `json:"answer"`
	}
	if err := c.post(ctx, "/query", body, &out); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", model.WrapError(model.KindEngine, err, "query failed")
	}
	return out.Answer, nil
}

// Delete removes a document's content from the engine's own storage.
func (c *Client) Delete(ctx context.Context, docID string) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	if err := c.post(ctx, "/delete", map[string]any{"doc_id": docID}, nil); err != nil {
		return model.WrapError(model.KindEngine, err, "delete failed for %q", docID)
	}
	return nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) ready(ctx context.Context) error {
	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	if !initialized {
		if err := c.Init(ctx); err != nil {
			return err
		}
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine returned %d on %s: %s", resp.StatusCode, path, trim(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode engine response from %s: %w", path, err)
		}
	}
	return nil
}

func trim(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 240 {
		return s[:240]
	}
	return s
}
