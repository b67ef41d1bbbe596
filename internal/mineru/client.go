// Package mineru is the HTTP client for a MinerU/Docling-compatible parsing
// service. The service accepts a document file and returns a page-ordered
// content list (text, tables, images, equations); this client normalizes
// that list into a model.ExtractionResult.
package mineru

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nguyenngocdue/RAG-MCP/internal/model"
)

const (
	ParserMinerU  = "mineru"
	ParserDocling = "docling"

	defaultTimeout = 10 * time.Minute
)

// Client implements model.Parser against one parsing backend.
type Client struct {
	baseURL string
	name    string
	http    *http.Client
}

// NewClient builds a parser client. name selects the backend ("mineru" or
// "docling") and is also the name the extraction dispatcher resolves
// overrides against.
func NewClient(baseURL, name string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// SetHTTPClient replaces the underlying HTTP client; used by tests.
func (c *Client) SetHTTPClient(h *http.Client) { c.http = h }

func (c *Client) Name() string { return c.name }

// contentItem mirrors one entry of the service's content list.
type contentItem struct {
	Type            string   `json:"type"`
	Text            string   `json:"text,omitempty"`
	ImgPath         string   `json:"img_path,omitempty"`
	ImageCaption    []string `json:"image_caption,omitempty"`
	TableData       string   `json:"table_body,omitempty"`
	TableCaption    string   `json:"table_caption,omitempty"`
	Latex           string   `json:"latex,omitempty"`
	EquationCaption string   `json:"equation_caption,omitempty"`
	PageIdx         int      `json:"page_idx"`
}

type parseResponse struct {
	ContentList []contentItem `json:"content_list"`
	Error       string        `json:"error,omitempty"`
}

// Parse uploads the file and converts the returned content list. Text units
// are concatenated in source order with page boundaries preserved in block
// metadata; an empty content list yields an empty result, not an error.
func (c *Client) Parse(ctx context.Context, path string, method string) (model.ExtractionResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return model.ExtractionResult{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return model.ExtractionResult{}, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return model.ExtractionResult{}, fmt.Errorf("read %s: %w", path, err)
	}
	if method == "" {
		method = "auto"
	}
	if err := form.WriteField("parse_method", method); err != nil {
		return model.ExtractionResult{}, err
	}
	if err := form.WriteField("backend", c.name); err != nil {
		return model.ExtractionResult{}, err
	}
	if err := form.Close(); err != nil {
		return model.ExtractionResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse", &body)
	if err != nil {
		return model.ExtractionResult{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return model.ExtractionResult{}, fmt.Errorf("parse request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return model.ExtractionResult{}, fmt.Errorf("read parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.ExtractionResult{}, fmt.Errorf("parse service returned %d: %s", resp.StatusCode, snippet(payload))
	}

	var parsed parseResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return model.ExtractionResult{}, fmt.Errorf("decode parse response: %w", err)
	}
	if parsed.Error != "" {
		return model.ExtractionResult{}, fmt.Errorf("parse service error: %s", parsed.Error)
	}

	return flattenContentList(parsed.ContentList), nil
}

// flattenContentList converts a page-ordered content list into the
// normalized extraction result. Items are kept in source order; the page
// index travels on each block for downstream provenance.
func flattenContentList(items []contentItem) model.ExtractionResult {
	var (
		text    strings.Builder
		blocks  []model.ContentBlock
		maxPage = -1
	)
	for _, item := range items {
		if item.PageIdx > maxPage {
			maxPage = item.PageIdx
		}
		switch item.Type {
		case "text", "":
			if strings.TrimSpace(item.Text) == "" {
				continue
			}
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(item.Text)
		case "table":
			blocks = append(blocks, model.ContentBlock{
				Type:         model.BlockTable,
				TableData:    item.TableData,
				TableCaption: item.TableCaption,
				PageIdx:      item.PageIdx,
			})
		case "image":
			blocks = append(blocks, model.ContentBlock{
				Type:         model.BlockImage,
				ImagePath:    item.ImgPath,
				ImageCaption: item.ImageCaption,
				PageIdx:      item.PageIdx,
			})
		case "equation":
			blocks = append(blocks, model.ContentBlock{
				Type:            model.BlockEquation,
				Latex:           item.Latex,
				EquationCaption: item.EquationCaption,
				PageIdx:         item.PageIdx,
			})
		}
	}

	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].PageIdx < blocks[j].PageIdx })
	return model.ExtractionResult{
		Text:      text.String(),
		Blocks:    blocks,
		PageCount: maxPage + 1,
	}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 240 {
		return s[:240]
	}
	return s
}
