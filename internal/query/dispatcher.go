// Package query validates query requests, folds multimodal blocks into the
// engine payload, and shapes raw engine answers into the stable response
// contract. The engine is invoked exactly once per request.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nguyenngocdue/RAG-MCP/internal/model"
)

var validModes = map[model.QueryMode]struct{}{
	model.ModeHybrid: {},
	model.ModeLocal:  {},
	model.ModeGlobal: {},
	model.ModeNaive:  {},
}

var validBlockTypes = map[model.BlockType]struct{}{
	model.BlockTable:    {},
	model.BlockImage:    {},
	model.BlockEquation: {},
}

// Dispatcher maps validated requests onto single engine calls bounded by a
// timeout, so a hung engine cannot stall the caller indefinitely.
type Dispatcher struct {
	engine  model.Engine
	timeout time.Duration
	logger  *slog.Logger
}

func NewDispatcher(eng model.Engine, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Dispatcher{engine: eng, timeout: timeout, logger: logger}
}

// Dispatch validates req and runs it. Validation failures are rejected
// before any engine call; there is no silent fallback for a bad mode, so
// caller typos stay visible.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.QueryRequest) (model.QueryResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return model.QueryResult{}, model.NewError(model.KindInvalidArgument, "query must not be empty")
	}
	mode := req.Mode
	if mode == "" {
		mode = model.ModeHybrid
	}
	if _, ok := validModes[mode]; !ok {
		return model.QueryResult{}, model.NewError(model.KindInvalidMode, "unknown query mode %q (want hybrid|local|global|naive)", req.Mode)
	}
	if req.TopK < 0 {
		return model.QueryResult{}, model.NewError(model.KindInvalidArgument, "top_k must be a positive integer, got %d", req.TopK)
	}
	for i, block := range req.Blocks {
		if _, ok := validBlockTypes[block.Type]; !ok {
			return model.QueryResult{}, model.NewError(model.KindUnsupportedContent, "multimodal block %d has unsupported type %q", i, block.Type)
		}
	}

	payload := req.Query
	if len(req.Blocks) > 0 {
		payload = renderMultimodal(req.Query, req.Blocks)
	}

	queryCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	answer, err := d.engine.Query(queryCtx, payload, mode, req.TopK)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && queryCtx.Err() != nil && ctx.Err() == nil {
			return model.QueryResult{}, model.WrapError(model.KindQueryTimeout, err, "engine did not answer within %s", d.timeout)
		}
		if model.ErrKind(err) != "" {
			return model.QueryResult{}, err
		}
		return model.QueryResult{}, model.WrapError(model.KindEngine, err, "engine query failed")
	}

	d.logger.Debug("query answered", "mode", mode, "blocks", len(req.Blocks), "answer_length", len(answer))
	return model.QueryResult{
		Query:  req.Query,
		Answer: answer,
		Mode:   string(mode),
	}, nil
}

// renderMultimodal folds content blocks into an additional-context section
// appended to the query text, in block order.
func renderMultimodal(query string, blocks []model.ContentBlock) string {
	var b strings.Builder
	b.WriteString(query)
	b.WriteString("\n\nAdditional Context:\n")
	for _, block := range blocks {
		switch block.Type {
		case model.BlockTable:
			b.WriteString("table: ")
			if block.TableCaption != "" {
				b.WriteString(block.TableCaption)
				b.WriteString("\n")
			}
			b.WriteString(block.TableData)
		case model.BlockImage:
			b.WriteString("image: ")
			b.WriteString(block.ImagePath)
			if len(block.ImageCaption) > 0 {
				b.WriteString(" (")
				b.WriteString(strings.Join(block.ImageCaption, "; "))
				b.WriteString(")")
			}
		case model.BlockEquation:
			b.WriteString("equation: ")
			b.WriteString(block.Latex)
			if block.EquationCaption != "" {
				fmt.Fprintf(&b, " (%s)", block.EquationCaption)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
