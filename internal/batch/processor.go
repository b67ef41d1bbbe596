// Package batch coordinates concurrent document processing under a bounded
// worker pool. One document's failure never cancels or blocks the others;
// the batch call itself fails only on structural problems that make no
// progress possible.
package batch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nguyenngocdue/RAG-MCP/internal/extract"
	"github.com/nguyenngocdue/RAG-MCP/internal/model"
	"github.com/nguyenngocdue/RAG-MCP/internal/registry"
)

// Processor drives documents through extract + engine insert with guarded
// registry transitions around each step.
type Processor struct {
	registry   *registry.Registry
	dispatcher *extract.Dispatcher
	engine     model.Engine
	logger     *slog.Logger

	defaultLimit int
	hardLimit    int
}

func NewProcessor(reg *registry.Registry, dispatcher *extract.Dispatcher, eng model.Engine, defaultLimit, hardLimit int, logger *slog.Logger) *Processor {
	if defaultLimit < 1 {
		defaultLimit = 1
	}
	if hardLimit < defaultLimit {
		hardLimit = defaultLimit
	}
	return &Processor{
		registry:     reg,
		dispatcher:   dispatcher,
		engine:       eng,
		logger:       logger,
		defaultLimit: defaultLimit,
		hardLimit:    hardLimit,
	}
}

// clampConcurrency normalizes a caller-supplied ceiling: zero/negative means
// the configured default, values above the hard ceiling are clamped, never
// rejected.
func (p *Processor) clampConcurrency(requested int) int {
	if requested < 1 {
		return p.defaultLimit
	}
	if requested > p.hardLimit {
		return p.hardLimit
	}
	return requested
}

// ProcessBatch processes docIDs concurrently and returns one result per
// input id in submission order, regardless of completion order. Cancelling
// ctx stops submission of new items immediately; items already in flight
// run to completion and unstarted items are reported CANCELLED.
func (p *Processor) ProcessBatch(ctx context.Context, docIDs []string, maxConcurrent int) ([]model.ItemResult, error) {
	if len(docIDs) == 0 {
		return nil, model.NewError(model.KindInvalidArgument, "batch contains no documents")
	}
	for _, id := range docIDs {
		if _, err := p.registry.Get(ctx, id); err != nil {
			return nil, model.NewError(model.KindInvalidArgument, "batch contains unknown document %q", id)
		}
	}

	limit := p.clampConcurrency(maxConcurrent)
	jobID := uuid.NewString()
	logger := p.logger.With("job_id", jobID)
	logger.Info("batch started", "documents", len(docIDs), "max_concurrent", limit)

	results := make([]model.ItemResult, len(docIDs))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

submission:
	for i, docID := range docIDs {
		select {
		case <-ctx.Done():
			p.markCancelled(results, docIDs, i)
			break submission
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(slot int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			// in-flight items are allowed to complete after cancellation;
			// only submission stops.
			results[slot] = p.processOne(context.WithoutCancel(ctx), id, extract.Options{}, logger)
		}(i, docID)
	}

	wg.Wait()
	logger.Info("batch finished", "results", summarize(results))
	return results, nil
}

// ProcessOne runs the full pipeline for a single document with optional
// extraction overrides. This backs the process_document tool and is the
// same path batch items take.
func (p *Processor) ProcessOne(ctx context.Context, docID string, opts extract.Options) (model.ItemResult, model.DocStats, error) {
	if _, err := p.registry.Get(ctx, docID); err != nil {
		return model.ItemResult{}, model.DocStats{}, err
	}
	res := p.processOne(ctx, docID, opts, p.logger)
	doc, err := p.registry.Get(ctx, docID)
	if err != nil {
		return res, model.DocStats{}, nil //nolint:nilerr // result already carries the outcome
	}
	return res, doc.Stats, nil
}

// processOne performs the guarded PROCESSING claim, extraction, engine
// insert, and the terminal transition. A lost claim race is reported as
// SKIPPED, never treated as fatal.
func (p *Processor) processOne(ctx context.Context, docID string, opts extract.Options, logger *slog.Logger) model.ItemResult {
	doc, err := p.claim(ctx, docID)
	if err != nil {
		if model.IsKind(err, model.KindInvalidTransition) {
			return model.ItemResult{DocID: docID, Status: model.ItemSkipped, Error: err.Error()}
		}
		return model.ItemResult{DocID: docID, Status: model.ItemFailed, Error: err.Error()}
	}

	result, extractErr := p.dispatcher.Extract(ctx, doc, opts)
	if extractErr != nil {
		return p.fail(ctx, docID, extractErr, logger)
	}

	// Empty extracted content is a valid outcome (e.g. image-only PDF with
	// no OCR); nothing goes to the engine, the document still completes.
	if result.Text != "" {
		if err := p.engine.Insert(ctx, docID, result.Text); err != nil {
			return p.fail(ctx, docID, err, logger)
		}
	}

	stats := model.DocStats{
		ContentLength: len(result.Text),
		BlockCount:    len(result.Blocks),
		PageCount:     result.PageCount,
	}
	if _, err := p.registry.Transition(ctx, docID, model.StateProcessing, model.StateProcessed, registry.TransitionPayload{Stats: stats}); err != nil {
		return model.ItemResult{DocID: docID, Status: model.ItemFailed, Error: err.Error()}
	}
	return model.ItemResult{DocID: docID, Status: model.ItemProcessed}
}

// claim moves the document into PROCESSING, accepting either the fresh
// UPLOADED edge or the FAILED retry edge.
func (p *Processor) claim(ctx context.Context, docID string) (model.Document, error) {
	doc, err := p.registry.Transition(ctx, docID, model.StateUploaded, model.StateProcessing, registry.TransitionPayload{})
	if err == nil {
		return doc, nil
	}
	if !model.IsKind(err, model.KindInvalidTransition) {
		return model.Document{}, err
	}
	return p.registry.Transition(ctx, docID, model.StateFailed, model.StateProcessing, registry.TransitionPayload{})
}

func (p *Processor) fail(ctx context.Context, docID string, cause error, logger *slog.Logger) model.ItemResult {
	logger.Warn("document processing failed", "doc_id", docID, "error", cause)
	if _, err := p.registry.Transition(ctx, docID, model.StateProcessing, model.StateFailed, registry.TransitionPayload{Error: cause.Error()}); err != nil {
		logger.Error("failed to record FAILED state", "doc_id", docID, "error", err)
	}
	return model.ItemResult{DocID: docID, Status: model.ItemFailed, Error: cause.Error()}
}

func (p *Processor) markCancelled(results []model.ItemResult, docIDs []string, from int) {
	for i := from; i < len(docIDs); i++ {
		results[i] = model.ItemResult{DocID: docIDs[i], Status: model.ItemCancelled, Error: "batch cancelled before start"}
	}
}

func summarize(results []model.ItemResult) map[string]int {
	counts := make(map[string]int, 4)
	for _, r := range results {
		counts[string(r.Status)]++
	}
	return counts
}
