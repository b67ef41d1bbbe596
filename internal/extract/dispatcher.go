// Package extract turns a stored document file into normalized retrievable
// content: a text body plus optional multimodal blocks with page provenance.
package extract

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nguyenngocdue/RAG-MCP/internal/model"
)

// Options override the type-derived default parser for one extraction.
type Options struct {
	// Parser selects a registered parser by name (e.g. "mineru", "docling"),
	// taking precedence over the declared-type default.
	Parser string
	// Method is passed through to the parser ("auto", "ocr", "txt").
	Method string
}

// Dispatcher selects and invokes the content-extraction path for a
// document's declared type. It performs no retries; failures are reported
// upward and the caller decides.
type Dispatcher struct {
	byType map[model.DocType]model.Parser
	byName map[string]model.Parser
	cache  *Cache
	logger *slog.Logger
}

func NewDispatcher(cache *Cache, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		byType: make(map[model.DocType]model.Parser),
		byName: make(map[string]model.Parser),
		cache:  cache,
		logger: logger,
	}
}

// RegisterDefault binds a parser as the default for a declared type.
func (d *Dispatcher) RegisterDefault(t model.DocType, p model.Parser) {
	d.byType[t] = p
	d.byName[p.Name()] = p
}

// RegisterNamed makes a parser selectable by explicit override without
// binding it to a type.
func (d *Dispatcher) RegisterNamed(p model.Parser) {
	d.byName[p.Name()] = p
}

// Extract resolves the parser for doc and returns normalized content.
// Unrecognized declared types fail closed with UNSUPPORTED_TYPE; parser
// failures are wrapped as EXTRACTION_FAILED with the cause preserved. An
// empty result (no text, no blocks) is returned as-is, not as an error.
func (d *Dispatcher) Extract(ctx context.Context, doc model.Document, opts Options) (model.ExtractionResult, error) {
	parser, err := d.resolve(doc, opts)
	if err != nil {
		return model.ExtractionResult{}, err
	}

	// overrides request a specific extraction; cached content from the
	// default parser must not shadow it
	useCache := d.cache != nil && opts.Parser == "" && opts.Method == ""
	if useCache {
		if res, ok := d.cache.Get(doc.DocID); ok {
			d.logger.Debug("extraction cache hit", "doc_id", doc.DocID)
			return res, nil
		}
	}

	res, err := parser.Parse(ctx, doc.SourcePath, opts.Method)
	if err != nil {
		return model.ExtractionResult{}, model.WrapError(model.KindExtraction, err, "parser %s failed for %q", parser.Name(), doc.DocID)
	}

	res.Text = normalizeNewlines(res.Text)
	if useCache {
		d.cache.Put(doc.DocID, res)
	}
	d.logger.Info("document extracted",
		"doc_id", doc.DocID,
		"parser", parser.Name(),
		"content_length", len(res.Text),
		"blocks", len(res.Blocks))
	return res, nil
}

// DocumentRemoved implements registry.RemovalListener: derived artifacts
// for a removed document are dropped.
func (d *Dispatcher) DocumentRemoved(docID string) {
	if d.cache != nil {
		d.cache.Invalidate(docID)
	}
}

func (d *Dispatcher) resolve(doc model.Document, opts Options) (model.Parser, error) {
	if name := strings.TrimSpace(opts.Parser); name != "" {
		parser, ok := d.byName[name]
		if !ok {
			return nil, model.NewError(model.KindUnsupportedType, "unknown parser %q", name)
		}
		return parser, nil
	}
	parser, ok := d.byType[doc.DeclaredType]
	if !ok {
		return nil, model.NewError(model.KindUnsupportedType, "no parser for declared type %q", doc.DeclaredType)
	}
	return parser, nil
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}
