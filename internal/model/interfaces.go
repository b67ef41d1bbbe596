package model

import "context"

// Store is the registry's backing store. Implementations must serialize
// concurrent writes to the same doc_id row; the guarded UpdateState is the
// only mutation path for lifecycle state.
type Store interface {
	Init(ctx context.Context) error
	InsertDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, docID string) (Document, error)
	ListDocuments(ctx context.Context, state DocState) ([]Document, error)
	// UpdateState applies doc's State/Error/Stats/UpdatedAt only if the
	// current row state equals expected. It returns ErrNotFound when the id
	// is unknown and ErrStaleState when the guard fails.
	UpdateState(ctx context.Context, docID string, expected DocState, doc Document) (Document, error)
	DeleteDocument(ctx context.Context, docID string) error
	CountByState(ctx context.Context) (map[string]int64, error)
	Close() error
}

// Engine is the external retrieval engine (knowledge graph + vector store +
// answer generation). Init must complete once before Insert/Query/Delete.
// Insert is not idempotent per logical content: re-inserting a PROCESSED
// document duplicates graph content, so callers must avoid it.
type Engine interface {
	Init(ctx context.Context) error
	Insert(ctx context.Context, docID, text string) error
	Query(ctx context.Context, query string, mode QueryMode, topK int) (string, error)
	Delete(ctx context.Context, docID string) error
	Close() error
}

// Parser turns a stored file into extracted text plus structural metadata.
// A failure surfaces as an error with a message, never a partial silent
// success.
type Parser interface {
	Name() string
	Parse(ctx context.Context, path string, method string) (ExtractionResult, error)
}
