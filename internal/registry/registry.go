// Package registry owns the document lifecycle state machine. All lifecycle
// mutations flow through Transition, whose expected-state guard (backed by
// the store's conditional update) makes concurrent double-processing
// impossible for a single doc_id.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nguyenngocdue/RAG-MCP/internal/model"
)

// allowedEdges enumerates every legal state transition. Kept as data so
// tests can assert the edge set is exhaustive.
var allowedEdges = map[model.DocState][]model.DocState{
	model.StateUploaded:   {model.StateProcessing},
	model.StateProcessing: {model.StateProcessed, model.StateFailed},
	// FAILED may be retried.
	model.StateFailed: {model.StateProcessing},
	// PROCESSED is terminal; delete-then-reprocess is the only way back.
	model.StateProcessed: {},
}

// AllowedEdges returns a copy of the transition table.
func AllowedEdges() map[model.DocState][]model.DocState {
	out := make(map[model.DocState][]model.DocState, len(allowedEdges))
	for from, tos := range allowedEdges {
		out[from] = append([]model.DocState(nil), tos...)
	}
	return out
}

func edgeAllowed(from, to model.DocState) bool {
	for _, next := range allowedEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RemovalListener is notified when a document leaves the registry so derived
// artifacts (extraction cache entries) can be dropped. It must not reach
// into the retrieval engine's own storage.
type RemovalListener interface {
	DocumentRemoved(docID string)
}

// Registry is the authoritative record of every known document.
type Registry struct {
	store  model.Store
	logger *slog.Logger

	lockMu  sync.Mutex
	idLocks map[string]*sync.Mutex

	listenerMu sync.RWMutex
	listeners  []RemovalListener
}

func New(store model.Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:   store,
		logger:  logger,
		idLocks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing transitions for one doc_id. Locks
// are small and never removed; the registry is bounded by the number of
// documents ever seen in a process lifetime.
func (r *Registry) lockFor(docID string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	mu, ok := r.idLocks[docID]
	if !ok {
		mu = &sync.Mutex{}
		r.idLocks[docID] = mu
	}
	return mu
}

// AddRemovalListener registers a listener for Remove notifications.
func (r *Registry) AddRemovalListener(l RemovalListener) {
	r.listenerMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenerMu.Unlock()
}

// Register creates a new Document in UPLOADED. When docID is empty a
// deterministic id is derived from the normalized path and content length,
// so re-uploading the identical file is idempotent under the same id.
func (r *Registry) Register(ctx context.Context, docID, sourcePath, originalName string, declaredType model.DocType, sizeBytes int64) (model.Document, error) {
	if docID == "" {
		docID = DeriveDocID(sourcePath, sizeBytes)
	}

	now := time.Now().UTC()
	doc := model.Document{
		DocID:        docID,
		SourcePath:   sourcePath,
		OriginalName: originalName,
		DeclaredType: declaredType,
		State:        model.StateUploaded,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := r.store.InsertDocument(ctx, doc); err != nil {
		if errors.Is(err, model.ErrDuplicate) {
			return model.Document{}, model.NewError(model.KindDuplicateID, "document %q already registered", docID)
		}
		return model.Document{}, err
	}
	r.logger.Info("document registered", "doc_id", docID, "declared_type", declaredType)
	return doc, nil
}

// Transition moves a document from expected to next, applying payload stats
// or failure reason. The guard fails with INVALID_TRANSITION both when the
// edge is not in the state machine and when a concurrent caller won the
// race; batch callers treat the latter as SKIPPED, not fatal.
func (r *Registry) Transition(ctx context.Context, docID string, expected, next model.DocState, payload TransitionPayload) (model.Document, error) {
	if !edgeAllowed(expected, next) {
		return model.Document{}, model.NewError(model.KindInvalidTransition, "no edge %s -> %s", expected, next)
	}

	mu := r.lockFor(docID)
	mu.Lock()
	defer mu.Unlock()

	doc := model.Document{
		State: next,
		Error: payload.Error,
		Stats: payload.Stats,
	}
	updated, err := r.store.UpdateState(ctx, docID, expected, doc)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			return model.Document{}, model.NewError(model.KindNotFound, "document %q not found", docID)
		case errors.Is(err, model.ErrStaleState):
			current, getErr := r.store.GetDocument(ctx, docID)
			if getErr != nil {
				return model.Document{}, model.NewError(model.KindInvalidTransition, "document %q is not in %s", docID, expected)
			}
			return model.Document{}, model.NewError(model.KindInvalidTransition, "document %q is %s, expected %s", docID, current.State, expected)
		}
		return model.Document{}, err
	}
	r.logger.Debug("document transitioned", "doc_id", docID, "from", expected, "to", next)
	return updated, nil
}

// TransitionPayload carries the optional fields applied alongside a state
// change.
type TransitionPayload struct {
	Error string
	Stats model.DocStats
}

// Get returns the document or NOT_FOUND.
func (r *Registry) Get(ctx context.Context, docID string) (model.Document, error) {
	doc, err := r.store.GetDocument(ctx, docID)
	if errors.Is(err, model.ErrNotFound) {
		return model.Document{}, model.NewError(model.KindNotFound, "document %q not found", docID)
	}
	return doc, err
}

// List returns documents, optionally filtered by state. An empty state
// means no filter.
func (r *Registry) List(ctx context.Context, state model.DocState) ([]model.Document, error) {
	return r.store.ListDocuments(ctx, state)
}

// Remove deletes the registry entry and notifies removal listeners so
// derived artifacts are dropped. The retrieval engine's own storage is
// cleaned by a separate explicit engine delete, not here.
func (r *Registry) Remove(ctx context.Context, docID string) error {
	mu := r.lockFor(docID)
	mu.Lock()
	defer mu.Unlock()

	if err := r.store.DeleteDocument(ctx, docID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.NewError(model.KindNotFound, "document %q not found", docID)
		}
		return err
	}

	r.listenerMu.RLock()
	listeners := append([]RemovalListener(nil), r.listeners...)
	r.listenerMu.RUnlock()
	for _, l := range listeners {
		l.DocumentRemoved(docID)
	}
	r.logger.Info("document removed", "doc_id", docID)
	return nil
}

// ForceReset returns a stuck PROCESSING document to UPLOADED. This is an
// explicit operator action for the case where the extracting process died;
// it is never triggered automatically so real failures stay visible.
func (r *Registry) ForceReset(ctx context.Context, docID string) (model.Document, error) {
	mu := r.lockFor(docID)
	mu.Lock()
	defer mu.Unlock()

	updated, err := r.store.UpdateState(ctx, docID, model.StateProcessing, model.Document{State: model.StateUploaded})
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			return model.Document{}, model.NewError(model.KindNotFound, "document %q not found", docID)
		case errors.Is(err, model.ErrStaleState):
			return model.Document{}, model.NewError(model.KindInvalidTransition, "document %q is not PROCESSING", docID)
		}
		return model.Document{}, err
	}
	r.logger.Warn("document force-reset to UPLOADED", "doc_id", docID)
	return updated, nil
}

// CountByState exposes registry counters for the storage info surface.
func (r *Registry) CountByState(ctx context.Context) (map[string]int64, error) {
	return r.store.CountByState(ctx)
}
