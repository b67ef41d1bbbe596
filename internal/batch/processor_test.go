package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nguyenngocdue/RAG-MCP/internal/extract"
	"github.com/nguyenngocdue/RAG-MCP/internal/log"
	"github.com/nguyenngocdue/RAG-MCP/internal/model"
	"github.com/nguyenngocdue/RAG-MCP/internal/registry"
	"github.com/nguyenngocdue/RAG-MCP/internal/store"
)

// scriptedParser returns a per-doc result keyed by source path.
type scriptedParser struct {
	mu      sync.Mutex
	fail    map[string]error
	started chan string
	release chan struct{}
}

func (p *scriptedParser) Name() string { return "scripted" }

func (p *scriptedParser) Parse(_ context.Context, path string, _ string) (model.ExtractionResult, error) {
	if p.started != nil {
		p.started <- path
	}
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	err := p.fail[path]
	p.mu.Unlock()
	if err != nil {
		return model.ExtractionResult{}, err
	}
	return model.ExtractionResult{Text: "content of " + path, PageCount: 1}, nil
}

// fakeEngine records inserts and optionally fails them.
type fakeEngine struct {
	mu      sync.Mutex
	inserts []string
	failFor map[string]error
}

func (e *fakeEngine) Init(context.Context) error { return nil }

func (e *fakeEngine) Insert(_ context.Context, docID, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failFor[docID]; err != nil {
		return err
	}
	e.inserts = append(e.inserts, docID)
	return nil
}

func (e *fakeEngine) Query(context.Context, string, model.QueryMode, int) (string, error) {
	return "", nil
}

func (e *fakeEngine) Delete(context.Context, string) error { return nil }
func (e *fakeEngine) Close() error                         { return nil }

func (e *fakeEngine) inserted() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.inserts...)
}

type fixture struct {
	reg    *registry.Registry
	parser *scriptedParser
	engine *fakeEngine
	proc   *Processor
}

func newFixture(t *testing.T, defaultLimit, hardLimit int) *fixture {
	t.Helper()
	s := store.NewSQLiteStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	reg := registry.New(s, log.NewNop())
	parser := &scriptedParser{fail: make(map[string]error)}
	dispatcher := extract.NewDispatcher(nil, log.NewNop())
	dispatcher.RegisterDefault(model.TypeText, parser)
	eng := &fakeEngine{failFor: make(map[string]error)}

	return &fixture{
		reg:    reg,
		parser: parser,
		engine: eng,
		proc:   NewProcessor(reg, dispatcher, eng, defaultLimit, hardLimit, log.NewNop()),
	}
}

func (f *fixture) register(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := f.reg.Register(context.Background(), id, "/uploads/"+id+".txt", id+".txt", model.TypeText, 10)
		require.NoError(t, err)
	}
}

func TestProcessBatchOrderedResults(t *testing.T) {
	f := newFixture(t, 2, 8)
	ids := []string{"doc-a", "doc-b", "doc-c", "doc-d"}
	f.register(t, ids...)
	f.parser.fail["/uploads/doc-b.txt"] = errors.New("corrupt file")

	results, err := f.proc.ProcessBatch(context.Background(), ids, 2)
	require.NoError(t, err)
	require.Len(t, results, 4)

	// results come back in submission order regardless of completion order
	for i, id := range ids {
		require.Equal(t, id, results[i].DocID)
	}
	require.Equal(t, model.ItemProcessed, results[0].Status)
	require.Equal(t, model.ItemFailed, results[1].Status)
	require.Contains(t, results[1].Error, "corrupt file")
	require.Equal(t, model.ItemProcessed, results[2].Status)
	require.Equal(t, model.ItemProcessed, results[3].Status)
}

func TestProcessBatchFailureIsolation(t *testing.T) {
	f := newFixture(t, 2, 8)
	f.register(t, "doc-good", "doc-bad")
	f.parser.fail["/uploads/doc-bad.txt"] = errors.New("boom")

	results, err := f.proc.ProcessBatch(context.Background(), []string{"doc-bad", "doc-good"}, 2)
	require.NoError(t, err)

	require.Equal(t, model.ItemFailed, results[0].Status)
	require.Equal(t, model.ItemProcessed, results[1].Status)

	bad, err := f.reg.Get(context.Background(), "doc-bad")
	require.NoError(t, err)
	require.Equal(t, model.StateFailed, bad.State)
	require.Contains(t, bad.Error, "boom")

	good, err := f.reg.Get(context.Background(), "doc-good")
	require.NoError(t, err)
	require.Equal(t, model.StateProcessed, good.State)
	require.Equal(t, []string{"doc-good"}, f.engine.inserted())
}

func TestProcessBatchEmptyInput(t *testing.T) {
	f := newFixture(t, 2, 8)
	_, err := f.proc.ProcessBatch(context.Background(), nil, 2)
	require.True(t, model.IsKind(err, model.KindInvalidArgument), "got %v", err)
}

func TestProcessBatchUnknownID(t *testing.T) {
	f := newFixture(t, 2, 8)
	f.register(t, "doc-known")
	_, err := f.proc.ProcessBatch(context.Background(), []string{"doc-known", "doc-missing"}, 2)
	require.True(t, model.IsKind(err, model.KindInvalidArgument), "got %v", err)
	require.Contains(t, err.Error(), "doc-missing")
}

func TestProcessBatchDuplicateIDOneWinner(t *testing.T) {
	f := newFixture(t, 2, 8)
	f.register(t, "doc-dup")

	results, err := f.proc.ProcessBatch(context.Background(), []string{"doc-dup", "doc-dup"}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	statuses := map[model.ItemStatus]int{}
	for _, r := range results {
		statuses[r.Status]++
	}
	require.Equal(t, 1, statuses[model.ItemProcessed], "exactly one claim wins")
	require.Equal(t, 1, statuses[model.ItemSkipped], "the loser is skipped, not failed")
	require.Equal(t, []string{"doc-dup"}, f.engine.inserted(), "content is inserted once")
}

func TestProcessBatchConcurrencyClamp(t *testing.T) {
	f := newFixture(t, 3, 4)
	require.Equal(t, 3, f.proc.clampConcurrency(0))
	require.Equal(t, 3, f.proc.clampConcurrency(-5))
	require.Equal(t, 2, f.proc.clampConcurrency(2))
	require.Equal(t, 4, f.proc.clampConcurrency(100))
}

func TestProcessBatchBoundedConcurrency(t *testing.T) {
	f := newFixture(t, 1, 8)
	ids := []string{"doc-1", "doc-2", "doc-3"}
	f.register(t, ids...)

	f.parser.started = make(chan string, len(ids))
	f.parser.release = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.proc.ProcessBatch(context.Background(), ids, 1)
	}()

	// with a limit of 1 only one extraction may be in flight
	<-f.parser.started
	select {
	case path := <-f.parser.started:
		t.Fatalf("second extraction %s started while the first held the only slot", path)
	default:
	}

	close(f.parser.release)
	<-done
}

func TestProcessBatchCancellationStopsSubmission(t *testing.T) {
	f := newFixture(t, 1, 8)
	ids := []string{"doc-1", "doc-2", "doc-3", "doc-4"}
	f.register(t, ids...)

	f.parser.started = make(chan string, len(ids))
	f.parser.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	var results []model.ItemResult
	var batchErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		results, batchErr = f.proc.ProcessBatch(ctx, ids, 1)
	}()

	// first item is in flight; cancel before the rest can be submitted
	<-f.parser.started
	cancel()
	close(f.parser.release)
	<-done

	require.NoError(t, batchErr)
	require.Len(t, results, 4)
	// the in-flight item ran to completion
	require.Equal(t, model.ItemProcessed, results[0].Status)
	cancelled := 0
	for _, r := range results[1:] {
		if r.Status == model.ItemCancelled {
			cancelled++
		}
	}
	require.Positive(t, cancelled, "unstarted items must be reported CANCELLED")
}

func TestProcessOneRetriesFailed(t *testing.T) {
	f := newFixture(t, 1, 8)
	f.register(t, "doc-retry")
	f.parser.fail["/uploads/doc-retry.txt"] = errors.New("first attempt fails")

	res, _, err := f.proc.ProcessOne(context.Background(), "doc-retry", extract.Options{})
	require.NoError(t, err)
	require.Equal(t, model.ItemFailed, res.Status)

	// clear the fault and retry through the FAILED -> PROCESSING edge
	f.parser.mu.Lock()
	delete(f.parser.fail, "/uploads/doc-retry.txt")
	f.parser.mu.Unlock()

	res, stats, err := f.proc.ProcessOne(context.Background(), "doc-retry", extract.Options{})
	require.NoError(t, err)
	require.Equal(t, model.ItemProcessed, res.Status)
	require.Positive(t, stats.ContentLength)

	doc, err := f.reg.Get(context.Background(), "doc-retry")
	require.NoError(t, err)
	require.Equal(t, model.StateProcessed, doc.State)
	require.Empty(t, doc.Error, "retry success clears the failure reason")
}

func TestProcessOneUnknownDoc(t *testing.T) {
	f := newFixture(t, 1, 8)
	_, _, err := f.proc.ProcessOne(context.Background(), "doc-missing", extract.Options{})
	require.True(t, model.IsKind(err, model.KindNotFound), "got %v", err)
}

func TestProcessOneSkipsAlreadyProcessed(t *testing.T) {
	f := newFixture(t, 1, 8)
	f.register(t, "doc-1")

	res, _, err := f.proc.ProcessOne(context.Background(), "doc-1", extract.Options{})
	require.NoError(t, err)
	require.Equal(t, model.ItemProcessed, res.Status)

	// a second run has no edge out of PROCESSED and must not re-insert
	res, _, err = f.proc.ProcessOne(context.Background(), "doc-1", extract.Options{})
	require.NoError(t, err)
	require.Equal(t, model.ItemSkipped, res.Status)
	require.Equal(t, []string{"doc-1"}, f.engine.inserted())
}

func TestProcessOneEmptyExtractionCompletes(t *testing.T) {
	f := newFixture(t, 1, 8)

	s := store.NewSQLiteStore(filepath.Join(t.TempDir(), "reg2.db"))
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	reg := registry.New(s, log.NewNop())

	empty := &emptyParser{}
	dispatcher := extract.NewDispatcher(nil, log.NewNop())
	dispatcher.RegisterDefault(model.TypeImage, empty)
	proc := NewProcessor(reg, dispatcher, f.engine, 1, 8, log.NewNop())

	_, err := reg.Register(context.Background(), "doc-img", "/uploads/doc-img.png", "doc-img.png", model.TypeImage, 10)
	require.NoError(t, err)

	res, stats, err := proc.ProcessOne(context.Background(), "doc-img", extract.Options{})
	require.NoError(t, err)
	require.Equal(t, model.ItemProcessed, res.Status, "empty extraction is a valid outcome")
	require.Zero(t, stats.ContentLength)
	require.Empty(t, f.engine.inserted(), "nothing goes to the engine for empty content")

	doc, err := reg.Get(context.Background(), "doc-img")
	require.NoError(t, err)
	require.Equal(t, model.StateProcessed, doc.State)
}

func TestProcessOneEngineFailureMarksFailed(t *testing.T) {
	f := newFixture(t, 1, 8)
	f.register(t, "doc-1")
	f.engine.failFor["doc-1"] = fmt.Errorf("engine unavailable")

	res, _, err := f.proc.ProcessOne(context.Background(), "doc-1", extract.Options{})
	require.NoError(t, err)
	require.Equal(t, model.ItemFailed, res.Status)

	doc, err := f.reg.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Equal(t, model.StateFailed, doc.State)
	require.Contains(t, doc.Error, "engine unavailable")
}

type emptyParser struct{}

func (emptyParser) Name() string { return "empty" }

func (emptyParser) Parse(context.Context, string, string) (model.ExtractionResult, error) {
	return model.ExtractionResult{}, nil
}
