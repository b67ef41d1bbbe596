package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/nguyenngocdue/RAG-MCP/internal/batch"
	"github.com/nguyenngocdue/RAG-MCP/internal/config"
	"github.com/nguyenngocdue/RAG-MCP/internal/extract"
	"github.com/nguyenngocdue/RAG-MCP/internal/log"
	"github.com/nguyenngocdue/RAG-MCP/internal/model"
	"github.com/nguyenngocdue/RAG-MCP/internal/query"
	"github.com/nguyenngocdue/RAG-MCP/internal/registry"
	"github.com/nguyenngocdue/RAG-MCP/internal/store"
)

// memoryEngine is an in-process model.Engine tracking inserts and deletes.
type memoryEngine struct {
	mu      sync.Mutex
	inserts map[string]string
	deletes []string
	answer  string
}

func newMemoryEngine() *memoryEngine {
	return &memoryEngine{inserts: make(map[string]string), answer: "stub answer"}
}

func (e *memoryEngine) Init(context.Context) error { return nil }

func (e *memoryEngine) Insert(_ context.Context, docID, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inserts[docID] = text
	return nil
}

func (e *memoryEngine) Query(context.Context, string, model.QueryMode, int) (string, error) {
	return e.answer, nil
}

func (e *memoryEngine) Delete(_ context.Context, docID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deletes = append(e.deletes, docID)
	return nil
}

func (e *memoryEngine) Close() error { return nil }

func (e *memoryEngine) deleteCount(docID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, id := range e.deletes {
		if id == docID {
			n++
		}
	}
	return n
}

type textParser struct{}

func (textParser) Name() string { return "text" }

func (textParser) Parse(_ context.Context, path string, _ string) (model.ExtractionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ExtractionResult{}, err
	}
	return model.ExtractionResult{Text: string(data), PageCount: 1}, nil
}

func newTestServer(t *testing.T) (*Server, *memoryEngine) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.API.Key = "sk-test"
	cfg.Storage.RAGStorageDir = filepath.Join(root, "rag_storage")
	cfg.Storage.UploadDir = filepath.Join(root, "uploads")
	cfg.Storage.RegistryPath = filepath.Join(root, "registry.db")
	cfg.Storage.MaxFileSizeMB = 1

	s := store.NewSQLiteStore(cfg.Storage.RegistryPath)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	logger := log.NewNop()
	reg := registry.New(s, logger)
	dispatcher := extract.NewDispatcher(extract.NewCache(8), logger)
	dispatcher.RegisterDefault(model.TypeText, textParser{})
	reg.AddRemovalListener(dispatcher)

	eng := newMemoryEngine()
	srv, err := NewServer(Deps{
		Config:    &cfg,
		Logger:    logger,
		Registry:  reg,
		Extractor: dispatcher,
		Processor: batch.NewProcessor(reg, dispatcher, eng, 2, 8, logger),
		Queries:   query.NewDispatcher(eng, time.Second, logger),
		Engine:    eng,
	})
	require.NoError(t, err)
	return srv, eng
}

func decodeResult(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "tool result must be text content")
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	return payload
}

func errorKind(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.True(t, res.IsError, "expected an error result")
	payload := decodeResult(t, res)
	errObj, ok := payload["error"].(map[string]any)
	require.True(t, ok, "error result must carry an error object")
	kind, _ := errObj["kind"].(string)
	return kind
}

func stageFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestUploadDocument(t *testing.T) {
	srv, _ := newTestServer(t)
	path := stageFile(t, "notes.txt", "some content")

	res, _, err := srv.handleUploadDocument(context.Background(), nil, UploadDocumentInput{FilePath: path})
	require.NoError(t, err)
	require.False(t, res.IsError)

	payload := decodeResult(t, res)
	require.Equal(t, true, payload["success"])
	require.Equal(t, "UPLOADED", payload["status"])
	require.NotEmpty(t, payload["doc_id"])

	// the staged copy exists under the upload dir
	docID := payload["doc_id"].(string)
	staged := filepath.Join(srv.cfg.Storage.UploadDir, docID+"_notes.txt")
	_, statErr := os.Stat(staged)
	require.NoError(t, statErr)
}

func TestUploadDocumentMissingFile(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _, err := srv.handleUploadDocument(context.Background(), nil, UploadDocumentInput{
		FilePath: filepath.Join(t.TempDir(), "absent.txt"),
	})
	require.NoError(t, err)
	require.Equal(t, model.KindNotFound, errorKind(t, res))
}

func TestUploadDocumentTooLarge(t *testing.T) {
	srv, _ := newTestServer(t)
	big := make([]byte, 2<<20)
	path := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(path, big, 0o644))

	res, _, err := srv.handleUploadDocument(context.Background(), nil, UploadDocumentInput{FilePath: path})
	require.NoError(t, err)
	require.Equal(t, model.KindInvalidArgument, errorKind(t, res))
}

func TestUploadDocumentDuplicate(t *testing.T) {
	srv, _ := newTestServer(t)
	path := stageFile(t, "notes.txt", "body")

	res, _, err := srv.handleUploadDocument(context.Background(), nil, UploadDocumentInput{FilePath: path, DocID: "doc-custom"})
	require.NoError(t, err)
	require.False(t, res.IsError)

	res, _, err = srv.handleUploadDocument(context.Background(), nil, UploadDocumentInput{FilePath: path, DocID: "doc-custom"})
	require.NoError(t, err)
	require.Equal(t, model.KindDuplicateID, errorKind(t, res))
}

func TestProcessDocumentFullPipeline(t *testing.T) {
	srv, eng := newTestServer(t)
	path := stageFile(t, "notes.txt", "knowledge body")

	up, _, err := srv.handleUploadDocument(context.Background(), nil, UploadDocumentInput{FilePath: path})
	require.NoError(t, err)
	docID := decodeResult(t, up)["doc_id"].(string)

	res, _, err := srv.handleProcessDocument(context.Background(), nil, ProcessDocumentInput{DocID: docID})
	require.NoError(t, err)
	payload := decodeResult(t, res)
	require.Equal(t, true, payload["success"])
	require.Equal(t, "PROCESSED", payload["status"])
	require.Contains(t, payload, "stats")

	eng.mu.Lock()
	inserted := eng.inserts[docID]
	eng.mu.Unlock()
	require.Equal(t, "knowledge body", inserted)
}

func TestProcessDocumentRequiresDocID(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _, err := srv.handleProcessDocument(context.Background(), nil, ProcessDocumentInput{})
	require.NoError(t, err)
	require.Equal(t, model.KindInvalidArgument, errorKind(t, res))
}

func TestProcessDocumentUnknownID(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _, err := srv.handleProcessDocument(context.Background(), nil, ProcessDocumentInput{DocID: "doc-missing"})
	require.NoError(t, err)
	require.Equal(t, model.KindNotFound, errorKind(t, res))
}

func TestProcessDocumentUnknownParserOverride(t *testing.T) {
	srv, _ := newTestServer(t)
	path := stageFile(t, "notes.txt", "body")
	up, _, err := srv.handleUploadDocument(context.Background(), nil, UploadDocumentInput{FilePath: path})
	require.NoError(t, err)
	docID := decodeResult(t, up)["doc_id"].(string)

	res, _, err := srv.handleProcessDocument(context.Background(), nil, ProcessDocumentInput{DocID: docID, Parser: "bogus"})
	require.NoError(t, err)
	payload := decodeResult(t, res)
	require.Equal(t, false, payload["success"])
	require.Equal(t, "FAILED", payload["status"])
	require.Contains(t, payload["error"], "bogus")
}

func TestBatchProcessDocuments(t *testing.T) {
	srv, _ := newTestServer(t)
	pathA := stageFile(t, "a.txt", "content a")
	pathB := stageFile(t, "b.txt", "content b")
	missing := filepath.Join(t.TempDir(), "missing.txt")

	res, _, err := srv.handleBatchProcess(context.Background(), nil, BatchProcessInput{
		FilePaths: []string{pathA, missing, pathB},
	})
	require.NoError(t, err)
	payload := decodeResult(t, res)
	require.Equal(t, true, payload["success"])
	require.Equal(t, float64(3), payload["total"])

	results := payload["results"].([]any)
	require.Len(t, results, 3)
	first := results[0].(map[string]any)
	second := results[1].(map[string]any)
	third := results[2].(map[string]any)
	require.Equal(t, "PROCESSED", first["status"])
	require.Equal(t, "FAILED", second["status"])
	require.Equal(t, missing, second["doc_id"], "a failed upload is reported under its input path")
	require.Equal(t, "PROCESSED", third["status"])
}

func TestBatchProcessEmptyPaths(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _, err := srv.handleBatchProcess(context.Background(), nil, BatchProcessInput{})
	require.NoError(t, err)
	require.Equal(t, model.KindInvalidArgument, errorKind(t, res))
}

func TestQueryTextTool(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _, err := srv.handleQueryText(context.Background(), nil, QueryTextInput{Query: "what is in the corpus"})
	require.NoError(t, err)
	payload := decodeResult(t, res)
	require.Equal(t, true, payload["success"])
	require.Equal(t, "stub answer", payload["answer"])
	require.Equal(t, "hybrid", payload["mode"])
}

func TestQueryTextRejectsNonPositiveTopK(t *testing.T) {
	srv, _ := newTestServer(t)
	zero := 0
	res, _, err := srv.handleQueryText(context.Background(), nil, QueryTextInput{Query: "q", TopK: &zero})
	require.NoError(t, err)
	require.Equal(t, model.KindInvalidArgument, errorKind(t, res))
}

func TestQueryTextInvalidMode(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _, err := srv.handleQueryText(context.Background(), nil, QueryTextInput{Query: "q", Mode: "mix"})
	require.NoError(t, err)
	require.Equal(t, model.KindInvalidMode, errorKind(t, res))
}

func TestQueryMultimodalTool(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _, err := srv.handleQueryMultimodal(context.Background(), nil, QueryMultimodalInput{
		Query: "compare",
		MultimodalContent: []model.ContentBlock{
			{Type: model.BlockTable, TableData: "| a |"},
		},
	})
	require.NoError(t, err)
	payload := decodeResult(t, res)
	require.Equal(t, true, payload["success"])
	require.Equal(t, float64(1), payload["multimodal_content_count"])
}

func TestQueryMultimodalRejectsUnknownBlock(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _, err := srv.handleQueryMultimodal(context.Background(), nil, QueryMultimodalInput{
		Query:             "compare",
		MultimodalContent: []model.ContentBlock{{Type: "audio"}},
	})
	require.NoError(t, err)
	require.Equal(t, model.KindUnsupportedContent, errorKind(t, res))
}

func TestListAndGetDocumentInfo(t *testing.T) {
	srv, _ := newTestServer(t)
	path := stageFile(t, "notes.txt", "body")
	up, _, err := srv.handleUploadDocument(context.Background(), nil, UploadDocumentInput{FilePath: path})
	require.NoError(t, err)
	docID := decodeResult(t, up)["doc_id"].(string)

	listRes, _, err := srv.handleListDocuments(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	listPayload := decodeResult(t, listRes)
	require.Equal(t, float64(1), listPayload["count"])

	infoRes, _, err := srv.handleGetDocumentInfo(context.Background(), nil, DocIDInput{DocID: docID})
	require.NoError(t, err)
	infoPayload := decodeResult(t, infoRes)
	doc := infoPayload["document"].(map[string]any)
	require.Equal(t, docID, doc["doc_id"])
	require.Equal(t, "UPLOADED", doc["state"])

	missRes, _, err := srv.handleGetDocumentInfo(context.Background(), nil, DocIDInput{DocID: "doc-missing"})
	require.NoError(t, err)
	require.Equal(t, model.KindNotFound, errorKind(t, missRes))
}

func TestDeleteDocumentCallsEngineOnce(t *testing.T) {
	srv, eng := newTestServer(t)
	path := stageFile(t, "notes.txt", "body")
	up, _, err := srv.handleUploadDocument(context.Background(), nil, UploadDocumentInput{FilePath: path})
	require.NoError(t, err)
	docID := decodeResult(t, up)["doc_id"].(string)
	staged := filepath.Join(srv.cfg.Storage.UploadDir, docID+"_notes.txt")

	res, _, err := srv.handleDeleteDocument(context.Background(), nil, DocIDInput{DocID: docID})
	require.NoError(t, err)
	payload := decodeResult(t, res)
	require.Equal(t, true, payload["success"])
	require.Equal(t, 1, eng.deleteCount(docID), "engine delete is issued exactly once")

	_, statErr := os.Stat(staged)
	require.True(t, os.IsNotExist(statErr), "staged upload is removed")

	// registry entry is gone
	infoRes, _, err := srv.handleGetDocumentInfo(context.Background(), nil, DocIDInput{DocID: docID})
	require.NoError(t, err)
	require.Equal(t, model.KindNotFound, errorKind(t, infoRes))

	// deleting again reports NOT_FOUND without another engine call
	res, _, err = srv.handleDeleteDocument(context.Background(), nil, DocIDInput{DocID: docID})
	require.NoError(t, err)
	require.Equal(t, model.KindNotFound, errorKind(t, res))
	require.Equal(t, 1, eng.deleteCount(docID))
}

func TestGetStorageInfo(t *testing.T) {
	srv, _ := newTestServer(t)
	path := stageFile(t, "notes.txt", "body")
	_, _, err := srv.handleUploadDocument(context.Background(), nil, UploadDocumentInput{FilePath: path})
	require.NoError(t, err)

	res, _, err := srv.handleGetStorageInfo(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	payload := decodeResult(t, res)
	require.Equal(t, true, payload["success"])
	storage := payload["storage"].(map[string]any)
	require.Equal(t, float64(1), storage["document_count"])
	counts := storage["counts_by_state"].(map[string]any)
	require.Equal(t, float64(1), counts["UPLOADED"])
}

func TestInsertContentList(t *testing.T) {
	srv, eng := newTestServer(t)
	res, _, err := srv.handleInsertContentList(context.Background(), nil, InsertContentListInput{
		FilePath: "/data/prepared.pdf",
		ContentList: []ContentListItem{
			{Type: "text", Text: "first chunk"},
			{Type: "text", Text: "second chunk"},
			{Type: "image", ImgPath: "fig.png"},
		},
	})
	require.NoError(t, err)
	payload := decodeResult(t, res)
	require.Equal(t, true, payload["success"])
	require.Equal(t, "prepared", payload["doc_id"], "doc id defaults to the file stem")
	require.Equal(t, float64(3), payload["content_count"])

	eng.mu.Lock()
	text := eng.inserts["prepared"]
	eng.mu.Unlock()
	require.Equal(t, "first chunk\n\nsecond chunk", text)
}

func TestInsertContentListValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	res, _, err := srv.handleInsertContentList(context.Background(), nil, InsertContentListInput{FilePath: "/data/x.pdf"})
	require.NoError(t, err)
	require.Equal(t, model.KindInvalidArgument, errorKind(t, res))

	res, _, err = srv.handleInsertContentList(context.Background(), nil, InsertContentListInput{
		ContentList: []ContentListItem{{Type: "text", Text: "x"}},
	})
	require.NoError(t, err)
	require.Equal(t, model.KindInvalidArgument, errorKind(t, res))
}
