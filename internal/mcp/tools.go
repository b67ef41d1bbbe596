package mcp

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nguyenngocdue/RAG-MCP/internal/extract"
	"github.com/nguyenngocdue/RAG-MCP/internal/model"
	"github.com/nguyenngocdue/RAG-MCP/internal/registry"
)

type UploadDocumentInput struct {
	FilePath string `json:"file_path" jsonschema:"Path to the document file to upload"`
	DocID    string `json:"doc_id,omitempty" jsonschema:"Optional custom document ID; auto-derived when omitted"`
}

type ProcessDocumentInput struct {
	DocID       string `json:"doc_id" jsonschema:"Document identifier from upload_document"`
	Parser      string `json:"parser,omitempty" jsonschema:"Parser override: mineru or docling"`
	ParseMethod string `json:"parse_method,omitempty" jsonschema:"Parsing method: auto, ocr, or txt"`
}

type BatchProcessInput struct {
	FilePaths     []string `json:"file_paths" jsonschema:"List of file paths to upload and process"`
	MaxConcurrent int      `json:"max_concurrent,omitempty" jsonschema:"Maximum number of files processed concurrently"`
}

type QueryTextInput struct {
	Query string `json:"query" jsonschema:"The question or query text"`
	Mode  string `json:"mode,omitempty" jsonschema:"Query mode: hybrid, local, global, or naive"`
	TopK  *int   `json:"top_k,omitempty" jsonschema:"Number of top results to retrieve"`
}

type QueryMultimodalInput struct {
	Query             string               `json:"query" jsonschema:"The question or query text"`
	MultimodalContent []model.ContentBlock `json:"multimodal_content" jsonschema:"Content blocks (table, image, equation) to query with"`
	Mode              string               `json:"mode,omitempty" jsonschema:"Query mode: hybrid, local, global, or naive"`
}

type DocIDInput struct {
	DocID string `json:"doc_id" jsonschema:"Document identifier"`
}

type EmptyInput struct{}

type ContentListItem struct {
	Type         string   `json:"type,omitempty"`
	Text         string   `json:"text,omitempty"`
	ImgPath      string   `json:"img_path,omitempty"`
	ImageCaption []string `json:"image_caption,omitempty"`
	PageIdx      int      `json:"page_idx,omitempty"`
}

type InsertContentListInput struct {
	ContentList []ContentListItem `json:"content_list" jsonschema:"Pre-parsed content items to insert"`
	FilePath    string            `json:"file_path" jsonschema:"Reference file path for the content"`
	DocID       string            `json:"doc_id,omitempty" jsonschema:"Optional document ID"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "upload_document",
		Description: "Upload a document file to the server for processing. " +
			"Supports PDF, Office documents (DOC/DOCX/PPT/PPTX/XLS/XLSX), images, and text files.",
	}, s.handleUploadDocument)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "process_document",
		Description: "Process an uploaded document: extract text, tables, images, and equations " +
			"and insert them into the searchable knowledge base.",
	}, s.handleProcessDocument)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "batch_process_documents",
		Description: "Upload and process multiple documents concurrently under a bounded worker pool.",
	}, s.handleBatchProcess)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "query_text",
		Description: "Query the knowledge base with plain text. " +
			"Modes: hybrid (graph + vector, default), local (entity neighborhood), " +
			"global (corpus-wide relationships), naive (vector similarity only).",
	}, s.handleQueryText)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "query_multimodal",
		Description: "Query with additional multimodal content such as tables, images, or equations " +
			"to compare against the knowledge base.",
	}, s.handleQueryMultimodal)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_documents",
		Description: "List all registered documents with their lifecycle state and metadata.",
	}, s.handleListDocuments)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_document_info",
		Description: "Get detailed information about a specific document.",
	}, s.handleGetDocumentInfo)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "delete_document",
		Description: "Remove a document: deletes its knowledge-base content from the retrieval " +
			"engine, drops the registry entry, and removes the stored upload.",
	}, s.handleDeleteDocument)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_storage_info",
		Description: "Report storage directories, document counts by state, and engine status.",
	}, s.handleGetStorageInfo)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "insert_content_list",
		Description: "Insert pre-parsed content directly into the knowledge base.",
	}, s.handleInsertContentList)
}

func (s *Server) handleUploadDocument(ctx context.Context, _ *mcp.CallToolRequest, in UploadDocumentInput) (*mcp.CallToolResult, any, error) {
	doc, err := s.uploadOne(ctx, in.FilePath, in.DocID)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(map[string]any{
		"success":   true,
		"doc_id":    doc.DocID,
		"file_name": doc.OriginalName,
		"status":    doc.State,
	}), nil, nil
}

// uploadOne stages a copy of the source file in the upload directory and
// registers it. A failed registration cleans up the staged copy.
func (s *Server) uploadOne(ctx context.Context, filePath, docID string) (model.Document, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return model.Document{}, model.WrapError(model.KindNotFound, err, "file not found: %s", filePath)
	}
	if info.IsDir() {
		return model.Document{}, model.NewError(model.KindInvalidArgument, "%s is a directory", filePath)
	}
	maxBytes := s.cfg.Storage.MaxFileSizeMB << 20
	if info.Size() > maxBytes {
		return model.Document{}, model.NewError(model.KindInvalidArgument,
			"file too large: %d bytes (max %d MB)", info.Size(), s.cfg.Storage.MaxFileSizeMB)
	}

	if docID == "" {
		docID = registry.DeriveDocID(filePath, info.Size())
	}
	base := filepath.Base(filePath)
	staged := filepath.Join(s.cfg.Storage.UploadDir, docID+"_"+base)
	if err := copyFile(filePath, staged); err != nil {
		return model.Document{}, model.WrapError(model.KindInvalidArgument, err, "staging upload for %s", filePath)
	}

	doc, err := s.registry.Register(ctx, docID, staged, base, extract.ClassifyDocType(base), info.Size())
	if err != nil {
		_ = os.Remove(staged)
		return model.Document{}, err
	}
	return doc, nil
}

func (s *Server) handleProcessDocument(ctx context.Context, _ *mcp.CallToolRequest, in ProcessDocumentInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.DocID) == "" {
		return errorResult(model.NewError(model.KindInvalidArgument, "doc_id is required")), nil, nil
	}

	result, stats, err := s.processor.ProcessOne(ctx, in.DocID, extract.Options{
		Parser: in.Parser,
		Method: in.ParseMethod,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}

	payload := map[string]any{
		"success": result.Status == model.ItemProcessed,
		"doc_id":  result.DocID,
		"status":  result.Status,
	}
	if result.Error != "" {
		payload["error"] = result.Error
	}
	if result.Status == model.ItemProcessed {
		payload["stats"] = stats
	}
	return jsonResult(payload), nil, nil
}

func (s *Server) handleBatchProcess(ctx context.Context, _ *mcp.CallToolRequest, in BatchProcessInput) (*mcp.CallToolResult, any, error) {
	if len(in.FilePaths) == 0 {
		return errorResult(model.NewError(model.KindInvalidArgument, "file_paths must not be empty")), nil, nil
	}

	type slot struct {
		filePath string
		docID    string
		failed   *model.ItemResult
	}
	slots := make([]slot, len(in.FilePaths))
	docIDs := make([]string, 0, len(in.FilePaths))
	for i, path := range in.FilePaths {
		slots[i].filePath = path
		doc, err := s.uploadOne(ctx, path, "")
		if err != nil {
			if model.IsKind(err, model.KindDuplicateID) {
				// already registered from a previous upload; process it again
				// under its existing id and let the state guard sort it out.
				slots[i].docID = registry.DeriveDocID(path, fileSize(path))
				docIDs = append(docIDs, slots[i].docID)
				continue
			}
			slots[i].failed = &model.ItemResult{DocID: path, Status: model.ItemFailed, Error: err.Error()}
			continue
		}
		slots[i].docID = doc.DocID
		docIDs = append(docIDs, doc.DocID)
	}

	var processed []model.ItemResult
	if len(docIDs) > 0 {
		var err error
		processed, err = s.processor.ProcessBatch(ctx, docIDs, in.MaxConcurrent)
		if err != nil {
			return errorResult(err), nil, nil
		}
	}

	results := make([]model.ItemResult, 0, len(slots))
	next := 0
	for _, sl := range slots {
		if sl.failed != nil {
			results = append(results, *sl.failed)
			continue
		}
		results = append(results, processed[next])
		next++
	}

	counts := map[string]int{}
	for _, r := range results {
		counts[string(r.Status)]++
	}
	return jsonResult(map[string]any{
		"success": true,
		"total":   len(results),
		"counts":  counts,
		"results": results,
	}), nil, nil
}

func (s *Server) handleQueryText(ctx context.Context, _ *mcp.CallToolRequest, in QueryTextInput) (*mcp.CallToolResult, any, error) {
	topK := 0
	if in.TopK != nil {
		if *in.TopK <= 0 {
			return errorResult(model.NewError(model.KindInvalidArgument, "top_k must be a positive integer, got %d", *in.TopK)), nil, nil
		}
		topK = *in.TopK
	}

	result, err := s.queries.Dispatch(ctx, model.QueryRequest{
		Query: in.Query,
		Mode:  model.QueryMode(in.Mode),
		TopK:  topK,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(map[string]any{
		"success": true,
		"query":   result.Query,
		"answer":  result.Answer,
		"mode":    result.Mode,
	}), nil, nil
}

func (s *Server) handleQueryMultimodal(ctx context.Context, _ *mcp.CallToolRequest, in QueryMultimodalInput) (*mcp.CallToolResult, any, error) {
	result, err := s.queries.Dispatch(ctx, model.QueryRequest{
		Query:  in.Query,
		Mode:   model.QueryMode(in.Mode),
		Blocks: in.MultimodalContent,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(map[string]any{
		"success":                  true,
		"query":                    result.Query,
		"answer":                   result.Answer,
		"mode":                     result.Mode,
		"multimodal_content_count": len(in.MultimodalContent),
	}), nil, nil
}

func (s *Server) handleListDocuments(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	docs, err := s.registry.List(ctx, "")
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(map[string]any{
		"success":   true,
		"count":     len(docs),
		"documents": docs,
	}), nil, nil
}

func (s *Server) handleGetDocumentInfo(ctx context.Context, _ *mcp.CallToolRequest, in DocIDInput) (*mcp.CallToolResult, any, error) {
	doc, err := s.registry.Get(ctx, in.DocID)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(map[string]any{
		"success":  true,
		"document": doc,
	}), nil, nil
}

func (s *Server) handleDeleteDocument(ctx context.Context, _ *mcp.CallToolRequest, in DocIDInput) (*mcp.CallToolResult, any, error) {
	doc, err := s.registry.Get(ctx, in.DocID)
	if err != nil {
		return errorResult(err), nil, nil
	}

	// The engine's storage is managed independently of the registry, so its
	// delete is issued explicitly here, exactly once.
	if err := s.engine.Delete(ctx, in.DocID); err != nil {
		return errorResult(err), nil, nil
	}
	if err := s.registry.Remove(ctx, in.DocID); err != nil {
		return errorResult(err), nil, nil
	}
	if doc.SourcePath != "" {
		if err := os.Remove(doc.SourcePath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove staged upload", "doc_id", in.DocID, "path", doc.SourcePath, "error", err)
		}
	}
	return jsonResult(map[string]any{
		"success": true,
		"doc_id":  in.DocID,
		"status":  "deleted",
	}), nil, nil
}

func (s *Server) handleGetStorageInfo(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	counts, err := s.registry.CountByState(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	var total int64
	for _, n := range counts {
		total += n
	}

	info := model.StorageInfo{
		StorageDir:    s.cfg.Storage.RAGStorageDir,
		UploadDir:     s.cfg.Storage.UploadDir,
		Initialized:   true,
		DocumentCount: total,
		CountsByState: counts,
	}
	return jsonResult(map[string]any{
		"success":    true,
		"storage":    info,
		"file_count": countFiles(s.cfg.Storage.RAGStorageDir),
	}), nil, nil
}

func (s *Server) handleInsertContentList(ctx context.Context, _ *mcp.CallToolRequest, in InsertContentListInput) (*mcp.CallToolResult, any, error) {
	if len(in.ContentList) == 0 {
		return errorResult(model.NewError(model.KindInvalidArgument, "content_list must not be empty")), nil, nil
	}
	if strings.TrimSpace(in.FilePath) == "" {
		return errorResult(model.NewError(model.KindInvalidArgument, "file_path is required")), nil, nil
	}

	parts := make([]string, 0, len(in.ContentList))
	for _, item := range in.ContentList {
		if strings.TrimSpace(item.Text) != "" {
			parts = append(parts, item.Text)
		}
	}
	combined := strings.Join(parts, "\n\n")

	docID := in.DocID
	if docID == "" {
		base := filepath.Base(in.FilePath)
		docID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if combined != "" {
		if err := s.engine.Insert(ctx, docID, combined); err != nil {
			return errorResult(err), nil, nil
		}
	}
	return jsonResult(map[string]any{
		"success":       true,
		"status":        "inserted",
		"doc_id":        docID,
		"content_count": len(in.ContentList),
	}), nil, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func countFiles(dir string) int {
	count := 0
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	return count
}
