package model

import "time"

// DocState is the lifecycle state of a registered document.
type DocState string

const (
	StateUploaded   DocState = "UPLOADED"
	StateProcessing DocState = "PROCESSING"
	StateProcessed  DocState = "PROCESSED"
	StateFailed     DocState = "FAILED"
)

// DocType is the declared content category of a document, derived from its
// file extension at registration time. Dispatch is by declared type only;
// content is never sniffed.
type DocType string

const (
	TypePDF     DocType = "pdf"
	TypeOffice  DocType = "office"
	TypeImage   DocType = "image"
	TypeText    DocType = "text"
	TypeUnknown DocType = "unknown"
)

// Document is one entry in the registry. DocID is immutable once assigned;
// SourcePath is set at upload and never mutated.
type Document struct {
	DocID        string    `json:"doc_id"`
	SourcePath   string    `json:"source_path"`
	OriginalName string    `json:"original_name,omitempty"`
	DeclaredType DocType   `json:"declared_type"`
	State        DocState  `json:"state"`
	Error        string    `json:"error,omitempty"`
	Stats        DocStats  `json:"stats,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DocStats holds processing statistics populated when a document reaches
// PROCESSED.
type DocStats struct {
	ContentLength int `json:"content_length,omitempty"`
	BlockCount    int `json:"block_count,omitempty"`
	PageCount     int `json:"page_count,omitempty"`
}

// BlockType tags a multimodal content block.
type BlockType string

const (
	BlockTable    BlockType = "table"
	BlockImage    BlockType = "image"
	BlockEquation BlockType = "equation"
)

// ContentBlock is a structured non-text unit extracted from a document or
// attached to a query. Exactly the fields for its type are populated.
type ContentBlock struct {
	Type            BlockType `json:"type"`
	Text            string    `json:"text,omitempty"`
	ImagePath       string    `json:"img_path,omitempty"`
	ImageCaption    []string  `json:"image_caption,omitempty"`
	TableData       string    `json:"table_data,omitempty"`
	TableCaption    string    `json:"table_caption,omitempty"`
	Latex           string    `json:"latex,omitempty"`
	EquationCaption string    `json:"equation_caption,omitempty"`
	PageIdx         int       `json:"page_idx,omitempty"`
}

// ExtractionResult is the normalized output of the extraction dispatcher.
// Empty Text with zero Blocks is a valid outcome (e.g. an image-only PDF
// with no OCR text), not an error.
type ExtractionResult struct {
	Text      string
	Blocks    []ContentBlock
	PageCount int
}

// QueryMode selects the retrieval strategy of the external engine.
type QueryMode string

const (
	// ModeHybrid combines graph-relationship search and chunk vector search.
	ModeHybrid QueryMode = "hybrid"
	// ModeLocal performs entity/neighborhood-scoped graph search only.
	ModeLocal QueryMode = "local"
	// ModeGlobal performs corpus-wide relationship summarization.
	ModeGlobal QueryMode = "global"
	// ModeNaive performs plain vector similarity without graph traversal.
	ModeNaive QueryMode = "naive"
)

// QueryRequest is a transient query value. Mode defaults to hybrid when
// empty; TopK of zero means engine default.
type QueryRequest struct {
	Query  string
	Mode   QueryMode
	TopK   int
	Blocks []ContentBlock
}

// QueryResult is the stable response contract shaped from the raw engine
// answer.
type QueryResult struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer"`
	Mode    string   `json:"mode"`
	Sources []string `json:"sources,omitempty"`
}

// ItemStatus is the per-document outcome of a batch run.
type ItemStatus string

const (
	ItemProcessed ItemStatus = "PROCESSED"
	ItemFailed    ItemStatus = "FAILED"
	ItemSkipped   ItemStatus = "SKIPPED"
	ItemCancelled ItemStatus = "CANCELLED"
)

// ItemResult is one slot of a batch result, reported in submission order.
type ItemResult struct {
	DocID  string     `json:"doc_id"`
	Status ItemStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// StorageInfo describes registry and engine storage for the status surface.
type StorageInfo struct {
	StorageDir    string           `json:"storage_dir"`
	UploadDir     string           `json:"upload_dir"`
	Initialized   bool             `json:"initialized"`
	DocumentCount int64            `json:"document_count"`
	CountsByState map[string]int64 `json:"counts_by_state"`
}
