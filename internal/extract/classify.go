package extract

import (
	"path/filepath"
	"strings"

	"github.com/nguyenngocdue/RAG-MCP/internal/model"
)

// ClassifyDocType maps a file name to a declared document type. Dispatch is
// by this declared type only; content is never sniffed, so behavior stays
// predictable and testable.
func ClassifyDocType(name string) model.DocType {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	switch ext {
	case ".pdf":
		return model.TypePDF
	case ".doc", ".docx", ".ppt", ".pptx", ".xls", ".xlsx":
		return model.TypeOffice
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".tif", ".tiff":
		return model.TypeImage
	case ".txt", ".md", ".markdown", ".rst", ".csv", ".json", ".xml", ".yaml", ".yml", ".html", ".htm", ".log":
		return model.TypeText
	default:
		return model.TypeUnknown
	}
}
