package extract

import (
	"context"
	"os"
	"unicode/utf8"

	"github.com/nguyenngocdue/RAG-MCP/internal/model"
)

// TextParser reads plain-text documents directly from disk. It is the
// default for the "text" declared type and needs no external service.
type TextParser struct{}

func (TextParser) Name() string { return "text" }

func (TextParser) Parse(ctx context.Context, path string, _ string) (model.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return model.ExtractionResult{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return model.ExtractionResult{}, err
	}

	text := string(data)
	if !utf8.ValidString(text) {
		text = string([]rune(text))
	}
	return model.ExtractionResult{Text: text, PageCount: 1}, nil
}
