package services

import (
	"context"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/types"
)

// Extraction is the text pulled out of an uploaded file. Pages is populated
// when the source format carries page breaks, otherwise it holds one entry.
type Extraction struct {
	Text  string
	Pages []string
}

// ExtractionService turns raw uploaded bytes into indexable text.
type ExtractionService interface {
	Extract(ctx context.Context, fileName, fileType string, data []byte) (*Extraction, error)
	Supported(fileType string) bool
}

type extractionService struct {
	log *logger.Logger
}

func NewExtractionService(baseLog *logger.Logger) ExtractionService {
	return &extractionService{log: baseLog.With("service", "ExtractionService")}
}

var textFileTypes = map[string]bool{
	"txt":      true,
	"text":     true,
	"md":       true,
	"markdown": true,
	"csv":      true,
	"json":     true,
	"html":     true,
	"htm":      true,
}

func (s *extractionService) Supported(fileType string) bool {
	return textFileTypes[normalizeFileType(fileType)]
}

func (s *extractionService) Extract(_ context.Context, fileName, fileType string, data []byte) (*Extraction, error) {
	ft := normalizeFileType(fileType)
	if ft == "" {
		ft = normalizeFileType(filepath.Ext(fileName))
	}
	if !textFileTypes[ft] {
		return nil, types.NewValidationError("file_type", "unsupported file type "+ft)
	}
	if !utf8.Valid(data) {
		return nil, types.NewValidationError("content", "file is not valid UTF-8 text")
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return &Extraction{Text: "", Pages: nil}, nil
	}

	// Form feeds mark page boundaries in plain text exports.
	var pages []string
	for _, page := range strings.Split(text, "\f") {
		page = strings.TrimSpace(page)
		if page != "" {
			pages = append(pages, page)
		}
	}

	return &Extraction{Text: text, Pages: pages}, nil
}

func normalizeFileType(ft string) string {
	ft = strings.ToLower(strings.TrimSpace(ft))
	ft = strings.TrimPrefix(ft, ".")
	// Accept mime types like text/markdown.
	if i := strings.LastIndex(ft, "/"); i >= 0 {
		ft = ft[i+1:]
	}
	if ft == "plain" {
		return "txt"
	}
	return ft
}
