// Package parser decodes uploaded document bytes into normalized Markdown.
package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	ErrUnsupportedFileType = errors.New("parser: unsupported file type")
	ErrEmptyDocument       = errors.New("parser: document is empty or has no extractable text")
	ErrDecodingFailed      = errors.New("parser: failed to decode text")
	ErrParseFailed         = errors.New("parser: failed to parse document")
)

type DocumentType int

const (
	TypePDF DocumentType = iota
	TypeDocx
	TypeXlsx
	TypeText
	TypeMarkdown
)

func (t DocumentType) String() string {
	switch t {
	case TypePDF:
		return "PDF"
	case TypeDocx:
		return "Word (DOCX)"
	case TypeXlsx:
		return "Excel (XLSX)"
	case TypeText:
		return "Text (TXT)"
	case TypeMarkdown:
		return "Markdown"
	}
	return "unknown"
}

// DetectType infers the document type from the filename suffix,
// case-insensitively.
func DetectType(filename string) (DocumentType, bool) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return TypePDF, true
	case strings.HasSuffix(lower, ".docx"):
		return TypeDocx, true
	case strings.HasSuffix(lower, ".xlsx"):
		return TypeXlsx, true
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".json"), strings.HasSuffix(lower, ".csv"):
		return TypeText, true
	case strings.HasSuffix(lower, ".md"):
		return TypeMarkdown, true
	}
	return 0, false
}

// SupportedExtensions lists the accepted filename suffixes.
func SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".xlsx", ".txt", ".json", ".csv", ".md"}
}

type Parser struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With("component", "parser")}
}

// Parse converts document bytes into Markdown text.
func (p *Parser) Parse(filename string, data []byte) (string, error) {
	docType, ok := DetectType(filename)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, filename)
	}

	p.logger.Info("parsing document", "filename", filename, "type", docType.String())

	switch docType {
	case TypePDF:
		return parsePDF(data)
	case TypeDocx:
		return parseDocx(data)
	case TypeXlsx:
		return parseXlsx(data)
	default:
		return parseText(data)
	}
}
