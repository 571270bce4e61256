package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

func parsePDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	var b bytes.Buffer
	if _, err := b.ReadFrom(textReader); err != nil {
		return "", fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	text := b.String()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: pdf has no extractable text", ErrEmptyDocument)
	}
	return formatTextToMarkdown(text), nil
}
