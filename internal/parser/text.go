package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

func parseText(data []byte) (string, error) {
	text, err := decodeText(data)
	if err != nil {
		return "", err
	}
	return formatTextToMarkdown(text), nil
}

// decodeText tries UTF-8 first, then falls back to charset detection.
func decodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}

	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecodingFailed, err)
	}

	charset := strings.ToLower(result.Charset)
	// chardet's name for gb18030 is not a valid WHATWG label
	if charset == "gb-18030" {
		charset = "gb18030"
	}
	enc, err := htmlindex.Get(charset)
	if err != nil || enc == nil {
		return "", fmt.Errorf("%w: unsupported charset %s", ErrDecodingFailed, result.Charset)
	}

	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecodingFailed, err)
	}
	// The decoder substitutes undecodable bytes instead of failing; treat
	// any substitution as a decode error.
	if strings.ContainsRune(string(decoded), utf8.RuneError) {
		return "", fmt.Errorf("%w: charset %s", ErrDecodingFailed, result.Charset)
	}
	return string(decoded), nil
}

// formatTextToMarkdown collapses runs of blank lines and promotes likely
// headings: short lines after a blank line that don't end in punctuation and
// don't already look like list items or headings.
func formatTextToMarkdown(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/10)

	prevLineEmpty := false
	firstLine := true

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			if !prevLineEmpty {
				if !firstLine {
					b.WriteByte('\n')
				}
				prevLineEmpty = true
			}
			continue
		}

		isPotentialTitle := len(trimmed) < 60 &&
			!strings.HasSuffix(trimmed, "。") &&
			!strings.HasSuffix(trimmed, ".") &&
			!strings.HasSuffix(trimmed, ",") &&
			!strings.HasSuffix(trimmed, "，") &&
			!strings.HasSuffix(trimmed, "：") &&
			!strings.HasSuffix(trimmed, ":") &&
			!strings.HasPrefix(trimmed, "-") &&
			!strings.HasPrefix(trimmed, "*") &&
			!strings.HasPrefix(trimmed, "#") &&
			prevLineEmpty

		if !firstLine {
			b.WriteByte('\n')
		}
		if isPotentialTitle {
			b.WriteString("## ")
		}
		b.WriteString(trimmed)

		prevLineEmpty = false
		firstLine = false
	}

	return b.String()
}
