package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// parseXlsx renders each sheet as a "## {sheet}" section followed by a
// Markdown table of its rows.
func parseXlsx(data []byte) (string, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: not an xlsx workbook: %v", ErrParseFailed, err)
	}
	defer wb.Close()

	var b strings.Builder
	b.Grow(4096)

	for _, sheet := range wb.GetSheetList() {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			continue
		}

		b.WriteString("\n## ")
		b.WriteString(sheet)
		b.WriteString("\n\n")

		if len(rows) == 0 {
			continue
		}

		maxCols := 0
		for _, row := range rows {
			if len(row) > maxCols {
				maxCols = len(row)
			}
		}
		if maxCols == 0 {
			continue
		}

		for idx, row := range rows {
			b.WriteString("| ")
			for col := 0; col < maxCols; col++ {
				if col > 0 {
					b.WriteString(" | ")
				}
				if col < len(row) {
					b.WriteString(formatCell(row[col]))
				}
			}
			b.WriteString(" |\n")

			if idx == 0 {
				b.WriteString("| ")
				for col := 0; col < maxCols; col++ {
					if col > 0 {
						b.WriteString(" | ")
					}
					b.WriteString("---")
				}
				b.WriteString(" |\n")
			}
		}
		b.WriteByte('\n')
	}

	result := b.String()
	if strings.TrimSpace(result) == "" {
		return "", fmt.Errorf("%w: workbook has no extractable text", ErrEmptyDocument)
	}
	return result, nil
}

var xlsxErrorCodes = []string{"#DIV/0!", "#N/A", "#NAME?", "#NULL!", "#NUM!", "#REF!", "#VALUE!"}

// formatCell coerces a cell value for table output: booleans become check
// marks, numbers lose trailing decimals when integral, error codes are
// labeled, and pipes are escaped.
func formatCell(s string) string {
	if s == "" {
		return ""
	}
	switch s {
	case "TRUE":
		return "✓"
	case "FALSE":
		return "✗"
	}
	for _, code := range xlsxErrorCodes {
		if s == code {
			return "ERROR: " + code
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f == float64(int64(f)) {
			return strconv.FormatFloat(f, 'f', 0, 64)
		}
		return strconv.FormatFloat(f, 'f', 2, 64)
	}
	return strings.ReplaceAll(s, "|", "\\|")
}
