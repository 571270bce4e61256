package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// parseDocx reads word/document.xml out of the docx archive and walks it,
// emitting one line per paragraph and GitHub-flavored Markdown tables for
// tbl/tr/tc structures. Field-code text (instrText, fldSimple, fldChar
// begin..end) is dropped.
func parseDocx(data []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: not a docx archive: %v", ErrParseFailed, err)
	}

	var docXML io.ReadCloser
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			docXML, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrParseFailed, err)
			}
			break
		}
	}
	if docXML == nil {
		return "", fmt.Errorf("%w: word/document.xml not found", ErrParseFailed)
	}
	defer docXML.Close()

	return walkDocumentXML(docXML)
}

func walkDocumentXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)

	var (
		result       []string
		paragraph    strings.Builder
		table        [][]string
		row          []string
		cell         strings.Builder
		inTable      bool
		inRow        bool
		inCell       bool
		inField      bool
	)

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrParseFailed, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "fldChar":
				for _, attr := range t.Attr {
					if attr.Name.Local == "fldCharType" {
						switch attr.Value {
						case "begin":
							inField = true
						case "end":
							inField = false
						}
					}
				}
			case "instrText", "fldSimple":
				inField = true
			case "tbl":
				inTable = true
				table = table[:0]
			case "tr":
				inRow = true
				row = row[:0]
			case "tc":
				inCell = true
				cell.Reset()
			case "p":
				if !inTable {
					paragraph.Reset()
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "instrText", "fldSimple":
				inField = false
			case "tbl":
				if len(table) > 0 {
					result = append(result, tableToMarkdown(table), "")
				}
				inTable = false
			case "tr":
				if inRow && len(row) > 0 {
					rowCopy := make([]string, len(row))
					copy(rowCopy, row)
					table = append(table, rowCopy)
				}
				inRow = false
			case "tc":
				if inCell {
					row = append(row, strings.TrimSpace(cell.String()))
				}
				inCell = false
			case "p":
				if !inTable {
					if trimmed := strings.TrimSpace(paragraph.String()); trimmed != "" {
						result = append(result, trimmed)
					}
					paragraph.Reset()
				}
			}
		case xml.CharData:
			if inField {
				continue
			}
			if inCell {
				cell.Write(t)
			} else if !inTable {
				paragraph.Write(t)
			}
		}
	}

	return strings.Join(result, "\n"), nil
}

// tableToMarkdown renders rows as a GitHub-flavored table: the first row is
// the header, followed by a separator line. Pipes in cells are escaped and
// newlines replaced with spaces.
func tableToMarkdown(table [][]string) string {
	if len(table) == 0 {
		return ""
	}

	maxCols := 0
	for _, row := range table {
		if len(row) > maxCols {
			maxCols = len(row)
		}
	}
	if maxCols == 0 {
		return ""
	}

	var b strings.Builder
	for idx, row := range table {
		b.WriteString("| ")
		for col := 0; col < maxCols; col++ {
			if col > 0 {
				b.WriteString(" | ")
			}
			if col < len(row) {
				b.WriteString(escapeCell(row[col]))
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
	return b.String()
}

func escapeCell(s string) string {
	if strings.ContainsAny(s, "|\n") {
		s = strings.ReplaceAll(s, "|", "\\|")
		s = strings.ReplaceAll(s, "\n", " ")
	}
	return s
}
