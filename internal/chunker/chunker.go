// Package chunker splits Markdown text into embedding-sized chunks. It is
// table-aware: a Markdown table is never split across chunks unless the
// table alone exceeds the chunk size, in which case every emitted piece
// repeats the header row and the table's title heading.
package chunker

import (
	"strings"
)

const (
	// DefaultChunkSize is used for uploaded documents.
	DefaultChunkSize = 12000
	// PreloadChunkSize is used when pre-loading files at boot.
	PreloadChunkSize = 2000
)

// Split chunks text greedily. Every returned chunk is non-empty after
// trimming; empty input yields no chunks.
func Split(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	s := &splitter{chunkSize: chunkSize}
	s.run(strings.Split(text, "\n"))
	s.flush()
	return s.out
}

type splitter struct {
	chunkSize int
	out       []string
	cur       []string
	curLen    int
}

func (s *splitter) append(line string) {
	s.cur = append(s.cur, line)
	s.curLen += len(line) + 1
}

func (s *splitter) flush() {
	if len(s.cur) == 0 {
		return
	}
	chunk := strings.TrimSpace(strings.Join(s.cur, "\n"))
	if chunk != "" {
		s.out = append(s.out, chunk)
	}
	s.cur = nil
	s.curLen = 0
}

func (s *splitter) remaining() int { return s.chunkSize - s.curLen }

func (s *splitter) run(lines []string) {
	pendingTitle := ""

	i := 0
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])

		// A heading is deferred when a table follows, so the table logic
		// can adopt it as the table title.
		if strings.HasPrefix(trimmed, "#") && nextNonEmptyStartsTable(lines, i+1) {
			pendingTitle = trimmed
			i++
			continue
		}

		if isTableLine(lines, i) {
			end := tableEnd(lines, i)
			s.emitTable(pendingTitle, lines[i:end])
			pendingTitle = ""
			i = end
			continue
		}

		// Blank lines between a deferred heading and its table must not
		// cancel the deferral.
		if trimmed == "" {
			if pendingTitle == "" && len(s.cur) > 0 && s.cur[len(s.cur)-1] != "" {
				s.append("")
			}
			i++
			continue
		}

		if pendingTitle != "" {
			// Deferred heading whose table never materialized.
			s.appendParagraph(pendingTitle)
			pendingTitle = ""
		}

		// Collect one paragraph: consecutive non-blank non-table lines.
		start := i
		for i < len(lines) {
			t := strings.TrimSpace(lines[i])
			if t == "" || isTableLine(lines, i) {
				break
			}
			if strings.HasPrefix(t, "#") && nextNonEmptyStartsTable(lines, i+1) {
				break
			}
			i++
		}
		s.appendParagraph(strings.Join(lines[start:i], "\n"))
	}
}

func (s *splitter) appendParagraph(para string) {
	if len(para)+2 > s.chunkSize {
		s.splitSentences(para)
		return
	}
	if s.curLen+len(para)+2 > s.chunkSize && s.curLen > 0 {
		s.flush()
	}
	s.append(para)
	s.append("")
}

var sentenceTerminators = map[rune]bool{'.': true, '。': true, '!': true, '?': true, '！': true, '？': true}

// splitSentences breaks an oversize paragraph on sentence punctuation,
// re-suffixing each sentence with ". ".
func (s *splitter) splitSentences(para string) {
	var sentence strings.Builder
	emit := func() {
		text := strings.TrimSpace(sentence.String())
		sentence.Reset()
		if text == "" {
			return
		}
		withPunct := text + ". "
		if s.curLen+len(withPunct) > s.chunkSize && s.curLen > 0 {
			s.flush()
		}
		s.append(withPunct)
	}
	for _, r := range para {
		if sentenceTerminators[r] {
			emit()
			continue
		}
		sentence.WriteRune(r)
	}
	emit()
}

// emitTable places a collected table, carrying its title heading, splitting
// the table with repeated header rows only when it cannot fit one chunk.
func (s *splitter) emitTable(pendingTitle string, tableLines []string) {
	title := pendingTitle
	if title == "" {
		// Nearest non-empty preceding line already in the current chunk.
		for k := len(s.cur) - 1; k >= 0; k-- {
			t := strings.TrimSpace(s.cur[k])
			if t == "" {
				continue
			}
			if strings.HasPrefix(t, "#") {
				title = t
			}
			break
		}
	}

	titleInCur := false
	if title != "" {
		for _, l := range s.cur {
			if strings.TrimSpace(l) == title {
				titleInCur = true
				break
			}
		}
	}

	tableLen := 0
	for _, l := range tableLines {
		tableLen += len(l) + 1
	}
	need := tableLen
	if title != "" && !titleInCur {
		need += len(title) + 1
	}
	whole := tableLen + len(title) + 1

	switch {
	case need <= s.remaining():
		if title != "" && !titleInCur {
			s.append(title)
		}
		for _, l := range tableLines {
			s.append(l)
		}
		s.append("")
	case whole <= s.chunkSize:
		s.flush()
		if title != "" {
			s.append(title)
		}
		for _, l := range tableLines {
			s.append(l)
		}
		s.append("")
	default:
		s.flush()
		s.splitTable(title, tableLines)
	}
}

// splitTable emits chunks of body rows, each prefixed with the title and
// the header + separator lines.
func (s *splitter) splitTable(title string, tableLines []string) {
	headerCount := 2
	if len(tableLines) < 2 {
		headerCount = len(tableLines)
	}
	header := tableLines[:headerCount]
	body := tableLines[headerCount:]

	startChunk := func() {
		if title != "" {
			s.append(title)
		}
		for _, h := range header {
			s.append(h)
		}
	}

	startChunk()
	for _, rowLine := range body {
		if s.curLen+len(rowLine)+1 > s.chunkSize {
			s.flush()
			startChunk()
		}
		s.append(rowLine)
	}
	s.flush()
}

// isTableLine reports whether lines[i] belongs to a Markdown table: it
// contains a pipe and either an adjacent line does too, or it is itself a
// separator line.
func isTableLine(lines []string, i int) bool {
	line := lines[i]
	if !strings.Contains(line, "|") {
		return false
	}
	if isSeparatorLine(strings.TrimSpace(line)) {
		return true
	}
	if i > 0 && strings.Contains(lines[i-1], "|") {
		return true
	}
	if i+1 < len(lines) && strings.Contains(lines[i+1], "|") {
		return true
	}
	return false
}

// isSeparatorLine matches table separator rows made of ---/=== runs,
// pipes, colons and spaces.
func isSeparatorLine(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	dashes := 0
	for _, r := range trimmed {
		switch r {
		case '-', '=':
			dashes++
		case '|', ':', ' ':
		default:
			return false
		}
	}
	return dashes >= 3
}

// tableEnd scans forward from the table start: table mode is sticky until
// a non-empty line without a pipe.
func tableEnd(lines []string, start int) int {
	i := start
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			// A blank only ends the table when no table line follows it.
			if !nextNonEmptyHasPipe(lines, i+1) {
				return i
			}
			i++
			continue
		}
		if !strings.Contains(lines[i], "|") {
			return i
		}
		i++
	}
	return i
}

func nextNonEmptyHasPipe(lines []string, from int) bool {
	for i := from; i < len(lines); i++ {
		t := strings.TrimSpace(lines[i])
		if t == "" {
			continue
		}
		return strings.Contains(t, "|")
	}
	return false
}

func nextNonEmptyStartsTable(lines []string, from int) bool {
	for i := from; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		return isTableLine(lines, i)
	}
	return false
}
