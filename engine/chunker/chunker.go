// Package chunker splits extracted markdown into ordered, overlap-free
// segments using a greedy forward scan with a prioritized break-type
// search. It performs no I/O and is fully deterministic.
package chunker

import (
	"regexp"
	"strings"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

// Chunk is one segment produced by Split, with its original-document
// half-open character offsets.
type Chunk struct {
	Start     int
	End       int
	Content   string
	BreakType engmodels.BreakType
}

var headerLine = regexp.MustCompile(`(?m)^#{2,6}(\s|$)`)

// Split chunks markdown into pieces no larger than chunkSize, per the
// break-type priority order: markdown_header > paragraph > newline >
// sentence > force.
func Split(markdown string, chunkSize int) []Chunk {
	if markdown == "" {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = len(markdown)
	}
	if len(markdown) <= chunkSize {
		bt := engmodels.BreakForce
		if strings.Contains(markdown, "\n\n") {
			bt = engmodels.BreakParagraph
		}
		return []Chunk{{Start: 0, End: len(markdown), Content: markdown, BreakType: bt}}
	}

	var chunks []Chunk
	start := 0
	for start < len(markdown) {
		windowEnd := start + chunkSize
		if windowEnd > len(markdown) {
			windowEnd = len(markdown)
		}
		breakAt, breakType := findBreak(markdown, start, windowEnd)
		chunks = append(chunks, Chunk{
			Start:     start,
			End:       breakAt,
			Content:   markdown[start:breakAt],
			BreakType: breakType,
		})
		start = breakAt
	}
	return chunks
}

// findBreak finds the rightmost acceptable break position within
// (start, windowEnd], in priority order, falling back to a forced split
// at windowEnd if nothing else qualifies.
func findBreak(doc string, start, windowEnd int) (int, engmodels.BreakType) {
	window := doc[start:windowEnd]

	if pos, ok := findHeaderBreak(window, start); ok {
		return pos, engmodels.BreakMarkdownHeader
	}
	if pos, ok := findParagraphBreak(window, start); ok {
		return pos, engmodels.BreakParagraph
	}
	if pos, ok := findNewlineBreak(window, start); ok {
		return pos, engmodels.BreakNewline
	}
	if pos, ok := findSentenceBreak(window, start); ok {
		return pos, engmodels.BreakSentence
	}
	return windowEnd, engmodels.BreakForce
}

// findHeaderBreak locates the rightmost line within window beginning with
// an ATX heading of depth >= 2, excluding a match at the window's own
// first character (no-progress guard).
func findHeaderBreak(window string, offset int) (int, bool) {
	matches := headerLine.FindAllStringIndex(window, -1)
	if len(matches) == 0 {
		return 0, false
	}
	for i := len(matches) - 1; i >= 0; i-- {
		pos := matches[i][0]
		if pos == 0 {
			continue // window's first character: no progress
		}
		return offset + pos, true
	}
	return 0, false
}

// findParagraphBreak locates the rightmost blank-line separator, breaking
// just after it so the separator stays with the preceding chunk.
func findParagraphBreak(window string, offset int) (int, bool) {
	idx := strings.LastIndex(window, "\n\n")
	if idx < 0 {
		return 0, false
	}
	return offset + idx + 2, true
}

// findNewlineBreak locates the last newline in window, breaking just after it.
func findNewlineBreak(window string, offset int) (int, bool) {
	idx := strings.LastIndex(window, "\n")
	if idx < 0 {
		return 0, false
	}
	return offset + idx + 1, true
}

// findSentenceBreak locates the last sentence-terminal punctuation followed
// by whitespace, breaking just after that whitespace.
func findSentenceBreak(window string, offset int) (int, bool) {
	best := -1
	for i := 0; i < len(window)-1; i++ {
		c := window[i]
		if (c == '.' || c == '!' || c == '?') && isSpace(window[i+1]) {
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	return offset + best + 2, true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
