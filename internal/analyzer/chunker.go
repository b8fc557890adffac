package analyzer

import "strings"

// Chunker splits source text into overlapping chunks, preferring to cut at
// python construct boundaries.
type Chunker struct {
	Size    int
	Overlap int
}

// Cut-point candidates in preference order. Earlier entries keep whole
// constructs together.
var pythonSeparators = []string{
	"\nclass ",
	"\ndef ",
	"\nasync ",
	"\nif ",
	"\nfor ",
	"\nwhile ",
	"\n",
	" ",
}

// NewChunker creates a chunker with the given size and overlap. Overlap must
// be smaller than half the size so every chunk makes forward progress.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 800
	}
	if overlap < 0 || overlap >= size/2 {
		overlap = size / 5
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split cuts text into chunks of at most Size characters. Consecutive chunks
// share Overlap characters of context.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= c.Size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + c.Size
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}

		cut := c.findCut(text, start, end)
		chunks = append(chunks, text[start:cut])

		start = cut - c.Overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

// findCut picks the best separator occurrence in the back half of the
// window, falling back to a hard cut at the window end.
func (c *Chunker) findCut(text string, start, end int) int {
	floor := start + c.Size/2
	window := text[floor:end]

	for _, sep := range pythonSeparators {
		if idx := strings.LastIndex(window, sep); idx >= 0 {
			cut := floor + idx
			if sep != " " {
				cut++ // keep the newline with the preceding chunk
			}
			if cut > start {
				return cut
			}
		}
	}
	return end
}
