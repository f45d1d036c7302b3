package ingest

import "strings"

const (
	defaultChunkSize    = 1200
	defaultChunkOverlap = 150
)

// Chunk splits article text into overlapping chunks. Paragraph
// boundaries are respected where possible so a chunk reads as coherent
// prose; a single paragraph longer than size is split hard.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		for len(p) > size {
			paragraphs = append(paragraphs, p[:size])
			p = strings.TrimSpace(p[size:])
		}
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	var chunks []string
	var current strings.Builder
	for _, p := range paragraphs {
		if current.Len() > 0 && current.Len()+2+len(p) > size {
			chunk := current.String()
			chunks = append(chunks, chunk)
			current.Reset()
			// Carry the tail of the previous chunk so context spans
			// the boundary.
			if overlap > 0 && len(chunk) > overlap {
				current.WriteString(chunk[len(chunk)-overlap:])
				current.WriteString("\n\n")
			}
		}
		if current.Len() > 0 && !strings.HasSuffix(current.String(), "\n\n") {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, current.String())
	}
	return chunks
}
