package rag

import (
	"fmt"
	"regexp"
	"strings"
)

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// ChunkText splits text into trimmed, non-empty paragraphs.
func ChunkText(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := paragraphBreak.Split(text, -1)
	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks
}

// ChunkID names the n-th chunk of a source document.
func ChunkID(sourceID string, n int) string {
	return fmt.Sprintf("%s_chunk_%d", sourceID, n)
}
