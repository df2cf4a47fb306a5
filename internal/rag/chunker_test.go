package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkText(t *testing.T) {
	text := "First paragraph.\nStill first.\n\n  Second paragraph.  \r\n\r\nThird.\n \n\n"
	assert.Equal(t, []string{"First paragraph.\nStill first.", "Second paragraph.", "Third."}, ChunkText(text))
	assert.Empty(t, ChunkText("   \n\n  "))
	assert.Equal(t, []string{"single"}, ChunkText("single"))
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "cv_chunk_2", ChunkID("cv", 2))
}
