package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpError_Kinds(t *testing.T) {
	err := Validation("memory.search", "query must not be empty")
	assert.True(t, IsValidation(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, "memory.search: validation error: query must not be empty", err.Error())

	wrapped := fmt.Errorf("handler: %w", Transient("embed", context.DeadlineExceeded))
	assert.True(t, IsTransient(wrapped))
	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded), "cause stays reachable")

	var opErr *OpError
	require.True(t, errors.As(wrapped, &opErr))
	assert.Equal(t, "embed", opErr.Op)

	cfgErr := Configurationf("gateway.upsert", "dimension %d != %d", 384, 768)
	assert.True(t, IsConfiguration(cfgErr))
	assert.Contains(t, cfgErr.Error(), "384")
}

func TestExhaustionError(t *testing.T) {
	err := &ExhaustionError{Attempts: []AttemptFailure{
		{Model: "azure/gpt-4.1", Kind: "timeout", Err: context.DeadlineExceeded},
		{Model: "groq/llama3-70b-8192", Kind: "rate_limited", Err: errors.New("429")},
	}}

	assert.True(t, errors.Is(err, ErrExhausted))
	assert.True(t, errors.Is(fmt.Errorf("generate: %w", err), ErrExhausted))
	assert.Contains(t, err.Error(), "azure/gpt-4.1")
	assert.Contains(t, err.Error(), "groq/llama3-70b-8192")
	assert.Contains(t, err.Error(), "all 2 candidates failed")
	assert.Equal(t, []string{"azure/gpt-4.1", "groq/llama3-70b-8192"}, err.Models())

	assert.Equal(t, "no fallback candidates were attempted", (&ExhaustionError{}).Error())
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" Interview", "career", "interview", "", "CAREER "})
	assert.Equal(t, []string{"career", "interview"}, got)
	assert.Empty(t, NormalizeTags(nil))
}

func TestPayload_Accessors(t *testing.T) {
	p := Payload{
		PayloadText:      "Feeling anxious about the interview",
		PayloadSourceID:  "j1",
		PayloadType:      MemoryTypeJournal,
		PayloadTags:      []any{"interview", 3},
		PayloadTimestamp: "2025-06-01T10:00:00Z",
	}

	assert.Equal(t, "Feeling anxious about the interview", p.Text())
	assert.Equal(t, "j1", p.SourceID())
	assert.Equal(t, "journal", p.Type())
	assert.Equal(t, []string{"interview"}, p.Tags())
	assert.Equal(t, 2025, p.Timestamp().Year())

	clone := p.Clone()
	clone[PayloadType] = "task"
	assert.Equal(t, "journal", p.Type())

	assert.True(t, IsReservedKey("tags"))
	assert.False(t, IsReservedKey("mood"))
}
