package rag

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Orion-Core/server/internal/models"
)

func TestFilter_Matches(t *testing.T) {
	payload := models.Payload{
		"type": "journal",
		"tags": []any{"interview", "career"},
		"mood": float64(3),
	}

	tests := []struct {
		name   string
		filter *Filter
		want   bool
	}{
		{"nil matches everything", nil, true},
		{"empty matches everything", &Filter{}, true},
		{"scalar match", Match("type", "journal"), true},
		{"scalar mismatch", Match("type", "task"), false},
		{"array element", Match("tags", "career"), true},
		{"array miss", Match("tags", "health"), false},
		{"numeric across types", Match("mood", 3), true},
		{"missing key", Match("nope", "x"), false},
		{"match any", &Filter{Must: []Condition{MatchAnyClause{Key: "tags", Values: []string{"x", "interview"}}}}, true},
		{"must not", &Filter{MustNot: []Condition{MatchClause{Key: "type", Value: "journal"}}}, false},
		{"should none", &Filter{Should: []Condition{MatchClause{Key: "type", Value: "task"}}}, false},
		{"should one", &Filter{Should: []Condition{
			MatchClause{Key: "type", Value: "task"},
			MatchClause{Key: "tags", Value: "career"},
		}}, true},
		{"and", Match("type", "journal").And(MatchClause{Key: "tags", Value: "health"}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(payload))
		})
	}
}

func TestFilter_AndDoesNotMutate(t *testing.T) {
	base := Match("type", "journal")
	combined := base.And(MatchClause{Key: "tags", Value: "x"})

	assert.Len(t, base.Must, 1)
	assert.Len(t, combined.Must, 2)
}

func TestParseFilter_Flat(t *testing.T) {
	f, err := ParseFilter(json.RawMessage(`{"type":"journal","tags":["a","b"]}`))
	require.NoError(t, err)

	require.Len(t, f.Must, 3)
	assert.True(t, f.Matches(models.Payload{"type": "journal", "tags": []string{"a", "b", "c"}}))
	assert.False(t, f.Matches(models.Payload{"type": "journal", "tags": []string{"a"}}))
}

func TestParseFilter_Structured(t *testing.T) {
	raw := `{
		"must": [{"key": "type", "match": {"value": "journal"}}],
		"should": [{"key": "tags", "match": {"any": ["interview", "offer"]}}],
		"must_not": [{"key": "archived", "match": {"value": true}}]
	}`
	f, err := ParseFilter(json.RawMessage(raw))
	require.NoError(t, err)

	assert.True(t, f.Matches(models.Payload{"type": "journal", "tags": []string{"offer"}}))
	assert.False(t, f.Matches(models.Payload{"type": "journal", "tags": []string{"offer"}, "archived": true}))
	assert.False(t, f.Matches(models.Payload{"type": "journal", "tags": []string{"other"}}))
}

func TestParseFilter_Empty(t *testing.T) {
	for _, raw := range []string{"", "null"} {
		f, err := ParseFilter(json.RawMessage(raw))
		require.NoError(t, err)
		assert.Nil(t, f)
	}
}

func TestParseFilter_Invalid(t *testing.T) {
	tests := []string{
		`[1,2]`,
		`{"type":{"nested":true}}`,
		`{"must":[{"match":{"value":"x"}}]}`,
		`{"must":[{"key":"type","match":{}}]}`,
	}
	for _, raw := range tests {
		_, err := ParseFilter(json.RawMessage(raw))
		assert.True(t, models.IsValidation(err), raw)
	}
}
