package models

import (
	"sort"
	"strings"
	"time"
)

// Reserved payload keys
const (
	PayloadText      = "text"
	PayloadSourceID  = "sourceId"
	PayloadType      = "type"
	PayloadTags      = "tags"
	PayloadTimestamp = "timestamp"
	PayloadIndexedAt = "indexedAt"
)

// Well-known memory types
const (
	MemoryTypeJournal      = "journal"
	MemoryTypeReflection   = "reflection"
	MemoryTypeTask         = "task"
	MemoryTypeConversation = "conversation"
	MemoryTypeDocument     = "document"
	MemoryTypeFeedback     = "feedback"
	MemoryTypeCVSnippet    = "cv_snippet"
)

// Payload is the structured metadata attached to a vector
type Payload map[string]any

// MemoryPoint is one persisted unit of memory
type MemoryPoint struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"-"`
	Payload Payload   `json:"payload"`
}

// SearchResult is a point with its similarity score
type SearchResult struct {
	Point MemoryPoint `json:"point"`
	Score float32     `json:"score"`
}

// CollectionInfo describes a vector collection
type CollectionInfo struct {
	Name       string `json:"name"`
	Dimension  int    `json:"dimension"`
	PointCount uint64 `json:"point_count"`
}

// IsReservedKey reports whether key belongs to the fixed payload schema.
func IsReservedKey(key string) bool {
	switch key {
	case PayloadText, PayloadSourceID, PayloadType, PayloadTags, PayloadTimestamp, PayloadIndexedAt:
		return true
	}
	return false
}

// Text returns the stored text.
func (p Payload) Text() string {
	s, _ := p[PayloadText].(string)
	return s
}

// SourceID returns the caller-visible identifier.
func (p Payload) SourceID() string {
	s, _ := p[PayloadSourceID].(string)
	return s
}

// Type returns the memory type tag.
func (p Payload) Type() string {
	s, _ := p[PayloadType].(string)
	return s
}

// Tags returns the tag set whether it was stored as []string or decoded
// from JSON as []any.
func (p Payload) Tags() []string {
	switch v := p[PayloadTags].(type) {
	case []string:
		return v
	case []any:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	}
	return nil
}

// Timestamp parses the timestamp field. The zero time is returned when it
// is absent or malformed.
func (p Payload) Timestamp() time.Time {
	s, _ := p[PayloadTimestamp].(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Clone returns a shallow copy.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// NormalizeTags lower-cases, trims, de-duplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
