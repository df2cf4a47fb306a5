package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"Orion-Core/server/internal/models"
	"Orion-Core/server/internal/rag"
)

const (
	defaultListLimit = 20
	maxEmbedTexts    = 256
)

// EmbedRequest asks for raw embeddings of texts
type EmbedRequest struct {
	Texts []string `json:"texts"`
}

// SearchMemoryRequest represents a similarity search request
type SearchMemoryRequest struct {
	Query          string          `json:"query"`
	Limit          int             `json:"limit"`
	Filter         json.RawMessage `json:"filter,omitempty"`
	Collection     string          `json:"collectionName,omitempty"`
	ScoreThreshold *float32        `json:"scoreThreshold,omitempty"`
}

// DeleteMemoryRequest lists the memories to remove
type DeleteMemoryRequest struct {
	IDs        []string `json:"ids"`
	Collection string   `json:"collectionName,omitempty"`
}

// MemoryHit is one search or list row
type MemoryHit struct {
	ID      string         `json:"id"`
	Payload models.Payload `json:"payload"`
	Score   float32        `json:"score"`
}

func toHits(results []models.SearchResult) []MemoryHit {
	hits := make([]MemoryHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, MemoryHit{ID: r.Point.ID, Payload: r.Point.Payload, Score: r.Score})
	}
	return hits
}

func (h *Handlers) AddMemory(w http.ResponseWriter, r *http.Request) {
	var req rag.AddMemoryInput
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.memory.AddMemory(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"memoryId": id,
	})
}

// Embed returns embeddings for texts without storing them
func (h *Handlers) Embed(w http.ResponseWriter, r *http.Request) {
	var req EmbedRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(req.Texts) > maxEmbedTexts {
		h.writeError(w, r, models.Validation("web.embed", "at most %d texts per request, got %d", maxEmbedTexts, len(req.Texts)))
		return
	}

	vectors, err := h.memory.Embed(r.Context(), req.Texts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"embeddings": vectors,
		"model":      h.memory.EmbeddingModel(),
	})
}

// IndexText chunks a document and stores every chunk
func (h *Handlers) IndexText(w http.ResponseWriter, r *http.Request) {
	var req rag.AddMemoryInput
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	ids, err := h.memory.IndexText(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"ids":     ids,
		"count":   len(ids),
	})
}

func (h *Handlers) SearchMemory(w http.ResponseWriter, r *http.Request) {
	var req SearchMemoryRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	filter, err := rag.ParseFilter(req.Filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	results, err := h.memory.SearchMemory(r.Context(), req.Query, rag.SearchRequest{
		Limit:          req.Limit,
		Filter:         filter,
		Collection:     req.Collection,
		ScoreThreshold: req.ScoreThreshold,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"results": toHits(results),
	})
}

// ListMemories scans by type and/or tag without ranking
func (h *Handlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	var filter *rag.Filter
	if t := strings.TrimSpace(q.Get("type")); t != "" {
		filter = filter.And(rag.MatchClause{Key: models.PayloadType, Value: t})
	}
	if tag := strings.TrimSpace(q.Get("tag")); tag != "" {
		filter = filter.And(rag.MatchClause{Key: models.PayloadTags, Value: strings.ToLower(tag)})
	}

	results, err := h.memory.List(r.Context(), filter, limit, q.Get("collectionName"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"results": toHits(results),
		"count":   len(results),
	})
}

func (h *Handlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	var req DeleteMemoryRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	n, err := h.memory.DeleteMemory(r.Context(), req.IDs, req.Collection)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"deletedCount": n,
	})
}

// AddFeedback stores a rating of a generated answer
func (h *Handlers) AddFeedback(w http.ResponseWriter, r *http.Request) {
	var req rag.FeedbackInput
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.memory.AddFeedback(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"memoryId": id,
	})
}

func (h *Handlers) MemoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.memory.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats":   stats,
	})
}
