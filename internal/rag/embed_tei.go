package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"Orion-Core/server/internal/models"
)

// TEIProvider calls a HuggingFace text-embeddings-inference server.
type TEIProvider struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

// NewTEIProvider creates a provider for the server at baseURL
func NewTEIProvider(baseURL, model string, dimension int, timeout time.Duration) (*TEIProvider, error) {
	if baseURL == "" {
		return nil, models.Configurationf("embedding.tei", "base_url is required")
	}
	if dimension <= 0 {
		return nil, models.Configurationf("embedding.tei", "dimension is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TEIProvider{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

func (p *TEIProvider) Name() string   { return "tei:" + p.model }
func (p *TEIProvider) Dimension() int { return p.dimension }

type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

func (p *TEIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: texts, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, models.Transient("embedding.tei", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.Transient("embedding.tei", fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if isTransientStatus(resp.StatusCode) {
			return nil, models.Transient("embedding.tei", err)
		}
		return nil, fmt.Errorf("embedding.tei: %w", err)
	}

	var vectors [][]float32
	if err := json.Unmarshal(respBody, &vectors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return vectors, nil
}
