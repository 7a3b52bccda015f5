package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	appconfig "edgeflow/config"
	"edgeflow/models"
)

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (models.Vector, error)
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	cfg    appconfig.EmbeddingConfig
	client *http.Client
}

func NewOpenAIEmbedder(cfg appconfig.EmbeddingConfig) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed requests one embedding, retrying transient provider failures a
// couple of times before giving up on this text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (models.Vector, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		vector, retryable, err := e.embedOnce(ctx, text)
		if err == nil {
			return vector, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, text string) (models.Vector, bool, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.cfg.Model, Input: []string{text}})
	if err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("embedding provider status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("embedding provider status %d", resp.StatusCode)
	}

	var er embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, false, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(er.Data) == 0 {
		return nil, false, fmt.Errorf("embedding response contains no data")
	}

	vector := models.Vector(er.Data[0].Embedding)
	if e.cfg.Dimension > 0 && len(vector) != e.cfg.Dimension {
		return nil, false, fmt.Errorf("embedding dimension %d, expected %d", len(vector), e.cfg.Dimension)
	}
	return vector, false, nil
}
