package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	appconfig "edgeflow/config"
	"edgeflow/models"
)

// NewModel builds the probability model named by configuration.
func NewModel(cfg appconfig.EdgeModelConfig) (ProbabilityModel, error) {
	switch cfg.Kind {
	case "static":
		return NewStaticModel(cfg.Static), nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("http model requires a url")
		}
		return NewHTTPModel(cfg), nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", cfg.Kind)
	}
}

// StaticModel serves estimates from a fixed external-id table. Used in
// tests and for manually curated watchlists.
type StaticModel struct {
	probs map[string]float64
}

func NewStaticModel(probs map[string]float64) *StaticModel {
	if probs == nil {
		probs = map[string]float64{}
	}
	return &StaticModel{probs: probs}
}

func (m *StaticModel) Estimate(_ context.Context, market *models.Market) (float64, bool, error) {
	p, ok := m.probs[market.ExternalID]
	return p, ok, nil
}

// HTTPModel asks an external forecasting service for an estimate. A 404
// means the service has no opinion on the market.
type HTTPModel struct {
	url    string
	client *http.Client
}

func NewHTTPModel(cfg appconfig.EdgeModelConfig) *HTTPModel {
	return &HTTPModel{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type estimateRequest struct {
	Platform   string   `json:"platform"`
	ExternalID string   `json:"external_id"`
	Title      string   `json:"title"`
	Category   string   `json:"category,omitempty"`
	YesPrice   *float64 `json:"yes_price,omitempty"`
}

type estimateResponse struct {
	Probability float64 `json:"probability"`
}

func (m *HTTPModel) Estimate(ctx context.Context, market *models.Market) (float64, bool, error) {
	body, err := json.Marshal(estimateRequest{
		Platform:   string(market.Platform),
		ExternalID: market.ExternalID,
		Title:      market.Title,
		Category:   market.Category,
		YesPrice:   market.YesPrice,
	})
	if err != nil {
		return 0, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("model service status %d", resp.StatusCode)
	}

	var er estimateResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return 0, false, fmt.Errorf("decode model response: %w", err)
	}
	if er.Probability < 0 || er.Probability > 1 {
		return 0, false, fmt.Errorf("model probability %v out of [0,1]", er.Probability)
	}
	return er.Probability, true, nil
}
