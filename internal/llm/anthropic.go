package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	appconfig "edgeflow/config"
	"edgeflow/logger"
)

const defaultAnthropicBaseURL = "https://api.anthropic.com/v1"

type anthropicProvider struct {
	config appconfig.LLMConfig
	client *http.Client
	log    *logger.Log
}

func newAnthropicProvider(cfg appconfig.LLMConfig) *anthropicProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	p := &anthropicProvider{
		config: cfg,
		client: newHTTPClient(),
		log:    logger.GetLogger(),
	}
	p.log.WithComponent("llm").WithFields(logger.Fields{
		"provider": "anthropic",
		"model":    cfg.Model,
	}).Info("llm provider initialized")
	return p
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (p *anthropicProvider) request(ctx context.Context, prompt string, stream bool) (*http.Response, error) {
	body, err := json.Marshal(map[string]any{
		"model":      p.config.Model,
		"max_tokens": maxTokens(p.config),
		"messages":   []anthropicMessage{{Role: "user", Content: prompt}},
		"stream":     stream,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("anthropic api error %d: %s", resp.StatusCode, string(data))
	}
	return resp, nil
}

func (p *anthropicProvider) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.request(ctx, prompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

func (p *anthropicProvider) Stream(ctx context.Context, prompt string) (<-chan string, error) {
	resp, err := p.request(ctx, prompt, true)
	if err != nil {
		return nil, err
	}

	fragments := make(chan string, 8)
	go func() {
		defer close(fragments)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var event struct {
				Type  string `json:"type"`
				Delta struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}
			if event.Type == "message_stop" {
				return
			}
			if event.Type != "content_block_delta" || event.Delta.Text == "" {
				continue
			}
			select {
			case fragments <- event.Delta.Text:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			p.log.WithComponent("llm").WithError(err).Warn("anthropic stream interrupted")
		}
	}()
	return fragments, nil
}
