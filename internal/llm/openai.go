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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openaiProvider struct {
	config appconfig.LLMConfig
	client *http.Client
	log    *logger.Log
}

func newOpenAIProvider(cfg appconfig.LLMConfig) *openaiProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	p := &openaiProvider{
		config: cfg,
		client: newHTTPClient(),
		log:    logger.GetLogger(),
	}
	p.log.WithComponent("llm").WithFields(logger.Fields{
		"provider": "openai",
		"model":    cfg.Model,
	}).Info("llm provider initialized")
	return p
}

func (p *openaiProvider) request(ctx context.Context, prompt string, stream bool) (*http.Response, error) {
	payload := map[string]any{
		"model":      p.config.Model,
		"max_tokens": maxTokens(p.config),
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if stream {
		payload["stream"] = true
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("openai api error %d: %s", resp.StatusCode, string(data))
	}
	return resp, nil
}

func (p *openaiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.request(ctx, prompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (p *openaiProvider) Stream(ctx context.Context, prompt string) (<-chan string, error) {
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
			if payload == "[DONE]" {
				return
			}

			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case fragments <- choice.Delta.Content:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			p.log.WithComponent("llm").WithError(err).Warn("openai stream interrupted")
		}
	}()
	return fragments, nil
}
