package llm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	appconfig "edgeflow/config"
)

// Provider is a chat-completion backend. Complete blocks until the full
// response is available; Stream delivers text fragments as they arrive
// and closes the channel when the response is done or the context is
// cancelled.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string) (<-chan string, error)
}

// NewProvider selects the backend from config. The provider set is
// closed: anything other than "anthropic" or "openai" is a startup
// error, not a fallback.
func NewProvider(cfg appconfig.LLMConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return newAnthropicProvider(cfg), nil
	case "openai":
		return newOpenAIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want anthropic or openai)", cfg.Provider)
	}
}

// newHTTPClient builds a pooled client sized for long-lived completion
// requests; response headers can take minutes on large prompts.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   5 * time.Minute,
	}
}

func maxTokens(cfg appconfig.LLMConfig) int {
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return 4096
}
