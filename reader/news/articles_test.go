package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"edgeflow/config"
	"edgeflow/models"
)

type capturePublisher struct {
	batches [][]models.RawEvent
}

func (p *capturePublisher) PublishBatch(_ context.Context, events []models.RawEvent) error {
	p.batches = append(p.batches, events)
	return nil
}

func testConfig(baseURL string, queries []string) *config.Config {
	cfg := &config.Config{}
	cfg.Reader.Timeout = 5 * time.Second
	cfg.Reader.RateLimit = config.RateLimitConfig{RequestsPerSecond: 100, BurstSize: 100}
	cfg.Reader.Backoff429 = 50 * time.Millisecond
	cfg.Source.News = config.NewsSourceConfig{
		Enabled:      true,
		BaseURL:      baseURL,
		APIKey:       "test-key",
		PollInterval: time.Minute,
		PageSize:     20,
		Queries:      queries,
	}
	cfg.Kafka.Topics.News = "news.feed"
	return cfg
}

func TestPollOnceInjectsSearchQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("X-Api-Key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		q := req.URL.Query().Get("q")
		fmt.Fprintf(w, `{"status":"ok","articles":[
			{"url":"https://example.com/%s/1","title":"T","content":"body","publishedAt":"2026-08-01T00:00:00Z","source":{"name":"Example"}}
		]}`, q)
	}))
	defer srv.Close()

	pub := &capturePublisher{}
	r := NewReader(testConfig(srv.URL, []string{"fed rates", "election"}), pub)
	r.ctx = context.Background()

	if err := r.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if len(pub.batches) != 1 || len(pub.batches[0]) != 2 {
		t.Fatalf("expected 2 events in one batch, got %+v", pub.batches)
	}

	var payload models.NewsArticlePayload
	if err := json.Unmarshal(pub.batches[0][0].Payload, &payload); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if payload.SearchQuery != "fed rates" {
		t.Fatalf("expected injected query, got %q", payload.SearchQuery)
	}
	if pub.batches[0][0].Key != payload.URL {
		t.Fatalf("expected url key, got %q", pub.batches[0][0].Key)
	}
}

func TestPollOnceSkipsArticleWithoutURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"status":"ok","articles":[{"title":"no url"},{"url":"https://example.com/a"}]}`)
	}))
	defer srv.Close()

	pub := &capturePublisher{}
	r := NewReader(testConfig(srv.URL, []string{"q"}), pub)
	r.ctx = context.Background()

	if err := r.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if len(pub.batches) != 1 || len(pub.batches[0]) != 1 {
		t.Fatalf("expected single valid event, got %+v", pub.batches)
	}
}

func TestPollOnceContinuesPastFailedQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("q") == "bad" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"status":"ok","articles":[{"url":"https://example.com/good"}]}`)
	}))
	defer srv.Close()

	pub := &capturePublisher{}
	r := NewReader(testConfig(srv.URL, []string{"bad", "good"}), pub)
	r.ctx = context.Background()

	if err := r.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if len(pub.batches) != 1 || len(pub.batches[0]) != 1 {
		t.Fatalf("expected event from surviving query, got %+v", pub.batches)
	}
}

func TestPollOnceRateLimitedAbortsCycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := NewReader(testConfig(srv.URL, []string{"a", "b"}), &capturePublisher{})
	r.ctx = context.Background()

	if _, ok := r.pollOnce().(errRateLimited); !ok {
		t.Fatalf("expected rate limited error")
	}
}
