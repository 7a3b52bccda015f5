package polymarket

import (
	"context"
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

func testConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Reader.Timeout = 5 * time.Second
	cfg.Reader.RateLimit = config.RateLimitConfig{RequestsPerSecond: 100, BurstSize: 100}
	cfg.Reader.Backoff429 = 50 * time.Millisecond
	cfg.Source.Polymarket = config.PolymarketSourceConfig{
		Enabled:      true,
		BaseURL:      baseURL,
		PollInterval: time.Minute,
		PageLimit:    2,
	}
	cfg.Kafka.Topics.Polymarket = "polymarket.markets"
	return cfg
}

func TestPollOnceOffsetPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Query().Get("offset") {
		case "0":
			fmt.Fprint(w, `[{"conditionId":"0xaaa","question":"A"},{"conditionId":"0xbbb","question":"B"}]`)
		case "2":
			fmt.Fprint(w, `[{"id":"991","question":"C"}]`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer srv.Close()

	pub := &capturePublisher{}
	r := NewReader(testConfig(srv.URL), pub)
	r.ctx = context.Background()

	if err := r.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}

	if len(pub.batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(pub.batches))
	}
	events := pub.batches[0]
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Key != "0xaaa" {
		t.Fatalf("expected conditionId key, got %q", events[0].Key)
	}
	if events[2].Key != "991" {
		t.Fatalf("expected id fallback key, got %q", events[2].Key)
	}
	if events[0].Platform != models.PlatformPolymarket {
		t.Fatalf("platform: %v", events[0].Platform)
	}
}

func TestPollOnceSkipsRecordWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("offset") == "0" {
			fmt.Fprint(w, `[{"question":"who am i"}]`)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	pub := &capturePublisher{}
	r := NewReader(testConfig(srv.URL), pub)
	r.ctx = context.Background()

	if err := r.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if len(pub.batches) != 0 {
		t.Fatalf("expected no publish for empty cycle, got %+v", pub.batches)
	}
}

func TestPollOnceRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := NewReader(testConfig(srv.URL), &capturePublisher{})
	r.ctx = context.Background()

	if _, ok := r.pollOnce().(errRateLimited); !ok {
		t.Fatalf("expected rate limited error")
	}
}
