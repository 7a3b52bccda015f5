package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
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
	cfg.Source.Kalshi = config.KalshiSourceConfig{
		Enabled:      true,
		BaseURL:      baseURL,
		PollInterval: time.Minute,
		PageLimit:    2,
		SeriesCache:  config.CacheConfig{MaxEntries: 16, TTL: time.Hour},
	}
	cfg.Kafka.Topics.Kalshi = "kalshi.markets"
	return cfg
}

func TestPollOncePaginatesAndEnriches(t *testing.T) {
	var seriesHits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == "/markets":
			cursor := req.URL.Query().Get("cursor")
			if cursor == "" {
				fmt.Fprint(w, `{"markets":[
					{"ticker":"KXFED-25DEC-T3.75","event_ticker":"KXFED-25DEC","title":"A","yes_bid":42,"yes_ask":48,"status":"active"},
					{"ticker":"KXFED-25DEC-T4.00","event_ticker":"KXFED-25DEC","title":"B","yes_bid":10,"yes_ask":14,"status":"active"}
				],"cursor":"page2"}`)
				return
			}
			fmt.Fprint(w, `{"markets":[
				{"ticker":"KXCPI-26JAN-T2.5","event_ticker":"KXCPI-26JAN","title":"C","yes_bid":30,"yes_ask":34,"status":"active"}
			],"cursor":""}`)
		case req.URL.Path == "/series/KXFED":
			atomic.AddInt64(&seriesHits, 1)
			fmt.Fprint(w, `{"series":{"ticker":"KXFED","category":"Economics"}}`)
		case req.URL.Path == "/series/KXCPI":
			fmt.Fprint(w, `{"series":{"ticker":"KXCPI","category":"Economics"}}`)
		default:
			http.NotFound(w, req)
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
		t.Fatalf("expected one batch per cycle, got %d", len(pub.batches))
	}
	events := pub.batches[0]
	if len(events) != 3 {
		t.Fatalf("expected 3 events across pages, got %d", len(events))
	}
	if events[0].Key != "KXFED-25DEC-T3.75" || events[0].Topic != "kalshi.markets" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}

	var record map[string]interface{}
	if err := json.Unmarshal(events[0].Payload, &record); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if record["category"] != "Economics" {
		t.Fatalf("expected category enrichment, got %v", record["category"])
	}

	// Two markets share the KXFED series; the lookup must be cached.
	if hits := atomic.LoadInt64(&seriesHits); hits != 1 {
		t.Fatalf("expected 1 series lookup, got %d", hits)
	}
}

func TestPollOnceRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := NewReader(testConfig(srv.URL), &capturePublisher{})
	r.ctx = context.Background()

	err := r.pollOnce()
	if _, ok := err.(errRateLimited); !ok {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}

func TestPollOnceSkipsRecordWithoutTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/markets" {
			fmt.Fprint(w, `{"markets":[{"title":"no ticker"},{"ticker":"T1","status":"open"}],"cursor":""}`)
			return
		}
		http.NotFound(w, req)
	}))
	defer srv.Close()

	pub := &capturePublisher{}
	r := NewReader(testConfig(srv.URL), pub)
	r.ctx = context.Background()

	if err := r.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if len(pub.batches) != 1 || len(pub.batches[0]) != 1 {
		t.Fatalf("expected single valid event, got %+v", pub.batches)
	}
}

func TestSeriesTicker(t *testing.T) {
	cases := map[string]string{
		"KXFED-25DEC":       "KXFED",
		"KXFED-25DEC-T3.75": "KXFED",
		"KXFED":             "KXFED",
		"":                  "",
	}
	for in, want := range cases {
		if got := SeriesTicker(in); got != want {
			t.Errorf("SeriesTicker(%q) = %q, want %q", in, got, want)
		}
	}
}
