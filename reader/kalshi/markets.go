// Package kalshi polls Kalshi's trade API for open markets and publishes
// each raw market record to the event log, keyed by ticker.
package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"edgeflow/config"
	"edgeflow/internal/cache"
	"edgeflow/logger"
	"edgeflow/models"
)

// Publisher delivers a poll cycle's events to the event log and blocks
// until every one is acknowledged.
type Publisher interface {
	PublishBatch(ctx context.Context, events []models.RawEvent) error
}

type marketsPage struct {
	Markets []json.RawMessage `json:"markets"`
	Cursor  string            `json:"cursor"`
}

type errRateLimited struct{}

func (errRateLimited) Error() string { return "rate limited (429)" }

// Reader fetches open Kalshi markets on a fixed interval. Each market is
// enriched with its series category before publishing.
type Reader struct {
	config    *config.Config
	client    *http.Client
	publisher Publisher
	limiter   *rate.Limiter
	series    *cache.TTL
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log
}

func NewReader(cfg *config.Config, pub Publisher) *Reader {
	log := logger.GetLogger()

	r := &Reader{
		config:    cfg,
		client:    &http.Client{Timeout: cfg.Reader.Timeout},
		publisher: pub,
		limiter:   rate.NewLimiter(rate.Limit(cfg.Reader.RateLimit.RequestsPerSecond), cfg.Reader.RateLimit.BurstSize),
		series:    cache.NewTTL(cfg.Source.Kalshi.SeriesCache.MaxEntries, cfg.Source.Kalshi.SeriesCache.TTL),
		wg:        &sync.WaitGroup{},
		log:       log,
	}

	log.WithComponent("kalshi_reader").WithFields(logger.Fields{
		"base_url": cfg.Source.Kalshi.BaseURL,
		"interval": cfg.Source.Kalshi.PollInterval,
		"timeout":  cfg.Reader.Timeout,
	}).Info("kalshi reader initialized")

	return r
}

func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	if !r.config.Source.Kalshi.Enabled {
		return fmt.Errorf("kalshi source is disabled")
	}

	r.wg.Add(1)
	go r.pollWorker()

	r.log.WithComponent("kalshi_reader").Info("kalshi reader started")
	return nil
}

func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("kalshi_reader").Info("stopping kalshi reader")
	r.wg.Wait()
	r.log.WithComponent("kalshi_reader").Info("kalshi reader stopped")
}

func (r *Reader) pollWorker() {
	defer r.wg.Done()

	log := r.log.WithComponent("kalshi_reader").WithFields(logger.Fields{"worker": "market_poller"})
	interval := r.config.Source.Kalshi.PollInterval

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-timer.C:
			start := time.Now()
			err := r.pollOnce()
			wait := interval
			if err != nil {
				if _, ok := err.(errRateLimited); ok {
					wait = r.config.Reader.Backoff429
					log.WithFields(logger.Fields{"backoff": wait}).Warn("rate limited, backing off")
				} else {
					log.WithError(err).Warn("poll cycle failed")
				}
			}
			logger.LogPerformanceEntry(log, "kalshi_reader", "poll_cycle", time.Since(start), nil)
			timer.Reset(wait)
		}
	}
}

// pollOnce walks the cursor-paginated market listing, publishes the full
// cycle as one batch, and blocks until the batch is acknowledged.
func (r *Reader) pollOnce() error {
	log := r.log.WithComponent("kalshi_reader")
	topic := r.config.Kafka.Topics.Kalshi

	var events []models.RawEvent
	cursor := ""
	for {
		page, err := r.fetchPage(cursor)
		if err != nil {
			return err
		}

		for _, raw := range page.Markets {
			event, err := r.buildEvent(topic, raw)
			if err != nil {
				log.WithError(err).Warn("skipping malformed market record")
				continue
			}
			events = append(events, event)
			logger.IncrementMarketRead("kalshi", len(event.Payload))
		}

		if page.Cursor == "" || len(page.Markets) == 0 {
			break
		}
		cursor = page.Cursor
	}

	if len(events) == 0 {
		return nil
	}
	if err := r.publisher.PublishBatch(r.ctx, events); err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}

	log.WithFields(logger.Fields{"markets": len(events)}).Info("poll cycle published")
	return nil
}

func (r *Reader) fetchPage(cursor string) (*marketsPage, error) {
	url := fmt.Sprintf("%s/markets?limit=%d&status=open", r.config.Source.Kalshi.BaseURL, r.config.Source.Kalshi.PageLimit)
	if cursor != "" {
		url += "&cursor=" + cursor
	}

	body, err := r.get(url)
	if err != nil {
		return nil, err
	}

	var page marketsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode markets page: %w", err)
	}
	return &page, nil
}

// buildEvent extracts the ticker for the partition key and attaches the
// series category to the raw record.
func (r *Reader) buildEvent(topic string, raw json.RawMessage) (models.RawEvent, error) {
	var record map[string]interface{}
	if err := json.Unmarshal(raw, &record); err != nil {
		return models.RawEvent{}, fmt.Errorf("decode market record: %w", err)
	}

	ticker, _ := record["ticker"].(string)
	if ticker == "" {
		return models.RawEvent{}, fmt.Errorf("market record missing ticker")
	}

	if eventTicker, _ := record["event_ticker"].(string); eventTicker != "" {
		if category := r.lookupCategory(eventTicker); category != "" {
			record["category"] = category
		}
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return models.RawEvent{}, fmt.Errorf("marshal market record: %w", err)
	}

	return models.RawEvent{
		Topic:     topic,
		Key:       ticker,
		Payload:   payload,
		Platform:  models.PlatformKalshi,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// lookupCategory resolves the category of a market's series, memoized in
// a bounded TTL cache. Lookup failures leave the category empty; the
// normalizer treats it as optional.
func (r *Reader) lookupCategory(eventTicker string) string {
	ticker := SeriesTicker(eventTicker)
	if ticker == "" {
		return ""
	}
	if category, ok := r.series.Get(ticker); ok {
		return category
	}

	body, err := r.get(fmt.Sprintf("%s/series/%s", r.config.Source.Kalshi.BaseURL, ticker))
	if err != nil {
		r.log.WithComponent("kalshi_reader").WithError(err).WithFields(logger.Fields{
			"series_ticker": ticker,
		}).Warn("series lookup failed")
		return ""
	}

	var resp struct {
		Series struct {
			Category string `json:"category"`
		} `json:"series"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}

	r.series.Set(ticker, resp.Series.Category)
	return resp.Series.Category
}

func (r *Reader) get(url string) ([]byte, error) {
	if err := r.limiter.Wait(r.ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if key := r.config.Source.Kalshi.APIKey; key != "" {
		req.Header.Set("Authorization", key)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited{}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}
