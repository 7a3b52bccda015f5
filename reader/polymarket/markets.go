// Package polymarket polls the Gamma API for active markets and
// publishes each raw market record to the event log, keyed by condition
// id.
package polymarket

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
	"edgeflow/logger"
	"edgeflow/models"
)

// Publisher delivers a poll cycle's events to the event log and blocks
// until every one is acknowledged.
type Publisher interface {
	PublishBatch(ctx context.Context, events []models.RawEvent) error
}

type errRateLimited struct{}

func (errRateLimited) Error() string { return "rate limited (429)" }

// Reader fetches active Polymarket markets on a fixed interval using
// offset pagination.
type Reader struct {
	config    *config.Config
	client    *http.Client
	publisher Publisher
	limiter   *rate.Limiter
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
		wg:        &sync.WaitGroup{},
		log:       log,
	}

	log.WithComponent("polymarket_reader").WithFields(logger.Fields{
		"base_url": cfg.Source.Polymarket.BaseURL,
		"interval": cfg.Source.Polymarket.PollInterval,
	}).Info("polymarket reader initialized")

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

	if !r.config.Source.Polymarket.Enabled {
		return fmt.Errorf("polymarket source is disabled")
	}

	r.wg.Add(1)
	go r.pollWorker()

	r.log.WithComponent("polymarket_reader").Info("polymarket reader started")
	return nil
}

func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("polymarket_reader").Info("stopping polymarket reader")
	r.wg.Wait()
	r.log.WithComponent("polymarket_reader").Info("polymarket reader stopped")
}

func (r *Reader) pollWorker() {
	defer r.wg.Done()

	log := r.log.WithComponent("polymarket_reader").WithFields(logger.Fields{"worker": "market_poller"})
	interval := r.config.Source.Polymarket.PollInterval

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
			logger.LogPerformanceEntry(log, "polymarket_reader", "poll_cycle", time.Since(start), nil)
			timer.Reset(wait)
		}
	}
}

func (r *Reader) pollOnce() error {
	log := r.log.WithComponent("polymarket_reader")
	topic := r.config.Kafka.Topics.Polymarket
	limit := r.config.Source.Polymarket.PageLimit

	var events []models.RawEvent
	for offset := 0; ; offset += limit {
		page, err := r.fetchPage(offset, limit)
		if err != nil {
			return err
		}

		for _, raw := range page {
			event, err := buildEvent(topic, raw)
			if err != nil {
				log.WithError(err).Warn("skipping malformed market record")
				continue
			}
			events = append(events, event)
			logger.IncrementMarketRead("polymarket", len(event.Payload))
		}

		if len(page) < limit {
			break
		}
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

func (r *Reader) fetchPage(offset, limit int) ([]json.RawMessage, error) {
	url := fmt.Sprintf("%s/markets?active=true&closed=false&limit=%d&offset=%d",
		r.config.Source.Polymarket.BaseURL, limit, offset)

	if err := r.limiter.Wait(r.ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

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

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var page []json.RawMessage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode markets page: %w", err)
	}
	return page, nil
}

// buildEvent extracts the market's natural key, preferring conditionId
// over the numeric Gamma id.
func buildEvent(topic string, raw json.RawMessage) (models.RawEvent, error) {
	var ids struct {
		ConditionID string `json:"conditionId"`
		ID          string `json:"id"`
	}
	if err := json.Unmarshal(raw, &ids); err != nil {
		return models.RawEvent{}, fmt.Errorf("decode market record: %w", err)
	}

	key := ids.ConditionID
	if key == "" {
		key = ids.ID
	}
	if key == "" {
		return models.RawEvent{}, fmt.Errorf("market record missing conditionId and id")
	}

	return models.RawEvent{
		Topic:     topic,
		Key:       key,
		Payload:   raw,
		Platform:  models.PlatformPolymarket,
		FetchedAt: time.Now().UTC(),
	}, nil
}
