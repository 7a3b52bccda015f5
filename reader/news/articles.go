// Package news polls a news-search API for a configured list of queries
// and publishes each article to the event log, keyed by article URL. The
// originating query is injected into the payload so the downstream index
// can record it as metadata.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
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

type searchResponse struct {
	Status   string            `json:"status"`
	Articles []json.RawMessage `json:"articles"`
}

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

	log.WithComponent("news_reader").WithFields(logger.Fields{
		"base_url": cfg.Source.News.BaseURL,
		"interval": cfg.Source.News.PollInterval,
		"queries":  len(cfg.Source.News.Queries),
	}).Info("news reader initialized")

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

	if !r.config.Source.News.Enabled {
		return fmt.Errorf("news source is disabled")
	}
	if r.config.Source.News.APIKey == "" {
		return fmt.Errorf("news source requires an api key")
	}

	r.wg.Add(1)
	go r.pollWorker()

	r.log.WithComponent("news_reader").Info("news reader started")
	return nil
}

func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("news_reader").Info("stopping news reader")
	r.wg.Wait()
	r.log.WithComponent("news_reader").Info("news reader stopped")
}

func (r *Reader) pollWorker() {
	defer r.wg.Done()

	log := r.log.WithComponent("news_reader").WithFields(logger.Fields{"worker": "article_poller"})
	interval := r.config.Source.News.PollInterval

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
			logger.LogPerformanceEntry(log, "news_reader", "poll_cycle", time.Since(start), nil)
			timer.Reset(wait)
		}
	}
}

// pollOnce runs every configured query in order, pausing between them to
// stay under the provider's burst limits. A failed query does not abort
// the remaining ones; a 429 aborts the cycle so the backoff applies.
func (r *Reader) pollOnce() error {
	log := r.log.WithComponent("news_reader")
	topic := r.config.Kafka.Topics.News

	var events []models.RawEvent
	for i, query := range r.config.Source.News.Queries {
		if i > 0 && r.config.Source.News.QueryPause > 0 {
			select {
			case <-r.ctx.Done():
				return r.ctx.Err()
			case <-time.After(r.config.Source.News.QueryPause):
			}
		}

		articles, err := r.search(query)
		if err != nil {
			if _, ok := err.(errRateLimited); ok {
				return err
			}
			log.WithError(err).WithFields(logger.Fields{"query": query}).Warn("query failed")
			continue
		}

		for _, raw := range articles {
			event, err := buildEvent(topic, query, raw)
			if err != nil {
				log.WithError(err).Warn("skipping malformed article")
				continue
			}
			events = append(events, event)
			logger.IncrementArticleRead(len(event.Payload))
		}
	}

	if len(events) == 0 {
		return nil
	}
	if err := r.publisher.PublishBatch(r.ctx, events); err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}

	log.WithFields(logger.Fields{"articles": len(events)}).Info("poll cycle published")
	return nil
}

func (r *Reader) search(query string) ([]json.RawMessage, error) {
	if err := r.limiter.Wait(r.ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/everything?q=%s&sortBy=publishedAt&pageSize=%d",
		r.config.Source.News.BaseURL, url.QueryEscape(query), r.config.Source.News.PageSize)

	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", r.config.Source.News.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited{}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if sr.Status != "ok" {
		return nil, fmt.Errorf("search status %q", sr.Status)
	}
	return sr.Articles, nil
}

// buildEvent keys the article by URL and injects the originating query.
// Articles without a URL cannot be deduplicated downstream and are
// dropped.
func buildEvent(topic, query string, raw json.RawMessage) (models.RawEvent, error) {
	var article map[string]interface{}
	if err := json.Unmarshal(raw, &article); err != nil {
		return models.RawEvent{}, fmt.Errorf("decode article: %w", err)
	}

	articleURL, _ := article["url"].(string)
	if articleURL == "" {
		return models.RawEvent{}, fmt.Errorf("article missing url")
	}

	article["_search_query"] = query
	payload, err := json.Marshal(article)
	if err != nil {
		return models.RawEvent{}, fmt.Errorf("marshal article: %w", err)
	}

	return models.RawEvent{
		Topic:     topic,
		Key:       articleURL,
		Payload:   payload,
		FetchedAt: time.Now().UTC(),
	}, nil
}
