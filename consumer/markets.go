// Package consumer reads the event log and drives the persistence side
// of the pipeline. Offsets commit only after the message's side effect
// is durable, so processing is at-least-once and everything downstream
// is idempotent.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "edgeflow/config"
	"edgeflow/logger"
	"edgeflow/models"
	"edgeflow/processor"
)

// storeAttempts bounds retries of a failing database write before the
// consumer gives up and asks to be restarted.
const storeAttempts = 3

// messageFetcher is the part of kafka.Reader the consumers use.
type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MarketStore persists normalized markets.
type MarketStore interface {
	UpsertMarket(ctx context.Context, nm *models.NormalizedMarket) (*models.Market, error)
}

// Detector runs edge detection after a successful upsert.
type Detector interface {
	Evaluate(ctx context.Context, market *models.Market) (*models.Edge, error)
}

// Dispatcher fans a detected edge out to users.
type Dispatcher interface {
	Dispatch(ctx context.Context, edge *models.Edge, market *models.Market) error
}

// MarketsConsumer consumes both market topics under one group id,
// normalizes each payload, upserts it, and triggers edge detection.
type MarketsConsumer struct {
	config     *appconfig.Config
	reader     messageFetcher
	store      MarketStore
	detector   Detector
	dispatcher Dispatcher
	fatal      chan error
	ctx        context.Context
	wg         *sync.WaitGroup
	mu         sync.RWMutex
	running    bool
	log        *logger.Log
}

func NewMarketsConsumer(cfg *appconfig.Config, store MarketStore, detector Detector, dispatcher Dispatcher) *MarketsConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.Groups.Markets,
		GroupTopics: []string{
			cfg.Kafka.Topics.Kalshi,
			cfg.Kafka.Topics.Polymarket,
		},
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	c := &MarketsConsumer{
		config:     cfg,
		reader:     reader,
		store:      store,
		detector:   detector,
		dispatcher: dispatcher,
		fatal:      make(chan error, 1),
		wg:         &sync.WaitGroup{},
		log:        logger.GetLogger(),
	}

	c.log.WithComponent("markets_consumer").WithFields(logger.Fields{
		"group":  cfg.Kafka.Groups.Markets,
		"topics": []string{cfg.Kafka.Topics.Kalshi, cfg.Kafka.Topics.Polymarket},
	}).Info("markets consumer initialized")
	return c
}

// Fatal reports unrecoverable consumer errors. The supervisor is
// expected to shut down and restart the process.
func (c *MarketsConsumer) Fatal() <-chan error {
	return c.fatal
}

func (c *MarketsConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("markets consumer already running")
	}
	c.running = true
	c.ctx = ctx
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()

	c.log.WithComponent("markets_consumer").Info("markets consumer started")
	return nil
}

func (c *MarketsConsumer) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.log.WithComponent("markets_consumer").Info("stopping markets consumer")
	if err := c.reader.Close(); err != nil {
		c.log.WithComponent("markets_consumer").WithError(err).Warn("error closing kafka reader")
	}
	c.wg.Wait()
	c.log.WithComponent("markets_consumer").Info("markets consumer stopped")
}

func (c *MarketsConsumer) run() {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			select {
			case c.fatal <- fmt.Errorf("fetch message: %w", err):
			default:
			}
			return
		}

		if err := c.processMessage(msg); err != nil {
			select {
			case c.fatal <- err:
			default:
			}
			return
		}
	}
}

// processMessage handles exactly one message end to end. A returned
// error is fatal for the consumer; everything recoverable is handled
// inside.
func (c *MarketsConsumer) processMessage(msg kafka.Message) error {
	log := c.log.WithComponent("markets_consumer").WithFields(logger.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})
	logger.IncrementConsume(msg.Topic, len(msg.Value))

	platform, ok := c.platformFor(msg.Topic)
	if !ok {
		log.Warn("message from unexpected topic, skipping")
		return c.commit(msg)
	}

	normalized, err := processor.Normalize(platform, msg.Value)
	if err != nil {
		var rej *processor.Rejection
		if errors.As(err, &rej) {
			// Malformed payloads never become parseable; skip past them.
			log.WithFields(logger.Fields{"reason": rej.Reason}).Warn("payload rejected")
			return c.commit(msg)
		}
		log.WithError(err).Warn("normalize failed, skipping")
		return c.commit(msg)
	}

	market, err := c.upsertWithRetry(normalized)
	if err != nil {
		// The write never became durable; do not commit, restart and
		// reprocess.
		return fmt.Errorf("upsert market %s: %w", normalized.ExternalID, err)
	}

	c.detect(market, log)

	return c.commit(msg)
}

func (c *MarketsConsumer) upsertWithRetry(nm *models.NormalizedMarket) (*models.Market, error) {
	var lastErr error
	for attempt := 1; attempt <= storeAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-c.ctx.Done():
				return nil, c.ctx.Err()
			case <-time.After(time.Duration(attempt-1) * time.Second):
			}
		}
		market, err := c.store.UpsertMarket(c.ctx, nm)
		if err == nil {
			return market, nil
		}
		lastErr = err
		c.log.WithComponent("markets_consumer").WithError(err).WithFields(logger.Fields{
			"market":  nm.ExternalID,
			"attempt": attempt,
		}).Warn("upsert failed")
	}
	return nil, lastErr
}

// detect runs edge detection and alert fan-out. Failures here never
// block the consumer: the market row is already durable, a failed
// evaluation reruns on the next rescan, and an edge whose dispatch
// failed stays alert_sent=false until the rescanner's unsent sweep
// re-dispatches it.
func (c *MarketsConsumer) detect(market *models.Market, log *logger.Entry) {
	if c.detector == nil {
		return
	}
	edge, err := c.detector.Evaluate(c.ctx, market)
	if err != nil {
		log.WithError(err).Warn("edge detection failed")
		return
	}
	if edge == nil || c.dispatcher == nil {
		return
	}
	if err := c.dispatcher.Dispatch(c.ctx, edge, market); err != nil {
		log.WithError(err).Warn("alert dispatch failed")
	}
}

// commit advances the group offset. Failing to commit is
// transport-fatal: continuing would silently re-deliver or skip.
func (c *MarketsConsumer) commit(msg kafka.Message) error {
	if err := c.reader.CommitMessages(c.ctx, msg); err != nil {
		return fmt.Errorf("commit offset %d on %s: %w", msg.Offset, msg.Topic, err)
	}
	return nil
}

func (c *MarketsConsumer) platformFor(topic string) (models.MarketPlatform, bool) {
	switch topic {
	case c.config.Kafka.Topics.Kalshi:
		return models.PlatformKalshi, true
	case c.config.Kafka.Topics.Polymarket:
		return models.PlatformPolymarket, true
	default:
		return "", false
	}
}
