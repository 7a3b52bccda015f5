// Package writer owns the durable outputs of ingestion: the Kafka
// event log and the S3 parquet archive.
package writer

import (
	"context"
	"fmt"
	"sync"

	kafka "github.com/segmentio/kafka-go"

	appconfig "edgeflow/config"
	"edgeflow/internal/channel"
	"edgeflow/logger"
	"edgeflow/models"
)

// KafkaWriter publishes raw events to the event log. Writes request
// full-replication acks and block until the broker confirms, so a
// reader's poll cycle cannot run ahead of confirmed durability.
type KafkaWriter struct {
	config   *appconfig.Config
	writer   *kafka.Writer
	channels *channel.Channels
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewKafkaWriter(cfg *appconfig.Config, ch *channel.Channels) (*KafkaWriter, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}

	kw := &KafkaWriter{
		config:   cfg,
		channels: ch,
		writer: &kafka.Writer{
			Addr: kafka.TCP(cfg.Kafka.Brokers...),
			// Hash keeps all events for one entity key on one partition.
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  cfg.Kafka.MaxAttempts,
			WriteTimeout: cfg.Kafka.WriteTimeout,
			BatchTimeout: cfg.Kafka.RetryBackoff,
		},
		log: logger.GetLogger(),
	}

	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers":      cfg.Kafka.Brokers,
		"max_attempts": cfg.Kafka.MaxAttempts,
	}).Debug("kafka writer initialized")
	return kw, nil
}

func (kw *KafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	if kw.running {
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.log.WithComponent("kafka_writer").Debug("kafka writer started")
	return nil
}

// PublishBatch writes every event in one call and returns only after
// all of them are acknowledged or retries are exhausted. Acknowledged
// events are teed to the archive channel best effort.
func (kw *KafkaWriter) PublishBatch(ctx context.Context, events []models.RawEvent) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		msgs = append(msgs, kafka.Message{
			Topic: event.Topic,
			Key:   []byte(event.Key),
			Value: event.Payload,
			Time:  event.FetchedAt,
		})
	}

	if err := kw.writer.WriteMessages(ctx, msgs...); err != nil {
		kw.log.WithComponent("kafka_writer").WithError(err).WithFields(logger.Fields{
			"events": len(events),
		}).Error("failed to publish batch")
		return fmt.Errorf("write messages: %w", err)
	}

	perTopic := make(map[string]int)
	for _, event := range events {
		logger.IncrementPublish(event.Topic, len(event.Payload))
		perTopic[event.Topic]++
		if kw.channels != nil {
			kw.channels.SendArchive(ctx, event)
		}
	}
	for topic, count := range perTopic {
		logger.LogDataFlowEntry(kw.log.WithComponent("kafka_writer"), "reader", topic, count, "raw_event")
	}

	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"events": len(events),
	}).Debug("batch acknowledged")
	return nil
}

func (kw *KafkaWriter) Stop() {
	kw.mu.Lock()
	kw.running = false
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("stopping kafka writer")
	if err := kw.writer.Close(); err != nil {
		kw.log.WithComponent("kafka_writer").WithError(err).Warn("error closing kafka writer")
	}
	kw.log.WithComponent("kafka_writer").Debug("kafka writer stopped")
}
