package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "edgeflow/config"
	"edgeflow/internal/rag"
	"edgeflow/logger"
	"edgeflow/models"
)

// ChunkIndex stores embedded chunks.
type ChunkIndex interface {
	Insert(ctx context.Context, chunk *models.ArticleChunk) error
}

// NewsConsumer reads the news topic, chunks each article, embeds the
// chunks in parallel, and stores them in the vector index.
type NewsConsumer struct {
	config   *appconfig.Config
	reader   messageFetcher
	embedder rag.Embedder
	index    ChunkIndex
	fatal    chan error
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewNewsConsumer(cfg *appconfig.Config, embedder rag.Embedder, index ChunkIndex) *NewsConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  cfg.Kafka.Groups.News,
		Topic:    cfg.Kafka.Topics.News,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	c := &NewsConsumer{
		config:   cfg,
		reader:   reader,
		embedder: embedder,
		index:    index,
		fatal:    make(chan error, 1),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}

	c.log.WithComponent("news_consumer").WithFields(logger.Fields{
		"group": cfg.Kafka.Groups.News,
		"topic": cfg.Kafka.Topics.News,
	}).Info("news consumer initialized")
	return c
}

func (c *NewsConsumer) Fatal() <-chan error {
	return c.fatal
}

func (c *NewsConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("news consumer already running")
	}
	c.running = true
	c.ctx = ctx
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()

	c.log.WithComponent("news_consumer").Info("news consumer started")
	return nil
}

func (c *NewsConsumer) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.log.WithComponent("news_consumer").Info("stopping news consumer")
	if err := c.reader.Close(); err != nil {
		c.log.WithComponent("news_consumer").WithError(err).Warn("error closing kafka reader")
	}
	c.wg.Wait()
	c.log.WithComponent("news_consumer").Info("news consumer stopped")
}

func (c *NewsConsumer) run() {
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

func (c *NewsConsumer) processMessage(msg kafka.Message) error {
	log := c.log.WithComponent("news_consumer").WithFields(logger.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})
	logger.IncrementConsume(msg.Topic, len(msg.Value))

	var article models.NewsArticlePayload
	if err := json.Unmarshal(msg.Value, &article); err != nil {
		log.WithError(err).Warn("article payload undecodable, skipping")
		return c.commit(msg)
	}
	if article.URL == "" {
		log.Warn("article missing url, skipping")
		return c.commit(msg)
	}

	content := article.Content
	if content == "" {
		content = article.Description
	}
	if content == "" {
		log.WithFields(logger.Fields{"url": article.URL}).Debug("article has no text, skipping")
		return c.commit(msg)
	}
	// Headlines carry most of the retrieval signal for short articles, so
	// the title rides along in every document's text.
	if article.Title != "" {
		content = article.Title + "\n\n" + content
	}

	chunks := rag.Chunk(content, c.config.RAG.ChunkSize, c.config.RAG.ChunkOverlap)
	stored, failed, err := c.embedAndStore(article, chunks)
	if err != nil {
		// A store failure leaves the document partially indexed; do not
		// commit. Redelivery re-embeds and the idempotent insert skips
		// the chunks that already made it.
		return fmt.Errorf("index article %s: %w", article.URL, err)
	}

	log.WithFields(logger.Fields{
		"url":    article.URL,
		"chunks": len(chunks),
		"stored": stored,
		"failed": failed,
	}).Info("article indexed")
	return c.commit(msg)
}

// embedAndStore runs embedding across a bounded worker pool. Embedding
// failures skip only the affected chunk; store failures are returned.
func (c *NewsConsumer) embedAndStore(article models.NewsArticlePayload, chunks []string) (stored int, failed int, err error) {
	workers := c.config.RAG.EmbedWorkers
	if workers <= 0 {
		workers = 4
	}
	if workers > len(chunks) {
		workers = len(chunks)
	}
	if workers == 0 {
		return 0, 0, nil
	}

	publishedAt := parsePublishedAt(article.PublishedAt)

	type result struct {
		chunk *models.ArticleChunk
		err   error
	}

	jobs := make(chan int)
	results := make(chan result)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				vector, embedErr := c.embedder.Embed(c.ctx, chunks[idx])
				if embedErr != nil {
					results <- result{err: fmt.Errorf("embed chunk %d: %w", idx, embedErr)}
					continue
				}
				results <- result{chunk: &models.ArticleChunk{
					SourceURL:   article.URL,
					ChunkIndex:  idx,
					Content:     chunks[idx],
					Embedding:   vector,
					Title:       article.Title,
					SourceName:  article.Source.Name,
					PublishedAt: publishedAt,
					SearchQuery: article.SearchQuery,
				}}
			}
		}()
	}

	go func() {
		for idx := range chunks {
			jobs <- idx
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	var storeErr error
	for res := range results {
		if res.err != nil {
			failed++
			c.log.WithComponent("news_consumer").WithError(res.err).WithFields(logger.Fields{
				"url": article.URL,
			}).Warn("chunk embedding failed, skipping chunk")
			continue
		}
		if storeErr != nil {
			continue
		}
		if err := c.index.Insert(c.ctx, res.chunk); err != nil {
			storeErr = err
			continue
		}
		stored++
	}
	return stored, failed, storeErr
}

func (c *NewsConsumer) commit(msg kafka.Message) error {
	if err := c.reader.CommitMessages(c.ctx, msg); err != nil {
		return fmt.Errorf("commit offset %d on %s: %w", msg.Offset, msg.Topic, err)
	}
	return nil
}

func parsePublishedAt(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &t
}
