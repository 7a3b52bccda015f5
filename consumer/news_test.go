package consumer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	kafka "github.com/segmentio/kafka-go"

	appconfig "edgeflow/config"
	"edgeflow/logger"
	"edgeflow/models"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	failOn  string
	embedded int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (models.Vector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && strings.HasPrefix(text, f.failOn) {
		return nil, fmt.Errorf("provider unavailable")
	}
	f.embedded++
	return models.Vector{1, 0}, nil
}

type fakeIndex struct {
	mu      sync.Mutex
	chunks  []*models.ArticleChunk
	failAll bool
}

func (f *fakeIndex) Insert(_ context.Context, chunk *models.ArticleChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("db down")
	}
	f.chunks = append(f.chunks, chunk)
	return nil
}

func newsConsumerWith(fetcher messageFetcher, embedder *fakeEmbedder, index *fakeIndex) *NewsConsumer {
	cfg := &appconfig.Config{}
	cfg.Kafka.Topics.News = "news.feed"
	cfg.RAG.ChunkSize = 10
	cfg.RAG.ChunkOverlap = 2
	cfg.RAG.EmbedWorkers = 3
	return &NewsConsumer{
		config:   cfg,
		reader:   fetcher,
		embedder: embedder,
		index:    index,
		fatal:    make(chan error, 1),
		ctx:      context.Background(),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func newsMessage(payload string) kafka.Message {
	return kafka.Message{Topic: "news.feed", Key: []byte("https://example.com/a"), Value: []byte(payload)}
}

func TestNewsProcessMessageChunksAndStores(t *testing.T) {
	fetcher := &fakeFetcher{}
	embedder := &fakeEmbedder{}
	index := &fakeIndex{}
	c := newsConsumerWith(fetcher, embedder, index)

	payload := `{"url":"https://example.com/a","title":"T","content":"abcdefghijklmnopqrst","publishedAt":"2026-08-01T00:00:00Z","source":{"name":"Example"},"_search_query":"fed rates"}`
	if err := c.processMessage(newsMessage(payload)); err != nil {
		t.Fatalf("processMessage: %v", err)
	}

	// Title plus body is 23 chars, size 10, overlap 2 -> chunks at 0, 8, 16.
	if len(index.chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(index.chunks))
	}
	seen := map[int]bool{}
	for _, chunk := range index.chunks {
		seen[chunk.ChunkIndex] = true
		if chunk.ChunkIndex == 0 && !strings.HasPrefix(chunk.Content, "T\n\n") {
			t.Fatalf("expected title-prefixed first chunk, got %q", chunk.Content)
		}
		if chunk.SourceURL != "https://example.com/a" {
			t.Fatalf("chunk url: %q", chunk.SourceURL)
		}
		if chunk.SearchQuery != "fed rates" {
			t.Fatalf("chunk search query: %q", chunk.SearchQuery)
		}
		if chunk.PublishedAt == nil {
			t.Fatalf("expected published time")
		}
	}
	for i := 0; i < 3; i++ {
		if !seen[i] {
			t.Fatalf("missing chunk index %d: %v", i, seen)
		}
	}
	if len(fetcher.committed) != 1 {
		t.Fatalf("expected commit after indexing")
	}
}

func TestNewsProcessMessageFallsBackToDescription(t *testing.T) {
	fetcher := &fakeFetcher{}
	index := &fakeIndex{}
	c := newsConsumerWith(fetcher, &fakeEmbedder{}, index)

	payload := `{"url":"https://example.com/a","description":"short desc"}`
	if err := c.processMessage(newsMessage(payload)); err != nil {
		t.Fatalf("processMessage: %v", err)
	}
	if len(index.chunks) != 1 || index.chunks[0].Content != "short desc" {
		t.Fatalf("unexpected chunks: %+v", index.chunks)
	}
}

func TestNewsProcessMessageEmbedFailureSkipsChunkOnly(t *testing.T) {
	fetcher := &fakeFetcher{}
	// Chunks are "abcdefghij", "ijklmnopqr", "qrst"; fail the middle one.
	embedder := &fakeEmbedder{failOn: "ijk"}
	index := &fakeIndex{}
	c := newsConsumerWith(fetcher, embedder, index)

	payload := `{"url":"https://example.com/a","content":"abcdefghijklmnopqrst"}`
	if err := c.processMessage(newsMessage(payload)); err != nil {
		t.Fatalf("processMessage: %v", err)
	}
	if len(index.chunks) != 2 {
		t.Fatalf("expected sibling chunks stored, got %d", len(index.chunks))
	}
	if len(fetcher.committed) != 1 {
		t.Fatalf("embed failures must not block the partition")
	}
}

func TestNewsProcessMessageStoreFailureIsFatalAndUncommitted(t *testing.T) {
	fetcher := &fakeFetcher{}
	index := &fakeIndex{failAll: true}
	c := newsConsumerWith(fetcher, &fakeEmbedder{}, index)

	payload := `{"url":"https://example.com/a","content":"abcdefghijklmnopqrst"}`
	if err := c.processMessage(newsMessage(payload)); err == nil {
		t.Fatalf("expected fatal error on store failure")
	}
	if len(fetcher.committed) != 0 {
		t.Fatalf("offset must not advance past an unindexed article")
	}
}

func TestNewsProcessMessageSkipsUndecodableAndEmpty(t *testing.T) {
	fetcher := &fakeFetcher{}
	index := &fakeIndex{}
	c := newsConsumerWith(fetcher, &fakeEmbedder{}, index)

	if err := c.processMessage(newsMessage(`not json`)); err != nil {
		t.Fatalf("undecodable: %v", err)
	}
	if err := c.processMessage(newsMessage(`{"title":"no url","content":"x"}`)); err != nil {
		t.Fatalf("missing url: %v", err)
	}
	if err := c.processMessage(newsMessage(`{"url":"https://example.com/a"}`)); err != nil {
		t.Fatalf("empty content: %v", err)
	}
	if len(index.chunks) != 0 {
		t.Fatalf("nothing should be indexed: %+v", index.chunks)
	}
	if len(fetcher.committed) != 3 {
		t.Fatalf("all skips must commit, got %d", len(fetcher.committed))
	}
}
