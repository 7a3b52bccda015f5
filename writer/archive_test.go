package writer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "edgeflow/config"
	"edgeflow/logger"
	"edgeflow/models"
)

func testArchiveWriter(maxBuffer int) *ArchiveWriter {
	cfg := &appconfig.Config{}
	cfg.Writer.Compression = "snappy"
	return &ArchiveWriter{
		cfg:       cfg,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		buffer:    make(map[string][]models.RawEvent),
		maxBuffer: maxBuffer,
		jobCh:     make(chan archiveBatch, 8),
		ctx:       context.Background(),
	}
}

func TestCreateParquet(t *testing.T) {
	w := testArchiveWriter(4)
	batch := archiveBatch{
		Topic: "kalshi.markets",
		Entries: []models.RawEvent{
			{Topic: "kalshi.markets", Key: "T1", Payload: []byte(`{"ticker":"T1"}`), Platform: models.PlatformKalshi, FetchedAt: time.Now()},
			{Topic: "kalshi.markets", Key: "T2", Payload: []byte(`{"ticker":"T2"}`), Platform: models.PlatformKalshi, FetchedAt: time.Now()},
		},
		Timestamp:   time.Now(),
		RecordCount: 2,
	}

	data, err := w.createParquet(batch)
	if err != nil {
		t.Fatalf("createParquet: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty parquet output")
	}
	// Parquet files end with the magic bytes PAR1.
	if string(data[len(data)-4:]) != "PAR1" {
		t.Fatalf("output does not look like a parquet file")
	}
}

func TestGenerateS3KeyPartitions(t *testing.T) {
	w := testArchiveWriter(4)
	batch := archiveBatch{
		Topic:     "news.feed",
		Timestamp: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
	}
	key := w.generateS3Key(batch)
	if !strings.HasPrefix(key, "raw/topic=news.feed/date=2026-08-29/") {
		t.Fatalf("unexpected key: %q", key)
	}
	if !strings.HasSuffix(key, ".parquet") {
		t.Fatalf("expected parquet suffix: %q", key)
	}
}

func TestAddEventFlushesAtMaxBuffer(t *testing.T) {
	w := testArchiveWriter(2)

	w.addEvent(models.RawEvent{Topic: "kalshi.markets", Key: "T1", FetchedAt: time.Now()})
	select {
	case batch := <-w.jobCh:
		t.Fatalf("unexpected early flush: %+v", batch)
	default:
	}

	w.addEvent(models.RawEvent{Topic: "kalshi.markets", Key: "T2", FetchedAt: time.Now()})
	select {
	case batch := <-w.jobCh:
		if batch.RecordCount != 2 || batch.Reason != "max_buffer" {
			t.Fatalf("unexpected batch: %+v", batch)
		}
	default:
		t.Fatalf("expected flush at max buffer")
	}
}

func TestDrainBuffersDeliversAfterCancel(t *testing.T) {
	w := testArchiveWriter(10)
	ctx, cancel := context.WithCancel(context.Background())
	w.ctx = ctx
	cancel()

	w.addEvent(models.RawEvent{Topic: "kalshi.markets", Key: "T1", FetchedAt: time.Now()})
	w.drainBuffers()

	select {
	case batch := <-w.jobCh:
		if batch.Topic != "kalshi.markets" || batch.RecordCount != 1 || batch.Reason != "shutdown" {
			t.Fatalf("unexpected batch: %+v", batch)
		}
	default:
		t.Fatalf("expected shutdown batch despite cancelled context")
	}
}

func TestFlushBuffersDrainsAllTopics(t *testing.T) {
	w := testArchiveWriter(10)
	w.addEvent(models.RawEvent{Topic: "kalshi.markets", Key: "T1", FetchedAt: time.Now()})
	w.addEvent(models.RawEvent{Topic: "news.feed", Key: "https://example.com", FetchedAt: time.Now()})

	w.flushBuffers("interval")

	topics := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case batch := <-w.jobCh:
			topics[batch.Topic] = true
		default:
			t.Fatalf("expected two batches, got %d", i)
		}
	}
	if !topics["kalshi.markets"] || !topics["news.feed"] {
		t.Fatalf("unexpected topics: %v", topics)
	}
}
