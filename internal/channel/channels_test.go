package channel

import (
	"context"
	"testing"
	"time"

	"edgeflow/models"
)

func TestSendArchive(t *testing.T) {
	c := NewChannels(1)
	ctx := context.Background()

	if ok := c.SendArchive(ctx, models.RawEvent{Topic: "kalshi.markets"}); !ok {
		t.Fatalf("expected send to succeed with free buffer")
	}
	if ok := c.SendArchive(ctx, models.RawEvent{Topic: "kalshi.markets"}); ok {
		t.Fatalf("expected send to drop when buffer full")
	}

	stats := c.GetStats()
	if stats.ArchiveSent != 1 || stats.ArchiveDropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMetricsReporting(t *testing.T) {
	c := NewChannels(1)
	ctx, cancel := context.WithCancel(context.Background())
	c.StartMetricsReporting(ctx)
	time.Sleep(10 * time.Millisecond)
	cancel()
	c.Close()
}
