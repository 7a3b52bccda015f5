package channel

import (
	"context"
	"sync"
	"time"

	"edgeflow/logger"
	"edgeflow/models"
)

type ChannelStats struct {
	ArchiveSent    int64
	ArchiveDropped int64
}

// Channels carries raw events from the publishers to the archive writer.
// The Kafka path is synchronous; only the S3 archive tee is buffered here.
type Channels struct {
	Archive chan models.RawEvent

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(archiveBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Archive: make(chan models.RawEvent, archiveBufferSize),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"archive_buffer_size": archiveBufferSize,
	}).Info("channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Archive)
	c.log.WithComponent("channels").Info("channels closed")
}

// SendArchive offers an event to the archive channel without blocking the
// publish path. Dropped events are counted; archival is best effort.
func (c *Channels) SendArchive(ctx context.Context, event models.RawEvent) bool {
	select {
	case c.Archive <- event:
		c.statsMutex.Lock()
		c.stats.ArchiveSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.ArchiveDropped++
		c.statsMutex.Unlock()
		c.log.WithComponent("channels").WithFields(logger.Fields{
			"topic": event.Topic,
		}).Warn("archive channel full, event dropped")
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting periodically logs channel utilization.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := c.GetStats()
				c.log.WithComponent("channels").WithFields(logger.Fields{
					"archive_sent":    stats.ArchiveSent,
					"archive_dropped": stats.ArchiveDropped,
					"archive_backlog": len(c.Archive),
					"archive_cap":     cap(c.Archive),
				}).Info("channel metrics")
			}
		}
	}()
}
