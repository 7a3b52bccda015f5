package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	marketReads     int64
	articleReads    int64
	eventsPublished int64
	eventsConsumed  int64
	edgesDetected   int64
	alertsSent      int64
	archiveWrites   int64
	warnCounts      sync.Map // map[string]*int64 keyed by component
	errorCounts     sync.Map // map[string]*int64 keyed by component
	channels        sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	v, _ := warnCounts.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordError(component string) {
	v, _ := errorCounts.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func IncrementMarketRead(platform string, size int) {
	atomic.AddInt64(&marketReads, 1)
	recordChannel("read_"+platform, size)
}

func IncrementArticleRead(size int) {
	atomic.AddInt64(&articleReads, 1)
	recordChannel("read_news", size)
}

func IncrementPublish(topic string, size int) {
	atomic.AddInt64(&eventsPublished, 1)
	recordChannel("publish_"+topic, size)
}

func IncrementConsume(topic string, size int) {
	atomic.AddInt64(&eventsConsumed, 1)
	recordChannel("consume_"+topic, size)
}

func IncrementEdgeDetected() {
	atomic.AddInt64(&edgesDetected, 1)
}

func IncrementAlertSent() {
	atomic.AddInt64(&alertsSent, 1)
}

func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
	recordChannel("s3_archive_write", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and pipeline statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func sumCounts(m *sync.Map) int64 {
	var total int64
	m.Range(func(_, v any) bool {
		total += atomic.LoadInt64(v.(*int64))
		return true
	})
	return total
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	warns := sumCounts(&warnCounts)
	errs := sumCounts(&errorCounts)

	fields := Fields{
		"errors":           errs,
		"warns":            warns,
		"market_reads":     atomic.LoadInt64(&marketReads),
		"article_reads":    atomic.LoadInt64(&articleReads),
		"events_published": atomic.LoadInt64(&eventsPublished),
		"events_consumed":  atomic.LoadInt64(&eventsConsumed),
		"edges_detected":   atomic.LoadInt64(&edgesDetected),
		"alerts_sent":      atomic.LoadInt64(&alertsSent),
		"archive_writes":   atomic.LoadInt64(&archiveWrites),
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        int64(memStats.Used) / 1024 / 1024,
		"disk_mb":          int64(diskStats.Used) / 1024 / 1024,
		"channels":         channelData,
		"net_bytes_sent":   int64(bytesSent),
		"net_bytes_recv":   int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Edgeflow-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Edgeflow-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Edgeflow-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Edgeflow-Errors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(errs))},
		cwtypes.MetricDatum{MetricName: aws.String("Edgeflow-Warns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(warns))},
		cwtypes.MetricDatum{MetricName: aws.String("Edgeflow-MarketReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&marketReads)))},
		cwtypes.MetricDatum{MetricName: aws.String("Edgeflow-ArticleReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&articleReads)))},
		cwtypes.MetricDatum{MetricName: aws.String("Edgeflow-EventsPublished"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&eventsPublished)))},
		cwtypes.MetricDatum{MetricName: aws.String("Edgeflow-EventsConsumed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&eventsConsumed)))},
		cwtypes.MetricDatum{MetricName: aws.String("Edgeflow-EdgesDetected"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&edgesDetected)))},
		cwtypes.MetricDatum{MetricName: aws.String("Edgeflow-AlertsSent"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&alertsSent)))},
		cwtypes.MetricDatum{MetricName: aws.String("Edgeflow-ArchiveWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&archiveWrites)))},
		cwtypes.MetricDatum{MetricName: aws.String("Edgeflow-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Edgeflow-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Edgeflow-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Edgeflow-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
