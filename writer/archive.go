package writer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "edgeflow/config"
	"edgeflow/internal/channel"
	"edgeflow/logger"
	"edgeflow/models"
)

type archiveParquetRecord struct {
	Topic     string `parquet:"name=topic, type=BYTE_ARRAY, convertedtype=UTF8"`
	Key       string `parquet:"name=key, type=BYTE_ARRAY, convertedtype=UTF8"`
	Platform  string `parquet:"name=platform, type=BYTE_ARRAY, convertedtype=UTF8"`
	Payload   string `parquet:"name=payload, type=BYTE_ARRAY, convertedtype=UTF8"`
	FetchedAt int64  `parquet:"name=fetched_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type archiveBatch struct {
	Topic       string
	Entries     []models.RawEvent
	Timestamp   time.Time
	Reason      string
	RecordCount int
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// ArchiveWriter drains the archive channel and uploads raw events to S3
// as parquet files partitioned by topic and date. Archival is best
// effort and independent of the Kafka publish path.
type ArchiveWriter struct {
	cfg      *appconfig.Config
	channels *channel.Channels
	s3Client *s3.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup

	log *logger.Log

	mu          sync.Mutex
	buffer      map[string][]models.RawEvent
	flushTicker *time.Ticker
	maxBuffer   int
	jobCh       chan archiveBatch
	running     bool
}

func NewArchiveWriter(cfg *appconfig.Config, ch *channel.Channels) (*ArchiveWriter, error) {
	if !cfg.Storage.S3.Enabled {
		return nil, fmt.Errorf("s3 storage disabled")
	}
	if ch == nil {
		return nil, fmt.Errorf("nil channels provided")
	}

	ctx := context.Background()
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	maxBuffer := cfg.Writer.BufferMaxSize
	if maxBuffer <= 0 {
		maxBuffer = 512
	}

	jobCapacity := maxBuffer * 2
	if jobCapacity < 128 {
		jobCapacity = 128
	}

	return &ArchiveWriter{
		cfg:       cfg,
		channels:  ch,
		s3Client:  s3Client,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		buffer:    make(map[string][]models.RawEvent),
		maxBuffer: maxBuffer,
		jobCh:     make(chan archiveBatch, jobCapacity),
	}, nil
}

func (w *ArchiveWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("archive writer already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.buffer = make(map[string][]models.RawEvent)
	w.flushTicker = time.NewTicker(w.cfg.Writer.FlushInterval)
	w.mu.Unlock()

	w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"flush_interval": w.cfg.Writer.FlushInterval,
		"max_buffer":     w.maxBuffer,
	}).Info("starting archive writer")

	w.wg.Add(1)
	go w.ingest()

	w.wg.Add(1)
	go w.flushLoop()

	workers := w.cfg.Writer.MaxWorkers
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.uploadWorker()
	}
	return nil
}

func (w *ArchiveWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	ticker := w.flushTicker
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ticker != nil {
		ticker.Stop()
	}

	w.drainBuffers()
	close(w.jobCh)
	w.wg.Wait()
	w.log.WithComponent("archive_writer").Info("archive writer stopped")
}

func (w *ArchiveWriter) ingest() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.channels.Archive:
			if !ok {
				w.flushBuffers("channel_closed")
				return
			}
			if event.FetchedAt.IsZero() {
				event.FetchedAt = time.Now().UTC()
			}
			w.addEvent(event)
		}
	}
}

func (w *ArchiveWriter) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flushBuffers("interval")
		}
	}
}

func (w *ArchiveWriter) uploadWorker() {
	defer w.wg.Done()
	for batch := range w.jobCh {
		w.processBatch(batch)
	}
}

func (w *ArchiveWriter) addEvent(event models.RawEvent) {
	var flushEntries []models.RawEvent
	w.mu.Lock()
	w.buffer[event.Topic] = append(w.buffer[event.Topic], event)
	if len(w.buffer[event.Topic]) >= w.maxBuffer {
		flushEntries = w.buffer[event.Topic]
		delete(w.buffer, event.Topic)
	}
	w.mu.Unlock()

	if len(flushEntries) > 0 {
		w.enqueueBatch(event.Topic, flushEntries, "max_buffer")
	}
}

func (w *ArchiveWriter) flushBuffers(reason string) {
	w.mu.Lock()
	buffers := w.buffer
	w.buffer = make(map[string][]models.RawEvent)
	w.mu.Unlock()

	for topic, entries := range buffers {
		if len(entries) == 0 {
			continue
		}
		w.enqueueBatch(topic, entries, reason)
	}
}

// drainBuffers hands every remaining buffer to the upload workers without
// consulting the context. Stop cancels the context before draining, so the
// enqueueBatch select would race the cancellation and could drop the final
// batches. The unconditional send is safe here: the workers keep consuming
// jobCh until Stop closes it after this returns.
func (w *ArchiveWriter) drainBuffers() {
	w.mu.Lock()
	buffers := w.buffer
	w.buffer = make(map[string][]models.RawEvent)
	w.mu.Unlock()

	for topic, entries := range buffers {
		if len(entries) == 0 {
			continue
		}
		w.jobCh <- newBatch(topic, entries, "shutdown")
	}
}

func newBatch(topic string, entries []models.RawEvent, reason string) archiveBatch {
	ts := time.Now().UTC()
	if len(entries) > 0 && !entries[len(entries)-1].FetchedAt.IsZero() {
		ts = entries[len(entries)-1].FetchedAt
	}
	return archiveBatch{
		Topic:       topic,
		Entries:     entries,
		Timestamp:   ts,
		Reason:      reason,
		RecordCount: len(entries),
	}
}

func (w *ArchiveWriter) enqueueBatch(topic string, entries []models.RawEvent, reason string) {
	select {
	case w.jobCh <- newBatch(topic, entries, reason):
	case <-w.ctx.Done():
	}
}

func (w *ArchiveWriter) processBatch(batch archiveBatch) {
	entryLog := w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"topic":        batch.Topic,
		"record_count": batch.RecordCount,
		"reason":       batch.Reason,
	})

	if batch.RecordCount == 0 {
		return
	}

	key := w.generateS3Key(batch)
	data, err := w.createParquet(batch)
	if err != nil {
		entryLog.WithError(err).Error("failed to create archive parquet")
		return
	}

	if err := w.uploadToS3(key, data); err != nil {
		entryLog.WithError(err).WithFields(logger.Fields{"key": key}).Error("failed to upload archive parquet")
		return
	}

	logger.IncrementArchiveWrite(int64(len(data)))
	logger.LogDataFlowEntry(w.log.WithComponent("archive_writer"), batch.Topic, w.cfg.Storage.S3.Bucket, batch.RecordCount, "parquet")
	entryLog.WithFields(logger.Fields{
		"s3_key":    key,
		"file_size": len(data),
	}).Info("archive batch uploaded")
}

func (w *ArchiveWriter) generateS3Key(batch archiveBatch) string {
	return fmt.Sprintf("raw/topic=%s/date=%s/%s.parquet",
		batch.Topic,
		batch.Timestamp.UTC().Format("2006-01-02"),
		uuid.NewString(),
	)
}

func (w *ArchiveWriter) createParquet(batch archiveBatch) ([]byte, error) {
	mem := newMemFile()
	pw, err := parquetwriter.NewParquetWriter(mem, new(archiveParquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}

	switch strings.ToLower(w.cfg.Writer.Compression) {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, entry := range batch.Entries {
		record := archiveParquetRecord{
			Topic:     entry.Topic,
			Key:       entry.Key,
			Platform:  string(entry.Platform),
			Payload:   string(entry.Payload),
			FetchedAt: entry.FetchedAt.UnixMilli(),
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write archive record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finish parquet file: %w", err)
	}
	return mem.Bytes(), nil
}

func (w *ArchiveWriter) uploadToS3(key string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := w.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.cfg.Storage.S3.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}
