package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"edgeflow/config"
	"edgeflow/consumer"
	"edgeflow/internal/alert"
	"edgeflow/internal/channel"
	"edgeflow/internal/edge"
	"edgeflow/internal/llm"
	"edgeflow/internal/rag"
	"edgeflow/internal/store"
	"edgeflow/logger"
	"edgeflow/reader/kalshi"
	"edgeflow/reader/news"
	"edgeflow/reader/polymarket"
	"edgeflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Edgeflow.Name,
		"version": cfg.Edgeflow.Version,
	}).Info("starting edgeflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
		logger.CreateDefaultDashboard(ctx)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	db, err := store.Open(cfg.Storage.Postgres)
	if err != nil {
		log.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	if err := store.Migrate(db); err != nil {
		log.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}
	st := store.New(db)

	channels := channel.NewChannels(cfg.Channels.ArchiveBuffer)
	defer channels.Close()
	go channels.StartMetricsReporting(ctx)

	kafkaWriter, err := writer.NewKafkaWriter(cfg, channels)
	if err != nil {
		log.WithError(err).Error("failed to create kafka writer")
		os.Exit(1)
	}

	var archiveWriter *writer.ArchiveWriter
	if cfg.Storage.S3.Enabled {
		archiveWriter, err = writer.NewArchiveWriter(cfg, channels)
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 archive disabled; raw events are not archived")
	}

	var kalshiReader *kalshi.Reader
	var polymarketReader *polymarket.Reader
	var newsReader *news.Reader
	if cfg.Source.Kalshi.Enabled {
		kalshiReader = kalshi.NewReader(cfg, kafkaWriter)
	}
	if cfg.Source.Polymarket.Enabled {
		polymarketReader = polymarket.NewReader(cfg, kafkaWriter)
	}
	if cfg.Source.News.Enabled {
		newsReader = news.NewReader(cfg, kafkaWriter)
	}

	model, err := edge.NewModel(cfg.Edge.Model)
	if err != nil {
		log.WithError(err).Error("failed to create probability model")
		os.Exit(1)
	}
	detector := edge.NewDetector(cfg, model, st)

	notifier, err := alert.NewNotifier(cfg)
	if err != nil {
		log.WithError(err).Error("failed to create notifier")
		os.Exit(1)
	}
	dispatcher := alert.NewDispatcher(cfg, st, notifier)

	rescanner := edge.NewRescanner(cfg, detector, dispatcher, st)

	embedder := rag.NewOpenAIEmbedder(cfg.RAG.Embedding)
	index := rag.NewVectorIndex(st)

	// The conversational agent embeds query.Service in its own process,
	// building its retriever over the same chunk store. Construct the
	// provider here so a bad llm config fails at startup rather than on
	// the agent's first question.
	if _, err := llm.NewProvider(cfg.LLM); err != nil {
		log.WithError(err).Error("invalid llm configuration")
		os.Exit(1)
	}

	marketsConsumer := consumer.NewMarketsConsumer(cfg, st, detector, dispatcher)
	newsConsumer := consumer.NewNewsConsumer(cfg, embedder, index)

	var wg sync.WaitGroup

	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.WithError(err).WithFields(logger.Fields{"component": name}).Warn("component failed to start")
			}
		}()
	}

	start("kafka_writer", kafkaWriter.Start)
	if archiveWriter != nil {
		start("archive_writer", archiveWriter.Start)
	}
	if kalshiReader != nil {
		start("kalshi_reader", kalshiReader.Start)
	}
	if polymarketReader != nil {
		start("polymarket_reader", polymarketReader.Start)
	}
	if newsReader != nil {
		start("news_reader", newsReader.Start)
	}
	start("markets_consumer", marketsConsumer.Start)
	start("news_consumer", newsConsumer.Start)
	start("rescanner", rescanner.Start)

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-marketsConsumer.Fatal():
		log.WithError(err).Error("markets consumer hit a fatal error")
		exitCode = 1
	case err := <-newsConsumer.Fatal():
		log.WithError(err).Error("news consumer hit a fatal error")
		exitCode = 1
	}

	log.Info("starting graceful shutdown")
	cancel()

	if kalshiReader != nil {
		log.Info("stopping kalshi reader")
		kalshiReader.Stop()
	}
	if polymarketReader != nil {
		log.Info("stopping polymarket reader")
		polymarketReader.Stop()
	}
	if newsReader != nil {
		log.Info("stopping news reader")
		newsReader.Stop()
	}

	log.Info("stopping rescanner")
	rescanner.Stop()

	log.Info("stopping consumers")
	marketsConsumer.Stop()
	newsConsumer.Stop()

	log.Info("stopping kafka writer")
	kafkaWriter.Stop()

	if archiveWriter != nil {
		log.Info("stopping archive writer")
		archiveWriter.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("shutdown complete")
	case <-time.After(30 * time.Second):
		log.Warn("shutdown timed out; exiting")
	}

	os.Exit(exitCode)
}
