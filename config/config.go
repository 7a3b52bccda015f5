package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Edgeflow EdgeflowConfig `yaml:"edgeflow"`
	Channels ChannelsConfig `yaml:"channels"`
	Reader   ReaderConfig   `yaml:"reader"`
	Source   SourceConfig   `yaml:"source"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Storage  StorageConfig  `yaml:"storage"`
	Writer   WriterConfig   `yaml:"writer"`
	Edge     EdgeConfig     `yaml:"edge"`
	Alert    AlertConfig    `yaml:"alert"`
	RAG      RAGConfig      `yaml:"rag"`
	LLM      LLMConfig      `yaml:"llm"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type EdgeflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	ArchiveBuffer int `yaml:"archive_buffer"`
}

type ReaderConfig struct {
	Timeout    time.Duration   `yaml:"timeout"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Backoff429 time.Duration   `yaml:"backoff_429"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type SourceConfig struct {
	Kalshi     KalshiSourceConfig     `yaml:"kalshi"`
	Polymarket PolymarketSourceConfig `yaml:"polymarket"`
	News       NewsSourceConfig       `yaml:"news"`
}

type KalshiSourceConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PageLimit    int           `yaml:"page_limit"`
	SeriesCache  CacheConfig   `yaml:"series_cache"`
}

type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

type PolymarketSourceConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PageLimit    int           `yaml:"page_limit"`
}

type NewsSourceConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PageSize     int           `yaml:"page_size"`
	Queries      []string      `yaml:"queries"`
	QueryPause   time.Duration `yaml:"query_pause"`
}

type KafkaConfig struct {
	Brokers      []string          `yaml:"brokers"`
	Topics       KafkaTopicsConfig `yaml:"topics"`
	Groups       KafkaGroupsConfig `yaml:"groups"`
	MaxAttempts  int               `yaml:"max_attempts"`
	WriteTimeout time.Duration     `yaml:"write_timeout"`
	RetryBackoff time.Duration     `yaml:"retry_backoff"`
}

type KafkaTopicsConfig struct {
	Kalshi     string `yaml:"kalshi"`
	Polymarket string `yaml:"polymarket"`
	News       string `yaml:"news"`
}

type KafkaGroupsConfig struct {
	Markets string `yaml:"markets"`
	News    string `yaml:"news"`
}

type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	S3       S3Config       `yaml:"s3"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type WriterConfig struct {
	MaxWorkers    int           `yaml:"max_workers"`
	BufferMaxSize int           `yaml:"buffer_max_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compression   string        `yaml:"compression"`
}

type EdgeConfig struct {
	Floor          float64         `yaml:"floor"`
	RescanSchedule string          `yaml:"rescan_schedule"`
	RescanLimit    int             `yaml:"rescan_limit"`
	Model          EdgeModelConfig `yaml:"model"`
}

type EdgeModelConfig struct {
	Kind    string             `yaml:"kind"` // "http" or "static"
	URL     string             `yaml:"url"`
	Timeout time.Duration      `yaml:"timeout"`
	Static  map[string]float64 `yaml:"static"`
}

type AlertConfig struct {
	MaxAttempts  int            `yaml:"max_attempts"`
	RetryBackoff time.Duration  `yaml:"retry_backoff"`
	Notifier     string         `yaml:"notifier"` // "log" or "telegram"
	Telegram     TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	BotToken      string `yaml:"bot_token"`
	DefaultChatID string `yaml:"default_chat_id"`
}

type RAGConfig struct {
	ChunkSize    int             `yaml:"chunk_size"`
	ChunkOverlap int             `yaml:"chunk_overlap"`
	EmbedWorkers int             `yaml:"embed_workers"`
	Embedding    EmbeddingConfig `yaml:"embedding"`
}

type EmbeddingConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

type LLMConfig struct {
	Provider  string `yaml:"provider"` // "anthropic" or "openai"
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

func defaults() Config {
	return Config{
		Edgeflow: EdgeflowConfig{Name: "edgeflow", Version: "dev"},
		Channels: ChannelsConfig{ArchiveBuffer: 1024},
		Reader: ReaderConfig{
			Timeout:    15 * time.Second,
			RateLimit:  RateLimitConfig{RequestsPerSecond: 5, BurstSize: 5},
			Backoff429: 30 * time.Second,
		},
		Source: SourceConfig{
			Kalshi: KalshiSourceConfig{
				Enabled:      true,
				BaseURL:      "https://api.elections.kalshi.com/trade-api/v2",
				PollInterval: 60 * time.Second,
				PageLimit:    200,
				SeriesCache:  CacheConfig{MaxEntries: 2048, TTL: time.Hour},
			},
			Polymarket: PolymarketSourceConfig{
				Enabled:      true,
				BaseURL:      "https://gamma-api.polymarket.com",
				PollInterval: 60 * time.Second,
				PageLimit:    200,
			},
			News: NewsSourceConfig{
				Enabled:      true,
				BaseURL:      "https://newsapi.org/v2",
				PollInterval: 300 * time.Second,
				PageSize:     20,
				Queries: []string{
					"Federal Reserve interest rates",
					"US election",
					"cryptocurrency bitcoin",
					"sports championship",
					"geopolitics conflict",
				},
				QueryPause: time.Second,
			},
		},
		Kafka: KafkaConfig{
			Topics: KafkaTopicsConfig{
				Kalshi:     "kalshi.markets",
				Polymarket: "polymarket.markets",
				News:       "news.feed",
			},
			Groups:       KafkaGroupsConfig{Markets: "markets-consumer", News: "news-consumer"},
			MaxAttempts:  5,
			WriteTimeout: 10 * time.Second,
			RetryBackoff: 500 * time.Millisecond,
		},
		Storage: StorageConfig{
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 30 * time.Minute,
			},
		},
		Writer: WriterConfig{
			MaxWorkers:    2,
			BufferMaxSize: 512,
			FlushInterval: time.Minute,
			Compression:   "snappy",
		},
		Edge: EdgeConfig{
			Floor:          0.05,
			RescanSchedule: "@every 10m",
			RescanLimit:    500,
			Model:          EdgeModelConfig{Kind: "static", Timeout: 10 * time.Second},
		},
		Alert: AlertConfig{
			MaxAttempts:  3,
			RetryBackoff: time.Second,
			Notifier:     "log",
		},
		RAG: RAGConfig{
			ChunkSize:    2000,
			ChunkOverlap: 200,
			EmbedWorkers: 4,
			Embedding: EmbeddingConfig{
				BaseURL:   "https://api.openai.com/v1",
				Model:     "text-embedding-3-small",
				Dimension: 1536,
				Timeout:   30 * time.Second,
			},
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Metrics: MetricsConfig{
			CloudWatch: CloudWatchConfig{Namespace: "Edgeflow", Dashboard: "Edgeflow"},
		},
	}
}

// LoadConfig reads the YAML configuration at path, applies defaults and
// environment overrides, and validates the result. Invalid configuration
// is fatal at startup.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaults()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets secrets and deployment endpoints come from the
// environment instead of the config file.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("KAFKA_BOOTSTRAP_SERVERS"); v != "" {
		brokers := strings.Split(v, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		config.Kafka.Brokers = brokers
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Storage.Postgres.DSN = strings.TrimSpace(v)
	}
	if v := os.Getenv("KALSHI_API_KEY"); v != "" {
		config.Source.Kalshi.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("NEWS_API_KEY"); v != "" {
		config.Source.News.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if config.RAG.Embedding.APIKey == "" {
			config.RAG.Embedding.APIKey = strings.TrimSpace(v)
		}
		if config.LLM.Provider == "openai" && config.LLM.APIKey == "" {
			config.LLM.APIKey = strings.TrimSpace(v)
		}
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && config.LLM.Provider == "anthropic" && config.LLM.APIKey == "" {
		config.LLM.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		config.Alert.Telegram.BotToken = strings.TrimSpace(v)
	}
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

func validateConfig(config *Config) error {
	if len(config.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers not configured")
	}
	if config.Kafka.MaxAttempts < 5 {
		return fmt.Errorf("kafka max_attempts must be at least 5, got %d", config.Kafka.MaxAttempts)
	}
	for name, raw := range map[string]string{
		"kalshi":     config.Source.Kalshi.BaseURL,
		"polymarket": config.Source.Polymarket.BaseURL,
		"news":       config.Source.News.BaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s base url %q", name, raw)
		}
	}
	if config.Edge.Floor < 0 || config.Edge.Floor >= 1 {
		return fmt.Errorf("edge floor must be in [0,1), got %v", config.Edge.Floor)
	}
	switch config.Edge.Model.Kind {
	case "static":
	case "http":
		if config.Edge.Model.URL == "" {
			return fmt.Errorf("edge model kind http requires a url")
		}
	default:
		return fmt.Errorf("unknown edge model kind %q", config.Edge.Model.Kind)
	}
	switch config.Alert.Notifier {
	case "log":
	case "telegram":
		if config.Alert.Telegram.BotToken == "" {
			return fmt.Errorf("telegram notifier requires a bot token")
		}
	default:
		return fmt.Errorf("unknown alert notifier %q", config.Alert.Notifier)
	}
	if config.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag chunk_size must be positive")
	}
	if config.RAG.ChunkOverlap < 0 || config.RAG.ChunkOverlap >= config.RAG.ChunkSize {
		return fmt.Errorf("rag chunk_overlap must be in [0, chunk_size)")
	}
	if config.RAG.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	if config.Storage.S3.Enabled && strings.TrimSpace(config.Storage.S3.Bucket) == "" {
		return fmt.Errorf("s3 storage enabled but no bucket configured")
	}

	// Development tolerates missing credentials so the pipeline can run
	// against local stubs; production-like environments fail fast.
	if env := AppEnvironment(); IsProductionLike(env) {
		if config.Source.Kalshi.Enabled && config.Source.Kalshi.APIKey == "" {
			return fmt.Errorf("%s environment requires a kalshi api key", env)
		}
		if config.Source.News.Enabled && config.Source.News.APIKey == "" {
			return fmt.Errorf("%s environment requires a news api key", env)
		}
		if config.RAG.Embedding.APIKey == "" {
			return fmt.Errorf("%s environment requires an embedding api key", env)
		}
	}
	return nil
}
