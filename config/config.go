package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App            AppConfig            `yaml:"app"`
	Stream         StreamConfig         `yaml:"stream"`
	Analysis       AnalysisConfig       `yaml:"analysis"`
	Classification ClassificationConfig `yaml:"classification"`
	Prediction     PredictionConfig     `yaml:"prediction"`
	Publish        PublishConfig        `yaml:"publish"`
	Storage        StorageConfig        `yaml:"storage"`
	Archive        ArchiveConfig        `yaml:"archive"`
	Dashboard      DashboardConfig      `yaml:"dashboard"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Logging        LoggingConfig        `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type StreamConfig struct {
	URL               string          `yaml:"url"`
	AppID             int             `yaml:"app_id"`
	Symbols           []string        `yaml:"symbols"`
	SubscribeStagger  time.Duration   `yaml:"subscribe_stagger"`
	CandleGranularity int             `yaml:"candle_granularity"`
	CandleCount       int             `yaml:"candle_count"`
	PingInterval      time.Duration   `yaml:"ping_interval"`
	Reconnect         ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig selects between a fixed retry delay and exponential backoff.
type ReconnectConfig struct {
	Strategy   string        `yaml:"strategy"`
	Delay      time.Duration `yaml:"delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
}

type AnalysisConfig struct {
	WindowSize int `yaml:"window_size"`
}

type ClassificationConfig struct {
	ReadyThreshold float64 `yaml:"ready_threshold"`
	QuickThreshold float64 `yaml:"quick_threshold"`
	PublishPolicy  string  `yaml:"publish_policy"`
}

type PredictionConfig struct {
	ParityLookback int           `yaml:"parity_lookback"`
	SignalDebounce time.Duration `yaml:"signal_debounce"`
	SignalHistory  int           `yaml:"signal_history"`
}

type PublishConfig struct {
	Sinks     []string      `yaml:"sinks"`
	QueueSize int           `yaml:"queue_size"`
	Workers   int           `yaml:"workers"`
	Timeout   time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	S3     S3Config     `yaml:"s3"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Prefix        string        `yaml:"prefix"`
	MaxBuffer     int           `yaml:"max_buffer"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compression   string        `yaml:"compression"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type MetricsConfig struct {
	Prometheus bool          `yaml:"prometheus"`
	CloudWatch bool          `yaml:"cloudwatch"`
	Namespace  string        `yaml:"namespace"`
	Region     string        `yaml:"region"`
	Report     time.Duration `yaml:"report_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// envOverrides are read from DIGITFLOW_* variables after the YAML file.
type envOverrides struct {
	StreamURL     string   `envconfig:"STREAM_URL"`
	AppID         int      `envconfig:"APP_ID"`
	Symbols       []string `envconfig:"SYMBOLS"`
	Sinks         []string `envconfig:"SINKS"`
	PublishPolicy string   `envconfig:"PUBLISH_POLICY"`
	S3Bucket      string   `envconfig:"S3_BUCKET"`
	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS"`
	SQLitePath    string   `envconfig:"SQLITE_PATH"`
}

const envPrefix = "DIGITFLOW"

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		App: AppConfig{Name: "digitflow", Version: "dev"},
		Stream: StreamConfig{
			URL:               "wss://ws.binaryws.com/websockets/v3",
			AppID:             1089,
			SubscribeStagger:  100 * time.Millisecond,
			CandleGranularity: 60,
			CandleCount:       30,
			PingInterval:      30 * time.Second,
			Reconnect: ReconnectConfig{
				Strategy:   ReconnectFixed,
				Delay:      5 * time.Second,
				MaxDelay:   time.Minute,
				Multiplier: 2,
			},
		},
		Analysis: AnalysisConfig{WindowSize: 50},
		Classification: ClassificationConfig{
			ReadyThreshold: 2.5,
			QuickThreshold: 2.8,
			PublishPolicy:  PolicyQuick,
		},
		Prediction: PredictionConfig{
			ParityLookback: 10,
			SignalDebounce: 10 * time.Second,
			SignalHistory:  50,
		},
		Publish: PublishConfig{
			QueueSize: 1024,
			Workers:   2,
			Timeout:   10 * time.Second,
		},
		Storage: StorageConfig{
			S3:     S3Config{Prefix: "market_data"},
			Kafka:  KafkaConfig{Topic: "market_data"},
			SQLite: SQLiteConfig{Path: "data/market_data.db"},
		},
		Archive: ArchiveConfig{
			Prefix:        "ticks",
			MaxBuffer:     500,
			FlushInterval: 5 * time.Minute,
			Compression:   "snappy",
		},
		Dashboard: DashboardConfig{Address: "0.0.0.0:8080", LogHistory: 200, MetricsHistory: 200, RefreshInterval: 5 * time.Second},
		Metrics:   MetricsConfig{Prometheus: true, Namespace: "DigitFlow", Report: 30 * time.Second},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

const (
	ReconnectFixed       = "fixed"
	ReconnectExponential = "exponential"

	PolicyQuick = "quick"
	PolicyGated = "gated"

	SinkS3     = "s3"
	SinkKafka  = "kafka"
	SinkSQLite = "sqlite"
)

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, DefaultConfigPath)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnv(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if config.Storage.S3.AccessKeyID == "" {
		config.Storage.S3.AccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	}
	if config.Storage.S3.SecretAccessKey == "" {
		config.Storage.S3.SecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	}
	if config.Storage.S3.Region == "" {
		config.Storage.S3.Region = strings.TrimSpace(os.Getenv("AWS_REGION"))
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return err
	}
	if env.StreamURL != "" {
		cfg.Stream.URL = env.StreamURL
	}
	if env.AppID != 0 {
		cfg.Stream.AppID = env.AppID
	}
	if len(env.Symbols) > 0 {
		cfg.Stream.Symbols = env.Symbols
	}
	if len(env.Sinks) > 0 {
		cfg.Publish.Sinks = env.Sinks
	}
	if env.PublishPolicy != "" {
		cfg.Classification.PublishPolicy = env.PublishPolicy
	}
	if env.S3Bucket != "" {
		cfg.Storage.S3.Bucket = env.S3Bucket
	}
	if len(env.KafkaBrokers) > 0 {
		cfg.Storage.Kafka.Brokers = env.KafkaBrokers
	}
	if env.SQLitePath != "" {
		cfg.Storage.SQLite.Path = env.SQLitePath
	}
	return nil
}

// SinkEnabled reports whether the named sink is listed in publish.sinks.
func (c *Config) SinkEnabled(name string) bool {
	for _, s := range c.Publish.Sinks {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return true
		}
	}
	return false
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if cfg.Stream.URL == "" {
		return fmt.Errorf("stream.url is required")
	}
	if cfg.Stream.SubscribeStagger < 0 {
		return fmt.Errorf("stream.subscribe_stagger must not be negative")
	}
	if cfg.Stream.CandleGranularity <= 0 {
		return fmt.Errorf("stream.candle_granularity must be greater than 0")
	}
	if cfg.Stream.CandleCount <= 0 {
		return fmt.Errorf("stream.candle_count must be greater than 0")
	}
	switch cfg.Stream.Reconnect.Strategy {
	case ReconnectFixed, ReconnectExponential:
	default:
		return fmt.Errorf("stream.reconnect.strategy '%s' is invalid", cfg.Stream.Reconnect.Strategy)
	}
	if cfg.Stream.Reconnect.Delay <= 0 {
		return fmt.Errorf("stream.reconnect.delay must be greater than 0")
	}
	if cfg.Stream.Reconnect.Strategy == ReconnectExponential {
		if cfg.Stream.Reconnect.Multiplier < 1 {
			return fmt.Errorf("stream.reconnect.multiplier must be at least 1")
		}
		if cfg.Stream.Reconnect.MaxDelay < cfg.Stream.Reconnect.Delay {
			return fmt.Errorf("stream.reconnect.max_delay must not be below stream.reconnect.delay")
		}
	}

	if cfg.Analysis.WindowSize < 10 {
		return fmt.Errorf("analysis.window_size must be at least 10")
	}

	switch cfg.Classification.PublishPolicy {
	case PolicyQuick, PolicyGated:
	default:
		return fmt.Errorf("classification.publish_policy '%s' is invalid", cfg.Classification.PublishPolicy)
	}
	if cfg.Classification.ReadyThreshold <= 0 || cfg.Classification.QuickThreshold <= 0 {
		return fmt.Errorf("classification thresholds must be greater than 0")
	}

	if cfg.Publish.QueueSize <= 0 {
		return fmt.Errorf("publish.queue_size must be greater than 0")
	}

	for _, sink := range cfg.Publish.Sinks {
		switch strings.ToLower(strings.TrimSpace(sink)) {
		case SinkS3:
		case SinkKafka:
			if len(cfg.Storage.Kafka.Brokers) == 0 {
				return fmt.Errorf("storage.kafka.brokers is required when the kafka sink is enabled")
			}
		case SinkSQLite:
			if cfg.Storage.SQLite.Path == "" {
				return fmt.Errorf("storage.sqlite.path is required when the sqlite sink is enabled")
			}
		default:
			return fmt.Errorf("publish.sinks entry '%s' is unknown", sink)
		}
	}

	if cfg.SinkEnabled(SinkS3) || cfg.Archive.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is used")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is used")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
