package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"classjudge/internal/common/cache"
	"classjudge/internal/common/mq"
	"classjudge/internal/common/storage"
	"classjudge/internal/judge/datapack"
	"classjudge/internal/judge/sandbox/engine"
	"classjudge/internal/judge/sandbox/profile"
	"classjudge/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultSlotWait        = 2 * time.Second
	// writeTimeoutMargin covers cleanup and encoding after a synchronous run.
	writeTimeoutMargin   = 10 * time.Second
	defaultWorkRoot      = "/tmp/classjudge"
	defaultEvaluateTopic = "judge.evaluate"
	defaultFinalTopic    = "judge.status.final"
	defaultStatusTTL     = 24 * time.Hour
	defaultPackKeyPrefix = "packs/"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds Kafka settings. No brokers means synchronous runs only.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	RequiredAcks  int           `yaml:"requiredAcks"`
	Compression   string        `yaml:"compression"`
	EvaluateTopic string        `yaml:"evaluateTopic"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	PrefetchCount int           `yaml:"prefetchCount"`
	Concurrency   int           `yaml:"concurrency"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	PoolRetryMax  int           `yaml:"poolRetryMax"`
	PoolRetryBase time.Duration `yaml:"poolRetryBaseDelay"`
	PoolRetryMaxD time.Duration `yaml:"poolRetryMaxDelay"`
	DeadLetter    string        `yaml:"deadLetterTopic"`
	MessageTTL    time.Duration `yaml:"messageTTL"`
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	PoolSize int           `yaml:"poolSize"`
	Timeout  time.Duration `yaml:"timeout"`
	SlotWait time.Duration `yaml:"slotWait"`
	ClaimTTL time.Duration `yaml:"claimTTL"`
}

// StatusConfig holds status persistence settings.
type StatusConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	Timeout    time.Duration `yaml:"timeout"`
	FinalTopic string        `yaml:"finalTopic"`
}

// JudgeConfig holds judge work settings.
type JudgeConfig struct {
	WorkRoot string `yaml:"workRoot"`
	// DataRoot holds expected output and input files referenced by test cases.
	DataRoot       string `yaml:"dataRoot"`
	MaxSourceBytes int    `yaml:"maxSourceBytes"`
	MaxTestCases   int    `yaml:"maxTestCases"`
}

// LanguageConfig overrides the built-in language table.
type LanguageConfig struct {
	Languages []profile.LanguageSpec `yaml:"languages"`
	Profiles  []profile.TaskProfile  `yaml:"profiles"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server   ServerConfig      `yaml:"server"`
	Logger   logger.Config     `yaml:"logger"`
	Kafka    KafkaConfig       `yaml:"kafka"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Worker   WorkerConfig      `yaml:"worker"`
	Status   StatusConfig      `yaml:"status"`
	Judge    JudgeConfig       `yaml:"judge"`
	Engine   engine.Config     `yaml:"engine"`
	Language LanguageConfig    `yaml:"language"`
	Metrics  MetricsConfig     `yaml:"metrics"`
	// MinIO and DataPack are optional; data packs are enabled when minio.endpoint is set.
	MinIO    storage.MinIOConfig `yaml:"minio"`
	DataPack datapack.Config     `yaml:"dataPack"`
}

// loadYAML reads path, expands ${VAR} references and decodes into out.
func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadDotEnv loads .env files into the environment; missing files are ignored.
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s failed: %w", p, err)
		}
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	cfg.Redis.ApplyDefaults()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 1
	}
	if cfg.Worker.SlotWait <= 0 {
		cfg.Worker.SlotWait = defaultSlotWait
	}
	// A synchronous run may hold the response for a slot wait plus a full
	// worker timeout; the server must not cut it off first.
	if cfg.Worker.Timeout > 0 {
		if need := cfg.Worker.SlotWait + cfg.Worker.Timeout + writeTimeoutMargin; cfg.Server.WriteTimeout < need {
			cfg.Server.WriteTimeout = need
		}
	}
	if cfg.Judge.WorkRoot == "" {
		cfg.Judge.WorkRoot = defaultWorkRoot
	}
	if cfg.Status.TTL == 0 {
		cfg.Status.TTL = defaultStatusTTL
	}
	if cfg.Status.FinalTopic == "" {
		cfg.Status.FinalTopic = defaultFinalTopic
	}
	if cfg.Kafka.EvaluateTopic == "" {
		cfg.Kafka.EvaluateTopic = defaultEvaluateTopic
	}
	if cfg.Kafka.Concurrency <= 0 {
		cfg.Kafka.Concurrency = cfg.Worker.PoolSize
	}
	if cfg.Kafka.PoolRetryMax <= 0 {
		cfg.Kafka.PoolRetryMax = 5
	}
	if cfg.Kafka.PoolRetryBase == 0 {
		cfg.Kafka.PoolRetryBase = time.Second
	}
	if cfg.Kafka.PoolRetryMaxD == 0 {
		cfg.Kafka.PoolRetryMaxD = 30 * time.Second
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.DataPack.RootDir == "" {
		cfg.DataPack.RootDir = filepath.Join(cfg.Judge.WorkRoot, "packs")
	}
	if cfg.DataPack.Bucket == "" {
		cfg.DataPack.Bucket = cfg.MinIO.Bucket
	}
	if cfg.DataPack.KeyPrefix == "" {
		cfg.DataPack.KeyPrefix = defaultPackKeyPrefix
	}
}

func (c *AppConfig) dataPacksEnabled() bool {
	return c.MinIO.Endpoint != ""
}

func (k KafkaConfig) enabled() bool {
	return len(k.Brokers) > 0
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
	}
}

func (k KafkaConfig) subscribeOptions() *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup:   k.ConsumerGroup,
		PrefetchCount:   k.PrefetchCount,
		Concurrency:     k.Concurrency,
		MaxRetries:      k.MaxRetries,
		RetryDelay:      k.RetryDelay,
		DeadLetterTopic: k.DeadLetter,
		MessageTTL:      k.MessageTTL,
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}
