package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"livecode/internal/common/cache"
	"livecode/internal/common/db"
	"livecode/internal/common/http/middleware"
	"livecode/internal/common/mq"
	"livecode/internal/common/storage"
	"livecode/internal/execution/archive"
	runcontroller "livecode/internal/execution/controller"
	"livecode/internal/execution/engine"
	"livecode/internal/execution/registry"
	"livecode/internal/execution/runner"
	monitorcontroller "livecode/internal/monitor/controller"
	"livecode/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	defaultBroadcastTopic  = "monitor.broadcast"
	defaultBroadcastTTL    = time.Minute
	defaultGroupPrefix     = "livecode-broadcast"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds Kafka settings for the broadcast trigger.
type KafkaConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Brokers        []string      `yaml:"brokers"`
	ClientID       string        `yaml:"clientID"`
	MinBytes       int           `yaml:"minBytes"`
	MaxBytes       int           `yaml:"maxBytes"`
	MaxWait        time.Duration `yaml:"maxWait"`
	BatchSize      int           `yaml:"batchSize"`
	BatchTimeout   time.Duration `yaml:"batchTimeout"`
	DialTimeout    time.Duration `yaml:"dialTimeout"`
	RequiredAcks   int           `yaml:"requiredAcks"`
	Compression    string        `yaml:"compression"`
	BroadcastTopic string        `yaml:"broadcastTopic"`
	// GroupPrefix is suffixed with InstanceID so every instance receives
	// every broadcast. InstanceID must be stable across restarts and unique
	// among instances; it defaults to the host name.
	GroupPrefix string        `yaml:"groupPrefix"`
	InstanceID  string        `yaml:"instanceID"`
	MessageTTL  time.Duration `yaml:"messageTTL"`
}

// ExecutionConfig holds the process engine and language settings.
type ExecutionConfig struct {
	Engine engine.Config `yaml:",inline"`
	Runner runner.Config `yaml:",inline"`
}

// CohortCacheConfig holds cohort filter cache TTLs.
type CohortCacheConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	EmptyTTL time.Duration `yaml:"emptyTTL"`
}

// AppConfig holds live-service config.
type AppConfig struct {
	Server      ServerConfig             `yaml:"server"`
	Logger      logger.Config            `yaml:"logger"`
	CORS        middleware.CORSConfig    `yaml:"cors"`
	Database    db.Config                `yaml:"database"`
	Redis       cache.RedisConfig        `yaml:"redis"`
	CohortCache CohortCacheConfig        `yaml:"cohortCache"`
	Kafka       KafkaConfig              `yaml:"kafka"`
	MinIO       storage.MinIOConfig      `yaml:"minio"`
	Archive     archive.Config           `yaml:"archive"`
	Execution   ExecutionConfig          `yaml:"execution"`
	Session     registry.Config          `yaml:"session"`
	RunChannel  runcontroller.Config     `yaml:"runChannel"`
	Monitor     monitorcontroller.Config `yaml:"monitor"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads path after overlaying an optional .env file on the
// process environment. ${VAR} references in the YAML are expanded.
func loadAppConfig(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env failed: %w", err)
	}

	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
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
	if cfg.Kafka.Enabled {
		if err := cfg.Kafka.applyDefaults(os.Hostname); err != nil {
			return nil, err
		}
	}
	if cfg.Archive.Enabled && cfg.Archive.Bucket == "" {
		cfg.Archive.Bucket = cfg.MinIO.Bucket
	}
	cfg.Execution.Runner.ApplyDefaults()
	return &cfg, nil
}

func (k *KafkaConfig) applyDefaults(hostname func() (string, error)) error {
	if len(k.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}
	if k.BroadcastTopic == "" {
		k.BroadcastTopic = defaultBroadcastTopic
	}
	if k.GroupPrefix == "" {
		k.GroupPrefix = defaultGroupPrefix
	}
	if k.MessageTTL == 0 {
		k.MessageTTL = defaultBroadcastTTL
	}
	if k.InstanceID == "" {
		host, err := hostname()
		if err != nil || host == "" {
			return fmt.Errorf("kafka instanceID is required when the host name is unavailable")
		}
		k.InstanceID = host
	}
	return nil
}

// consumerGroup is the broadcast consumer group of this instance.
func (k KafkaConfig) consumerGroup() string {
	return k.GroupPrefix + "-" + k.InstanceID
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
