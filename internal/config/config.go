// Package config loads service configuration from defaults, an optional
// YAML file named by CONFIG_FILE, and environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pos-platform/stock-service/internal/infrastructure/mongodb"
	"github.com/pos-platform/stock-service/internal/infrastructure/postgres"
	"github.com/pos-platform/stock-service/internal/infrastructure/rabbitmq"
	"github.com/pos-platform/stock-service/internal/infrastructure/redislock"
	"github.com/pos-platform/stock-service/pkg/kafka"
	"github.com/pos-platform/stock-service/pkg/temporal"
)

const ServiceName = "stock-service"

// Store drivers
const (
	DriverMemory   = "memory"
	DriverMongoDB  = "mongodb"
	DriverPostgres = "postgres"
)

// Lock backends
const (
	LockNone  = "none"
	LockLocal = "local"
	LockRedis = "redis"
)

// Broker kinds
const (
	BrokerNone     = "none"
	BrokerKafka    = "kafka"
	BrokerRabbitMQ = "rabbitmq"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	MongoDB    *mongodb.Config  `yaml:"mongodb"`
	Postgres   *postgres.Config `yaml:"postgres"`
	Lock       LockConfig       `yaml:"lock"`
	Broker     BrokerConfig     `yaml:"broker"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Temporal   *temporal.Config `yaml:"temporal"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Allocation AllocationConfig `yaml:"allocation"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory mongodb postgres"`
}

type LockConfig struct {
	Backend string            `yaml:"backend" validate:"oneof=none local redis"`
	Timeout time.Duration     `yaml:"timeout" validate:"gte=0"`
	Redis   *redislock.Config `yaml:"redis"`
}

type BrokerConfig struct {
	Kind          string           `yaml:"kind" validate:"oneof=none kafka rabbitmq"`
	ShortageTopic string           `yaml:"shortageTopic" validate:"required"`
	Kafka         *kafka.Config    `yaml:"kafka"`
	RabbitMQ      *rabbitmq.Config `yaml:"rabbitmq"`
}

type OutboxConfig struct {
	PollInterval time.Duration `yaml:"pollInterval" validate:"gt=0"`
	BatchSize    int           `yaml:"batchSize" validate:"gt=0"`
	Retention    time.Duration `yaml:"retention" validate:"gte=0"`
}

type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sampleRate" validate:"gte=0,lte=1"`
}

type AllocationConfig struct {
	OrderingPolicy string `yaml:"orderingPolicy" validate:"oneof=FEFO FIFO"`
	// HandlerIsolation delivers shortage events to every subscriber even
	// when an earlier one fails.
	HandlerIsolation bool `yaml:"handlerIsolation"`
}

// Default returns the configuration used for local runs.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Store:    StoreConfig{Driver: DriverMemory},
		MongoDB:  mongodb.DefaultConfig(),
		Postgres: postgres.DefaultConfig(),
		Lock: LockConfig{
			Backend: LockLocal,
			Timeout: 5 * time.Second,
			Redis:   redislock.DefaultConfig(),
		},
		Broker: BrokerConfig{
			Kind:          BrokerNone,
			ShortageTopic: kafka.Topics.ShortageEvents,
			Kafka:         kafka.DefaultConfig(),
			RabbitMQ:      rabbitmq.DefaultConfig(),
		},
		Outbox: OutboxConfig{
			PollInterval: time.Second,
			BatchSize:    100,
			Retention:    24 * time.Hour,
		},
		Temporal: temporal.DefaultConfig(),
		Tracing: TracingConfig{
			Endpoint:   "localhost:4317",
			SampleRate: 1.0,
		},
		Allocation: AllocationConfig{OrderingPolicy: "FEFO"},
	}
}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path := getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and cross-field rules.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Broker.Kind == BrokerKafka && len(cfg.Broker.Kafka.Brokers) == 0 {
		return fmt.Errorf("invalid configuration: kafka broker list is empty")
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []string
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}

	str("SERVER_ADDR", &cfg.Server.Addr)
	if v := getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	str("STORE_DRIVER", &cfg.Store.Driver)
	str("MONGODB_URI", &cfg.MongoDB.URI)
	str("MONGODB_DATABASE", &cfg.MongoDB.Database)
	str("POSTGRES_DSN", &cfg.Postgres.DSN)

	str("LOCK_BACKEND", &cfg.Lock.Backend)
	duration("LOCK_TIMEOUT", &cfg.Lock.Timeout)
	str("REDIS_ADDR", &cfg.Lock.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Lock.Redis.Password)
	duration("REDIS_LOCK_TTL", &cfg.Lock.Redis.TTL)

	str("BROKER_KIND", &cfg.Broker.Kind)
	str("SHORTAGE_TOPIC", &cfg.Broker.ShortageTopic)
	if v := getenv("KAFKA_BROKERS"); v != "" {
		cfg.Broker.Kafka.Brokers = splitList(v)
	}
	str("RABBITMQ_URL", &cfg.Broker.RabbitMQ.URL)
	str("RABBITMQ_EXCHANGE", &cfg.Broker.RabbitMQ.Exchange)
	duration("OUTBOX_POLL_INTERVAL", &cfg.Outbox.PollInterval)

	boolean("TEMPORAL_ENABLED", &cfg.Temporal.Enabled)
	str("TEMPORAL_HOST", &cfg.Temporal.HostPort)
	str("TEMPORAL_NAMESPACE", &cfg.Temporal.Namespace)

	boolean("OTEL_ENABLED", &cfg.Tracing.Enabled)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)

	if v := getenv("ORDERING_POLICY"); v != "" {
		cfg.Allocation.OrderingPolicy = strings.ToUpper(strings.TrimSpace(v))
	}
	boolean("SHORTAGE_HANDLER_ISOLATION", &cfg.Allocation.HandlerIsolation)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
