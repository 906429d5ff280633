package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// EnvPrefix: префикс переменных окружения сервиса.
const EnvPrefix = "STOREFRONT"

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
// Значения читаются из переменных STOREFRONT_*, незаданные берутся из DefaultConfig.
type Config struct {
	GRPCAddr string `envconfig:"GRPC_ADDR"`
	// HTTPAddr обслуживает REST API и служебные маршруты (/metrics, /healthz).
	HTTPAddr string `envconfig:"HTTP_ADDR"`

	StorageDriver       string `envconfig:"STORAGE_DRIVER"`
	PostgresDSN         string `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE"`

	// KafkaBrokers: список брокеров через запятую; пустое значение отключает Kafka.
	KafkaBrokers       string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic         string `envconfig:"KAFKA_TOPIC"`
	KafkaDLQTopic      string `envconfig:"KAFKA_DLQ_TOPIC"`
	KafkaConsumerGroup string `envconfig:"KAFKA_CONSUMER_GROUP"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS"`
	OutboxRetryDelay   time.Duration `envconfig:"OUTBOX_RETRY_DELAY"`

	IdempotencyCleanupInterval  time.Duration `envconfig:"IDEMPOTENCY_CLEANUP_INTERVAL"`
	IdempotencyCleanupBatchSize int           `envconfig:"IDEMPOTENCY_CLEANUP_BATCH_SIZE"`

	PartialOrders bool `envconfig:"PARTIAL_ORDERS"`
	SeedDemo      bool `envconfig:"SEED_DEMO"`

	CORSOrigins        string        `envconfig:"CORS_ORIGINS"`
	HTTPRequestTimeout time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT"`
	LogLevel           string        `envconfig:"LOG_LEVEL"`
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                    ":50051",
		HTTPAddr:                    ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		KafkaTopic:                  kafka.TopicOrderEvents,
		KafkaDLQTopic:               kafka.TopicDeadLetterQueue,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		CORSOrigins:                 "*",
		HTTPRequestTimeout:          30 * time.Second,
		ShutdownTimeout:             5 * time.Second,
		LogLevel:                    "info",
	}
}

// LoadConfig читает конфигурацию из окружения поверх значений по умолчанию.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read %s_* environment: %w", EnvPrefix, err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.PostgresDSN = strings.TrimSpace(cfg.PostgresDSN)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.GRPCAddr) == "" {
		errs = append(errs, errors.New("grpc address is required"))
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, fmt.Errorf("%s_POSTGRES_DSN is required for postgres storage", EnvPrefix))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.LogLevel != "" {
		if _, err := log.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid log level: %w", err))
		}
	}
	if c.KafkaConsumerGroup != "" && c.KafkaBrokers == "" {
		errs = append(errs, errors.New("kafka consumer group requires kafka brokers"))
	}
	return errors.Join(errs...)
}

// KafkaBrokerList разбирает KafkaBrokers в список адресов.
func (c Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

// AllowedOrigins возвращает список CORS origins.
func (c Config) AllowedOrigins() []string {
	return splitList(c.CORSOrigins)
}

func splitList(raw string) []string {
	var result []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

// ConfigureLogging настраивает глобальный logrus по конфигурации.
func ConfigureLogging(level string) {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}
