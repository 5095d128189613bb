package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"
)

// Config описывает настройки запуска сервиса. Все поля читаются из FLASHSALE_* переменных.
type Config struct {
	GRPCAddr    string `env:"FLASHSALE_GRPC_ADDR" envDefault:":50051"`
	MetricsAddr string `env:"FLASHSALE_METRICS_ADDR" envDefault:":9090"`

	StorageDriver       string `env:"FLASHSALE_STORAGE_DRIVER" envDefault:"memory"`
	PostgresDSN         string `env:"FLASHSALE_POSTGRES_DSN"`
	PostgresAutoMigrate bool   `env:"FLASHSALE_POSTGRES_AUTO_MIGRATE" envDefault:"true"`
	PostgresMaxConns    int    `env:"FLASHSALE_POSTGRES_MAX_CONNS" envDefault:"25"`
	SQLitePath          string `env:"FLASHSALE_SQLITE_PATH" envDefault:"flashsale.db"`

	KafkaBrokers  string `env:"FLASHSALE_KAFKA_BROKERS"`
	KafkaClientID string `env:"FLASHSALE_KAFKA_CLIENT_ID" envDefault:"flashsale-service"`
	// KafkaTopic пустой: маршрутизация по типу агрегата.
	KafkaTopic string `env:"FLASHSALE_KAFKA_TOPIC"`

	OutboxPollInterval time.Duration `env:"FLASHSALE_OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize    int           `env:"FLASHSALE_OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxMaxAttempts  int           `env:"FLASHSALE_OUTBOX_MAX_ATTEMPTS" envDefault:"3"`
	OutboxRetryDelay   time.Duration `env:"FLASHSALE_OUTBOX_RETRY_DELAY" envDefault:"50ms"`
	// OutboxMaxPending: порог backlog, после которого /readyz сообщает о деградации.
	OutboxMaxPending int `env:"FLASHSALE_OUTBOX_MAX_PENDING" envDefault:"10000"`

	IdempotencyTTL              time.Duration `env:"FLASHSALE_IDEMPOTENCY_TTL" envDefault:"24h"`
	IdempotencyCleanupInterval  time.Duration `env:"FLASHSALE_IDEMPOTENCY_CLEANUP_INTERVAL" envDefault:"10m"`
	IdempotencyCleanupBatchSize int           `env:"FLASHSALE_IDEMPOTENCY_CLEANUP_BATCH_SIZE" envDefault:"500"`

	VerificationTimeout time.Duration `env:"FLASHSALE_VERIFICATION_TIMEOUT" envDefault:"2s"`
	VerificationLatency time.Duration `env:"FLASHSALE_VERIFICATION_LATENCY" envDefault:"20ms"`
	PaymentTimeout      time.Duration `env:"FLASHSALE_PAYMENT_TIMEOUT" envDefault:"3s"`
	FulfillmentTimeout  time.Duration `env:"FLASHSALE_FULFILLMENT_TIMEOUT" envDefault:"3s"`
	// Задержки встроенных заглушек платёжного провайдера и доставки.
	PaymentLatency     time.Duration `env:"FLASHSALE_PAYMENT_LATENCY" envDefault:"10ms"`
	FulfillmentLatency time.Duration `env:"FLASHSALE_FULFILLMENT_LATENCY" envDefault:"10ms"`

	BreakerMaxFailures  int           `env:"FLASHSALE_BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"FLASHSALE_BREAKER_RESET_TIMEOUT" envDefault:"10s"`

	JWTSecret string `env:"FLASHSALE_JWT_SECRET"`
	JWTIssuer string `env:"FLASHSALE_JWT_ISSUER" envDefault:"flashsale"`

	// SeedCoupons: список CODE:DISCOUNT:CAPACITY через запятую.
	SeedCoupons   string `env:"FLASHSALE_SEED_COUPONS" envDefault:"FLASH50:50:100"`
	SeedUserID    string `env:"FLASHSALE_SEED_USER_ID" envDefault:"U1"`
	SeedUserEmail string `env:"FLASHSALE_SEED_USER_EMAIL" envDefault:"customer@example.com"`

	ShutdownTimeout time.Duration `env:"FLASHSALE_SHUTDOWN_TIMEOUT" envDefault:"5s"`

	LogLevel  string `env:"FLASHSALE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"FLASHSALE_LOG_FORMAT" envDefault:"text"`
}

// DefaultConfig возвращает значения по умолчанию без чтения окружения.
func DefaultConfig() Config {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: map[string]string{}})
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// LoadConfig читает конфигурацию из окружения поверх значений по умолчанию.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек, которые env-теги не выражают.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(strings.TrimSpace(c.StorageDriver)) {
	case "", StorageDriverMemory, StorageDriverSQLite:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("FLASHSALE_POSTGRES_DSN is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox batch size and max attempts must be positive"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("idempotency ttl must be positive"))
	}
	if _, err := ParseSeedCoupons(c.SeedCoupons); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseSeedCoupons разбирает строку вида "FLASH50:50:100,VIP:10:5".
func ParseSeedCoupons(raw string) ([]domain.Coupon, error) {
	coupons := make([]domain.Coupon, 0)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("seed coupon %q: expected CODE:DISCOUNT:CAPACITY", entry)
		}
		discount, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("seed coupon %q discount: %w", entry, err)
		}
		capacity, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("seed coupon %q capacity: %w", entry, err)
		}
		coupon := domain.Coupon{
			Code:     domain.NormalizeCouponCode(parts[0]),
			Discount: discount,
			Capacity: capacity,
		}
		if errs := coupon.Validate(); len(errs) > 0 {
			return nil, fmt.Errorf("seed coupon %q: %w", entry, errs[0])
		}
		coupons = append(coupons, coupon)
	}
	return coupons, nil
}
