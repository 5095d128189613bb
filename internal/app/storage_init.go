package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/flashsale/internal/health"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/memory"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/postgres"
	"github.com/vladislavdragonenkov/flashsale/internal/storage/sqlite"
)

// healthProbeTimeout ограничивает каждую проверку /healthz и /readyz.
const healthProbeTimeout = 2 * time.Second

// runtimeDependencies: хранилища выбранного драйвера.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	ledger          domain.CouponLedger
	users           domain.UserRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		logger.Info("storage driver: memory")
		return runtimeDependencies{
			repo:            memory.NewOrderRepository(),
			ledger:          memory.NewCouponLedger(),
			users:           memory.NewUserRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			timelineRepo:    memory.NewTimelineRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			storageChecker:  healthcheck.CheckFunc{Name: "memory", Ping: func(context.Context) error { return nil }},
		}, nil

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return runtimeDependencies{}, errors.New("postgres dsn is required when storage driver is postgres")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithMaxConns(cfg.PostgresMaxConns))
		if err != nil {
			return runtimeDependencies{}, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("storage driver: postgres")
		return runtimeDependencies{
			repo:            postgres.NewOrderRepository(store),
			ledger:          postgres.NewCouponLedger(store),
			users:           postgres.NewUserRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			timelineRepo:    postgres.NewTimelineRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageChecker:  healthcheck.CheckFunc{Name: "postgres", Ping: store.Ping},
			closeFn:         store.Close,
		}, nil

	case StorageDriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return runtimeDependencies{}, fmt.Errorf("open sqlite: %w", err)
		}
		logger.WithField("path", cfg.SQLitePath).Info("storage driver: sqlite")
		return runtimeDependencies{
			repo:            sqlite.NewOrderRepository(store),
			ledger:          sqlite.NewCouponLedger(store),
			users:           sqlite.NewUserRepository(store),
			outboxRepo:      sqlite.NewOutboxRepository(store),
			timelineRepo:    sqlite.NewTimelineRepository(store),
			idempotencyRepo: sqlite.NewIdempotencyRepository(store),
			storageChecker:  healthcheck.CheckFunc{Name: "sqlite", Ping: store.Ping},
			closeFn:         store.Close,
		}, nil

	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
