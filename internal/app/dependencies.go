package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// runtimeDependencies содержит хранилища, выбранные по StorageDriver.
type runtimeDependencies struct {
	customers       domain.CustomerRepository
	products        domain.ProductRepository
	orders          domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	uow             domain.UnitOfWork
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

// initRuntimeDependencies создаёт хранилище и репозитории.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	switch driver {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			customers:       store.Customers(),
			products:        store.Products(),
			orders:          store.Orders(),
			outboxRepo:      store.Outbox(),
			idempotencyRepo: store.Idempotency(),
			uow:             store,
			storageChecker: healthcheck.NewSimpleChecker("storage", func(context.Context) error {
				return nil
			}),
		}, nil

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return nil, errors.New("postgres storage requires postgres dsn")
		}

		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		logger.Info("using postgres storage")
		return &runtimeDependencies{
			customers:       store.Customers(),
			products:        store.Products(),
			orders:          store.Orders(),
			outboxRepo:      store.Outbox(),
			idempotencyRepo: store.Idempotency(),
			uow:             store,
			storageChecker:  healthcheck.NewSimpleChecker("storage", store.Ping),
			closeFn:         store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// close освобождает ресурсы хранилища.
func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
