package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	driverName = "pgx"

	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	opTimeout = 5 * time.Second
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// Store оборачивает подключение к PostgreSQL и реализует UnitOfWork.
type Store struct {
	db *sqlx.DB
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.DB
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Customers() domain.CustomerRepository { return &customerRepository{q: s.db} }

func (s *Store) Products() domain.ProductRepository { return &productRepository{db: s.db, q: s.db} }

func (s *Store) Orders() domain.OrderRepository { return &orderRepository{db: s.db, q: s.db} }

func (s *Store) Outbox() domain.OutboxRepository { return &outboxRepository{q: s.db} }

func (s *Store) Idempotency() domain.IdempotencyRepository { return &idempotencyRepository{q: s.db} }

// Do выполняет fn в одной транзакции. Ошибка fn (или паника) откатывает транзакцию.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) (err error) {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	repos := domain.Repositories{
		Customers: &customerRepository{q: tx},
		Products:  &productRepository{q: tx},
		Orders:    &orderRepository{q: tx},
		Outbox:    &outboxRepository{q: tx},
	}
	if err = fn(ctx, repos); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

var _ domain.UnitOfWork = (*Store)(nil)
