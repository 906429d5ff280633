package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// withTx выполняет fn в собственной транзакции, если репозиторий создан поверх *sqlx.DB.
// Внутри единицы работы (db == nil) fn получает уже открытую транзакцию.
func withTx(ctx context.Context, db *sqlx.DB, q sqlx.ExtContext, fn func(q sqlx.ExtContext) error) (err error) {
	if db == nil {
		return fn(q)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
