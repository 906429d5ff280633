package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type customerRepository struct {
	q sqlx.ExtContext
}

type customerRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
}

// NewCustomerRepository создаёт PostgreSQL-реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return store.Customers()
}

func (r *customerRepository) FindByID(ctx context.Context, id string) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var row customerRow
	err := sqlx.GetContext(ctx, r.q, &row, `
		SELECT id, name, email, created_at
		FROM customers
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}

	return domain.Customer{
		ID:        row.ID,
		Name:      row.Name,
		Email:     row.Email,
		CreatedAt: row.CreatedAt.UTC(),
	}, nil
}

func (r *customerRepository) Create(ctx context.Context, customer domain.Customer) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := sqlx.NamedExecContext(ctx, r.q, `
		INSERT INTO customers (id, name, email, created_at)
		VALUES (:id, :name, :email, :created_at)
	`, customerRow{
		ID:        customer.ID,
		Name:      customer.Name,
		Email:     customer.Email,
		CreatedAt: customer.CreatedAt,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCustomerAlreadyExists
		}
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

var _ domain.CustomerRepository = (*customerRepository)(nil)
