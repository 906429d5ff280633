package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Store объединяет in-memory репозитории и реализует UnitOfWork.
// Единицы работы выполняются последовательно; при ошибке внесённые
// изменения откатываются в обратном порядке.
type Store struct {
	txMu sync.Mutex

	customers   *customerRepositoryInMemory
	products    *productRepositoryInMemory
	orders      *orderRepositoryInMemory
	outbox      *OutboxRepositoryInMemory
	idempotency domain.IdempotencyRepository
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		customers:   newCustomerRepository(),
		products:    newProductRepository(),
		orders:      newOrderRepository(),
		outbox:      NewOutboxRepository(),
		idempotency: NewIdempotencyRepository(),
	}
}

func (s *Store) Customers() domain.CustomerRepository { return s.customers }

func (s *Store) Products() domain.ProductRepository { return s.products }

func (s *Store) Orders() domain.OrderRepository { return s.orders }

func (s *Store) Outbox() *OutboxRepositoryInMemory { return s.outbox }

func (s *Store) Idempotency() domain.IdempotencyRepository { return s.idempotency }

// Do выполняет fn как единицу работы.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	j := &journal{}
	defer func() {
		if p := recover(); p != nil {
			j.rollback()
			panic(p)
		}
		if err != nil {
			j.rollback()
		}
	}()

	repos := domain.Repositories{
		Customers: s.customers,
		Products:  &txProducts{productRepositoryInMemory: s.products, journal: j},
		Orders:    &txOrders{orderRepositoryInMemory: s.orders, journal: j},
		Outbox:    &txOutbox{OutboxRepositoryInMemory: s.outbox, journal: j},
	}
	return fn(ctx, repos)
}

// journal накапливает операции отмены.
type journal struct {
	undo []func()
}

func (j *journal) record(fn func()) {
	j.undo = append(j.undo, fn)
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

type txProducts struct {
	*productRepositoryInMemory
	journal *journal
}

func (r *txProducts) UpdateQuantity(ctx context.Context, items []domain.ProductQuantity) error {
	if err := r.productRepositoryInMemory.UpdateQuantity(ctx, items); err != nil {
		return err
	}
	applied := append([]domain.ProductQuantity(nil), items...)
	r.journal.record(func() { r.restore(applied) })
	return nil
}

type txOrders struct {
	*orderRepositoryInMemory
	journal *journal
}

func (r *txOrders) Create(ctx context.Context, customer domain.Customer, items []domain.OrderItem) (domain.Order, error) {
	order, err := r.orderRepositoryInMemory.Create(ctx, customer, items)
	if err != nil {
		return domain.Order{}, err
	}
	r.journal.record(func() { r.remove(order.ID) })
	return order, nil
}

type txOutbox struct {
	*OutboxRepositoryInMemory
	journal *journal
}

func (r *txOutbox) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	saved, err := r.OutboxRepositoryInMemory.Enqueue(ctx, msg)
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	r.journal.record(func() { r.remove(saved.ID) })
	return saved, nil
}

var _ domain.UnitOfWork = (*Store)(nil)
