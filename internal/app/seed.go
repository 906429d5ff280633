package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Демонстрационный каталог для локального запуска (STOREFRONT_SEED_DEMO=true).
var (
	demoCustomers = []domain.Customer{
		{ID: "c-demo-1", Name: "Demo Customer", Email: "demo@storefront.local"},
	}
	demoProducts = []domain.Product{
		{ID: "p-notebook", Name: "Notebook", PriceMinor: 1000, Quantity: 50},
		{ID: "p-pencil", Name: "Pencil", PriceMinor: 150, Quantity: 200},
		{ID: "p-backpack", Name: "Backpack", PriceMinor: 4500, Quantity: 5},
	}
)

// seedDemoCatalog заводит демо-клиента и товары; уже существующие записи пропускаются.
func seedDemoCatalog(ctx context.Context, customers domain.CustomerRepository, products domain.ProductRepository, logger *log.Entry) error {
	for _, customer := range demoCustomers {
		if err := customers.Create(ctx, customer); err != nil && !errors.Is(err, domain.ErrCustomerAlreadyExists) {
			return fmt.Errorf("seed customer %s: %w", customer.ID, err)
		}
	}
	for _, product := range demoProducts {
		if err := products.Create(ctx, product); err != nil && !errors.Is(err, domain.ErrProductAlreadyExists) {
			return fmt.Errorf("seed product %s: %w", product.ID, err)
		}
	}

	logger.WithFields(log.Fields{
		"customers": len(demoCustomers),
		"products":  len(demoProducts),
	}).Info("demo catalog seeded")
	return nil
}
