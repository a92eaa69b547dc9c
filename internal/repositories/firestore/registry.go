package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/gridcommerce/checkout/internal/platform/firestore"
	"github.com/gridcommerce/checkout/internal/repositories"
)

// Registry wires the Firestore-backed repository set behind the
// repositories.Registry interface.
type Registry struct {
	provider *pfirestore.Provider

	orders       *OrderRepository
	transactions *TransactionRepository
	counters     *CounterRepository
	vouchers     *GiftVoucherRepository
	loyalty      *LoyaltyRepository
	catalog      *CatalogRepository
	customers    *CustomerRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	transactions, err := NewTransactionRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	vouchers, err := NewGiftVoucherRepository(provider)
	if err != nil {
		return nil, err
	}
	loyalty, err := NewLoyaltyRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	customers, err := NewCustomerRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:     provider,
		orders:       orders,
		transactions: transactions,
		counters:     counters,
		vouchers:     vouchers,
		loyalty:      loyalty,
		catalog:      catalog,
		customers:    customers,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close()
}

func (r *Registry) Orders() repositories.OrderRepository             { return r.orders }
func (r *Registry) Transactions() repositories.TransactionRepository { return r.transactions }
func (r *Registry) Counters() repositories.CounterRepository         { return r.counters }
func (r *Registry) GiftVouchers() repositories.GiftVoucherRepository { return r.vouchers }
func (r *Registry) Loyalty() repositories.LoyaltyRepository          { return r.loyalty }
func (r *Registry) Catalog() repositories.CatalogRepository          { return r.catalog }
func (r *Registry) Customers() repositories.CustomerRepository       { return r.customers }

// Health returns a repository probe that verifies Firestore connectivity.
func (r *Registry) Health() repositories.HealthRepository {
	return &healthRepository{provider: r.provider}
}

// RunInTx executes fn as a unit. Firestore writes are document-atomic and the
// repositories already use transactions where cross-document atomicity
// matters, so the unit of work here is a plain passthrough.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("transaction function is required")
	}
	return fn(ctx)
}

type healthRepository struct {
	provider *pfirestore.Provider
}

// Check verifies the client can be reached.
func (h *healthRepository) Check(ctx context.Context) error {
	if h == nil || h.provider == nil {
		return errors.New("health repository not initialised")
	}
	_, err := h.provider.Client(ctx)
	return err
}
