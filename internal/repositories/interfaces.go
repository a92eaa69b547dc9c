package repositories

import (
	"context"
	"time"

	domain "github.com/gridcommerce/checkout/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for wiring.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Transactions() TransactionRepository
	Counters() CounterRepository
	GiftVouchers() GiftVoucherRepository
	Loyalty() LoyaltyRepository
	Catalog() CatalogRepository
	Customers() CustomerRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates as single documents.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByCode(ctx context.Context, code string) (domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error)
}

// TransactionRepository persists payment transactions. UpdateGuarded rejects
// the write with a conflict when the stored document changed since
// expectedUpdateTime.
type TransactionRepository interface {
	Insert(ctx context.Context, tx domain.PaymentTransaction) error
	UpdateGuarded(ctx context.Context, tx domain.PaymentTransaction, expectedUpdateTime time.Time) error
	FindByID(ctx context.Context, txID string) (domain.PaymentTransaction, time.Time, error)
	FindByOrderCode(ctx context.Context, orderCode string) (domain.PaymentTransaction, time.Time, error)
	ListByOrderCode(ctx context.Context, orderCode string) ([]domain.PaymentTransaction, error)
}

// CounterRepository allocates monotonically increasing sequence values.
// Allocation is atomic; values burned by failed downstream writes are not reused.
type CounterRepository interface {
	Next(ctx context.Context, name string) (int64, error)
}

// GiftVoucherRepository persists gift vouchers. Activate is atomic and
// idempotent per voucher: the first call wins, a repeat call for the same
// order is a no-op, and activation for a different order is a conflict.
type GiftVoucherRepository interface {
	FindByCode(ctx context.Context, code string) (domain.GiftVoucher, error)
	Activate(ctx context.Context, voucherID string, orderID string, at time.Time) error
	Debit(ctx context.Context, voucherID string, amount int64, at time.Time) error
}

// LoyaltyRepository is the append-only points ledger.
type LoyaltyRepository interface {
	Append(ctx context.Context, entry domain.LoyaltyEntry) error
	Balance(ctx context.Context, customerID string) (int, error)
	HasEntry(ctx context.Context, orderID string, reason domain.LoyaltyReason) (bool, error)
}

// CatalogRepository reads the product attributes checkout needs.
type CatalogRepository interface {
	FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// CustomerRepository reads checkout-relevant customer attributes.
type CustomerRepository interface {
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
}

// HealthRepository verifies connectivity with the persistence layer.
type HealthRepository interface {
	Check(ctx context.Context) error
}
