package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/gridcommerce/checkout/internal/domain"
	pfirestore "github.com/gridcommerce/checkout/internal/platform/firestore"
)

const loyaltyCollection = "loyalty_entries"

// LoyaltyRepository implements repositories.LoyaltyRepository as an
// append-only ledger. Balances are computed by summing entries; the volume
// per customer is small enough that a running-total document is not worth the
// extra write contention.
type LoyaltyRepository struct {
	entries *pfirestore.BaseRepository[domain.LoyaltyEntry]
}

// NewLoyaltyRepository constructs a Firestore-backed loyalty ledger.
func NewLoyaltyRepository(provider *pfirestore.Provider) (*LoyaltyRepository, error) {
	if provider == nil {
		return nil, errors.New("loyalty repository requires firestore provider")
	}
	return &LoyaltyRepository{
		entries: pfirestore.NewBaseRepository[domain.LoyaltyEntry](provider, loyaltyCollection, nil, nil),
	}, nil
}

// Append stores a new ledger entry.
func (r *LoyaltyRepository) Append(ctx context.Context, entry domain.LoyaltyEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("loyalty entry id is required")
	}
	if strings.TrimSpace(entry.CustomerID) == "" {
		return errors.New("loyalty entry customer id is required")
	}
	_, err := r.entries.Create(ctx, entry.ID, entry)
	return err
}

// Balance sums the customer's ledger entries.
func (r *LoyaltyRepository) Balance(ctx context.Context, customerID string) (int, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return 0, pfirestore.WrapError("loyalty.balance", errors.New("customer id is required"))
	}
	docs, err := r.entries.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("customerId", "==", customerID)
	})
	if err != nil {
		return 0, err
	}
	balance := 0
	for _, doc := range docs {
		balance += doc.Data.Points
	}
	return balance, nil
}

// HasEntry reports whether a ledger entry with the given order and reason
// already exists. The status orchestrator uses it to award points only once.
func (r *LoyaltyRepository) HasEntry(ctx context.Context, orderID string, reason domain.LoyaltyReason) (bool, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false, pfirestore.WrapError("loyalty.has_entry", errors.New("order id is required"))
	}
	docs, err := r.entries.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).
			Where("reason", "==", string(reason)).
			Limit(1)
	})
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}
