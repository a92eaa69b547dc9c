package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/gridcommerce/checkout/internal/domain"
	pfirestore "github.com/gridcommerce/checkout/internal/platform/firestore"
)

const transactionsCollection = "payment_transactions"

// TransactionRepository implements repositories.TransactionRepository.
// Guarded updates rely on the document's server-side update time, so a write
// that raced another mutation fails with a conflict instead of overwriting it.
type TransactionRepository struct {
	provider     *pfirestore.Provider
	transactions *pfirestore.BaseRepository[domain.PaymentTransaction]
}

// NewTransactionRepository constructs a Firestore-backed transaction repository.
func NewTransactionRepository(provider *pfirestore.Provider) (*TransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("transaction repository requires firestore provider")
	}
	return &TransactionRepository{
		provider:     provider,
		transactions: pfirestore.NewBaseRepository[domain.PaymentTransaction](provider, transactionsCollection, nil, nil),
	}, nil
}

// Insert stores a new payment transaction.
func (r *TransactionRepository) Insert(ctx context.Context, tx domain.PaymentTransaction) error {
	if strings.TrimSpace(tx.ID) == "" {
		return errors.New("transaction id is required")
	}
	_, err := r.transactions.Create(ctx, tx.ID, tx)
	return err
}

// UpdateGuarded overwrites the transaction document only when it has not
// changed since expectedUpdateTime.
func (r *TransactionRepository) UpdateGuarded(ctx context.Context, tx domain.PaymentTransaction, expectedUpdateTime time.Time) error {
	if strings.TrimSpace(tx.ID) == "" {
		return errors.New("transaction id is required")
	}
	if expectedUpdateTime.IsZero() {
		return errors.New("expected update time is required")
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		ref, err := r.transactions.DocumentRef(ctx, tx.ID)
		if err != nil {
			return err
		}
		snapshot, err := ftx.Get(ref)
		if err != nil {
			return err
		}
		if !snapshot.UpdateTime.Equal(expectedUpdateTime) {
			return conflictError("transactions.update", "transaction "+tx.ID+" modified concurrently")
		}
		return ftx.Set(ref, tx)
	})
}

// FindByID loads a transaction and its current update time.
func (r *TransactionRepository) FindByID(ctx context.Context, txID string) (domain.PaymentTransaction, time.Time, error) {
	doc, err := r.transactions.Get(ctx, txID)
	if err != nil {
		return domain.PaymentTransaction{}, time.Time{}, err
	}
	tx := doc.Data
	tx.ID = doc.ID
	return tx, doc.UpdateTime, nil
}

// FindByOrderCode loads the primary (non-temporary) transaction for an order.
func (r *TransactionRepository) FindByOrderCode(ctx context.Context, orderCode string) (domain.PaymentTransaction, time.Time, error) {
	orderCode = strings.TrimSpace(orderCode)
	if orderCode == "" {
		return domain.PaymentTransaction{}, time.Time{}, pfirestore.WrapError("transactions.find_by_order_code", errors.New("order code is required"))
	}
	docs, err := r.transactions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderCode", "==", orderCode).
			Where("temp", "==", false).
			Limit(1)
	})
	if err != nil {
		return domain.PaymentTransaction{}, time.Time{}, err
	}
	if len(docs) == 0 {
		return domain.PaymentTransaction{}, time.Time{}, notFoundError("transactions.find_by_order_code", "transaction for order "+orderCode)
	}
	tx := docs[0].Data
	tx.ID = docs[0].ID
	return tx, docs[0].UpdateTime, nil
}

// ListByOrderCode returns every transaction recorded for an order, temporary
// ones included; aggregation rules live in the service layer.
func (r *TransactionRepository) ListByOrderCode(ctx context.Context, orderCode string) ([]domain.PaymentTransaction, error) {
	orderCode = strings.TrimSpace(orderCode)
	if orderCode == "" {
		return nil, pfirestore.WrapError("transactions.list_by_order_code", errors.New("order code is required"))
	}
	docs, err := r.transactions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderCode", "==", orderCode)
	})
	if err != nil {
		return nil, err
	}
	txs := make([]domain.PaymentTransaction, 0, len(docs))
	for _, doc := range docs {
		tx := doc.Data
		tx.ID = doc.ID
		txs = append(txs, tx)
	}
	return txs, nil
}
