package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/gridcommerce/checkout/internal/domain"
	pfirestore "github.com/gridcommerce/checkout/internal/platform/firestore"
)

const ordersCollection = "orders"

// OrderRepository implements repositories.OrderRepository. Each order
// persists as a single document with its items embedded.
type OrderRepository struct {
	orders *pfirestore.BaseRepository[domain.Order]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		orders: pfirestore.NewBaseRepository[domain.Order](provider, ordersCollection, nil, nil),
	}, nil
}

// Insert stores a new order. A duplicate ID surfaces as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	_, err := r.orders.Create(ctx, order.ID, order)
	return err
}

// Update overwrites the stored order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	_, err := r.orders.Set(ctx, order.ID, order)
	return err
}

// FindByID loads the order with the given document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order := doc.Data
	order.ID = doc.ID
	return order, nil
}

// FindByCode loads the order with the given public code.
func (r *OrderRepository) FindByCode(ctx context.Context, code string) (domain.Order, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_code", errors.New("order code is required"))
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, notFoundError("orders.find_by_code", "order "+code)
	}
	order := docs[0].Data
	order.ID = docs[0].ID
	return order, nil
}

// ListByCustomer returns the customer's most recent orders.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, pfirestore.WrapError("orders.list_by_customer", errors.New("customer id is required"))
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("customerId", "==", customerID).
			OrderBy("createdAt", firestore.Desc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order := doc.Data
		order.ID = doc.ID
		orders = append(orders, order)
	}
	return orders, nil
}
