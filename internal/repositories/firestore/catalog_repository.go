package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/gridcommerce/checkout/internal/domain"
	pfirestore "github.com/gridcommerce/checkout/internal/platform/firestore"
)

const (
	productsCollection  = "products"
	customersCollection = "customers"
)

// CatalogRepository implements repositories.CatalogRepository over the
// product collection. Checkout only reads; catalog writes happen elsewhere.
type CatalogRepository struct {
	products *pfirestore.BaseRepository[domain.Product]
}

// NewCatalogRepository constructs a Firestore-backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products: pfirestore.NewBaseRepository[domain.Product](provider, productsCollection, nil, nil),
	}, nil
}

// FindProducts loads the requested products keyed by ID. Missing products are
// absent from the result; callers turn gaps into validation warnings.
func (r *CatalogRepository) FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := result[id]; ok {
			continue
		}
		doc, err := r.products.Get(ctx, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		product := doc.Data
		product.ID = doc.ID
		result[id] = product
	}
	return result, nil
}

// CustomerRepository implements repositories.CustomerRepository.
type CustomerRepository struct {
	customers *pfirestore.BaseRepository[domain.Customer]
}

// NewCustomerRepository constructs a Firestore-backed customer reader.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{
		customers: pfirestore.NewBaseRepository[domain.Customer](provider, customersCollection, nil, nil),
	}, nil
}

// FindByID loads the customer with the given document ID.
func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	doc, err := r.customers.Get(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	customer := doc.Data
	customer.ID = doc.ID
	return customer, nil
}

func isNotFound(err error) bool {
	var repoErr *pfirestore.Error
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
