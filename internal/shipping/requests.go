package shipping

import (
	"fmt"
	"sort"

	domain "github.com/gridcommerce/checkout/internal/domain"
)

// CartLine is the shipping-relevant slice of a cart line fed into request
// building.
type CartLine struct {
	ProductID        string
	Quantity         int
	UnitPrice        int64
	WeightGrams      int
	WarehouseID      string
	ShippingRequired bool
}

// BuildOptionRequests partitions the cart into one package request per
// fulfilling warehouse. Lines that need no shipping are excluded; a cart with
// nothing shippable yields no requests.
func BuildOptionRequests(customer *domain.Customer, storeID string, shipTo *domain.Address, lines []CartLine) ([]OptionRequest, error) {
	if customer == nil {
		return nil, fmt.Errorf("%w: customer is required", ErrShippingInvalidInput)
	}
	if shipTo == nil {
		return nil, fmt.Errorf("%w: shipping address is required", ErrShippingInvalidInput)
	}

	byWarehouse := make(map[string][]PackageItem)
	for _, line := range lines {
		if !line.ShippingRequired {
			continue
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %s has no quantity", ErrShippingInvalidInput, line.ProductID)
		}
		byWarehouse[line.WarehouseID] = append(byWarehouse[line.WarehouseID], PackageItem{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			WeightGrams: line.WeightGrams,
			Value:       line.UnitPrice * int64(line.Quantity),
		})
	}
	if len(byWarehouse) == 0 {
		return nil, nil
	}

	warehouses := make([]string, 0, len(byWarehouse))
	for warehouse := range byWarehouse {
		warehouses = append(warehouses, warehouse)
	}
	sort.Strings(warehouses)

	requests := make([]OptionRequest, 0, len(warehouses))
	for _, warehouse := range warehouses {
		requests = append(requests, OptionRequest{
			CustomerID:  customer.ID,
			StoreID:     storeID,
			WarehouseID: warehouse,
			ShipTo:      *shipTo,
			Items:       byWarehouse[warehouse],
		})
	}
	return requests, nil
}
