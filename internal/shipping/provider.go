package shipping

import (
	"context"
	"errors"

	domain "github.com/gridcommerce/checkout/internal/domain"
)

var (
	// ErrShippingInvalidInput marks calls with missing or malformed arguments.
	ErrShippingInvalidInput = errors.New("shipping: invalid input")
	// ErrShippingProviderConflict marks duplicate provider registrations.
	ErrShippingProviderConflict = errors.New("shipping: provider conflict")
)

// PackageItem is one shippable line inside a package request.
type PackageItem struct {
	ProductID   string
	Quantity    int
	WeightGrams int
	Value       int64
}

// OptionRequest describes one package to be rated: the items a single
// warehouse ships to the destination address.
type OptionRequest struct {
	CustomerID  string
	StoreID     string
	WarehouseID string
	ShipTo      domain.Address
	Items       []PackageItem
}

// TotalWeightGrams sums the package weight.
func (r OptionRequest) TotalWeightGrams() int {
	total := 0
	for _, item := range r.Items {
		total += item.WeightGrams * item.Quantity
	}
	return total
}

// Option is one shipping method offered by a provider. Rate is in minor
// units and covers all requested packages.
type Option struct {
	Name               string
	ProviderSystemName string
	Rate               int64
	TransitDays        int
}

// OptionResponse aggregates options across providers. Errors carry provider
// failure messages without suppressing options from healthy providers.
type OptionResponse struct {
	Options []Option
	Errors  []string
}

// HasOptions reports whether at least one option was collected.
func (r OptionResponse) HasOptions() bool { return len(r.Options) > 0 }

// RateProvider computes shipping rates for package requests. Implementations
// mirror external rate plugins; the registry only consumes the contract.
type RateProvider interface {
	SystemName() string
	Priority() int
	LimitedToStores() []string
	LimitedToGroups() []string

	// HideShipmentMethods lets a provider veto its own applicability for the
	// given cart, e.g. oversized items a carrier will not take.
	HideShipmentMethods(items []PackageItem) bool

	// GetRates prices all packages and returns the provider's options. An
	// option's rate covers the whole request set.
	GetRates(ctx context.Context, requests []OptionRequest) ([]Option, error)

	// GetFixedRate short-circuits rate shopping when the provider charges one
	// known rate for the request set. ok=false means the rate depends on the
	// computed options and callers must run GetRates; it never means zero.
	GetFixedRate(requests []OptionRequest) (int64, bool)
}
