package tax

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	domain "github.com/gridcommerce/checkout/internal/domain"
)

var (
	// ErrTaxInvalidInput marks calls with missing or malformed arguments.
	ErrTaxInvalidInput = errors.New("tax: invalid input")
	// ErrTaxProviderConflict marks duplicate provider registrations.
	ErrTaxProviderConflict = errors.New("tax: provider conflict")
)

// RateRequest carries everything a provider may need to resolve a tax rate.
type RateRequest struct {
	Product       *domain.Product
	Customer      *domain.Customer
	Address       *domain.Address
	StoreID       string
	TaxCategoryID string
}

// RateResult is the provider's answer. Rate is a percentage, e.g. 20 for 20%.
type RateResult struct {
	Rate decimal.Decimal
}

// Provider computes tax rates. Implementations live behind this interface the
// same way external rate plugins would; the registry only consumes the
// contract.
type Provider interface {
	SystemName() string
	Priority() int
	LimitedToStores() []string
	LimitedToGroups() []string
	CalculateRate(ctx context.Context, req RateRequest) (RateResult, error)
}

// Settings is the registry's slice of the process configuration.
type Settings struct {
	ActiveProvider         string
	EnabledProviders       []string
	IgnoreACL              bool
	IgnoreStoreLimitations bool
}

// Registry holds the registered tax providers. Registration happens during
// process wiring; lookups afterwards are read-only.
type Registry struct {
	settings Settings

	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry constructs an empty registry.
func NewRegistry(settings Settings) *Registry {
	return &Registry{
		settings:  settings,
		providers: make(map[string]Provider),
	}
}

// Register adds a provider. Duplicate system names are rejected.
func (r *Registry) Register(provider Provider) error {
	if provider == nil {
		return fmt.Errorf("%w: provider is required", ErrTaxInvalidInput)
	}
	name := strings.TrimSpace(provider.SystemName())
	if name == "" {
		return fmt.Errorf("%w: provider system name is required", ErrTaxInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("%w: %s already registered", ErrTaxProviderConflict, name)
	}
	r.providers[name] = provider
	return nil
}

// LoadAll returns the enabled providers visible to the customer and store,
// sorted by ascending priority. ACL filters are skipped when the matching
// ignore flag is set.
func (r *Registry) LoadAll(customer *domain.Customer, storeID string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Provider
	for name, provider := range r.providers {
		if !r.enabled(name) {
			continue
		}
		if !r.settings.IgnoreStoreLimitations && !storeAllowed(provider, storeID) {
			continue
		}
		if !r.settings.IgnoreACL && !groupAllowed(provider, customer) {
			continue
		}
		result = append(result, provider)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority() != result[j].Priority() {
			return result[i].Priority() < result[j].Priority()
		}
		return result[i].SystemName() < result[j].SystemName()
	})
	return result
}

// LoadActive returns the configured provider, falling back to a zero-rate
// provider when none is configured or the configured one is missing.
func (r *Registry) LoadActive() Provider {
	name := strings.TrimSpace(r.settings.ActiveProvider)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if name != "" {
		if provider, ok := r.providers[name]; ok {
			return provider
		}
	}
	return zeroRateProvider{}
}

func (r *Registry) enabled(name string) bool {
	if len(r.settings.EnabledProviders) == 0 {
		return true
	}
	for _, enabled := range r.settings.EnabledProviders {
		if enabled == name {
			return true
		}
	}
	return false
}

func storeAllowed(provider Provider, storeID string) bool {
	stores := provider.LimitedToStores()
	if len(stores) == 0 {
		return true
	}
	for _, s := range stores {
		if s == storeID {
			return true
		}
	}
	return false
}

func groupAllowed(provider Provider, customer *domain.Customer) bool {
	groups := provider.LimitedToGroups()
	if len(groups) == 0 {
		return true
	}
	for _, g := range groups {
		if customer.InGroup(g) {
			return true
		}
	}
	return false
}

// zeroRateProvider is the fallback when no provider is configured. Checkout
// proceeds with no tax rather than failing.
type zeroRateProvider struct{}

func (zeroRateProvider) SystemName() string        { return "tax.none" }
func (zeroRateProvider) Priority() int             { return 0 }
func (zeroRateProvider) LimitedToStores() []string { return nil }
func (zeroRateProvider) LimitedToGroups() []string { return nil }
func (zeroRateProvider) CalculateRate(context.Context, RateRequest) (RateResult, error) {
	return RateResult{Rate: decimal.Zero}, nil
}
