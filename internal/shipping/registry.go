package shipping

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/gridcommerce/checkout/internal/domain"
)

const defaultProviderTimeout = 5 * time.Second

// Settings is the registry's slice of the process configuration.
type Settings struct {
	EnabledProviders       []string
	IgnoreACL              bool
	IgnoreStoreLimitations bool
	ProviderTimeout        time.Duration
}

// Registry holds the registered shipping rate providers and fans rate
// requests out to them.
type Registry struct {
	settings Settings
	logger   func(ctx context.Context, event string, fields map[string]any)

	mu        sync.RWMutex
	providers map[string]RateProvider
}

// RegistryDeps lists the registry dependencies.
type RegistryDeps struct {
	Settings Settings
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewRegistry constructs an empty registry.
func NewRegistry(deps RegistryDeps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	settings := deps.Settings
	if settings.ProviderTimeout <= 0 {
		settings.ProviderTimeout = defaultProviderTimeout
	}
	return &Registry{
		settings:  settings,
		logger:    logger,
		providers: make(map[string]RateProvider),
	}
}

// Register adds a provider. Duplicate system names are rejected.
func (r *Registry) Register(provider RateProvider) error {
	if provider == nil {
		return fmt.Errorf("%w: provider is required", ErrShippingInvalidInput)
	}
	name := strings.TrimSpace(provider.SystemName())
	if name == "" {
		return fmt.Errorf("%w: provider system name is required", ErrShippingInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("%w: %s already registered", ErrShippingProviderConflict, name)
	}
	r.providers[name] = provider
	return nil
}

// LoadActive returns the providers applicable to the customer, store, and
// cart: enabled, passing ACL filters, and not self-vetoed. Sorted by
// ascending priority.
func (r *Registry) LoadActive(customer *domain.Customer, storeID string, items []PackageItem) []RateProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []RateProvider
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
		if provider.HideShipmentMethods(items) {
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

// GetShippingOptions queries every applicable provider concurrently and
// merges the results. A provider that fails or exceeds the per-provider
// timeout contributes an error message; it never suppresses options from the
// other providers.
func (r *Registry) GetShippingOptions(ctx context.Context, customer *domain.Customer, storeID string, requests []OptionRequest) (OptionResponse, error) {
	if len(requests) == 0 {
		return OptionResponse{}, fmt.Errorf("%w: at least one package request is required", ErrShippingInvalidInput)
	}

	var items []PackageItem
	for _, req := range requests {
		items = append(items, req.Items...)
	}
	providers := r.LoadActive(customer, storeID, items)
	if len(providers) == 0 {
		return OptionResponse{}, nil
	}

	type providerResult struct {
		name    string
		options []Option
		err     error
	}

	results := make(chan providerResult, len(providers))
	for _, provider := range providers {
		provider := provider
		go func() {
			providerCtx, cancel := context.WithTimeout(ctx, r.settings.ProviderTimeout)
			defer cancel()

			done := make(chan providerResult, 1)
			go func() {
				options, err := provider.GetRates(providerCtx, requests)
				done <- providerResult{name: provider.SystemName(), options: options, err: err}
			}()

			select {
			case res := <-done:
				results <- res
			case <-providerCtx.Done():
				results <- providerResult{name: provider.SystemName(), err: providerCtx.Err()}
			}
		}()
	}

	var response OptionResponse
	for range providers {
		res := <-results
		if res.err != nil {
			r.logger(ctx, "shipping.provider_failed", map[string]any{
				"provider": res.name,
				"error":    res.err.Error(),
			})
			response.Errors = append(response.Errors, fmt.Sprintf("%s: %s", res.name, res.err.Error()))
			continue
		}
		for _, option := range res.options {
			option.ProviderSystemName = res.name
			response.Options = append(response.Options, option)
		}
	}

	sort.Slice(response.Options, func(i, j int) bool {
		if response.Options[i].Rate != response.Options[j].Rate {
			return response.Options[i].Rate < response.Options[j].Rate
		}
		return response.Options[i].Name < response.Options[j].Name
	})
	return response, nil
}

// GetFixedRate returns the single fixed rate when exactly one provider is
// applicable and it can reduce the request set to one rate. ok=false means
// callers must run full rate shopping.
func (r *Registry) GetFixedRate(customer *domain.Customer, storeID string, requests []OptionRequest) (int64, bool) {
	if len(requests) == 0 {
		return 0, false
	}
	var items []PackageItem
	for _, req := range requests {
		items = append(items, req.Items...)
	}
	providers := r.LoadActive(customer, storeID, items)
	if len(providers) != 1 {
		return 0, false
	}
	return providers[0].GetFixedRate(requests)
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

func storeAllowed(provider RateProvider, storeID string) bool {
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

func groupAllowed(provider RateProvider, customer *domain.Customer) bool {
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
