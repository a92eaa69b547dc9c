package shipping

import (
	"context"
	"fmt"
	"strings"
)

// FixedRateProvider charges one flat rate, optionally per package. It is the
// simplest rate plugin archetype and the one the fixed-rate fast path can
// reduce without rate shopping.
type FixedRateProvider struct {
	systemName    string
	priority      int
	limitedStores []string
	limitedGroups []string
	methodName    string
	rate          int64
	perPackage    bool
	transitDays   int
}

// FixedRateProviderConfig configures a FixedRateProvider.
type FixedRateProviderConfig struct {
	SystemName      string
	Priority        int
	LimitedToStores []string
	LimitedToGroups []string
	MethodName      string
	Rate            int64
	PerPackage      bool
	TransitDays     int
}

// NewFixedRateProvider constructs the provider.
func NewFixedRateProvider(cfg FixedRateProviderConfig) (*FixedRateProvider, error) {
	name := strings.TrimSpace(cfg.SystemName)
	if name == "" {
		name = "shipping.fixed_rate"
	}
	if cfg.Rate < 0 {
		return nil, fmt.Errorf("%w: rate must not be negative", ErrShippingInvalidInput)
	}
	method := strings.TrimSpace(cfg.MethodName)
	if method == "" {
		method = "Standard"
	}
	return &FixedRateProvider{
		systemName:    name,
		priority:      cfg.Priority,
		limitedStores: cfg.LimitedToStores,
		limitedGroups: cfg.LimitedToGroups,
		methodName:    method,
		rate:          cfg.Rate,
		perPackage:    cfg.PerPackage,
		transitDays:   cfg.TransitDays,
	}, nil
}

func (p *FixedRateProvider) SystemName() string        { return p.systemName }
func (p *FixedRateProvider) Priority() int             { return p.priority }
func (p *FixedRateProvider) LimitedToStores() []string { return p.limitedStores }
func (p *FixedRateProvider) LimitedToGroups() []string { return p.limitedGroups }

func (p *FixedRateProvider) HideShipmentMethods([]PackageItem) bool { return false }

func (p *FixedRateProvider) GetRates(_ context.Context, requests []OptionRequest) ([]Option, error) {
	rate, _ := p.GetFixedRate(requests)
	return []Option{{
		Name:        p.methodName,
		Rate:        rate,
		TransitDays: p.transitDays,
	}}, nil
}

func (p *FixedRateProvider) GetFixedRate(requests []OptionRequest) (int64, bool) {
	if p.perPackage {
		return p.rate * int64(len(requests)), true
	}
	return p.rate, true
}
