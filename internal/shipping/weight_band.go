package shipping

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// WeightBand maps a package weight ceiling to a rate in minor units.
type WeightBand struct {
	MaxGrams int
	Rate     int64
}

// WeightBandProvider rates each package by its total weight band and sums
// across packages. Packages heavier than the last band are rejected, which
// the provider signals by hiding its methods for that cart.
type WeightBandProvider struct {
	systemName    string
	priority      int
	limitedStores []string
	limitedGroups []string
	methodName    string
	bands         []WeightBand
	transitDays   int
}

// WeightBandProviderConfig configures a WeightBandProvider.
type WeightBandProviderConfig struct {
	SystemName      string
	Priority        int
	LimitedToStores []string
	LimitedToGroups []string
	MethodName      string
	Bands           []WeightBand
	TransitDays     int
}

// NewWeightBandProvider constructs the provider. Bands are sorted by ceiling.
func NewWeightBandProvider(cfg WeightBandProviderConfig) (*WeightBandProvider, error) {
	name := strings.TrimSpace(cfg.SystemName)
	if name == "" {
		name = "shipping.weight_bands"
	}
	if len(cfg.Bands) == 0 {
		return nil, fmt.Errorf("%w: at least one weight band is required", ErrShippingInvalidInput)
	}
	bands := append([]WeightBand(nil), cfg.Bands...)
	sort.Slice(bands, func(i, j int) bool { return bands[i].MaxGrams < bands[j].MaxGrams })
	for _, band := range bands {
		if band.MaxGrams <= 0 {
			return nil, fmt.Errorf("%w: band ceiling must be positive", ErrShippingInvalidInput)
		}
		if band.Rate < 0 {
			return nil, fmt.Errorf("%w: band rate must not be negative", ErrShippingInvalidInput)
		}
	}
	method := strings.TrimSpace(cfg.MethodName)
	if method == "" {
		method = "Ground"
	}
	return &WeightBandProvider{
		systemName:    name,
		priority:      cfg.Priority,
		limitedStores: cfg.LimitedToStores,
		limitedGroups: cfg.LimitedToGroups,
		methodName:    method,
		bands:         bands,
		transitDays:   cfg.TransitDays,
	}, nil
}

func (p *WeightBandProvider) SystemName() string        { return p.systemName }
func (p *WeightBandProvider) Priority() int             { return p.priority }
func (p *WeightBandProvider) LimitedToStores() []string { return p.limitedStores }
func (p *WeightBandProvider) LimitedToGroups() []string { return p.limitedGroups }

// HideShipmentMethods vetoes carts containing an item heavier than the
// largest band; no package split could make such a cart shippable here.
func (p *WeightBandProvider) HideShipmentMethods(items []PackageItem) bool {
	max := p.bands[len(p.bands)-1].MaxGrams
	for _, item := range items {
		if item.WeightGrams > max {
			return true
		}
	}
	return false
}

func (p *WeightBandProvider) GetRates(_ context.Context, requests []OptionRequest) ([]Option, error) {
	var total int64
	for _, req := range requests {
		rate, ok := p.rateFor(req.TotalWeightGrams())
		if !ok {
			return nil, fmt.Errorf("package from warehouse %q exceeds the heaviest band", req.WarehouseID)
		}
		total += rate
	}
	return []Option{{
		Name:        p.methodName,
		Rate:        total,
		TransitDays: p.transitDays,
	}}, nil
}

// GetFixedRate always declines: the rate depends on package weights.
func (p *WeightBandProvider) GetFixedRate([]OptionRequest) (int64, bool) {
	return 0, false
}

func (p *WeightBandProvider) rateFor(grams int) (int64, bool) {
	for _, band := range p.bands {
		if grams <= band.MaxGrams {
			return band.Rate, true
		}
	}
	return 0, false
}
