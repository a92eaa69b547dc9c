package tax

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CountryRate is one row of the fixed rate table. Region narrows the match;
// an empty region is the country-wide fallback.
type CountryRate struct {
	CountryCode string
	Region      string
	Rate        decimal.Decimal
}

// CountryRateProvider resolves rates from a static per-country table, the
// fixed-rate plugin archetype. It is the default provider in local wiring and
// the workhorse of the calculator tests.
type CountryRateProvider struct {
	systemName     string
	priority       int
	limitedStores  []string
	limitedGroups  []string
	defaultCountry string
	rates          []CountryRate
}

// CountryRateProviderConfig configures a CountryRateProvider.
type CountryRateProviderConfig struct {
	SystemName      string
	Priority        int
	LimitedToStores []string
	LimitedToGroups []string
	DefaultCountry  string
	Rates           []CountryRate
}

// NewCountryRateProvider constructs the provider from its rate table.
func NewCountryRateProvider(cfg CountryRateProviderConfig) (*CountryRateProvider, error) {
	name := strings.TrimSpace(cfg.SystemName)
	if name == "" {
		name = "tax.country_rates"
	}
	for _, rate := range cfg.Rates {
		if strings.TrimSpace(rate.CountryCode) == "" {
			return nil, fmt.Errorf("%w: rate entry missing country code", ErrTaxInvalidInput)
		}
		if rate.Rate.IsNegative() {
			return nil, fmt.Errorf("%w: negative rate for %s", ErrTaxInvalidInput, rate.CountryCode)
		}
	}
	return &CountryRateProvider{
		systemName:     name,
		priority:       cfg.Priority,
		limitedStores:  cfg.LimitedToStores,
		limitedGroups:  cfg.LimitedToGroups,
		defaultCountry: strings.TrimSpace(cfg.DefaultCountry),
		rates:          cfg.Rates,
	}, nil
}

func (p *CountryRateProvider) SystemName() string        { return p.systemName }
func (p *CountryRateProvider) Priority() int             { return p.priority }
func (p *CountryRateProvider) LimitedToStores() []string { return p.limitedStores }
func (p *CountryRateProvider) LimitedToGroups() []string { return p.limitedGroups }

// CalculateRate matches the request address against the table. The most
// specific row wins: country+region before country-wide. Unknown countries
// yield a zero rate.
func (p *CountryRateProvider) CalculateRate(_ context.Context, req RateRequest) (RateResult, error) {
	country := p.defaultCountry
	region := ""
	if req.Address != nil {
		country = req.Address.CountryCode
		region = req.Address.Region
	}
	if country == "" {
		return RateResult{Rate: decimal.Zero}, nil
	}

	var countryWide *CountryRate
	for i := range p.rates {
		rate := &p.rates[i]
		if rate.CountryCode != country {
			continue
		}
		if rate.Region == region && region != "" {
			return RateResult{Rate: rate.Rate}, nil
		}
		if rate.Region == "" {
			countryWide = rate
		}
	}
	if countryWide != nil {
		return RateResult{Rate: countryWide.Rate}, nil
	}
	return RateResult{Rate: decimal.Zero}, nil
}
