package tax

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/gridcommerce/checkout/internal/domain"
)

var oneHundred = decimal.NewFromInt(100)

// CalculatorSettings snapshots the tax-relevant configuration. Calculators
// never read ambient settings; everything arrives through the constructor.
type CalculatorSettings struct {
	CurrencyCode     string
	RoundingMode     string
	PricesIncludeTax bool
	VATEnabled       bool
	BaseCountryCode  string
	EUCountryCodes   []string
}

// LinePrice is the priced representation of one cart line. Every amount is in
// minor units; the incl/excl pairs are derived from one another through the
// line's rate, never computed on separate paths.
type LinePrice struct {
	UnitPriceExclTax int64
	UnitPriceInclTax int64
	SubtotalExclTax  int64
	SubtotalInclTax  int64
	DiscountExclTax  int64
	DiscountInclTax  int64
	Rate             decimal.Decimal
}

// CalculatorDeps lists the calculator dependencies.
type CalculatorDeps struct {
	Registry *Registry
	Settings CalculatorSettings
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Calculator converts between tax-inclusive and tax-exclusive prices using
// the active provider's rate. Provider failures degrade to a zero rate;
// tax lookup never aborts a checkout.
type Calculator struct {
	registry *Registry
	settings CalculatorSettings
	policy   RoundingPolicy
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCalculator constructs a Calculator from its dependencies.
func NewCalculator(deps CalculatorDeps) (*Calculator, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrTaxInvalidInput)
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Calculator{
		registry: deps.Registry,
		settings: deps.Settings,
		policy:   PolicyForCurrency(deps.Settings.CurrencyCode, deps.Settings.RoundingMode),
		logger:   logger,
	}, nil
}

// IsTaxExempt reports whether the product/customer pair pays no tax.
func (c *Calculator) IsTaxExempt(product *domain.Product, customer *domain.Customer) bool {
	if product != nil && product.TaxExempt {
		return true
	}
	return customer != nil && customer.TaxExempt
}

// IsVatExempt reports whether EU VAT rules zero-rate the sale: a validated
// VAT number shipping to another EU country than the store's base country.
func (c *Calculator) IsVatExempt(address *domain.Address, customer *domain.Customer) bool {
	if !c.settings.VATEnabled || customer == nil || address == nil {
		return false
	}
	if !customer.VATNumberValid {
		return false
	}
	if address.CountryCode == c.settings.BaseCountryCode {
		return false
	}
	for _, code := range c.settings.EUCountryCodes {
		if code == address.CountryCode {
			return true
		}
	}
	return false
}

// GetProductPrice returns price converted to the requested representation
// together with the applied rate. The input price is interpreted according to
// the store's prices-include-tax setting. address is the tax destination and
// may be nil, in which case the provider falls back to its default country;
// a VAT-exempt destination prices at rate zero.
func (c *Calculator) GetProductPrice(ctx context.Context, product *domain.Product, customer *domain.Customer, address *domain.Address, storeID string, price int64, includingTax bool) (int64, decimal.Decimal, error) {
	if product == nil {
		return 0, decimal.Zero, fmt.Errorf("%w: product is required", ErrTaxInvalidInput)
	}
	if customer == nil {
		return 0, decimal.Zero, fmt.Errorf("%w: customer is required", ErrTaxInvalidInput)
	}
	if price == 0 {
		return 0, decimal.Zero, nil
	}
	if c.IsTaxExempt(product, customer) || c.IsVatExempt(address, customer) {
		return price, decimal.Zero, nil
	}

	rate := c.rate(ctx, product, customer, address, storeID)
	if rate.IsZero() {
		return price, rate, nil
	}

	inputIncludesTax := c.settings.PricesIncludeTax
	if includingTax == inputIncludesTax {
		return price, rate, nil
	}

	major := c.policy.FromMinorUnits(price)
	factor := decimal.NewFromInt(1).Add(rate.Div(oneHundred))
	var converted decimal.Decimal
	if includingTax {
		converted = major.Mul(factor)
	} else {
		converted = major.Div(factor)
	}
	return c.policy.MinorUnits(converted), rate, nil
}

// GetTaxProductPrice prices one cart line: unit price, pre-discount subtotal
// and discount, each with and without tax. discount is in the same
// representation as unitPrice. address selects the destination rate;
// a VAT-exempt destination zero-rates the line.
func (c *Calculator) GetTaxProductPrice(ctx context.Context, product *domain.Product, customer *domain.Customer, address *domain.Address, storeID string, unitPrice int64, quantity int, discount int64, priceIncludesTax bool) (LinePrice, error) {
	if product == nil {
		return LinePrice{}, fmt.Errorf("%w: product is required", ErrTaxInvalidInput)
	}
	if customer == nil {
		return LinePrice{}, fmt.Errorf("%w: customer is required", ErrTaxInvalidInput)
	}
	if quantity <= 0 {
		return LinePrice{}, fmt.Errorf("%w: quantity must be positive, got %d", ErrTaxInvalidInput, quantity)
	}
	if discount < 0 {
		return LinePrice{}, fmt.Errorf("%w: discount must not be negative", ErrTaxInvalidInput)
	}

	rate := decimal.Zero
	if unitPrice != 0 && !c.IsTaxExempt(product, customer) && !c.IsVatExempt(address, customer) {
		rate = c.rate(ctx, product, customer, address, storeID)
	}
	factor := decimal.NewFromInt(1).Add(rate.Div(oneHundred))

	unit := c.policy.FromMinorUnits(unitPrice)
	disc := c.policy.FromMinorUnits(discount)
	qty := decimal.NewFromInt(int64(quantity))

	var unitIncl, unitExcl, subIncl, subExcl, discIncl, discExcl decimal.Decimal
	if priceIncludesTax {
		unitIncl = unit
		unitExcl = unitIncl.Div(factor)
		subIncl = unitIncl.Mul(qty)
		subExcl = subIncl.Div(factor)
		discIncl = disc
		discExcl = discIncl.Div(factor)
	} else {
		unitExcl = unit
		unitIncl = unitExcl.Mul(factor)
		subExcl = unitExcl.Mul(qty)
		subIncl = subExcl.Mul(factor)
		discExcl = disc
		discIncl = discExcl.Mul(factor)
	}

	return LinePrice{
		UnitPriceExclTax: c.policy.MinorUnits(unitExcl),
		UnitPriceInclTax: c.policy.MinorUnits(unitIncl),
		SubtotalExclTax:  c.policy.MinorUnits(subExcl),
		SubtotalInclTax:  c.policy.MinorUnits(subIncl),
		DiscountExclTax:  c.policy.MinorUnits(discExcl),
		DiscountInclTax:  c.policy.MinorUnits(discIncl),
		Rate:             rate,
	}, nil
}

// rate asks the active provider, degrading to zero on failure.
func (c *Calculator) rate(ctx context.Context, product *domain.Product, customer *domain.Customer, address *domain.Address, storeID string) decimal.Decimal {
	provider := c.registry.LoadActive()
	result, err := provider.CalculateRate(ctx, RateRequest{
		Product:       product,
		Customer:      customer,
		Address:       address,
		StoreID:       storeID,
		TaxCategoryID: product.TaxCategoryID,
	})
	if err != nil {
		c.logger(ctx, "tax.provider_failed", map[string]any{
			"provider": provider.SystemName(),
			"product":  product.ID,
			"error":    err.Error(),
		})
		return decimal.Zero
	}
	if result.Rate.IsNegative() {
		return decimal.Zero
	}
	return result.Rate
}
