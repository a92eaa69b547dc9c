package main

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/gridcommerce/checkout/internal/domain"
	"github.com/gridcommerce/checkout/internal/platform/config"
)

func TestDefaultCountryRatesArePercentages(t *testing.T) {
	rates := make(map[string]decimal.Decimal)
	for _, r := range defaultCountryRates() {
		rates[r.CountryCode] = r.Rate
	}
	if got, ok := rates["DE"]; !ok || !got.Equal(decimal.NewFromInt(19)) {
		t.Fatalf("expected DE rate 19, got %s", got)
	}
	if got, ok := rates["AT"]; !ok || !got.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected AT rate 20, got %s", got)
	}
}

func TestBuildTaxCalculatorAppliesGermanVAT(t *testing.T) {
	cfg := config.Config{
		Tax: config.TaxConfig{
			ActiveProvider:  "tax.country_rates",
			RoundingMode:    "half_even",
			BaseCountryCode: "DE",
		},
	}
	calc, err := buildTaxCalculator(cfg, nil)
	if err != nil {
		t.Fatalf("buildTaxCalculator: %v", err)
	}

	product := &domain.Product{ID: "p1"}
	customer := &domain.Customer{ID: "c1"}

	// 100.00 net prices to 119.00 gross at 19% VAT.
	gross, rate, err := calc.GetProductPrice(context.Background(), product, customer, nil, "", 10000, true)
	if err != nil {
		t.Fatalf("GetProductPrice: %v", err)
	}
	if !rate.Equal(decimal.NewFromInt(19)) {
		t.Fatalf("expected rate 19, got %s", rate)
	}
	if gross != 11900 {
		t.Fatalf("expected gross 11900, got %d", gross)
	}
}
