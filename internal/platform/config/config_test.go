package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "SERVER_READ_TIMEOUT", "SERVER_WRITE_TIMEOUT", "SERVER_IDLE_TIMEOUT",
		"FIRESTORE_PROJECT_ID", "FIRESTORE_EMULATOR_HOST",
		"PUBSUB_PROJECT_ID", "PUBSUB_EVENTS_TOPIC",
		"STRIPE_API_KEY",
		"TAX_ACTIVE_PROVIDER", "TAX_PRICES_INCLUDE_TAX", "TAX_IGNORE_ACL",
		"TAX_IGNORE_STORE_LIMITATIONS", "TAX_ROUNDING_MODE",
		"TAX_VAT_ENABLED", "TAX_BASE_COUNTRY", "TAX_EU_COUNTRIES",
		"SHIPPING_PROVIDER_TIMEOUT",
		"CHECKOUT_MIN_ORDER_SUBTOTAL", "CHECKOUT_MAX_ORDER_TOTAL",
		"LOYALTY_POINTS_FOR_AMOUNT", "LOYALTY_REDEEM_VALUE",
		"IDEMPOTENCY_HEADER", "IDEMPOTENCY_TTL", "IDEMPOTENCY_CLEANUP_INTERVAL", "IDEMPOTENCY_CLEANUP_BATCH",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("FIRESTORE_PROJECT_ID", "gridcommerce-dev")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.PubSub.ProjectID != "gridcommerce-dev" {
		t.Errorf("pubsub project must fall back to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.EventsTopic != "checkout-events" {
		t.Errorf("unexpected events topic: %s", cfg.PubSub.EventsTopic)
	}
	if cfg.Tax.RoundingMode != "half_even" {
		t.Errorf("unexpected rounding mode: %s", cfg.Tax.RoundingMode)
	}
	if cfg.Tax.VATEnabled {
		t.Error("VAT zero-rating must be off by default")
	}
	if cfg.Tax.BaseCountryCode != "DE" {
		t.Errorf("unexpected base country: %s", cfg.Tax.BaseCountryCode)
	}
	if len(cfg.Tax.EUCountryCodes) != 27 {
		t.Errorf("expected 27 EU members by default, got %d", len(cfg.Tax.EUCountryCodes))
	}
	if cfg.Loyalty.PointsForAmount != 1000 || cfg.Loyalty.RedeemValue != 1 {
		t.Errorf("unexpected loyalty defaults: %+v", cfg.Loyalty)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" {
		t.Errorf("unexpected idempotency header: %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 24*time.Hour {
		t.Errorf("unexpected idempotency ttl: %s", cfg.Idempotency.TTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("SERVER_READ_TIMEOUT", "5s")
	t.Setenv("FIRESTORE_PROJECT_ID", "gridcommerce-prod")
	t.Setenv("PUBSUB_PROJECT_ID", "events-prod")
	t.Setenv("TAX_PRICES_INCLUDE_TAX", "true")
	t.Setenv("TAX_ROUNDING_MODE", "half_up")
	t.Setenv("TAX_VAT_ENABLED", "true")
	t.Setenv("TAX_BASE_COUNTRY", "fr")
	t.Setenv("TAX_EU_COUNTRIES", "de, fr ,nl")
	t.Setenv("CHECKOUT_MIN_ORDER_SUBTOTAL", "500")
	t.Setenv("LOYALTY_POINTS_FOR_AMOUNT", "2000")
	t.Setenv("IDEMPOTENCY_TTL", "1h")
	t.Setenv("IDEMPOTENCY_CLEANUP_BATCH", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.PubSub.ProjectID != "events-prod" {
		t.Errorf("explicit pubsub project must win, got %s", cfg.PubSub.ProjectID)
	}
	if !cfg.Tax.PricesIncludeTax {
		t.Error("prices include tax flag not applied")
	}
	if cfg.Tax.RoundingMode != "half_up" {
		t.Errorf("unexpected rounding mode: %s", cfg.Tax.RoundingMode)
	}
	if !cfg.Tax.VATEnabled {
		t.Error("VAT flag not applied")
	}
	if cfg.Tax.BaseCountryCode != "FR" {
		t.Errorf("base country must be upper-cased, got %s", cfg.Tax.BaseCountryCode)
	}
	if len(cfg.Tax.EUCountryCodes) != 3 || cfg.Tax.EUCountryCodes[2] != "NL" {
		t.Errorf("unexpected EU list: %v", cfg.Tax.EUCountryCodes)
	}
	if cfg.Checkout.MinOrderSubtotal != 500 {
		t.Errorf("unexpected min subtotal: %d", cfg.Checkout.MinOrderSubtotal)
	}
	if cfg.Loyalty.PointsForAmount != 2000 {
		t.Errorf("unexpected points rate: %d", cfg.Loyalty.PointsForAmount)
	}
	if cfg.Idempotency.TTL != time.Hour {
		t.Errorf("unexpected idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupBatchSize != 50 {
		t.Errorf("unexpected cleanup batch: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"rounding mode", "TAX_ROUNDING_MODE", "bankers"},
		{"duration", "SERVER_READ_TIMEOUT", "soon"},
		{"negative duration", "SERVER_WRITE_TIMEOUT", "-5s"},
		{"negative amount", "CHECKOUT_MAX_ORDER_TOTAL", "-1"},
		{"non-numeric amount", "LOYALTY_REDEEM_VALUE", "one"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load must reject %s=%q", tc.key, tc.value)
			}
		})
	}
}
