package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultProviderTimeout = 5 * time.Second
	defaultEventsTopic     = "checkout-events"
	defaultRoundingMode    = "half_even"
	defaultTaxProvider     = "tax.country_rates"
	defaultBaseCountry     = "DE"

	defaultIdempotencyHeader          = "Idempotency-Key"
	defaultIdempotencyTTL             = 24 * time.Hour
	defaultIdempotencyCleanupInterval = time.Hour
	defaultIdempotencyCleanupBatch    = 200
)

// Config captures all runtime configuration organised by concern. It is loaded
// once at startup and treated as immutable afterwards; services receive the
// slices they need through their dependency structs.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	PubSub    PubSubConfig
	Stripe    StripeConfig
	Tax       TaxConfig
	Shipping  ShippingConfig
	Checkout  CheckoutConfig
	Loyalty   LoyaltyConfig

	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig configures the domain event topic.
type PubSubConfig struct {
	ProjectID   string
	EventsTopic string
}

// StripeConfig collects payment gateway credentials.
type StripeConfig struct {
	APIKey string
}

// defaultEUCountryCodes is the EU membership list used for VAT zero-rating
// when TAX_EU_COUNTRIES is not set.
var defaultEUCountryCodes = []string{
	"AT", "BE", "BG", "HR", "CY", "CZ", "DK", "EE", "FI", "FR",
	"DE", "GR", "HU", "IE", "IT", "LV", "LT", "LU", "MT", "NL",
	"PL", "PT", "RO", "SK", "SI", "ES", "SE",
}

// TaxConfig controls the tax provider registry and calculator. VATEnabled
// turns on EU VAT zero-rating for validated cross-border business customers;
// BaseCountryCode is the store's home country and the rate fallback when an
// order carries no destination.
type TaxConfig struct {
	ActiveProvider         string
	PricesIncludeTax       bool
	IgnoreACL              bool
	IgnoreStoreLimitations bool
	RoundingMode           string
	VATEnabled             bool
	BaseCountryCode        string
	EUCountryCodes         []string
}

// ShippingConfig controls the shipping rate registry.
type ShippingConfig struct {
	ProviderTimeout time.Duration
}

// CheckoutConfig carries order assembly limits in minor currency units.
type CheckoutConfig struct {
	MinOrderSubtotal int64
	MaxOrderTotal    int64
}

// LoyaltyConfig defines the points exchange rates. PointsForAmount is the
// spend in minor units that earns one point; RedeemValue is the minor-unit
// value of one redeemed point.
type LoyaltyConfig struct {
	PointsForAmount int64
	RedeemValue     int64
}

// IdempotencyConfig governs replay protection for mutating endpoints.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// Load builds the configuration snapshot from environment variables.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Port:         envOrDefault("PORT", defaultPort),
			ReadTimeout:  defaultReadTimeout,
			WriteTimeout: defaultWriteTimeout,
			IdleTimeout:  defaultIdleTimeout,
		},
		Firestore: FirestoreConfig{
			ProjectID:    strings.TrimSpace(os.Getenv("FIRESTORE_PROJECT_ID")),
			EmulatorHost: strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST")),
		},
		PubSub: PubSubConfig{
			ProjectID:   strings.TrimSpace(os.Getenv("PUBSUB_PROJECT_ID")),
			EventsTopic: envOrDefault("PUBSUB_EVENTS_TOPIC", defaultEventsTopic),
		},
		Stripe: StripeConfig{
			APIKey: strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		},
		Tax: TaxConfig{
			ActiveProvider:         envOrDefault("TAX_ACTIVE_PROVIDER", defaultTaxProvider),
			PricesIncludeTax:       envBool("TAX_PRICES_INCLUDE_TAX", false),
			IgnoreACL:              envBool("TAX_IGNORE_ACL", false),
			IgnoreStoreLimitations: envBool("TAX_IGNORE_STORE_LIMITATIONS", false),
			RoundingMode:           envOrDefault("TAX_ROUNDING_MODE", defaultRoundingMode),
			VATEnabled:             envBool("TAX_VAT_ENABLED", false),
			BaseCountryCode:        strings.ToUpper(envOrDefault("TAX_BASE_COUNTRY", defaultBaseCountry)),
			EUCountryCodes:         envCountryList("TAX_EU_COUNTRIES", defaultEUCountryCodes),
		},
		Shipping: ShippingConfig{
			ProviderTimeout: defaultProviderTimeout,
		},
		Checkout: CheckoutConfig{},
		Loyalty: LoyaltyConfig{
			PointsForAmount: 1000,
			RedeemValue:     1,
		},
		Idempotency: IdempotencyConfig{
			Header:           envOrDefault("IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              defaultIdempotencyTTL,
			CleanupInterval:  defaultIdempotencyCleanupInterval,
			CleanupBatchSize: defaultIdempotencyCleanupBatch,
		},
	}

	var err error
	if cfg.Server.ReadTimeout, err = envDuration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Server.WriteTimeout, err = envDuration("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Server.IdleTimeout, err = envDuration("SERVER_IDLE_TIMEOUT", cfg.Server.IdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Shipping.ProviderTimeout, err = envDuration("SHIPPING_PROVIDER_TIMEOUT", cfg.Shipping.ProviderTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Checkout.MinOrderSubtotal, err = envInt64("CHECKOUT_MIN_ORDER_SUBTOTAL", 0); err != nil {
		return Config{}, err
	}
	if cfg.Checkout.MaxOrderTotal, err = envInt64("CHECKOUT_MAX_ORDER_TOTAL", 0); err != nil {
		return Config{}, err
	}
	if cfg.Loyalty.PointsForAmount, err = envInt64("LOYALTY_POINTS_FOR_AMOUNT", cfg.Loyalty.PointsForAmount); err != nil {
		return Config{}, err
	}
	if cfg.Loyalty.RedeemValue, err = envInt64("LOYALTY_REDEEM_VALUE", cfg.Loyalty.RedeemValue); err != nil {
		return Config{}, err
	}
	if cfg.Idempotency.TTL, err = envDuration("IDEMPOTENCY_TTL", cfg.Idempotency.TTL); err != nil {
		return Config{}, err
	}
	if cfg.Idempotency.CleanupInterval, err = envDuration("IDEMPOTENCY_CLEANUP_INTERVAL", cfg.Idempotency.CleanupInterval); err != nil {
		return Config{}, err
	}
	if batch, err := envInt64("IDEMPOTENCY_CLEANUP_BATCH", int64(cfg.Idempotency.CleanupBatchSize)); err != nil {
		return Config{}, err
	} else if batch > 0 {
		cfg.Idempotency.CleanupBatchSize = int(batch)
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	switch cfg.Tax.RoundingMode {
	case "half_even", "half_up":
	default:
		return Config{}, fmt.Errorf("config: unsupported TAX_ROUNDING_MODE %q", cfg.Tax.RoundingMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envCountryList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return parsed, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", key)
	}
	return parsed, nil
}
