package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gridcommerce/checkout/internal/di"
	"github.com/gridcommerce/checkout/internal/handlers"
	"github.com/gridcommerce/checkout/internal/payments"
	"github.com/gridcommerce/checkout/internal/platform/config"
	"github.com/gridcommerce/checkout/internal/platform/events"
	pfirestore "github.com/gridcommerce/checkout/internal/platform/firestore"
	"github.com/gridcommerce/checkout/internal/platform/idempotency"
	"github.com/gridcommerce/checkout/internal/platform/observability"
	firestoreRepo "github.com/gridcommerce/checkout/internal/repositories/firestore"
	"github.com/gridcommerce/checkout/internal/shipping"
	"github.com/gridcommerce/checkout/internal/tax"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("checkout")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()

	eventsTopic := pubsubClient.Topic(cfg.PubSub.EventsTopic)
	// Events for one order share an ordering key; the topic must accept it.
	eventsTopic.EnableMessageOrdering = true
	defer eventsTopic.Stop()
	publisher, err := events.NewPubSubPublisher(eventsTopic)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}

	eventLog := observability.EventLogger()

	gatewayManager, err := buildPaymentManager(cfg, eventLog)
	if err != nil {
		logger.Fatal("failed to initialise payment gateways", zap.Error(err))
	}

	taxCalculator, err := buildTaxCalculator(cfg, eventLog)
	if err != nil {
		logger.Fatal("failed to initialise tax calculator", zap.Error(err))
	}

	shippingRegistry, err := buildShippingRegistry(cfg, eventLog)
	if err != nil {
		logger.Fatal("failed to initialise shipping registry", zap.Error(err))
	}

	container, err := di.NewContainer(di.Deps{
		Config:       cfg,
		Repositories: registry,
		Gateways:     gatewayManager,
		Pricer:       taxCalculator,
		Shipping:     shippingRegistry,
		Publisher:    publisher,
		Clock:        time.Now,
		IDGenerator: func(prefix string) string {
			return prefix + strings.ToLower(ulid.Make().String())
		},
		Logger: eventLog,
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}

	checkoutHandlers, err := handlers.NewCheckoutHandlers(container.Services.Orders)
	if err != nil {
		logger.Fatal("failed to initialise checkout handlers", zap.Error(err))
	}
	orderHandlers, err := handlers.NewOrderHandlers(container.Services.Orders, container.Services.OrderStatus)
	if err != nil {
		logger.Fatal("failed to initialise order handlers", zap.Error(err))
	}
	transactionHandlers, err := handlers.NewTransactionHandlers(container.Services.Transactions)
	if err != nil {
		logger.Fatal("failed to initialise transaction handlers", zap.Error(err))
	}

	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to obtain firestore client", zap.Error(err))
	}
	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)

	cleanupDone := make(chan struct{})
	go runIdempotencyCleanup(ctx, idempotencyStore, cfg.Idempotency, logger.Named("idempotency"), cleanupDone)

	projectID := cfg.Firestore.ProjectID
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		idempotency.Middleware(idempotencyStore,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithLogger(zap.NewStdLog(logger.Named("idempotency"))),
		),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(registry.Health())),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithTransactionRoutes(transactionHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("checkout api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")
	close(cleanupDone)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// runIdempotencyCleanup periodically deletes expired idempotency records so
// the collection does not grow without bound.
func runIdempotencyCleanup(ctx context.Context, store idempotency.Store, cfg config.IdempotencyConfig, log *zap.Logger, done <-chan struct{}) {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			removed, err := store.CleanupExpired(cleanupCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				log.Warn("idempotency cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				log.Debug("expired idempotency records removed", zap.Int("count", removed))
			}
		}
	}
}

// buildPaymentManager registers the Stripe gateway when an API key is
// configured and always keeps the manual gateway for offline methods such as
// cash on delivery.
func buildPaymentManager(cfg config.Config, log func(ctx context.Context, event string, fields map[string]any)) (*payments.Manager, error) {
	gateways := map[string]payments.Gateway{
		"manual": payments.NewManualGateway("manual"),
	}

	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		stripeGateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey: cfg.Stripe.APIKey,
			Logger: payments.StripeLogger(log),
			Clock:  time.Now,
		})
		if err != nil {
			return nil, err
		}
		gateways["stripe"] = stripeGateway
	}

	return payments.NewManager(gateways)
}

func buildTaxCalculator(cfg config.Config, log func(ctx context.Context, event string, fields map[string]any)) (*tax.Calculator, error) {
	registry := tax.NewRegistry(tax.Settings{
		ActiveProvider:         cfg.Tax.ActiveProvider,
		IgnoreACL:              cfg.Tax.IgnoreACL,
		IgnoreStoreLimitations: cfg.Tax.IgnoreStoreLimitations,
	})

	countryRates, err := tax.NewCountryRateProvider(tax.CountryRateProviderConfig{
		SystemName:     "tax.country_rates",
		DefaultCountry: cfg.Tax.BaseCountryCode,
		Rates:          defaultCountryRates(),
	})
	if err != nil {
		return nil, err
	}
	if err := registry.Register(countryRates); err != nil {
		return nil, err
	}

	return tax.NewCalculator(tax.CalculatorDeps{
		Registry: registry,
		Settings: tax.CalculatorSettings{
			RoundingMode:     cfg.Tax.RoundingMode,
			PricesIncludeTax: cfg.Tax.PricesIncludeTax,
			VATEnabled:       cfg.Tax.VATEnabled,
			BaseCountryCode:  cfg.Tax.BaseCountryCode,
			EUCountryCodes:   cfg.Tax.EUCountryCodes,
		},
		Logger: log,
	})
}

// defaultCountryRates is the built-in EU VAT table. A dedicated rate source
// replaces it per deployment; these values keep local wiring functional.
// Rates are percentages, matching how providers report them.
func defaultCountryRates() []tax.CountryRate {
	rate := func(country string, percent int64) tax.CountryRate {
		return tax.CountryRate{CountryCode: country, Rate: decimal.NewFromInt(percent)}
	}
	return []tax.CountryRate{
		rate("DE", 19),
		rate("AT", 20),
		rate("FR", 20),
		rate("NL", 21),
		rate("IT", 22),
		rate("ES", 21),
		rate("GB", 20),
	}
}

func buildShippingRegistry(cfg config.Config, log func(ctx context.Context, event string, fields map[string]any)) (*shipping.Registry, error) {
	registry := shipping.NewRegistry(shipping.RegistryDeps{
		Settings: shipping.Settings{ProviderTimeout: cfg.Shipping.ProviderTimeout},
		Logger:   log,
	})

	standard, err := shipping.NewWeightBandProvider(shipping.WeightBandProviderConfig{
		SystemName: "shipping.standard",
		MethodName: "Standard",
		Bands: []shipping.WeightBand{
			{MaxGrams: 1000, Rate: 500},
			{MaxGrams: 5000, Rate: 900},
			{MaxGrams: 20000, Rate: 1900},
		},
		TransitDays: 3,
	})
	if err != nil {
		return nil, err
	}
	if err := registry.Register(standard); err != nil {
		return nil, err
	}

	express, err := shipping.NewFixedRateProvider(shipping.FixedRateProviderConfig{
		SystemName:  "shipping.express",
		MethodName:  "Express",
		Rate:        1500,
		PerPackage:  true,
		TransitDays: 1,
	})
	if err != nil {
		return nil, err
	}
	if err := registry.Register(express); err != nil {
		return nil, err
	}

	return registry, nil
}
