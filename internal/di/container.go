package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridcommerce/checkout/internal/payments"
	"github.com/gridcommerce/checkout/internal/platform/config"
	"github.com/gridcommerce/checkout/internal/platform/events"
	"github.com/gridcommerce/checkout/internal/repositories"
	"github.com/gridcommerce/checkout/internal/services"
	"github.com/gridcommerce/checkout/internal/shipping"
	"github.com/gridcommerce/checkout/internal/tax"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders       services.OrderService
	OrderStatus  services.OrderStatusService
	Transactions services.TransactionService
}

// Deps carries everything needed to assemble the service layer. Production
// wiring provides Firestore-backed repositories and real gateways; tests can
// supply in-memory registries.
type Deps struct {
	Config       config.Config
	Repositories repositories.Registry
	Gateways     *payments.Manager
	Pricer       *tax.Calculator
	Shipping     *shipping.Registry
	Publisher    events.Publisher
	Clock        func() time.Time
	IDGenerator  services.IDGenerator
	Logger       services.Logger
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. The order status service
// is wired into the transaction service so every settlement command triggers
// order reconciliation.
func NewContainer(deps Deps) (*Container, error) {
	if deps.Repositories == nil {
		return nil, errors.New("di: repositories registry is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("di: payment gateway manager is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("di: tax calculator is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("di: shipping registry is required")
	}

	reg := deps.Repositories
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	orderStatus, err := services.NewOrderStatusService(services.OrderStatusServiceDeps{
		Orders:       reg.Orders(),
		Transactions: reg.Transactions(),
		Loyalty:      reg.Loyalty(),
		GiftVouchers: reg.GiftVouchers(),
		Publisher:    deps.Publisher,
		Clock:        clock,
		IDGenerator:  deps.IDGenerator,
		Logger:       deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("di: build order status service: %w", err)
	}

	transactions, err := services.NewTransactionService(services.TransactionServiceDeps{
		Transactions: reg.Transactions(),
		Gateways:     deps.Gateways,
		Publisher:    deps.Publisher,
		OrderStatus:  orderStatus,
		Clock:        clock,
		Logger:       deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("di: build transaction service: %w", err)
	}

	orders, err := services.NewPlaceOrderService(services.PlaceOrderServiceDeps{
		Orders:       reg.Orders(),
		Transactions: reg.Transactions(),
		Counters:     reg.Counters(),
		Catalog:      reg.Catalog(),
		Customers:    reg.Customers(),
		Loyalty:      reg.Loyalty(),
		Pricer:       deps.Pricer,
		Shipping:     deps.Shipping,
		Publisher:    deps.Publisher,
		Settings: services.CheckoutSettings{
			MinOrderSubtotal: deps.Config.Checkout.MinOrderSubtotal,
			MaxOrderTotal:    deps.Config.Checkout.MaxOrderTotal,
			PricesIncludeTax: deps.Config.Tax.PricesIncludeTax,
			PointsForAmount:  deps.Config.Loyalty.PointsForAmount,
			RedeemValue:      deps.Config.Loyalty.RedeemValue,
		},
		Clock:       clock,
		IDGenerator: deps.IDGenerator,
		Logger:      deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("di: build order service: %w", err)
	}

	return &Container{
		Config:       deps.Config,
		Repositories: reg,
		Services: Services{
			Orders:       orders,
			OrderStatus:  orderStatus,
			Transactions: transactions,
		},
	}, nil
}

// Close releases repository resources.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}
