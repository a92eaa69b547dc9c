package services

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/gridcommerce/checkout/internal/domain"
	"github.com/gridcommerce/checkout/internal/payments"
	"github.com/gridcommerce/checkout/internal/platform/events"
	"github.com/gridcommerce/checkout/internal/shipping"
	tax "github.com/gridcommerce/checkout/internal/tax"
)

// Logger is the logging callback services receive; cmd/api adapts it to zap.
type Logger func(ctx context.Context, event string, fields map[string]any)

// IDGenerator mints prefixed identifiers (ord_, ptx_, loy_).
type IDGenerator func(prefix string) string

// linePricer is the slice of the tax calculator the order pipeline consumes.
type linePricer interface {
	GetTaxProductPrice(ctx context.Context, product *domain.Product, customer *domain.Customer, address *domain.Address, storeID string, unitPrice int64, quantity int, discount int64, priceIncludesTax bool) (tax.LinePrice, error)
}

// shippingRates is the slice of the shipping registry the pipeline consumes.
type shippingRates interface {
	GetShippingOptions(ctx context.Context, customer *domain.Customer, storeID string, requests []shipping.OptionRequest) (shipping.OptionResponse, error)
	GetFixedRate(customer *domain.Customer, storeID string, requests []shipping.OptionRequest) (int64, bool)
}

// gatewayResolver abstracts payments.Manager for easier testing.
type gatewayResolver interface {
	Resolve(paymentMethod string) (payments.Gateway, error)
}

// eventPublisher abstracts events.Publisher for easier testing.
type eventPublisher interface {
	Publish(ctx context.Context, event events.Event) (string, error)
}

// orderStatusChecker lets the transaction service trigger the orchestrator
// after a settlement command without a package cycle.
type orderStatusChecker interface {
	CheckOrderStatus(ctx context.Context, orderID string) (domain.Order, error)
}

// PlaceOrderLine is one requested cart line.
type PlaceOrderLine struct {
	ProductID string
	Quantity  int
	// Discount is a per-line discount amount in the same tax representation
	// as catalog prices.
	Discount int64
}

// PlaceOrderCommand carries everything needed to turn a validated cart into
// a persisted order.
type PlaceOrderCommand struct {
	CustomerID      string
	StoreID         string
	CurrencyCode    string
	CurrencyRate    decimal.Decimal
	PaymentMethod   string
	BillingAddress  domain.Address
	ShippingAddress *domain.Address
	// ShippingOption selects a rate option by name; empty picks the cheapest.
	ShippingOption string
	Lines          []PlaceOrderLine
	// RedeemLoyaltyPoints applies the customer's point balance against the
	// payable total.
	RedeemLoyaltyPoints bool
	// GiftVoucherCodes are voucher codes sold with this order; they activate
	// once the order is paid.
	GiftVoucherCodes []string
}

// PlaceOrderResult is the outcome of a successful placement. On validation
// failure Warnings itemises every violated constraint.
type PlaceOrderResult struct {
	Order       domain.Order
	Transaction domain.PaymentTransaction
	Warnings    []string
}

// OrderService places orders and serves order reads.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, customerID string, limit int) ([]domain.Order, error)
}

// MarkAuthorizedCommand records a gateway authorization callback.
type MarkAuthorizedCommand struct {
	TransactionID   string
	AuthorizationID string
}

// TransactionService drives the payment transaction state machine. Every
// command is serialised per transaction id and persisted with an update-time
// precondition, so two concurrent captures cannot both succeed.
type TransactionService interface {
	GetTransaction(ctx context.Context, txID string) (domain.PaymentTransaction, error)
	ListByOrderCode(ctx context.Context, orderCode string) ([]domain.PaymentTransaction, error)
	MarkAuthorized(ctx context.Context, cmd MarkAuthorizedCommand) (domain.PaymentTransaction, error)
	Capture(ctx context.Context, txID string) (domain.PaymentTransaction, error)
	PartialPay(ctx context.Context, txID string, amount int64) (domain.PaymentTransaction, error)
	Refund(ctx context.Context, txID string) (domain.PaymentTransaction, error)
	PartialRefund(ctx context.Context, txID string, amount int64) (domain.PaymentTransaction, error)
	Void(ctx context.Context, txID string) (domain.PaymentTransaction, error)
}

// OrderStatusService reacts to payment and shipment changes. CheckOrderStatus
// is safe to call repeatedly; it never double-transitions the order or
// double-moves loyalty points.
type OrderStatusService interface {
	CheckOrderStatus(ctx context.Context, orderID string) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) (domain.Order, error)
	MarkShipped(ctx context.Context, orderID string) (domain.Order, error)
	MarkDelivered(ctx context.Context, orderID string) (domain.Order, error)
}
