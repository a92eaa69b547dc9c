package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/gridcommerce/checkout/internal/domain"
	"github.com/gridcommerce/checkout/internal/platform/events"
	"github.com/gridcommerce/checkout/internal/repositories"
	"github.com/gridcommerce/checkout/internal/shipping"
)

const orderNumberCounter = "orders"

var (
	// ErrOrderInvalidInput indicates the caller supplied malformed input.
	ErrOrderInvalidInput = errors.New("orders: invalid input")
	// ErrOrderValidation indicates the cart failed re-validation; the result
	// carries the itemised warning list.
	ErrOrderValidation = errors.New("orders: validation failed")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("orders: not found")
	// ErrOrderConflict indicates a concurrent modification.
	ErrOrderConflict = errors.New("orders: conflict")
	// ErrOrderUnavailable indicates order dependencies are unavailable.
	ErrOrderUnavailable = errors.New("orders: unavailable")
)

// CheckoutSettings is the immutable per-process snapshot the pipeline
// validates carts against.
type CheckoutSettings struct {
	// MinOrderSubtotal and MaxOrderTotal bound the payable order, minor units.
	// Zero disables the respective bound.
	MinOrderSubtotal int64
	MaxOrderTotal    int64
	// PricesIncludeTax declares the representation of catalog prices.
	PricesIncludeTax bool
	// PointsForAmount is how many minor units earn one loyalty point.
	PointsForAmount int64
	// RedeemValue is the minor-unit value of one redeemed point.
	RedeemValue int64
}

// PlaceOrderServiceDeps wires the dependencies of the order pipeline.
type PlaceOrderServiceDeps struct {
	Orders       repositories.OrderRepository
	Transactions repositories.TransactionRepository
	Counters     repositories.CounterRepository
	Catalog      repositories.CatalogRepository
	Customers    repositories.CustomerRepository
	Loyalty      repositories.LoyaltyRepository
	Pricer       linePricer
	Shipping     shippingRates
	Publisher    eventPublisher
	Settings     CheckoutSettings
	Clock        func() time.Time
	IDGenerator  IDGenerator
	Logger       Logger
}

type placeOrderService struct {
	orders       repositories.OrderRepository
	transactions repositories.TransactionRepository
	counters     repositories.CounterRepository
	catalog      repositories.CatalogRepository
	customers    repositories.CustomerRepository
	loyalty      repositories.LoyaltyRepository
	pricer       linePricer
	shipping     shippingRates
	publisher    eventPublisher
	settings     CheckoutSettings
	now          func() time.Time
	newID        IDGenerator
	logger       Logger
}

// NewPlaceOrderService constructs the OrderService validating required
// dependencies.
func NewPlaceOrderService(deps PlaceOrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("place order service: order repository is required")
	}
	if deps.Transactions == nil {
		return nil, errors.New("place order service: transaction repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("place order service: counter repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("place order service: catalog repository is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("place order service: customer repository is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("place order service: tax calculator is required")
	}
	if deps.IDGenerator == nil {
		return nil, errors.New("place order service: id generator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	settings := deps.Settings
	if settings.PointsForAmount <= 0 {
		settings.PointsForAmount = 1000
	}
	if settings.RedeemValue <= 0 {
		settings.RedeemValue = 1
	}

	return &placeOrderService{
		orders:       deps.Orders,
		transactions: deps.Transactions,
		counters:     deps.Counters,
		catalog:      deps.Catalog,
		customers:    deps.Customers,
		loyalty:      deps.Loyalty,
		pricer:       deps.Pricer,
		shipping:     deps.Shipping,
		publisher:    deps.Publisher,
		settings:     settings,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  deps.IDGenerator,
		logger: logger,
	}, nil
}

// PlaceOrder runs the checkout pipeline: re-validate, price, ship, reward,
// number, persist. Validation failures return the full warning list before
// anything is written; a failure after number allocation burns the number.
func (s *placeOrderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	currency := strings.ToUpper(strings.TrimSpace(cmd.CurrencyCode))
	paymentMethod := strings.TrimSpace(cmd.PaymentMethod)
	if customerID == "" || currency == "" || paymentMethod == "" {
		return PlaceOrderResult{}, fmt.Errorf("%w: customer, currency and payment method are required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return PlaceOrderResult{}, fmt.Errorf("%w: the cart is empty", ErrOrderInvalidInput)
	}

	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return PlaceOrderResult{}, s.translateRepoError(err)
	}

	lines, warnings, err := s.resolveLines(ctx, cmd.Lines)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	// Tax follows the destination: the shipping address when the order
	// ships, the billing address otherwise.
	taxAddress := cmd.ShippingAddress
	if taxAddress == nil {
		taxAddress = &cmd.BillingAddress
	}
	items, itemWarnings, err := s.priceLines(ctx, &customer, taxAddress, strings.TrimSpace(cmd.StoreID), lines)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	warnings = append(warnings, itemWarnings...)

	order := domain.Order{
		CustomerID:      customerID,
		CustomerGroups:  customer.Groups,
		StoreID:         strings.TrimSpace(cmd.StoreID),
		CurrencyCode:    currency,
		CurrencyRate:    cmd.CurrencyRate,
		PaymentMethod:   paymentMethod,
		BillingAddress:  cmd.BillingAddress,
		ShippingAddress: cmd.ShippingAddress.Clone(),
		Items:           items,
		Status:          domain.OrderStatusPending,
		ShippingStatus:  domain.ShippingStatusNotRequired,
		VoucherCodes:    cmd.GiftVoucherCodes,
	}

	shippingWarnings := s.resolveShipping(ctx, &order, &customer, cmd.ShippingOption)
	warnings = append(warnings, shippingWarnings...)

	order.RecalculateTotals()
	warnings = append(warnings, s.validateBounds(order)...)

	// Points are earned on the pre-redemption total so redeeming cannot
	// compound rewards.
	order.LoyaltyAwarded = int(order.Totals.Total / s.settings.PointsForAmount)

	if cmd.RedeemLoyaltyPoints {
		if warning := s.applyRedemption(ctx, &order, customerID); warning != "" {
			warnings = append(warnings, warning)
		}
	}

	if len(warnings) > 0 {
		return PlaceOrderResult{Warnings: warnings}, ErrOrderValidation
	}

	number, err := s.counters.Next(ctx, orderNumberCounter)
	if err != nil {
		return PlaceOrderResult{}, s.translateRepoError(err)
	}

	now := s.now()
	order.ID = s.newID("ord_")
	order.Number = number
	order.Code = fmt.Sprintf("ORD-%06d", number)
	order.CreatedAt = now
	order.UpdatedAt = now

	if err := s.orders.Insert(ctx, order); err != nil {
		s.logger(ctx, "orders.persist_failed", map[string]any{
			"orderCode": order.Code,
			"error":     err.Error(),
		})
		return PlaceOrderResult{}, s.translateRepoError(err)
	}

	transaction := domain.PaymentTransaction{
		ID:            s.newID("ptx_"),
		OrderID:       order.ID,
		OrderCode:     order.Code,
		CustomerID:    customerID,
		StoreID:       order.StoreID,
		PaymentMethod: paymentMethod,
		Status:        domain.TransactionPending,
		CurrencyCode:  currency,
		CurrencyRate:  cmd.CurrencyRate,
		Amount:        order.Totals.Total,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.transactions.Insert(ctx, transaction); err != nil {
		s.logger(ctx, "orders.transaction_persist_failed", map[string]any{
			"orderCode": order.Code,
			"error":     err.Error(),
		})
		return PlaceOrderResult{}, s.translateRepoError(err)
	}

	s.recordRedemption(ctx, order)
	s.publish(ctx, "order.placed", order, map[string]any{
		"total":    order.Totals.Total,
		"currency": order.CurrencyCode,
	})

	return PlaceOrderResult{Order: order, Transaction: transaction}, nil
}

// GetOrder loads one order by id.
func (s *placeOrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}
	return order, nil
}

// ListOrders returns the customer's most recent orders.
func (s *placeOrderService) ListOrders(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	orders, err := s.orders.ListByCustomer(ctx, customerID, limit)
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	return orders, nil
}

type resolvedLine struct {
	product  domain.Product
	quantity int
	discount int64
}

// resolveLines loads products, checks quantity bounds, and injects required
// products not already present in the cart.
func (s *placeOrderService) resolveLines(ctx context.Context, requested []PlaceOrderLine) ([]resolvedLine, []string, error) {
	ids := make([]string, 0, len(requested))
	quantities := make(map[string]int, len(requested))
	discounts := make(map[string]int64, len(requested))
	for _, line := range requested {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, nil, fmt.Errorf("%w: line without product id", ErrOrderInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, nil, fmt.Errorf("%w: product %s has no quantity", ErrOrderInvalidInput, id)
		}
		if line.Discount < 0 {
			return nil, nil, fmt.Errorf("%w: product %s has a negative discount", ErrOrderInvalidInput, id)
		}
		if _, seen := quantities[id]; !seen {
			ids = append(ids, id)
		}
		quantities[id] += line.Quantity
		discounts[id] += line.Discount
	}

	products, err := s.catalog.FindProducts(ctx, ids)
	if err != nil {
		return nil, nil, s.translateRepoError(err)
	}

	var warnings []string
	// Required products ride along with quantity one unless already in the cart.
	var requiredIDs []string
	for _, id := range ids {
		product, ok := products[id]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("product %s is no longer available", id))
			continue
		}
		for _, reqID := range product.RequiredProductIDs {
			if _, inCart := quantities[reqID]; inCart {
				continue
			}
			quantities[reqID] = 1
			requiredIDs = append(requiredIDs, reqID)
		}
	}
	if len(requiredIDs) > 0 {
		sort.Strings(requiredIDs)
		required, err := s.catalog.FindProducts(ctx, requiredIDs)
		if err != nil {
			return nil, nil, s.translateRepoError(err)
		}
		for _, id := range requiredIDs {
			product, ok := required[id]
			if !ok {
				warnings = append(warnings, fmt.Sprintf("required product %s is no longer available", id))
				continue
			}
			products[id] = product
			ids = append(ids, id)
		}
	}

	lines := make([]resolvedLine, 0, len(ids))
	for _, id := range ids {
		product, ok := products[id]
		if !ok {
			continue
		}
		qty := quantities[id]
		if !product.Published {
			warnings = append(warnings, fmt.Sprintf("product %s is not published", id))
			continue
		}
		if product.MinCartQty > 0 && qty < product.MinCartQty {
			warnings = append(warnings, fmt.Sprintf("product %s requires at least %d units", id, product.MinCartQty))
		}
		if product.MaxCartQty > 0 && qty > product.MaxCartQty {
			warnings = append(warnings, fmt.Sprintf("product %s allows at most %d units", id, product.MaxCartQty))
		}
		lines = append(lines, resolvedLine{product: product, quantity: qty, discount: discounts[id]})
	}
	return lines, warnings, nil
}

// priceLines turns resolved lines into order items through the tax calculator
// so the incl/excl pair stays derived, never computed independently. address
// is the tax destination for every line.
func (s *placeOrderService) priceLines(ctx context.Context, customer *domain.Customer, address *domain.Address, storeID string, lines []resolvedLine) ([]domain.OrderItem, []string, error) {
	items := make([]domain.OrderItem, 0, len(lines))
	var warnings []string
	for _, line := range lines {
		price, err := s.pricer.GetTaxProductPrice(ctx, &line.product, customer, address, storeID, line.product.Price, line.quantity, line.discount, s.settings.PricesIncludeTax)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: pricing %s: %v", ErrOrderInvalidInput, line.product.ID, err)
		}
		if price.SubtotalInclTax < price.DiscountInclTax {
			warnings = append(warnings, fmt.Sprintf("discount on product %s exceeds its subtotal", line.product.ID))
		}
		items = append(items, domain.OrderItem{
			ProductID:        line.product.ID,
			SKU:              line.product.SKU,
			Name:             line.product.Name,
			Quantity:         line.quantity,
			UnitPriceExclTax: price.UnitPriceExclTax,
			UnitPriceInclTax: price.UnitPriceInclTax,
			DiscountExclTax:  price.DiscountExclTax,
			DiscountInclTax:  price.DiscountInclTax,
			SubtotalExclTax:  price.SubtotalExclTax,
			SubtotalInclTax:  price.SubtotalInclTax,
			TaxRate:          price.Rate,
			ShippingRequired: line.product.ShippingRequired,
			WeightGrams:      line.product.WeightGrams,
			WarehouseID:      line.product.WarehouseID,
		})
	}
	return items, warnings, nil
}

// resolveShipping picks the selected or cheapest rate option. Provider errors
// surface as warnings only when they leave a shippable cart without options.
func (s *placeOrderService) resolveShipping(ctx context.Context, order *domain.Order, customer *domain.Customer, selected string) []string {
	cartLines := make([]shipping.CartLine, 0, len(order.Items))
	for _, item := range order.Items {
		cartLines = append(cartLines, shipping.CartLine{
			ProductID:        item.ProductID,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPriceInclTax,
			WeightGrams:      item.WeightGrams,
			WarehouseID:      item.WarehouseID,
			ShippingRequired: item.ShippingRequired,
		})
	}

	requests, err := shipping.BuildOptionRequests(customer, order.StoreID, order.ShippingAddress, cartLines)
	if err != nil {
		if order.RequiresShipping() {
			return []string{"a shipping address is required"}
		}
		return nil
	}
	if len(requests) == 0 {
		order.ShippingStatus = domain.ShippingStatusNotRequired
		return nil
	}
	order.ShippingStatus = domain.ShippingStatusNotYetShipped

	if s.shipping == nil {
		return []string{"no shipping options available"}
	}

	// Fixed-rate fast path: skip rate shopping when a single provider can
	// quote one flat rate and the caller did not pin an option.
	if selected == "" {
		if rate, ok := s.shipping.GetFixedRate(customer, order.StoreID, requests); ok {
			order.ShippingMethod = "Standard"
			order.Totals.Shipping = rate
			return nil
		}
	}

	response, err := s.shipping.GetShippingOptions(ctx, customer, order.StoreID, requests)
	if err != nil {
		s.logger(ctx, "orders.shipping_failed", map[string]any{"error": err.Error()})
		return []string{"no shipping options available"}
	}
	if !response.HasOptions() {
		warnings := []string{"no shipping options available"}
		return append(warnings, response.Errors...)
	}

	option := response.Options[0]
	if selected != "" {
		found := false
		for _, candidate := range response.Options {
			if strings.EqualFold(candidate.Name, selected) {
				option = candidate
				found = true
				break
			}
		}
		if !found {
			return []string{fmt.Sprintf("shipping option %q is not available", selected)}
		}
	}
	order.ShippingMethod = option.Name
	order.Totals.Shipping = option.Rate
	return nil
}

func (s *placeOrderService) validateBounds(order domain.Order) []string {
	var warnings []string
	subtotal := order.Totals.SubtotalInclTax - order.Totals.Discount
	if s.settings.MinOrderSubtotal > 0 && subtotal < s.settings.MinOrderSubtotal {
		warnings = append(warnings, fmt.Sprintf("order subtotal %d is below the minimum of %d", subtotal, s.settings.MinOrderSubtotal))
	}
	if s.settings.MaxOrderTotal > 0 && order.Totals.Total > s.settings.MaxOrderTotal {
		warnings = append(warnings, fmt.Sprintf("order total %d exceeds the maximum of %d", order.Totals.Total, s.settings.MaxOrderTotal))
	}
	return warnings
}

// applyRedemption converts the customer's point balance into a payable-total
// reduction. The award figure is already fixed at this point.
func (s *placeOrderService) applyRedemption(ctx context.Context, order *domain.Order, customerID string) string {
	if s.loyalty == nil {
		return "loyalty redemption is not available"
	}
	balance, err := s.loyalty.Balance(ctx, customerID)
	if err != nil {
		s.logger(ctx, "orders.loyalty_balance_failed", map[string]any{
			"customerId": customerID,
			"error":      err.Error(),
		})
		return "loyalty redemption is not available"
	}
	if balance <= 0 {
		return "no loyalty points available to redeem"
	}

	value := int64(balance) * s.settings.RedeemValue
	if value > order.Totals.Total {
		value = order.Totals.Total
	}
	points := int(value / s.settings.RedeemValue)
	order.LoyaltyRedeemed = points
	order.Totals.RedeemedAmount = int64(points) * s.settings.RedeemValue
	order.RecalculateTotals()
	return ""
}

// recordRedemption appends the negative ledger entry after the order exists.
// A failure here is logged, not fatal: the balance correction can be replayed.
func (s *placeOrderService) recordRedemption(ctx context.Context, order domain.Order) {
	if s.loyalty == nil || order.LoyaltyRedeemed <= 0 {
		return
	}
	err := s.loyalty.Append(ctx, domain.LoyaltyEntry{
		ID:         s.newID("loy_"),
		CustomerID: order.CustomerID,
		OrderID:    order.ID,
		Points:     -order.LoyaltyRedeemed,
		Reason:     domain.LoyaltyReasonRedemption,
		Message:    fmt.Sprintf("redeemed against order %s", order.Code),
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.logger(ctx, "orders.loyalty_redeem_failed", map[string]any{
			"orderCode": order.Code,
			"error":     err.Error(),
		})
	}
}

func (s *placeOrderService) publish(ctx context.Context, eventType string, order domain.Order, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	_, err := s.publisher.Publish(ctx, events.Event{
		ID:         s.newID("evt_"),
		Type:       eventType,
		OccurredAt: s.now(),
		OrderID:    order.ID,
		OrderCode:  order.Code,
		StoreID:    order.StoreID,
		Payload:    payload,
	})
	if err != nil {
		s.logger(ctx, "orders.publish_failed", map[string]any{
			"eventType": eventType,
			"orderCode": order.Code,
			"error":     err.Error(),
		})
	}
}

func (s *placeOrderService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}
