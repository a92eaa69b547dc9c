package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the lifecycle states of an order aggregate.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusComplete   OrderStatus = "complete"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// ShippingStatus tracks fulfilment progress independently of the order status.
type ShippingStatus string

const (
	ShippingStatusNotRequired      ShippingStatus = "not_required"
	ShippingStatusNotYetShipped    ShippingStatus = "not_yet_shipped"
	ShippingStatusPartiallyShipped ShippingStatus = "partially_shipped"
	ShippingStatusShipped          ShippingStatus = "shipped"
	ShippingStatusDelivered        ShippingStatus = "delivered"
)

// Address is a value object. Orders carry copies, never references, so later
// edits to a customer's address book do not rewrite order history.
type Address struct {
	FirstName   string `firestore:"firstName,omitempty"`
	LastName    string `firestore:"lastName,omitempty"`
	Company     string `firestore:"company,omitempty"`
	Line1       string `firestore:"line1"`
	Line2       string `firestore:"line2,omitempty"`
	City        string `firestore:"city"`
	Region      string `firestore:"region,omitempty"`
	PostalCode  string `firestore:"postalCode"`
	CountryCode string `firestore:"countryCode"`
	Phone       string `firestore:"phone,omitempty"`
}

// Clone returns a copy of the address suitable for embedding into an order.
func (a *Address) Clone() *Address {
	if a == nil {
		return nil
	}
	cloned := *a
	return &cloned
}

// OrderItem is owned by its order and has no identity outside of it.
// Monetary amounts are minor units in the order currency; the incl/excl tax
// pair is always derived by the tax calculator, never computed independently.
type OrderItem struct {
	ProductID        string          `firestore:"productId"`
	SKU              string          `firestore:"sku,omitempty"`
	Name             string          `firestore:"name,omitempty"`
	Quantity         int             `firestore:"quantity"`
	UnitPriceExclTax int64           `firestore:"unitPriceExclTax"`
	UnitPriceInclTax int64           `firestore:"unitPriceInclTax"`
	DiscountExclTax  int64           `firestore:"discountExclTax"`
	DiscountInclTax  int64           `firestore:"discountInclTax"`
	SubtotalExclTax  int64           `firestore:"subtotalExclTax"`
	SubtotalInclTax  int64           `firestore:"subtotalInclTax"`
	TaxRate          decimal.Decimal `firestore:"taxRate"`
	ShippingRequired bool            `firestore:"shippingRequired"`
	WeightGrams      int             `firestore:"weightGrams,omitempty"`
	WarehouseID      string          `firestore:"warehouseId,omitempty"`
	ShippedQty       int             `firestore:"shippedQty"`
	CancelledQty     int             `firestore:"cancelledQty"`
	ReturnedQty      int             `firestore:"returnedQty"`
}

// OpenQty reports how many units are still unfulfilled. The counters are
// maintained so that the result is never negative.
func (i OrderItem) OpenQty() int {
	open := i.Quantity - i.ShippedQty - i.CancelledQty - i.ReturnedQty
	if open < 0 {
		return 0
	}
	return open
}

// OrderTotals is the denormalised money summary for an order, minor units.
type OrderTotals struct {
	SubtotalExclTax int64 `firestore:"subtotalExclTax"`
	SubtotalInclTax int64 `firestore:"subtotalInclTax"`
	Discount        int64 `firestore:"discount"`
	Shipping        int64 `firestore:"shipping"`
	Tax             int64 `firestore:"tax"`
	RedeemedAmount  int64 `firestore:"redeemedAmount"`
	Total           int64 `firestore:"total"`
}

// Order is the aggregate root produced by the checkout pipeline. Items are
// embedded so the whole aggregate persists as a single document.
type Order struct {
	ID              string          `firestore:"-"`
	Number          int64           `firestore:"number"`
	Code            string          `firestore:"code"`
	CustomerID      string          `firestore:"customerId"`
	CustomerGroups  []string        `firestore:"customerGroups,omitempty"`
	StoreID         string          `firestore:"storeId"`
	CurrencyCode    string          `firestore:"currencyCode"`
	CurrencyRate    decimal.Decimal `firestore:"currencyRate"`
	PaymentMethod   string          `firestore:"paymentMethod"`
	ShippingMethod  string          `firestore:"shippingMethod,omitempty"`
	BillingAddress  Address         `firestore:"billingAddress"`
	ShippingAddress *Address        `firestore:"shippingAddress,omitempty"`
	Items           []OrderItem     `firestore:"items"`
	Totals          OrderTotals     `firestore:"totals"`
	Status          OrderStatus     `firestore:"status"`
	ShippingStatus  ShippingStatus  `firestore:"shippingStatus"`
	LoyaltyAwarded  int             `firestore:"loyaltyAwarded"`
	LoyaltyRedeemed int             `firestore:"loyaltyRedeemed"`
	VoucherCodes    []string        `firestore:"voucherCodes,omitempty"`
	CreatedAt       time.Time       `firestore:"createdAt"`
	UpdatedAt       time.Time       `firestore:"updatedAt"`
	PaidAt          *time.Time      `firestore:"paidAt,omitempty"`
	CompletedAt     *time.Time      `firestore:"completedAt,omitempty"`
	CancelledAt     *time.Time      `firestore:"cancelledAt,omitempty"`
}

// RecalculateTotals rebuilds the totals block from the item lines plus the
// shipping and redemption figures already present. The invariant
// total = inclusive subtotal + shipping - discounts - redeemed holds by
// construction; callers mutate items and then recalculate, totals never drift.
// Tax is the gap between the inclusive and exclusive subtotals. It is already
// part of the inclusive subtotal, so it never feeds back into the total.
func (o *Order) RecalculateTotals() {
	var subExcl, subIncl, discount int64
	for _, item := range o.Items {
		subExcl += item.SubtotalExclTax
		subIncl += item.SubtotalInclTax
		discount += item.DiscountInclTax
	}
	o.Totals.SubtotalExclTax = subExcl
	o.Totals.SubtotalInclTax = subIncl
	o.Totals.Discount = discount
	o.Totals.Tax = subIncl - subExcl

	total := subIncl - discount + o.Totals.Shipping - o.Totals.RedeemedAmount
	if total < 0 {
		total = 0
	}
	o.Totals.Total = total
}

// RequiresShipping reports whether any line still needs physical fulfilment.
func (o *Order) RequiresShipping() bool {
	for _, item := range o.Items {
		if item.ShippingRequired {
			return true
		}
	}
	return false
}

// FullyShipped reports whether every shippable line has no open quantity left.
func (o *Order) FullyShipped() bool {
	for _, item := range o.Items {
		if item.ShippingRequired && item.OpenQty() > 0 {
			return false
		}
	}
	return true
}
