package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/gridcommerce/checkout/internal/domain"
	"github.com/gridcommerce/checkout/internal/platform/httpx"
	"github.com/gridcommerce/checkout/internal/services"
)

type addressPayload struct {
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Company     string `json:"company,omitempty"`
	Line1       string `json:"line1"`
	Line2       string `json:"line2,omitempty"`
	City        string `json:"city"`
	Region      string `json:"region,omitempty"`
	PostalCode  string `json:"postalCode"`
	CountryCode string `json:"countryCode"`
	Phone       string `json:"phone,omitempty"`
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Company:     p.Company,
		Line1:       p.Line1,
		Line2:       p.Line2,
		City:        p.City,
		Region:      p.Region,
		PostalCode:  p.PostalCode,
		CountryCode: p.CountryCode,
		Phone:       p.Phone,
	}
}

func buildAddressPayload(a domain.Address) addressPayload {
	return addressPayload{
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		Company:     a.Company,
		Line1:       a.Line1,
		Line2:       a.Line2,
		City:        a.City,
		Region:      a.Region,
		PostalCode:  a.PostalCode,
		CountryCode: a.CountryCode,
		Phone:       a.Phone,
	}
}

type orderItemPayload struct {
	ProductID        string          `json:"productId"`
	SKU              string          `json:"sku,omitempty"`
	Name             string          `json:"name,omitempty"`
	Quantity         int             `json:"quantity"`
	UnitPriceExclTax int64           `json:"unitPriceExclTax"`
	UnitPriceInclTax int64           `json:"unitPriceInclTax"`
	SubtotalExclTax  int64           `json:"subtotalExclTax"`
	SubtotalInclTax  int64           `json:"subtotalInclTax"`
	DiscountInclTax  int64           `json:"discountInclTax,omitempty"`
	TaxRate          decimal.Decimal `json:"taxRate"`
	OpenQuantity     int             `json:"openQuantity"`
}

type orderTotalsPayload struct {
	SubtotalExclTax int64 `json:"subtotalExclTax"`
	SubtotalInclTax int64 `json:"subtotalInclTax"`
	Discount        int64 `json:"discount"`
	Shipping        int64 `json:"shipping"`
	Tax             int64 `json:"tax"`
	RedeemedAmount  int64 `json:"redeemedAmount"`
	Total           int64 `json:"total"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	Number          int64              `json:"number"`
	Code            string             `json:"code"`
	CustomerID      string             `json:"customerId"`
	StoreID         string             `json:"storeId,omitempty"`
	Currency        string             `json:"currency"`
	CurrencyRate    decimal.Decimal    `json:"currencyRate"`
	PaymentMethod   string             `json:"paymentMethod"`
	ShippingMethod  string             `json:"shippingMethod,omitempty"`
	Status          string             `json:"status"`
	ShippingStatus  string             `json:"shippingStatus"`
	BillingAddress  addressPayload     `json:"billingAddress"`
	ShippingAddress *addressPayload    `json:"shippingAddress,omitempty"`
	Items           []orderItemPayload `json:"items"`
	Totals          orderTotalsPayload `json:"totals"`
	LoyaltyAwarded  int                `json:"loyaltyAwarded,omitempty"`
	LoyaltyRedeemed int                `json:"loyaltyRedeemed,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	PaidAt          *time.Time         `json:"paidAt,omitempty"`
	CompletedAt     *time.Time         `json:"completedAt,omitempty"`
	CancelledAt     *time.Time         `json:"cancelledAt,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID:        item.ProductID,
			SKU:              item.SKU,
			Name:             item.Name,
			Quantity:         item.Quantity,
			UnitPriceExclTax: item.UnitPriceExclTax,
			UnitPriceInclTax: item.UnitPriceInclTax,
			SubtotalExclTax:  item.SubtotalExclTax,
			SubtotalInclTax:  item.SubtotalInclTax,
			DiscountInclTax:  item.DiscountInclTax,
			TaxRate:          item.TaxRate,
			OpenQuantity:     item.OpenQty(),
		})
	}
	payload := orderPayload{
		ID:             order.ID,
		Number:         order.Number,
		Code:           order.Code,
		CustomerID:     order.CustomerID,
		StoreID:        order.StoreID,
		Currency:       order.CurrencyCode,
		CurrencyRate:   order.CurrencyRate,
		PaymentMethod:  order.PaymentMethod,
		ShippingMethod: order.ShippingMethod,
		Status:         string(order.Status),
		ShippingStatus: string(order.ShippingStatus),
		BillingAddress: buildAddressPayload(order.BillingAddress),
		Items:          items,
		Totals: orderTotalsPayload{
			SubtotalExclTax: order.Totals.SubtotalExclTax,
			SubtotalInclTax: order.Totals.SubtotalInclTax,
			Discount:        order.Totals.Discount,
			Shipping:        order.Totals.Shipping,
			Tax:             order.Totals.Tax,
			RedeemedAmount:  order.Totals.RedeemedAmount,
			Total:           order.Totals.Total,
		},
		LoyaltyAwarded:  order.LoyaltyAwarded,
		LoyaltyRedeemed: order.LoyaltyRedeemed,
		CreatedAt:       order.CreatedAt,
		PaidAt:          order.PaidAt,
		CompletedAt:     order.CompletedAt,
		CancelledAt:     order.CancelledAt,
	}
	if order.ShippingAddress != nil {
		shipTo := buildAddressPayload(*order.ShippingAddress)
		payload.ShippingAddress = &shipTo
	}
	return payload
}

type transactionPayload struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"orderId"`
	OrderCode       string          `json:"orderCode"`
	PaymentMethod   string          `json:"paymentMethod"`
	Status          string          `json:"status"`
	Currency        string          `json:"currency"`
	CurrencyRate    decimal.Decimal `json:"currencyRate"`
	Amount          int64           `json:"amount"`
	PaidAmount      int64           `json:"paidAmount"`
	RefundedAmount  int64           `json:"refundedAmount"`
	AuthorizationID string          `json:"authorizationId,omitempty"`
	CaptureID       string          `json:"captureId,omitempty"`
	Errors          []string        `json:"errors,omitempty"`
	Temp            bool            `json:"temp,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	RefundedAt      *time.Time      `json:"refundedAt,omitempty"`
	VoidedAt        *time.Time      `json:"voidedAt,omitempty"`
}

func buildTransactionPayload(tx domain.PaymentTransaction) transactionPayload {
	return transactionPayload{
		ID:              tx.ID,
		OrderID:         tx.OrderID,
		OrderCode:       tx.OrderCode,
		PaymentMethod:   tx.PaymentMethod,
		Status:          string(tx.Status),
		Currency:        tx.CurrencyCode,
		CurrencyRate:    tx.CurrencyRate,
		Amount:          tx.Amount,
		PaidAmount:      tx.PaidAmount,
		RefundedAmount:  tx.RefundedAmount,
		AuthorizationID: tx.AuthorizationID,
		CaptureID:       tx.CaptureID,
		Errors:          tx.Errors,
		Temp:            tx.Temp,
		CreatedAt:       tx.CreatedAt,
		PaidAt:          tx.PaidAt,
		RefundedAt:      tx.RefundedAt,
		VoidedAt:        tx.VoidedAt,
	}
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeServiceError maps service sentinels to the canonical error envelope.
// Validation failures carry the itemised warning list; gateway failures keep
// the gateway's message text.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error, warnings []string) {
	switch {
	case errors.Is(err, services.ErrOrderValidation):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_validation_failed", "the cart failed validation", http.StatusBadRequest).WithWarnings(warnings))
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrTransactionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrTransactionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("transaction_not_found", "transaction not found", http.StatusNotFound))
	case errors.Is(err, domain.ErrTransactionTransition),
		errors.Is(err, domain.ErrTransactionAmount),
		errors.Is(err, services.ErrOrderStatusTransition):
		httpx.WriteError(ctx, w, httpx.NewError("illegal_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict),
		errors.Is(err, services.ErrTransactionConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "the resource was modified concurrently", http.StatusConflict))
	case errors.Is(err, services.ErrTransactionGateway):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_failure", err.Error(), http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "the service is temporarily unavailable", http.StatusServiceUnavailable))
	}
}
