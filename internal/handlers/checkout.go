package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/gridcommerce/checkout/internal/platform/httpx"
	"github.com/gridcommerce/checkout/internal/services"
)

// CheckoutHandlers exposes the order placement endpoint.
type CheckoutHandlers struct {
	orders services.OrderService
}

// NewCheckoutHandlers constructs a CheckoutHandlers instance.
func NewCheckoutHandlers(orders services.OrderService) (*CheckoutHandlers, error) {
	if orders == nil {
		return nil, errors.New("handlers: order service is required")
	}
	return &CheckoutHandlers{orders: orders}, nil
}

// Routes registers the checkout endpoints on the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	r.Post("/orders", h.PlaceOrder)
}

type placeOrderLineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Discount  int64  `json:"discount,omitempty"`
}

type placeOrderRequest struct {
	CustomerID          string                  `json:"customerId"`
	StoreID             string                  `json:"storeId"`
	Currency            string                  `json:"currency"`
	CurrencyRate        decimal.Decimal         `json:"currencyRate"`
	PaymentMethod       string                  `json:"paymentMethod"`
	BillingAddress      addressPayload          `json:"billingAddress"`
	ShippingAddress     *addressPayload         `json:"shippingAddress,omitempty"`
	ShippingOption      string                  `json:"shippingOption,omitempty"`
	Lines               []placeOrderLineRequest `json:"lines"`
	RedeemLoyaltyPoints bool                    `json:"redeemLoyaltyPoints,omitempty"`
	GiftVoucherCodes    []string                `json:"giftVoucherCodes,omitempty"`
}

type placeOrderResponse struct {
	Order       orderPayload       `json:"order"`
	Transaction transactionPayload `json:"transaction"`
}

// PlaceOrder handles POST /v1/checkout/orders.
func (h *CheckoutHandlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.PlaceOrderCommand{
		CustomerID:          req.CustomerID,
		StoreID:             req.StoreID,
		CurrencyCode:        req.Currency,
		CurrencyRate:        req.CurrencyRate,
		PaymentMethod:       req.PaymentMethod,
		BillingAddress:      req.BillingAddress.toDomain(),
		ShippingOption:      req.ShippingOption,
		RedeemLoyaltyPoints: req.RedeemLoyaltyPoints,
		GiftVoucherCodes:    req.GiftVoucherCodes,
	}
	if req.ShippingAddress != nil {
		shipTo := req.ShippingAddress.toDomain()
		cmd.ShippingAddress = &shipTo
	}
	for _, line := range req.Lines {
		cmd.Lines = append(cmd.Lines, services.PlaceOrderLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Discount:  line.Discount,
		})
	}

	result, err := h.orders.PlaceOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err, result.Warnings)
		return
	}

	writeJSONResponse(w, http.StatusCreated, placeOrderResponse{
		Order:       buildOrderPayload(result.Order),
		Transaction: buildTransactionPayload(result.Transaction),
	})
}
