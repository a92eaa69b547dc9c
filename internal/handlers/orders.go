package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	domain "github.com/gridcommerce/checkout/internal/domain"
	"github.com/gridcommerce/checkout/internal/platform/httpx"
	"github.com/gridcommerce/checkout/internal/services"
)

const defaultOrderListLimit = 20

// OrderHandlers serves order reads and lifecycle actions.
type OrderHandlers struct {
	orders services.OrderService
	status services.OrderStatusService
}

// NewOrderHandlers constructs an OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, status services.OrderStatusService) (*OrderHandlers, error) {
	if orders == nil {
		return nil, errors.New("handlers: order service is required")
	}
	if status == nil {
		return nil, errors.New("handlers: order status service is required")
	}
	return &OrderHandlers{orders: orders, status: status}, nil
}

// Routes registers the order endpoints on the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Get("/", h.ListOrders)
	r.Get("/{orderID}", h.GetOrder)
	r.Post("/{orderID}/check-status", h.CheckStatus)
	r.Post("/{orderID}/cancel", h.Cancel)
	r.Post("/{orderID}/ship", h.MarkShipped)
	r.Post("/{orderID}/deliver", h.MarkDelivered)
}

// ListOrders handles GET /v1/orders?customerId=...&limit=...
func (h *OrderHandlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerID := r.URL.Query().Get("customerId")
	if customerID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "customerId query parameter is required", http.StatusBadRequest))
		return
	}

	limit := defaultOrderListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	orders, err := h.orders.ListOrders(ctx, customerID, limit)
	if err != nil {
		writeServiceError(ctx, w, err, nil)
		return
	}

	payloads := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		payloads = append(payloads, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"orders": payloads})
}

// GetOrder handles GET /v1/orders/{orderID}.
func (h *OrderHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err, nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

// CheckStatus handles POST /v1/orders/{orderID}/check-status. It re-runs the
// payment and shipping reconciliation and returns the resulting order.
func (h *OrderHandlers) CheckStatus(w http.ResponseWriter, r *http.Request) {
	h.runStatusAction(w, r, h.status.CheckOrderStatus)
}

// Cancel handles POST /v1/orders/{orderID}/cancel.
func (h *OrderHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	h.runStatusAction(w, r, h.status.CancelOrder)
}

// MarkShipped handles POST /v1/orders/{orderID}/ship.
func (h *OrderHandlers) MarkShipped(w http.ResponseWriter, r *http.Request) {
	h.runStatusAction(w, r, h.status.MarkShipped)
}

// MarkDelivered handles POST /v1/orders/{orderID}/deliver.
func (h *OrderHandlers) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	h.runStatusAction(w, r, h.status.MarkDelivered)
}

func (h *OrderHandlers) runStatusAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, orderID string) (domain.Order, error)) {
	ctx := r.Context()

	order, err := action(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err, nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}
