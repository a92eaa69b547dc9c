package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/gridcommerce/checkout/internal/domain"
	"github.com/gridcommerce/checkout/internal/platform/httpx"
	"github.com/gridcommerce/checkout/internal/services"
)

// TransactionHandlers exposes the settlement commands of the payment
// transaction state machine.
type TransactionHandlers struct {
	transactions services.TransactionService
}

// NewTransactionHandlers constructs a TransactionHandlers instance.
func NewTransactionHandlers(transactions services.TransactionService) (*TransactionHandlers, error) {
	if transactions == nil {
		return nil, errors.New("handlers: transaction service is required")
	}
	return &TransactionHandlers{transactions: transactions}, nil
}

// Routes registers the transaction endpoints on the provided router.
func (h *TransactionHandlers) Routes(r chi.Router) {
	r.Get("/", h.ListByOrderCode)
	r.Get("/{txID}", h.GetTransaction)
	r.Post("/{txID}/mark-authorized", h.MarkAuthorized)
	r.Post("/{txID}/capture", h.Capture)
	r.Post("/{txID}/partial-pay", h.PartialPay)
	r.Post("/{txID}/refund", h.Refund)
	r.Post("/{txID}/partial-refund", h.PartialRefund)
	r.Post("/{txID}/void", h.Void)
}

// ListByOrderCode handles GET /v1/transactions?orderCode=...
func (h *TransactionHandlers) ListByOrderCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderCode := r.URL.Query().Get("orderCode")
	if orderCode == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderCode query parameter is required", http.StatusBadRequest))
		return
	}

	txs, err := h.transactions.ListByOrderCode(ctx, orderCode)
	if err != nil {
		writeServiceError(ctx, w, err, nil)
		return
	}

	payloads := make([]transactionPayload, 0, len(txs))
	for _, tx := range txs {
		payloads = append(payloads, buildTransactionPayload(tx))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"transactions": payloads})
}

// GetTransaction handles GET /v1/transactions/{txID}.
func (h *TransactionHandlers) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tx, err := h.transactions.GetTransaction(ctx, chi.URLParam(r, "txID"))
	if err != nil {
		writeServiceError(ctx, w, err, nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildTransactionPayload(tx))
}

type markAuthorizedRequest struct {
	AuthorizationID string `json:"authorizationId"`
}

// MarkAuthorized handles POST /v1/transactions/{txID}/mark-authorized. It
// records a gateway authorization callback; no gateway call is made.
func (h *TransactionHandlers) MarkAuthorized(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req markAuthorizedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	tx, err := h.transactions.MarkAuthorized(ctx, services.MarkAuthorizedCommand{
		TransactionID:   chi.URLParam(r, "txID"),
		AuthorizationID: req.AuthorizationID,
	})
	if err != nil {
		writeServiceError(ctx, w, err, nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildTransactionPayload(tx))
}

// Capture handles POST /v1/transactions/{txID}/capture.
func (h *TransactionHandlers) Capture(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, h.transactions.Capture)
}

// Refund handles POST /v1/transactions/{txID}/refund.
func (h *TransactionHandlers) Refund(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, h.transactions.Refund)
}

// Void handles POST /v1/transactions/{txID}/void.
func (h *TransactionHandlers) Void(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, h.transactions.Void)
}

// PartialPay handles POST /v1/transactions/{txID}/partial-pay.
func (h *TransactionHandlers) PartialPay(w http.ResponseWriter, r *http.Request) {
	h.runAmountCommand(w, r, h.transactions.PartialPay)
}

// PartialRefund handles POST /v1/transactions/{txID}/partial-refund.
func (h *TransactionHandlers) PartialRefund(w http.ResponseWriter, r *http.Request) {
	h.runAmountCommand(w, r, h.transactions.PartialRefund)
}

func (h *TransactionHandlers) runCommand(w http.ResponseWriter, r *http.Request, command func(ctx context.Context, txID string) (domain.PaymentTransaction, error)) {
	ctx := r.Context()

	tx, err := command(ctx, chi.URLParam(r, "txID"))
	if err != nil {
		writeServiceError(ctx, w, err, nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildTransactionPayload(tx))
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

func (h *TransactionHandlers) runAmountCommand(w http.ResponseWriter, r *http.Request, command func(ctx context.Context, txID string, amount int64) (domain.PaymentTransaction, error)) {
	ctx := r.Context()

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	tx, err := command(ctx, chi.URLParam(r, "txID"), req.Amount)
	if err != nil {
		writeServiceError(ctx, w, err, nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildTransactionPayload(tx))
}
