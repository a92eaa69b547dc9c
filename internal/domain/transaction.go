package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus enumerates payment transaction states. The transition
// graph is not linear, so status comparisons always go through the guard
// methods below rather than any ordering of the values.
type TransactionStatus string

const (
	TransactionPending           TransactionStatus = "pending"
	TransactionAuthorized        TransactionStatus = "authorized"
	TransactionPartiallyPaid     TransactionStatus = "partially_paid"
	TransactionPaid              TransactionStatus = "paid"
	TransactionPartiallyRefunded TransactionStatus = "partially_refunded"
	TransactionRefunded          TransactionStatus = "refunded"
	TransactionVoided            TransactionStatus = "voided"
	TransactionCancelled         TransactionStatus = "cancelled"
)

var (
	// ErrTransactionTransition signals a command whose guard rejected the
	// current state. The transaction is left unchanged.
	ErrTransactionTransition = errors.New("payment transaction: illegal transition")
	// ErrTransactionAmount signals an amount that violates the running
	// paid/refunded bounds. Checked before any gateway call is made.
	ErrTransactionAmount = errors.New("payment transaction: invalid amount")
)

// PaymentTransaction is an aggregate root tied to an order by OrderCode.
// Invariants: PaidAmount <= Amount and RefundedAmount <= PaidAmount, both
// amounts only ever move upward until a terminal state freezes them.
type PaymentTransaction struct {
	ID              string            `firestore:"-"`
	OrderID         string            `firestore:"orderId"`
	OrderCode       string            `firestore:"orderCode"`
	CustomerID      string            `firestore:"customerId"`
	StoreID         string            `firestore:"storeId"`
	PaymentMethod   string            `firestore:"paymentMethod"`
	Status          TransactionStatus `firestore:"status"`
	CurrencyCode    string            `firestore:"currencyCode"`
	CurrencyRate    decimal.Decimal   `firestore:"currencyRate"`
	Amount          int64             `firestore:"amount"`
	PaidAmount      int64             `firestore:"paidAmount"`
	RefundedAmount  int64             `firestore:"refundedAmount"`
	AuthorizationID string            `firestore:"authorizationId,omitempty"`
	CaptureID       string            `firestore:"captureId,omitempty"`
	GatewayResult   string            `firestore:"gatewayResult,omitempty"`
	Errors          []string          `firestore:"errors,omitempty"`
	Temp            bool              `firestore:"temp"`
	CreatedAt       time.Time         `firestore:"createdAt"`
	UpdatedAt       time.Time         `firestore:"updatedAt"`
	AuthorizedAt    *time.Time        `firestore:"authorizedAt,omitempty"`
	PaidAt          *time.Time        `firestore:"paidAt,omitempty"`
	RefundedAt      *time.Time        `firestore:"refundedAt,omitempty"`
	VoidedAt        *time.Time        `firestore:"voidedAt,omitempty"`
}

// terminal states freeze both running amounts.
func (t *PaymentTransaction) frozen() bool {
	switch t.Status {
	case TransactionVoided, TransactionCancelled:
		return true
	}
	return false
}

// CanMarkAuthorized reports whether the transaction may record a successful
// authorization. Only an untouched pending transaction qualifies.
func (t *PaymentTransaction) CanMarkAuthorized() bool {
	return t.Status == TransactionPending && t.CaptureID == "" && t.PaidAmount == 0
}

// CanCapture reports whether the full authorized amount may be captured.
func (t *PaymentTransaction) CanCapture() bool {
	return t.Status == TransactionAuthorized && t.PaidAmount == 0
}

// CanPartiallyPay reports whether an offline partial payment of amount may be
// recorded. The cumulative paid amount must never exceed the transaction
// amount, and terminal or refunded transactions accept no further money.
func (t *PaymentTransaction) CanPartiallyPay(amount int64) bool {
	if amount <= 0 || t.frozen() {
		return false
	}
	switch t.Status {
	case TransactionRefunded, TransactionPartiallyRefunded:
		return false
	}
	return t.PaidAmount+amount <= t.Amount
}

// CanRefund reports whether the remaining paid balance may be refunded in
// full. Pending and voided transactions have nothing to refund.
func (t *PaymentTransaction) CanRefund() bool {
	if t.frozen() || t.Status == TransactionPending {
		return false
	}
	return t.PaidAmount > 0 && t.RefundedAmount < t.PaidAmount
}

// CanPartiallyRefund reports whether amount may be refunded while leaving a
// positive paid balance. A partial refund that would zero the balance must go
// through CanRefund/Refund instead.
func (t *PaymentTransaction) CanPartiallyRefund(amount int64) bool {
	if amount <= 0 || t.frozen() || t.Status == TransactionPending {
		return false
	}
	return t.PaidAmount > 0 && t.RefundedAmount+amount < t.PaidAmount
}

// CanVoid reports whether the authorization may be cancelled before capture.
func (t *PaymentTransaction) CanVoid() bool {
	switch t.Status {
	case TransactionPending, TransactionAuthorized:
		return t.PaidAmount == 0
	}
	return false
}

// MarkAuthorized records a successful authorization.
func (t *PaymentTransaction) MarkAuthorized(authorizationID string, now time.Time) error {
	if !t.CanMarkAuthorized() {
		return fmt.Errorf("%w: mark-authorized from %s", ErrTransactionTransition, t.Status)
	}
	t.Status = TransactionAuthorized
	t.AuthorizationID = authorizationID
	t.AuthorizedAt = &now
	t.UpdatedAt = now
	return nil
}

// Capture settles the full transaction amount.
func (t *PaymentTransaction) Capture(captureID string, now time.Time) error {
	if !t.CanCapture() {
		return fmt.Errorf("%w: capture from %s", ErrTransactionTransition, t.Status)
	}
	t.Status = TransactionPaid
	t.PaidAmount = t.Amount
	t.CaptureID = captureID
	t.PaidAt = &now
	t.UpdatedAt = now
	return nil
}

// RecordPartialPayment adds an offline payment. The status becomes paid once
// the cumulative amount reaches the transaction amount.
func (t *PaymentTransaction) RecordPartialPayment(amount int64, now time.Time) error {
	if amount <= 0 {
		return fmt.Errorf("%w: partial payment must be positive, got %d", ErrTransactionAmount, amount)
	}
	if !t.CanPartiallyPay(amount) {
		if t.PaidAmount+amount > t.Amount {
			return fmt.Errorf("%w: paid %d + %d exceeds %d", ErrTransactionAmount, t.PaidAmount, amount, t.Amount)
		}
		return fmt.Errorf("%w: partial payment from %s", ErrTransactionTransition, t.Status)
	}
	t.PaidAmount += amount
	if t.PaidAmount == t.Amount {
		t.Status = TransactionPaid
		t.PaidAt = &now
	} else {
		t.Status = TransactionPartiallyPaid
	}
	t.UpdatedAt = now
	return nil
}

// Refund returns the entire remaining paid balance.
func (t *PaymentTransaction) Refund(now time.Time) error {
	if !t.CanRefund() {
		return fmt.Errorf("%w: refund from %s", ErrTransactionTransition, t.Status)
	}
	t.RefundedAmount = t.PaidAmount
	t.Status = TransactionRefunded
	t.RefundedAt = &now
	t.UpdatedAt = now
	return nil
}

// RecordPartialRefund returns amount while keeping a positive paid balance.
func (t *PaymentTransaction) RecordPartialRefund(amount int64, now time.Time) error {
	if amount <= 0 {
		return fmt.Errorf("%w: partial refund must be positive, got %d", ErrTransactionAmount, amount)
	}
	if !t.CanPartiallyRefund(amount) {
		if t.RefundedAmount+amount >= t.PaidAmount {
			return fmt.Errorf("%w: refunded %d + %d reaches paid %d, use a full refund", ErrTransactionAmount, t.RefundedAmount, amount, t.PaidAmount)
		}
		return fmt.Errorf("%w: partial refund from %s", ErrTransactionTransition, t.Status)
	}
	t.RefundedAmount += amount
	t.Status = TransactionPartiallyRefunded
	t.RefundedAt = &now
	t.UpdatedAt = now
	return nil
}

// Void cancels the authorization and releases reserved funds.
func (t *PaymentTransaction) Void(now time.Time) error {
	if !t.CanVoid() {
		return fmt.Errorf("%w: void from %s", ErrTransactionTransition, t.Status)
	}
	t.Status = TransactionVoided
	t.VoidedAt = &now
	t.UpdatedAt = now
	return nil
}

// Cancel abandons a transaction that never moved money.
func (t *PaymentTransaction) Cancel(now time.Time) error {
	if t.frozen() || t.PaidAmount > 0 {
		return fmt.Errorf("%w: cancel from %s", ErrTransactionTransition, t.Status)
	}
	t.Status = TransactionCancelled
	t.UpdatedAt = now
	return nil
}

// AppendError records a gateway failure message without advancing state.
func (t *PaymentTransaction) AppendError(message string, now time.Time) {
	if message == "" {
		return
	}
	t.Errors = append(t.Errors, message)
	t.UpdatedAt = now
}

// OutstandingAmount is the portion of the transaction amount not yet paid.
func (t *PaymentTransaction) OutstandingAmount() int64 {
	return t.Amount - t.PaidAmount
}

// RefundableAmount is the paid balance still available for refunds.
func (t *PaymentTransaction) RefundableAmount() int64 {
	return t.PaidAmount - t.RefundedAmount
}
