package domain

import "time"

// GiftVoucher is sold like any other product but only becomes usable once the
// purchasing order reaches its payable state. Activation must happen exactly
// once per order and voucher.
type GiftVoucher struct {
	ID               string     `firestore:"-"`
	Code             string     `firestore:"code"`
	CurrencyCode     string     `firestore:"currencyCode"`
	Amount           int64      `firestore:"amount"`
	RemainingAmount  int64      `firestore:"remainingAmount"`
	Activated        bool       `firestore:"activated"`
	ActivatedOrderID string     `firestore:"activatedOrderId,omitempty"`
	ActivatedAt      *time.Time `firestore:"activatedAt,omitempty"`
	CreatedAt        time.Time  `firestore:"createdAt"`
	UpdatedAt        time.Time  `firestore:"updatedAt"`
}

// Usable reports whether the voucher can still cover any amount.
func (v *GiftVoucher) Usable() bool {
	return v != nil && v.Activated && v.RemainingAmount > 0
}

// LoyaltyReason labels why points were granted or removed.
type LoyaltyReason string

const (
	LoyaltyReasonOrderPaid      LoyaltyReason = "order_paid"
	LoyaltyReasonOrderRefunded  LoyaltyReason = "order_refunded"
	LoyaltyReasonOrderCancelled LoyaltyReason = "order_cancelled"
	LoyaltyReasonRedemption     LoyaltyReason = "redemption"
)

// LoyaltyEntry is an append-only ledger row; the customer balance is the sum
// of entry points.
type LoyaltyEntry struct {
	ID         string        `firestore:"-"`
	CustomerID string        `firestore:"customerId"`
	OrderID    string        `firestore:"orderId,omitempty"`
	Points     int           `firestore:"points"`
	Reason     LoyaltyReason `firestore:"reason"`
	Message    string        `firestore:"message,omitempty"`
	CreatedAt  time.Time     `firestore:"createdAt"`
}
