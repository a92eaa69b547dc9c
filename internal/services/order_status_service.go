package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/gridcommerce/checkout/internal/domain"
	"github.com/gridcommerce/checkout/internal/platform/events"
	"github.com/gridcommerce/checkout/internal/repositories"
)

// ErrOrderStatusTransition indicates the order cannot move to the requested
// status from its current one.
var ErrOrderStatusTransition = errors.New("orders: illegal status transition")

// OrderStatusServiceDeps wires the orchestrator's dependencies.
type OrderStatusServiceDeps struct {
	Orders       repositories.OrderRepository
	Transactions repositories.TransactionRepository
	Loyalty      repositories.LoyaltyRepository
	GiftVouchers repositories.GiftVoucherRepository
	Publisher    eventPublisher
	Clock        func() time.Time
	IDGenerator  IDGenerator
	Logger       Logger
}

type orderStatusService struct {
	orders       repositories.OrderRepository
	transactions repositories.TransactionRepository
	loyalty      repositories.LoyaltyRepository
	vouchers     repositories.GiftVoucherRepository
	publisher    eventPublisher
	now          func() time.Time
	newID        IDGenerator
	logger       Logger
}

// NewOrderStatusService constructs the OrderStatusService validating required
// dependencies.
func NewOrderStatusService(deps OrderStatusServiceDeps) (OrderStatusService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order status service: order repository is required")
	}
	if deps.Transactions == nil {
		return nil, errors.New("order status service: transaction repository is required")
	}
	if deps.IDGenerator == nil {
		return nil, errors.New("order status service: id generator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderStatusService{
		orders:       deps.Orders,
		transactions: deps.Transactions,
		loyalty:      deps.Loyalty,
		vouchers:     deps.GiftVouchers,
		publisher:    deps.Publisher,
		now: func() time.Time {
			return clock().UTC()
		},
		newID: deps.IDGenerator,
		logger: logger,
	}, nil
}

// paymentSummary aggregates the order's non-provisional transactions.
type paymentSummary struct {
	paid     int64
	refunded int64
}

func (p paymentSummary) coversTotal(total int64) bool {
	return total == 0 || p.paid >= total
}

func (p paymentSummary) fullyRefunded() bool {
	return p.paid > 0 && p.refunded >= p.paid
}

// CheckOrderStatus centralises the auto-complete decision. It reads the
// payment and shipping state and applies at most one status write; repeated
// calls on a settled order change nothing.
func (s *orderStatusService) CheckOrderStatus(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}
	if order.Status == domain.OrderStatusCancelled {
		return order, nil
	}

	summary, err := s.summarisePayments(ctx, order.Code)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	changed := false
	previousStatus := order.Status

	if summary.coversTotal(order.Totals.Total) && order.PaidAt == nil {
		order.PaidAt = &now
		if order.Status == domain.OrderStatusPending {
			order.Status = domain.OrderStatusProcessing
		}
		changed = true
		s.awardLoyaltyPoints(ctx, order)
		s.activateVouchers(ctx, order, now)
	}

	if summary.fullyRefunded() {
		s.clawBackLoyaltyPoints(ctx, order)
	}

	if s.shouldComplete(order, summary) {
		order.Status = domain.OrderStatusComplete
		order.CompletedAt = &now
		changed = true
	}

	if !changed {
		return order, nil
	}

	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}
	if order.Status != previousStatus {
		s.publish(ctx, "order.status_changed", order, map[string]any{
			"from": string(previousStatus),
			"to":   string(order.Status),
		})
	}
	return order, nil
}

// CancelOrder cancels an order that has not completed and has no captured
// money outstanding. Redeemed loyalty points are returned once.
func (s *orderStatusService) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}
	if order.Status == domain.OrderStatusCancelled {
		return order, nil
	}
	if order.Status == domain.OrderStatusComplete {
		return domain.Order{}, fmt.Errorf("%w: cancel a completed order", ErrOrderStatusTransition)
	}

	summary, err := s.summarisePayments(ctx, order.Code)
	if err != nil {
		return domain.Order{}, err
	}
	if summary.paid > summary.refunded {
		return domain.Order{}, fmt.Errorf("%w: order holds captured funds, refund first", ErrOrderStatusTransition)
	}

	now := s.now()
	previousStatus := order.Status
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}

	s.cancelOpenTransactions(ctx, order, now)
	s.returnRedeemedPoints(ctx, order)
	s.publish(ctx, "order.status_changed", order, map[string]any{
		"from": string(previousStatus),
		"to":   string(order.Status),
	})
	return order, nil
}

// cancelOpenTransactions closes the order's unpaid transactions so no pending
// settlement outlives a cancelled order. Provisional transactions and those
// holding or having held money are left alone; the Cancel guard decides.
func (s *orderStatusService) cancelOpenTransactions(ctx context.Context, order domain.Order, now time.Time) {
	txs, err := s.transactions.ListByOrderCode(ctx, order.Code)
	if err != nil {
		s.logger(ctx, "orders.transaction_list_failed", map[string]any{
			"orderCode": order.Code,
			"error":     err.Error(),
		})
		return
	}
	for _, tx := range txs {
		if tx.Temp {
			continue
		}
		stored, updateTime, err := s.transactions.FindByID(ctx, tx.ID)
		if err != nil {
			s.logger(ctx, "orders.transaction_load_failed", map[string]any{
				"orderCode":   order.Code,
				"transaction": tx.ID,
				"error":       err.Error(),
			})
			continue
		}
		if err := stored.Cancel(now); err != nil {
			continue
		}
		if err := s.transactions.UpdateGuarded(ctx, stored, updateTime); err != nil {
			s.logger(ctx, "orders.transaction_cancel_failed", map[string]any{
				"orderCode":   order.Code,
				"transaction": tx.ID,
				"error":       err.Error(),
			})
		}
	}
}

// MarkShipped records full shipment of every shippable line.
func (s *orderStatusService) MarkShipped(ctx context.Context, orderID string) (domain.Order, error) {
	return s.advanceShipping(ctx, orderID, domain.ShippingStatusShipped)
}

// MarkDelivered records delivery and re-evaluates auto-completion.
func (s *orderStatusService) MarkDelivered(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.advanceShipping(ctx, orderID, domain.ShippingStatusDelivered)
	if err != nil {
		return domain.Order{}, err
	}
	return s.CheckOrderStatus(ctx, order.ID)
}

func (s *orderStatusService) advanceShipping(ctx context.Context, orderID string, target domain.ShippingStatus) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}
	if order.Status == domain.OrderStatusCancelled {
		return domain.Order{}, fmt.Errorf("%w: ship a cancelled order", ErrOrderStatusTransition)
	}
	if !order.RequiresShipping() {
		return domain.Order{}, fmt.Errorf("%w: order needs no shipping", ErrOrderStatusTransition)
	}
	if order.ShippingStatus == target {
		return order, nil
	}
	if order.ShippingStatus == domain.ShippingStatusDelivered {
		return domain.Order{}, fmt.Errorf("%w: shipping already delivered", ErrOrderStatusTransition)
	}

	for i := range order.Items {
		if order.Items[i].ShippingRequired {
			order.Items[i].ShippedQty = order.Items[i].Quantity - order.Items[i].CancelledQty - order.Items[i].ReturnedQty
		}
	}
	order.ShippingStatus = target
	order.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}
	s.publish(ctx, "order.shipping_changed", order, map[string]any{
		"shippingStatus": string(target),
	})
	return order, nil
}

func (s *orderStatusService) shouldComplete(order domain.Order, summary paymentSummary) bool {
	if order.Status == domain.OrderStatusComplete || order.PaidAt == nil {
		return false
	}
	if summary.fullyRefunded() {
		return false
	}
	if !order.RequiresShipping() {
		return true
	}
	return order.ShippingStatus == domain.ShippingStatusDelivered && order.FullyShipped()
}

// summarisePayments sums paid/refunded amounts over non-provisional
// transactions. Temp transactions never count.
func (s *orderStatusService) summarisePayments(ctx context.Context, orderCode string) (paymentSummary, error) {
	txs, err := s.transactions.ListByOrderCode(ctx, orderCode)
	if err != nil {
		return paymentSummary{}, s.translateRepoError(err)
	}
	var summary paymentSummary
	for _, tx := range txs {
		if tx.Temp {
			continue
		}
		summary.paid += tx.PaidAmount
		summary.refunded += tx.RefundedAmount
	}
	return summary, nil
}

// awardLoyaltyPoints grants the points fixed at placement, exactly once per
// order. The ledger entry keyed by order and reason is the idempotency check.
func (s *orderStatusService) awardLoyaltyPoints(ctx context.Context, order domain.Order) {
	if s.loyalty == nil || order.LoyaltyAwarded <= 0 {
		return
	}
	exists, err := s.loyalty.HasEntry(ctx, order.ID, domain.LoyaltyReasonOrderPaid)
	if err != nil {
		s.logger(ctx, "orders.loyalty_lookup_failed", map[string]any{
			"orderCode": order.Code,
			"error":     err.Error(),
		})
		return
	}
	if exists {
		return
	}
	err = s.loyalty.Append(ctx, domain.LoyaltyEntry{
		ID:         s.newID("loy_"),
		CustomerID: order.CustomerID,
		OrderID:    order.ID,
		Points:     order.LoyaltyAwarded,
		Reason:     domain.LoyaltyReasonOrderPaid,
		Message:    fmt.Sprintf("earned on order %s", order.Code),
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.logger(ctx, "orders.loyalty_award_failed", map[string]any{
			"orderCode": order.Code,
			"error":     err.Error(),
		})
	}
}

// clawBackLoyaltyPoints reverses the award after a full refund, exactly once.
// Partial refunds leave the award untouched.
func (s *orderStatusService) clawBackLoyaltyPoints(ctx context.Context, order domain.Order) {
	if s.loyalty == nil || order.LoyaltyAwarded <= 0 {
		return
	}
	awarded, err := s.loyalty.HasEntry(ctx, order.ID, domain.LoyaltyReasonOrderPaid)
	if err != nil || !awarded {
		return
	}
	reversed, err := s.loyalty.HasEntry(ctx, order.ID, domain.LoyaltyReasonOrderRefunded)
	if err != nil || reversed {
		return
	}
	err = s.loyalty.Append(ctx, domain.LoyaltyEntry{
		ID:         s.newID("loy_"),
		CustomerID: order.CustomerID,
		OrderID:    order.ID,
		Points:     -order.LoyaltyAwarded,
		Reason:     domain.LoyaltyReasonOrderRefunded,
		Message:    fmt.Sprintf("reversed after refund of order %s", order.Code),
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.logger(ctx, "orders.loyalty_clawback_failed", map[string]any{
			"orderCode": order.Code,
			"error":     err.Error(),
		})
	}
}

// returnRedeemedPoints gives back points spent on a cancelled order, once.
func (s *orderStatusService) returnRedeemedPoints(ctx context.Context, order domain.Order) {
	if s.loyalty == nil || order.LoyaltyRedeemed <= 0 {
		return
	}
	returned, err := s.loyalty.HasEntry(ctx, order.ID, domain.LoyaltyReasonOrderCancelled)
	if err != nil || returned {
		return
	}
	err = s.loyalty.Append(ctx, domain.LoyaltyEntry{
		ID:         s.newID("loy_"),
		CustomerID: order.CustomerID,
		OrderID:    order.ID,
		Points:     order.LoyaltyRedeemed,
		Reason:     domain.LoyaltyReasonOrderCancelled,
		Message:    fmt.Sprintf("returned after cancelling order %s", order.Code),
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.logger(ctx, "orders.loyalty_return_failed", map[string]any{
			"orderCode": order.Code,
			"error":     err.Error(),
		})
	}
}

// activateVouchers flips each voucher sold with the order to usable. The
// repository enforces first-activation-wins, so re-processing is a no-op.
func (s *orderStatusService) activateVouchers(ctx context.Context, order domain.Order, now time.Time) {
	if s.vouchers == nil {
		return
	}
	for _, code := range order.VoucherCodes {
		voucher, err := s.vouchers.FindByCode(ctx, code)
		if err != nil {
			s.logger(ctx, "orders.voucher_lookup_failed", map[string]any{
				"orderCode": order.Code,
				"voucher":   code,
				"error":     err.Error(),
			})
			continue
		}
		if err := s.vouchers.Activate(ctx, voucher.ID, order.ID, now); err != nil {
			s.logger(ctx, "orders.voucher_activate_failed", map[string]any{
				"orderCode": order.Code,
				"voucher":   code,
				"error":     err.Error(),
			})
		}
	}
}

func (s *orderStatusService) publish(ctx context.Context, eventType string, order domain.Order, payload map[string]any) {
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

func (s *orderStatusService) translateRepoError(err error) error {
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
