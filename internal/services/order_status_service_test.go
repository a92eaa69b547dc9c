package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/gridcommerce/checkout/internal/domain"
)

type orderStatusFixture struct {
	orders       *memOrders
	transactions *memTransactions
	loyalty      *memLoyalty
	vouchers     *memVouchers
	publisher    *memPublisher
	svc          OrderStatusService
}

func newOrderStatusFixture(t *testing.T) *orderStatusFixture {
	t.Helper()
	f := &orderStatusFixture{
		orders:       newMemOrders(),
		transactions: newMemTransactions(),
		loyalty:      &memLoyalty{},
		vouchers:     newMemVouchers(),
		publisher:    &memPublisher{},
	}
	svc, err := NewOrderStatusService(OrderStatusServiceDeps{
		Orders:       f.orders,
		Transactions: f.transactions,
		Loyalty:      f.loyalty,
		GiftVouchers: f.vouchers,
		Publisher:    f.publisher,
		Clock:        fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		IDGenerator:  seqIDGenerator(),
	})
	if err != nil {
		t.Fatalf("NewOrderStatusService: %v", err)
	}
	f.svc = svc
	return f
}

func (f *orderStatusFixture) seedOrder(t *testing.T, order domain.Order) domain.Order {
	t.Helper()
	if err := f.orders.Insert(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func digitalOrder() domain.Order {
	return domain.Order{
		ID:         "ord_1",
		Number:     1,
		Code:       "ORD-000001",
		CustomerID: "cust_1",
		StoreID:    "store-1",
		Status:     domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{ProductID: "prod_ebook", Quantity: 1, SubtotalInclTax: 10000, SubtotalExclTax: 10000},
		},
		Totals:         domain.OrderTotals{SubtotalInclTax: 10000, SubtotalExclTax: 10000, Total: 10000},
		ShippingStatus: domain.ShippingStatusNotRequired,
		LoyaltyAwarded: 10,
	}
}

func shippableOrder() domain.Order {
	order := digitalOrder()
	order.Items = []domain.OrderItem{
		{ProductID: "prod_book", Quantity: 2, ShippingRequired: true, SubtotalInclTax: 10000, SubtotalExclTax: 10000},
	}
	order.ShippingStatus = domain.ShippingStatusNotYetShipped
	return order
}

func paidTransaction(orderCode string, amount int64) domain.PaymentTransaction {
	return domain.PaymentTransaction{
		ID:            "ptx_1",
		OrderID:       "ord_1",
		OrderCode:     orderCode,
		PaymentMethod: "stub",
		Status:        domain.TransactionPaid,
		Amount:        amount,
		PaidAmount:    amount,
	}
}

func TestCheckOrderStatusCompletesDigitalOrderOnce(t *testing.T) {
	f := newOrderStatusFixture(t)
	order := f.seedOrder(t, digitalOrder())
	f.transactions.put(paidTransaction(order.Code, 10000))
	f.vouchers.put(domain.GiftVoucher{ID: "gv_1", Code: "GIFT-1", Amount: 2500})
	stored, _ := f.orders.FindByID(context.Background(), order.ID)
	stored.VoucherCodes = []string{"GIFT-1"}
	if err := f.orders.Update(context.Background(), stored); err != nil {
		t.Fatalf("seed voucher code: %v", err)
	}

	first, err := f.svc.CheckOrderStatus(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("CheckOrderStatus: %v", err)
	}
	if first.Status != domain.OrderStatusComplete {
		t.Fatalf("paid digital order must auto-complete, got %s", first.Status)
	}
	if first.PaidAt == nil || first.CompletedAt == nil {
		t.Fatal("expected paid and completed timestamps")
	}
	if f.loyalty.count() != 1 {
		t.Fatalf("expected one award entry, got %d", f.loyalty.count())
	}
	if f.vouchers.activateCalls != 1 {
		t.Fatalf("expected one voucher activation, got %d", f.vouchers.activateCalls)
	}

	second, err := f.svc.CheckOrderStatus(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("CheckOrderStatus repeat: %v", err)
	}
	if second.Status != domain.OrderStatusComplete {
		t.Fatalf("repeat call changed status to %s", second.Status)
	}
	if f.loyalty.count() != 1 {
		t.Fatalf("repeat call double-awarded points: %d entries", f.loyalty.count())
	}
	if f.vouchers.activateCalls != 1 {
		t.Fatalf("repeat call re-activated voucher: %d activations", f.vouchers.activateCalls)
	}
}

func TestCheckOrderStatusWaitsForDelivery(t *testing.T) {
	f := newOrderStatusFixture(t)
	order := f.seedOrder(t, shippableOrder())
	f.transactions.put(paidTransaction(order.Code, 10000))

	updated, err := f.svc.CheckOrderStatus(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("CheckOrderStatus: %v", err)
	}
	if updated.Status != domain.OrderStatusProcessing {
		t.Fatalf("paid but undelivered order must be processing, got %s", updated.Status)
	}

	if _, err := f.svc.MarkShipped(context.Background(), order.ID); err != nil {
		t.Fatalf("MarkShipped: %v", err)
	}
	delivered, err := f.svc.MarkDelivered(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if delivered.Status != domain.OrderStatusComplete {
		t.Fatalf("delivered paid order must complete, got %s", delivered.Status)
	}
	if delivered.ShippingStatus != domain.ShippingStatusDelivered || !delivered.FullyShipped() {
		t.Fatalf("unexpected shipping state: %s", delivered.ShippingStatus)
	}
}

func TestCheckOrderStatusIgnoresTempTransactions(t *testing.T) {
	f := newOrderStatusFixture(t)
	order := f.seedOrder(t, digitalOrder())
	tx := paidTransaction(order.Code, 10000)
	tx.Temp = true
	f.transactions.put(tx)

	updated, err := f.svc.CheckOrderStatus(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("CheckOrderStatus: %v", err)
	}
	if updated.Status != domain.OrderStatusPending || updated.PaidAt != nil {
		t.Fatalf("provisional transactions must not count, got %s", updated.Status)
	}
}

func TestFullRefundClawsBackPointsOnce(t *testing.T) {
	f := newOrderStatusFixture(t)
	order := f.seedOrder(t, digitalOrder())
	f.transactions.put(paidTransaction(order.Code, 10000))

	if _, err := f.svc.CheckOrderStatus(context.Background(), order.ID); err != nil {
		t.Fatalf("CheckOrderStatus: %v", err)
	}

	tx, _, _ := f.transactions.FindByID(context.Background(), "ptx_1")
	tx.Status = domain.TransactionRefunded
	tx.RefundedAmount = tx.PaidAmount
	f.transactions.put(tx)

	for i := 0; i < 2; i++ {
		if _, err := f.svc.CheckOrderStatus(context.Background(), order.ID); err != nil {
			t.Fatalf("CheckOrderStatus after refund: %v", err)
		}
	}

	// One award entry plus exactly one claw-back.
	if f.loyalty.count() != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", f.loyalty.count())
	}
	balance, _ := f.loyalty.Balance(context.Background(), "cust_1")
	if balance != 0 {
		t.Fatalf("expected net balance 0 after claw-back, got %d", balance)
	}
}

func TestCancelOrderReturnsRedeemedPoints(t *testing.T) {
	f := newOrderStatusFixture(t)
	order := digitalOrder()
	order.LoyaltyRedeemed = 30
	order = f.seedOrder(t, order)

	cancelled, err := f.svc.CancelOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected state: %s", cancelled.Status)
	}
	balance, _ := f.loyalty.Balance(context.Background(), "cust_1")
	if balance != 30 {
		t.Fatalf("expected 30 returned points, got %d", balance)
	}

	// Cancelling again is a no-op.
	if _, err := f.svc.CancelOrder(context.Background(), order.ID); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if f.loyalty.count() != 1 {
		t.Fatalf("repeat cancel returned points again: %d entries", f.loyalty.count())
	}
}

func TestCancelOrderCancelsOpenTransactions(t *testing.T) {
	f := newOrderStatusFixture(t)
	order := f.seedOrder(t, digitalOrder())

	pending := domain.PaymentTransaction{
		ID: "ptx_open", OrderID: order.ID, OrderCode: order.Code,
		PaymentMethod: "stub", Status: domain.TransactionPending, Amount: 10000,
	}
	f.transactions.put(pending)

	temp := pending
	temp.ID = "ptx_temp"
	temp.Temp = true
	f.transactions.put(temp)

	refunded := pending
	refunded.ID = "ptx_refunded"
	refunded.Status = domain.TransactionRefunded
	refunded.PaidAmount = 10000
	refunded.RefundedAmount = 10000
	f.transactions.put(refunded)

	if _, err := f.svc.CancelOrder(context.Background(), order.ID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	tx, _, _ := f.transactions.FindByID(context.Background(), "ptx_open")
	if tx.Status != domain.TransactionCancelled {
		t.Fatalf("open transaction must be cancelled, got %s", tx.Status)
	}
	tx, _, _ = f.transactions.FindByID(context.Background(), "ptx_temp")
	if tx.Status != domain.TransactionPending {
		t.Fatalf("provisional transaction must stay untouched, got %s", tx.Status)
	}
	tx, _, _ = f.transactions.FindByID(context.Background(), "ptx_refunded")
	if tx.Status != domain.TransactionRefunded {
		t.Fatalf("settled transaction must keep its status, got %s", tx.Status)
	}
}

func TestCancelOrderGuards(t *testing.T) {
	f := newOrderStatusFixture(t)

	complete := digitalOrder()
	complete.ID = "ord_complete"
	complete.Code = "ORD-000002"
	complete.Status = domain.OrderStatusComplete
	f.seedOrder(t, complete)
	if _, err := f.svc.CancelOrder(context.Background(), "ord_complete"); !errors.Is(err, ErrOrderStatusTransition) {
		t.Fatalf("completed order must not cancel, got %v", err)
	}

	funded := digitalOrder()
	funded.ID = "ord_funded"
	funded.Code = "ORD-000003"
	f.seedOrder(t, funded)
	tx := paidTransaction(funded.Code, 10000)
	tx.ID = "ptx_funded"
	tx.OrderID = funded.ID
	f.transactions.put(tx)
	if _, err := f.svc.CancelOrder(context.Background(), "ord_funded"); !errors.Is(err, ErrOrderStatusTransition) {
		t.Fatalf("order with captured funds must not cancel, got %v", err)
	}
}

func TestMarkShippedGuards(t *testing.T) {
	f := newOrderStatusFixture(t)
	digital := f.seedOrder(t, digitalOrder())
	if _, err := f.svc.MarkShipped(context.Background(), digital.ID); !errors.Is(err, ErrOrderStatusTransition) {
		t.Fatalf("digital order must not ship, got %v", err)
	}

	cancelled := shippableOrder()
	cancelled.ID = "ord_cancelled"
	cancelled.Code = "ORD-000004"
	cancelled.Status = domain.OrderStatusCancelled
	f.seedOrder(t, cancelled)
	if _, err := f.svc.MarkShipped(context.Background(), cancelled.ID); !errors.Is(err, ErrOrderStatusTransition) {
		t.Fatalf("cancelled order must not ship, got %v", err)
	}
}
