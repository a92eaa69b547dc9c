package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/gridcommerce/checkout/internal/domain"
	"github.com/gridcommerce/checkout/internal/payments"
	"github.com/gridcommerce/checkout/internal/platform/events"
	"github.com/gridcommerce/checkout/internal/shipping"
	tax "github.com/gridcommerce/checkout/internal/tax"
)

// stubRepoError satisfies repositories.RepositoryError for the stubs below.
type stubRepoError struct {
	msg      string
	notFound bool
	conflict bool
}

func (e stubRepoError) Error() string       { return e.msg }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return !e.notFound && !e.conflict }

func notFound(msg string) error { return stubRepoError{msg: msg, notFound: true} }
func conflict(msg string) error { return stubRepoError{msg: msg, conflict: true} }

type memOrders struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemOrders() *memOrders {
	return &memOrders{orders: make(map[string]domain.Order)}
}

func (m *memOrders) Insert(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return conflict("order exists")
	}
	m.orders[order.ID] = order
	return nil
}

func (m *memOrders) Update(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; !ok {
		return notFound("order missing")
	}
	m.orders[order.ID] = order
	return nil
}

func (m *memOrders) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order missing")
	}
	return order, nil
}

func (m *memOrders) FindByCode(_ context.Context, code string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.Code == code {
			return order, nil
		}
	}
	return domain.Order{}, notFound("order missing")
}

func (m *memOrders) ListByCustomer(_ context.Context, customerID string, _ int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, order := range m.orders {
		if order.CustomerID == customerID {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type storedTx struct {
	tx         domain.PaymentTransaction
	updateTime time.Time
}

type memTransactions struct {
	mu  sync.Mutex
	txs map[string]storedTx
	seq int64
}

func newMemTransactions() *memTransactions {
	return &memTransactions{txs: make(map[string]storedTx)}
}

func (m *memTransactions) put(tx domain.PaymentTransaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.txs[tx.ID] = storedTx{tx: tx, updateTime: time.Unix(m.seq, 0)}
}

func (m *memTransactions) Insert(_ context.Context, tx domain.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[tx.ID]; ok {
		return conflict("transaction exists")
	}
	m.seq++
	m.txs[tx.ID] = storedTx{tx: tx, updateTime: time.Unix(m.seq, 0)}
	return nil
}

func (m *memTransactions) UpdateGuarded(_ context.Context, tx domain.PaymentTransaction, expectedUpdateTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.txs[tx.ID]
	if !ok {
		return notFound("transaction missing")
	}
	if !stored.updateTime.Equal(expectedUpdateTime) {
		return conflict("transaction modified concurrently")
	}
	m.seq++
	m.txs[tx.ID] = storedTx{tx: tx, updateTime: time.Unix(m.seq, 0)}
	return nil
}

func (m *memTransactions) FindByID(_ context.Context, txID string) (domain.PaymentTransaction, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.txs[txID]
	if !ok {
		return domain.PaymentTransaction{}, time.Time{}, notFound("transaction missing")
	}
	return stored.tx, stored.updateTime, nil
}

func (m *memTransactions) FindByOrderCode(_ context.Context, orderCode string) (domain.PaymentTransaction, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range m.txs {
		if stored.tx.OrderCode == orderCode && !stored.tx.Temp {
			return stored.tx, stored.updateTime, nil
		}
	}
	return domain.PaymentTransaction{}, time.Time{}, notFound("transaction missing")
}

func (m *memTransactions) ListByOrderCode(_ context.Context, orderCode string) ([]domain.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PaymentTransaction
	for _, stored := range m.txs {
		if stored.tx.OrderCode == orderCode {
			out = append(out, stored.tx)
		}
	}
	return out, nil
}

type memCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

func newMemCounters() *memCounters {
	return &memCounters{values: make(map[string]int64)}
}

func (m *memCounters) Next(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name]++
	return m.values[name], nil
}

type memCatalog struct {
	products map[string]domain.Product
}

func (m *memCatalog) FindProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := m.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

type memCustomers struct {
	customers map[string]domain.Customer
}

func (m *memCustomers) FindByID(_ context.Context, customerID string) (domain.Customer, error) {
	customer, ok := m.customers[customerID]
	if !ok {
		return domain.Customer{}, notFound("customer missing")
	}
	return customer, nil
}

type memLoyalty struct {
	mu      sync.Mutex
	entries []domain.LoyaltyEntry
}

func (m *memLoyalty) Append(_ context.Context, entry domain.LoyaltyEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memLoyalty) Balance(_ context.Context, customerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, entry := range m.entries {
		if entry.CustomerID == customerID {
			total += entry.Points
		}
	}
	return total, nil
}

func (m *memLoyalty) HasEntry(_ context.Context, orderID string, reason domain.LoyaltyReason) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.entries {
		if entry.OrderID == orderID && entry.Reason == reason {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLoyalty) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type memVouchers struct {
	mu            sync.Mutex
	vouchers      map[string]domain.GiftVoucher
	activateCalls int
}

func newMemVouchers() *memVouchers {
	return &memVouchers{vouchers: make(map[string]domain.GiftVoucher)}
}

func (m *memVouchers) put(v domain.GiftVoucher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vouchers[v.ID] = v
}

func (m *memVouchers) FindByCode(_ context.Context, code string) (domain.GiftVoucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vouchers {
		if v.Code == code {
			return v, nil
		}
	}
	return domain.GiftVoucher{}, notFound("voucher missing")
}

func (m *memVouchers) Activate(_ context.Context, voucherID string, orderID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[voucherID]
	if !ok {
		return notFound("voucher missing")
	}
	if v.Activated {
		if v.ActivatedOrderID == orderID {
			return nil
		}
		return conflict("voucher activated by another order")
	}
	m.activateCalls++
	v.Activated = true
	v.ActivatedOrderID = orderID
	v.ActivatedAt = &at
	v.RemainingAmount = v.Amount
	m.vouchers[voucherID] = v
	return nil
}

func (m *memVouchers) Debit(_ context.Context, voucherID string, amount int64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[voucherID]
	if !ok {
		return notFound("voucher missing")
	}
	if !v.Activated || v.RemainingAmount < amount {
		return conflict("voucher cannot cover amount")
	}
	v.RemainingAmount -= amount
	m.vouchers[voucherID] = v
	return nil
}

type memPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *memPublisher) Publish(_ context.Context, event events.Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return event.ID, nil
}

func (m *memPublisher) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

// stubGateway counts settlement calls and can be made to fail.
type stubGateway struct {
	mu           sync.Mutex
	caps         payments.Capabilities
	err          error
	captureCalls int
	refundCalls  int
	voidCalls    int
	lastAmount   int64
}

func (g *stubGateway) SystemName() string                 { return "stub" }
func (g *stubGateway) Capabilities() payments.Capabilities { return g.caps }

func (g *stubGateway) Authorize(context.Context, payments.AuthorizeRequest) (payments.AuthorizeResult, error) {
	return payments.AuthorizeResult{AuthorizationID: "auth_1"}, g.err
}

func (g *stubGateway) Capture(_ context.Context, req payments.CaptureRequest) (payments.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureCalls++
	g.lastAmount = req.Amount
	if g.err != nil {
		return payments.CaptureResult{}, g.err
	}
	return payments.CaptureResult{CaptureID: "cap_1", AmountCaptured: req.Amount}, nil
}

func (g *stubGateway) Refund(_ context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls++
	g.lastAmount = req.Amount
	if g.err != nil {
		return payments.RefundResult{}, g.err
	}
	return payments.RefundResult{RefundID: "re_1", AmountRefunded: req.Amount}, nil
}

func (g *stubGateway) Void(context.Context, payments.VoidRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.voidCalls++
	return g.err
}

type stubResolver struct {
	gateway payments.Gateway
}

func (r stubResolver) Resolve(string) (payments.Gateway, error) {
	return r.gateway, nil
}

// flatPricer returns prices untouched by tax, keeping totals easy to assert.
type flatPricer struct{}

func (flatPricer) GetTaxProductPrice(_ context.Context, product *domain.Product, _ *domain.Customer, _ *domain.Address, _ string, unitPrice int64, quantity int, discount int64, _ bool) (tax.LinePrice, error) {
	subtotal := unitPrice * int64(quantity)
	return tax.LinePrice{
		UnitPriceExclTax: unitPrice,
		UnitPriceInclTax: unitPrice,
		SubtotalExclTax:  subtotal,
		SubtotalInclTax:  subtotal,
		DiscountExclTax:  discount,
		DiscountInclTax:  discount,
	}, nil
}

// stubShipping serves a fixed option list; GetFixedRate declines so tests
// exercise the rate-shopping path unless fixedRate is set.
type stubShipping struct {
	options   []shipping.Option
	errors    []string
	fixedRate *int64
}

func (s stubShipping) GetShippingOptions(context.Context, *domain.Customer, string, []shipping.OptionRequest) (shipping.OptionResponse, error) {
	return shipping.OptionResponse{Options: s.options, Errors: s.errors}, nil
}

func (s stubShipping) GetFixedRate(*domain.Customer, string, []shipping.OptionRequest) (int64, bool) {
	if s.fixedRate == nil {
		return 0, false
	}
	return *s.fixedRate, true
}

func seqIDGenerator() IDGenerator {
	var mu sync.Mutex
	counts := make(map[string]int)
	return func(prefix string) string {
		mu.Lock()
		defer mu.Unlock()
		counts[prefix]++
		return fmt.Sprintf("%s%04d", prefix, counts[prefix])
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
