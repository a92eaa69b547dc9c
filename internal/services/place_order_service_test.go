package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/gridcommerce/checkout/internal/domain"
	"github.com/gridcommerce/checkout/internal/shipping"
	tax "github.com/gridcommerce/checkout/internal/tax"
)

type placeOrderFixture struct {
	orders       *memOrders
	transactions *memTransactions
	counters     *memCounters
	loyalty      *memLoyalty
	publisher    *memPublisher
	svc          OrderService
}

func newPlaceOrderFixture(t *testing.T, products map[string]domain.Product, ship stubShipping, settings CheckoutSettings) *placeOrderFixture {
	t.Helper()
	f := &placeOrderFixture{
		orders:       newMemOrders(),
		transactions: newMemTransactions(),
		counters:     newMemCounters(),
		loyalty:      &memLoyalty{},
		publisher:    &memPublisher{},
	}
	svc, err := NewPlaceOrderService(PlaceOrderServiceDeps{
		Orders:       f.orders,
		Transactions: f.transactions,
		Counters:     f.counters,
		Catalog:      &memCatalog{products: products},
		Customers:    &memCustomers{customers: map[string]domain.Customer{"cust_1": {ID: "cust_1", Groups: []string{"retail"}}}},
		Loyalty:      f.loyalty,
		Pricer:       flatPricer{},
		Shipping:     ship,
		Publisher:    f.publisher,
		Settings:     settings,
		Clock:        fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		IDGenerator:  seqIDGenerator(),
	})
	if err != nil {
		t.Fatalf("NewPlaceOrderService: %v", err)
	}
	f.svc = svc
	return f
}

func testProducts() map[string]domain.Product {
	return map[string]domain.Product{
		"prod_book": {
			ID: "prod_book", SKU: "BOOK-1", Name: "Novel", Price: 2000,
			ShippingRequired: true, WeightGrams: 400, WarehouseID: "wh-1", Published: true,
		},
		"prod_ebook": {
			ID: "prod_ebook", SKU: "EBOOK-1", Name: "Novel (digital)", Price: 1500,
			Published: true,
		},
	}
}

func baseCommand() PlaceOrderCommand {
	return PlaceOrderCommand{
		CustomerID:    "cust_1",
		StoreID:       "store-1",
		CurrencyCode:  "EUR",
		CurrencyRate:  decimal.NewFromInt(1),
		PaymentMethod: "stripe",
		BillingAddress: domain.Address{
			Line1: "Hauptstr. 1", City: "Berlin", PostalCode: "10115", CountryCode: "DE",
		},
		ShippingAddress: &domain.Address{
			Line1: "Hauptstr. 1", City: "Berlin", PostalCode: "10115", CountryCode: "DE",
		},
		Lines: []PlaceOrderLine{
			{ProductID: "prod_book", Quantity: 2},
			{ProductID: "prod_ebook", Quantity: 1},
		},
	}
}

func TestPlaceOrderHappyPath(t *testing.T) {
	f := newPlaceOrderFixture(t, testProducts(), stubShipping{
		options: []shipping.Option{{Name: "Ground", ProviderSystemName: "ship.a", Rate: 500}},
	}, CheckoutSettings{})

	result, err := f.svc.PlaceOrder(context.Background(), baseCommand())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	order := result.Order
	if order.Code != "ORD-000001" || order.Number != 1 {
		t.Fatalf("unexpected order number: %s / %d", order.Code, order.Number)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(order.Items))
	}
	// 2×2000 + 1×1500 + 500 shipping.
	if order.Totals.Total != 6000 {
		t.Fatalf("unexpected total: %d", order.Totals.Total)
	}
	if order.ShippingMethod != "Ground" || order.Totals.Shipping != 500 {
		t.Fatalf("unexpected shipping: %s %d", order.ShippingMethod, order.Totals.Shipping)
	}
	if order.ShippingStatus != domain.ShippingStatusNotYetShipped {
		t.Fatalf("unexpected shipping status: %s", order.ShippingStatus)
	}

	tx := result.Transaction
	if tx.Status != domain.TransactionPending || tx.Amount != 6000 || tx.OrderCode != order.Code {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if _, _, err := f.transactions.FindByID(context.Background(), tx.ID); err != nil {
		t.Fatalf("transaction not persisted: %v", err)
	}
	if types := f.publisher.types(); len(types) != 1 || types[0] != "order.placed" {
		t.Fatalf("unexpected events: %v", types)
	}
}

func TestPlaceOrderValidationWritesNothing(t *testing.T) {
	f := newPlaceOrderFixture(t, testProducts(), stubShipping{
		options: []shipping.Option{{Name: "Ground", Rate: 500}},
	}, CheckoutSettings{MinOrderSubtotal: 100000})

	result, err := f.svc.PlaceOrder(context.Background(), baseCommand())
	if !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected ErrOrderValidation, got %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected itemised warnings")
	}
	if f.orders.count() != 0 {
		t.Fatal("no order may be written on validation failure")
	}
	if n, _ := f.counters.Next(context.Background(), orderNumberCounter); n != 1 {
		t.Fatalf("no order number may be burned on validation failure, next=%d", n)
	}
}

func TestPlaceOrderAccumulatesWarnings(t *testing.T) {
	products := testProducts()
	book := products["prod_book"]
	book.MaxCartQty = 1
	products["prod_book"] = book

	f := newPlaceOrderFixture(t, products, stubShipping{
		options: []shipping.Option{{Name: "Ground", Rate: 500}},
	}, CheckoutSettings{MinOrderSubtotal: 100000})

	cmd := baseCommand()
	cmd.Lines = append(cmd.Lines, PlaceOrderLine{ProductID: "prod_gone", Quantity: 1})
	result, err := f.svc.PlaceOrder(context.Background(), cmd)
	if !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected ErrOrderValidation, got %v", err)
	}
	if len(result.Warnings) != 3 {
		t.Fatalf("expected 3 warnings (missing product, max qty, min subtotal), got %v", result.Warnings)
	}
}

func TestPlaceOrderInjectsRequiredProducts(t *testing.T) {
	products := testProducts()
	book := products["prod_book"]
	book.RequiredProductIDs = []string{"prod_ebook", "prod_warranty"}
	products["prod_book"] = book
	products["prod_warranty"] = domain.Product{
		ID: "prod_warranty", SKU: "WAR-1", Name: "Warranty", Price: 300, Published: true,
	}

	f := newPlaceOrderFixture(t, products, stubShipping{
		options: []shipping.Option{{Name: "Ground", Rate: 500}},
	}, CheckoutSettings{})

	result, err := f.svc.PlaceOrder(context.Background(), baseCommand())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	// prod_ebook was already in the cart; prod_warranty rides along once.
	if len(result.Order.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(result.Order.Items))
	}
	var warranty *domain.OrderItem
	for i := range result.Order.Items {
		if result.Order.Items[i].ProductID == "prod_warranty" {
			warranty = &result.Order.Items[i]
		}
	}
	if warranty == nil || warranty.Quantity != 1 {
		t.Fatalf("required product missing or wrong quantity: %+v", warranty)
	}
}

func TestPlaceOrderLoyaltyAwardUsesPreRedemptionTotal(t *testing.T) {
	f := newPlaceOrderFixture(t, testProducts(), stubShipping{
		options: []shipping.Option{{Name: "Ground", Rate: 500}},
	}, CheckoutSettings{PointsForAmount: 1000, RedeemValue: 100})

	// Give the customer 30 points worth 3000 minor units.
	if err := f.loyalty.Append(context.Background(), domain.LoyaltyEntry{
		CustomerID: "cust_1", Points: 30, Reason: domain.LoyaltyReasonOrderPaid,
	}); err != nil {
		t.Fatalf("seed loyalty: %v", err)
	}

	cmd := baseCommand()
	cmd.RedeemLoyaltyPoints = true
	result, err := f.svc.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	order := result.Order
	// Award from the pre-redemption total of 6000, not the reduced 3000.
	if order.LoyaltyAwarded != 6 {
		t.Fatalf("expected 6 points awarded, got %d", order.LoyaltyAwarded)
	}
	if order.LoyaltyRedeemed != 30 || order.Totals.RedeemedAmount != 3000 {
		t.Fatalf("unexpected redemption: points=%d amount=%d", order.LoyaltyRedeemed, order.Totals.RedeemedAmount)
	}
	if order.Totals.Total != 3000 {
		t.Fatalf("expected payable total 3000, got %d", order.Totals.Total)
	}
	if result.Transaction.Amount != 3000 {
		t.Fatalf("transaction must carry the payable total, got %d", result.Transaction.Amount)
	}

	// The redemption ledger entry is written after persistence.
	balance, _ := f.loyalty.Balance(context.Background(), "cust_1")
	if balance != 0 {
		t.Fatalf("expected balance 0 after redeeming 30, got %d", balance)
	}
}

func TestPlaceOrderFixedRateFastPath(t *testing.T) {
	fixed := int64(700)
	f := newPlaceOrderFixture(t, testProducts(), stubShipping{fixedRate: &fixed}, CheckoutSettings{})

	result, err := f.svc.PlaceOrder(context.Background(), baseCommand())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Order.Totals.Shipping != 700 {
		t.Fatalf("expected fixed rate 700, got %d", result.Order.Totals.Shipping)
	}
}

func TestPlaceOrderSelectedShippingOption(t *testing.T) {
	f := newPlaceOrderFixture(t, testProducts(), stubShipping{
		options: []shipping.Option{
			{Name: "Ground", Rate: 500},
			{Name: "Express", Rate: 1500},
		},
	}, CheckoutSettings{})

	cmd := baseCommand()
	cmd.ShippingOption = "express"
	result, err := f.svc.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Order.ShippingMethod != "Express" || result.Order.Totals.Shipping != 1500 {
		t.Fatalf("expected the selected option, got %s %d", result.Order.ShippingMethod, result.Order.Totals.Shipping)
	}

	cmd.ShippingOption = "overnight"
	if _, err := f.svc.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("unknown option must fail validation, got %v", err)
	}
}

func TestPlaceOrderDigitalOnlySkipsShipping(t *testing.T) {
	f := newPlaceOrderFixture(t, testProducts(), stubShipping{}, CheckoutSettings{})

	cmd := baseCommand()
	cmd.Lines = []PlaceOrderLine{{ProductID: "prod_ebook", Quantity: 1}}
	cmd.ShippingAddress = nil
	result, err := f.svc.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Order.ShippingStatus != domain.ShippingStatusNotRequired {
		t.Fatalf("unexpected shipping status: %s", result.Order.ShippingStatus)
	}
	if result.Order.Totals.Shipping != 0 || result.Order.Totals.Total != 1500 {
		t.Fatalf("unexpected totals: %+v", result.Order.Totals)
	}
}

// destinationPricer prices flat and remembers where it was asked to ship.
type destinationPricer struct {
	mu        sync.Mutex
	addresses []*domain.Address
	storeIDs  []string
}

func (p *destinationPricer) GetTaxProductPrice(ctx context.Context, product *domain.Product, customer *domain.Customer, address *domain.Address, storeID string, unitPrice int64, quantity int, discount int64, incl bool) (tax.LinePrice, error) {
	p.mu.Lock()
	p.addresses = append(p.addresses, address)
	p.storeIDs = append(p.storeIDs, storeID)
	p.mu.Unlock()
	return flatPricer{}.GetTaxProductPrice(ctx, product, customer, address, storeID, unitPrice, quantity, discount, incl)
}

func TestPlaceOrderPricesAgainstDestination(t *testing.T) {
	pricer := &destinationPricer{}
	orders := newMemOrders()
	svc, err := NewPlaceOrderService(PlaceOrderServiceDeps{
		Orders:       orders,
		Transactions: newMemTransactions(),
		Counters:     newMemCounters(),
		Catalog:      &memCatalog{products: testProducts()},
		Customers:    &memCustomers{customers: map[string]domain.Customer{"cust_1": {ID: "cust_1"}}},
		Loyalty:      &memLoyalty{},
		Pricer:       pricer,
		Shipping:     stubShipping{options: []shipping.Option{{Name: "Ground", Rate: 500}}},
		Publisher:    &memPublisher{},
		Clock:        fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		IDGenerator:  seqIDGenerator(),
	})
	if err != nil {
		t.Fatalf("NewPlaceOrderService: %v", err)
	}

	cmd := baseCommand()
	cmd.ShippingAddress = &domain.Address{Line1: "Rue A 1", City: "Paris", PostalCode: "75001", CountryCode: "FR"}
	if _, err := svc.PlaceOrder(context.Background(), cmd); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if len(pricer.addresses) == 0 {
		t.Fatal("pricer never saw a destination")
	}
	for i, addr := range pricer.addresses {
		if addr == nil || addr.CountryCode != "FR" {
			t.Fatalf("line %d priced against %+v, want the shipping address", i, addr)
		}
		if pricer.storeIDs[i] != "store-1" {
			t.Fatalf("line %d priced for store %q", i, pricer.storeIDs[i])
		}
	}

	// Without a shipping address the billing address is the destination.
	pricer.addresses = nil
	cmd = baseCommand()
	cmd.Lines = []PlaceOrderLine{{ProductID: "prod_ebook", Quantity: 1}}
	cmd.ShippingAddress = nil
	if _, err := svc.PlaceOrder(context.Background(), cmd); err != nil {
		t.Fatalf("PlaceOrder digital: %v", err)
	}
	for i, addr := range pricer.addresses {
		if addr == nil || addr.CountryCode != "DE" {
			t.Fatalf("line %d priced against %+v, want the billing address", i, addr)
		}
	}
}

func TestConcurrentPlacementsAllocateDistinctNumbers(t *testing.T) {
	f := newPlaceOrderFixture(t, testProducts(), stubShipping{
		options: []shipping.Option{{Name: "Ground", Rate: 500}},
	}, CheckoutSettings{})

	const n = 100
	var wg sync.WaitGroup
	codes := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.PlaceOrder(context.Background(), baseCommand())
			if err != nil {
				codes <- fmt.Sprintf("error: %v", err)
				return
			}
			codes <- result.Order.Code
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]bool, n)
	for code := range codes {
		if strings.HasPrefix(code, "error:") {
			t.Fatal(code)
		}
		if seen[code] {
			t.Fatalf("order code %s allocated twice", code)
		}
		seen[code] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct codes, got %d", n, len(seen))
	}
}
