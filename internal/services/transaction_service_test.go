package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/gridcommerce/checkout/internal/domain"
	"github.com/gridcommerce/checkout/internal/payments"
)

func newTestTransactionService(t *testing.T, repo *memTransactions, gateway *stubGateway, publisher *memPublisher) TransactionService {
	t.Helper()
	var pub eventPublisher
	if publisher != nil {
		pub = publisher
	}
	svc, err := NewTransactionService(TransactionServiceDeps{
		Transactions: repo,
		Gateways:     stubResolver{gateway: gateway},
		Publisher:    pub,
		Clock:        fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("NewTransactionService: %v", err)
	}
	return svc
}

func authorizedTx(id string, amount int64) domain.PaymentTransaction {
	return domain.PaymentTransaction{
		ID:              id,
		OrderID:         "ord_1",
		OrderCode:       "ORD-000001",
		PaymentMethod:   "stub",
		Status:          domain.TransactionAuthorized,
		CurrencyCode:    "EUR",
		Amount:          amount,
		AuthorizationID: "auth_1",
	}
}

func TestCaptureFullAmount(t *testing.T) {
	repo := newMemTransactions()
	repo.put(authorizedTx("ptx_1", 10000))
	gateway := &stubGateway{caps: payments.Capabilities{Capture: true}}
	publisher := &memPublisher{}
	svc := newTestTransactionService(t, repo, gateway, publisher)

	tx, err := svc.Capture(context.Background(), "ptx_1")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if tx.Status != domain.TransactionPaid || tx.PaidAmount != 10000 {
		t.Fatalf("unexpected state: %s paid=%d", tx.Status, tx.PaidAmount)
	}
	if tx.CaptureID != "cap_1" {
		t.Fatalf("expected gateway capture id, got %q", tx.CaptureID)
	}
	if gateway.captureCalls != 1 || gateway.lastAmount != 10000 {
		t.Fatalf("expected one gateway capture of 10000, got %d of %d", gateway.captureCalls, gateway.lastAmount)
	}
	if types := publisher.types(); len(types) != 1 || types[0] != "payment.captured" {
		t.Fatalf("unexpected events: %v", types)
	}
}

func TestConcurrentCapturesExactlyOneSucceeds(t *testing.T) {
	repo := newMemTransactions()
	repo.put(authorizedTx("ptx_1", 10000))
	gateway := &stubGateway{caps: payments.Capabilities{Capture: true}}
	svc := newTestTransactionService(t, repo, gateway, nil)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Capture(context.Background(), "ptx_1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes, guardFailures := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, domain.ErrTransactionTransition):
			guardFailures++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || guardFailures != 1 {
		t.Fatalf("expected exactly one success, got %d successes and %d guard failures", successes, guardFailures)
	}
	if gateway.captureCalls != 1 {
		t.Fatalf("gateway must be called once, got %d", gateway.captureCalls)
	}

	tx, _, err := repo.FindByID(context.Background(), "ptx_1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if tx.Status != domain.TransactionPaid || tx.PaidAmount != 10000 {
		t.Fatalf("unexpected final state: %s paid=%d", tx.Status, tx.PaidAmount)
	}
}

func TestGatewayFailureKeepsStateAndRecordsError(t *testing.T) {
	repo := newMemTransactions()
	repo.put(authorizedTx("ptx_1", 10000))
	gateway := &stubGateway{
		caps: payments.Capabilities{Capture: true},
		err:  errors.New("stripe capture failed: Your card was declined."),
	}
	svc := newTestTransactionService(t, repo, gateway, nil)

	_, err := svc.Capture(context.Background(), "ptx_1")
	if !errors.Is(err, ErrTransactionGateway) {
		t.Fatalf("expected ErrTransactionGateway, got %v", err)
	}

	tx, _, findErr := repo.FindByID(context.Background(), "ptx_1")
	if findErr != nil {
		t.Fatalf("reload: %v", findErr)
	}
	if tx.Status != domain.TransactionAuthorized || tx.PaidAmount != 0 {
		t.Fatalf("state must not advance on gateway failure: %s paid=%d", tx.Status, tx.PaidAmount)
	}
	if len(tx.Errors) != 1 || tx.Errors[0] != "stripe capture failed: Your card was declined." {
		t.Fatalf("expected gateway message on error list, got %v", tx.Errors)
	}
}

func TestPartialRefundThenFullRefund(t *testing.T) {
	repo := newMemTransactions()
	tx := authorizedTx("ptx_1", 10000)
	tx.Status = domain.TransactionPaid
	tx.PaidAmount = 10000
	tx.CaptureID = "cap_1"
	repo.put(tx)
	gateway := &stubGateway{caps: payments.Capabilities{Capture: true, Refund: true, PartialRefund: true, Void: true}}
	svc := newTestTransactionService(t, repo, gateway, nil)

	partial, err := svc.PartialRefund(context.Background(), "ptx_1", 3000)
	if err != nil {
		t.Fatalf("PartialRefund: %v", err)
	}
	if partial.Status != domain.TransactionPartiallyRefunded || partial.RefundedAmount != 3000 {
		t.Fatalf("unexpected state after partial refund: %s refunded=%d", partial.Status, partial.RefundedAmount)
	}

	full, err := svc.Refund(context.Background(), "ptx_1")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if full.Status != domain.TransactionRefunded || full.RefundedAmount != 10000 {
		t.Fatalf("unexpected state after full refund: %s refunded=%d", full.Status, full.RefundedAmount)
	}
	if gateway.refundCalls != 2 || gateway.lastAmount != 7000 {
		t.Fatalf("expected second gateway refund of the remaining 7000, got %d calls last=%d", gateway.refundCalls, gateway.lastAmount)
	}
}

func TestExcessivePartialRefundRejectedBeforeGateway(t *testing.T) {
	repo := newMemTransactions()
	tx := authorizedTx("ptx_1", 10000)
	tx.Status = domain.TransactionPaid
	tx.PaidAmount = 10000
	repo.put(tx)
	gateway := &stubGateway{caps: payments.Capabilities{Refund: true, PartialRefund: true}}
	svc := newTestTransactionService(t, repo, gateway, nil)

	_, err := svc.PartialRefund(context.Background(), "ptx_1", 15000)
	if !errors.Is(err, domain.ErrTransactionAmount) {
		t.Fatalf("expected ErrTransactionAmount, got %v", err)
	}
	if gateway.refundCalls != 0 {
		t.Fatal("precondition violations must be rejected before any gateway call")
	}

	reloaded, _, _ := repo.FindByID(context.Background(), "ptx_1")
	if reloaded.Status != domain.TransactionPaid || reloaded.RefundedAmount != 0 {
		t.Fatalf("state must be unchanged, got %s refunded=%d", reloaded.Status, reloaded.RefundedAmount)
	}
}

func TestPartialPaymentsAccumulateToPaid(t *testing.T) {
	repo := newMemTransactions()
	tx := authorizedTx("ptx_1", 10000)
	repo.put(tx)
	gateway := &stubGateway{}
	svc := newTestTransactionService(t, repo, gateway, nil)

	first, err := svc.PartialPay(context.Background(), "ptx_1", 4000)
	if err != nil {
		t.Fatalf("PartialPay: %v", err)
	}
	if first.Status != domain.TransactionPartiallyPaid || first.PaidAmount != 4000 {
		t.Fatalf("unexpected state: %s paid=%d", first.Status, first.PaidAmount)
	}

	second, err := svc.PartialPay(context.Background(), "ptx_1", 6000)
	if err != nil {
		t.Fatalf("PartialPay: %v", err)
	}
	if second.Status != domain.TransactionPaid || second.PaidAmount != 10000 {
		t.Fatalf("expected fully paid, got %s paid=%d", second.Status, second.PaidAmount)
	}

	if _, err := svc.PartialPay(context.Background(), "ptx_1", 1); !errors.Is(err, domain.ErrTransactionAmount) {
		t.Fatalf("paid amount must never exceed the transaction amount, got %v", err)
	}
}

func TestVoidReleasesAuthorization(t *testing.T) {
	repo := newMemTransactions()
	repo.put(authorizedTx("ptx_1", 10000))
	gateway := &stubGateway{caps: payments.Capabilities{Void: true}}
	svc := newTestTransactionService(t, repo, gateway, nil)

	tx, err := svc.Void(context.Background(), "ptx_1")
	if err != nil {
		t.Fatalf("Void: %v", err)
	}
	if tx.Status != domain.TransactionVoided {
		t.Fatalf("expected voided, got %s", tx.Status)
	}
	if gateway.voidCalls != 1 {
		t.Fatalf("expected one gateway void, got %d", gateway.voidCalls)
	}

	if _, err := svc.Capture(context.Background(), "ptx_1"); !errors.Is(err, domain.ErrTransactionTransition) {
		t.Fatalf("capture after void must fail, got %v", err)
	}
}

func TestMarkAuthorizedFromPendingOnly(t *testing.T) {
	repo := newMemTransactions()
	pending := authorizedTx("ptx_1", 10000)
	pending.Status = domain.TransactionPending
	pending.AuthorizationID = ""
	repo.put(pending)
	svc := newTestTransactionService(t, repo, &stubGateway{}, nil)

	tx, err := svc.MarkAuthorized(context.Background(), MarkAuthorizedCommand{TransactionID: "ptx_1", AuthorizationID: "pi_9"})
	if err != nil {
		t.Fatalf("MarkAuthorized: %v", err)
	}
	if tx.Status != domain.TransactionAuthorized || tx.AuthorizationID != "pi_9" {
		t.Fatalf("unexpected state: %s auth=%q", tx.Status, tx.AuthorizationID)
	}

	if _, err := svc.MarkAuthorized(context.Background(), MarkAuthorizedCommand{TransactionID: "ptx_1", AuthorizationID: "pi_9"}); !errors.Is(err, domain.ErrTransactionTransition) {
		t.Fatalf("second authorization must fail, got %v", err)
	}
}

// Closure over the transition graph: for every state, only the listed
// commands may succeed; everything else leaves the stored state untouched.
func TestStateMachineClosure(t *testing.T) {
	type command struct {
		name string
		run  func(svc TransactionService) error
	}
	commands := []command{
		{"markAuthorized", func(svc TransactionService) error {
			_, err := svc.MarkAuthorized(context.Background(), MarkAuthorizedCommand{TransactionID: "ptx_1", AuthorizationID: "auth_9"})
			return err
		}},
		{"capture", func(svc TransactionService) error {
			_, err := svc.Capture(context.Background(), "ptx_1")
			return err
		}},
		{"partialPay", func(svc TransactionService) error {
			_, err := svc.PartialPay(context.Background(), "ptx_1", 10)
			return err
		}},
		{"refund", func(svc TransactionService) error {
			_, err := svc.Refund(context.Background(), "ptx_1")
			return err
		}},
		{"partialRefund", func(svc TransactionService) error {
			_, err := svc.PartialRefund(context.Background(), "ptx_1", 10)
			return err
		}},
		{"void", func(svc TransactionService) error {
			_, err := svc.Void(context.Background(), "ptx_1")
			return err
		}},
	}

	seed := func(status domain.TransactionStatus) domain.PaymentTransaction {
		tx := domain.PaymentTransaction{
			ID:            "ptx_1",
			OrderCode:     "ORD-000001",
			PaymentMethod: "stub",
			Status:        status,
			Amount:        100,
		}
		switch status {
		case domain.TransactionAuthorized:
			tx.AuthorizationID = "auth_1"
		case domain.TransactionPartiallyPaid:
			tx.PaidAmount = 50
		case domain.TransactionPaid:
			tx.PaidAmount = 100
		case domain.TransactionPartiallyRefunded:
			tx.PaidAmount = 100
			tx.RefundedAmount = 30
		case domain.TransactionRefunded:
			tx.PaidAmount = 100
			tx.RefundedAmount = 100
		}
		return tx
	}

	allowed := map[domain.TransactionStatus]map[string]bool{
		domain.TransactionPending:           {"markAuthorized": true, "partialPay": true, "void": true},
		domain.TransactionAuthorized:        {"capture": true, "partialPay": true, "void": true},
		domain.TransactionPartiallyPaid:     {"partialPay": true, "refund": true, "partialRefund": true},
		domain.TransactionPaid:              {"refund": true, "partialRefund": true},
		domain.TransactionPartiallyRefunded: {"refund": true, "partialRefund": true},
		domain.TransactionRefunded:          {},
		domain.TransactionVoided:            {},
		domain.TransactionCancelled:         {},
	}

	for status, legal := range allowed {
		for _, cmd := range commands {
			repo := newMemTransactions()
			repo.put(seed(status))
			gateway := &stubGateway{caps: payments.Capabilities{Capture: true, Refund: true, PartialRefund: true, Void: true}}
			svc := newTestTransactionService(t, repo, gateway, nil)

			err := cmd.run(svc)
			if legal[cmd.name] {
				if err != nil {
					t.Fatalf("%s from %s should succeed, got %v", cmd.name, status, err)
				}
				continue
			}
			if err == nil {
				t.Fatalf("%s from %s must be rejected", cmd.name, status)
			}
			reloaded, _, _ := repo.FindByID(context.Background(), "ptx_1")
			if reloaded.Status != status {
				t.Fatalf("%s from %s mutated status to %s", cmd.name, status, reloaded.Status)
			}
		}
	}
}
