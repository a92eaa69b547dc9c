package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/gridcommerce/checkout/internal/domain"
	"github.com/gridcommerce/checkout/internal/payments"
	"github.com/gridcommerce/checkout/internal/platform/events"
	"github.com/gridcommerce/checkout/internal/repositories"
)

var (
	// ErrTransactionInvalidInput indicates malformed command input.
	ErrTransactionInvalidInput = errors.New("transactions: invalid input")
	// ErrTransactionNotFound indicates the transaction does not exist.
	ErrTransactionNotFound = errors.New("transactions: not found")
	// ErrTransactionConflict indicates a concurrent modification lost the race.
	ErrTransactionConflict = errors.New("transactions: conflict")
	// ErrTransactionUnavailable indicates persistence is unavailable.
	ErrTransactionUnavailable = errors.New("transactions: unavailable")
	// ErrTransactionGateway indicates the payment gateway rejected the call.
	// The gateway's message is recorded on the transaction's error list.
	ErrTransactionGateway = errors.New("transactions: gateway failure")
)

// keyedMutex serialises work per key. Entries are reference counted so the
// map does not grow with every transaction ever touched.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// TransactionServiceDeps wires the dependencies of the settlement service.
type TransactionServiceDeps struct {
	Transactions repositories.TransactionRepository
	Gateways     gatewayResolver
	Publisher    eventPublisher
	// OrderStatus, when set, is invoked after every successful settlement
	// command so the order can react to the payment change.
	OrderStatus orderStatusChecker
	Clock       func() time.Time
	Logger      Logger
}

type transactionService struct {
	transactions repositories.TransactionRepository
	gateways     gatewayResolver
	publisher    eventPublisher
	orderStatus  orderStatusChecker
	locks        *keyedMutex
	now          func() time.Time
	logger       Logger
}

// NewTransactionService constructs the TransactionService validating required
// dependencies.
func NewTransactionService(deps TransactionServiceDeps) (TransactionService, error) {
	if deps.Transactions == nil {
		return nil, errors.New("transaction service: transaction repository is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("transaction service: gateway resolver is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &transactionService{
		transactions: deps.Transactions,
		gateways:     deps.Gateways,
		publisher:    deps.Publisher,
		orderStatus:  deps.OrderStatus,
		locks:        newKeyedMutex(),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetTransaction loads one transaction by id.
func (s *transactionService) GetTransaction(ctx context.Context, txID string) (domain.PaymentTransaction, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return domain.PaymentTransaction{}, fmt.Errorf("%w: transaction id is required", ErrTransactionInvalidInput)
	}
	tx, _, err := s.transactions.FindByID(ctx, txID)
	if err != nil {
		return domain.PaymentTransaction{}, s.translateRepoError(err)
	}
	return tx, nil
}

// ListByOrderCode returns every transaction attached to an order, including
// provisional ones.
func (s *transactionService) ListByOrderCode(ctx context.Context, orderCode string) ([]domain.PaymentTransaction, error) {
	orderCode = strings.TrimSpace(orderCode)
	if orderCode == "" {
		return nil, fmt.Errorf("%w: order code is required", ErrTransactionInvalidInput)
	}
	txs, err := s.transactions.ListByOrderCode(ctx, orderCode)
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	return txs, nil
}

// MarkAuthorized records a successful gateway authorization callback. No
// gateway call is made: the authorization already happened.
func (s *transactionService) MarkAuthorized(ctx context.Context, cmd MarkAuthorizedCommand) (domain.PaymentTransaction, error) {
	txID := strings.TrimSpace(cmd.TransactionID)
	authID := strings.TrimSpace(cmd.AuthorizationID)
	if txID == "" || authID == "" {
		return domain.PaymentTransaction{}, fmt.Errorf("%w: transaction id and authorization id are required", ErrTransactionInvalidInput)
	}

	return s.withTransaction(ctx, txID, func(tx *domain.PaymentTransaction, now time.Time) (string, error) {
		if err := tx.MarkAuthorized(authID, now); err != nil {
			return "", err
		}
		return "payment.authorized", nil
	})
}

// Capture settles the full authorized amount. The guard is checked before the
// gateway round-trip; a gateway failure leaves the state unchanged with the
// message appended to the error list.
func (s *transactionService) Capture(ctx context.Context, txID string) (domain.PaymentTransaction, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return domain.PaymentTransaction{}, fmt.Errorf("%w: transaction id is required", ErrTransactionInvalidInput)
	}

	return s.withTransaction(ctx, txID, func(tx *domain.PaymentTransaction, now time.Time) (string, error) {
		if !tx.CanCapture() {
			return "", fmt.Errorf("%w: capture from %s", domain.ErrTransactionTransition, tx.Status)
		}
		captureID := ""
		gateway, err := s.gateways.Resolve(tx.PaymentMethod)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTransactionInvalidInput, err)
		}
		if gateway.Capabilities().Capture && tx.AuthorizationID != "" {
			result, gwErr := gateway.Capture(ctx, payments.CaptureRequest{
				AuthorizationID: tx.AuthorizationID,
				Amount:          tx.Amount,
				IdempotencyKey:  tx.ID + ":capture",
			})
			if gwErr != nil {
				return "", s.recordGatewayFailure(ctx, tx, now, gwErr)
			}
			captureID = result.CaptureID
		}
		if err := tx.Capture(captureID, now); err != nil {
			return "", err
		}
		return "payment.captured", nil
	})
}

// PartialPay records an offline payment instalment.
func (s *transactionService) PartialPay(ctx context.Context, txID string, amount int64) (domain.PaymentTransaction, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return domain.PaymentTransaction{}, fmt.Errorf("%w: transaction id is required", ErrTransactionInvalidInput)
	}

	return s.withTransaction(ctx, txID, func(tx *domain.PaymentTransaction, now time.Time) (string, error) {
		if err := tx.RecordPartialPayment(amount, now); err != nil {
			return "", err
		}
		if tx.Status == domain.TransactionPaid {
			return "payment.captured", nil
		}
		return "payment.partially_paid", nil
	})
}

// Refund returns the entire remaining paid balance.
func (s *transactionService) Refund(ctx context.Context, txID string) (domain.PaymentTransaction, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return domain.PaymentTransaction{}, fmt.Errorf("%w: transaction id is required", ErrTransactionInvalidInput)
	}

	return s.withTransaction(ctx, txID, func(tx *domain.PaymentTransaction, now time.Time) (string, error) {
		if !tx.CanRefund() {
			return "", fmt.Errorf("%w: refund from %s", domain.ErrTransactionTransition, tx.Status)
		}
		amount := tx.RefundableAmount()
		gateway, err := s.gateways.Resolve(tx.PaymentMethod)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTransactionInvalidInput, err)
		}
		if gateway.Capabilities().Refund && tx.AuthorizationID != "" {
			_, gwErr := gateway.Refund(ctx, payments.RefundRequest{
				AuthorizationID: tx.AuthorizationID,
				Amount:          amount,
				IdempotencyKey:  fmt.Sprintf("%s:refund:%d", tx.ID, tx.RefundedAmount),
			})
			if gwErr != nil {
				return "", s.recordGatewayFailure(ctx, tx, now, gwErr)
			}
		}
		if err := tx.Refund(now); err != nil {
			return "", err
		}
		return "payment.refunded", nil
	})
}

// PartialRefund returns part of the paid balance. The amount is validated
// against the running refunded amount before any gateway call.
func (s *transactionService) PartialRefund(ctx context.Context, txID string, amount int64) (domain.PaymentTransaction, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return domain.PaymentTransaction{}, fmt.Errorf("%w: transaction id is required", ErrTransactionInvalidInput)
	}
	if amount <= 0 {
		return domain.PaymentTransaction{}, fmt.Errorf("%w: refund amount must be positive", ErrTransactionInvalidInput)
	}

	return s.withTransaction(ctx, txID, func(tx *domain.PaymentTransaction, now time.Time) (string, error) {
		if !tx.CanPartiallyRefund(amount) {
			// RecordPartialRefund reports the precise violation and does not
			// mutate once the guard is false.
			return "", tx.RecordPartialRefund(amount, now)
		}
		gateway, err := s.gateways.Resolve(tx.PaymentMethod)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTransactionInvalidInput, err)
		}
		if gateway.Capabilities().PartialRefund && tx.AuthorizationID != "" {
			_, gwErr := gateway.Refund(ctx, payments.RefundRequest{
				AuthorizationID: tx.AuthorizationID,
				Amount:          amount,
				IdempotencyKey:  fmt.Sprintf("%s:refund:%d", tx.ID, tx.RefundedAmount),
			})
			if gwErr != nil {
				return "", s.recordGatewayFailure(ctx, tx, now, gwErr)
			}
		}
		if err := tx.RecordPartialRefund(amount, now); err != nil {
			return "", err
		}
		return "payment.partially_refunded", nil
	})
}

// Void cancels the authorization before capture.
func (s *transactionService) Void(ctx context.Context, txID string) (domain.PaymentTransaction, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return domain.PaymentTransaction{}, fmt.Errorf("%w: transaction id is required", ErrTransactionInvalidInput)
	}

	return s.withTransaction(ctx, txID, func(tx *domain.PaymentTransaction, now time.Time) (string, error) {
		if !tx.CanVoid() {
			return "", fmt.Errorf("%w: void from %s", domain.ErrTransactionTransition, tx.Status)
		}
		gateway, err := s.gateways.Resolve(tx.PaymentMethod)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTransactionInvalidInput, err)
		}
		if gateway.Capabilities().Void && tx.AuthorizationID != "" {
			gwErr := gateway.Void(ctx, payments.VoidRequest{
				AuthorizationID: tx.AuthorizationID,
				IdempotencyKey:  tx.ID + ":void",
			})
			if gwErr != nil {
				return "", s.recordGatewayFailure(ctx, tx, now, gwErr)
			}
		}
		if err := tx.Void(now); err != nil {
			return "", err
		}
		return "payment.voided", nil
	})
}

// withTransaction is the single write path: per-transaction lock, load with
// update time, mutate, persist with the update-time precondition. Both halves
// together guarantee two concurrent captures cannot both succeed.
func (s *transactionService) withTransaction(ctx context.Context, txID string, mutate func(tx *domain.PaymentTransaction, now time.Time) (string, error)) (domain.PaymentTransaction, error) {
	unlock := s.locks.lock(txID)
	defer unlock()

	tx, updateTime, err := s.transactions.FindByID(ctx, txID)
	if err != nil {
		return domain.PaymentTransaction{}, s.translateRepoError(err)
	}

	now := s.now()
	eventType, err := mutate(&tx, now)
	if err != nil {
		return tx, err
	}

	if err := s.transactions.UpdateGuarded(ctx, tx, updateTime); err != nil {
		return domain.PaymentTransaction{}, s.translateRepoError(err)
	}

	s.publishTransactionEvent(ctx, eventType, tx)
	if s.orderStatus != nil && tx.OrderID != "" {
		if _, err := s.orderStatus.CheckOrderStatus(ctx, tx.OrderID); err != nil {
			s.logger(ctx, "transactions.order_status_failed", map[string]any{
				"transactionId": tx.ID,
				"orderId":       tx.OrderID,
				"error":         err.Error(),
			})
		}
	}
	return tx, nil
}

// recordGatewayFailure appends the gateway message without advancing state.
// The append is persisted best effort; the original failure wins either way.
func (s *transactionService) recordGatewayFailure(ctx context.Context, tx *domain.PaymentTransaction, now time.Time, gwErr error) error {
	tx.AppendError(gwErr.Error(), now)
	_, updateTime, findErr := s.transactions.FindByID(ctx, tx.ID)
	if findErr == nil {
		if err := s.transactions.UpdateGuarded(ctx, *tx, updateTime); err != nil {
			s.logger(ctx, "transactions.error_append_failed", map[string]any{
				"transactionId": tx.ID,
				"error":         err.Error(),
			})
		}
	}
	s.logger(ctx, "transactions.gateway_failed", map[string]any{
		"transactionId": tx.ID,
		"method":        tx.PaymentMethod,
		"error":         gwErr.Error(),
	})
	return fmt.Errorf("%w: %v", ErrTransactionGateway, gwErr)
}

func (s *transactionService) publishTransactionEvent(ctx context.Context, eventType string, tx domain.PaymentTransaction) {
	if s.publisher == nil || eventType == "" {
		return
	}
	_, err := s.publisher.Publish(ctx, events.Event{
		ID:         tx.ID + ":" + eventType,
		Type:       eventType,
		OccurredAt: s.now(),
		OrderID:    tx.OrderID,
		OrderCode:  tx.OrderCode,
		StoreID:    tx.StoreID,
		Payload: map[string]any{
			"transactionId":  tx.ID,
			"status":         string(tx.Status),
			"paidAmount":     tx.PaidAmount,
			"refundedAmount": tx.RefundedAmount,
		},
	})
	if err != nil {
		s.logger(ctx, "transactions.publish_failed", map[string]any{
			"transactionId": tx.ID,
			"eventType":     eventType,
			"error":         err.Error(),
		})
	}
}

func (s *transactionService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrTransactionNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrTransactionConflict, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrTransactionUnavailable, err)
}
