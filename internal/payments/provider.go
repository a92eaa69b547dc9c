package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedGateway is returned when the manager cannot locate a gateway
// for a payment method.
var ErrUnsupportedGateway = errors.New("payments: unsupported gateway")

// Capabilities declares which settlement operations a gateway supports.
// A false flag routes the corresponding command down the offline path,
// mutating the transaction without a gateway round-trip.
type Capabilities struct {
	Capture       bool
	Refund        bool
	PartialRefund bool
	Void          bool
}

// AuthorizeRequest reserves funds for an order without capturing them.
type AuthorizeRequest struct {
	OrderCode      string
	Amount         int64
	Currency       string
	CustomerID     string
	IdempotencyKey string
	Metadata       map[string]string
}

// AuthorizeResult carries the gateway's authorization handle.
type AuthorizeResult struct {
	AuthorizationID string
}

// CaptureRequest settles previously authorized funds.
type CaptureRequest struct {
	AuthorizationID string
	Amount          int64
	IdempotencyKey  string
}

// CaptureResult carries the gateway's capture handle.
type CaptureResult struct {
	CaptureID      string
	AmountCaptured int64
}

// RefundRequest returns captured funds.
type RefundRequest struct {
	AuthorizationID string
	Amount          int64
	Reason          string
	IdempotencyKey  string
}

// RefundResult carries the gateway's refund handle.
type RefundResult struct {
	RefundID       string
	AmountRefunded int64
}

// VoidRequest cancels an uncaptured authorization.
type VoidRequest struct {
	AuthorizationID string
	IdempotencyKey  string
}

// Gateway is the settlement contract payment method adapters implement.
// Errors returned from gateway calls keep the gateway's message text so the
// caller can record it on the transaction's error list.
type Gateway interface {
	SystemName() string
	Capabilities() Capabilities
	Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error)
	Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	Void(ctx context.Context, req VoidRequest) error
}

// Manager routes settlement calls to the gateway registered for a payment
// method system name.
type Manager struct {
	gateways       map[string]Gateway
	defaultGateway string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultGateway overrides the gateway used for unknown payment methods.
func WithDefaultGateway(name string) ManagerOption {
	return func(m *Manager) {
		m.defaultGateway = strings.ToLower(strings.TrimSpace(name))
	}
}

// NewManager constructs a Manager over the supplied gateways, keyed by
// payment method system name.
func NewManager(gateways map[string]Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	copyMap := make(map[string]Gateway, len(gateways))
	for k, v := range gateways {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid gateway registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{gateways: copyMap}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultGateway = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Resolve returns the gateway for the payment method, falling back to the
// default gateway and finally to a sole registration.
func (m *Manager) Resolve(paymentMethod string) (Gateway, error) {
	if m == nil || len(m.gateways) == 0 {
		return nil, errors.New("payments: no gateways registered")
	}
	if key := strings.ToLower(strings.TrimSpace(paymentMethod)); key != "" {
		if gw, ok := m.gateways[key]; ok {
			return gw, nil
		}
	}
	if m.defaultGateway != "" {
		if gw, ok := m.gateways[m.defaultGateway]; ok {
			return gw, nil
		}
	}
	if len(m.gateways) == 1 {
		for _, gw := range m.gateways {
			return gw, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedGateway, paymentMethod)
}

// ManualGateway represents offline payment methods such as cash on delivery
// or bank transfer. It supports no online operations; every settlement action
// takes the offline path.
type ManualGateway struct {
	systemName string
}

// NewManualGateway constructs a ManualGateway with the given system name.
func NewManualGateway(systemName string) *ManualGateway {
	name := strings.TrimSpace(systemName)
	if name == "" {
		name = "manual"
	}
	return &ManualGateway{systemName: name}
}

func (g *ManualGateway) SystemName() string         { return g.systemName }
func (g *ManualGateway) Capabilities() Capabilities { return Capabilities{} }

func (g *ManualGateway) Authorize(context.Context, AuthorizeRequest) (AuthorizeResult, error) {
	return AuthorizeResult{}, nil
}

func (g *ManualGateway) Capture(context.Context, CaptureRequest) (CaptureResult, error) {
	return CaptureResult{}, errors.New("manual gateway does not capture online")
}

func (g *ManualGateway) Refund(context.Context, RefundRequest) (RefundResult, error) {
	return RefundResult{}, errors.New("manual gateway does not refund online")
}

func (g *ManualGateway) Void(context.Context, VoidRequest) error {
	return nil
}
