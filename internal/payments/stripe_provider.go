package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

// Narrow views over the Stripe SDK clients. Tests inject fakes here instead
// of standing up HTTP backends.
type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeGatewayConfig configures the StripeGateway. Clients exists for tests;
// when nil the gateway builds real SDK clients from APIKey.
type StripeGatewayConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Clients  *stripeClients
}

// StripeGateway settles transactions through Stripe PaymentIntents using the
// manual capture flow. An authorization is an uncaptured intent, capture and
// refund are amount scoped, void cancels the intent.
type StripeGateway struct {
	api    stripeClients
	clock  func() time.Time
	logger StripeLogger
}

// NewStripeGateway constructs a StripeGateway.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	api := stripeClients{}
	if cfg.Clients != nil {
		api = *cfg.Clients
	}
	if api.intents == nil || api.refunds == nil {
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("payments: stripe api key is required")
		}
		sc := client.New(cfg.APIKey, cfg.Backends)
		if api.intents == nil {
			api.intents = sc.PaymentIntents
		}
		if api.refunds == nil {
			api.refunds = sc.Refunds
		}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeGateway{api: api, clock: clock, logger: logger}, nil
}

func (g *StripeGateway) SystemName() string { return "stripe" }

func (g *StripeGateway) Capabilities() Capabilities {
	return Capabilities{Capture: true, Refund: true, PartialRefund: true, Void: true}
}

// Authorize creates a manual-capture PaymentIntent and returns its ID as the
// authorization handle.
func (g *StripeGateway) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	if req.Amount <= 0 {
		return AuthorizeResult{}, errors.New("authorize amount must be positive")
	}
	if strings.TrimSpace(req.Currency) == "" {
		return AuthorizeResult{}, errors.New("authorize currency is required")
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.OrderCode != "" {
		params.AddMetadata("order_code", req.OrderCode)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := g.api.intents.New(params)
	if err != nil {
		return AuthorizeResult{}, gatewayError("authorize", err)
	}
	g.logger(ctx, "payments.stripe.authorized", map[string]any{
		"intentId":  intent.ID,
		"orderCode": req.OrderCode,
		"amount":    req.Amount,
	})
	return AuthorizeResult{AuthorizationID: intent.ID}, nil
}

// Capture settles the authorized intent for the requested amount. Amount zero
// captures the full authorized amount.
func (g *StripeGateway) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	if req.AuthorizationID == "" {
		return CaptureResult{}, errors.New("capture requires an authorization id")
	}
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	if req.Amount > 0 {
		params.AmountToCapture = stripe.Int64(req.Amount)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := g.api.intents.Capture(req.AuthorizationID, params)
	if err != nil {
		return CaptureResult{}, gatewayError("capture", err)
	}
	result := CaptureResult{CaptureID: intent.ID, AmountCaptured: intent.AmountReceived}
	if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
		result.CaptureID = intent.LatestCharge.ID
	}
	g.logger(ctx, "payments.stripe.captured", map[string]any{
		"intentId":  req.AuthorizationID,
		"captureId": result.CaptureID,
		"amount":    result.AmountCaptured,
	})
	return result, nil
}

// Refund returns captured funds on the intent. Amount zero refunds the full
// remaining balance.
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if req.AuthorizationID == "" {
		return RefundResult{}, errors.New("refund requires an authorization id")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.AuthorizationID),
	}
	params.Context = ctx
	if req.Amount > 0 {
		params.Amount = stripe.Int64(req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	refund, err := g.api.refunds.New(params)
	if err != nil {
		return RefundResult{}, gatewayError("refund", err)
	}
	g.logger(ctx, "payments.stripe.refunded", map[string]any{
		"intentId": req.AuthorizationID,
		"refundId": refund.ID,
		"amount":   refund.Amount,
	})
	return RefundResult{RefundID: refund.ID, AmountRefunded: refund.Amount}, nil
}

// Void cancels the uncaptured intent.
func (g *StripeGateway) Void(ctx context.Context, req VoidRequest) error {
	if req.AuthorizationID == "" {
		return errors.New("void requires an authorization id")
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if _, err := g.api.intents.Cancel(req.AuthorizationID, params); err != nil {
		return gatewayError("void", err)
	}
	g.logger(ctx, "payments.stripe.voided", map[string]any{
		"intentId": req.AuthorizationID,
	})
	return nil
}

// gatewayError preserves Stripe's human readable message so callers can
// record it verbatim on the transaction's error list.
func gatewayError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return fmt.Errorf("stripe %s failed: %s", op, stripeErr.Msg)
	}
	return fmt.Errorf("stripe %s failed: %v", op, err)
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "":
		return ""
	case "duplicate":
		return string(stripe.RefundReasonDuplicate)
	case "fraudulent", "fraud":
		return string(stripe.RefundReasonFraudulent)
	default:
		return string(stripe.RefundReasonRequestedByCustomer)
	}
}
