package payments

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront/apperr"
	"storefront/auth"
	"storefront/config"
	"storefront/gateway"
	"storefront/models"
	"storefront/telemetry"
	"storefront/utils"
)

// Deduper remembers webhook deliveries already processed.
type Deduper interface {
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Locker serializes work on one key across instances.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

const (
	webhookDedupeTTL = 72 * time.Hour
	refundLockTTL    = 60 * time.Second
	initiateLockTTL  = 30 * time.Second
)

type ReconcilerDeps struct {
	Manager  *Manager
	Gateways *gateway.Registry
	Orders   Orders
	Dedupe   Deduper
	Locks    Locker
	Config   config.PaymentsConfig
	Metrics  *telemetry.Metrics
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

// Reconciler drives the payment lifecycle from client calls and gateway
// callbacks.
type Reconciler struct {
	ReconcilerDeps
}

func NewReconciler(d ReconcilerDeps) *Reconciler {
	if d.Metrics == nil {
		d.Metrics = telemetry.NopMetrics()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("storefront/payments")
	}
	return &Reconciler{ReconcilerDeps: d}
}

type InitiateResult struct {
	TransactionID  string               `json:"transactionId"`
	OrderID        string               `json:"orderId"`
	Gateway        models.PaymentMethod `json:"gateway"`
	GatewayOrderID string               `json:"gatewayOrderId,omitempty"`
	RedirectURL    string               `json:"redirectUrl,omitempty"`
	ClientKey      string               `json:"key,omitempty"`
	Amount         float64              `json:"amount"`
	Currency       string               `json:"currency"`
	Resumed        bool                 `json:"resumed,omitempty"`
}

func (r *Reconciler) gatewayFor(method models.PaymentMethod) (gateway.Gateway, error) {
	if !method.Online() {
		return nil, apperr.Newf(apperr.KindValidation, "unsupported gateway %q", method)
	}
	g, err := r.Gateways.Get(method)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "gateway not configured")
	}
	return g, nil
}

// Initiate starts a gateway payment for one of the caller's orders. An order
// has at most one pending charge: asking again hands back the pending one.
func (r *Reconciler) Initiate(ctx context.Context, id auth.Identity, method models.PaymentMethod, orderID string) (*InitiateResult, error) {
	if !id.Authenticated() {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	g, err := r.gatewayFor(method)
	if err != nil {
		return nil, err
	}
	order, err := r.Orders.FindOrder(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "order not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load order")
	}
	if order.UserID != id.UserID {
		return nil, apperr.New(apperr.KindForbidden, "order belongs to another user")
	}
	if order.PaymentMethod != method {
		return nil, apperr.Newf(apperr.KindValidation, "order was placed with %s", order.PaymentMethod)
	}
	switch {
	case order.PaymentStatus == models.PaymentPaid || order.PaymentStatus == models.PaymentRefunded:
		return nil, apperr.New(apperr.KindInvalidState, "order is already paid")
	case order.Status == models.OrderCancelled:
		return nil, apperr.New(apperr.KindInvalidState, "order is cancelled")
	}

	release, ok, err := r.Locks.Acquire(ctx, "initiate:"+order.ID, initiateLockTTL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "acquire initiate lock")
	}
	if !ok {
		return nil, apperr.New(apperr.KindConflict, "a payment for this order is already being started")
	}
	defer release()

	charges, err := r.Manager.Charges(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range charges {
		switch c.Status {
		case models.TxnCompleted:
			return nil, apperr.New(apperr.KindInvalidState, "order is already paid").
				WithDetail("transactionId", c.MerchantTransactionID)
		case models.TxnPending:
			if c.Gateway != method {
				return nil, apperr.Newf(apperr.KindConflict, "a %s payment is already pending", c.Gateway).
					WithDetail("transactionId", c.MerchantTransactionID)
			}
			r.Logger.InfoContext(ctx, "pending charge resumed", "order_id", order.ID, "txn_id", c.MerchantTransactionID)
			return &InitiateResult{
				TransactionID:  c.MerchantTransactionID,
				OrderID:        c.OrderID,
				Gateway:        c.Gateway,
				GatewayOrderID: c.GatewayOrderID,
				RedirectURL:    c.CheckoutURL,
				ClientKey:      c.ClientKey,
				Amount:         c.Amount,
				Currency:       c.Currency,
				Resumed:        true,
			}, nil
		}
	}

	ctx, span := r.Tracer.Start(ctx, "payments.Initiate", trace.WithAttributes(
		attribute.String("payment.gateway", string(method)),
		attribute.String("order.id", orderID),
	))
	defer span.End()

	txnID := "TXN" + utils.CompactID()[:24]
	start, err := g.Initiate(ctx, gateway.InitiateRequest{
		MerchantTransactionID: txnID,
		OrderID:               order.ID,
		OrderNumber:           order.OrderNumber,
		UserID:                id.UserID,
		Amount:                order.Total,
		Currency:              models.Currency,
		Phone:                 order.ShippingAddress.Phone,
		RedirectURL:           r.Config.FrontendBaseURL + "/payment/status/" + txnID,
		CallbackURL:           r.Config.CallbackBaseURL + "/api/payments/" + string(method) + "/webhook",
	})
	if err != nil {
		span.RecordError(err)
		r.Logger.ErrorContext(ctx, "gateway initiate failed", "gateway", method, "order_id", orderID, "err", err)
		return nil, apperr.Wrap(apperr.KindGateway, err, "payment gateway unavailable")
	}

	p, err := r.Manager.CreatePending(ctx, PendingInput{
		OrderID:               order.ID,
		UserID:                id.UserID,
		MerchantTransactionID: txnID,
		Amount:                order.Total,
		Gateway:               method,
		GatewayOrderID:        start.GatewayOrderID,
		GatewayResponse:       start.Raw,
		CheckoutURL:           start.RedirectURL,
		ClientKey:             start.ClientKey,
	})
	if err != nil {
		return nil, err
	}
	return &InitiateResult{
		TransactionID:  p.MerchantTransactionID,
		OrderID:        p.OrderID,
		Gateway:        method,
		GatewayOrderID: start.GatewayOrderID,
		RedirectURL:    start.RedirectURL,
		ClientKey:      start.ClientKey,
		Amount:         p.Amount,
		Currency:       p.Currency,
	}, nil
}

// Verify checks the client's post-checkout proof and applies the
// authoritative gateway state.
func (r *Reconciler) Verify(ctx context.Context, id auth.Identity, method models.PaymentMethod, proof gateway.Proof) (*models.Payment, error) {
	if !id.Authenticated() {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	g, err := r.gatewayFor(method)
	if err != nil {
		return nil, err
	}

	var p *models.Payment
	switch {
	case proof.MerchantTransactionID != "":
		p, err = r.Manager.Find(ctx, proof.MerchantTransactionID)
	case proof.GatewayOrderID != "":
		p, err = r.Manager.FindByGatewayOrder(ctx, proof.GatewayOrderID)
	default:
		return nil, apperr.New(apperr.KindValidation, "transaction or gateway order id required")
	}
	if err != nil {
		return nil, err
	}
	if p.UserID != id.UserID {
		return nil, apperr.New(apperr.KindForbidden, "payment belongs to another user")
	}
	if p.Gateway != method {
		return nil, apperr.Newf(apperr.KindValidation, "payment was made with %s", p.Gateway)
	}
	proof.MerchantTransactionID = p.MerchantTransactionID
	if proof.GatewayOrderID == "" {
		proof.GatewayOrderID = p.GatewayOrderID
	}

	ctx, span := r.Tracer.Start(ctx, "payments.Verify", trace.WithAttributes(
		attribute.String("payment.gateway", string(method)),
		attribute.String("payment.txn_id", p.MerchantTransactionID),
	))
	defer span.End()

	res, err := g.VerifyProof(ctx, proof)
	if errors.Is(err, gateway.ErrInvalidSignature) {
		r.Logger.WarnContext(ctx, "payment proof rejected", "txn_id", p.MerchantTransactionID, "user_id", id.UserID)
		return nil, apperr.New(apperr.KindInvalidSignature, "payment signature verification failed")
	}
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Wrap(apperr.KindGateway, err, "payment gateway unavailable")
	}
	return r.apply(ctx, p, res)
}

// apply guards against a gateway result for a different amount before
// handing it to the manager.
func (r *Reconciler) apply(ctx context.Context, p *models.Payment, res *gateway.Result) (*models.Payment, error) {
	if res.State == models.TxnCompleted && res.Amount > 0 &&
		!decimal.NewFromFloat(res.Amount).Equal(decimal.NewFromFloat(p.Amount)) {
		r.Logger.ErrorContext(ctx, "gateway amount mismatch",
			"txn_id", p.MerchantTransactionID, "expected", p.Amount, "got", res.Amount)
		return nil, apperr.New(apperr.KindInvalidState, "gateway amount does not match payment")
	}
	out, err := r.Manager.ApplyGatewayResult(ctx, p.MerchantTransactionID, *res)
	if err != nil {
		return nil, err
	}
	return out.Payment, nil
}

// Webhook outcomes. Everything except a bad signature and a failed write is
// acknowledged to the gateway.
const (
	WebhookApplied   = "applied"
	WebhookNoop      = "noop"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
	WebhookUnknown   = "unknown_payment"
	WebhookRejected  = "rejected"
	WebhookFailed    = "failed"
)

// HandleWebhook verifies and applies one gateway delivery. body must be the
// exact bytes received.
func (r *Reconciler) HandleWebhook(ctx context.Context, method models.PaymentMethod, header http.Header, body []byte) (outcome string, err error) {
	defer func() { r.Metrics.RecordWebhook(ctx, string(method), outcome) }()

	g, err := r.gatewayFor(method)
	if err != nil {
		return WebhookRejected, err
	}
	ev, err := g.ParseWebhook(header, body)
	if errors.Is(err, gateway.ErrInvalidSignature) {
		r.Logger.WarnContext(ctx, "webhook signature rejected", "gateway", method)
		return WebhookRejected, apperr.New(apperr.KindInvalidSignature, "invalid webhook signature")
	}
	if err != nil {
		return WebhookRejected, apperr.Wrap(apperr.KindValidation, err, "malformed webhook")
	}

	ctx, span := r.Tracer.Start(ctx, "payments.Webhook", trace.WithAttributes(
		attribute.String("payment.gateway", string(method)),
		attribute.String("webhook.event", ev.RawType),
	))
	defer span.End()

	if !ev.Recognized() {
		r.Logger.InfoContext(ctx, "webhook event ignored", "gateway", method, "event", ev.RawType)
		return WebhookIgnored, nil
	}

	dedupeKey := string(method) + ":" + ev.ID
	first, err := r.Dedupe.FirstSeen(ctx, dedupeKey, webhookDedupeTTL)
	if err != nil {
		// Without the dedupe store we still process; the conditional
		// advance keeps it idempotent.
		r.Logger.WarnContext(ctx, "webhook dedupe unavailable", "event_id", ev.ID, "err", err)
		first = true
	}
	if !first {
		r.Logger.InfoContext(ctx, "duplicate webhook", "gateway", method, "event_id", ev.ID)
		return WebhookDuplicate, nil
	}

	var p *models.Payment
	if ev.MerchantTransactionID != "" {
		p, err = r.Manager.Find(ctx, ev.MerchantTransactionID)
	}
	if (p == nil || err != nil) && ev.GatewayOrderID != "" {
		p, err = r.Manager.FindByGatewayOrder(ctx, ev.GatewayOrderID)
	}
	if p == nil {
		if apperr.KindOf(err) == apperr.KindPersistence {
			r.forget(ctx, dedupeKey)
			return WebhookFailed, err
		}
		// The charge may not be recorded yet; let a redelivery try again.
		r.forget(ctx, dedupeKey)
		r.Logger.WarnContext(ctx, "webhook for unknown payment",
			"gateway", method, "event", ev.RawType, "txn_id", ev.MerchantTransactionID, "gateway_order_id", ev.GatewayOrderID)
		return WebhookUnknown, nil
	}

	res := ev.Result
	if res.Amount > 0 && !decimal.NewFromFloat(res.Amount).Equal(decimal.NewFromFloat(p.Amount)) && res.State == models.TxnCompleted {
		r.Logger.ErrorContext(ctx, "webhook amount mismatch",
			"txn_id", p.MerchantTransactionID, "expected", p.Amount, "got", res.Amount)
		return WebhookIgnored, nil
	}
	out, err := r.Manager.ApplyGatewayResult(ctx, p.MerchantTransactionID, res)
	if err != nil {
		span.RecordError(err)
		r.forget(ctx, dedupeKey)
		r.Logger.ErrorContext(ctx, "webhook apply failed", "txn_id", p.MerchantTransactionID, "err", err)
		return WebhookFailed, err
	}
	if !out.Changed {
		return WebhookNoop, nil
	}
	return WebhookApplied, nil
}

func (r *Reconciler) forget(ctx context.Context, key string) {
	if err := r.Dedupe.Forget(ctx, key); err != nil {
		r.Logger.WarnContext(ctx, "webhook dedupe forget failed", "key", key, "err", err)
	}
}

// Status returns the caller's payment, asking the gateway first when it is
// still pending.
func (r *Reconciler) Status(ctx context.Context, id auth.Identity, txnID string) (*models.Payment, error) {
	if !id.Authenticated() {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	p, err := r.Manager.Find(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if p.UserID != id.UserID && !id.IsAdmin() {
		return nil, apperr.New(apperr.KindForbidden, "payment belongs to another user")
	}
	if p.Status.Terminal() || p.Kind != models.KindCharge {
		return p, nil
	}
	g, err := r.gatewayFor(p.Gateway)
	if err != nil {
		return nil, err
	}

	ctx, span := r.Tracer.Start(ctx, "payments.Status", trace.WithAttributes(
		attribute.String("payment.gateway", string(p.Gateway)),
		attribute.String("payment.txn_id", txnID),
	))
	defer span.End()

	res, err := g.CheckStatus(ctx, gateway.StatusQuery{
		MerchantTransactionID: p.MerchantTransactionID,
		GatewayOrderID:        p.GatewayOrderID,
		GatewayPaymentID:      p.GatewayPaymentID,
	})
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Wrap(apperr.KindGateway, err, "payment gateway unavailable")
	}
	return r.apply(ctx, p, res)
}

// Refund refunds part or all of a completed charge. Only admins may call
// it; concurrent refunds of one charge are serialized by a lock.
func (r *Reconciler) Refund(ctx context.Context, id auth.Identity, txnID string, amount float64, reason string) (*models.Payment, error) {
	if !id.IsAdmin() {
		return nil, apperr.New(apperr.KindForbidden, "admin role required")
	}
	release, ok, err := r.Locks.Acquire(ctx, "refund:"+txnID, refundLockTTL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "acquire refund lock")
	}
	if !ok {
		return nil, apperr.New(apperr.KindConflict, "a refund for this payment is already in progress")
	}
	defer release()

	plan, err := r.Manager.PlanRefund(ctx, txnID, amount)
	if err != nil {
		return nil, err
	}
	g, err := r.gatewayFor(plan.Original.Gateway)
	if err != nil {
		return nil, err
	}

	ctx, span := r.Tracer.Start(ctx, "payments.Refund", trace.WithAttributes(
		attribute.String("payment.gateway", string(plan.Original.Gateway)),
		attribute.String("payment.txn_id", txnID),
		attribute.Float64("refund.amount", plan.Amount),
	))
	defer span.End()

	res, err := g.Refund(ctx, gateway.RefundRequest{
		RefundTransactionID:   plan.TransactionID,
		MerchantTransactionID: plan.Original.MerchantTransactionID,
		GatewayPaymentID:      plan.Original.GatewayPaymentID,
		Amount:                plan.Amount,
		Reason:                reason,
	})
	if err != nil {
		span.RecordError(err)
		r.Logger.ErrorContext(ctx, "gateway refund failed", "txn_id", txnID, "err", err)
		return nil, apperr.Wrap(apperr.KindGateway, err, "refund rejected by gateway")
	}
	r.Logger.InfoContext(ctx, "refund issued", "txn_id", txnID, "refund_txn_id", plan.TransactionID, "admin_id", id.UserID)
	return r.Manager.RecordRefund(ctx, plan, reason, res)
}
