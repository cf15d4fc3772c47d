// Package payments tracks gateway transactions and reconciles them with
// orders.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"storefront/apperr"
	"storefront/gateway"
	"storefront/models"
	"storefront/mq"
	"storefront/telemetry"
	"storefront/utils"
)

// Store is the payment collection. AdvancePayment must only apply while the
// stored status is one of adv.Status.AdvanceableFrom() and report whether it
// did.
type Store interface {
	InsertPayment(ctx context.Context, p *models.Payment) error
	FindPaymentByTransactionID(ctx context.Context, txnID string) (*models.Payment, error)
	FindPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
	AdvancePayment(ctx context.Context, txnID string, adv models.PaymentAdvance) (bool, error)
	ListRefunds(ctx context.Context, parentTxnID string) ([]models.Payment, error)
	ListCharges(ctx context.Context, orderID string) ([]models.Payment, error)
}

// Orders is the slice of the order store payments cascade into.
type Orders interface {
	FindOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, change models.StatusChange) (bool, error)
}

// Alerts carried on an Event when a captured charge needs manual follow-up.
const (
	AlertDuplicateCapture    = "duplicate_capture"
	AlertCapturedAfterCancel = "captured_after_cancel"
)

// Event is published on mq.PaymentEventsChannel for every terminal
// transition and every refund.
type Event struct {
	TransactionID string                   `json:"transactionId"`
	OrderID       string                   `json:"orderId"`
	Kind          models.TransactionKind   `json:"kind"`
	Gateway       models.PaymentMethod     `json:"gateway"`
	Status        models.TransactionStatus `json:"status"`
	Amount        float64                  `json:"amount"`
	At            time.Time                `json:"at"`
	Alert         string                   `json:"alert,omitempty"`
}

// Manager is the single writer of payment records.
type Manager struct {
	store   Store
	orders  Orders
	events  mq.Publisher
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewManager(store Store, orders Orders, events mq.Publisher, metrics *telemetry.Metrics, logger *slog.Logger) *Manager {
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Manager{store: store, orders: orders, events: events, metrics: metrics, logger: logger, now: time.Now}
}

type PendingInput struct {
	OrderID               string
	UserID                string
	MerchantTransactionID string
	Amount                float64
	Gateway               models.PaymentMethod
	GatewayOrderID        string
	GatewayResponse       []byte
	CheckoutURL           string
	ClientKey             string
}

// CreatePending records a new payment attempt.
func (m *Manager) CreatePending(ctx context.Context, in PendingInput) (*models.Payment, error) {
	if in.MerchantTransactionID == "" || in.OrderID == "" || in.Amount <= 0 {
		return nil, apperr.New(apperr.KindValidation, "payment needs an order, a transaction id and a positive amount")
	}
	now := m.now()
	p := &models.Payment{
		ID:                    utils.GetUUID(),
		OrderID:               in.OrderID,
		UserID:                in.UserID,
		MerchantTransactionID: in.MerchantTransactionID,
		Kind:                  models.KindCharge,
		Gateway:               in.Gateway,
		GatewayOrderID:        in.GatewayOrderID,
		Amount:                models.RoundMoney(in.Amount),
		Currency:              models.Currency,
		Status:                models.TxnPending,
		GatewayResponse:       in.GatewayResponse,
		CheckoutURL:           in.CheckoutURL,
		ClientKey:             in.ClientKey,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := m.store.InsertPayment(ctx, p); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return nil, apperr.Newf(apperr.KindConflict, "transaction %s already exists", in.MerchantTransactionID)
		}
		return nil, apperr.Wrap(apperr.KindPersistence, err, "save payment")
	}
	return p, nil
}

// Find loads a payment by merchant transaction id.
func (m *Manager) Find(ctx context.Context, txnID string) (*models.Payment, error) {
	p, err := m.store.FindPaymentByTransactionID(ctx, txnID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "payment not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load payment")
	}
	return p, nil
}

// FindByGatewayOrder loads the charge created for a gateway order id.
func (m *Manager) FindByGatewayOrder(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	p, err := m.store.FindPaymentByGatewayOrderID(ctx, gatewayOrderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "payment not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load payment")
	}
	return p, nil
}

// Charges lists the charges recorded for an order, oldest first.
func (m *Manager) Charges(ctx context.Context, orderID string) ([]models.Payment, error) {
	charges, err := m.store.ListCharges(ctx, orderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "list charges")
	}
	return charges, nil
}

// Outcome reports what ApplyGatewayResult did.
type Outcome struct {
	Payment *models.Payment
	Changed bool
}

// ApplyGatewayResult moves a pending payment to the gateway's terminal state
// and cascades the change to the order. A failed payment may still be
// completed, since the customer can retry inside the same gateway order.
// Otherwise a terminal payment never changes: repeating the same result is a
// no-op and a conflicting result is logged and dropped. A pending result
// changes nothing.
func (m *Manager) ApplyGatewayResult(ctx context.Context, txnID string, res gateway.Result) (*Outcome, error) {
	p, err := m.Find(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if !res.State.Terminal() {
		return &Outcome{Payment: p}, nil
	}
	if !p.Status.ReplaceableBy(res.State) {
		if p.Status != res.State {
			m.logger.WarnContext(ctx, "conflicting gateway result dropped",
				"txn_id", txnID, "status", p.Status, "gateway_state", res.Code)
		}
		return &Outcome{Payment: p}, nil
	}
	recovered := p.Status == models.TxnFailed

	applied, err := m.store.AdvancePayment(ctx, txnID, models.PaymentAdvance{
		Status:           res.State,
		GatewayState:     res.Code,
		GatewayPaymentID: res.GatewayPaymentID,
		GatewayResponse:  []byte(res.Raw),
		At:               m.now(),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "update payment")
	}
	if !applied {
		// Another delivery advanced it between our read and write.
		p, err = m.Find(ctx, txnID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Payment: p}, nil
	}

	p, err = m.Find(ctx, txnID)
	if err != nil {
		return nil, err
	}
	m.metrics.RecordPaymentTransition(ctx, string(p.Gateway), string(p.Status))
	if recovered {
		m.logger.WarnContext(ctx, "failed payment captured on retry",
			"txn_id", txnID, "order_id", p.OrderID, "gateway_payment_id", p.GatewayPaymentID)
	}
	m.logger.InfoContext(ctx, "payment advanced",
		"txn_id", txnID, "order_id", p.OrderID, "status", p.Status, "gateway_state", res.Code)

	alert := m.cascade(ctx, p)
	m.publishAlert(ctx, p, alert)
	return &Outcome{Payment: p, Changed: true}, nil
}

// cascade updates the linked order. It is best-effort: the payment write has
// already happened and failures here are only logged. A capture landing on
// an order that is already paid or was cancelled is returned as an alert.
func (m *Manager) cascade(ctx context.Context, p *models.Payment) string {
	var changes []models.StatusChange
	var alert string
	switch p.Status {
	case models.TxnCompleted:
		alert = m.captureAlert(ctx, p)
		changes = []models.StatusChange{
			{FromPaymentStatus: []models.PaymentStatus{models.PaymentPending, models.PaymentFailed}, PaymentStatus: models.PaymentPaid},
			{FromStatus: []models.OrderStatus{models.OrderPending}, Status: models.OrderConfirmed},
		}
	case models.TxnFailed:
		changes = []models.StatusChange{
			{FromPaymentStatus: []models.PaymentStatus{models.PaymentPending}, PaymentStatus: models.PaymentFailed},
		}
	}
	for _, c := range changes {
		if _, err := m.orders.UpdateOrderStatus(ctx, p.OrderID, c); err != nil {
			m.logger.ErrorContext(ctx, "order cascade failed",
				"order_id", p.OrderID, "txn_id", p.MerchantTransactionID, "err", err)
		}
	}
	return alert
}

// captureAlert inspects the order before a completed charge cascades into it.
func (m *Manager) captureAlert(ctx context.Context, p *models.Payment) string {
	o, err := m.orders.FindOrder(ctx, p.OrderID)
	if err != nil {
		m.logger.ErrorContext(ctx, "order lookup for capture failed",
			"order_id", p.OrderID, "txn_id", p.MerchantTransactionID, "err", err)
		return ""
	}
	switch {
	case o.PaymentStatus == models.PaymentPaid || o.PaymentStatus == models.PaymentRefunded:
		m.logger.ErrorContext(ctx, "charge captured for an order that is already paid",
			"order_id", p.OrderID, "txn_id", p.MerchantTransactionID,
			"amount", p.Amount, "payment_status", o.PaymentStatus)
		return AlertDuplicateCapture
	case o.Status == models.OrderCancelled:
		m.logger.ErrorContext(ctx, "charge captured for a cancelled order",
			"order_id", p.OrderID, "txn_id", p.MerchantTransactionID, "amount", p.Amount)
		return AlertCapturedAfterCancel
	}
	return ""
}

func (m *Manager) publish(ctx context.Context, p *models.Payment) {
	m.publishAlert(ctx, p, "")
}

func (m *Manager) publishAlert(ctx context.Context, p *models.Payment, alert string) {
	if m.events == nil {
		return
	}
	ev := Event{
		TransactionID: p.MerchantTransactionID,
		OrderID:       p.OrderID,
		Kind:          p.Kind,
		Gateway:       p.Gateway,
		Status:        p.Status,
		Amount:        p.Amount,
		At:            p.UpdatedAt,
		Alert:         alert,
	}
	if err := m.events.Publish(ctx, mq.PaymentEventsChannel, ev); err != nil {
		m.logger.WarnContext(ctx, "payment event not published", "txn_id", p.MerchantTransactionID, "err", err)
	}
}

// RefundPlan is a validated refund waiting for the gateway call.
type RefundPlan struct {
	Original      *models.Payment
	TransactionID string
	Amount        float64
	Remaining     float64
}

// Full reports whether the refund brings the refunded total to the original
// amount.
func (p *RefundPlan) Full() bool {
	return decimal.NewFromFloat(p.Amount).Equal(decimal.NewFromFloat(p.Remaining))
}

// PlanRefund checks that the original is a completed charge and that amount
// fits in what is left after earlier refunds.
func (m *Manager) PlanRefund(ctx context.Context, originalTxnID string, amount float64) (*RefundPlan, error) {
	amt := decimal.NewFromFloat(amount).Round(2)
	if !amt.IsPositive() {
		return nil, apperr.New(apperr.KindValidation, "refund amount must be positive")
	}
	orig, err := m.Find(ctx, originalTxnID)
	if err != nil {
		return nil, err
	}
	if orig.Kind != models.KindCharge {
		return nil, apperr.New(apperr.KindValidation, "only charges can be refunded")
	}
	if orig.Status != models.TxnCompleted {
		return nil, apperr.Newf(apperr.KindInvalidState, "payment is %s, not completed", orig.Status).
			WithDetail("status", orig.Status)
	}
	refunds, err := m.store.ListRefunds(ctx, originalTxnID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "list refunds")
	}
	refunded := decimal.Zero
	for _, r := range refunds {
		if r.Status == models.TxnFailed {
			continue
		}
		refunded = refunded.Add(decimal.NewFromFloat(r.Amount).Abs())
	}
	remaining := decimal.NewFromFloat(orig.Amount).Sub(refunded)
	if amt.GreaterThan(remaining) {
		return nil, apperr.Newf(apperr.KindRefundExceeds,
			"refund of %s exceeds refundable amount %s", amt.StringFixed(2), remaining.StringFixed(2)).
			WithDetail("requested", amt.InexactFloat64()).
			WithDetail("refundable", remaining.InexactFloat64())
	}
	return &RefundPlan{
		Original:      orig,
		TransactionID: fmt.Sprintf("%s_R%d", originalTxnID, len(refunds)+1),
		Amount:        amt.InexactFloat64(),
		Remaining:     remaining.InexactFloat64(),
	}, nil
}

// RecordRefund stores the refund as its own record with a negative amount.
// The original charge keeps its completed status. A full refund moves the
// order to refunded.
func (m *Manager) RecordRefund(ctx context.Context, plan *RefundPlan, reason string, res *gateway.Result) (*models.Payment, error) {
	now := m.now()
	state := models.TxnPending
	var raw []byte
	var code, gwID string
	if res != nil {
		state, raw, code, gwID = res.State, res.Raw, res.Code, res.GatewayPaymentID
	}
	r := &models.Payment{
		ID:                    utils.GetUUID(),
		OrderID:               plan.Original.OrderID,
		UserID:                plan.Original.UserID,
		MerchantTransactionID: plan.TransactionID,
		ParentTransactionID:   plan.Original.MerchantTransactionID,
		Kind:                  models.KindRefund,
		Gateway:               plan.Original.Gateway,
		GatewayPaymentID:      gwID,
		Amount:                -plan.Amount,
		Currency:              plan.Original.Currency,
		Status:                state,
		GatewayState:          code,
		GatewayResponse:       raw,
		Reason:                reason,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if state.Terminal() {
		r.CompletedAt = &now
	}
	if err := m.store.InsertPayment(ctx, r); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return nil, apperr.Newf(apperr.KindConflict, "refund %s already recorded", plan.TransactionID)
		}
		return nil, apperr.Wrap(apperr.KindPersistence, err, "save refund")
	}
	m.metrics.RecordPaymentTransition(ctx, string(r.Gateway), "refund_"+string(r.Status))
	m.logger.InfoContext(ctx, "refund recorded",
		"txn_id", r.MerchantTransactionID, "parent_txn_id", r.ParentTransactionID,
		"amount", plan.Amount, "status", r.Status, "full", plan.Full())

	if state != models.TxnFailed && plan.Full() {
		_, err := m.orders.UpdateOrderStatus(ctx, r.OrderID, models.StatusChange{
			FromPaymentStatus: []models.PaymentStatus{models.PaymentPaid},
			Status:            models.OrderRefunded,
			PaymentStatus:     models.PaymentRefunded,
		})
		if err != nil {
			m.logger.ErrorContext(ctx, "order refund cascade failed", "order_id", r.OrderID, "err", err)
		}
	}
	m.publish(ctx, r)
	return r, nil
}
