// Package razorpay adapts the Razorpay Orders and Payments REST API to the
// gateway contract.
package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"storefront/config"
	"storefront/gateway"
	"storefront/models"
)

const (
	SignatureHeader = "X-Razorpay-Signature"
	EventIDHeader   = "X-Razorpay-Event-Id"
)

type Gateway struct {
	cfg    config.RazorpayConfig
	client *gateway.Client
}

func New(cfg config.RazorpayConfig, timeout time.Duration) *Gateway {
	return &Gateway{cfg: cfg, client: gateway.NewClient(cfg.BaseURL, timeout)}
}

func (g *Gateway) Method() models.PaymentMethod { return models.MethodRazorpay }

type order struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type payment struct {
	ID        string            `json:"id"`
	OrderID   string            `json:"order_id"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Status    string            `json:"status"`
	ErrorCode string            `json:"error_code"`
	Notes     map[string]string `json:"notes"`
	CreatedAt int64             `json:"created_at"`
}

type refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

func (g *Gateway) header() http.Header {
	h := http.Header{}
	creds := base64.StdEncoding.EncodeToString([]byte(g.cfg.KeyID + ":" + g.cfg.KeySecret))
	h.Set("Authorization", "Basic "+creds)
	return h
}

// Initiate creates a Razorpay order. The client finishes checkout with the
// returned order id and public key.
func (g *Gateway) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.Initiation, error) {
	body := map[string]any{
		"amount":   models.ToMinorUnits(req.Amount),
		"currency": req.Currency,
		"receipt":  req.MerchantTransactionID,
		"notes": map[string]string{
			"merchant_transaction_id": req.MerchantTransactionID,
			"order_id":                req.OrderID,
			"order_number":            req.OrderNumber,
		},
	}
	raw, err := g.client.Do(ctx, http.MethodPost, "/v1/orders", g.header(), body)
	if err != nil {
		return nil, err
	}
	var o order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("razorpay: decode order: %w", err)
	}
	return &gateway.Initiation{
		Result: gateway.Result{
			Success:        true,
			Code:           o.Status,
			State:          models.TxnPending,
			GatewayOrderID: o.ID,
			Amount:         models.FromMinorUnits(o.Amount),
			Raw:            raw,
		},
		ClientKey: g.cfg.KeyID,
	}, nil
}

// VerifyProof checks the checkout signature, then fetches the payment so
// the state comes from Razorpay and not the client.
func (g *Gateway) VerifyProof(ctx context.Context, proof gateway.Proof) (*gateway.Result, error) {
	if proof.GatewayOrderID == "" || proof.GatewayPaymentID == "" || proof.Signature == "" {
		return nil, gateway.ErrInvalidSignature
	}
	expected := Sign(g.cfg.KeySecret, []byte(proof.GatewayOrderID+"|"+proof.GatewayPaymentID))
	if !hmac.Equal([]byte(expected), []byte(proof.Signature)) {
		return nil, gateway.ErrInvalidSignature
	}
	res, err := g.fetchPayment(ctx, proof.GatewayPaymentID)
	if err != nil {
		return nil, err
	}
	if res.GatewayOrderID != "" && res.GatewayOrderID != proof.GatewayOrderID {
		return nil, gateway.ErrInvalidSignature
	}
	return res, nil
}

// CheckStatus prefers the payment id and falls back to the order's payment
// list, taking the best state across attempts.
func (g *Gateway) CheckStatus(ctx context.Context, q gateway.StatusQuery) (*gateway.Result, error) {
	if q.GatewayPaymentID != "" {
		return g.fetchPayment(ctx, q.GatewayPaymentID)
	}
	if q.GatewayOrderID == "" {
		return nil, errors.New("razorpay: status query needs an order or payment id")
	}
	raw, err := g.client.Do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(q.GatewayOrderID)+"/payments", g.header(), nil)
	if err != nil {
		return nil, err
	}
	var list struct {
		Items []payment `json:"items"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("razorpay: decode payments: %w", err)
	}
	res := &gateway.Result{
		Success:        true,
		Code:           "created",
		State:          models.TxnPending,
		GatewayOrderID: q.GatewayOrderID,
		Raw:            raw,
	}
	for _, p := range list.Items {
		state := MapState(p.Status)
		if rank(state) > rank(res.State) {
			res.Code = p.Status
			res.State = state
			res.GatewayPaymentID = p.ID
			res.Amount = models.FromMinorUnits(p.Amount)
		}
	}
	return res, nil
}

func rank(s models.TransactionStatus) int {
	switch s {
	case models.TxnCompleted:
		return 2
	case models.TxnFailed:
		return 1
	}
	return 0
}

func (g *Gateway) fetchPayment(ctx context.Context, paymentID string) (*gateway.Result, error) {
	raw, err := g.client.Do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), g.header(), nil)
	if err != nil {
		return nil, err
	}
	var p payment
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("razorpay: decode payment: %w", err)
	}
	return paymentResult(p, raw), nil
}

func paymentResult(p payment, raw json.RawMessage) *gateway.Result {
	return &gateway.Result{
		Success:          true,
		Code:             p.Status,
		State:            MapState(p.Status),
		GatewayOrderID:   p.OrderID,
		GatewayPaymentID: p.ID,
		Amount:           models.FromMinorUnits(p.Amount),
		Raw:              raw,
	}
}

func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	if req.GatewayPaymentID == "" {
		return nil, errors.New("razorpay: refund needs a captured payment id")
	}
	body := map[string]any{
		"amount":  models.ToMinorUnits(req.Amount),
		"receipt": req.RefundTransactionID,
		"notes": map[string]string{
			"reason":                req.Reason,
			"refund_transaction_id": req.RefundTransactionID,
		},
	}
	raw, err := g.client.Do(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(req.GatewayPaymentID)+"/refund", g.header(), body)
	if err != nil {
		return nil, err
	}
	var r refund
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("razorpay: decode refund: %w", err)
	}
	state := models.TxnPending
	switch r.Status {
	case "processed":
		state = models.TxnCompleted
	case "failed":
		state = models.TxnFailed
	}
	return &gateway.Result{
		Success:          state != models.TxnFailed,
		Code:             r.Status,
		State:            state,
		GatewayPaymentID: r.ID,
		Amount:           models.FromMinorUnits(r.Amount),
		Raw:              raw,
	}, nil
}

type webhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity payment `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity order `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// ParseWebhook verifies the HMAC over the exact request bytes before
// decoding anything.
func (g *Gateway) ParseWebhook(header http.Header, body []byte) (*gateway.WebhookEvent, error) {
	sig := header.Get(SignatureHeader)
	if sig == "" || g.cfg.WebhookSecret == "" {
		return nil, gateway.ErrInvalidSignature
	}
	if !hmac.Equal([]byte(Sign(g.cfg.WebhookSecret, body)), []byte(sig)) {
		return nil, gateway.ErrInvalidSignature
	}

	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("razorpay: decode webhook: %w", err)
	}

	ev := &gateway.WebhookEvent{
		ID:      header.Get(EventIDHeader),
		Type:    gateway.EventType(wb.Event),
		RawType: wb.Event,
	}
	if wb.Payload.Payment != nil {
		p := wb.Payload.Payment.Entity
		ev.Result = *paymentResult(p, body)
		ev.GatewayOrderID = p.OrderID
		ev.MerchantTransactionID = p.Notes["merchant_transaction_id"]
	}
	if wb.Payload.Order != nil {
		o := wb.Payload.Order.Entity
		if ev.GatewayOrderID == "" {
			ev.GatewayOrderID = o.ID
		}
		if ev.MerchantTransactionID == "" {
			ev.MerchantTransactionID = o.Receipt
		}
	}
	if ev.Type == gateway.EventOrderPaid {
		ev.Result.State = models.TxnCompleted
		ev.Result.Success = true
	}
	ev.Result.GatewayOrderID = ev.GatewayOrderID
	if ev.ID == "" {
		// Razorpay always sends the header; fall back to a content key so
		// redeliveries of the same body still dedupe.
		ev.ID = fmt.Sprintf("%s:%s:%s", wb.Event, ev.Result.GatewayPaymentID, ev.GatewayOrderID)
	}
	return ev, nil
}

// MapState maps a Razorpay payment status to the internal enum.
func MapState(status string) models.TransactionStatus {
	switch status {
	case "captured":
		return models.TxnCompleted
	case "failed":
		return models.TxnFailed
	}
	return models.TxnPending
}

// Sign returns the hex HMAC-SHA256 of data.
func Sign(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
