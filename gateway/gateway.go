// Package gateway defines the contract every payment gateway adapter
// implements and a registry to look adapters up by payment method.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"storefront/models"
)

// ErrInvalidSignature is returned by adapters when a client proof or webhook
// signature does not verify.
var ErrInvalidSignature = errors.New("gateway: invalid signature")

// ErrUnsupported is returned for a payment method without an adapter.
var ErrUnsupported = errors.New("gateway: unsupported payment method")

// Result is the gateway-neutral outcome of a gateway call.
type Result struct {
	Success          bool
	Code             string
	State            models.TransactionStatus
	GatewayOrderID   string
	GatewayPaymentID string
	Amount           float64
	Raw              json.RawMessage
}

type InitiateRequest struct {
	MerchantTransactionID string
	OrderID               string
	OrderNumber           string
	UserID                string
	Amount                float64
	Currency              string
	Phone                 string
	RedirectURL           string
	CallbackURL           string
}

// Initiation is what the client needs to finish paying. Razorpay fills
// ClientKey for its checkout widget; PhonePe fills RedirectURL.
type Initiation struct {
	Result
	RedirectURL string
	ClientKey   string
}

// Proof is what the client sends back after checkout.
type Proof struct {
	MerchantTransactionID string
	GatewayOrderID        string
	GatewayPaymentID      string
	Signature             string
}

type StatusQuery struct {
	MerchantTransactionID string
	GatewayOrderID        string
	GatewayPaymentID      string
}

type RefundRequest struct {
	RefundTransactionID   string
	MerchantTransactionID string
	GatewayPaymentID      string
	Amount                float64
	Reason                string
}

// EventType is the normalized webhook event.
type EventType string

const (
	EventPaymentCaptured EventType = "payment.captured"
	EventPaymentFailed   EventType = "payment.failed"
	EventOrderPaid       EventType = "order.paid"
)

// WebhookEvent is a verified, parsed webhook delivery.
type WebhookEvent struct {
	ID                    string
	Type                  EventType
	RawType               string
	MerchantTransactionID string
	GatewayOrderID        string
	Result                Result
}

// Recognized reports whether the event maps to a payment transition.
func (e *WebhookEvent) Recognized() bool {
	switch e.Type {
	case EventPaymentCaptured, EventPaymentFailed, EventOrderPaid:
		return true
	}
	return false
}

// Gateway is implemented by each payment provider adapter.
type Gateway interface {
	Method() models.PaymentMethod
	Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error)
	// VerifyProof checks the client's post-checkout proof. It returns
	// ErrInvalidSignature when the proof does not verify.
	VerifyProof(ctx context.Context, proof Proof) (*Result, error)
	CheckStatus(ctx context.Context, q StatusQuery) (*Result, error)
	Refund(ctx context.Context, req RefundRequest) (*Result, error)
	// ParseWebhook verifies and decodes a webhook delivery.
	ParseWebhook(header http.Header, body []byte) (*WebhookEvent, error)
}

// Registry maps payment methods to adapters.
type Registry struct {
	mu       sync.RWMutex
	gateways map[models.PaymentMethod]Gateway
}

func NewRegistry(gws ...Gateway) *Registry {
	r := &Registry{gateways: make(map[models.PaymentMethod]Gateway)}
	for _, g := range gws {
		r.Register(g)
	}
	return r
}

func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[g.Method()] = g
}

func (r *Registry) Get(method models.PaymentMethod) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, method)
	}
	return g, nil
}

// Methods lists the registered payment methods.
func (r *Registry) Methods() []models.PaymentMethod {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.PaymentMethod, 0, len(r.gateways))
	for m := range r.gateways {
		out = append(out, m)
	}
	return out
}
