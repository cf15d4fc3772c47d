// Package phonepe adapts the PhonePe PG checkout API to the gateway
// contract. Requests carry a base64 payload and an X-VERIFY checksum of
// sha256(payload + path + salt key) suffixed with "###" and the salt index.
package phonepe

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
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
	VerifyHeader   = "X-VERIFY"
	MerchantHeader = "X-MERCHANT-ID"

	payPath    = "/pg/v1/pay"
	refundPath = "/pg/v1/refund"
)

type Gateway struct {
	cfg    config.PhonePeConfig
	client *gateway.Client
}

func New(cfg config.PhonePeConfig, timeout time.Duration) *Gateway {
	return &Gateway{cfg: cfg, client: gateway.NewClient(cfg.BaseURL, timeout)}
}

func (g *Gateway) Method() models.PaymentMethod { return models.MethodPhonePe }

type envelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type txnData struct {
	MerchantID            string `json:"merchantId"`
	MerchantTransactionID string `json:"merchantTransactionId"`
	TransactionID         string `json:"transactionId"`
	Amount                int64  `json:"amount"`
	State                 string `json:"state"`
	ResponseCode          string `json:"responseCode"`
	InstrumentResponse    struct {
		RedirectInfo struct {
			URL string `json:"url"`
		} `json:"redirectInfo"`
	} `json:"instrumentResponse"`
}

// Checksum computes the X-VERIFY value for payload+path.
func (g *Gateway) Checksum(payload, path string) string {
	sum := sha256.Sum256([]byte(payload + path + g.cfg.SaltKey))
	return hex.EncodeToString(sum[:]) + "###" + g.cfg.SaltIndex
}

func (g *Gateway) post(ctx context.Context, path string, payload any) (*envelope, []byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("phonepe: encode payload: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(b)
	h := http.Header{}
	h.Set(VerifyHeader, g.Checksum(encoded, path))
	raw, err := g.client.Do(ctx, http.MethodPost, path, h, map[string]string{"request": encoded})
	if err != nil {
		return nil, raw, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, raw, fmt.Errorf("phonepe: decode response: %w", err)
	}
	return &env, raw, nil
}

func (g *Gateway) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.Initiation, error) {
	payload := map[string]any{
		"merchantId":            g.cfg.MerchantID,
		"merchantTransactionId": req.MerchantTransactionID,
		"merchantUserId":        req.UserID,
		"amount":                models.ToMinorUnits(req.Amount),
		"redirectUrl":           req.RedirectURL,
		"redirectMode":          "REDIRECT",
		"callbackUrl":           req.CallbackURL,
		"paymentInstrument":     map[string]string{"type": "PAY_PAGE"},
	}
	if req.Phone != "" {
		payload["mobileNumber"] = req.Phone
	}
	env, raw, err := g.post(ctx, payPath, payload)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("phonepe: initiate rejected: %s %s", env.Code, env.Message)
	}
	var d txnData
	_ = json.Unmarshal(env.Data, &d)
	return &gateway.Initiation{
		Result: gateway.Result{
			Success: true,
			Code:    env.Code,
			State:   models.TxnPending,
			Amount:  req.Amount,
			Raw:     raw,
		},
		RedirectURL: d.InstrumentResponse.RedirectInfo.URL,
	}, nil
}

// VerifyProof has no client signature to check on PhonePe; the redirect
// only names the transaction, so the outcome always comes from a status
// call.
func (g *Gateway) VerifyProof(ctx context.Context, proof gateway.Proof) (*gateway.Result, error) {
	if proof.MerchantTransactionID == "" {
		return nil, gateway.ErrInvalidSignature
	}
	return g.CheckStatus(ctx, gateway.StatusQuery{MerchantTransactionID: proof.MerchantTransactionID})
}

func (g *Gateway) CheckStatus(ctx context.Context, q gateway.StatusQuery) (*gateway.Result, error) {
	if q.MerchantTransactionID == "" {
		return nil, errors.New("phonepe: status query needs a merchant transaction id")
	}
	path := "/pg/v1/status/" + url.PathEscape(g.cfg.MerchantID) + "/" + url.PathEscape(q.MerchantTransactionID)
	h := http.Header{}
	h.Set(VerifyHeader, g.Checksum("", path))
	h.Set(MerchantHeader, g.cfg.MerchantID)

	raw, err := g.client.Do(ctx, http.MethodGet, path, h, nil)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("phonepe: decode status: %w", err)
	}
	return result(&env, raw), nil
}

func result(env *envelope, raw json.RawMessage) *gateway.Result {
	var d txnData
	_ = json.Unmarshal(env.Data, &d)
	state := MapState(env.Code, d.State)
	return &gateway.Result{
		Success:          env.Success && state != models.TxnFailed,
		Code:             env.Code,
		State:            state,
		GatewayPaymentID: d.TransactionID,
		Amount:           models.FromMinorUnits(d.Amount),
		Raw:              raw,
	}
}

func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	payload := map[string]any{
		"merchantId":            g.cfg.MerchantID,
		"originalTransactionId": req.MerchantTransactionID,
		"merchantTransactionId": req.RefundTransactionID,
		"amount":                models.ToMinorUnits(req.Amount),
	}
	env, raw, err := g.post(ctx, refundPath, payload)
	if err != nil {
		return nil, err
	}
	return result(env, raw), nil
}

// ParseWebhook verifies a server-to-server callback. The body is
// {"response": "<base64>"} and X-VERIFY is sha256(response + salt).
func (g *Gateway) ParseWebhook(header http.Header, body []byte) (*gateway.WebhookEvent, error) {
	var cb struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &cb); err != nil || cb.Response == "" {
		return nil, gateway.ErrInvalidSignature
	}
	want := g.Checksum(cb.Response, "")
	got := header.Get(VerifyHeader)
	if g.cfg.SaltKey == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return nil, gateway.ErrInvalidSignature
	}

	decoded, err := base64.StdEncoding.DecodeString(cb.Response)
	if err != nil {
		return nil, fmt.Errorf("phonepe: decode callback: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(decoded, &env); err != nil {
		return nil, fmt.Errorf("phonepe: decode callback: %w", err)
	}
	var d txnData
	_ = json.Unmarshal(env.Data, &d)

	res := result(&env, decoded)
	ev := &gateway.WebhookEvent{
		// PhonePe sends no delivery id; a redelivery repeats txn and code.
		ID:                    d.MerchantTransactionID + ":" + env.Code,
		RawType:               env.Code,
		MerchantTransactionID: d.MerchantTransactionID,
		Result:                *res,
	}
	switch res.State {
	case models.TxnCompleted:
		ev.Type = gateway.EventPaymentCaptured
	case models.TxnFailed:
		ev.Type = gateway.EventPaymentFailed
	default:
		ev.Type = gateway.EventType(env.Code)
	}
	return ev, nil
}

// MapState maps a PhonePe response code, or the data.state field when the
// code is not decisive, to the internal enum.
func MapState(code, state string) models.TransactionStatus {
	switch code {
	case "PAYMENT_SUCCESS":
		return models.TxnCompleted
	case "PAYMENT_ERROR", "PAYMENT_DECLINED", "TIMED_OUT", "AUTHORIZATION_FAILED":
		return models.TxnFailed
	}
	switch state {
	case "COMPLETED":
		return models.TxnCompleted
	case "FAILED":
		return models.TxnFailed
	}
	return models.TxnPending
}
