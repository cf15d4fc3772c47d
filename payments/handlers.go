package payments

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"storefront/apperr"
	"storefront/gateway"
	"storefront/models"
	"storefront/utils"
)

const (
	gatewayTimeout  = 30 * time.Second
	maxWebhookBytes = 1 << 20
)

type Handlers struct {
	rec *Reconciler
	hub *Hub
}

func NewHandlers(rec *Reconciler, hub *Hub) *Handlers {
	return &Handlers{rec: rec, hub: hub}
}

func methodParam(ps httprouter.Params) models.PaymentMethod {
	return models.PaymentMethod(ps.ByName("gateway"))
}

type initiateRequest struct {
	OrderID string `json:"orderId"`
}

// Initiate handles POST /api/payments/:gateway/initiate.
func (h *Handlers) Initiate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), gatewayTimeout)
	defer cancel()

	id, err := utils.RequireIdentity(r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	var req initiateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	if req.OrderID == "" {
		utils.RespondWithError(w, apperr.New(apperr.KindValidation, "orderId is required"))
		return
	}
	res, err := h.rec.Initiate(ctx, id, methodParam(ps), req.OrderID)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithData(w, http.StatusCreated, res)
}

// verifyRequest accepts both our field names and the ones Razorpay's
// checkout handler returns.
type verifyRequest struct {
	MerchantTransactionID string `json:"merchantTransactionId"`
	GatewayOrderID        string `json:"gatewayOrderId"`
	GatewayPaymentID      string `json:"gatewayPaymentId"`
	Signature             string `json:"signature"`

	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

func (v verifyRequest) proof() gateway.Proof {
	p := gateway.Proof{
		MerchantTransactionID: v.MerchantTransactionID,
		GatewayOrderID:        v.GatewayOrderID,
		GatewayPaymentID:      v.GatewayPaymentID,
		Signature:             v.Signature,
	}
	if p.GatewayOrderID == "" {
		p.GatewayOrderID = v.RazorpayOrderID
	}
	if p.GatewayPaymentID == "" {
		p.GatewayPaymentID = v.RazorpayPaymentID
	}
	if p.Signature == "" {
		p.Signature = v.RazorpaySignature
	}
	return p
}

// Verify handles POST /api/payments/:gateway/verify.
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), gatewayTimeout)
	defer cancel()

	id, err := utils.RequireIdentity(r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	var req verifyRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	p, err := h.rec.Verify(ctx, id, methodParam(ps), req.proof())
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, p)
}

// Webhook handles POST /api/payments/:gateway/webhook. It is
// unauthenticated; the gateway signature is the credential.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), gatewayTimeout)
	defer cancel()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		utils.RespondWithError(w, apperr.Wrap(apperr.KindValidation, err, "unreadable webhook body"))
		return
	}
	outcome, err := h.rec.HandleWebhook(ctx, methodParam(ps), r.Header, body)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, map[string]string{"status": outcome})
}

// Status handles GET /api/payments/status/:txnId.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), gatewayTimeout)
	defer cancel()

	id, err := utils.RequireIdentity(r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	p, err := h.rec.Status(ctx, id, ps.ByName("txnId"))
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, p)
}

type refundRequest struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

// Refund handles POST /api/admin/payments/:txnId/refund.
func (h *Handlers) Refund(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), gatewayTimeout)
	defer cancel()

	id, err := utils.RequireIdentity(r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	var req refundRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	refund, err := h.rec.Refund(ctx, id, ps.ByName("txnId"), req.Amount, req.Reason)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithData(w, http.StatusCreated, refund)
}
