package models

import (
	"encoding/json"
	"time"
)

// TransactionStatus is the internal lifecycle of a Payment record. It only
// moves forward: pending -> completed | failed, plus failed -> completed when
// a retry inside the same gateway order is captured.
type TransactionStatus string

const (
	TxnPending   TransactionStatus = "pending"
	TxnCompleted TransactionStatus = "completed"
	TxnFailed    TransactionStatus = "failed"
)

// Terminal reports whether s can no longer change.
func (s TransactionStatus) Terminal() bool {
	return s == TxnCompleted || s == TxnFailed
}

// ReplaceableBy reports whether a payment stored with status s may move to
// next. Completed never changes.
func (s TransactionStatus) ReplaceableBy(next TransactionStatus) bool {
	switch s {
	case TxnPending:
		return next.Terminal()
	case TxnFailed:
		return next == TxnCompleted
	}
	return false
}

// AdvanceableFrom lists the stored statuses a payment may move to s from.
func (s TransactionStatus) AdvanceableFrom() []TransactionStatus {
	switch s {
	case TxnCompleted:
		return []TransactionStatus{TxnPending, TxnFailed}
	case TxnFailed:
		return []TransactionStatus{TxnPending}
	}
	return nil
}

type TransactionKind string

const (
	KindCharge TransactionKind = "charge"
	KindRefund TransactionKind = "refund"
)

// Payment is one record per gateway transaction. Refunds are separate records
// with a negative amount and a transaction id derived from the original.
type Payment struct {
	ID                    string            `bson:"_id" json:"id"`
	OrderID               string            `bson:"order_id" json:"orderId"`
	UserID                string            `bson:"user_id" json:"userId"`
	MerchantTransactionID string            `bson:"merchant_transaction_id" json:"merchantTransactionId"`
	ParentTransactionID   string            `bson:"parent_transaction_id,omitempty" json:"parentTransactionId,omitempty"`
	Kind                  TransactionKind   `bson:"kind" json:"kind"`
	Gateway               PaymentMethod     `bson:"gateway" json:"gateway"`
	GatewayOrderID        string            `bson:"gateway_order_id,omitempty" json:"gatewayOrderId,omitempty"`
	GatewayPaymentID      string            `bson:"gateway_payment_id,omitempty" json:"gatewayPaymentId,omitempty"`
	Amount                float64           `bson:"amount" json:"amount"`
	Currency              string            `bson:"currency" json:"currency"`
	Status                TransactionStatus `bson:"status" json:"status"`
	GatewayState          string            `bson:"gateway_state,omitempty" json:"gatewayState,omitempty"`
	GatewayResponse       json.RawMessage   `bson:"gateway_response,omitempty" json:"gatewayResponse,omitempty"`
	Reason                string            `bson:"reason,omitempty" json:"reason,omitempty"`
	CheckoutURL           string            `bson:"checkout_url,omitempty" json:"-"`
	ClientKey             string            `bson:"client_key,omitempty" json:"-"`
	CreatedAt             time.Time         `bson:"created_at" json:"createdAt"`
	UpdatedAt             time.Time         `bson:"updated_at" json:"updatedAt"`
	CompletedAt           *time.Time        `bson:"completed_at,omitempty" json:"completedAt,omitempty"`
}

// PaymentAdvance is the write applied when a payment reaches a new state.
type PaymentAdvance struct {
	Status           TransactionStatus
	GatewayState     string
	GatewayPaymentID string
	GatewayResponse  json.RawMessage
	At               time.Time
}

// IdempotencyRecord stores the first response for an Idempotency-Key.
type IdempotencyRecord struct {
	Key         string          `bson:"key" json:"key"`
	Method      string          `bson:"method" json:"method"`
	Path        string          `bson:"path" json:"path"`
	UserID      string          `bson:"userid" json:"userid"`
	RequestHash string          `bson:"request_hash" json:"request_hash"`
	Response    *StoredResponse `bson:"response,omitempty" json:"response,omitempty"`
	CreatedAt   time.Time       `bson:"created_at" json:"created_at"`
	ExpiresAt   time.Time       `bson:"expires_at" json:"expires_at"`
}

// StoredResponse is the replayable part of a handler response.
type StoredResponse struct {
	Status int    `bson:"status" json:"status"`
	Body   []byte `bson:"body" json:"body"`
}
