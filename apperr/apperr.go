// Package apperr defines the error kinds surfaced by the storefront core and
// their HTTP mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, client-visible error code.
type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindForbidden           Kind = "FORBIDDEN"
	KindNotFound            Kind = "NOT_FOUND"
	KindEmptyCart           Kind = "EMPTY_CART"
	KindInsufficientStock   Kind = "INSUFFICIENT_STOCK"
	KindCouponNotFound      Kind = "COUPON_NOT_FOUND"
	KindCouponExpired       Kind = "COUPON_EXPIRED"
	KindCouponUsageLimit    Kind = "COUPON_USAGE_LIMIT_REACHED"
	KindCouponBelowMinimum  Kind = "COUPON_BELOW_MINIMUM"
	KindCouponNotApplicable Kind = "COUPON_NOT_APPLICABLE"
	KindInvalidSignature    Kind = "INVALID_SIGNATURE"
	KindRefundExceeds       Kind = "REFUND_EXCEEDS_PAYMENT"
	KindInvalidState        Kind = "INVALID_STATE"
	KindConflict            Kind = "CONFLICT"
	KindRateLimited         Kind = "RATE_LIMITED"
	KindGateway             Kind = "GATEWAY_ERROR"
	KindPersistence         Kind = "PERSISTENCE_ERROR"
	KindInternal            Kind = "INTERNAL_ERROR"
)

// Error carries a Kind plus a message safe to show to the caller.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.EmptyCart)
// works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// WithDetail returns e with key set in Details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and msg to an underlying error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	Validation        = New(KindValidation, "")
	Unauthorized      = New(KindUnauthorized, "")
	Forbidden         = New(KindForbidden, "")
	NotFound          = New(KindNotFound, "")
	EmptyCart         = New(KindEmptyCart, "")
	InsufficientStock = New(KindInsufficientStock, "")
	InvalidSignature  = New(KindInvalidSignature, "")
	RefundExceeds     = New(KindRefundExceeds, "")
	InvalidState      = New(KindInvalidState, "")
	Conflict          = New(KindConflict, "")
	Gateway           = New(KindGateway, "")
	Persistence       = New(KindPersistence, "")
)

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindEmptyCart, KindInsufficientStock,
		KindCouponNotFound, KindCouponExpired, KindCouponUsageLimit,
		KindCouponBelowMinimum, KindCouponNotApplicable,
		KindInvalidSignature, KindRefundExceeds, KindInvalidState:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
