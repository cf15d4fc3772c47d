// Package coupon validates discount codes against a cart and computes the
// discount they grant.
package coupon

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront/apperr"
	"storefront/models"
)

// Store is the coupon collection. IncrementCouponUsage must be conditional on the
// usage limit so usageCount never passes it.
type Store interface {
	FindCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	IncrementCouponUsage(ctx context.Context, code string) (bool, error)
	DecrementCouponUsage(ctx context.Context, code string) error
}

// CartSnapshot is what a coupon is evaluated against.
type CartSnapshot struct {
	Total       float64
	ProductIDs  []string
	CategoryIDs []string
}

// Result of a successful evaluation.
type Result struct {
	Code           string              `json:"code"`
	DiscountType   models.DiscountType `json:"discountType"`
	DiscountAmount float64             `json:"discountAmount"`
	CartTotal      float64             `json:"cartTotal"`
	FinalTotal     float64             `json:"finalTotal"`
}

// Normalize canonicalises a user-entered code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Apply runs the checks in order and computes the discount. It is pure; the
// Evaluator wraps it with the store lookup.
func Apply(c *models.Coupon, cart CartSnapshot, now time.Time) (*Result, error) {
	if c == nil || !c.IsActive {
		return nil, apperr.New(apperr.KindCouponNotFound, "coupon not found")
	}
	if now.Before(c.StartDate) || (!c.ExpiryDate.IsZero() && now.After(c.ExpiryDate)) {
		return nil, apperr.New(apperr.KindCouponExpired, "coupon is not valid at this time").
			WithDetail("startDate", c.StartDate).
			WithDetail("expiryDate", c.ExpiryDate)
	}
	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return nil, apperr.New(apperr.KindCouponUsageLimit, "coupon usage limit reached")
	}
	if cart.Total < c.MinimumPurchase {
		return nil, apperr.Newf(apperr.KindCouponBelowMinimum,
			"minimum purchase of %.2f required", c.MinimumPurchase).
			WithDetail("minimumPurchase", c.MinimumPurchase)
	}
	if !applicable(c, cart) {
		return nil, apperr.New(apperr.KindCouponNotApplicable, "coupon does not apply to items in cart")
	}

	total := decimal.NewFromFloat(cart.Total)
	value := decimal.NewFromFloat(c.DiscountValue)

	var discount decimal.Decimal
	switch c.DiscountType {
	case models.DiscountFixed:
		discount = decimal.Min(total, value)
	case models.DiscountPercentage:
		discount = total.Mul(value).Div(decimal.NewFromInt(100))
	default:
		return nil, apperr.Newf(apperr.KindCouponNotApplicable, "unsupported discount type %q", c.DiscountType)
	}
	discount = decimal.Max(decimal.Zero, decimal.Min(total, discount)).Round(2)

	return &Result{
		Code:           c.Code,
		DiscountType:   c.DiscountType,
		DiscountAmount: discount.InexactFloat64(),
		CartTotal:      total.Round(2).InexactFloat64(),
		FinalTotal:     total.Sub(discount).Round(2).InexactFloat64(),
	}, nil
}

func applicable(c *models.Coupon, cart CartSnapshot) bool {
	switch c.Scope {
	case models.ScopeProducts:
		return intersects(c.ApplicableProducts, cart.ProductIDs)
	case models.ScopeCategories:
		return intersects(c.ApplicableCategories, cart.CategoryIDs)
	default:
		return true
	}
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}

// Evaluator looks coupons up and applies them.
type Evaluator struct {
	store Store
	now   func() time.Time
}

func NewEvaluator(store Store, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{store: store, now: now}
}

// Evaluate validates code against cart. Every rejection is an *apperr.Error
// with a coupon-specific kind.
func (e *Evaluator) Evaluate(ctx context.Context, code string, cart CartSnapshot) (*Result, error) {
	code = Normalize(code)
	if code == "" {
		return nil, apperr.New(apperr.KindCouponNotFound, "no coupon provided")
	}
	c, err := e.store.FindCouponByCode(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, apperr.New(apperr.KindCouponNotFound, "coupon not found")
		}
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load coupon")
	}
	return Apply(c, cart, e.now())
}

// Redeem counts one use. Losing the race for the last use reports
// UsageLimitReached.
func (e *Evaluator) Redeem(ctx context.Context, code string) error {
	ok, err := e.store.IncrementCouponUsage(ctx, Normalize(code))
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "redeem coupon")
	}
	if !ok {
		return apperr.New(apperr.KindCouponUsageLimit, "coupon usage limit reached")
	}
	return nil
}

// Release undoes a Redeem.
func (e *Evaluator) Release(ctx context.Context, code string) error {
	return e.store.DecrementCouponUsage(ctx, Normalize(code))
}
