package models

import "time"

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type CouponScope string

const (
	ScopeAll        CouponScope = "all"
	ScopeCategories CouponScope = "categories"
	ScopeProducts   CouponScope = "products"
)

// Coupon is a discount code. UsageCount never exceeds UsageLimit when the
// limit is positive; a zero limit means unlimited.
type Coupon struct {
	ID                   string       `json:"id" bson:"_id,omitempty"`
	Code                 string       `json:"code" bson:"code"`
	DiscountType         DiscountType `json:"discountType" bson:"discountType"`
	DiscountValue        float64      `json:"discountValue" bson:"discountValue"`
	StartDate            time.Time    `json:"startDate" bson:"startDate"`
	ExpiryDate           time.Time    `json:"expiryDate" bson:"expiryDate"`
	UsageLimit           int          `json:"usageLimit" bson:"usageLimit"`
	UsageCount           int          `json:"usageCount" bson:"usageCount"`
	MinimumPurchase      float64      `json:"minimumPurchase" bson:"minimumPurchase"`
	Scope                CouponScope  `json:"applicableTo" bson:"applicableTo"`
	ApplicableCategories []string     `json:"applicableCategories,omitempty" bson:"applicableCategories,omitempty"`
	ApplicableProducts   []string     `json:"applicableProducts,omitempty" bson:"applicableProducts,omitempty"`
	IsActive             bool         `json:"isActive" bson:"isActive"`
}
