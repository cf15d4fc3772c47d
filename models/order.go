package models

import (
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderProcessing      OrderStatus = "processing"
	OrderConfirmed       OrderStatus = "confirmed"
	OrderShipped         OrderStatus = "shipped"
	OrderDelivered       OrderStatus = "delivered"
	OrderCancelled       OrderStatus = "cancelled"
	OrderReturnRequested OrderStatus = "return_requested"
	OrderReturned        OrderStatus = "returned"
	OrderRefunded        OrderStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	MethodCOD      PaymentMethod = "cod"
	MethodRazorpay PaymentMethod = "razorpay"
	MethodPhonePe  PaymentMethod = "phonepe"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCOD, MethodRazorpay, MethodPhonePe:
		return true
	}
	return false
}

// Online reports whether the method settles through a payment gateway.
func (m PaymentMethod) Online() bool {
	return m == MethodRazorpay || m == MethodPhonePe
}

// Address is copied into the order, never referenced.
type Address struct {
	FullName   string `json:"fullName" bson:"fullName"`
	Line1      string `json:"line1" bson:"line1"`
	Line2      string `json:"line2,omitempty" bson:"line2,omitempty"`
	City       string `json:"city" bson:"city"`
	State      string `json:"state" bson:"state"`
	PostalCode string `json:"postalCode" bson:"postalCode"`
	Country    string `json:"country" bson:"country"`
	Phone      string `json:"phone" bson:"phone"`
}

// MissingFields lists the required address fields that are blank.
func (a Address) MissingFields() []string {
	var missing []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	check("fullName", a.FullName)
	check("line1", a.Line1)
	check("city", a.City)
	check("state", a.State)
	check("postalCode", a.PostalCode)
	check("country", a.Country)
	check("phone", a.Phone)
	return missing
}

// IsZero reports whether no field is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// OrderItem snapshots the product at purchase time.
type OrderItem struct {
	ProductID   string  `json:"productId" bson:"productId"`
	VariationID string  `json:"variationId" bson:"variationId"`
	Name        string  `json:"name" bson:"name"`
	Image       string  `json:"image,omitempty" bson:"image,omitempty"`
	Size        string  `json:"size,omitempty" bson:"size,omitempty"`
	Color       string  `json:"color,omitempty" bson:"color,omitempty"`
	Price       float64 `json:"price" bson:"price"`
	Quantity    int     `json:"quantity" bson:"quantity"`
}

// LineTotal is price × quantity.
func (i OrderItem) LineTotal() float64 {
	return RoundMoney(i.Price * float64(i.Quantity))
}

// Order is immutable once created except for Status and PaymentStatus.
type Order struct {
	ID              string        `json:"id" bson:"_id"`
	OrderNumber     string        `json:"orderNumber" bson:"orderNumber"`
	UserID          string        `json:"userId" bson:"userId"`
	Items           []OrderItem   `json:"items" bson:"items"`
	Subtotal        float64       `json:"subtotal" bson:"subtotal"`
	Discount        float64       `json:"discount" bson:"discount"`
	CouponCode      string        `json:"couponCode,omitempty" bson:"couponCode,omitempty"`
	Total           float64       `json:"total" bson:"total"`
	ShippingAddress Address       `json:"shippingAddress" bson:"shippingAddress"`
	BillingAddress  Address       `json:"billingAddress" bson:"billingAddress"`
	PaymentMethod   PaymentMethod `json:"paymentMethod" bson:"paymentMethod"`
	Status          OrderStatus   `json:"status" bson:"status"`
	PaymentStatus   PaymentStatus `json:"paymentStatus" bson:"paymentStatus"`
	CreatedAt       time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt" bson:"updatedAt"`
}

// StatusChange is a conditional update of an order's mutable fields. The
// change applies only when the stored values are in the From sets (an empty
// set matches anything).
type StatusChange struct {
	FromStatus        []OrderStatus
	FromPaymentStatus []PaymentStatus
	Status            OrderStatus
	PaymentStatus     PaymentStatus
}

// Matches reports whether o currently satisfies the change's preconditions.
func (c StatusChange) Matches(o *Order) bool {
	if len(c.FromStatus) > 0 && !containsStatus(c.FromStatus, o.Status) {
		return false
	}
	if len(c.FromPaymentStatus) > 0 && !containsPaymentStatus(c.FromPaymentStatus, o.PaymentStatus) {
		return false
	}
	return true
}

func containsStatus(set []OrderStatus, s OrderStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsPaymentStatus(set []PaymentStatus, s PaymentStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
