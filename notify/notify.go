// Package notify sends order confirmation messages. Delivery is always
// best-effort and off the request path.
package notify

import (
	"context"
	"fmt"
	"strings"

	"storefront/models"
)

// OrderSummary is everything a confirmation message shows.
type OrderSummary struct {
	OrderID       string               `json:"orderId"`
	OrderNumber   string               `json:"orderNumber"`
	Email         string               `json:"email"`
	Name          string               `json:"name"`
	Items         []models.OrderItem   `json:"items"`
	Subtotal      float64              `json:"subtotal"`
	Discount      float64              `json:"discount"`
	Total         float64              `json:"total"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod"`
}

// SummaryFor builds the summary for order sent to user.
func SummaryFor(order *models.Order, user *models.User) OrderSummary {
	s := OrderSummary{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Items:         order.Items,
		Subtotal:      order.Subtotal,
		Discount:      order.Discount,
		Total:         order.Total,
		PaymentMethod: order.PaymentMethod,
	}
	if user != nil {
		s.Email = user.Email
		s.Name = user.Name
		if s.Name == "" {
			s.Name = user.Username
		}
	}
	return s
}

type Notifier interface {
	SendOrderConfirmation(ctx context.Context, s OrderSummary) error
}

// Compose renders the plain-text confirmation.
func Compose(s OrderSummary) (subject, body string) {
	subject = fmt.Sprintf("Order %s confirmed", s.OrderNumber)

	var b strings.Builder
	name := s.Name
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\nThanks for your order %s.\n\n", name, s.OrderNumber)
	for _, it := range s.Items {
		label := it.Name
		if opts := strings.TrimSpace(it.Size + " " + it.Color); opts != "" {
			label = fmt.Sprintf("%s (%s)", it.Name, opts)
		}
		fmt.Fprintf(&b, "  %d x %s  %s %.2f\n", it.Quantity, label, models.Currency, it.LineTotal())
	}
	fmt.Fprintf(&b, "\nSubtotal: %s %.2f\n", models.Currency, s.Subtotal)
	if s.Discount > 0 {
		fmt.Fprintf(&b, "Discount: -%s %.2f\n", models.Currency, s.Discount)
	}
	fmt.Fprintf(&b, "Total:    %s %.2f\n", models.Currency, s.Total)
	fmt.Fprintf(&b, "Payment:  %s\n", strings.ToUpper(string(s.PaymentMethod)))
	return subject, b.String()
}
