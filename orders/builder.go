// Package orders turns carts into orders and serves order queries and
// fulfillment transitions.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"storefront/apperr"
	"storefront/auth"
	"storefront/coupon"
	"storefront/inventory"
	"storefront/models"
	"storefront/notify"
	"storefront/telemetry"
	"storefront/utils"
)

// Store is the order collection plus the atomic sequence used for order
// numbers.
type Store interface {
	NextOrderSequence(ctx context.Context, key string) (int64, error)
	InsertOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, change models.StatusChange) (bool, error)
}

type Carts interface {
	FindCart(ctx context.Context, userID string) (*models.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

type Catalog interface {
	FindProduct(ctx context.Context, id string) (*models.Product, error)
	FindVariation(ctx context.Context, id string) (*models.Variation, error)
}

type Users interface {
	FindUser(ctx context.Context, id string) (*models.User, error)
}

// Notifications receives confirmed orders. It must not block.
type Notifications interface {
	OrderConfirmed(s notify.OrderSummary)
}

type CreateOrderInput struct {
	ShippingAddress models.Address       `json:"shippingAddress"`
	BillingAddress  models.Address       `json:"billingAddress"`
	PaymentMethod   models.PaymentMethod `json:"paymentMethod"`
	CouponCode      string               `json:"couponCode,omitempty"`
	// Discount is the amount the client displayed. It is never trusted; the
	// coupon is re-evaluated and a mismatch is only logged.
	Discount float64 `json:"discount,omitempty"`
}

type CreateOrderResult struct {
	OrderID       string               `json:"orderId"`
	OrderNumber   string               `json:"orderNumber"`
	Total         float64              `json:"total"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod"`
	Status        models.OrderStatus   `json:"status"`
	PaymentStatus models.PaymentStatus `json:"paymentStatus"`
}

type Deps struct {
	Store         Store
	Carts         Carts
	Catalog       Catalog
	Users         Users
	Ledger        *inventory.Ledger
	Coupons       *coupon.Evaluator
	Notifications Notifications
	Metrics       *telemetry.Metrics
	Tracer        trace.Tracer
	Logger        *slog.Logger
	Now           func() time.Time
}

// Builder creates orders from carts.
type Builder struct {
	Deps
}

func NewBuilder(d Deps) *Builder {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Metrics == nil {
		d.Metrics = telemetry.NopMetrics()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("storefront/orders")
	}
	return &Builder{Deps: d}
}

// resolved is a cart line whose product and variation both still exist.
type resolved struct {
	item      models.OrderItem
	variation *models.Variation
	product   *models.Product
}

// Create converts the caller's cart into an order. Either the order is
// persisted with stock reserved and the coupon redeemed, or nothing changes.
func (b *Builder) Create(ctx context.Context, id auth.Identity, in CreateOrderInput) (res *CreateOrderResult, err error) {
	start := b.Now()
	ctx, span := b.Tracer.Start(ctx, "orders.Create",
		trace.WithAttributes(attribute.String("payment.method", string(in.PaymentMethod))))
	defer func() {
		outcome := "created"
		if err != nil {
			outcome = strings.ToLower(string(apperr.KindOf(err)))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		b.Metrics.RecordOrderCreated(ctx, outcome, time.Since(start).Seconds())
		span.End()
	}()

	if !id.Authenticated() {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	if err := validate(&in); err != nil {
		return nil, err
	}

	user, err := b.Users.FindUser(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "user not found")
		}
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load user")
	}

	cart, err := b.Carts.FindCart(ctx, id.UserID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load cart")
	}
	if cart.IsEmpty() {
		return nil, apperr.New(apperr.KindEmptyCart, "cart is empty")
	}

	lines, err := b.resolve(ctx, cart)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, apperr.New(apperr.KindEmptyCart, "no purchasable items in cart")
	}

	// Check every line against current stock before touching any of it.
	ledgerLines := make([]inventory.Line, 0, len(lines))
	for _, l := range lines {
		line := inventory.Line{
			VariationID: l.variation.ID,
			ProductID:   l.product.ID,
			Label:       label(l.item),
			Quantity:    l.item.Quantity,
		}
		if l.variation.Quantity < l.item.Quantity {
			return nil, inventory.InsufficientStock(line, l.variation.Quantity)
		}
		ledgerLines = append(ledgerLines, line)
	}

	items := make([]models.OrderItem, 0, len(lines))
	subtotal := decimal.Zero
	for _, l := range lines {
		items = append(items, l.item)
		subtotal = subtotal.Add(decimal.NewFromFloat(l.item.Price).Mul(decimal.NewFromInt(int64(l.item.Quantity))))
	}
	subtotal = subtotal.Round(2)

	discount := decimal.Zero
	code := coupon.Normalize(in.CouponCode)
	if code != "" {
		result, err := b.Coupons.Evaluate(ctx, code, snapshot(subtotal, lines))
		if err != nil {
			return nil, err
		}
		discount = decimal.NewFromFloat(result.DiscountAmount)
	}
	if client := decimal.NewFromFloat(in.Discount); !client.Equal(discount) && in.Discount != 0 {
		b.Logger.WarnContext(ctx, "client discount ignored",
			"user_id", id.UserID, "coupon", code,
			"client_discount", in.Discount, "discount", discount.InexactFloat64())
	}
	discount = decimal.Min(discount, subtotal)
	total := subtotal.Sub(discount)

	if err := b.Ledger.Reserve(ctx, ledgerLines); err != nil {
		return nil, err
	}
	if code != "" {
		if err := b.Coupons.Redeem(ctx, code); err != nil {
			b.Ledger.Release(ctx, ledgerLines)
			return nil, err
		}
	}
	rollback := func() {
		b.Ledger.Release(ctx, ledgerLines)
		if code != "" {
			if err := b.Coupons.Release(ctx, code); err != nil {
				b.Logger.ErrorContext(ctx, "release coupon failed", "coupon", code, "err", err)
			}
		}
	}

	now := b.Now()
	number, err := b.nextOrderNumber(ctx, now)
	if err != nil {
		rollback()
		return nil, err
	}

	order := &models.Order{
		ID:              utils.GetUUID(),
		OrderNumber:     number,
		UserID:          id.UserID,
		Items:           items,
		Subtotal:        subtotal.InexactFloat64(),
		Discount:        discount.InexactFloat64(),
		CouponCode:      code,
		Total:           total.InexactFloat64(),
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		PaymentMethod:   in.PaymentMethod,
		Status:          initialStatus(in.PaymentMethod),
		PaymentStatus:   models.PaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := b.Store.InsertOrder(ctx, order); err != nil {
		rollback()
		return nil, apperr.Wrap(apperr.KindPersistence, err, "save order")
	}

	if err := b.Carts.ClearCart(ctx, id.UserID); err != nil {
		b.Logger.ErrorContext(ctx, "clear cart failed", "user_id", id.UserID, "order_id", order.ID, "err", err)
	}

	if b.Notifications != nil {
		b.Notifications.OrderConfirmed(notify.SummaryFor(order, user))
	}

	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.number", order.OrderNumber))
	b.Logger.InfoContext(ctx, "order created",
		"order_id", order.ID, "order_number", order.OrderNumber, "user_id", id.UserID,
		"items", len(items), "total", order.Total, "payment_method", order.PaymentMethod)

	return &CreateOrderResult{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Total:         order.Total,
		PaymentMethod: order.PaymentMethod,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
	}, nil
}

func validate(in *CreateOrderInput) error {
	if !in.PaymentMethod.Valid() {
		return apperr.Newf(apperr.KindValidation, "unsupported payment method %q", in.PaymentMethod)
	}
	if missing := in.ShippingAddress.MissingFields(); len(missing) > 0 {
		return apperr.New(apperr.KindValidation, "shipping address is incomplete").
			WithDetail("missing", missing)
	}
	if in.BillingAddress.IsZero() {
		in.BillingAddress = in.ShippingAddress
	}
	if in.Discount < 0 {
		return apperr.New(apperr.KindValidation, "discount cannot be negative")
	}
	return nil
}

// resolve re-reads every cart line from the catalog. Lines whose product or
// variation has gone are skipped.
func (b *Builder) resolve(ctx context.Context, cart *models.Cart) ([]resolved, error) {
	out := make([]resolved, 0, len(cart.Items))
	for _, it := range cart.Items {
		if it.Quantity < 1 {
			continue
		}
		v, err := b.Catalog.FindVariation(ctx, it.VariationID)
		if errors.Is(err, models.ErrNotFound) {
			b.Logger.WarnContext(ctx, "cart line skipped: variation missing",
				"user_id", cart.UserID, "variation_id", it.VariationID)
			continue
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, err, "load variation")
		}
		p, err := b.Catalog.FindProduct(ctx, v.ProductID)
		if errors.Is(err, models.ErrNotFound) {
			b.Logger.WarnContext(ctx, "cart line skipped: product missing",
				"user_id", cart.UserID, "product_id", v.ProductID)
			continue
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, err, "load product")
		}
		image := v.Image
		if image == "" {
			image = p.Image
		}
		out = append(out, resolved{
			item: models.OrderItem{
				ProductID:   p.ID,
				VariationID: v.ID,
				Name:        p.Name,
				Image:       image,
				Size:        v.Size,
				Color:       v.Color,
				Price:       it.Price,
				Quantity:    it.Quantity,
			},
			variation: v,
			product:   p,
		})
	}
	return out, nil
}

func snapshot(subtotal decimal.Decimal, lines []resolved) coupon.CartSnapshot {
	snap := coupon.CartSnapshot{Total: subtotal.InexactFloat64()}
	for _, l := range lines {
		snap.ProductIDs = append(snap.ProductIDs, l.product.ID)
		snap.CategoryIDs = append(snap.CategoryIDs, l.product.CategoryIDs...)
	}
	return snap
}

func (b *Builder) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	year := now.Year()
	seq, err := b.Store.NextOrderSequence(ctx, fmt.Sprintf("orders-%d", year))
	if err != nil {
		return "", apperr.Wrap(apperr.KindPersistence, err, "allocate order number")
	}
	return FormatOrderNumber(year, seq), nil
}

// FormatOrderNumber renders ORD<year><six-digit sequence>.
func FormatOrderNumber(year int, seq int64) string {
	return fmt.Sprintf("ORD%d%06d", year, seq)
}

// initialStatus: cash on delivery goes straight to fulfillment, online
// methods wait for the gateway.
func initialStatus(m models.PaymentMethod) models.OrderStatus {
	if m.Online() {
		return models.OrderPending
	}
	return models.OrderProcessing
}

func label(it models.OrderItem) string {
	opts := strings.TrimSpace(it.Size + " " + it.Color)
	if opts == "" {
		return it.Name
	}
	return it.Name + " (" + opts + ")"
}
