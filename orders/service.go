package orders

import (
	"context"
	"errors"
	"log/slog"

	"storefront/apperr"
	"storefront/auth"
	"storefront/coupon"
	"storefront/inventory"
	"storefront/models"
)

// transitions lists, for each status an admin may set, the statuses it may
// be set from. refunded is reached only through payments.
var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderConfirmed:       {models.OrderProcessing},
	models.OrderShipped:         {models.OrderConfirmed, models.OrderProcessing},
	models.OrderDelivered:       {models.OrderShipped},
	models.OrderReturnRequested: {models.OrderDelivered},
	models.OrderReturned:        {models.OrderReturnRequested},
	models.OrderCancelled:       {models.OrderPending, models.OrderProcessing, models.OrderConfirmed},
}

// Charges lists the gateway charges recorded for an order.
type Charges interface {
	ListCharges(ctx context.Context, orderID string) ([]models.Payment, error)
}

// Service answers order queries and applies fulfillment transitions.
type Service struct {
	store   Store
	charges Charges
	ledger  *inventory.Ledger
	coupons *coupon.Evaluator
	logger  *slog.Logger
}

func NewService(store Store, charges Charges, ledger *inventory.Ledger, coupons *coupon.Evaluator, logger *slog.Logger) *Service {
	return &Service{store: store, charges: charges, ledger: ledger, coupons: coupons, logger: logger}
}

// Get returns an order visible to the caller: its owner or an admin.
func (s *Service) Get(ctx context.Context, id auth.Identity, orderID string) (*models.Order, error) {
	if !id.Authenticated() {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != id.UserID && !id.IsAdmin() {
		return nil, apperr.New(apperr.KindForbidden, "order belongs to another user")
	}
	return o, nil
}

// List returns the caller's orders, newest first.
func (s *Service) List(ctx context.Context, id auth.Identity) ([]models.Order, error) {
	if !id.Authenticated() {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	list, err := s.store.ListOrdersByUser(ctx, id.UserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "list orders")
	}
	return list, nil
}

// UpdateStatus moves an order along the fulfillment path. The write is
// conditional on the current status, so two admins racing cannot both win.
func (s *Service) UpdateStatus(ctx context.Context, id auth.Identity, orderID string, to models.OrderStatus) (*models.Order, error) {
	if !id.IsAdmin() {
		return nil, apperr.New(apperr.KindForbidden, "admin role required")
	}
	from, ok := transitions[to]
	if !ok {
		return nil, apperr.Newf(apperr.KindValidation, "status %q cannot be set directly", to)
	}
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if to == models.OrderCancelled {
		if err := s.checkNoPendingCharge(ctx, orderID); err != nil {
			return nil, err
		}
	}

	applied, err := s.store.UpdateOrderStatus(ctx, orderID, models.StatusChange{
		FromStatus: from,
		Status:     to,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "update order status")
	}
	if !applied {
		current, err := s.load(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return nil, apperr.Newf(apperr.KindInvalidState, "cannot move order from %s to %s", current.Status, to).
			WithDetail("status", current.Status)
	}

	if to == models.OrderCancelled {
		s.ledger.Release(ctx, releaseLines(o.Items))
		if o.CouponCode != "" {
			if err := s.coupons.Release(ctx, o.CouponCode); err != nil {
				s.logger.ErrorContext(ctx, "coupon release failed", "order_id", orderID, "coupon", o.CouponCode, "err", err)
			}
		}
	}
	s.logger.InfoContext(ctx, "order status updated",
		"order_id", orderID, "from", o.Status, "to", to, "admin_id", id.UserID)

	return s.load(ctx, orderID)
}

// checkNoPendingCharge refuses a cancel while the customer may still be
// paying; a capture after the stock is given back would go unnoticed.
func (s *Service) checkNoPendingCharge(ctx context.Context, orderID string) error {
	charges, err := s.charges.ListCharges(ctx, orderID)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "list charges")
	}
	for _, c := range charges {
		if c.Status == models.TxnPending {
			return apperr.New(apperr.KindConflict, "order has a payment in progress").
				WithDetail("transactionId", c.MerchantTransactionID)
		}
	}
	return nil
}

func (s *Service) load(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := s.store.FindOrder(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "order not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load order")
	}
	return o, nil
}

func releaseLines(items []models.OrderItem) []inventory.Line {
	lines := make([]inventory.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, inventory.Line{
			VariationID: it.VariationID,
			ProductID:   it.ProductID,
			Label:       label(it),
			Quantity:    it.Quantity,
		})
	}
	return lines
}
