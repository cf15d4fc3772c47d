// Package cart manages the per-user shopping cart the order builder reads.
package cart

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"storefront/apperr"
	"storefront/auth"
	"storefront/coupon"
	"storefront/models"
	"storefront/utils"
)

type Store interface {
	FindCart(ctx context.Context, userID string) (*models.Cart, error)
	SaveCart(ctx context.Context, cart *models.Cart) error
	ClearCart(ctx context.Context, userID string) error
}

type Catalog interface {
	FindProduct(ctx context.Context, id string) (*models.Product, error)
	FindVariation(ctx context.Context, id string) (*models.Variation, error)
}

type AddItemInput struct {
	ProductID   string `json:"productId"`
	VariationID string `json:"variationId"`
	Quantity    int    `json:"quantity"`
}

type Service struct {
	store   Store
	catalog Catalog
	coupons *coupon.Evaluator
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(store Store, catalog Catalog, coupons *coupon.Evaluator, logger *slog.Logger) *Service {
	return &Service{store: store, catalog: catalog, coupons: coupons, logger: logger, now: time.Now}
}

// Get returns the caller's cart. A user without one gets an empty cart.
func (s *Service) Get(ctx context.Context, id auth.Identity) (*models.Cart, error) {
	c, err := s.store.FindCart(ctx, id.UserID)
	if errors.Is(err, models.ErrNotFound) {
		return &models.Cart{UserID: id.UserID, Items: []models.CartItem{}}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load cart")
	}
	if c.Items == nil {
		c.Items = []models.CartItem{}
	}
	return c, nil
}

// Add puts a variation in the cart at its current effective price, or
// raises the quantity of an existing line. The line price is not refreshed.
func (s *Service) Add(ctx context.Context, id auth.Identity, in AddItemInput) (*models.Cart, error) {
	if in.VariationID == "" || in.Quantity <= 0 {
		return nil, apperr.New(apperr.KindValidation, "variationId and a positive quantity are required")
	}
	v, err := s.variation(ctx, in.VariationID)
	if err != nil {
		return nil, err
	}
	if in.ProductID != "" && in.ProductID != v.ProductID {
		return nil, apperr.New(apperr.KindValidation, "variation does not belong to product")
	}
	p, err := s.catalog.FindProduct(ctx, v.ProductID)
	if err != nil || !p.Active {
		return nil, apperr.Newf(apperr.KindNotFound, "product %s not available", v.ProductID)
	}

	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(c.Items, func(it models.CartItem) bool { return it.VariationID == v.ID })
	want := in.Quantity
	if idx >= 0 {
		want += c.Items[idx].Quantity
	}
	if want > v.Quantity {
		return nil, apperr.Newf(apperr.KindInsufficientStock, "only %d left of %s", v.Quantity, p.Name).
			WithDetail("variationId", v.ID).
			WithDetail("available", v.Quantity)
	}

	if idx >= 0 {
		c.Items[idx].Quantity = want
	} else {
		c.Items = append(c.Items, models.CartItem{
			ProductID:   v.ProductID,
			VariationID: v.ID,
			Quantity:    in.Quantity,
			Price:       v.EffectivePrice(),
			AddedAt:     s.now(),
		})
	}
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateQuantity sets a line's quantity. Use Remove to drop a line.
func (s *Service) UpdateQuantity(ctx context.Context, id auth.Identity, variationID string, qty int) (*models.Cart, error) {
	if qty < 1 {
		return nil, apperr.New(apperr.KindValidation, "quantity must be at least 1")
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(c.Items, func(it models.CartItem) bool { return it.VariationID == variationID })
	if idx < 0 {
		return nil, apperr.New(apperr.KindNotFound, "item not in cart")
	}
	v, err := s.variation(ctx, variationID)
	if err != nil {
		return nil, err
	}
	if qty > v.Quantity {
		return nil, apperr.Newf(apperr.KindInsufficientStock, "only %d left", v.Quantity).
			WithDetail("variationId", v.ID).
			WithDetail("available", v.Quantity)
	}
	c.Items[idx].Quantity = qty
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Remove(ctx context.Context, id auth.Identity, variationID string) (*models.Cart, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := len(c.Items)
	c.Items = slices.DeleteFunc(c.Items, func(it models.CartItem) bool { return it.VariationID == variationID })
	if len(c.Items) == before {
		return nil, apperr.New(apperr.KindNotFound, "item not in cart")
	}
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Clear empties the cart after checkout.
func (s *Service) Clear(ctx context.Context, userID string) error {
	return s.store.ClearCart(ctx, userID)
}

// Snapshot describes the cart for coupon evaluation. Lines whose product is
// gone still count toward the total but add no categories.
func (s *Service) Snapshot(ctx context.Context, c *models.Cart) coupon.CartSnapshot {
	snap := coupon.CartSnapshot{Total: c.Total}
	for _, it := range c.Items {
		if !slices.Contains(snap.ProductIDs, it.ProductID) {
			snap.ProductIDs = append(snap.ProductIDs, it.ProductID)
		}
		p, err := s.catalog.FindProduct(ctx, it.ProductID)
		if err != nil {
			continue
		}
		for _, cat := range p.CategoryIDs {
			if !slices.Contains(snap.CategoryIDs, cat) {
				snap.CategoryIDs = append(snap.CategoryIDs, cat)
			}
		}
	}
	return snap
}

// ValidateCoupon previews code against the caller's cart without redeeming
// it.
func (s *Service) ValidateCoupon(ctx context.Context, id auth.Identity, code string) (*coupon.Result, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		return nil, apperr.New(apperr.KindEmptyCart, "cart is empty")
	}
	c.Recalculate()
	return s.coupons.Evaluate(ctx, code, s.Snapshot(ctx, c))
}

func (s *Service) variation(ctx context.Context, id string) (*models.Variation, error) {
	v, err := s.catalog.FindVariation(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "variation %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "load variation")
	}
	return v, nil
}

func (s *Service) save(ctx context.Context, c *models.Cart) error {
	if c.ID == "" {
		c.ID = utils.GetUUID()
	}
	c.Recalculate()
	c.UpdatedAt = s.now()
	if err := s.store.SaveCart(ctx, c); err != nil {
		s.logger.ErrorContext(ctx, "save cart failed", "user_id", c.UserID, "err", err)
		return apperr.Wrap(apperr.KindPersistence, err, "save cart")
	}
	return nil
}
