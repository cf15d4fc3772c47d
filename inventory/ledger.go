// Package inventory keeps variation stock consistent during checkout.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"storefront/apperr"
	"storefront/models"
)

// Store performs the atomic stock writes. DecrementStock must only apply
// when the stored quantity is at least qty and report whether it did.
type Store interface {
	FindVariation(ctx context.Context, id string) (*models.Variation, error)
	DecrementStock(ctx context.Context, variationID string, qty int) (bool, error)
	IncrementStock(ctx context.Context, variationID string, qty int) error
}

// Line is a quantity of one variation. Label names it in error messages.
type Line struct {
	VariationID string
	ProductID   string
	Label       string
	Quantity    int
}

type Ledger struct {
	store  Store
	logger *slog.Logger
}

func NewLedger(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Available reports the current on-hand quantity of a variation.
func (l *Ledger) Available(ctx context.Context, variationID string) (int, error) {
	v, err := l.store.FindVariation(ctx, variationID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, apperr.Newf(apperr.KindNotFound, "variation %s not found", variationID)
		}
		return 0, apperr.Wrap(apperr.KindPersistence, err, "load variation")
	}
	return v.Quantity, nil
}

// Reserve decrements every line or none of them. A line whose conditional
// decrement fails releases the lines already taken and returns
// InsufficientStock naming that line.
func (l *Ledger) Reserve(ctx context.Context, lines []Line) error {
	taken := make([]Line, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		ok, err := l.store.DecrementStock(ctx, line.VariationID, line.Quantity)
		if err != nil {
			l.Release(ctx, taken)
			return apperr.Wrap(apperr.KindPersistence, err, "decrement stock")
		}
		if !ok {
			l.Release(ctx, taken)
			return InsufficientStock(line, -1)
		}
		taken = append(taken, line)
	}
	return nil
}

// Release gives stock back. Failures are logged, not returned: callers run
// this on an already failing path.
func (l *Ledger) Release(ctx context.Context, lines []Line) {
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		if err := l.store.IncrementStock(ctx, line.VariationID, line.Quantity); err != nil {
			l.logger.ErrorContext(ctx, "release stock failed",
				"variation_id", line.VariationID, "quantity", line.Quantity, "err", err)
		}
	}
}

// InsufficientStock builds the checkout error for line. available < 0 means
// the current quantity is unknown.
func InsufficientStock(line Line, available int) *apperr.Error {
	label := line.Label
	if label == "" {
		label = line.VariationID
	}
	e := apperr.New(apperr.KindInsufficientStock, fmt.Sprintf("insufficient stock for %s", label)).
		WithDetail("productId", line.ProductID).
		WithDetail("variationId", line.VariationID).
		WithDetail("requested", line.Quantity)
	if available >= 0 {
		e.WithDetail("available", available)
	}
	return e
}
