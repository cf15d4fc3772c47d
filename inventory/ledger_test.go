package inventory

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/apperr"
	"storefront/memstore"
	"storefront/models"
)

func newLedger(t *testing.T, stock map[string]int) (*Ledger, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	for id, qty := range stock {
		store.PutVariation(models.Variation{ID: id, ProductID: "p-" + id, Quantity: qty, Price: 10})
	}
	return NewLedger(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func quantity(t *testing.T, l *Ledger, id string) int {
	t.Helper()
	q, err := l.Available(context.Background(), id)
	require.NoError(t, err)
	return q
}

func TestReserveAll(t *testing.T) {
	l, _ := newLedger(t, map[string]int{"a": 5, "b": 3})
	err := l.Reserve(context.Background(), []Line{
		{VariationID: "a", Quantity: 2},
		{VariationID: "b", Quantity: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, quantity(t, l, "a"))
	assert.Equal(t, 0, quantity(t, l, "b"))
}

func TestReserveNoPartialDecrement(t *testing.T) {
	l, _ := newLedger(t, map[string]int{"a": 5, "b": 1})
	err := l.Reserve(context.Background(), []Line{
		{VariationID: "a", ProductID: "p-a", Quantity: 2},
		{VariationID: "b", ProductID: "p-b", Label: "Tee / M", Quantity: 2},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Tee / M")

	assert.Equal(t, 5, quantity(t, l, "a"))
	assert.Equal(t, 1, quantity(t, l, "b"))
}

func TestReleaseRestores(t *testing.T) {
	l, _ := newLedger(t, map[string]int{"a": 4})
	lines := []Line{{VariationID: "a", Quantity: 4}}
	require.NoError(t, l.Reserve(context.Background(), lines))
	l.Release(context.Background(), lines)
	assert.Equal(t, 4, quantity(t, l, "a"))
}

func TestAvailableUnknownVariation(t *testing.T) {
	l, _ := newLedger(t, nil)
	_, err := l.Available(context.Background(), "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestInsufficientStockDetails(t *testing.T) {
	e := InsufficientStock(Line{VariationID: "v1", ProductID: "p1", Quantity: 3}, 1)
	assert.Equal(t, 1, e.Details["available"])
	assert.Equal(t, 3, e.Details["requested"])
	assert.Contains(t, e.Message, "v1")
}
