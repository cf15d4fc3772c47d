package cart

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/apperr"
	"storefront/auth"
	"storefront/coupon"
	"storefront/memstore"
	"storefront/models"
)

var buyer = auth.Identity{UserID: "u1", Roles: []string{"user"}}

func newService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.PutProduct(models.Product{ID: "p1", Name: "Tee", CategoryIDs: []string{"apparel"}, Active: true})
	store.PutProduct(models.Product{ID: "p2", Name: "Retired", Active: false})
	store.PutVariation(models.Variation{ID: "v1", ProductID: "p1", Size: "M", Quantity: 5, Price: 500, SalePrice: 400})
	store.PutVariation(models.Variation{ID: "v2", ProductID: "p2", Quantity: 5, Price: 100})
	store.PutCoupon(models.Coupon{
		Code: "APPAREL20", DiscountType: models.DiscountPercentage, DiscountValue: 20,
		StartDate: time.Now().Add(-time.Hour), ExpiryDate: time.Now().Add(time.Hour),
		Scope: models.ScopeCategories, ApplicableCategories: []string{"apparel"}, IsActive: true,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, store, coupon.NewEvaluator(store, nil), logger), store
}

func TestAddCapturesEffectivePriceAndMerges(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	c, err := svc.Add(ctx, buyer, AddItemInput{VariationID: "v1", Quantity: 2})
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 400.0, c.Items[0].Price)
	assert.Equal(t, 800.0, c.Total)

	c, err = svc.Add(ctx, buyer, AddItemInput{VariationID: "v1", Quantity: 1})
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 3, c.Items[0].Quantity)
	assert.Equal(t, 1200.0, c.Total)
}

func TestAddRejects(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, buyer, AddItemInput{VariationID: "v1", Quantity: 6})
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))

	_, err = svc.Add(ctx, buyer, AddItemInput{VariationID: "v2", Quantity: 1})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = svc.Add(ctx, buyer, AddItemInput{VariationID: "nope", Quantity: 1})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = svc.Add(ctx, buyer, AddItemInput{VariationID: "v1", Quantity: 0})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Add(ctx, buyer, AddItemInput{ProductID: "p2", VariationID: "v1", Quantity: 1})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestUpdateAndRemove(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Add(ctx, buyer, AddItemInput{VariationID: "v1", Quantity: 1})
	require.NoError(t, err)

	c, err := svc.UpdateQuantity(ctx, buyer, "v1", 4)
	require.NoError(t, err)
	assert.Equal(t, 1600.0, c.Total)

	_, err = svc.UpdateQuantity(ctx, buyer, "v1", 0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.UpdateQuantity(ctx, buyer, "v1", 9)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))

	c, err = svc.Remove(ctx, buyer, "v1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, 0.0, c.Total)

	_, err = svc.Remove(ctx, buyer, "v1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGetWithoutCart(t *testing.T) {
	svc, _ := newService(t)
	c, err := svc.Get(context.Background(), auth.Identity{UserID: "new"})
	require.NoError(t, err)
	assert.NotNil(t, c.Items)
	assert.True(t, c.IsEmpty())
}

func TestValidateCouponUsesServerTotal(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.ValidateCoupon(ctx, buyer, "APPAREL20")
	assert.Equal(t, apperr.KindEmptyCart, apperr.KindOf(err))

	_, err = svc.Add(ctx, buyer, AddItemInput{VariationID: "v1", Quantity: 2})
	require.NoError(t, err)
	res, err := svc.ValidateCoupon(ctx, buyer, "apparel20")
	require.NoError(t, err)
	assert.Equal(t, 800.0, res.CartTotal)
	assert.Equal(t, 160.0, res.DiscountAmount)
}

func serve(h httprouter.Handle, method, path, body string, id auth.Identity, ps httprouter.Params) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if id.Authenticated() {
		req = req.WithContext(auth.WithIdentity(req.Context(), id))
	}
	rec := httptest.NewRecorder()
	h(rec, req, ps)
	return rec
}

func TestHandlers(t *testing.T) {
	svc, _ := newService(t)
	h := NewHandlers(svc)

	rec := serve(h.AddToCart, http.MethodPost, "/api/cart", `{"variationId":"v1","quantity":2}`, auth.Identity{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h.AddToCart, http.MethodPost, "/api/cart", `{"variationId":"v1","quantity":2}`, buyer, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)

	rec = serve(h.AddToCart, http.MethodPost, "/api/cart", `{bad`, buyer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"VALIDATION_ERROR"`)

	ps := httprouter.Params{{Key: "variationId", Value: "v1"}}
	rec = serve(h.UpdateCartItem, http.MethodPut, "/api/cart/items/v1", `{"quantity":3}`, buyer, ps)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1200`)

	rec = serve(h.ValidateCoupon, http.MethodPost, "/api/coupons/validate", `{"code":"EXPIRED"}`, buyer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"COUPON_NOT_FOUND"`)

	rec = serve(h.GetCart, http.MethodGet, "/api/cart", "", buyer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h.RemoveCartItem, http.MethodDelete, "/api/cart/items/v1", "", buyer, ps)
	assert.Equal(t, http.StatusOK, rec.Code)
}
