package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/auth"
	"storefront/cart"
	"storefront/config"
	"storefront/coupon"
	"storefront/gateway"
	"storefront/inventory"
	"storefront/memstore"
	"storefront/middleware"
	"storefront/models"
	"storefront/mq"
	"storefront/notify"
	"storefront/orders"
	"storefront/payments"
	"storefront/ratelim"
)

var secret = []byte("routes-secret")

type nopNotifications struct{}

func (nopNotifications) OrderConfirmed(notify.OrderSummary) {}

func newServer(t *testing.T) (*httptest.Server, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.PutUser(models.User{UserID: "u1", Email: "u1@example.com"})
	store.PutProduct(models.Product{ID: "p1", Name: "Tee", Active: true})
	store.PutVariation(models.Variation{ID: "v1", ProductID: "p1", Quantity: 5, Price: 250})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coupons := coupon.NewEvaluator(store, time.Now)
	ledger := inventory.NewLedger(store, logger)
	builder := orders.NewBuilder(orders.Deps{
		Store: store, Carts: store, Catalog: store, Users: store,
		Ledger: ledger, Coupons: coupons, Notifications: nopNotifications{}, Logger: logger,
	})
	rec := payments.NewReconciler(payments.ReconcilerDeps{
		Manager:  payments.NewManager(store, store, mq.LogPublisher{Logger: logger}, nil, logger),
		Gateways: gateway.NewRegistry(),
		Orders:   store,
		Dedupe:   memstore.NewDeduper(),
		Locks:    memstore.NewLocker(),
		Config:   config.PaymentsConfig{},
		Logger:   logger,
	})
	router := RoutesWrapper(Handlers{
		Cart:     cart.NewHandlers(cart.NewService(store, store, coupons, logger)),
		Orders:   orders.NewHandlers(builder, orders.NewService(store, store, ledger, coupons, logger)),
		Payments: payments.NewHandlers(rec, payments.NewHub()),
	}, Guards{
		RateLimiter: ratelim.NewRateLimiter(1000, 1000),
		Auth:        middleware.Authenticate(secret),
		Idempotency: middleware.Idempotency(store, time.Hour, logger),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

func call(t *testing.T, srv *httptest.Server, method, path string, id *auth.Identity, body any, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	if id != nil {
		tok, err := auth.IssueToken(secret, *id, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestCheckoutOverHTTP(t *testing.T) {
	srv, store := newServer(t)
	user := &auth.Identity{UserID: "u1", Roles: []string{"user"}}

	resp, _ := call(t, srv, http.MethodGet, "/api/cart", nil, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodPost, "/api/cart", user,
		map[string]any{"productId": "p1", "variationId": "v1", "quantity": 2}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	order := map[string]any{
		"shippingAddress": map[string]string{
			"fullName": "Asha Rao", "line1": "1 MG Road", "city": "Pune", "state": "MH",
			"postalCode": "411001", "country": "IN", "phone": "9999999999",
		},
		"paymentMethod": "cod",
	}
	key := map[string]string{middleware.IdempotencyHeader: "checkout-1"}
	resp, first := call(t, srv, http.MethodPost, "/api/orders", user, order, key)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, replay := call(t, srv, http.MethodPost, "/api/orders", user, order, key)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, first, replay)

	v, err := store.FindVariation(t.Context(), "v1")
	require.NoError(t, err)
	assert.Equal(t, 3, v.Quantity)

	data := first["data"].(map[string]any)
	orderID := data["orderId"].(string)

	resp, _ = call(t, srv, http.MethodPut, "/api/admin/orders/"+orderID+"/status", user,
		map[string]string{"status": "shipped"}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := &auth.Identity{UserID: "a1", Roles: []string{"admin"}}
	resp, _ = call(t, srv, http.MethodPut, "/api/admin/orders/"+orderID+"/status", admin,
		map[string]string{"status": "confirmed"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodGet, "/api/orders/"+orderID, user, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhookForUnconfiguredGateway(t *testing.T) {
	srv, _ := newServer(t)
	resp, body := call(t, srv, http.MethodPost, "/api/payments/razorpay/webhook", nil, map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}
