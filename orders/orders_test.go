package orders

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/apperr"
	"storefront/auth"
	"storefront/coupon"
	"storefront/inventory"
	"storefront/memstore"
	"storefront/models"
	"storefront/notify"
)

var (
	buyer = auth.Identity{UserID: "u1", Roles: []string{"user"}}
	admin = auth.Identity{UserID: "a1", Roles: []string{"admin"}}
	fixed = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
)

type recordingNotifications struct {
	mu   sync.Mutex
	sent []notify.OrderSummary
}

func (r *recordingNotifications) OrderConfirmed(s notify.OrderSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, s)
}

type fixture struct {
	store    *memstore.Store
	builder  *Builder
	svc      *Service
	notified *recordingNotifications
	logs     *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	store.PutUser(models.User{UserID: "u1", Username: "asha", Email: "asha@example.com"})
	store.PutUser(models.User{UserID: "u2", Username: "ravi", Email: "ravi@example.com"})
	store.PutProduct(models.Product{ID: "A", Name: "Tee", CategoryIDs: []string{"apparel"}, Active: true})
	store.PutProduct(models.Product{ID: "B", Name: "Mug", CategoryIDs: []string{"kitchen"}, Active: true})
	store.PutVariation(models.Variation{ID: "A1", ProductID: "A", Size: "M", Quantity: 10, Price: 500})
	store.PutVariation(models.Variation{ID: "B1", ProductID: "B", Quantity: 1, Price: 200})

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	ledger := inventory.NewLedger(store, logger)
	coupons := coupon.NewEvaluator(store, func() time.Time { return fixed })
	notified := &recordingNotifications{}
	b := NewBuilder(Deps{
		Store:         store,
		Carts:         store,
		Catalog:       store,
		Users:         store,
		Ledger:        ledger,
		Coupons:       coupons,
		Notifications: notified,
		Logger:        logger,
		Now:           func() time.Time { return fixed },
	})
	return &fixture{
		store:    store,
		builder:  b,
		svc:      NewService(store, store, ledger, coupons, logger),
		notified: notified,
		logs:     logs,
	}
}

func (f *fixture) cart(t *testing.T, userID string, items ...models.CartItem) {
	t.Helper()
	c := &models.Cart{UserID: userID, Items: items}
	c.Recalculate()
	require.NoError(t, f.store.SaveCart(context.Background(), c))
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	v, err := f.store.FindVariation(context.Background(), id)
	require.NoError(t, err)
	return v.Quantity
}

func address() models.Address {
	return models.Address{
		FullName: "Asha Rao", Line1: "12 MG Road", City: "Bengaluru", State: "KA",
		PostalCode: "560001", Country: "IN", Phone: "9999999999",
	}
}

func codInput() CreateOrderInput {
	return CreateOrderInput{ShippingAddress: address(), PaymentMethod: models.MethodCOD}
}

func TestCreateCODOrder(t *testing.T) {
	f := newFixture(t)
	f.cart(t, "u1", models.CartItem{ProductID: "A", VariationID: "A1", Quantity: 2, Price: 500})

	res, err := f.builder.Create(context.Background(), buyer, codInput())
	require.NoError(t, err)
	assert.Equal(t, 1000.0, res.Total)
	assert.Equal(t, models.MethodCOD, res.PaymentMethod)
	assert.Equal(t, "ORD2025000001", res.OrderNumber)
	assert.Equal(t, models.PaymentPending, res.PaymentStatus)
	assert.Equal(t, models.OrderProcessing, res.Status)

	o, err := f.store.FindOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, o.Subtotal)
	assert.Equal(t, 0.0, o.Discount)
	assert.Equal(t, address(), o.BillingAddress)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Tee", o.Items[0].Name)
	assert.Equal(t, "M", o.Items[0].Size)

	assert.Equal(t, 8, f.stock(t, "A1"))

	c, err := f.store.FindCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, 0.0, c.Total)

	require.Len(t, f.notified.sent, 1)
	assert.Equal(t, "asha@example.com", f.notified.sent[0].Email)
}

func TestCreateDecrementsEveryLine(t *testing.T) {
	for n := 1; n <= 4; n++ {
		t.Run(fmt.Sprintf("%d lines", n), func(t *testing.T) {
			f := newFixture(t)
			var items []models.CartItem
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("V%d", i)
				f.store.PutVariation(models.Variation{ID: id, ProductID: "A", Quantity: 5, Price: 100})
				items = append(items, models.CartItem{ProductID: "A", VariationID: id, Quantity: i + 1, Price: 100})
			}
			f.cart(t, "u1", items...)

			res, err := f.builder.Create(context.Background(), buyer, codInput())
			require.NoError(t, err)
			o, err := f.store.FindOrder(context.Background(), res.OrderID)
			require.NoError(t, err)
			assert.Len(t, o.Items, n)
			for i := 0; i < n; i++ {
				assert.Equal(t, 5-(i+1), f.stock(t, fmt.Sprintf("V%d", i)))
			}
			assert.Equal(t, o.Subtotal-o.Discount, o.Total)
		})
	}
}

func TestCreateInsufficientStockTouchesNothing(t *testing.T) {
	f := newFixture(t)
	f.cart(t, "u1",
		models.CartItem{ProductID: "A", VariationID: "A1", Quantity: 2, Price: 500},
		models.CartItem{ProductID: "B", VariationID: "B1", Quantity: 3, Price: 200},
	)

	_, err := f.builder.Create(context.Background(), buyer, codInput())
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "B", appErr.Details["productId"])
	assert.Equal(t, 1, appErr.Details["available"])

	assert.Equal(t, 10, f.stock(t, "A1"))
	assert.Equal(t, 1, f.stock(t, "B1"))
	list, _ := f.store.ListOrdersByUser(context.Background(), "u1")
	assert.Empty(t, list)
	c, _ := f.store.FindCart(context.Background(), "u1")
	assert.Len(t, c.Items, 2)
}

func TestCreateSkipsMissingLines(t *testing.T) {
	f := newFixture(t)
	f.cart(t, "u1",
		models.CartItem{ProductID: "A", VariationID: "A1", Quantity: 1, Price: 500},
		models.CartItem{ProductID: "Z", VariationID: "gone", Quantity: 1, Price: 50},
	)
	res, err := f.builder.Create(context.Background(), buyer, codInput())
	require.NoError(t, err)
	assert.Equal(t, 500.0, res.Total)
	assert.Contains(t, f.logs.String(), "cart line skipped")
}

func TestCreateAllLinesMissing(t *testing.T) {
	f := newFixture(t)
	f.cart(t, "u1", models.CartItem{ProductID: "Z", VariationID: "gone", Quantity: 1, Price: 50})
	_, err := f.builder.Create(context.Background(), buyer, codInput())
	assert.Equal(t, apperr.KindEmptyCart, apperr.KindOf(err))
}

func TestCreatePreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.builder.Create(ctx, auth.Identity{}, codInput())
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = f.builder.Create(ctx, buyer, codInput())
	assert.Equal(t, apperr.KindEmptyCart, apperr.KindOf(err))

	in := codInput()
	in.ShippingAddress.PostalCode = ""
	in.ShippingAddress.Phone = " "
	_, err = f.builder.Create(ctx, buyer, in)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
	assert.ElementsMatch(t, []string{"postalCode", "phone"}, appErr.Details["missing"])

	in = codInput()
	in.PaymentMethod = "bitcoin"
	_, err = f.builder.Create(ctx, buyer, in)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	f.cart(t, "ghost", models.CartItem{ProductID: "A", VariationID: "A1", Quantity: 1, Price: 500})
	_, err = f.builder.Create(ctx, auth.Identity{UserID: "ghost"}, codInput())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCreateRederivesCouponDiscount(t *testing.T) {
	f := newFixture(t)
	f.store.PutCoupon(models.Coupon{
		Code: "TEN", DiscountType: models.DiscountPercentage, DiscountValue: 10,
		StartDate: fixed.Add(-time.Hour), ExpiryDate: fixed.Add(time.Hour),
		UsageLimit: 5, Scope: models.ScopeAll, IsActive: true,
	})
	f.cart(t, "u1", models.CartItem{ProductID: "A", VariationID: "A1", Quantity: 2, Price: 500})

	in := codInput()
	in.CouponCode = "ten"
	in.Discount = 999
	res, err := f.builder.Create(context.Background(), buyer, in)
	require.NoError(t, err)
	assert.Equal(t, 900.0, res.Total)
	assert.Contains(t, f.logs.String(), "client discount ignored")

	o, _ := f.store.FindOrder(context.Background(), res.OrderID)
	assert.Equal(t, 100.0, o.Discount)
	assert.Equal(t, "TEN", o.CouponCode)

	c, _ := f.store.FindCouponByCode(context.Background(), "TEN")
	assert.Equal(t, 1, c.UsageCount)
}

func TestCreateCouponExhaustedLeavesStock(t *testing.T) {
	f := newFixture(t)
	f.store.PutCoupon(models.Coupon{
		Code: "ONCE", DiscountType: models.DiscountFixed, DiscountValue: 50,
		StartDate: fixed.Add(-time.Hour), ExpiryDate: fixed.Add(time.Hour),
		UsageLimit: 1, UsageCount: 1, Scope: models.ScopeAll, IsActive: true,
	})
	f.cart(t, "u1", models.CartItem{ProductID: "A", VariationID: "A1", Quantity: 2, Price: 500})

	in := codInput()
	in.CouponCode = "ONCE"
	_, err := f.builder.Create(context.Background(), buyer, in)
	assert.Equal(t, apperr.KindCouponUsageLimit, apperr.KindOf(err))
	assert.Equal(t, 10, f.stock(t, "A1"))
}

func TestClientDiscountWithoutCouponIgnored(t *testing.T) {
	f := newFixture(t)
	f.cart(t, "u1", models.CartItem{ProductID: "A", VariationID: "A1", Quantity: 1, Price: 500})
	in := codInput()
	in.Discount = 400
	res, err := f.builder.Create(context.Background(), buyer, in)
	require.NoError(t, err)
	assert.Equal(t, 500.0, res.Total)
}

func TestOrderNumbersAreSequential(t *testing.T) {
	f := newFixture(t)
	seen := map[string]bool{}
	for i := 1; i <= 3; i++ {
		f.cart(t, "u1", models.CartItem{ProductID: "A", VariationID: "A1", Quantity: 1, Price: 500})
		res, err := f.builder.Create(context.Background(), buyer, codInput())
		require.NoError(t, err)
		assert.Equal(t, FormatOrderNumber(2025, int64(i)), res.OrderNumber)
		assert.False(t, seen[res.OrderNumber])
		seen[res.OrderNumber] = true
	}
}

func TestOnlineOrderStartsPending(t *testing.T) {
	f := newFixture(t)
	f.cart(t, "u1", models.CartItem{ProductID: "A", VariationID: "A1", Quantity: 1, Price: 500})
	in := codInput()
	in.PaymentMethod = models.MethodRazorpay
	res, err := f.builder.Create(context.Background(), buyer, in)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, res.Status)
	assert.Equal(t, models.PaymentPending, res.PaymentStatus)
}

func placeOrder(t *testing.T, f *fixture) string {
	t.Helper()
	f.cart(t, "u1", models.CartItem{ProductID: "A", VariationID: "A1", Quantity: 3, Price: 500})
	res, err := f.builder.Create(context.Background(), buyer, codInput())
	require.NoError(t, err)
	return res.OrderID
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(t)
	id := placeOrder(t, f)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, buyer, id)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, admin, id)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, auth.Identity{UserID: "u2"}, id)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = f.svc.Get(ctx, buyer, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	list, err := f.svc.List(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFulfillmentTransitions(t *testing.T) {
	f := newFixture(t)
	id := placeOrder(t, f)
	ctx := context.Background()

	_, err := f.svc.UpdateStatus(ctx, buyer, id, models.OrderShipped)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.svc.UpdateStatus(ctx, admin, id, models.OrderDelivered)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	_, err = f.svc.UpdateStatus(ctx, admin, id, models.OrderRefunded)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	for _, to := range []models.OrderStatus{models.OrderShipped, models.OrderDelivered, models.OrderReturnRequested, models.OrderReturned} {
		o, err := f.svc.UpdateStatus(ctx, admin, id, to)
		require.NoError(t, err, to)
		assert.Equal(t, to, o.Status)
	}

	_, err = f.svc.UpdateStatus(ctx, admin, id, models.OrderCancelled)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestCancelReleasesStock(t *testing.T) {
	f := newFixture(t)
	id := placeOrder(t, f)
	assert.Equal(t, 7, f.stock(t, "A1"))

	o, err := f.svc.UpdateStatus(context.Background(), admin, id, models.OrderCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, o.Status)
	assert.Equal(t, 10, f.stock(t, "A1"))

	_, err = f.svc.UpdateStatus(context.Background(), admin, id, models.OrderCancelled)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.Equal(t, 10, f.stock(t, "A1"))
}

func TestCancelRefusedWhileChargePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cart(t, "u1", models.CartItem{ProductID: "A", VariationID: "A1", Quantity: 2, Price: 500})
	in := codInput()
	in.PaymentMethod = models.MethodRazorpay
	res, err := f.builder.Create(ctx, buyer, in)
	require.NoError(t, err)
	require.NoError(t, f.store.InsertPayment(ctx, &models.Payment{
		ID: "p1", OrderID: res.OrderID, UserID: "u1", MerchantTransactionID: "TXN1",
		Kind: models.KindCharge, Gateway: models.MethodRazorpay, Amount: 1000, Status: models.TxnPending,
	}))

	_, err = f.svc.UpdateStatus(ctx, admin, res.OrderID, models.OrderCancelled)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindConflict, appErr.Kind)
	assert.Equal(t, "TXN1", appErr.Details["transactionId"])
	assert.Equal(t, 8, f.stock(t, "A1"))

	_, err = f.store.AdvancePayment(ctx, "TXN1", models.PaymentAdvance{Status: models.TxnFailed, At: fixed})
	require.NoError(t, err)
	o, err := f.svc.UpdateStatus(ctx, admin, res.OrderID, models.OrderCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, o.Status)
	assert.Equal(t, 10, f.stock(t, "A1"))
}

func TestCancelReleasesCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutCoupon(models.Coupon{
		Code: "TEN", DiscountType: models.DiscountPercentage, DiscountValue: 10,
		StartDate: fixed.Add(-time.Hour), ExpiryDate: fixed.Add(time.Hour),
		UsageLimit: 1, Scope: models.ScopeAll, IsActive: true,
	})
	f.cart(t, "u1", models.CartItem{ProductID: "A", VariationID: "A1", Quantity: 1, Price: 500})
	in := codInput()
	in.CouponCode = "TEN"
	res, err := f.builder.Create(ctx, buyer, in)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, admin, res.OrderID, models.OrderCancelled)
	require.NoError(t, err)
	c, err := f.store.FindCouponByCode(ctx, "TEN")
	require.NoError(t, err)
	assert.Equal(t, 0, c.UsageCount)
}

func TestConcurrentCheckoutSellsLastUnitOnce(t *testing.T) {
	f := newFixture(t)
	const buyers = 8
	for i := 0; i < buyers; i++ {
		uid := fmt.Sprintf("c%d", i)
		f.store.PutUser(models.User{UserID: uid, Email: uid + "@example.com"})
		f.cart(t, uid, models.CartItem{ProductID: "B", VariationID: "B1", Quantity: 1, Price: 200})
	}

	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := auth.Identity{UserID: fmt.Sprintf("c%d", i), Roles: []string{"user"}}
			_, errs[i] = f.builder.Create(context.Background(), id, codInput())
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 0, f.stock(t, "B1"))
}

func TestRenderInvoice(t *testing.T) {
	f := newFixture(t)
	id := placeOrder(t, f)
	o, err := f.store.FindOrder(context.Background(), id)
	require.NoError(t, err)

	pdf, err := RenderInvoice(o)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))
}

func TestHandlersCreateAndInvoice(t *testing.T) {
	f := newFixture(t)
	f.cart(t, "u1", models.CartItem{ProductID: "A", VariationID: "A1", Quantity: 1, Price: 500})
	h := NewHandlers(f.builder, f.svc)

	body := `{"shippingAddress":{"fullName":"Asha Rao","line1":"12 MG Road","city":"Bengaluru","state":"KA","postalCode":"560001","country":"IN","phone":"9999999999"},"paymentMethod":"cod"}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), buyer))
	rec := httptest.NewRecorder()
	h.CreateOrder(rec, req, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"orderNumber":"ORD2025000001"`)

	list, _ := f.store.ListOrdersByUser(context.Background(), "u1")
	require.Len(t, list, 1)

	req = httptest.NewRequest(http.MethodGet, "/api/orders/"+list[0].ID+"/invoice", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), buyer))
	rec = httptest.NewRecorder()
	h.GetInvoice(rec, req, httprouter.Params{{Key: "id", Value: list[0].ID}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))

	body2, _ := io.ReadAll(rec.Body)
	assert.True(t, bytes.HasPrefix(body2, []byte("%PDF")))
}
