package routes

import (
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"storefront/cart"
	"storefront/globals"
	"storefront/middleware"
	"storefront/orders"
	"storefront/payments"
	"storefront/ratelim"
)

// Handlers groups the feature handlers the router exposes.
type Handlers struct {
	Cart     *cart.Handlers
	Orders   *orders.Handlers
	Payments *payments.Handlers
}

// Guards are the shared middlewares applied per route.
type Guards struct {
	RateLimiter *ratelim.RateLimiter
	Auth        middleware.Middleware
	Idempotency middleware.Middleware
}

func (g Guards) user() middleware.Middleware {
	return middleware.Chain(g.RateLimiter.Limit, g.Auth)
}

func (g Guards) admin() middleware.Middleware {
	return middleware.Chain(g.RateLimiter.Limit, g.Auth, middleware.RequireRoles(globals.RoleAdmin))
}

// Index is a simple health check handler.
func Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fmt.Fprint(w, "200")
}

func AddCartRoutes(router *httprouter.Router, h *cart.Handlers, g Guards) {
	router.POST("/api/cart", g.user()(h.AddToCart))
	router.GET("/api/cart", g.user()(h.GetCart))
	router.PUT("/api/cart/items/:variationId", g.user()(h.UpdateCartItem))
	router.DELETE("/api/cart/items/:variationId", g.user()(h.RemoveCartItem))
	router.POST("/api/coupons/validate", g.user()(h.ValidateCoupon))
}

func AddOrderRoutes(router *httprouter.Router, h *orders.Handlers, g Guards) {
	router.POST("/api/orders", middleware.Chain(g.user(), g.Idempotency)(h.CreateOrder))
	router.GET("/api/orders", g.user()(h.ListOrders))
	router.GET("/api/orders/:id", g.user()(h.GetOrder))
	router.GET("/api/orders/:id/invoice", g.user()(h.GetInvoice))
	router.PUT("/api/admin/orders/:id/status", g.admin()(h.UpdateStatus))
}

// AddPaymentRoutes registers the client payment flow, the gateway webhooks
// and admin refunds. Webhooks carry no session and are only rate limited.
func AddPaymentRoutes(router *httprouter.Router, h *payments.Handlers, g Guards) {
	router.POST("/api/payments/:gateway/initiate", middleware.Chain(g.user(), g.Idempotency)(h.Initiate))
	router.POST("/api/payments/:gateway/verify", g.user()(h.Verify))
	router.GET("/api/payments/status/:txnId", g.user()(h.Status))
	router.GET("/api/payments/status/:txnId/ws", g.user()(h.StatusStream))
	router.POST("/api/payments/:gateway/webhook", g.RateLimiter.Limit(h.Webhook))
	router.POST("/api/admin/payments/:txnId/refund", middleware.Chain(g.admin(), g.Idempotency)(h.Refund))
}

// RoutesWrapper builds the full router.
func RoutesWrapper(h Handlers, g Guards) *httprouter.Router {
	router := httprouter.New()
	router.GET("/health", Index)
	AddCartRoutes(router, h.Cart, g)
	AddOrderRoutes(router, h.Orders, g)
	AddPaymentRoutes(router, h.Payments, g)
	return router
}
