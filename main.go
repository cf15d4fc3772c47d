package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"storefront/cart"
	"storefront/config"
	"storefront/coupon"
	"storefront/db"
	"storefront/gateway"
	"storefront/gateway/phonepe"
	"storefront/gateway/razorpay"
	"storefront/inventory"
	"storefront/memstore"
	"storefront/middleware"
	"storefront/mq"
	"storefront/notify"
	"storefront/orders"
	"storefront/payments"
	"storefront/ratelim"
	"storefront/rdx"
	"storefront/routes"
	"storefront/telemetry"
)

// backend is everything the services need from persistence. Both db.Store
// and memstore.Store satisfy it.
type backend interface {
	cart.Store
	cart.Catalog
	coupon.Store
	inventory.Store
	orders.Store
	orders.Users
	payments.Store
	middleware.IdempotencyStore
}

const idempotencyTTL = 24 * time.Hour

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (backend, func(context.Context) error, error) {
	if cfg.Backend == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		return memstore.New(), func(context.Context) error { return nil }, nil
	}
	store, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = store.Close(ctx)
		return nil, nil, err
	}
	return store, store.Close, nil
}

// coordination is the cross-instance plumbing. Without Redis it falls back
// to process-local versions, which is only correct for a single instance.
type coordination struct {
	conn    *redis.Client
	dedupe  payments.Deduper
	locks   payments.Locker
	publish mq.Publisher
}

func openCoordination(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) coordination {
	conn, err := rdx.NewClient(ctx, cfg)
	if err != nil {
		logger.Warn("redis unavailable; using process-local dedupe and locks", "addr", cfg.Addr, "err", err)
		return coordination{
			dedupe:  memstore.NewDeduper(),
			locks:   memstore.NewLocker(),
			publish: mq.LogPublisher{Logger: logger},
		}
	}
	return coordination{
		conn:    conn,
		dedupe:  rdx.NewDeduper(conn, "webhook:"),
		locks:   rdx.NewLocker(conn, "lock:", logger),
		publish: mq.NewRedisPublisher(conn),
	}
}

func buildGateways(cfg *config.Config, logger *slog.Logger) *gateway.Registry {
	reg := gateway.NewRegistry()
	if cfg.RazorpayEnabled() {
		reg.Register(razorpay.New(cfg.Razorpay, cfg.Payments.GatewayTimeout))
	}
	if cfg.PhonePeEnabled() {
		reg.Register(phonepe.New(cfg.PhonePe, cfg.Payments.GatewayTimeout))
	}
	logger.Info("payment gateways configured", "methods", reg.Methods())
	return reg
}

// buildNotifier picks how confirmations leave the process. In queue mode the
// returned worker delivers them and must be run.
func buildNotifier(cfg config.MailConfig, coord coordination, logger *slog.Logger) (notify.Notifier, mq.Handler) {
	var direct notify.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.Host != "" {
		direct = notify.NewSMTPMailer(cfg)
	}
	switch cfg.Mode {
	case "smtp":
		return direct, nil
	case "queue":
		if coord.conn == nil {
			logger.Warn("notification queue needs redis; delivering inline")
			return direct, nil
		}
		return notify.NewQueueNotifier(coord.publish), notify.Worker(direct)
	}
	return notify.LogNotifier{Logger: logger}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.Telemetry.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Initialize(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.Error("init telemetry", "err", err)
		os.Exit(1)
	}
	metrics, err := telemetry.NewMetrics(otel.Meter("storefront"))
	if err != nil {
		logger.Error("init metrics", "err", err)
		os.Exit(1)
	}

	store, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("open store", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	coord := openCoordination(ctx, cfg.Redis, logger)

	hub := payments.NewHub()
	go hub.Run()
	events := coord.publish
	if coord.conn != nil {
		go mq.Subscribe(ctx, coord.conn, mq.PaymentEventsChannel, logger, hub.Handler())
	} else {
		events = hub.Relay(coord.publish)
	}

	notifier, worker := buildNotifier(cfg.Mail, coord, logger)
	dispatcher := notify.NewDispatcher(notifier, logger)
	if worker != nil {
		go mq.Subscribe(ctx, coord.conn, mq.NotificationsChannel, logger, worker)
	}

	coupons := coupon.NewEvaluator(store, time.Now)
	ledger := inventory.NewLedger(store, logger)
	cartSvc := cart.NewService(store, store, coupons, logger)
	builder := orders.NewBuilder(orders.Deps{
		Store:         store,
		Carts:         store,
		Catalog:       store,
		Users:         store,
		Ledger:        ledger,
		Coupons:       coupons,
		Notifications: dispatcher,
		Metrics:       metrics,
		Logger:        logger,
	})
	orderSvc := orders.NewService(store, store, ledger, coupons, logger)
	manager := payments.NewManager(store, store, events, metrics, logger)
	reconciler := payments.NewReconciler(payments.ReconcilerDeps{
		Manager:  manager,
		Gateways: buildGateways(cfg, logger),
		Orders:   store,
		Dedupe:   coord.dedupe,
		Locks:    coord.locks,
		Config:   cfg.Payments,
		Metrics:  metrics,
		Logger:   logger,
	})

	rateLimiter := ratelim.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
	go rateLimiter.Run(ctx.Done())

	router := routes.RoutesWrapper(routes.Handlers{
		Cart:     cart.NewHandlers(cartSvc),
		Orders:   orders.NewHandlers(builder, orderSvc),
		Payments: payments.NewHandlers(reconciler, hub),
	}, routes.Guards{
		RateLimiter: rateLimiter,
		Auth:        middleware.Authenticate(cfg.Auth.JWTSecret),
		Idempotency: middleware.Idempotency(store, idempotencyTTL, logger),
	})

	// apply middleware: CORS → security headers → logging → tracing → router
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.IdempotencyHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}).Handler(router)
	handler := otelhttp.NewHandler(
		middleware.RequestLogger(logger, middleware.SecurityHeaders(corsHandler)),
		"storefront",
	)

	server := &http.Server{
		Addr:              cfg.HTTP.Port,
		Handler:           handler,
		ReadTimeout:       7 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	go func() {
		logger.Info("🚀 server listening", "addr", cfg.HTTP.Port, "store", cfg.Store.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("🛑 shutdown signal received; shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
	hub.Stop()
	dispatcher.Wait()
	if coord.conn != nil {
		_ = coord.conn.Close()
	}
	if err := closeStore(shutdownCtx); err != nil {
		logger.Error("close store", "err", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown", "err", err)
	}
	logger.Info("✅ server stopped cleanly")
}
