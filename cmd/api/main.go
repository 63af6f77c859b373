package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/weave/storefront/internal/app"
	"github.com/weave/storefront/internal/handlers"
	"github.com/weave/storefront/internal/platform/idempotency"
	"github.com/weave/storefront/internal/platform/observability"
	"github.com/weave/storefront/internal/platform/textutil"
	"github.com/weave/storefront/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	rt, err := app.New(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise runtime", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rt.Close(closeCtx)
	}()
	cfg := rt.Config

	sanitizer := textutil.NewPlainText()
	eventLogger := observability.EventLogger(logger.Named("services"))

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:           rt.Repos.Orders(),
		Coupons:          rt.Repos.Coupons(),
		Carts:            rt.Repos.Carts(),
		ExtraDiscountPct: cfg.Pricing.ExtraDiscountPct,
		Sanitizer:        sanitizer,
		Events:           rt.Events,
		Metrics:          rt.Metrics,
		Clock:            time.Now,
		Logger:           eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}
	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    rt.Repos.Orders(),
		Lines:     rt.Repos.OrderLines(),
		Sanitizer: sanitizer,
		Events:    rt.Events,
		Clock:     time.Now,
		Logger:    eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	idempotencyStore, err := idempotency.NewFirestoreStore(rt.Firestore)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService,
		handlers.WithDisplayCurrency(strings.TrimSpace(os.Getenv("STOREFRONT_DISPLAY_CURRENCY"))),
		handlers.WithPlaceOrderMiddlewares(idempotencyMiddleware),
	)
	orderHandlers := handlers.NewOrderHandlers(orderService)
	adminHandlers := handlers.NewAdminOrderHandlers(orderService)
	internalHandlers := handlers.NewInternalReconcileHandlers(rt.Reconciler, rt.BatchOptions())

	projectID := cfg.Firestore.ProjectID
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware,
		observability.ActorMiddleware,
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithReadinessCheck("firestore", rt.PingFirestore),
		handlers.WithReadinessCheck("redis", rt.PingRedis),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, handlers.WithMetricsHandler(cfg.Metrics.Path, rt.Metrics.Handler()))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening",
			zap.String("events", cfg.Events.Backend),
			zap.String("locks", cfg.Reconciler.LockBackend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
