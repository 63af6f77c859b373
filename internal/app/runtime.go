// Package app assembles the storefront runtime shared by the API server and the batch reconciler.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/weave/storefront/internal/carrier"
	"github.com/weave/storefront/internal/platform/config"
	"github.com/weave/storefront/internal/platform/events"
	pfirestore "github.com/weave/storefront/internal/platform/firestore"
	"github.com/weave/storefront/internal/platform/locks"
	"github.com/weave/storefront/internal/platform/metrics"
	"github.com/weave/storefront/internal/platform/observability"
	"github.com/weave/storefront/internal/platform/secrets"
	firestoreRepo "github.com/weave/storefront/internal/repositories/firestore"
	"github.com/weave/storefront/internal/services"
)

// Runtime holds the long-lived clients both binaries need.
type Runtime struct {
	Config     config.Config
	Logger     *zap.Logger
	Firestore  *pfirestore.Provider
	Repos      *firestoreRepo.Registry
	Events     services.OrderEventPublisher
	Metrics    *metrics.Registry
	Reconciler *services.StatusReconciler
	Redis      redis.UniversalClient

	closers []func(context.Context) error
}

// New loads configuration and dials every backend. On error everything opened so far is closed.
func New(ctx context.Context, logger *zap.Logger) (_ *Runtime, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &Runtime{Logger: logger}
	defer func() {
		if err != nil {
			rt.Close(context.Background())
		}
	}()

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	rt.onClose(func(context.Context) error { return fetcher.Close() })

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		return nil, err
	}
	rt.Config = cfg

	rt.Firestore = pfirestore.NewProvider(cfg.Firestore)
	rt.onClose(rt.Firestore.Close)
	if rt.Repos, err = firestoreRepo.NewRegistry(rt.Firestore, time.Now); err != nil {
		return nil, fmt.Errorf("repositories: %w", err)
	}

	publisher, closer, err := events.New(ctx, cfg.Events, cfg.Firestore.ProjectID)
	if err != nil {
		return nil, err
	}
	rt.Events = publisher
	rt.onClose(closeWith(closer))

	rt.Metrics = metrics.NewRegistry()

	tracking, err := carrier.NewClient(cfg.Carrier.BaseURL, cfg.Carrier.Token, carrier.WithTimeout(cfg.Carrier.Timeout))
	if err != nil {
		return nil, err
	}

	locker, err := rt.newLocker(cfg)
	if err != nil {
		return nil, err
	}

	rt.Reconciler, err = services.NewStatusReconciler(services.StatusReconcilerDeps{
		Lines:        rt.Repos.OrderLines(),
		Tracking:     tracking,
		Locker:       locker,
		FetchTimeout: cfg.Carrier.Timeout,
		Events:       rt.Events,
		Metrics:      rt.Metrics,
		Clock:        time.Now,
		Logger:       observability.EventLogger(logger.Named("reconciler")),
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// BatchOptions returns the configured reconcile batch bounds.
func (rt *Runtime) BatchOptions() services.ReconcileBatchOptions {
	return services.ReconcileBatchOptions{
		Limit:       rt.Config.Reconciler.BatchLimit,
		Concurrency: rt.Config.Reconciler.Concurrency,
	}
}

// PingFirestore reads at most one document to prove the store answers.
func (rt *Runtime) PingFirestore(ctx context.Context) error {
	client, err := rt.Firestore.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection("orders").Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("readiness", err)
	}
	return nil
}

// PingRedis reports whether the lock backend answers. It is a no-op for in-process locks.
func (rt *Runtime) PingRedis(ctx context.Context) error {
	if rt.Redis == nil {
		return nil
	}
	return rt.Redis.Ping(ctx).Err()
}

// Close releases clients in reverse order of creation.
func (rt *Runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.Logger.Warn("shutdown: close failed", zap.Error(err))
		}
	}
	rt.closers = nil
}

func (rt *Runtime) onClose(fn func(context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

func (rt *Runtime) newLocker(cfg config.Config) (services.LineLocker, error) {
	switch cfg.Reconciler.LockBackend {
	case config.LockBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.Redis = client
		rt.onClose(func(context.Context) error { return client.Close() })
		return locks.NewRedis(client,
			locks.WithLeaseTTL(cfg.Reconciler.LockTTL),
			locks.WithLogger(rt.Logger.Named("locks")),
		)
	case config.LockBackendMemory, "":
		return locks.NewMemory(), nil
	default:
		return nil, fmt.Errorf("locks: unknown backend %q", cfg.Reconciler.LockBackend)
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	opts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	project := strings.TrimSpace(os.Getenv("STOREFRONT_SECRET_PROJECT_ID"))
	if project == "" {
		project = strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT"))
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path := strings.TrimSpace(os.Getenv("STOREFRONT_SECRET_FALLBACK_FILE")); path != "" {
		opts = append(opts, secrets.WithLocalFile(path))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func closeWith(c io.Closer) func(context.Context) error {
	return func(context.Context) error {
		if c == nil {
			return nil
		}
		return c.Close()
	}
}
