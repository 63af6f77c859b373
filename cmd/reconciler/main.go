package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/weave/storefront/internal/app"
	"github.com/weave/storefront/internal/platform/observability"
	"github.com/weave/storefront/internal/services"
)

// Process exit codes.
const (
	exitOK          = 0
	exitRunFailed   = 1
	exitLinesFailed = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		limit       int
		concurrency int
		timeout     time.Duration
		secretID    string
	)
	flag.IntVar(&limit, "limit", 0, "max active lines to reconcile (0 uses STOREFRONT_RECONCILER_BATCH_LIMIT)")
	flag.IntVar(&concurrency, "concurrency", 0, "parallel carrier fetches (0 uses STOREFRONT_RECONCILER_CONCURRENCY)")
	flag.DurationVar(&timeout, "timeout", 10*time.Minute, "overall deadline for the run")
	flag.StringVar(&secretID, "line", "", "reconcile a single order line by secret order id")
	flag.Parse()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		return exitRunFailed
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("reconciler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rt, err := app.New(ctx, logger)
	if err != nil {
		logger.Error("failed to initialise runtime", zap.Error(err))
		return exitRunFailed
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rt.Close(closeCtx)
	}()

	if secretID != "" {
		result, err := rt.Reconciler.Reconcile(ctx, secretID)
		if err != nil {
			logger.Error("reconcile failed", zap.String("secretOrderId", secretID), zap.Error(err))
			return exitRunFailed
		}
		logger.Info("reconcile finished",
			zap.String("secretOrderId", secretID),
			zap.String("outcome", string(result.Outcome)),
			zap.String("status", string(result.Status)),
		)
		return exitOK
	}

	opts := rt.BatchOptions()
	if limit > 0 {
		opts.Limit = limit
	}
	if concurrency > 0 {
		opts.Concurrency = concurrency
	}

	started := time.Now()
	summary, err := rt.Reconciler.RunBatch(ctx, opts)
	fields := []zap.Field{
		zap.Int("considered", summary.Considered),
		zap.Any("outcomes", summary.Outcomes),
		zap.Int("failed", len(summary.Failed)),
		zap.Duration("elapsed", time.Since(started)),
	}
	if err != nil {
		logger.Error("reconcile batch aborted", append(fields, zap.Error(err))...)
		return exitRunFailed
	}
	logger.Info("reconcile batch finished", fields...)
	return exitCode(summary)
}

func exitCode(summary services.ReconcileBatchSummary) int {
	if len(summary.Failed) > 0 {
		return exitLinesFailed
	}
	return exitOK
}
