package services

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchConcurrency = 8
	defaultBatchLimit       = 500
)

// ReconcileBatchOptions bounds one batch run.
type ReconcileBatchOptions struct {
	Limit       int
	Concurrency int
}

// ReconcileBatchSummary counts outcomes across a batch run.
type ReconcileBatchSummary struct {
	Considered int
	Outcomes   map[ReconcileOutcome]int
	Failed     []string
}

// RunBatch reconciles every active order line in parallel. One line failing never stops the others;
// the run only returns an error when the active lines cannot be listed.
func (r *StatusReconciler) RunBatch(ctx context.Context, opts ReconcileBatchOptions) (ReconcileBatchSummary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}

	lines, err := r.lines.ListActive(ctx, limit)
	if err != nil {
		return ReconcileBatchSummary{}, mapOrderRepositoryError(err)
	}

	summary := ReconcileBatchSummary{
		Considered: len(lines),
		Outcomes:   make(map[ReconcileOutcome]int),
	}
	var mu sync.Mutex

	var group errgroup.Group
	group.SetLimit(concurrency)
	for _, line := range lines {
		id := line.SecretOrderID
		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			result, err := r.Reconcile(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			summary.Outcomes[result.Outcome]++
			if err != nil {
				summary.Failed = append(summary.Failed, id)
				r.logger(ctx, "reconcile.line.failed", map[string]any{
					"secretOrderId": id,
					"error":         err.Error(),
				})
			}
			return nil
		})
	}
	_ = group.Wait()

	r.logger(ctx, "reconcile.batch.completed", map[string]any{
		"considered": summary.Considered,
		"outcomes":   summary.Outcomes,
		"failed":     len(summary.Failed),
	})
	return summary, ctx.Err()
}
