package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/weave/storefront/internal/platform/httpx"
	"github.com/weave/storefront/internal/services"
)

const maxBatchLimit = 5000

// LineReconciler is the subset of the status reconciler used by internal endpoints.
type LineReconciler interface {
	Reconcile(ctx context.Context, secretOrderID string) (services.ReconcileResult, error)
	RunBatch(ctx context.Context, opts services.ReconcileBatchOptions) (services.ReconcileBatchSummary, error)
}

// InternalReconcileHandlers lets schedulers and operators trigger reconciliation on demand.
type InternalReconcileHandlers struct {
	reconciler LineReconciler
	defaults   services.ReconcileBatchOptions
}

// NewInternalReconcileHandlers constructs internal handlers. defaults applies when a batch request
// leaves limit or concurrency unset.
func NewInternalReconcileHandlers(reconciler LineReconciler, defaults services.ReconcileBatchOptions) *InternalReconcileHandlers {
	return &InternalReconcileHandlers{reconciler: reconciler, defaults: defaults}
}

// Routes registers internal endpoints under the provided router.
func (h *InternalReconcileHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/order-lines/{secretOrderId}/reconcile", h.reconcileLine)
	r.Post("/reconcile", h.reconcileBatch)
}

type reconcileLineResponse struct {
	SecretOrderID  string `json:"secretOrderId"`
	Outcome        string `json:"outcome"`
	PreviousStatus string `json:"previousStatus,omitempty"`
	Status         string `json:"status,omitempty"`
	TrackingCode   *int   `json:"trackingCode,omitempty"`
	FetchError     string `json:"fetchError,omitempty"`
}

type reconcileBatchResponse struct {
	Considered int            `json:"considered"`
	Outcomes   map[string]int `json:"outcomes"`
	Failed     []string       `json:"failed"`
	Partial    bool           `json:"partial,omitempty"`
}

func (h *InternalReconcileHandlers) reconcileLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reconciler_unavailable", "reconciler unavailable", http.StatusServiceUnavailable))
		return
	}

	result, err := h.reconciler.Reconcile(ctx, strings.TrimSpace(chi.URLParam(r, "secretOrderId")))
	if err != nil {
		writeReconcileError(ctx, w, err)
		return
	}

	resp := reconcileLineResponse{
		SecretOrderID:  result.SecretOrderID,
		Outcome:        string(result.Outcome),
		PreviousStatus: string(result.PreviousStatus),
		Status:         string(result.Status),
	}
	if result.Snapshot != nil {
		code := result.Snapshot.TrackingCode
		resp.TrackingCode = &code
	}
	if result.FetchErr != nil {
		resp.FetchError = result.FetchErr.Error()
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *InternalReconcileHandlers) reconcileBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reconciler_unavailable", "reconciler unavailable", http.StatusServiceUnavailable))
		return
	}

	opts := h.defaults
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxBatchLimit {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be between 1 and 5000", http.StatusBadRequest))
			return
		}
		opts.Limit = limit
	}
	if raw := strings.TrimSpace(query.Get("concurrency")); raw != "" {
		concurrency, err := strconv.Atoi(raw)
		if err != nil || concurrency <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "concurrency must be positive", http.StatusBadRequest))
			return
		}
		opts.Concurrency = concurrency
	}

	summary, err := h.reconciler.RunBatch(ctx, opts)
	if err != nil && summary.Outcomes == nil {
		writeReconcileError(ctx, w, err)
		return
	}

	outcomes := make(map[string]int, len(summary.Outcomes))
	for outcome, count := range summary.Outcomes {
		outcomes[string(outcome)] = count
	}
	failed := summary.Failed
	if failed == nil {
		failed = []string{}
	}
	writeJSONResponse(w, http.StatusOK, reconcileBatchResponse{
		Considered: summary.Considered,
		Outcomes:   outcomes,
		Failed:     failed,
		Partial:    err != nil,
	})
}

func writeReconcileError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrReconcileInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order line not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReconcileUnavailable), errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("reconciler_unavailable", "reconciliation backend unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("reconcile_timeout", "reconciliation did not finish in time", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("reconcile_error", "failed to reconcile", http.StatusInternalServerError))
	}
}
