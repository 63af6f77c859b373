package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/weave/storefront/internal/platform/observability"
	"github.com/weave/storefront/internal/services"
)

type stubCheckoutService struct {
	summaryFunc func(ctx context.Context, cmd services.CheckoutSummaryCommand) (services.CheckoutSummaryResult, error)
	placeFunc   func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error)
}

func (s *stubCheckoutService) ComputeCheckoutSummary(ctx context.Context, cmd services.CheckoutSummaryCommand) (services.CheckoutSummaryResult, error) {
	if s.summaryFunc != nil {
		return s.summaryFunc(ctx, cmd)
	}
	return services.CheckoutSummaryResult{}, nil
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	if s.placeFunc != nil {
		return s.placeFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

type stubOrderService struct {
	getOrderFunc func(ctx context.Context, orderID string) (services.Order, error)
	getLineFunc  func(ctx context.Context, id string) (services.OrderLine, error)
	overrideFunc func(ctx context.Context, cmd services.OverrideLineStatusCommand) (services.OrderLine, error)
	attachFunc   func(ctx context.Context, cmd services.AttachShipmentCommand) (services.OrderLine, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getOrderFunc != nil {
		return s.getOrderFunc(ctx, orderID)
	}
	return services.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) GetOrderLine(ctx context.Context, id string) (services.OrderLine, error) {
	if s.getLineFunc != nil {
		return s.getLineFunc(ctx, id)
	}
	return services.OrderLine{}, services.ErrOrderNotFound
}

func (s *stubOrderService) OverrideLineStatus(ctx context.Context, cmd services.OverrideLineStatusCommand) (services.OrderLine, error) {
	if s.overrideFunc != nil {
		return s.overrideFunc(ctx, cmd)
	}
	return services.OrderLine{}, nil
}

func (s *stubOrderService) AttachShipment(ctx context.Context, cmd services.AttachShipmentCommand) (services.OrderLine, error) {
	if s.attachFunc != nil {
		return s.attachFunc(ctx, cmd)
	}
	return services.OrderLine{}, nil
}

type stubReconciler struct {
	reconcileFunc func(ctx context.Context, id string) (services.ReconcileResult, error)
	batchFunc     func(ctx context.Context, opts services.ReconcileBatchOptions) (services.ReconcileBatchSummary, error)
}

func (s *stubReconciler) Reconcile(ctx context.Context, id string) (services.ReconcileResult, error) {
	if s.reconcileFunc != nil {
		return s.reconcileFunc(ctx, id)
	}
	return services.ReconcileResult{SecretOrderID: id, Outcome: services.ReconcileOutcomeUnchanged}, nil
}

func (s *stubReconciler) RunBatch(ctx context.Context, opts services.ReconcileBatchOptions) (services.ReconcileBatchSummary, error) {
	if s.batchFunc != nil {
		return s.batchFunc(ctx, opts)
	}
	return services.ReconcileBatchSummary{Outcomes: map[services.ReconcileOutcome]int{}}, nil
}

// newTestRouter builds the production router with the actor header middleware installed.
func newTestRouter(opts ...Option) chi.Router {
	return NewRouter(append([]Option{WithMiddlewares(observability.ActorMiddleware)}, opts...)...)
}

func doRequest(t *testing.T, h http.Handler, method, path, actor, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(observability.ActorHeader, actor)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), "body: %s", rec.Body.String())
	return payload
}

func requireErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
	require.Equal(t, code, decodeBody(t, rec)["error"])
}
