package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/weave/storefront/internal/platform/requestctx"
)

var fixedTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newOrderRequest(key, actor, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if actor != "" {
		req = req.WithContext(requestctx.WithActor(req.Context(), actor))
	}
	return req
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Location", "/api/v1/orders/ord_1")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"orderId":"ord_1"}`))
	})
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newOrderRequest("k-1", "user_1", `{"paymentId":"pay_1"}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newOrderRequest("k-1", "user_1", `{"paymentId":"pay_1"}`))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != `{"orderId":"ord_1"}` {
		t.Fatalf("unexpected replay: %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get(replayHeader) != "true" || second.Header().Get("Location") != "/api/v1/orders/ord_1" {
		t.Fatalf("expected replay headers, got %v", second.Header())
	}
	if first.Header().Get(replayHeader) != "" {
		t.Fatalf("first response must not be marked as replay")
	}
}

func TestMiddlewareRejectsDifferentBodyForSameKey(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), newOrderRequest("k-1", "user_1", `{"paymentId":"pay_1"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newOrderRequest("k-1", "user_1", `{"paymentId":"pay_2"}`))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	assertErrorCode(t, rec, "idempotency_key_conflict")
	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
}

func TestMiddlewareScopesKeysByActor(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), newOrderRequest("k-1", "user_1", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), newOrderRequest("k-1", "user_2", `{}`))
	if calls != 2 {
		t.Fatalf("expected separate actors not to share keys, got %d calls", calls)
	}
}

func TestMiddlewareReleasesKeyOnServerError(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusServiceUnavailable))

	handler.ServeHTTP(httptest.NewRecorder(), newOrderRequest("k-1", "", `{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newOrderRequest("k-1", "", `{}`))

	if calls != 2 {
		t.Fatalf("expected retry after 5xx to reach handler, got %d calls", calls)
	}
	if rec.Header().Get(replayHeader) != "" {
		t.Fatalf("5xx responses must not be replayed")
	}
}

func TestMiddlewareMissingKey(t *testing.T) {
	var calls int
	optional := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))
	optional.ServeHTTP(httptest.NewRecorder(), newOrderRequest("", "", `{}`))
	if calls != 1 {
		t.Fatalf("expected pass-through without key")
	}

	required := Middleware(NewMemoryStore(), WithRequired(true))(countingHandler(&calls, http.StatusCreated))
	rec := httptest.NewRecorder()
	required.ServeHTTP(rec, newOrderRequest("", "", `{}`))
	if rec.Code != http.StatusBadRequest || calls != 1 {
		t.Fatalf("expected 400 without running handler, got %d", rec.Code)
	}
	assertErrorCode(t, rec, "idempotency_key_required")
}

func TestMiddlewarePendingKeyConflicts(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Reserve(context.Background(), "k-1|anonymous", "other", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	var calls int
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusCreated))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newOrderRequest("k-1", "", `{}`))
	if rec.Code != http.StatusConflict || calls != 0 {
		t.Fatalf("expected conflict without running handler, got %d", rec.Code)
	}
}

func TestMiddlewareStoreFailure(t *testing.T) {
	var calls int
	handler := Middleware(failingStore{})(countingHandler(&calls, http.StatusCreated))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newOrderRequest("k-1", "", `{}`))
	if rec.Code != http.StatusServiceUnavailable || calls != 0 {
		t.Fatalf("expected 503 without running handler, got %d", rec.Code)
	}
}

func TestMemoryStoreExpiresRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.SaveResponse(ctx, "k", "fp", Response{Status: http.StatusCreated}, fixedTime, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err := store.Reserve(ctx, "k", "other", fixedTime.Add(2*time.Minute), time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected expired record to be replaced, got %+v err %v", res, err)
	}
}

type failingStore struct{}

func (failingStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{}, errors.New("backend down")
}

func (failingStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	return nil
}

func (failingStore) Release(context.Context, string) error { return nil }

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, code string) {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload["error"] != code {
		t.Fatalf("expected error code %q, got %v", code, payload["error"])
	}
}
