package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/weave/storefront/internal/domain"
	"github.com/weave/storefront/internal/services"
)

func orderRouter(svc services.OrderService) http.Handler {
	return newTestRouter(
		WithOrderRoutes(NewOrderHandlers(svc).Routes),
		WithAdminRoutes(NewAdminOrderHandlers(svc).Routes),
	)
}

func TestGetOrderReturnsOwnersOrder(t *testing.T) {
	svc := &stubOrderService{
		getOrderFunc: func(_ context.Context, id string) (services.Order, error) {
			require.Equal(t, "ord_01", id)
			return placedOrder("user_1"), nil
		},
	}

	rec := doRequest(t, orderRouter(svc), http.MethodGet, "/api/v1/orders/ord_01", "user_1", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order := decodeBody(t, rec)["order"].(map[string]any)
	assert.Equal(t, "ord_01", order["id"])
	assert.Equal(t, "1026.00", order["totals"].(map[string]any)["totalPrice"])
}

func TestGetOrderHidesOtherUsersOrders(t *testing.T) {
	svc := &stubOrderService{
		getOrderFunc: func(context.Context, string) (services.Order, error) {
			return placedOrder("user_2"), nil
		},
	}
	rec := doRequest(t, orderRouter(svc), http.MethodGet, "/api/v1/orders/ord_01", "user_1", "")
	requireErrorCode(t, rec, http.StatusNotFound, "order_not_found")
}

func TestGetOrderLine(t *testing.T) {
	shipment := "awb_1"
	updatedDate := "02-04-2025"
	svc := &stubOrderService{
		getLineFunc: func(_ context.Context, id string) (services.OrderLine, error) {
			line := placedOrder("user_1").Lines[0]
			line.SecretOrderID = id
			line.Status = domain.OrderLineStatusDelivered
			line.ShipmentID = &shipment
			line.UpdatedDate = &updatedDate
			return line, nil
		},
	}

	rec := doRequest(t, orderRouter(svc), http.MethodGet, "/api/v1/order-lines/ord_01-ven_1-1", "user_1", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	line := decodeBody(t, rec)["line"].(map[string]any)
	assert.Equal(t, "Delivered", line["status"])
	assert.Equal(t, "awb_1", line["shipmentId"])
	assert.Equal(t, "02-04-2025", line["updatedDate"])
}

func TestOrderErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{fmt.Errorf("%w: bad id", services.ErrOrderInvalidInput), http.StatusBadRequest, "invalid_request"},
		{services.ErrOrderUnavailable, http.StatusServiceUnavailable, "order_service_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := &stubOrderService{
				getLineFunc: func(context.Context, string) (services.OrderLine, error) {
					return services.OrderLine{}, tc.err
				},
			}
			rec := doRequest(t, orderRouter(svc), http.MethodGet, "/api/v1/order-lines/x", "user_1", "")
			requireErrorCode(t, rec, tc.status, tc.code)
		})
	}
}

func TestAdminOverrideStatus(t *testing.T) {
	var captured services.OverrideLineStatusCommand
	svc := &stubOrderService{
		overrideFunc: func(_ context.Context, cmd services.OverrideLineStatusCommand) (services.OrderLine, error) {
			captured = cmd
			line := placedOrder("user_1").Lines[0]
			line.Status = cmd.Status
			line.LastOverride = &domain.StatusOverride{
				Actor:  cmd.ActorID,
				Reason: cmd.Reason,
				From:   domain.OrderLineStatusCancelled,
				To:     cmd.Status,
				At:     time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC),
			}
			return line, nil
		},
	}

	body := `{"status":"InTransit","reason":"cancelled by mistake"}`
	rec := doRequest(t, orderRouter(svc), http.MethodPost, "/api/v1/admin/order-lines/ord_01-ven_1-1/status", "ops_7", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ord_01-ven_1-1", captured.SecretOrderID)
	assert.Equal(t, domain.OrderLineStatusInTransit, captured.Status)
	assert.Equal(t, "ops_7", captured.ActorID)
	line := decodeBody(t, rec)["line"].(map[string]any)
	override := line["lastOverride"].(map[string]any)
	assert.Equal(t, "Cancelled", override["from"])
	assert.Equal(t, "InTransit", override["to"])
}

func TestAdminOverrideRejectsUnknownStatus(t *testing.T) {
	called := false
	svc := &stubOrderService{
		overrideFunc: func(context.Context, services.OverrideLineStatusCommand) (services.OrderLine, error) {
			called = true
			return services.OrderLine{}, nil
		},
	}
	rec := doRequest(t, orderRouter(svc), http.MethodPost, "/api/v1/admin/order-lines/x/status", "ops_7", `{"status":"Teleported"}`)
	requireErrorCode(t, rec, http.StatusBadRequest, "invalid_status")
	assert.False(t, called)
}

func TestAdminOverrideRequiresOperator(t *testing.T) {
	rec := doRequest(t, orderRouter(&stubOrderService{}), http.MethodPost, "/api/v1/admin/order-lines/x/status", "", `{"status":"Pending"}`)
	requireErrorCode(t, rec, http.StatusUnauthorized, "unauthenticated")
}

func TestAdminAttachShipment(t *testing.T) {
	var captured services.AttachShipmentCommand
	svc := &stubOrderService{
		attachFunc: func(_ context.Context, cmd services.AttachShipmentCommand) (services.OrderLine, error) {
			captured = cmd
			line := placedOrder("user_1").Lines[0]
			line.ShipmentID = &cmd.ShipmentID
			return line, nil
		},
	}

	body := `{"shipmentId":"awb_9","trackUrl":"https://track.example/awb_9"}`
	rec := doRequest(t, orderRouter(svc), http.MethodPost, "/api/v1/admin/order-lines/ord_01-ven_1-1/shipment", "vendor_3", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, services.AttachShipmentCommand{
		SecretOrderID: "ord_01-ven_1-1",
		ShipmentID:    "awb_9",
		TrackURL:      "https://track.example/awb_9",
		ActorID:       "vendor_3",
	}, captured)
	assert.Equal(t, "awb_9", decodeBody(t, rec)["line"].(map[string]any)["shipmentId"])
}

func TestAdminAttachShipmentToTerminalLine(t *testing.T) {
	svc := &stubOrderService{
		attachFunc: func(context.Context, services.AttachShipmentCommand) (services.OrderLine, error) {
			return services.OrderLine{}, fmt.Errorf("%w: x is Cancelled", services.ErrOrderLineTerminal)
		},
	}
	rec := doRequest(t, orderRouter(svc), http.MethodPost, "/api/v1/admin/order-lines/x/shipment", "vendor_3", `{"shipmentId":"awb_9"}`)
	requireErrorCode(t, rec, http.StatusConflict, "order_line_terminal")
}
