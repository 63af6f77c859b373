package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/weave/storefront/internal/domain"
	"github.com/weave/storefront/internal/platform/httpx"
	"github.com/weave/storefront/internal/services"
)

const maxAdminRequestBody = 8 * 1024

// AdminOrderHandlers exposes operator actions on order lines. The gateway is responsible for
// admin authorisation; the handlers only require an operator id for the audit trail.
type AdminOrderHandlers struct {
	orders services.OrderService
}

// NewAdminOrderHandlers constructs admin order handlers.
func NewAdminOrderHandlers(orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{orders: orders}
}

// Routes registers admin endpoints under the provided router.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/order-lines/{secretOrderId}/status", h.overrideStatus)
	r.Post("/order-lines/{secretOrderId}/shipment", h.attachShipment)
}

type overrideStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type attachShipmentRequest struct {
	ShipmentID string `json:"shipmentId"`
	TrackURL   string `json:"trackUrl"`
}

func (h *AdminOrderHandlers) overrideStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	var req overrideStatusRequest
	if !decodeJSONBody(ctx, w, r, maxAdminRequestBody, &req) {
		return
	}
	status, ok := domain.ParseOrderLineStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status", "unknown order line status", http.StatusBadRequest))
		return
	}

	line, err := h.orders.OverrideLineStatus(ctx, services.OverrideLineStatusCommand{
		SecretOrderID: strings.TrimSpace(chi.URLParam(r, "secretOrderId")),
		Status:        status,
		ActorID:       actor,
		Reason:        req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderLineResponse{Line: buildOrderLinePayload(line)})
}

func (h *AdminOrderHandlers) attachShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	var req attachShipmentRequest
	if !decodeJSONBody(ctx, w, r, maxAdminRequestBody, &req) {
		return
	}

	line, err := h.orders.AttachShipment(ctx, services.AttachShipmentCommand{
		SecretOrderID: strings.TrimSpace(chi.URLParam(r, "secretOrderId")),
		ShipmentID:    req.ShipmentID,
		TrackURL:      req.TrackURL,
		ActorID:       actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderLineResponse{Line: buildOrderLinePayload(line)})
}
