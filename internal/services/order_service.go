package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	domain "github.com/weave/storefront/internal/domain"
	"github.com/weave/storefront/internal/repositories"
)

const (
	orderEventLineStatusOverridden = "order.line.status.overridden"
	orderEventShipmentAttached     = "order.line.shipment.attached"

	maxOverrideReasonLength = 512
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order or order line could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the backing store is temporarily unreachable.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
	// ErrOrderLineTerminal rejects shipment changes on cancelled, returned or failed lines.
	ErrOrderLineTerminal = fmt.Errorf("%w: order line is terminal", ErrOrderConflict)
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Lines     repositories.OrderLineRepository
	Sanitizer TextSanitizer
	Events    OrderEventPublisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	lines     repositories.OrderLineRepository
	sanitizer TextSanitizer
	events    OrderEventPublisher
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Lines == nil {
		return nil, errors.New("order service: order line repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:    deps.Orders,
		lines:     deps.Lines,
		sanitizer: deps.Sanitizer,
		events:    deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetOrderLine(ctx context.Context, secretOrderID string) (OrderLine, error) {
	id := strings.TrimSpace(secretOrderID)
	if id == "" {
		return OrderLine{}, fmt.Errorf("%w: secret order id is required", ErrOrderInvalidInput)
	}
	line, err := s.lines.FindBySecretID(ctx, id)
	if err != nil {
		return OrderLine{}, mapOrderRepositoryError(err)
	}
	return line, nil
}

// OverrideLineStatus applies a manual status change. Unlike the reconciler it may leave or enter
// any status, terminal-protected ones included.
func (s *orderService) OverrideLineStatus(ctx context.Context, cmd OverrideLineStatusCommand) (OrderLine, error) {
	id := strings.TrimSpace(cmd.SecretOrderID)
	if id == "" {
		return OrderLine{}, fmt.Errorf("%w: secret order id is required", ErrOrderInvalidInput)
	}
	status, ok := domain.ParseOrderLineStatus(string(cmd.Status))
	if !ok {
		return OrderLine{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return OrderLine{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}
	reason := truncateReason(s.sanitize(cmd.Reason), maxOverrideReasonLength)

	now := s.clock()
	var previous OrderLineStatus
	updated, changed, err := s.lines.Mutate(ctx, id, func(line *OrderLine) (bool, error) {
		previous = line.Status
		line.LastOverride = &StatusOverride{
			Actor:  actor,
			Reason: reason,
			From:   line.Status,
			To:     status,
			At:     now,
		}
		line.Status = status
		line.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return OrderLine{}, mapOrderRepositoryError(err)
	}

	s.logger(ctx, "order.line.status.overridden", map[string]any{
		"secretOrderId": id,
		"from":          string(previous),
		"to":            string(status),
		"actor":         actor,
	})

	if changed {
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventLineStatusOverridden,
			OrderID:        updated.OrderID,
			SecretOrderID:  updated.SecretOrderID,
			UserID:         updated.UserID,
			PreviousStatus: string(previous),
			CurrentStatus:  string(updated.Status),
			ActorID:        actor,
			OccurredAt:     now,
			Metadata:       map[string]any{"reason": reason},
		})
	}
	return updated, nil
}

// AttachShipment sets the carrier shipment of a line. Re-sending the same shipment id is a no-op;
// a different id replaces the previous one and resets the tracking link.
func (s *orderService) AttachShipment(ctx context.Context, cmd AttachShipmentCommand) (OrderLine, error) {
	id := strings.TrimSpace(cmd.SecretOrderID)
	if id == "" {
		return OrderLine{}, fmt.Errorf("%w: secret order id is required", ErrOrderInvalidInput)
	}
	shipmentID := strings.TrimSpace(cmd.ShipmentID)
	if shipmentID == "" || strings.ContainsAny(shipmentID, "/?# ") {
		return OrderLine{}, fmt.Errorf("%w: shipment id is invalid", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return OrderLine{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}
	trackURL := strings.TrimSpace(cmd.TrackURL)

	now := s.clock()
	var previous string
	updated, changed, err := s.lines.Mutate(ctx, id, func(line *OrderLine) (bool, error) {
		previous = ""
		if line.ShipmentID != nil {
			previous = *line.ShipmentID
		}
		if line.Status.IsTerminalProtected() {
			return false, fmt.Errorf("%w: %s is %s", ErrOrderLineTerminal, line.SecretOrderID, line.Status)
		}
		sameURL := trackURL == "" || (line.TrackURL != nil && *line.TrackURL == trackURL)
		if previous == shipmentID && sameURL {
			return false, nil
		}
		if previous != shipmentID {
			line.TrackURL = nil
		}
		line.ShipmentID = cloneStringPtr(&shipmentID)
		if trackURL != "" {
			line.TrackURL = cloneStringPtr(&trackURL)
		}
		line.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return OrderLine{}, mapOrderRepositoryError(err)
	}
	if !changed {
		return updated, nil
	}

	s.logger(ctx, orderEventShipmentAttached, map[string]any{
		"secretOrderId": id,
		"shipmentId":    shipmentID,
		"previous":      previous,
		"actor":         actor,
	})
	metadata := map[string]any{"shipmentId": shipmentID}
	if previous != "" {
		metadata["previousShipmentId"] = previous
	}
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventShipmentAttached,
		OrderID:       updated.OrderID,
		SecretOrderID: updated.SecretOrderID,
		UserID:        updated.UserID,
		CurrentStatus: string(updated.Status),
		ActorID:       actor,
		OccurredAt:    now,
		Metadata:      metadata,
	})
	return updated, nil
}

func (s *orderService) sanitize(value string) string {
	if s.sanitizer == nil {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(s.sanitizer.Sanitize(value))
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

// truncateReason caps value at limit bytes without splitting a rune.
func truncateReason(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
