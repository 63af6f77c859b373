package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/weave/storefront/internal/domain"
	"github.com/weave/storefront/internal/repositories"
)

const (
	defaultFetchTimeout = 10 * time.Second
	lineLockPrefix      = "order-line:"

	orderEventLineStatusChanged = "order.line.status.changed"
)

var (
	// ErrReconcileInvalidInput signals a missing or malformed order line id.
	ErrReconcileInvalidInput = errors.New("reconcile: invalid input")
	// ErrReconcileUnavailable signals the lock backend or store could not be reached.
	ErrReconcileUnavailable = errors.New("reconcile: unavailable")
)

var reconcilerTracer = otel.Tracer("github.com/weave/storefront/internal/services/reconciler")

// ReconcileOutcome classifies what a single reconciliation did.
type ReconcileOutcome string

const (
	ReconcileOutcomeUpdated         ReconcileOutcome = "updated"
	ReconcileOutcomeUnchanged       ReconcileOutcome = "unchanged"
	ReconcileOutcomeUnknownCode     ReconcileOutcome = "unknown_code"
	ReconcileOutcomeTerminalSkipped ReconcileOutcome = "terminal_skipped"
	ReconcileOutcomeFetchFailed     ReconcileOutcome = "fetch_failed"
	ReconcileOutcomeLocked          ReconcileOutcome = "locked"
	ReconcileOutcomeNoShipment      ReconcileOutcome = "no_shipment"
	ReconcileOutcomeError           ReconcileOutcome = "error"
)

// ReconcileResult reports the effect of reconciling one order line.
type ReconcileResult struct {
	SecretOrderID  string
	Outcome        ReconcileOutcome
	PreviousStatus OrderLineStatus
	Status         OrderLineStatus
	Snapshot       *TrackingSnapshot
	FetchErr       error
}

// StatusReconcilerDeps bundles collaborators required to construct the reconciler.
type StatusReconcilerDeps struct {
	Lines        repositories.OrderLineRepository
	Tracking     TrackingFetcher
	Locker       LineLocker
	FetchTimeout time.Duration
	Events       OrderEventPublisher
	Metrics      ReconcileRecorder
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// StatusReconciler keeps order line status in step with the carrier feed.
type StatusReconciler struct {
	lines        repositories.OrderLineRepository
	tracking     TrackingFetcher
	locker       LineLocker
	fetchTimeout time.Duration
	events       OrderEventPublisher
	metrics      ReconcileRecorder
	clock        func() time.Time
	logger       func(context.Context, string, map[string]any)
}

// NewStatusReconciler wires dependencies into a StatusReconciler.
func NewStatusReconciler(deps StatusReconcilerDeps) (*StatusReconciler, error) {
	if deps.Lines == nil {
		return nil, errors.New("status reconciler: order line repository is required")
	}
	if deps.Tracking == nil {
		return nil, errors.New("status reconciler: tracking fetcher is required")
	}
	if deps.Locker == nil {
		return nil, errors.New("status reconciler: line locker is required")
	}

	timeout := deps.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StatusReconciler{
		lines:        deps.Lines,
		tracking:     deps.Tracking,
		locker:       deps.Locker,
		fetchTimeout: timeout,
		events:       deps.Events,
		metrics:      deps.Metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Reconcile fetches the carrier snapshot for one order line and applies the mapped status.
// Terminal-protected lines, unknown carrier codes and failed fetches leave the line untouched.
// A line already being reconciled elsewhere is skipped rather than waited on.
func (r *StatusReconciler) Reconcile(ctx context.Context, secretOrderID string) (ReconcileResult, error) {
	id := strings.TrimSpace(secretOrderID)
	if id == "" {
		return ReconcileResult{}, fmt.Errorf("%w: secret order id is required", ErrReconcileInvalidInput)
	}

	ctx, span := reconcilerTracer.Start(ctx, "reconcile.line",
		trace.WithAttributes(attribute.String("order_line.secret_id", id)))
	defer span.End()

	start := time.Now()
	result, err := r.reconcile(ctx, id)
	if err != nil {
		result.Outcome = ReconcileOutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("reconcile.outcome", string(result.Outcome)))
	if r.metrics != nil {
		r.metrics.RecordReconcile(result.Outcome, time.Since(start))
	}
	return result, err
}

func (r *StatusReconciler) reconcile(ctx context.Context, id string) (ReconcileResult, error) {
	result := ReconcileResult{SecretOrderID: id}

	unlock, ok, err := r.locker.TryLock(ctx, lineLockPrefix+id)
	if err != nil {
		return result, fmt.Errorf("%w: acquire line lock: %v", ErrReconcileUnavailable, err)
	}
	if !ok {
		result.Outcome = ReconcileOutcomeLocked
		r.logger(ctx, "reconcile.line.locked", map[string]any{"secretOrderId": id})
		return result, nil
	}
	defer unlock()

	line, err := r.lines.FindBySecretID(ctx, id)
	if err != nil {
		return result, mapOrderRepositoryError(err)
	}
	defer r.markReconciled(ctx, id)
	result.PreviousStatus = line.Status
	result.Status = line.Status

	if !line.HasShipment() {
		result.Outcome = ReconcileOutcomeNoShipment
		return result, nil
	}

	snapshot, err := r.fetch(ctx, *line.ShipmentID)
	if err != nil {
		result.Outcome = ReconcileOutcomeFetchFailed
		result.FetchErr = err
		r.logger(ctx, "reconcile.fetch.failed", map[string]any{
			"secretOrderId": id,
			"shipmentId":    *line.ShipmentID,
			"error":         err.Error(),
		})
		return result, nil
	}
	result.Snapshot = &snapshot

	if line.Status.IsTerminalProtected() {
		r.skipTerminal(ctx, &result, line.Status, snapshot.TrackingCode)
		return result, nil
	}

	mapping := MapCarrierStatus(snapshot)
	if !mapping.Changed {
		result.Outcome = ReconcileOutcomeUnknownCode
		r.logger(ctx, "reconcile.code.unmapped", map[string]any{
			"secretOrderId": id,
			"trackingCode":  snapshot.TrackingCode,
		})
		return result, nil
	}

	fingerprint, err := SnapshotFingerprint(snapshot)
	if err != nil {
		return result, err
	}
	now := r.clock()

	var terminalAtWrite OrderLineStatus
	var previous OrderLineStatus
	updated, changed, err := r.lines.Mutate(ctx, id, func(current *OrderLine) (bool, error) {
		// the store may retry the mutation; state from earlier attempts must not leak
		terminalAtWrite, previous = "", ""
		if current.Status.IsTerminalProtected() {
			terminalAtWrite = current.Status
			return false, nil
		}
		previous = current.Status
		return applyTrackingUpdate(current, mapping, snapshot, fingerprint, now), nil
	})
	if err != nil {
		return result, mapOrderRepositoryError(err)
	}

	if terminalAtWrite != "" {
		// status moved to a protected state between read and write
		result.PreviousStatus = terminalAtWrite
		r.skipTerminal(ctx, &result, terminalAtWrite, snapshot.TrackingCode)
		return result, nil
	}

	result.PreviousStatus = previous
	result.Status = updated.Status
	if !changed {
		result.Outcome = ReconcileOutcomeUnchanged
		return result, nil
	}
	result.Outcome = ReconcileOutcomeUpdated

	if previous != updated.Status {
		r.publishEvent(ctx, OrderEvent{
			Type:           orderEventLineStatusChanged,
			OrderID:        updated.OrderID,
			SecretOrderID:  updated.SecretOrderID,
			UserID:         updated.UserID,
			PreviousStatus: string(previous),
			CurrentStatus:  string(updated.Status),
			ActorID:        "carrier",
			OccurredAt:     now,
			Metadata: map[string]any{
				"trackingCode": snapshot.TrackingCode,
				"version":      updated.Version,
			},
		})
	}
	return result, nil
}

func (r *StatusReconciler) fetch(ctx context.Context, shipmentID string) (TrackingSnapshot, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()
	return r.tracking.FetchTracking(fetchCtx, shipmentID)
}

// markReconciled moves the line to the back of the batch queue whatever the outcome of the poll.
func (r *StatusReconciler) markReconciled(ctx context.Context, id string) {
	if err := r.lines.MarkReconciled(ctx, id, r.clock()); err != nil {
		r.logger(ctx, "reconcile.mark.failed", map[string]any{
			"secretOrderId": id,
			"error":         err.Error(),
		})
	}
}

func (r *StatusReconciler) skipTerminal(ctx context.Context, result *ReconcileResult, status OrderLineStatus, code int) {
	result.Outcome = ReconcileOutcomeTerminalSkipped
	result.Status = status
	if r.metrics != nil {
		r.metrics.RecordTerminalSkip(status)
	}
	r.logger(ctx, "reconcile.terminal.skipped", map[string]any{
		"secretOrderId": result.SecretOrderID,
		"status":        string(status),
		"trackingCode":  code,
	})
}

func (r *StatusReconciler) publishEvent(ctx context.Context, event OrderEvent) {
	if r.events == nil {
		return
	}
	if err := r.events.PublishOrderEvent(ctx, event); err != nil {
		r.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"line":   event.SecretOrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

// applyTrackingUpdate mutates line in place and reports whether anything changed. A snapshot whose
// fingerprint equals the last recorded entry is never appended twice.
func applyTrackingUpdate(line *OrderLine, mapping StatusMapping, snapshot TrackingSnapshot, fingerprint string, now time.Time) bool {
	last, hasLast := line.LastTrackingEntry()
	sameSnapshot := hasLast && last.Fingerprint == fingerprint
	if sameSnapshot && line.Status == mapping.Status {
		return false
	}

	line.Status = mapping.Status
	if !sameSnapshot {
		line.TrackingHistory = append(line.TrackingHistory, domain.TrackingHistoryEntry{
			Fingerprint: fingerprint,
			Status:      mapping.Status,
			Snapshot:    snapshot,
			RecordedAt:  now,
		})
	}
	if etd := strings.TrimSpace(snapshot.ETD); etd != "" {
		line.ETD = &etd
	}
	if url := strings.TrimSpace(snapshot.TrackURL); url != "" {
		line.TrackURL = &url
	}
	if mapping.UpdatedDate != nil {
		date := *mapping.UpdatedDate
		line.UpdatedDate = &date
	}
	line.UpdatedAt = now
	return true
}

type fingerprintPayload struct {
	Code     int             `json:"code"`
	TrackURL string          `json:"trackUrl"`
	ETD      string          `json:"etd"`
	History  []TrackingEvent `json:"history"`
}

// SnapshotFingerprint hashes the carrier-supplied content of a snapshot. Two fetches returning the
// same payload produce the same fingerprint.
func SnapshotFingerprint(snapshot TrackingSnapshot) (string, error) {
	payload := fingerprintPayload{
		Code:     snapshot.TrackingCode,
		TrackURL: strings.TrimSpace(snapshot.TrackURL),
		ETD:      strings.TrimSpace(snapshot.ETD),
		History:  snapshot.History,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("reconcile: fingerprint snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16]), nil
}
