package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	domain "github.com/weave/storefront/internal/domain"
	"github.com/weave/storefront/internal/repositories"
)

type fakeRepositoryError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e fakeRepositoryError) Error() string {
	switch {
	case e.notFound:
		return "not found"
	case e.conflict:
		return "conflict"
	case e.unavailable:
		return "unavailable"
	default:
		return "repository error"
	}
}

func (e fakeRepositoryError) IsNotFound() bool    { return e.notFound }
func (e fakeRepositoryError) IsConflict() bool    { return e.conflict }
func (e fakeRepositoryError) IsUnavailable() bool { return e.unavailable }

type stubOrderRepo struct {
	createFn func(context.Context, domain.Order) error
	findFn   func(context.Context, string) (domain.Order, error)
}

func (s *stubOrderRepo) Create(ctx context.Context, order domain.Order) error {
	if s.createFn != nil {
		return s.createFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, fakeRepositoryError{notFound: true}
}

type stubCouponRepo struct {
	policies map[string]domain.DiscountPolicy
	err      error
}

func (s *stubCouponRepo) FindByCode(_ context.Context, code string) (domain.DiscountPolicy, error) {
	if s.err != nil {
		return domain.DiscountPolicy{}, s.err
	}
	policy, ok := s.policies[code]
	if !ok {
		return domain.DiscountPolicy{}, fakeRepositoryError{notFound: true}
	}
	return policy, nil
}

type stubCartRepo struct {
	lines    map[string][]domain.CartLine
	linesErr error
	clearErr error
	cleared  []string
}

func (s *stubCartRepo) Lines(_ context.Context, userID string) ([]domain.CartLine, error) {
	if s.linesErr != nil {
		return nil, s.linesErr
	}
	lines, ok := s.lines[userID]
	if !ok {
		return nil, fakeRepositoryError{notFound: true}
	}
	return lines, nil
}

func (s *stubCartRepo) Clear(_ context.Context, userID string) error {
	s.cleared = append(s.cleared, userID)
	return s.clearErr
}

// memoryLineRepo is an in-memory OrderLineRepository honouring the Mutate contract.
type memoryLineRepo struct {
	mu    sync.Mutex
	lines map[string]domain.OrderLine

	// beforeMutate runs inside Mutate ahead of the mutation, simulating a concurrent writer.
	beforeMutate func(line *domain.OrderLine)
	mutateErr    error
	listErr      error
	writes       int
	marks        int
}

func newMemoryLineRepo(lines ...domain.OrderLine) *memoryLineRepo {
	repo := &memoryLineRepo{lines: make(map[string]domain.OrderLine)}
	for _, line := range lines {
		repo.lines[line.SecretOrderID] = line
	}
	return repo
}

func (r *memoryLineRepo) FindBySecretID(_ context.Context, id string) (domain.OrderLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line, ok := r.lines[id]
	if !ok {
		return domain.OrderLine{}, fakeRepositoryError{notFound: true}
	}
	return cloneLine(line), nil
}

func (r *memoryLineRepo) Mutate(_ context.Context, id string, fn repositories.LineMutation) (domain.OrderLine, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mutateErr != nil {
		return domain.OrderLine{}, false, r.mutateErr
	}
	stored, ok := r.lines[id]
	if !ok {
		return domain.OrderLine{}, false, fakeRepositoryError{notFound: true}
	}
	if r.beforeMutate != nil {
		r.beforeMutate(&stored)
		r.lines[id] = stored
	}
	working := cloneLine(stored)
	changed, err := fn(&working)
	if err != nil {
		return domain.OrderLine{}, false, err
	}
	if !changed {
		return stored, false, nil
	}
	working.Version = stored.Version + 1
	r.lines[id] = working
	r.writes++
	return cloneLine(working), true, nil
}

func (r *memoryLineRepo) ListActive(_ context.Context, limit int) ([]domain.OrderLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	ids := make([]string, 0, len(r.lines))
	for id, line := range r.lines {
		if line.HasShipment() && !line.Status.IsTerminalProtected() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.lines[ids[i]].LastReconciledAt, r.lines[ids[j]].LastReconciledAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]domain.OrderLine, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneLine(r.lines[id]))
	}
	return out, nil
}

func (r *memoryLineRepo) MarkReconciled(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	line, ok := r.lines[id]
	if !ok {
		return fakeRepositoryError{notFound: true}
	}
	line.LastReconciledAt = at
	r.lines[id] = line
	r.marks++
	return nil
}

func (r *memoryLineRepo) get(id string) domain.OrderLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneLine(r.lines[id])
}

func cloneLine(line domain.OrderLine) domain.OrderLine {
	if line.TrackingHistory != nil {
		line.TrackingHistory = append([]domain.TrackingHistoryEntry(nil), line.TrackingHistory...)
	}
	return line
}

type stubTracking struct {
	mu        sync.Mutex
	snapshots map[string]domain.TrackingSnapshot
	err       error
	calls     int
}

func (s *stubTracking) FetchTracking(_ context.Context, shipmentID string) (domain.TrackingSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return domain.TrackingSnapshot{}, s.err
	}
	snapshot, ok := s.snapshots[shipmentID]
	if !ok {
		return domain.TrackingSnapshot{}, errors.New("unknown shipment")
	}
	return snapshot, nil
}

type stubLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newStubLocker() *stubLocker {
	return &stubLocker{held: make(map[string]bool)}
}

func (l *stubLocker) TryLock(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, true, nil
}

type captureEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (c *captureEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

type recordingMetrics struct {
	mu            sync.Mutex
	outcomes      []ReconcileOutcome
	terminalSkips []OrderLineStatus
	checkouts     []string
}

func (m *recordingMetrics) RecordReconcile(outcome ReconcileOutcome, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) RecordTerminalSkip(status OrderLineStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminalSkips = append(m.terminalSkips, status)
}

func (m *recordingMetrics) RecordCheckout(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkouts = append(m.checkouts, result)
}

type tagStripper struct{}

func (tagStripper) Sanitize(value string) string {
	out := make([]rune, 0, len(value))
	inTag := false
	for _, r := range value {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			out = append(out, r)
		}
	}
	return string(out)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func strPtr(v string) *string {
	return &v
}
