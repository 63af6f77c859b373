// Package locks provides the non-blocking per-key locks that keep one order line from being
// reconciled twice at the same time.
package locks

import (
	"context"
	"sync"

	"github.com/weave/storefront/internal/services"
)

// Memory is an in-process keyed lock. It only serialises callers inside one process; use Redis
// when several reconciler instances run at once.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ services.LineLocker = (*Memory)(nil)

// NewMemory returns an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

// TryLock claims key without waiting. The returned unlock is idempotent.
func (m *Memory) TryLock(ctx context.Context, key string) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[key]; busy {
		return nil, false, nil
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, true, nil
}
