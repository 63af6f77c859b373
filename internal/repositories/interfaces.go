package repositories

import (
	"context"
	"time"

	domain "github.com/weave/storefront/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	OrderLines() OrderLineRepository
	Coupons() CouponRepository
	Carts() CartRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order aggregates.
type OrderRepository interface {
	// Create stores the order header and every line in one transaction. Either all documents are
	// written or none are.
	Create(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
}

// LineMutation inspects the freshly read line inside a transaction and edits it in place.
// Returning false leaves the stored document untouched.
type LineMutation func(line *domain.OrderLine) (bool, error)

// OrderLineRepository provides keyed access to order lines by their secret order id.
type OrderLineRepository interface {
	FindBySecretID(ctx context.Context, secretOrderID string) (domain.OrderLine, error)
	// Mutate performs an atomic read-modify-write of the line. The version is bumped when the
	// mutation reports a change.
	Mutate(ctx context.Context, secretOrderID string, fn LineMutation) (domain.OrderLine, bool, error)
	// ListActive returns lines that carry a shipment id and are not terminal-protected, least
	// recently polled first.
	ListActive(ctx context.Context, limit int) ([]domain.OrderLine, error)
	// MarkReconciled records a poll of the line so the next batch starts with lines not yet seen.
	MarkReconciled(ctx context.Context, secretOrderID string, at time.Time) error
}

// CouponRepository resolves coupon codes to discount policies.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.DiscountPolicy, error)
}

// CartRepository reads and clears a user's persisted cart lines.
type CartRepository interface {
	Lines(ctx context.Context, userID string) ([]domain.CartLine, error)
	Clear(ctx context.Context, userID string) error
}
