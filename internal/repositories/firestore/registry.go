package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/weave/storefront/internal/platform/firestore"
	"github.com/weave/storefront/internal/repositories"
)

// Registry wires every Firestore repository to one shared provider.
type Registry struct {
	provider   *pfirestore.Provider
	orders     *OrderRepository
	orderLines *OrderLineRepository
	coupons    *CouponRepository
	carts      *CartRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds all repositories. The registry owns provider and closes it on Close.
func NewRegistry(provider *pfirestore.Provider, clock func() time.Time) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry: firestore provider is required")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	lines, err := NewOrderLineRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider, clock)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:   provider,
		orders:     orders,
		orderLines: lines,
		coupons:    coupons,
		carts:      carts,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) OrderLines() repositories.OrderLineRepository { return r.orderLines }

func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

func (r *Registry) Carts() repositories.CartRepository { return r.carts }
