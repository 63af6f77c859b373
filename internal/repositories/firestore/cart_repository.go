package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/weave/storefront/internal/domain"
	pfirestore "github.com/weave/storefront/internal/platform/firestore"
	"github.com/weave/storefront/internal/repositories"
)

const cartsCollection = "carts"

// CartRepository reads the basket document kept per user. The cart itself is owned by the
// storefront; checkout only reads and clears it.
type CartRepository struct {
	carts *pfirestore.Collection[cartDocument]
	clock func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider, clock func() time.Time) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository: firestore provider is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &CartRepository{
		carts: pfirestore.NewCollection[cartDocument](provider, cartsCollection, nil),
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

// Lines returns the cart lines for userID. A missing cart reads as not found.
func (r *CartRepository) Lines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	userID = strings.TrimSpace(userID)
	doc, err := r.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return decodeCartLines(userID, doc)
}

// Clear empties the cart, leaving an empty document behind when none existed.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	ref, err := r.carts.Doc(ctx, strings.TrimSpace(userID))
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, map[string]any{
		"lines":     []cartLineDocument{},
		"updatedAt": r.clock(),
	}, firestore.MergeAll)
	return pfirestore.WrapError("carts.clear", err)
}
