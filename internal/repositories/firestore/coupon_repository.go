package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/weave/storefront/internal/domain"
	pfirestore "github.com/weave/storefront/internal/platform/firestore"
	"github.com/weave/storefront/internal/repositories"
)

const couponsCollection = "coupons"

// CouponRepository resolves coupons stored under their upper-cased code.
type CouponRepository struct {
	coupons *pfirestore.Collection[couponDocument]
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository: firestore provider is required")
	}
	return &CouponRepository{
		coupons: pfirestore.NewCollection(provider, couponsCollection, func(snap *firestore.DocumentSnapshot) (couponDocument, error) {
			var doc couponDocument
			if err := snap.DataTo(&doc); err != nil {
				return couponDocument{}, err
			}
			if doc.Code == "" {
				doc.Code = snap.Ref.ID
			}
			return doc, nil
		}),
	}, nil
}

// FindByCode returns the policy for code. Disabled coupons read as not found.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.DiscountPolicy, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	doc, err := r.coupons.Get(ctx, code)
	if err != nil {
		return domain.DiscountPolicy{}, err
	}
	if doc.Disabled {
		return domain.DiscountPolicy{}, pfirestore.NotFound("coupons.get", "coupon "+code)
	}
	return decodeCoupon(doc)
}
