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

const (
	ordersCollection     = "orders"
	orderLinesCollection = "orderLines"
)

// OrderRepository persists order headers with their lines stored as sibling documents keyed by
// secret order id.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	lines    *pfirestore.Collection[domain.OrderLine]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection, nil),
		lines:    newOrderLineCollection(provider),
	}, nil
}

// Create writes the header and every line in one transaction. tx.Create fails with AlreadyExists
// for a duplicate id, which surfaces as a conflict.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return pfirestore.WrapError("orders.create", errors.New("order id is required"))
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.Doc(ctx, orderID)
		if err != nil {
			return err
		}
		if err := tx.Create(orderRef, encodeOrder(order)); err != nil {
			return pfirestore.WrapError("orders.create", err)
		}
		for _, line := range order.Lines {
			lineRef, err := r.lines.Doc(ctx, line.SecretOrderID)
			if err != nil {
				return err
			}
			if err := tx.Create(lineRef, encodeOrderLine(line)); err != nil {
				return pfirestore.WrapError("orderLines.create", err)
			}
		}
		return nil
	})
}

// FindByID loads the header and fetches its lines in one batched read.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	lines := make([]domain.OrderLine, 0, len(doc.LineIDs))
	if len(doc.LineIDs) > 0 {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return domain.Order{}, err
		}
		refs := make([]*firestore.DocumentRef, 0, len(doc.LineIDs))
		for _, id := range doc.LineIDs {
			ref, err := r.lines.Doc(ctx, id)
			if err != nil {
				return domain.Order{}, err
			}
			refs = append(refs, ref)
		}
		snaps, err := client.GetAll(ctx, refs)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orderLines.getAll", err)
		}
		for _, snap := range snaps {
			if !snap.Exists() {
				continue
			}
			line, err := r.lines.Decode(snap)
			if err != nil {
				return domain.Order{}, err
			}
			lines = append(lines, line)
		}
	}

	return decodeOrder(orderID, doc, lines)
}
