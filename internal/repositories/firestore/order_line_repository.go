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

const defaultActiveLimit = 500

// OrderLineRepository reads and transactionally mutates order line documents.
//
// ListActive needs a composite index on orderLines(active ASC, lastReconciledAt ASC).
type OrderLineRepository struct {
	provider *pfirestore.Provider
	lines    *pfirestore.Collection[domain.OrderLine]
}

var _ repositories.OrderLineRepository = (*OrderLineRepository)(nil)

// NewOrderLineRepository constructs a Firestore-backed order line repository.
func NewOrderLineRepository(provider *pfirestore.Provider) (*OrderLineRepository, error) {
	if provider == nil {
		return nil, errors.New("order line repository: firestore provider is required")
	}
	return &OrderLineRepository{provider: provider, lines: newOrderLineCollection(provider)}, nil
}

func newOrderLineCollection(provider *pfirestore.Provider) *pfirestore.Collection[domain.OrderLine] {
	return pfirestore.NewCollection(provider, orderLinesCollection, func(snap *firestore.DocumentSnapshot) (domain.OrderLine, error) {
		var doc orderLineDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.OrderLine{}, err
		}
		if doc.SecretOrderID == "" {
			doc.SecretOrderID = snap.Ref.ID
		}
		return decodeOrderLine(doc)
	})
}

// FindBySecretID loads a single line.
func (r *OrderLineRepository) FindBySecretID(ctx context.Context, secretOrderID string) (domain.OrderLine, error) {
	return r.lines.Get(ctx, strings.TrimSpace(secretOrderID))
}

// Mutate reads the line inside a transaction, applies fn and writes the result back when fn
// reports a change. fn may run several times under contention.
func (r *OrderLineRepository) Mutate(ctx context.Context, secretOrderID string, fn repositories.LineMutation) (domain.OrderLine, bool, error) {
	if fn == nil {
		return domain.OrderLine{}, false, pfirestore.WrapError("orderLines.mutate", errors.New("mutation is required"))
	}
	id := strings.TrimSpace(secretOrderID)

	var (
		result  domain.OrderLine
		changed bool
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = false
		line, ref, err := r.lines.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		ok, err := fn(&line)
		if err != nil {
			return err
		}
		result = line
		if !ok {
			return nil
		}
		line.Version++
		if err := tx.Set(ref, encodeOrderLine(line)); err != nil {
			return pfirestore.WrapError("orderLines.set", err)
		}
		result = line
		changed = true
		return nil
	})
	if err != nil {
		return domain.OrderLine{}, false, err
	}
	return result, changed, nil
}

// ListActive returns the least recently polled lines that still await carrier updates.
func (r *OrderLineRepository) ListActive(ctx context.Context, limit int) ([]domain.OrderLine, error) {
	if limit <= 0 {
		limit = defaultActiveLimit
	}
	return r.lines.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("active", "==", true).OrderBy("lastReconciledAt", firestore.Asc).Limit(limit)
	})
}

// MarkReconciled stamps the poll time without touching status or version.
func (r *OrderLineRepository) MarkReconciled(ctx context.Context, secretOrderID string, at time.Time) error {
	ref, err := r.lines.Doc(ctx, strings.TrimSpace(secretOrderID))
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, []firestore.Update{{Path: "lastReconciledAt", Value: at.UTC()}})
	if err != nil {
		return pfirestore.WrapError("orderLines.markReconciled", err)
	}
	return nil
}
