package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/catalog"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store"
)

// Classification is the outcome of reconciling one record.
type Classification string

const (
	// New means no product existed for the (sku, source) key.
	New Classification = "new"
	// Updated means price or stock differed from the stored product.
	Updated Classification = "updated"
	// Unchanged means price and stock matched the stored product.
	Unchanged Classification = "unchanged"
	// Rejected is never returned by Reconcile; the orchestrator uses it for
	// items that failed parsing or validation.
	Rejected Classification = "rejected"
)

// PersistenceError wraps a store failure for one record. It is fatal to
// the source that produced the record.
type PersistenceError struct {
	SKU    string
	Source string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s/%s: %v", e.Source, e.SKU, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Reconciler applies normalized records to the product catalog and its
// stock history.
type Reconciler interface {
	// Reconcile stores rec and appends a stock snapshot tagged with runID.
	// The product write and the snapshot commit together or not at all.
	Reconcile(ctx context.Context, runID string, rec *catalog.Record) (Classification, error)
}

// Compile-time interface check.
var _ Reconciler = (*reconciler)(nil)

type reconciler struct {
	log   logrus.FieldLogger
	store store.Store
	now   func() time.Time
}

// NewReconciler creates a Reconciler writing through st.
func NewReconciler(log logrus.FieldLogger, st store.Store) Reconciler {
	return &reconciler{
		log:   log.WithField("component", "reconciler"),
		store: st,
		now:   time.Now,
	}
}

// Reconcile implements Reconciler.
func (r *reconciler) Reconcile(
	ctx context.Context, runID string, rec *catalog.Record,
) (Classification, error) {
	now := r.now().UTC()

	var class Classification

	err := r.store.InTx(ctx, func(q store.Querier) error {
		existing, err := q.GetProduct(ctx, rec.SKU, rec.Source)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if existing == nil {
			p := &store.Product{CreatedAt: now}
			applyRecord(p, rec, now)

			if err := q.UpsertProduct(ctx, p); err != nil {
				return err
			}

			class = New

			return q.InsertSnapshot(ctx, snapshotOf(p, runID, now))
		}

		recordedAt := now

		last, ok, err := q.LatestSnapshotTime(ctx, existing.ID)
		if err != nil {
			return err
		}

		if ok && last.After(recordedAt) {
			recordedAt = last
		}

		if trackedFieldsChanged(existing, rec) {
			class = Updated
		} else {
			class = Unchanged
		}

		applyRecord(existing, rec, now)

		if err := q.UpsertProduct(ctx, existing); err != nil {
			return err
		}

		return q.InsertSnapshot(ctx, snapshotOf(existing, runID, recordedAt))
	})
	if err != nil {
		return "", &PersistenceError{SKU: rec.SKU, Source: rec.Source, Err: err}
	}

	r.log.WithFields(logrus.Fields{
		"source":         rec.Source,
		"sku":            rec.SKU,
		"classification": class,
	}).Trace("Reconciled record")

	return class, nil
}

// trackedFieldsChanged compares the fields that drive classification.
// Prices compare by decimal value, so 150 equals 150.00.
func trackedFieldsChanged(p *store.Product, rec *catalog.Record) bool {
	if !p.PriceIncVAT.Equal(rec.PriceIncVAT) || !p.PriceExVAT.Equal(rec.PriceExVAT) {
		return true
	}

	if p.StockStatus != rec.StockStatus {
		return true
	}

	return !sameQuantity(p.StockQuantity, rec.StockQuantity)
}

func sameQuantity(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return *a == *b
}

// applyRecord copies every mutable field from rec onto p and advances
// last_updated. Descriptive fields follow the source even when the
// classification is unchanged.
func applyRecord(p *store.Product, rec *catalog.Record, now time.Time) {
	p.SKU = rec.SKU
	p.Source = rec.Source
	p.Name = rec.Name
	p.Category = rec.Category
	p.PriceIncVAT = rec.PriceIncVAT
	p.PriceExVAT = rec.PriceExVAT
	p.StockStatus = rec.StockStatus
	p.StockQuantity = copyQuantity(rec.StockQuantity)
	p.Brand = rec.Brand
	p.Description = rec.Description
	p.URL = rec.URL
	p.LastUpdated = now

	if rec.Metadata != nil {
		p.Metadata = datatypes.JSONMap(rec.Metadata)
	}
}

func snapshotOf(p *store.Product, runID string, at time.Time) *store.StockSnapshot {
	return &store.StockSnapshot{
		ProductID:     p.ID,
		SKU:           p.SKU,
		Source:        p.Source,
		RunID:         runID,
		PriceIncVAT:   p.PriceIncVAT,
		PriceExVAT:    p.PriceExVAT,
		StockStatus:   p.StockStatus,
		StockQuantity: copyQuantity(p.StockQuantity),
		RecordedAt:    at,
	}
}

func copyQuantity(q *int) *int {
	if q == nil {
		return nil
	}

	v := *q

	return &v
}
