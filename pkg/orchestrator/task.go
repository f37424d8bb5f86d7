package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/catalog"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/reconciler"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/source"
)

// runSource ingests one source in yield order: parse, normalize,
// reconcile. Cancellation is observed between records, never inside one.
func (o *orchestrator) runSource(r *run, a source.Adapter) {
	name := a.Name()
	log := o.log.WithFields(logrus.Fields{
		"run_id": r.id,
		"source": name,
	})

	r.msgs <- message{kind: msgSourceStarted, source: name, at: o.now().UTC()}

	err := o.ingest(r, a, log)

	switch {
	case err == nil:
		log.Info("Source completed")
	case errors.Is(err, errCancelled):
		log.Info("Source cancelled")
	default:
		log.WithError(err).Warn("Source failed")
	}

	r.msgs <- message{kind: msgSourceFinished, source: name, err: err, at: o.now().UTC()}
}

func (o *orchestrator) ingest(r *run, a source.Adapter, log logrus.FieldLogger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", p).Error("Source task panicked")

			err = fmt.Errorf("source task panicked: %v", p)
		}
	}()

	name := a.Name()

	// Records in flight finish even when the run is cancelled.
	persistCtx := context.WithoutCancel(r.ctx)

	for raw, fetchErr := range a.Fetch(r.ctx) {
		if fetchErr != nil {
			if r.ctx.Err() != nil {
				break
			}

			if errors.Is(fetchErr, source.ErrSourceUnavailable) {
				return fetchErr
			}

			log.WithError(fetchErr).Warn("Skipping page")

			r.msgs <- message{kind: msgPageError, source: name, err: fetchErr, at: o.now().UTC()}

			continue
		}

		if r.ctx.Err() != nil {
			break
		}

		class, err := o.processItem(persistCtx, r.id, a, raw)
		if err != nil {
			var persistErr *reconciler.PersistenceError
			if errors.As(err, &persistErr) {
				return err
			}

			log.WithError(err).WithField("ref", raw.Ref).Debug("Item rejected")
		}

		r.msgs <- message{kind: msgItem, source: name, classification: class, at: o.now().UTC()}
	}

	if r.ctx.Err() != nil {
		return errCancelled
	}

	return nil
}

// processItem returns reconciler.Rejected together with the parse or
// validation error for items that never reach the store.
func (o *orchestrator) processItem(
	ctx context.Context, runID string, a source.Adapter, raw source.RawItem,
) (reconciler.Classification, error) {
	candidate, err := a.Parse(raw)
	if err != nil {
		return reconciler.Rejected, err
	}

	if candidate.Source == "" {
		candidate.Source = a.Name()
	}

	rec, err := catalog.Normalize(candidate)
	if err != nil {
		return reconciler.Rejected, err
	}

	return o.reconciler.Reconcile(ctx, runID, rec)
}
