package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/progress"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/reconciler"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store"
)

type messageKind int

const (
	msgSourceStarted messageKind = iota
	msgItem
	msgPageError
	msgSourceFinished
)

// message is sent by source tasks to the aggregator, which is the only
// writer of the run's RunRecord.
type message struct {
	kind           messageKind
	source         string
	classification reconciler.Classification
	err            error
	at             time.Time
}

// aggregate consumes messages until the channel is closed.
func (o *orchestrator) aggregate(r *run) {
	for msg := range r.msgs {
		src := r.record.Source(msg.source)
		if src == nil {
			o.log.WithField("source", msg.source).Error("Message for unknown source")

			continue
		}

		delta := store.RunDelta{RunID: r.id, Source: msg.source}

		switch msg.kind {
		case msgSourceStarted:
			src.Status = store.SourceRunning
			src.StartedAt = &msg.at
			delta.Status, delta.StartedAt = src.Status, src.StartedAt

		case msgItem:
			counts := countsFor(msg.classification)
			src.Counts = src.Counts.Add(counts)
			delta.Counts = counts

		case msgPageError:
			src.Error = appendError(src.Error, msg.err.Error())
			delta.Error = src.Error

		case msgSourceFinished:
			src.EndedAt = &msg.at
			src.Status = store.SourceSucceeded

			// A cancelled source keeps what it committed and is not a failure.
			if msg.err != nil && !errors.Is(msg.err, errCancelled) {
				src.Status = store.SourceFailed
				src.Error = appendError(src.Error, msg.err.Error())
			}

			delta.Status, delta.EndedAt, delta.Error = src.Status, src.EndedAt, src.Error
		}

		r.snapshot.Store(r.record.Clone())

		if err := o.store.UpdateRunRecord(context.Background(), delta); err != nil {
			o.log.WithError(err).WithFields(logrus.Fields{
				"run_id": r.id,
				"source": msg.source,
			}).Warn("Failed to persist run progress")
		}

		o.publishFor(r, msg, src)
	}
}

func (o *orchestrator) publishFor(r *run, msg message, src *store.RunSource) {
	counts := src.Counts

	switch msg.kind {
	case msgItem:
		o.publisher.Publish(progress.Event{
			Type:           progress.EventItemProcessed,
			RunID:          r.id,
			Source:         msg.source,
			Classification: string(msg.classification),
			ProgressCounts: &counts,
			Timestamp:      msg.at,
		})
	case msgSourceFinished:
		o.publisher.Publish(progress.Event{
			Type:           progress.EventSourceCompleted,
			RunID:          r.id,
			Source:         msg.source,
			ProgressCounts: &counts,
			Status:         string(src.Status),
			Error:          src.Error,
			Timestamp:      msg.at,
		})
	}
}

func countsFor(c reconciler.Classification) store.Counts {
	counts := store.Counts{Found: 1}

	switch c {
	case reconciler.New:
		counts.New = 1
	case reconciler.Updated:
		counts.Updated = 1
	case reconciler.Unchanged:
		counts.Unchanged = 1
	case reconciler.Rejected:
		counts.Rejected = 1
	}

	return counts
}

// appendError joins error summaries, bounded to the stored length.
func appendError(summary, msg string) string {
	if summary == "" {
		return store.TruncateError(msg)
	}

	if len(summary) >= store.MaxErrorSummaryLength {
		return summary
	}

	return store.TruncateError(strings.Join([]string{summary, msg}, "; "))
}
