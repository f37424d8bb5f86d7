package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/archive"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/progress"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/reconciler"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/source"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store"
)

var (
	// ErrAlreadyRunning is returned by TriggerRun while a run is active.
	ErrAlreadyRunning = errors.New("run already in progress")

	// ErrRunNotFound is returned for run ids that are unknown, or not the
	// active run where one is required.
	ErrRunNotFound = errors.New("run not found")

	// ErrUnknownSource is returned for source names that are not
	// registered or not enabled.
	ErrUnknownSource = source.ErrUnknownSource

	// ErrNoSources is returned when a run would have no sources.
	ErrNoSources = errors.New("no sources enabled")

	// ErrNotStarted is returned when the orchestrator is not running.
	ErrNotStarted = errors.New("orchestrator not started")
)

var (
	// errCancelled marks a source task stopped by cancellation. Such a
	// source keeps its committed counts and does not count as failed.
	errCancelled = errors.New("cancelled")

	errNoReport = errors.New("source task did not report")
)

const (
	messageBuffer   = 64
	finalizeTimeout = 30 * time.Second
)

// Config holds the scheduling settings, read once at startup.
type Config struct {
	SchedulerEnabled bool
	Interval         time.Duration
	RunOnStart       bool
}

// RunRequest selects what a run ingests.
type RunRequest struct {
	// Sources to ingest. Empty means every enabled source.
	Sources []string
	Trigger string
}

// Orchestrator runs ingestion over the configured sources, one run at a
// time.
type Orchestrator interface {
	Start(ctx context.Context) error
	Stop() error

	// TriggerRun starts a run in the background and returns its id.
	TriggerRun(ctx context.Context, req RunRequest) (string, error)

	// CancelRun asks the active run to stop between records.
	CancelRun(runID string) error

	// GetStatus returns a run's record. An empty runID selects the active
	// run, or else the most recent one.
	GetStatus(ctx context.Context, runID string) (*store.RunRecord, error)

	// State returns the current state.
	State() State

	// Done returns a channel that is closed once the run is finalized.
	Done(ctx context.Context, runID string) (<-chan struct{}, error)
}

// Compile-time interface check.
var _ Orchestrator = (*orchestrator)(nil)

type orchestrator struct {
	log        logrus.FieldLogger
	cfg        Config
	registry   source.Registry
	store      store.Store
	reconciler reconciler.Reconciler
	publisher  progress.Publisher
	archiver   archive.Archiver
	now        func() time.Time

	mu         sync.Mutex
	state      State
	started    bool
	active     *run
	baseCtx    context.Context
	baseCancel context.CancelFunc
	done       chan struct{}
	wg         sync.WaitGroup
}

// run is the in-flight state of one run. record is owned by the
// aggregator goroutine; readers use snapshot.
type run struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	record    *store.RunRecord
	snapshot  atomic.Pointer[store.RunRecord]
	msgs      chan message
	done      chan struct{}
	cancelled atomic.Bool
}

// NewOrchestrator creates a new Orchestrator. A nil archiver discards run
// reports.
func NewOrchestrator(
	log logrus.FieldLogger,
	cfg Config,
	registry source.Registry,
	st store.Store,
	rec reconciler.Reconciler,
	publisher progress.Publisher,
	archiver archive.Archiver,
) Orchestrator {
	if archiver == nil {
		archiver = archive.NewNoopArchiver()
	}

	return &orchestrator{
		log:        log.WithField("component", "orchestrator"),
		cfg:        cfg,
		registry:   registry,
		store:      st,
		reconciler: rec,
		publisher:  publisher,
		archiver:   archiver,
		now:        time.Now,
		state:      StateIdle,
	}
}

// Start enables run triggering and launches the scheduler when it is
// enabled.
func (o *orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return nil
	}

	if o.cfg.SchedulerEnabled && o.cfg.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}

	o.baseCtx, o.baseCancel = context.WithCancel(context.Background())
	o.done = make(chan struct{})
	o.started = true

	if !o.cfg.SchedulerEnabled {
		return nil
	}

	o.log.WithFields(logrus.Fields{
		"interval":     o.cfg.Interval.String(),
		"run_on_start": o.cfg.RunOnStart,
	}).Info("Starting scheduler")

	o.wg.Add(1)

	go func() {
		defer o.wg.Done()

		if o.cfg.RunOnStart {
			o.scheduledRun(ctx)
		}

		ticker := time.NewTicker(o.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				o.scheduledRun(ctx)
			case <-o.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop cancels the active run, if any, and waits for it to be finalized.
func (o *orchestrator) Stop() error {
	o.mu.Lock()

	if !o.started {
		o.mu.Unlock()

		return nil
	}

	o.started = false

	if o.active != nil {
		o.active.cancelled.Store(true)
	}

	close(o.done)
	o.baseCancel()
	o.mu.Unlock()

	o.wg.Wait()

	o.log.Info("Orchestrator stopped")

	return nil
}

func (o *orchestrator) scheduledRun(ctx context.Context) {
	id, err := o.TriggerRun(ctx, RunRequest{Trigger: store.TriggerSchedule})

	switch {
	case errors.Is(err, ErrAlreadyRunning):
		o.log.Debug("Run in progress, skipping scheduled run")
	case errors.Is(err, ErrNotStarted):
	case err != nil:
		o.log.WithError(err).Warn("Scheduled run failed to start")
	default:
		o.log.WithField("run_id", id).Info("Scheduled run started")
	}
}

// TriggerRun implements Orchestrator. The running state is reserved under
// the lock; the run record is inserted outside it.
func (o *orchestrator) TriggerRun(ctx context.Context, req RunRequest) (string, error) {
	r, adapters, err := o.reserveRun(req)
	if err != nil {
		return "", err
	}

	if err := o.store.BeginRunRecord(ctx, r.record); err != nil {
		o.releaseRun(r)

		return "", fmt.Errorf("creating run record: %w", err)
	}

	o.log.WithFields(logrus.Fields{
		"run_id":  r.id,
		"trigger": r.record.Trigger,
		"sources": len(adapters),
	}).Info("Run started")

	o.publisher.Publish(progress.Event{
		Type:      progress.EventRunStarted,
		RunID:     r.id,
		Status:    string(store.RunRunning),
		Timestamp: r.record.StartedAt,
	})

	go func() {
		defer o.wg.Done()

		o.execute(r, adapters)
	}()

	return r.id, nil
}

// reserveRun moves the orchestrator to running and registers the new run
// as active. The caller owns one o.wg slot on success.
func (o *orchestrator) reserveRun(req RunRequest) (*run, []source.Adapter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.started {
		return nil, nil, ErrNotStarted
	}

	if o.state != StateIdle {
		return nil, nil, ErrAlreadyRunning
	}

	adapters, err := o.resolveSources(req.Sources)
	if err != nil {
		return nil, nil, err
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = store.TriggerManual
	}

	record := &store.RunRecord{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    store.RunRunning,
		StartedAt: o.now().UTC(),
		Sources:   make([]store.RunSource, 0, len(adapters)),
	}

	for _, a := range adapters {
		record.Sources = append(record.Sources, store.RunSource{
			Source: a.Name(),
			Status: store.SourcePending,
		})
	}

	runCtx, cancel := context.WithCancel(o.baseCtx)

	r := &run{
		id:     record.ID,
		ctx:    runCtx,
		cancel: cancel,
		record: record,
		msgs:   make(chan message, messageBuffer),
		done:   make(chan struct{}),
	}
	r.snapshot.Store(record.Clone())

	o.transition(StateRunning)
	o.active = r
	o.wg.Add(1)

	return r, adapters, nil
}

// releaseRun undoes reserveRun when the run record could not be created.
func (o *orchestrator) releaseRun(r *run) {
	o.mu.Lock()
	if o.active == r {
		o.active = nil
	}

	// The run never started, so the transition table does not apply.
	o.state = StateIdle
	o.mu.Unlock()

	r.cancel()
	close(r.done)
	o.wg.Done()
}

// resolveSources maps names onto enabled adapters. Duplicates are ignored.
func (o *orchestrator) resolveSources(names []string) ([]source.Adapter, error) {
	enabled := o.registry.Enabled()

	if len(names) == 0 {
		names = enabled
	}

	if len(names) == 0 {
		return nil, ErrNoSources
	}

	enabledSet := make(map[string]struct{}, len(enabled))
	for _, name := range enabled {
		enabledSet[name] = struct{}{}
	}

	seen := make(map[string]struct{}, len(names))
	adapters := make([]source.Adapter, 0, len(names))

	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}

		seen[name] = struct{}{}

		if _, ok := enabledSet[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
		}

		a, err := o.registry.Get(name)
		if err != nil {
			return nil, err
		}

		adapters = append(adapters, a)
	}

	return adapters, nil
}

// CancelRun implements Orchestrator.
func (o *orchestrator) CancelRun(runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active == nil || o.active.id != runID {
		return ErrRunNotFound
	}

	if !o.active.cancelled.Swap(true) {
		o.log.WithField("run_id", runID).Info("Cancelling run")
	}

	o.active.cancel()

	return nil
}

// GetStatus implements Orchestrator.
func (o *orchestrator) GetStatus(ctx context.Context, runID string) (*store.RunRecord, error) {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()

	if active != nil && (runID == "" || runID == active.id) {
		return active.snapshot.Load().Clone(), nil
	}

	var (
		record *store.RunRecord
		err    error
	)

	if runID == "" {
		record, err = o.store.LatestRunRecord(ctx)
	} else {
		record, err = o.store.GetRunRecord(ctx, runID)
	}

	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRunNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}

	return record, nil
}

// State implements Orchestrator.
func (o *orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.state
}

// Done implements Orchestrator. Finished runs return a closed channel.
func (o *orchestrator) Done(ctx context.Context, runID string) (<-chan struct{}, error) {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()

	if active != nil && active.id == runID {
		return active.done, nil
	}

	if _, err := o.store.GetRunRecord(ctx, runID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRunNotFound
		}

		return nil, fmt.Errorf("loading run: %w", err)
	}

	closed := make(chan struct{})
	close(closed)

	return closed, nil
}

// transition moves the state machine. Callers hold o.mu.
func (o *orchestrator) transition(to State) {
	if !isAllowedTransition(o.state, to) {
		o.log.WithFields(logrus.Fields{
			"from": o.state,
			"to":   to,
		}).Error("Illegal state transition")

		return
	}

	o.state = to
}

// execute fans out one task per source and finalizes the run once all
// of them have reported.
func (o *orchestrator) execute(r *run, adapters []source.Adapter) {
	defer close(r.done)
	defer r.cancel()

	aggregated := make(chan struct{})

	go func() {
		defer close(aggregated)

		o.aggregate(r)
	}()

	var g errgroup.Group

	for _, a := range adapters {
		g.Go(func() error {
			o.runSource(r, a)

			return nil
		})
	}

	_ = g.Wait()

	close(r.msgs)
	<-aggregated

	o.finalize(r)
}

// finalize persists the terminal record, returns the state machine to
// idle, announces completion and archives the report.
func (o *orchestrator) finalize(r *run) {
	now := o.now().UTC()
	record := r.record

	for i := range record.Sources {
		src := &record.Sources[i]
		if src.Status == store.SourceSucceeded || src.Status == store.SourceFailed {
			continue
		}

		src.Status = store.SourceSucceeded
		if !r.cancelled.Load() {
			src.Status = store.SourceFailed
			src.Error = appendError(src.Error, errNoReport.Error())
		}

		src.EndedAt = &now
	}

	record.Cancelled = r.cancelled.Load()
	record.Status = overallStatus(record)
	record.EndedAt = &now

	r.snapshot.Store(record.Clone())

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	log := o.log.WithFields(logrus.Fields{
		"run_id":    r.id,
		"status":    record.Status,
		"cancelled": record.Cancelled,
		"duration":  now.Sub(record.StartedAt).Round(time.Millisecond),
	})

	if err := o.store.FinalizeRunRecord(ctx, record); err != nil {
		log.WithError(err).Error("Failed to finalize run record")
	}

	o.mu.Lock()
	o.transition(stateForStatus(record.Status))
	o.active = nil
	o.transition(StateIdle)
	o.mu.Unlock()

	totals := record.Totals()

	o.publisher.Publish(progress.Event{
		Type:           progress.EventRunCompleted,
		RunID:          r.id,
		ProgressCounts: &totals,
		Status:         string(record.Status),
		Timestamp:      now,
	})

	log.WithFields(logrus.Fields{
		"found":     totals.Found,
		"new":       totals.New,
		"updated":   totals.Updated,
		"unchanged": totals.Unchanged,
		"rejected":  totals.Rejected,
	}).Info("Run finished")

	if err := o.archiver.Archive(ctx, record.Clone()); err != nil {
		log.WithError(err).Warn("Failed to archive run report")
	}
}
