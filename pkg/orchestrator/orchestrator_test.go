package orchestrator

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/catalog"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/progress"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/reconciler"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/source"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store/storetest"
)

// fakeAdapter yields "sku|price|stock" bodies, then fatal if set. With a
// gate, each item waits for a token first.
type fakeAdapter struct {
	name  string
	items []string
	fatal error
	gate  chan struct{}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Kind() string { return "fake" }

func (f *fakeAdapter) Fetch(ctx context.Context) iter.Seq2[source.RawItem, error] {
	return func(yield func(source.RawItem, error) bool) {
		for i, body := range f.items {
			if f.gate != nil {
				select {
				case <-f.gate:
				case <-ctx.Done():
					return
				}
			}

			if !yield(source.RawItem{Source: f.name, Ref: body, Page: i/10 + 1, Body: []byte(body)}, nil) {
				return
			}
		}

		if f.fatal != nil {
			yield(source.RawItem{}, f.fatal)
		}
	}
}

func (f *fakeAdapter) Parse(raw source.RawItem) (catalog.Candidate, error) {
	parts := strings.Split(string(raw.Body), "|")
	if len(parts) != 3 {
		return catalog.Candidate{}, &source.ParseError{Source: f.name, Ref: raw.Ref, Reason: "malformed"}
	}

	return catalog.Candidate{
		SKU:         parts[0],
		Source:      f.name,
		Name:        "Product " + parts[0],
		PriceIncVAT: parts[1],
		StockStatus: catalog.StockStatus(parts[2]),
	}, nil
}

var errOffline = errors.New("catalog offline")

func unavailable() error {
	return errors.Join(source.ErrSourceUnavailable, errOffline)
}

type registered struct {
	adapter source.Adapter
	enabled bool
}

// failingReconciler fails every record of one source with a store error.
type failingReconciler struct {
	reconciler.Reconciler
	source string
}

var errDiskFull = errors.New("disk full")

func (f *failingReconciler) Reconcile(
	ctx context.Context, runID string, rec *catalog.Record,
) (reconciler.Classification, error) {
	if rec.Source == f.source {
		return "", &reconciler.PersistenceError{SKU: rec.SKU, Source: rec.Source, Err: errDiskFull}
	}

	return f.Reconciler.Reconcile(ctx, runID, rec)
}

// panickingAdapter panics while parsing.
type panickingAdapter struct {
	*fakeAdapter
}

func (p *panickingAdapter) Parse(source.RawItem) (catalog.Candidate, error) {
	panic("unexpected payload shape")
}

// failingBeginStore cannot create run records.
type failingBeginStore struct {
	store.Store
}

func (f *failingBeginStore) BeginRunRecord(context.Context, *store.RunRecord) error {
	return errDiskFull
}

func newTestOrchestrator(
	t *testing.T, cfg Config, adapters ...registered,
) (*orchestrator, store.Store, progress.Publisher) {
	t.Helper()

	st := storetest.New(t)
	log := storetest.Logger()

	registry := source.NewRegistry()
	for _, r := range adapters {
		registry.Register(r.adapter, r.enabled)
	}

	pub := progress.NewPublisher(log)

	o, ok := NewOrchestrator(
		log, cfg, registry, st, reconciler.NewReconciler(log, st), pub, nil,
	).(*orchestrator)
	require.True(t, ok)

	t.Cleanup(func() { _ = o.Stop() })

	return o, st, pub
}

func setup(t *testing.T, cfg Config, adapters ...registered) (*orchestrator, store.Store, progress.Publisher) {
	t.Helper()

	o, st, pub := newTestOrchestrator(t, cfg, adapters...)
	require.NoError(t, o.Start(context.Background()))

	return o, st, pub
}

func enabled(a source.Adapter) registered {
	return registered{adapter: a, enabled: true}
}

func waitDone(t *testing.T, o Orchestrator, runID string) *store.RunRecord {
	t.Helper()

	done, err := o.Done(context.Background(), runID)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}

	record, err := o.GetStatus(context.Background(), runID)
	require.NoError(t, err)

	return record
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	o, st, _ := setup(t, Config{},
		enabled(&fakeAdapter{name: "a", items: []string{"A1|10.00|InStock", "A2|20.00|OutOfStock", "A3|30.00|LowStock"}}),
		enabled(&fakeAdapter{name: "b", items: []string{"B1|15.00|InStock"}, fatal: unavailable()}),
		enabled(&fakeAdapter{name: "c", fatal: unavailable()}),
	)

	id, err := o.TriggerRun(context.Background(), RunRequest{})
	require.NoError(t, err)

	record := waitDone(t, o, id)

	assert.Equal(t, store.RunCompletedWithErrors, record.Status)
	assert.False(t, record.Cancelled)
	require.NotNil(t, record.EndedAt)

	a := record.Source("a")
	require.NotNil(t, a)
	assert.Equal(t, store.SourceSucceeded, a.Status)
	assert.Equal(t, store.Counts{Found: 3, New: 3}, a.Counts)

	b := record.Source("b")
	require.NotNil(t, b)
	assert.Equal(t, store.SourceFailed, b.Status)
	assert.Equal(t, 1, b.Found)
	assert.Contains(t, b.Error, "catalog offline")

	c := record.Source("c")
	require.NotNil(t, c)
	assert.Equal(t, store.SourceFailed, c.Status)
	assert.Zero(t, c.Found)

	// Committed records of the failed source remain.
	_, err = st.GetProduct(context.Background(), "B1", "b")
	require.NoError(t, err)

	products, total, err := st.ListProducts(context.Background(), store.ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, products, 4)
	assert.Equal(t, int64(4), total)

	assert.Equal(t, StateIdle, o.State())
}

func TestRun_OneSourceFailsOthersSucceed(t *testing.T) {
	o, _, _ := setup(t, Config{},
		enabled(&fakeAdapter{name: "a", items: []string{"A1|10.00|InStock"}}),
		enabled(&fakeAdapter{name: "b", fatal: unavailable()}),
		enabled(&fakeAdapter{name: "c", items: []string{"C1|10.00|InStock", "C2|11.00|InStock"}}),
	)

	id, err := o.TriggerRun(context.Background(), RunRequest{})
	require.NoError(t, err)

	record := waitDone(t, o, id)
	assert.Equal(t, store.RunCompletedWithErrors, record.Status)

	statuses := make(map[string]store.SourceStatus, len(record.Sources))
	for _, src := range record.Sources {
		statuses[src.Source] = src.Status
	}

	assert.Equal(t, map[string]store.SourceStatus{
		"a": store.SourceSucceeded,
		"b": store.SourceFailed,
		"c": store.SourceSucceeded,
	}, statuses)
	assert.Equal(t, 1, record.Source("a").Found)
	assert.Equal(t, 2, record.Source("c").Found)
}

func TestRun_PersistenceErrorAbortsOnlyThatSource(t *testing.T) {
	o, st, _ := setup(t, Config{},
		enabled(&fakeAdapter{name: "a", items: []string{"A1|10.00|InStock", "A2|20.00|InStock"}}),
		enabled(&fakeAdapter{name: "b", items: []string{"B1|10.00|InStock", "B2|20.00|InStock"}}),
	)
	o.reconciler = &failingReconciler{Reconciler: o.reconciler, source: "b"}

	id, err := o.TriggerRun(context.Background(), RunRequest{})
	require.NoError(t, err)

	record := waitDone(t, o, id)
	assert.Equal(t, store.RunCompletedWithErrors, record.Status)

	a := record.Source("a")
	require.NotNil(t, a)
	assert.Equal(t, store.SourceSucceeded, a.Status)
	assert.Equal(t, store.Counts{Found: 2, New: 2}, a.Counts)

	b := record.Source("b")
	require.NotNil(t, b)
	assert.Equal(t, store.SourceFailed, b.Status)
	assert.Contains(t, b.Error, "disk full")
	assert.Zero(t, b.Found)

	// The source stopped at its first failing record.
	_, err = st.GetProduct(context.Background(), "B2", "b")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.GetProduct(context.Background(), "A2", "a")
	require.NoError(t, err)
}

func TestRun_PanickingSourceIsContained(t *testing.T) {
	o, _, _ := setup(t, Config{},
		enabled(&panickingAdapter{&fakeAdapter{name: "broken", items: []string{"X1|1.00|InStock"}}}),
		enabled(&fakeAdapter{name: "a", items: []string{"A1|1.00|InStock"}}),
	)

	id, err := o.TriggerRun(context.Background(), RunRequest{})
	require.NoError(t, err)

	record := waitDone(t, o, id)
	assert.Equal(t, store.RunCompletedWithErrors, record.Status)

	broken := record.Source("broken")
	require.NotNil(t, broken)
	assert.Equal(t, store.SourceFailed, broken.Status)
	assert.Contains(t, broken.Error, "panicked")
	assert.Contains(t, broken.Error, "unexpected payload shape")

	a := record.Source("a")
	require.NotNil(t, a)
	assert.Equal(t, store.SourceSucceeded, a.Status)
	assert.Equal(t, 1, a.New)

	assert.Equal(t, StateIdle, o.State())
}

func TestRun_StatusRules(t *testing.T) {
	t.Run("all sources fail before any record", func(t *testing.T) {
		o, _, _ := setup(t, Config{},
			enabled(&fakeAdapter{name: "a", fatal: unavailable()}),
			enabled(&fakeAdapter{name: "b", fatal: unavailable()}),
		)

		id, err := o.TriggerRun(context.Background(), RunRequest{})
		require.NoError(t, err)

		assert.Equal(t, store.RunFailed, waitDone(t, o, id).Status)
	})

	t.Run("all sources succeed", func(t *testing.T) {
		o, _, _ := setup(t, Config{},
			enabled(&fakeAdapter{name: "a", items: []string{"A1|10.00|InStock"}}),
			enabled(&fakeAdapter{name: "b"}),
		)

		id, err := o.TriggerRun(context.Background(), RunRequest{})
		require.NoError(t, err)

		assert.Equal(t, store.RunCompleted, waitDone(t, o, id).Status)
	})
}

func TestRun_IdempotentReconciliation(t *testing.T) {
	adapter := &fakeAdapter{name: "a", items: []string{"A1|150.00|InStock", "A2|99.00|InStock"}}
	o, st, _ := setup(t, Config{}, enabled(adapter))

	first, err := o.TriggerRun(context.Background(), RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, store.Counts{Found: 2, New: 2}, waitDone(t, o, first).Totals())

	second, err := o.TriggerRun(context.Background(), RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, store.Counts{Found: 2, Unchanged: 2}, waitDone(t, o, second).Totals())

	adapter.items = []string{"A1|160.00|InStock", "A2|99.00|InStock"}

	third, err := o.TriggerRun(context.Background(), RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, store.Counts{Found: 2, Updated: 1, Unchanged: 1}, waitDone(t, o, third).Totals())

	p, err := st.GetProduct(context.Background(), "A1", "a")
	require.NoError(t, err)
	assert.Equal(t, "160", p.PriceIncVAT.String())

	snaps, err := st.ListSnapshots(context.Background(), p.ID, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, []string{first, second, third}, []string{snaps[0].RunID, snaps[1].RunID, snaps[2].RunID})
}

func TestRun_RejectedItems(t *testing.T) {
	o, st, _ := setup(t, Config{},
		enabled(&fakeAdapter{name: "a", items: []string{"A1|-5|InStock", "garbage", "A2|12.00|InStock"}}),
	)

	id, err := o.TriggerRun(context.Background(), RunRequest{})
	require.NoError(t, err)

	record := waitDone(t, o, id)
	assert.Equal(t, store.RunCompleted, record.Status)
	assert.Equal(t, store.Counts{Found: 3, New: 1, Rejected: 2}, record.Totals())

	_, err = st.GetProduct(context.Background(), "A1", "a")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTriggerRun_SingleFlightAndCancel(t *testing.T) {
	gate := make(chan struct{}, 3)
	gate <- struct{}{}

	o, st, _ := setup(t, Config{},
		enabled(&fakeAdapter{name: "slow", items: []string{"S1|1.00|InStock", "S2|2.00|InStock"}, gate: gate}),
	)

	id, err := o.TriggerRun(context.Background(), RunRequest{Trigger: store.TriggerCLI})
	require.NoError(t, err)
	assert.Equal(t, StateRunning, o.State())

	_, err = o.TriggerRun(context.Background(), RunRequest{})
	require.ErrorIs(t, err, ErrAlreadyRunning)

	runs, err := st.ListRunRecords(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	require.Eventually(t, func() bool {
		record, err := o.GetStatus(context.Background(), "")
		return err == nil && record.ID == id && record.Totals().Found == 1
	}, 5*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, o.CancelRun("some-other-run"), ErrRunNotFound)
	require.NoError(t, o.CancelRun(id))
	require.NoError(t, o.CancelRun(id))

	record := waitDone(t, o, id)
	assert.True(t, record.Cancelled)
	assert.Equal(t, store.TriggerCLI, record.Trigger)
	assert.Equal(t, store.RunCompleted, record.Status)

	slow := record.Source("slow")
	require.NotNil(t, slow)
	assert.Equal(t, store.SourceSucceeded, slow.Status)
	assert.Empty(t, slow.Error)
	assert.Equal(t, store.Counts{Found: 1, New: 1}, slow.Counts)

	assert.Equal(t, StateIdle, o.State())
	assert.ErrorIs(t, o.CancelRun(id), ErrRunNotFound)

	// A new run may start once the previous one finished.
	gate <- struct{}{}
	gate <- struct{}{}

	next, err := o.TriggerRun(context.Background(), RunRequest{})
	require.NoError(t, err)
	assert.NotEqual(t, id, next)
	waitDone(t, o, next)
}

func TestCancelRun_BeforeAnyRecord(t *testing.T) {
	gate := make(chan struct{})

	o, st, _ := setup(t, Config{},
		enabled(&fakeAdapter{name: "a", items: []string{"A1|1.00|InStock"}, gate: gate}),
		enabled(&fakeAdapter{name: "b", items: []string{"B1|1.00|InStock"}, gate: gate}),
	)

	id, err := o.TriggerRun(context.Background(), RunRequest{})
	require.NoError(t, err)
	require.NoError(t, o.CancelRun(id))

	record := waitDone(t, o, id)
	assert.True(t, record.Cancelled)
	assert.Equal(t, store.RunCompleted, record.Status)

	for _, src := range record.Sources {
		assert.Equal(t, store.SourceSucceeded, src.Status, src.Source)
		assert.Empty(t, src.Error, src.Source)
		assert.Zero(t, src.Found, src.Source)
	}

	stored, err := st.GetRunRecord(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, stored.Cancelled)
	assert.Equal(t, store.RunCompleted, stored.Status)
}

func TestTriggerRun_RecordInsertFailure(t *testing.T) {
	o, st, _ := setup(t, Config{}, enabled(&fakeAdapter{name: "a", items: []string{"A1|1.00|InStock"}}))
	o.store = &failingBeginStore{Store: st}

	_, err := o.TriggerRun(context.Background(), RunRequest{})
	require.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, StateIdle, o.State())

	_, err = o.GetStatus(context.Background(), "")
	require.ErrorIs(t, err, ErrRunNotFound)

	o.store = st

	id, err := o.TriggerRun(context.Background(), RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, waitDone(t, o, id).Status)
}

func TestStart_InvalidInterval(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Config{SchedulerEnabled: true},
		enabled(&fakeAdapter{name: "a"}),
	)

	require.Error(t, o.Start(context.Background()))

	_, err := o.TriggerRun(context.Background(), RunRequest{})
	require.ErrorIs(t, err, ErrNotStarted)

	// A failed start leaves nothing to stop.
	require.NoError(t, o.Stop())
}

func TestTriggerRun_SourceSelection(t *testing.T) {
	o, _, _ := setup(t, Config{},
		enabled(&fakeAdapter{name: "a", items: []string{"A1|1.00|InStock"}}),
		enabled(&fakeAdapter{name: "b", items: []string{"B1|1.00|InStock"}}),
		registered{adapter: &fakeAdapter{name: "off"}},
	)

	_, err := o.TriggerRun(context.Background(), RunRequest{Sources: []string{"a", "nope"}})
	require.ErrorIs(t, err, ErrUnknownSource)

	_, err = o.TriggerRun(context.Background(), RunRequest{Sources: []string{"off"}})
	require.ErrorIs(t, err, ErrUnknownSource)

	assert.Equal(t, StateIdle, o.State())

	id, err := o.TriggerRun(context.Background(), RunRequest{Sources: []string{"b", "b"}})
	require.NoError(t, err)

	record := waitDone(t, o, id)
	require.Len(t, record.Sources, 1)
	assert.Equal(t, "b", record.Sources[0].Source)
	assert.Equal(t, store.TriggerManual, record.Trigger)
}

func TestTriggerRun_NoSources(t *testing.T) {
	o, _, _ := setup(t, Config{}, registered{adapter: &fakeAdapter{name: "off"}})

	_, err := o.TriggerRun(context.Background(), RunRequest{})
	require.ErrorIs(t, err, ErrNoSources)
}

func TestTriggerRun_NotStarted(t *testing.T) {
	o, _, _ := setup(t, Config{}, enabled(&fakeAdapter{name: "a"}))
	require.NoError(t, o.Stop())

	_, err := o.TriggerRun(context.Background(), RunRequest{})
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestGetStatus(t *testing.T) {
	o, _, _ := setup(t, Config{}, enabled(&fakeAdapter{name: "a", items: []string{"A1|1.00|InStock"}}))

	_, err := o.GetStatus(context.Background(), "")
	require.ErrorIs(t, err, ErrRunNotFound)

	_, err = o.GetStatus(context.Background(), "missing")
	require.ErrorIs(t, err, ErrRunNotFound)

	_, err = o.Done(context.Background(), "missing")
	require.ErrorIs(t, err, ErrRunNotFound)

	id, err := o.TriggerRun(context.Background(), RunRequest{})
	require.NoError(t, err)
	waitDone(t, o, id)

	latest, err := o.GetStatus(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, id, latest.ID)
	assert.Equal(t, store.RunCompleted, latest.Status)
	assert.Equal(t, store.Counts{Found: 1, New: 1}, latest.Totals())

	// Done on a finished run is already closed.
	done, err := o.Done(context.Background(), id)
	require.NoError(t, err)

	select {
	case <-done:
	default:
		t.Fatal("done channel of a finished run is open")
	}
}

func TestRun_ProgressEvents(t *testing.T) {
	o, _, pub := setup(t, Config{},
		enabled(&fakeAdapter{name: "a", items: []string{"A1|1.00|InStock", "bad", "A2|2.00|InStock"}}),
		enabled(&fakeAdapter{name: "b", items: []string{"B1|1.00|InStock"}}),
	)

	sub, cancel := pub.Subscribe(100)
	defer cancel()

	id, err := o.TriggerRun(context.Background(), RunRequest{})
	require.NoError(t, err)

	var events []progress.Event

	timeout := time.After(10 * time.Second)

	for done := false; !done; {
		select {
		case ev := <-sub.C:
			events = append(events, ev)
			done = ev.Type == progress.EventRunCompleted
		case <-timeout:
			t.Fatal("run-completed not received")
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, progress.EventRunStarted, events[0].Type)

	last := events[len(events)-1]
	assert.Equal(t, id, last.RunID)
	assert.Equal(t, string(store.RunCompleted), last.Status)
	require.NotNil(t, last.ProgressCounts)
	assert.Equal(t, store.Counts{Found: 4, New: 3, Rejected: 1}, *last.ProgressCounts)

	var classes []string

	completedAt := -1

	for i, ev := range events {
		if ev.Source != "a" {
			continue
		}

		switch ev.Type {
		case progress.EventItemProcessed:
			assert.Equal(t, -1, completedAt, "item after source-completed")
			classes = append(classes, ev.Classification)
		case progress.EventSourceCompleted:
			completedAt = i
			assert.Equal(t, string(store.SourceSucceeded), ev.Status)
		}
	}

	assert.Equal(t, []string{"new", "rejected", "new"}, classes)
	assert.NotEqual(t, -1, completedAt)
}

func TestScheduler_SkipsWhileRunning(t *testing.T) {
	gate := make(chan struct{})

	o, st, _ := setup(t, Config{SchedulerEnabled: true, Interval: 10 * time.Millisecond, RunOnStart: true},
		enabled(&fakeAdapter{name: "slow", items: []string{"S1|1.00|InStock"}, gate: gate}),
	)

	require.Eventually(t, func() bool { return o.State() == StateRunning }, 5*time.Second, 5*time.Millisecond)

	// Several ticks pass while the first run is blocked.
	time.Sleep(100 * time.Millisecond)

	runs, err := st.ListRunRecords(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.TriggerSchedule, runs[0].Trigger)

	require.NoError(t, o.Stop())

	record, err := st.GetRunRecord(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.True(t, record.Cancelled)
	assert.True(t, record.Status.Terminal())
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name    string
		sources []store.RunSource
		want    store.RunStatus
	}{
		{
			name:    "all succeeded",
			sources: []store.RunSource{{Status: store.SourceSucceeded}, {Status: store.SourceSucceeded}},
			want:    store.RunCompleted,
		},
		{
			name:    "all failed empty",
			sources: []store.RunSource{{Status: store.SourceFailed}, {Status: store.SourceFailed}},
			want:    store.RunFailed,
		},
		{
			name: "failed after finding records",
			sources: []store.RunSource{
				{Status: store.SourceFailed, Counts: store.Counts{Found: 1}},
				{Status: store.SourceFailed},
			},
			want: store.RunCompletedWithErrors,
		},
		{
			name:    "mixed",
			sources: []store.RunSource{{Status: store.SourceSucceeded}, {Status: store.SourceFailed}},
			want:    store.RunCompletedWithErrors,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, overallStatus(&store.RunRecord{Sources: tt.sources}))
		})
	}
}

func TestIsAllowedTransition(t *testing.T) {
	tests := []struct {
		from, to State
		allowed  bool
	}{
		{StateIdle, StateRunning, true},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateFailed, true},
		{StateCompletedWithErrors, StateIdle, true},
		{StateIdle, StateCompleted, false},
		{StateRunning, StateRunning, false},
		{StateRunning, StateIdle, false},
		{StateFailed, StateRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, isAllowedTransition(tt.from, tt.to))
		})
	}
}

func TestAppendError(t *testing.T) {
	assert.Equal(t, "a", appendError("", "a"))
	assert.Equal(t, "a; b", appendError("a", "b"))

	long := strings.Repeat("x", store.MaxErrorSummaryLength)
	assert.Equal(t, long, appendError(long, "more"))
	assert.Len(t, appendError("a", long), store.MaxErrorSummaryLength)
}
