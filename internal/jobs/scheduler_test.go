package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ArCaneSec/watcher/internal/models"
	"github.com/ArCaneSec/watcher/internal/store"
	"github.com/ArCaneSec/watcher/internal/store/storetest"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	checks []models.ContentCheck
}

func (n *recordingNotifier) ContentChanged(_ context.Context, _ models.WatchTarget, check models.ContentCheck) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.checks = append(n.checks, check)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.checks)
}

// flakyStore fails AppendCheck for one target and ListTargets on demand.
type flakyStore struct {
	store.Store
	failAppendFor uint
	failList      atomic.Bool
}

var errDBDown = errors.New("db down")

func (f *flakyStore) ListTargets(ctx context.Context, filter store.TargetFilter) ([]models.WatchTarget, error) {
	if f.failList.Load() {
		return nil, errDBDown
	}
	return f.Store.ListTargets(ctx, filter)
}

func (f *flakyStore) AppendCheck(ctx context.Context, check *models.ContentCheck) error {
	if check.TargetID == f.failAppendFor {
		return errDBDown
	}
	return f.Store.AppendCheck(ctx, check)
}

func newTestScheduler(t *testing.T, st store.Store, clock clockwork.Clock, opts ...Option) *Scheduler {
	t.Helper()

	opts = append([]Option{
		WithClock(clock),
		WithPoller(NewPoller(WithPollTimeout(2 * time.Second))),
	}, opts...)

	s, err := NewScheduler(st, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		_ = s.Stop()
	})
	return s
}

func addTarget(t *testing.T, st store.Store, url string, interval int, enabled bool) models.WatchTarget {
	t.Helper()

	tgt := models.WatchTarget{URL: url, CheckIntervalSeconds: interval, Enabled: enabled}
	require.NoError(t, st.CreateTarget(context.Background(), &tgt))
	return tgt
}

func okServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func deadURL(t *testing.T) string {
	t.Helper()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestReconcileIdempotent(t *testing.T) {
	st := storetest.New(t)
	srv := okServer(t)

	a := addTarget(t, st, srv.URL+"/a", 60, true)
	b := addTarget(t, st, srv.URL+"/b", 120, true)
	addTarget(t, st, srv.URL+"/off", 60, false)

	s := newTestScheduler(t, st, clockwork.NewFakeClockAt(time.Now()))
	ctx := context.Background()

	require.NoError(t, s.Reconcile(ctx))
	first := s.Jobs()
	require.Len(t, first, 2)
	assert.Equal(t, 60*time.Second, first[a.ID].Interval)
	assert.Equal(t, 120*time.Second, first[b.ID].Interval)

	require.NoError(t, s.Reconcile(ctx))
	second := s.Jobs()
	require.Len(t, second, 2)
	for id, info := range first {
		assert.Equal(t, info.Interval, second[id].Interval)
		assert.WithinDuration(t, info.NextRun, second[id].NextRun, time.Second)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.scheduledTargets))
}

func TestReconcileKeepsPendingFireTime(t *testing.T) {
	st := storetest.New(t)
	srv := okServer(t)
	tgt := addTarget(t, st, srv.URL, 600, true)

	clock := clockwork.NewFakeClockAt(time.Now())
	s := newTestScheduler(t, st, clock)
	ctx := context.Background()

	require.NoError(t, s.Reconcile(ctx))
	before := s.Jobs()[tgt.ID].NextRun
	assert.WithinDuration(t, clock.Now().Add(600*time.Second), before, time.Second)

	clock.Advance(4 * time.Minute)
	require.NoError(t, s.Reconcile(ctx))

	assert.WithinDuration(t, before, s.Jobs()[tgt.ID].NextRun, time.Second)
}

func TestDisabledTargetLosesTimerKeepsHistory(t *testing.T) {
	st := storetest.New(t)
	srv := okServer(t)
	tgt := addTarget(t, st, srv.URL, 60, true)

	s := newTestScheduler(t, st, clockwork.NewFakeClockAt(time.Now()))
	ctx := context.Background()

	_, err := s.RunAllOnce(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Reconcile(ctx))
	require.Contains(t, s.Jobs(), tgt.ID)

	enabled := false
	_, err = st.UpdateTarget(ctx, tgt.ID, models.TargetPatch{Enabled: &enabled})
	require.NoError(t, err)
	require.NoError(t, s.Reconcile(ctx))

	assert.NotContains(t, s.Jobs(), tgt.ID)

	checks, err := st.ListChecks(ctx, tgt.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, checks, 1)
}

func TestIntervalChangeTakesEffectAfterReload(t *testing.T) {
	st := storetest.New(t)
	srv := okServer(t)
	tgt := addTarget(t, st, srv.URL, 300, true)

	clock := clockwork.NewFakeClockAt(time.Now())
	s := newTestScheduler(t, st, clock)
	ctx := context.Background()

	require.NoError(t, s.Reconcile(ctx))
	assert.WithinDuration(t, clock.Now().Add(300*time.Second), s.Jobs()[tgt.ID].NextRun, time.Second)

	interval := 60
	_, err := st.UpdateTarget(ctx, tgt.ID, models.TargetPatch{CheckIntervalSeconds: &interval})
	require.NoError(t, err)

	s.Reload()
	require.Eventually(t, func() bool {
		return s.Jobs()[tgt.ID].Interval == 60*time.Second
	}, 5*time.Second, 10*time.Millisecond)

	assert.WithinDuration(t, clock.Now().Add(60*time.Second), s.Jobs()[tgt.ID].NextRun, time.Second)

	clock.Advance(61 * time.Second)
	require.Eventually(t, func() bool {
		checks, err := st.ListChecks(ctx, tgt.ID, 10, 0)
		return err == nil && len(checks) >= 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFireIgnoresDisabledAndDeletedTargets(t *testing.T) {
	st := storetest.New(t)
	srv := okServer(t)
	off := addTarget(t, st, srv.URL+"/off", 60, false)
	gone := addTarget(t, st, srv.URL+"/gone", 60, true)

	s := newTestScheduler(t, st, clockwork.NewFakeClockAt(time.Now()))
	ctx := context.Background()

	require.NoError(t, st.DeleteTarget(ctx, gone.ID))

	s.fire(off.ID)
	s.fire(gone.ID)

	checks, err := st.ListChecks(ctx, off.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, checks)

	assert.Equal(t, 0.0, testutil.ToFloat64(s.metrics.polls.WithLabelValues(outcomeSuccess)))
}

func TestFireSkipsWhileInFlight(t *testing.T) {
	st := storetest.New(t)
	srv := okServer(t)
	tgt := addTarget(t, st, srv.URL, 60, true)

	s := newTestScheduler(t, st, clockwork.NewFakeClockAt(time.Now()))

	require.True(t, s.inflight.acquire(tgt.ID))
	s.fire(tgt.ID)
	s.inflight.release(tgt.ID)

	checks, err := st.ListChecks(context.Background(), tgt.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, checks)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.skippedFires))

	s.fire(tgt.ID)
	checks, err = st.ListChecks(context.Background(), tgt.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, checks, 1)
}

func TestRunAllOnceIsolatesFailures(t *testing.T) {
	st := storetest.New(t)
	srv := okServer(t)
	down := addTarget(t, st, deadURL(t), 60, true)
	up := addTarget(t, st, srv.URL, 60, true)
	addTarget(t, st, srv.URL+"/off", 60, false)

	s := newTestScheduler(t, st, clockwork.NewFakeClockAt(time.Now()))
	ctx := context.Background()

	polled, err := s.RunAllOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, polled)

	failed, err := st.LatestCheck(ctx, down.ID)
	require.NoError(t, err)
	assert.False(t, failed.IsSuccess)
	assert.NotNil(t, failed.ErrorMessage)

	ok, err := st.LatestCheck(ctx, up.ID)
	require.NoError(t, err)
	assert.True(t, ok.IsSuccess)
	assert.Nil(t, ok.ErrorMessage)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.polls.WithLabelValues(outcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.polls.WithLabelValues(outcomeSuccess)))
}

func TestContentChangeDetected(t *testing.T) {
	var body atomic.Value
	body.Store("A")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body.Load().(string)))
	}))
	defer srv.Close()

	st := storetest.New(t)
	tgt := addTarget(t, st, srv.URL+"/ok", 60, true)

	notifier := &recordingNotifier{}
	s := newTestScheduler(t, st, clockwork.NewFakeClockAt(time.Now()), WithNotifier(notifier))
	ctx := context.Background()

	_, err := s.RunAllOnce(ctx)
	require.NoError(t, err)

	body.Store("B")
	_, err = s.RunAllOnce(ctx)
	require.NoError(t, err)

	checks, err := st.ListChecks(ctx, tgt.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, checks, 2)

	second, first := checks[0], checks[1]
	assert.False(t, first.ContentChanged)
	assert.True(t, second.ContentChanged)
	assert.NotEqual(t, *first.ContentHash, *second.ContentHash)

	require.Eventually(t, func() bool { return notifier.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.changes))

	// same body again is not a change
	_, err = s.RunAllOnce(ctx)
	require.NoError(t, err)
	latest, err := st.LatestCheck(ctx, tgt.ID)
	require.NoError(t, err)
	assert.False(t, latest.ContentChanged)
}

func TestNeverReachableTarget(t *testing.T) {
	st := storetest.New(t)
	tgt := addTarget(t, st, deadURL(t), 60, true)

	s := newTestScheduler(t, st, clockwork.NewFakeClockAt(time.Now()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.RunAllOnce(ctx)
		require.NoError(t, err)
	}

	checks, err := st.ListChecks(ctx, tgt.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, checks, 3)
	for _, c := range checks {
		assert.Nil(t, c.StatusCode)
		assert.False(t, c.IsSuccess)
		assert.False(t, c.ContentChanged)
		require.NotNil(t, c.ErrorMessage)
		assert.NotEmpty(t, *c.ErrorMessage)
	}
}

func TestStoppedSchedulerRefusesWork(t *testing.T) {
	st := storetest.New(t)
	srv := okServer(t)
	addTarget(t, st, srv.URL, 60, true)

	s := newTestScheduler(t, st, clockwork.NewFakeClockAt(time.Now()))
	ctx := context.Background()

	require.NoError(t, s.Reconcile(ctx))
	require.NotEmpty(t, s.Jobs())

	require.NoError(t, s.Stop())
	assert.Empty(t, s.Jobs())
	assert.ErrorIs(t, s.Reconcile(ctx), ErrSchedulerStopped)
	assert.ErrorIs(t, s.Start(), ErrSchedulerStopped)

	_, err := s.RunAllOnce(ctx)
	assert.ErrorIs(t, err, ErrSchedulerStopped)

	// second stop is a no-op
	assert.NoError(t, s.Stop())
}

func TestStoreFailuresStayContained(t *testing.T) {
	base := storetest.New(t)
	srv := okServer(t)
	a := addTarget(t, base, srv.URL+"/a", 60, true)
	b := addTarget(t, base, srv.URL+"/b", 60, true)

	st := &flakyStore{Store: base, failAppendFor: a.ID}
	clock := clockwork.NewFakeClockAt(time.Now())
	s := newTestScheduler(t, st, clock)
	ctx := context.Background()

	require.NoError(t, s.Reconcile(ctx))
	before := s.Jobs()
	require.Len(t, before, 2)

	// a target added while the store is unreadable is not picked up, and nothing is dropped
	addTarget(t, base, srv.URL+"/c", 60, true)
	st.failList.Store(true)
	assert.ErrorIs(t, s.Reconcile(ctx), errDBDown)

	after := s.Jobs()
	require.Len(t, after, 2)
	for id, info := range before {
		assert.Equal(t, info.Interval, after[id].Interval)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.reconciles.WithLabelValues(outcomeFailure)))

	clock.Advance(61 * time.Second)
	require.Eventually(t, func() bool {
		checks, err := base.ListChecks(ctx, b.ID, 10, 0)
		return err == nil && len(checks) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	checks, err := base.ListChecks(ctx, a.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, checks)
}
