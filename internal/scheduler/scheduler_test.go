package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazz-dev/reachprobe/internal/probe"
	"github.com/hazz-dev/reachprobe/internal/scheduler"
	"github.com/hazz-dev/reachprobe/internal/storage"
)

// mockProber returns results from fn, or a fixed reachable result.
type mockProber struct {
	calls atomic.Int32
	fn    func(n int32, t probe.Target) probe.Result
	delay time.Duration
}

func (m *mockProber) Probe(ctx context.Context, t probe.Target) probe.Result {
	n := m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
		}
	}
	if m.fn != nil {
		return m.fn(n, t)
	}
	return probe.Result{Status: probe.StatusReachable, HTTPStatus: 200, URL: t.URL, CheckedAt: time.Now()}
}

// mockStore records inserted results.
type mockStore struct {
	mu        sync.Mutex
	endpoints []storage.Endpoint
	records   []storage.ProbeRecord
	latest    map[int64]*storage.HistoryEntry
	lastRun   *time.Time
	err       error
}

func (m *mockStore) DefaultEndpoints(context.Context) ([]storage.Endpoint, error) {
	return m.endpoints, nil
}

func (m *mockStore) InsertResult(_ context.Context, rec storage.ProbeRecord) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *mockStore) LatestResult(_ context.Context, id int64) (*storage.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest[id], nil
}

func (m *mockStore) LastRun(context.Context) (*time.Time, error) {
	return m.lastRun, nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func makeEndpoints(n int) []storage.Endpoint {
	eps := make([]storage.Endpoint, n)
	for i := range eps {
		eps[i] = storage.Endpoint{ID: int64(i + 1), ApplicationID: 1, URL: "https://example.com/"}
	}
	return eps
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestScheduler_RunOnceProbesEveryEndpoint(t *testing.T) {
	store := &mockStore{endpoints: makeEndpoints(4)}
	sched := scheduler.New(store, &mockProber{}, scheduler.Options{Concurrency: 2}, nil)

	sum, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sum.Probed != 4 || sum.Reachable != 4 || sum.Blocked != 0 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if store.count() != 4 {
		t.Fatalf("expected 4 records, got %d", store.count())
	}
	seen := map[int64]bool{}
	for _, r := range store.records {
		if r.RunID != sum.RunID {
			t.Errorf("expected run id %q, got %q", sum.RunID, r.RunID)
		}
		seen[r.EndpointID] = true
	}
	if len(seen) != 4 {
		t.Errorf("expected one record per endpoint, got %v", seen)
	}
}

func TestScheduler_AppendsAcrossTicks(t *testing.T) {
	store := &mockStore{endpoints: makeEndpoints(2)}
	sched := scheduler.New(store, &mockProber{}, scheduler.Options{}, nil)

	for i := 0; i < 3; i++ {
		if _, err := sched.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if store.count() != 6 {
		t.Errorf("expected 6 appended records, got %d", store.count())
	}
}

func TestScheduler_RunsTickImmediately(t *testing.T) {
	store := &mockStore{endpoints: makeEndpoints(1)}
	sched := scheduler.New(store, &mockProber{}, scheduler.Options{Interval: time.Hour, RunOnStart: true}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	waitFor(t, func() bool { return store.count() >= 1 })
	cancel()
	sched.Wait()
}

func TestScheduler_RunsPeriodicTicks(t *testing.T) {
	store := &mockStore{endpoints: makeEndpoints(1)}
	interval := 50 * time.Millisecond
	sched := scheduler.New(store, &mockProber{}, scheduler.Options{Interval: interval}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	sched.Start(ctx)
	<-ctx.Done()
	sched.Wait()

	if n := store.count(); n < 3 {
		t.Errorf("expected at least 3 ticks in 300ms, got %d", n)
	}
}

func TestScheduler_ContextCancellation(t *testing.T) {
	store := &mockStore{endpoints: makeEndpoints(1)}
	sched := scheduler.New(store, &mockProber{}, scheduler.Options{Interval: time.Hour, RunOnStart: true}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Wait() did not return within 2s after context cancel")
	}
}

func TestScheduler_InterruptedTickIsNotCompleted(t *testing.T) {
	store := &mockStore{endpoints: makeEndpoints(3)}
	sched := scheduler.New(store, &mockProber{delay: time.Second}, scheduler.Options{Concurrency: 3}, nil)
	var ticks atomic.Int32
	sched.SetOnTick(func(scheduler.TickSummary) { ticks.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := sched.RunOnce(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("tick outlived its context: %v", time.Since(start))
	}
	if st := sched.Status(); st.LastRun != nil {
		t.Errorf("expected no last run after an interrupted tick, got %v", st.LastRun)
	}
	if ticks.Load() != 0 {
		t.Errorf("expected no tick callback, got %d", ticks.Load())
	}
}

func TestScheduler_StatusSeededFromStore(t *testing.T) {
	last := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := &mockStore{lastRun: &last}
	sched := scheduler.New(store, &mockProber{}, scheduler.Options{Interval: 15 * time.Minute}, nil)

	st := sched.Status()
	if st.LastRun != nil {
		t.Errorf("expected nil last run before Start, got %v", st.LastRun)
	}
	if st.IntervalMs != 900000 {
		t.Errorf("expected 900000ms interval, got %d", st.IntervalMs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	cancel()
	sched.Wait()

	st = sched.Status()
	if st.LastRun == nil || !st.LastRun.Equal(last) {
		t.Errorf("expected last run %v, got %v", last, st.LastRun)
	}
}

func TestScheduler_StatusAdvancesAfterTick(t *testing.T) {
	sched := scheduler.New(&mockStore{endpoints: makeEndpoints(1)}, &mockProber{}, scheduler.Options{}, nil)
	before := time.Now().Add(-time.Second)

	sum, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	st := sched.Status()
	if st.LastRun == nil || st.LastRun.Before(before) || !st.LastRun.Equal(sum.StartedAt) {
		t.Errorf("expected last run at tick start %v, got %v", sum.StartedAt, st.LastRun)
	}
	if st.IntervalMs != scheduler.DefaultInterval.Milliseconds() {
		t.Errorf("expected default interval, got %d", st.IntervalMs)
	}
}

func TestScheduler_OverlapSkip(t *testing.T) {
	store := &mockStore{endpoints: makeEndpoints(1)}
	p := &mockProber{delay: 200 * time.Millisecond}
	sched := scheduler.New(store, p, scheduler.Options{Overlap: scheduler.OverlapSkip}, nil)

	done := make(chan struct{})
	go func() {
		sched.RunOnce(context.Background())
		close(done)
	}()
	waitFor(t, func() bool { return p.calls.Load() >= 1 })

	if _, err := sched.RunOnce(context.Background()); !errors.Is(err, scheduler.ErrTickInProgress) {
		t.Errorf("expected ErrTickInProgress, got %v", err)
	}
	<-done

	if _, err := sched.RunOnce(context.Background()); err != nil {
		t.Errorf("expected tick to run once the previous finished, got %v", err)
	}
}

func TestScheduler_OverlapAllow(t *testing.T) {
	store := &mockStore{endpoints: makeEndpoints(1)}
	p := &mockProber{delay: 100 * time.Millisecond}
	sched := scheduler.New(store, p, scheduler.Options{Overlap: scheduler.OverlapAllow}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sched.RunOnce(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("expected concurrent ticks to be allowed, got %v", err)
		}
	}
	if store.count() != 2 {
		t.Errorf("expected 2 records, got %d", store.count())
	}
}

func TestScheduler_RetriesBlockedResults(t *testing.T) {
	store := &mockStore{endpoints: makeEndpoints(1)}
	p := &mockProber{fn: func(n int32, tgt probe.Target) probe.Result {
		if n < 3 {
			return probe.Result{Status: probe.StatusBlocked, Error: "timeout", Failure: probe.FailureTimeout}
		}
		return probe.Result{Status: probe.StatusReachable, HTTPStatus: 200}
	}}
	sched := scheduler.New(store, p, scheduler.Options{Retries: 3}, nil)

	sum, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p.calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", p.calls.Load())
	}
	if sum.Reachable != 1 || store.count() != 1 {
		t.Errorf("expected only the final attempt to be stored, got %+v with %d records", sum, store.count())
	}
}

func TestScheduler_NoRetryForInvalidInput(t *testing.T) {
	store := &mockStore{endpoints: makeEndpoints(1)}
	p := &mockProber{fn: func(int32, probe.Target) probe.Result {
		return probe.Result{Status: probe.StatusBlocked, Error: "invalid url", Failure: probe.FailureInvalidInput}
	}}
	sched := scheduler.New(store, p, scheduler.Options{Retries: 3}, nil)

	if _, err := sched.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", p.calls.Load())
	}
}

func TestScheduler_OnResultCallback(t *testing.T) {
	blocked := probe.StatusBlocked
	store := &mockStore{
		endpoints: makeEndpoints(2),
		latest:    map[int64]*storage.HistoryEntry{1: {Status: string(blocked)}},
	}
	sched := scheduler.New(store, &mockProber{}, scheduler.Options{}, nil)

	var (
		mu     sync.Mutex
		events = map[int64]scheduler.Event{}
		ticks  atomic.Int32
	)
	sched.SetOnResult(func(e scheduler.Event) {
		mu.Lock()
		events[e.Endpoint.ID] = e
		mu.Unlock()
	})
	sched.SetOnTick(func(scheduler.TickSummary) { ticks.Add(1) })

	if _, err := sched.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if p := events[1].Previous; p == nil || *p != probe.StatusBlocked {
		t.Errorf("expected previous status blocked for endpoint 1, got %v", p)
	}
	if events[2].Previous != nil {
		t.Errorf("expected nil previous for first observation, got %v", *events[2].Previous)
	}
	if ticks.Load() != 1 {
		t.Errorf("expected one tick callback, got %d", ticks.Load())
	}
}

func TestScheduler_StoreErrorDoesNotCrash(t *testing.T) {
	store := &mockStore{endpoints: makeEndpoints(2), err: context.DeadlineExceeded}
	sched := scheduler.New(store, &mockProber{}, scheduler.Options{}, nil)

	called := false
	sched.SetOnResult(func(scheduler.Event) { called = true })
	sum, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Probed != 2 {
		t.Errorf("expected 2 probes despite store errors, got %d", sum.Probed)
	}
	if called {
		t.Error("onResult must not fire for results that were not stored")
	}
}
