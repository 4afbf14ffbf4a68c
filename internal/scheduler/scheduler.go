package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hazz-dev/reachprobe/internal/probe"
	"github.com/hazz-dev/reachprobe/internal/storage"
)

// DefaultInterval is the time between two ticks when Options.Interval is zero.
const DefaultInterval = 15 * time.Minute

// Overlap policies.
const (
	OverlapSkip  = "skip"
	OverlapAllow = "allow"
)

// ErrTickInProgress is returned by RunOnce when another tick is still running
// and the overlap policy is OverlapSkip.
var ErrTickInProgress = errors.New("tick already in progress")

// Store defines the storage operations required by the scheduler.
type Store interface {
	DefaultEndpoints(ctx context.Context) ([]storage.Endpoint, error)
	InsertResult(ctx context.Context, rec storage.ProbeRecord) error
	LatestResult(ctx context.Context, endpointID int64) (*storage.HistoryEntry, error)
	LastRun(ctx context.Context) (*time.Time, error)
}

// Prober runs a single reachability probe.
type Prober interface {
	Probe(ctx context.Context, t probe.Target) probe.Result
}

// Options configures a Scheduler.
type Options struct {
	Interval     time.Duration
	Concurrency  int
	Overlap      string
	Retries      int
	RetryBackoff time.Duration
	RunOnStart   bool
}

// Event is one persisted probe observation.
// Previous is the endpoint's prior status, nil on its first observation.
type Event struct {
	RunID    string
	Endpoint storage.Endpoint
	Result   probe.Result
	Previous *probe.Status
}

// TickSummary describes a finished tick.
type TickSummary struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Probed     int       `json:"probed"`
	Reachable  int       `json:"reachable"`
	Blocked    int       `json:"blocked"`
}

// Status is what clients need to render a next-run countdown.
type Status struct {
	LastRun    *time.Time `json:"lastRun"`
	IntervalMs int64      `json:"intervalMs"`
}

// Scheduler re-probes every endpoint of every default application on a fixed interval.
type Scheduler struct {
	store  Store
	prober Prober
	opts   Options
	logger *zap.Logger

	onResult func(Event)
	onTick   func(TickSummary)

	running atomic.Bool
	mu      sync.RWMutex
	lastRun *time.Time
	wg      sync.WaitGroup
}

// New creates a new Scheduler. Pass nil logger to discard logs.
func New(store Store, prober Prober, opts Options, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Overlap == "" {
		opts.Overlap = OverlapSkip
	}
	return &Scheduler{
		store:  store,
		prober: prober,
		opts:   opts,
		logger: logger,
	}
}

// SetOnResult sets the callback invoked after each persisted result.
// Set it before Start.
func (s *Scheduler) SetOnResult(fn func(Event)) {
	s.onResult = fn
}

// SetOnTick sets the callback invoked after each completed tick.
func (s *Scheduler) SetOnTick(fn func(TickSummary)) {
	s.onTick = fn
}

// Status returns the start time of the last completed tick and the interval.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{IntervalMs: s.opts.Interval.Milliseconds()}
	if s.lastRun != nil {
		t := *s.lastRun
		st.LastRun = &t
	}
	return st
}

// Start seeds lastRun from storage and begins ticking. It is non-blocking;
// ticks stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if last, err := s.store.LastRun(ctx); err != nil {
		s.logger.Warn("loading last run", zap.Error(err))
	} else if last != nil {
		s.mu.Lock()
		s.lastRun = last
		s.mu.Unlock()
	}

	s.wg.Add(1)
	go s.loop(ctx)
}

// Wait blocks until the loop and every in-flight tick have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	if s.opts.RunOnStart {
		s.spawnTick(ctx)
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.spawnTick(ctx)
		}
	}
}

func (s *Scheduler) spawnTick(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.RunOnce(ctx); err != nil {
			if errors.Is(err, ErrTickInProgress) {
				s.logger.Warn("tick_skipped", zap.String("reason", "previous tick still running"))
				return
			}
			if errors.Is(err, context.Canceled) {
				s.logger.Info("tick_interrupted", zap.Error(err))
				return
			}
			s.logger.Error("tick failed", zap.Error(err))
		}
	}()
}

// RunOnce probes every default endpoint once and appends the results.
func (s *Scheduler) RunOnce(ctx context.Context) (TickSummary, error) {
	if s.opts.Overlap != OverlapAllow {
		if !s.running.CompareAndSwap(false, true) {
			return TickSummary{}, ErrTickInProgress
		}
		defer s.running.Store(false)
	}

	sum := TickSummary{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	endpoints, err := s.store.DefaultEndpoints(ctx)
	if err != nil {
		return sum, err
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.opts.Concurrency)
	for _, ep := range endpoints {
		g.Go(func() error {
			r := s.probeEndpoint(ctx, sum.RunID, ep)
			mu.Lock()
			sum.Probed++
			if r.Reachable() {
				sum.Reachable++
			} else {
				sum.Blocked++
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sum.FinishedAt = time.Now().UTC()
	// An interrupted tick is not a completed one: lastRun and onTick stay untouched.
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	started := sum.StartedAt
	s.mu.Lock()
	if s.lastRun == nil || started.After(*s.lastRun) {
		s.lastRun = &started
	}
	s.mu.Unlock()

	s.logger.Info("tick_complete",
		zap.String("run_id", sum.RunID),
		zap.Int("probed", sum.Probed),
		zap.Int("reachable", sum.Reachable),
		zap.Int("blocked", sum.Blocked),
		zap.Duration("duration", sum.FinishedAt.Sub(sum.StartedAt)),
	)
	if s.onTick != nil {
		s.onTick(sum)
	}
	return sum, nil
}

func (s *Scheduler) probeEndpoint(ctx context.Context, runID string, ep storage.Endpoint) probe.Result {
	// Fetch previous status before running the probe.
	prev, err := s.store.LatestResult(ctx, ep.ID)
	if err != nil {
		s.logger.Warn("fetching previous result", zap.Int64("endpoint_id", ep.ID), zap.Error(err))
	}

	result := s.probeWithRetry(ctx, ep)

	s.logger.Info("probe_result",
		zap.String("run_id", runID),
		zap.Int64("endpoint_id", ep.ID),
		zap.String("url", ep.URL),
		zap.String("status", string(result.Status)),
		zap.Int("http_status", result.HTTPStatus),
		zap.Float64("latency_ms", result.LatencyMs),
		zap.String("error", result.Error),
	)

	rec := storage.ProbeRecord{
		RunID:         runID,
		ApplicationID: ep.ApplicationID,
		EndpointID:    ep.ID,
		Result:        result,
	}
	if err := s.store.InsertResult(ctx, rec); err != nil {
		s.logger.Error("storing probe result", zap.Int64("endpoint_id", ep.ID), zap.Error(err))
		return result
	}

	if s.onResult != nil {
		var prevStatus *probe.Status
		if prev != nil {
			st := probe.Status(prev.Status)
			prevStatus = &st
		}
		s.onResult(Event{RunID: runID, Endpoint: ep, Result: result, Previous: prevStatus})
	}
	return result
}

// probeWithRetry retries blocked results up to Options.Retries times.
// Invalid input is never retried. Only the last attempt is returned.
func (s *Scheduler) probeWithRetry(ctx context.Context, ep storage.Endpoint) probe.Result {
	result := s.prober.Probe(ctx, ep.Target())
	for attempt := 1; attempt <= s.opts.Retries; attempt++ {
		if result.Reachable() || result.Failure == probe.FailureInvalidInput {
			break
		}
		if s.opts.RetryBackoff > 0 {
			t := time.NewTimer(s.opts.RetryBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return result
			case <-t.C:
			}
		}
		if ctx.Err() != nil {
			break
		}
		s.logger.Debug("retrying probe", zap.Int64("endpoint_id", ep.ID), zap.Int("attempt", attempt))
		result = s.prober.Probe(ctx, ep.Target())
	}
	return result
}
