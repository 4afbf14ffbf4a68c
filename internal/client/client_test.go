package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazz-dev/reachprobe/internal/auth"
	"github.com/hazz-dev/reachprobe/internal/client"
	"github.com/hazz-dev/reachprobe/internal/hub"
	"github.com/hazz-dev/reachprobe/internal/probe"
	"github.com/hazz-dev/reachprobe/internal/scheduler"
	"github.com/hazz-dev/reachprobe/internal/server"
	"github.com/hazz-dev/reachprobe/internal/storage"
)

type stubProber struct{}

func (stubProber) Probe(_ context.Context, t probe.Target) probe.Result {
	return probe.Result{Status: probe.StatusBlocked, Error: "timeout", Failure: probe.FailureTimeout, LatencyMs: 8000, URL: t.URL}
}

type stubStatus struct{}

func (stubStatus) Status() scheduler.Status {
	return scheduler.Status{IntervalMs: 900000}
}

type env struct {
	db  *storage.DB
	hub *hub.Hub
	c   *client.Client
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Seed(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.New(nil, nil)
	go h.Run(ctx)

	srv := server.New(db, stubProber{}, stubStatus{}, auth.NewIssuer("secret", time.Hour),
		server.Options{Live: h.HandleConnect}, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &env{db: db, hub: h, c: client.New(ts.URL + "/")}
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	if err := e.c.Health(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestServerCheck(t *testing.T) {
	e := newEnv(t)
	res, err := e.c.ServerCheck(context.Background(), client.CheckRequest{URL: "example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != probe.StatusBlocked || res.Error != "timeout" || res.URL != "https://example.com/" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestServerCheck_InvalidURL(t *testing.T) {
	e := newEnv(t)
	_, err := e.c.ServerCheck(context.Background(), client.CheckRequest{URL: "https://%zz"})
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "invalid url" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestSessionLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sess, err := e.c.Register(ctx, "ops@example.com", "hunter22", "Ops")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Token() == "" || sess.User().Email != "ops@example.com" {
		t.Fatalf("unexpected session token=%q user=%+v", sess.Token(), sess.User())
	}

	again, err := e.c.Login(ctx, "ops@example.com", "hunter22")
	if err != nil {
		t.Fatal(err)
	}
	me, err := again.Me(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if me.Name != "Ops" {
		t.Errorf("expected name Ops, got %q", me.Name)
	}

	cats, err := e.c.Categories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	target, err := sess.CreateTarget(ctx, client.TargetInput{Name: "dlp test", URL: "dlptest.com", CategoryID: cats[1].ID, ProtectionType: "DLP"})
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.DeleteTarget(ctx, target.ID); err != nil {
		t.Fatal(err)
	}

	sess.Logout()
	if sess.Token() != "" {
		t.Error("expected token to be cleared")
	}
	if _, err := sess.Me(ctx); !errors.Is(err, client.ErrLoggedOut) {
		t.Errorf("expected ErrLoggedOut, got %v", err)
	}
	// Other sessions are unaffected.
	if _, err := again.Me(ctx); err != nil {
		t.Errorf("expected second session to stay valid, got %v", err)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	e := newEnv(t)
	_, err := e.c.Login(context.Background(), "nobody@example.com", "whatever")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestResume_InvalidToken(t *testing.T) {
	e := newEnv(t)
	_, err := e.c.Resume("garbage").Me(context.Background())
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestCustomApplication(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sess, err := e.c.Register(ctx, "a@example.com", "secret1", "")
	if err != nil {
		t.Fatal(err)
	}

	app, err := sess.CreateApplication(ctx, "Box", "", "CLOUD_STORAGE")
	if err != nil {
		t.Fatal(err)
	}
	ep, err := sess.CreateEndpoint(ctx, app.ID, client.EndpointInput{Label: "Web", URL: "box.com"})
	if err != nil {
		t.Fatal(err)
	}
	if ep.Kind != storage.EndpointWeb || ep.URL != "https://box.com/" {
		t.Errorf("unexpected endpoint %+v", ep)
	}

	apps, err := e.c.Apps(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(apps) != len(storage.DefaultApplicationNames())+1 {
		t.Errorf("expected seeded apps plus one, got %d", len(apps))
	}
}

func TestHistoryAndStats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	eps, err := e.db.DefaultEndpoints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i, st := range []probe.Status{probe.StatusReachable, probe.StatusBlocked, probe.StatusReachable} {
		e.db.InsertResult(ctx, storage.ProbeRecord{
			RunID: "run", ApplicationID: eps[0].ApplicationID, EndpointID: eps[0].ID,
			Result: probe.Result{Status: st, LatencyMs: 30, CheckedAt: time.Now().Add(time.Duration(i) * time.Second)},
		})
	}

	entries, err := e.c.History(ctx, storage.HistoryFilter{EndpointID: eps[0].ID, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Status != string(probe.StatusReachable) || entries[1].Status != string(probe.StatusBlocked) {
		t.Errorf("unexpected history %+v", entries)
	}

	stats, err := e.c.Stats(ctx, storage.HistoryFilter{EndpointID: eps[0].ID})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Reachable != 2 || stats.Blocked != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestSummary(t *testing.T) {
	e := newEnv(t)
	st, err := e.c.Summary(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.LastRun != nil || st.IntervalMs != 900000 {
		t.Errorf("unexpected summary %+v", st)
	}
}

func TestWatchSummary(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"lastRun": nil, "intervalMs": 1000}})
	}))
	defer ts.Close()

	var (
		mu   sync.Mutex
		seen []int64
	)
	w := client.New(ts.URL).WatchSummary(context.Background(), 10*time.Millisecond, func(st *scheduler.Status, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
			return
		}
		mu.Lock()
		seen = append(seen, st.IntervalMs)
		mu.Unlock()
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()
	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 3 {
		t.Fatalf("expected at least 3 polls, got %d", len(seen))
	}
	if seen[0] != 1000 {
		t.Errorf("unexpected interval %d", seen[0])
	}

	after := calls.Load()
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != after {
		t.Error("expected polling to stop after Stop")
	}
}

func TestWatchSummary_ReportsErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	errs := make(chan error, 1)
	w := client.New(ts.URL).WatchSummary(context.Background(), time.Hour, func(_ *scheduler.Status, err error) {
		select {
		case errs <- err:
		default:
		}
	})
	defer w.Stop()

	select {
	case err := <-errs:
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
			t.Errorf("expected 500 APIError, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first poll")
	}
}

func TestWatchSummary_StopsWithContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"intervalMs": 1}})
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	w := client.New(ts.URL).WatchSummary(ctx, 5*time.Millisecond, func(*scheduler.Status, error) {})
	cancel()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not exit after context cancel")
	}
}

func TestLive(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := e.c.Live(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	deadline := time.Now().Add(2 * time.Second)
	for e.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	e.hub.Broadcast(hub.Event{Type: hub.TypeTickComplete, Payload: scheduler.TickSummary{RunID: "r1", Probed: 10}})

	evt, err := stream.Next()
	if err != nil {
		t.Fatal(err)
	}
	if evt.Type != hub.TypeTickComplete {
		t.Fatalf("unexpected event type %q", evt.Type)
	}
	var sum scheduler.TickSummary
	if err := json.Unmarshal(evt.Payload, &sum); err != nil {
		t.Fatal(err)
	}
	if sum.RunID != "r1" || sum.Probed != 10 {
		t.Errorf("unexpected payload %+v", sum)
	}
}
