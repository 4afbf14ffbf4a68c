package alert_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazz-dev/reachprobe/internal/alert"
	"github.com/hazz-dev/reachprobe/internal/probe"
	"github.com/hazz-dev/reachprobe/internal/storage"
)

func statusPtr(s probe.Status) *probe.Status {
	return &s
}

func endpoint(id int64) storage.Endpoint {
	return storage.Endpoint{ID: id, ApplicationID: 1, Label: "Web", URL: "https://dropbox.com"}
}

func makeResult(status probe.Status) probe.Result {
	return probe.Result{
		Status:    status,
		LatencyMs: 10,
		URL:       "https://dropbox.com/",
		CheckedAt: time.Now().UTC(),
	}
}

func countingServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&n, 1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &n
}

func TestAlerter_ReachableToBlocked(t *testing.T) {
	srv, calls := countingServer(t)
	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(endpoint(1), makeResult(probe.StatusBlocked), statusPtr(probe.StatusReachable))
	a.Wait()

	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("expected 1 webhook call for reachable->blocked, got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_BlockedToReachable(t *testing.T) {
	srv, calls := countingServer(t)
	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(endpoint(1), makeResult(probe.StatusReachable), statusPtr(probe.StatusBlocked))
	a.Wait()

	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("expected 1 webhook call for blocked->reachable, got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_SameState_NoWebhook(t *testing.T) {
	srv, calls := countingServer(t)
	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(endpoint(1), makeResult(probe.StatusReachable), statusPtr(probe.StatusReachable))
	a.Notify(endpoint(1), makeResult(probe.StatusBlocked), statusPtr(probe.StatusBlocked))
	a.Wait()

	if atomic.LoadInt32(calls) != 0 {
		t.Errorf("expected 0 webhook calls for same state, got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_FirstObservation_NoWebhook(t *testing.T) {
	srv, calls := countingServer(t)
	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(endpoint(1), makeResult(probe.StatusBlocked), nil)
	a.Wait()

	if atomic.LoadInt32(calls) != 0 {
		t.Errorf("expected 0 webhook calls for first observation, got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_Cooldown_SuppressesAlerts(t *testing.T) {
	srv, calls := countingServer(t)
	a := alert.New(srv.URL, time.Hour, nil)

	a.Notify(endpoint(1), makeResult(probe.StatusBlocked), statusPtr(probe.StatusReachable))
	a.Notify(endpoint(1), makeResult(probe.StatusReachable), statusPtr(probe.StatusBlocked))
	a.Wait()

	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("expected 1 webhook call (cooldown suppressed second), got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_Cooldown_PerEndpoint(t *testing.T) {
	srv, calls := countingServer(t)
	a := alert.New(srv.URL, time.Hour, nil)

	a.Notify(endpoint(1), makeResult(probe.StatusBlocked), statusPtr(probe.StatusReachable))
	a.Notify(endpoint(2), makeResult(probe.StatusBlocked), statusPtr(probe.StatusReachable))
	a.Wait()

	if atomic.LoadInt32(calls) != 2 {
		t.Errorf("expected 2 webhook calls (one per endpoint), got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_WebhookPayload(t *testing.T) {
	var (
		mu      sync.Mutex
		payload map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		json.Unmarshal(body, &payload)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := alert.New(srv.URL, time.Hour, nil)
	result := makeResult(probe.StatusBlocked)
	result.HTTPStatus = 403
	result.Error = "http status 403 Forbidden"
	a.Notify(endpoint(9), result, statusPtr(probe.StatusReachable))
	a.Wait()

	mu.Lock()
	defer mu.Unlock()
	if payload["endpoint_id"] != float64(9) {
		t.Errorf("expected endpoint_id 9, got %v", payload["endpoint_id"])
	}
	if payload["status"] != "blocked" {
		t.Errorf("expected status 'blocked', got %v", payload["status"])
	}
	if payload["previous_status"] != "reachable" {
		t.Errorf("expected previous_status 'reachable', got %v", payload["previous_status"])
	}
	if payload["http_status"] != float64(403) {
		t.Errorf("expected http_status 403, got %v", payload["http_status"])
	}
	if payload["source"] != "reachprobe" {
		t.Errorf("expected source 'reachprobe', got %v", payload["source"])
	}
}

func TestAlerter_HTTPError_DoesNotCrash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(endpoint(1), makeResult(probe.StatusBlocked), statusPtr(probe.StatusReachable))
	a.Wait()
}
