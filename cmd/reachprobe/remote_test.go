package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazz-dev/reachprobe/internal/client"
	"github.com/hazz-dev/reachprobe/internal/scheduler"
	"github.com/hazz-dev/reachprobe/internal/storage"
)

func TestExecuteRemoteCheck(t *testing.T) {
	var got client.CheckRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/server-check" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "blocked", "latencyMs": 8000, "error": "timeout", "url": "https://wetransfer.com/",
		})
	}))
	defer srv.Close()

	var buf bytes.Buffer
	err := executeRemoteCheck(context.Background(), &buf, client.New(srv.URL), client.CheckRequest{URL: "wetransfer.com", Method: "POST"})
	if !errors.Is(err, errBlocked) {
		t.Fatalf("expected errBlocked, got %v", err)
	}
	if got.URL != "wetransfer.com" || got.Method != "POST" {
		t.Errorf("unexpected request %+v", got)
	}
	out := buf.String()
	if !strings.Contains(out, "blocked") || !strings.Contains(out, "error=timeout") || !strings.Contains(out, "http=-") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestPrintSummary(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 10, 0, 0, time.UTC)
	last := now.Add(-10 * time.Minute)

	var buf bytes.Buffer
	printSummary(&buf, &scheduler.Status{LastRun: &last, IntervalMs: (15 * time.Minute).Milliseconds()}, now)
	if !strings.Contains(buf.String(), "next in: 5m0s") {
		t.Errorf("unexpected summary %q", buf.String())
	}

	buf.Reset()
	printSummary(&buf, &scheduler.Status{IntervalMs: 900000}, now)
	if !strings.Contains(buf.String(), "last run: never") || !strings.Contains(buf.String(), "15m0s") {
		t.Errorf("unexpected summary %q", buf.String())
	}

	buf.Reset()
	overdue := now.Add(-time.Hour)
	printSummary(&buf, &scheduler.Status{LastRun: &overdue, IntervalMs: 900000}, now)
	if !strings.Contains(buf.String(), "next in: 0s") {
		t.Errorf("expected overdue run to clamp at 0s, got %q", buf.String())
	}
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, []storage.HistoryEntry{
		{ApplicationName: "Salesforce", EndpointLabel: "Login", Status: "reachable", LatencyMs: 120, CreatedAt: time.Now()},
	})
	out := buf.String()
	if !strings.Contains(out, "Salesforce") || !strings.Contains(out, "Login") || !strings.Contains(out, "120ms") {
		t.Errorf("unexpected output:\n%s", out)
	}
}
