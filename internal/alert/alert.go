package alert

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hazz-dev/reachprobe/internal/probe"
	"github.com/hazz-dev/reachprobe/internal/storage"
)

// Alerter sends webhook notifications when an endpoint flips between
// reachable and blocked.
type Alerter struct {
	webhookURL string
	cooldown   time.Duration
	client     *http.Client
	lastAlert  map[int64]time.Time
	mu         sync.Mutex
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// New creates a new Alerter. Pass nil logger to discard logs.
func New(webhookURL string, cooldown time.Duration, logger *zap.Logger) *Alerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alerter{
		webhookURL: webhookURL,
		cooldown:   cooldown,
		client:     &http.Client{Timeout: 10 * time.Second},
		lastAlert:  make(map[int64]time.Time),
		logger:     logger,
	}
}

type webhookPayload struct {
	EndpointID     int64   `json:"endpoint_id"`
	ApplicationID  int64   `json:"application_id"`
	Label          string  `json:"label"`
	URL            string  `json:"url"`
	Status         string  `json:"status"`
	PreviousStatus string  `json:"previous_status"`
	HTTPStatus     int     `json:"http_status,omitempty"`
	Error          string  `json:"error"`
	LatencyMs      float64 `json:"latency_ms"`
	CheckedAt      string  `json:"checked_at"`
	Source         string  `json:"source"`
}

// Notify sends a webhook if the endpoint status changed and the cooldown has elapsed.
func (a *Alerter) Notify(ep storage.Endpoint, result probe.Result, previous *probe.Status) {
	// First observation.
	if previous == nil {
		return
	}
	if result.Status == *previous {
		return
	}

	a.mu.Lock()
	last, exists := a.lastAlert[ep.ID]
	if exists && time.Since(last) < a.cooldown {
		a.mu.Unlock()
		a.logger.Info("alert suppressed by cooldown", zap.Int64("endpoint_id", ep.ID))
		return
	}
	a.lastAlert[ep.ID] = time.Now()
	a.mu.Unlock()

	// Send asynchronously so Notify doesn't block the scheduler.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.send(ep, result, string(*previous))
	}()
}

// Wait blocks until every in-flight webhook has been sent.
func (a *Alerter) Wait() {
	a.wg.Wait()
}

func (a *Alerter) send(ep storage.Endpoint, result probe.Result, prevStatus string) {
	payload := webhookPayload{
		EndpointID:     ep.ID,
		ApplicationID:  ep.ApplicationID,
		Label:          ep.Label,
		URL:            ep.URL,
		Status:         string(result.Status),
		PreviousStatus: prevStatus,
		HTTPStatus:     result.HTTPStatus,
		Error:          result.Error,
		LatencyMs:      result.LatencyMs,
		CheckedAt:      result.CheckedAt.UTC().Format(time.RFC3339),
		Source:         "reachprobe",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("marshaling webhook payload", zap.Int64("endpoint_id", ep.ID), zap.Error(err))
		return
	}

	resp, err := a.client.Post(a.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		a.logger.Error("sending webhook", zap.Int64("endpoint_id", ep.ID), zap.String("url", a.webhookURL), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		a.logger.Warn("webhook returned non-2xx status",
			zap.Int64("endpoint_id", ep.ID),
			zap.Int("status", resp.StatusCode),
		)
	}
}
