package probe

import "time"

// Status is the reachability classification of a probe.
type Status string

const (
	StatusReachable Status = "reachable"
	StatusBlocked   Status = "blocked"
)

// Failure names why a probe was classified as blocked.
type Failure string

const (
	FailureNone         Failure = ""
	FailureInvalidInput Failure = "invalid_input"
	FailureNetwork      Failure = "network"
	FailureTimeout      Failure = "timeout"
	FailureHTTPStatus   Failure = "http_status"
)

// Target is what to probe. An empty Payload means no request body.
type Target struct {
	URL         string `json:"url"`
	Method      string `json:"method,omitempty"`
	Payload     string `json:"payload,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// Result is the terminal outcome of a single probe. HTTPStatus is zero when
// no status was observed (transport failure or opaque mode).
type Result struct {
	Status     Status    `json:"status"`
	HTTPStatus int       `json:"httpStatus,omitempty"`
	LatencyMs  float64   `json:"latencyMs"`
	Error      string    `json:"error,omitempty"`
	Failure    Failure   `json:"failure,omitempty"`
	URL        string    `json:"url"`
	Title      string    `json:"title,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// Reachable reports whether the result was classified reachable.
func (r Result) Reachable() bool {
	return r.Status == StatusReachable
}
