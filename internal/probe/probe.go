package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a probe when Options.Timeout is zero.
const DefaultTimeout = 8 * time.Second

// DefaultMaxRedirects is the redirect limit when Options.MaxRedirects is zero.
const DefaultMaxRedirects = 10

// drainLimit caps how much of a response body is read before closing it.
const drainLimit = 64 << 10

// Mode selects how much of a response the probe is allowed to observe.
type Mode int

const (
	// ModeFull sees the status code. Only 2xx responses are reachable.
	ModeFull Mode = iota
	// ModeOpaque behaves like a browser no-cors fetch: any response that
	// settles without a transport error is reachable and no status is reported.
	ModeOpaque
)

func (m Mode) String() string {
	if m == ModeOpaque {
		return "opaque"
	}
	return "full"
}

// Options configures a Prober.
type Options struct {
	Timeout      time.Duration
	Mode         Mode
	MaxRedirects int
	UserAgent    string
	// Transport overrides http.DefaultTransport (tests, proxies).
	Transport http.RoundTripper
}

// Prober issues single bounded-time requests and classifies the outcome.
// It holds no per-call state and is safe for concurrent use.
type Prober struct {
	client    *http.Client
	timeout   time.Duration
	mode      Mode
	userAgent string
}

// New creates a Prober.
func New(opts Options) *Prober {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	return &Prober{
		client: &http.Client{
			Transport: opts.Transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		timeout:   timeout,
		mode:      opts.Mode,
		userAgent: opts.UserAgent,
	}
}

// Mode returns the visibility mode the prober was built with.
func (p *Prober) Mode() Mode {
	return p.mode
}

// Probe runs one request against t. It never fails: every error is folded
// into a blocked Result.
func (p *Prober) Probe(ctx context.Context, t Target) Result {
	normalized, err := Normalize(t.URL)
	if err != nil {
		return Result{
			Status:    StatusBlocked,
			Error:     "invalid url",
			Failure:   FailureInvalidInput,
			URL:       strings.TrimSpace(t.URL),
			CheckedAt: time.Now(),
		}
	}

	method := strings.ToUpper(strings.TrimSpace(t.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if t.Payload != "" {
		body = strings.NewReader(t.Payload)
	}

	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, method, normalized, body)
	if err != nil {
		return Result{
			Status:    StatusBlocked,
			Error:     fmt.Sprintf("creating request: %v", err),
			Failure:   FailureInvalidInput,
			URL:       normalized,
			CheckedAt: time.Now(),
		}
	}
	if t.Payload != "" {
		ct := t.ContentType
		if ct == "" {
			ct = "text/plain"
		}
		req.Header.Set("Content-Type", ct)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	result := Result{
		URL:       normalized,
		LatencyMs: msSince(start),
		CheckedAt: time.Now(),
	}
	if err != nil {
		result.Status = StatusBlocked
		result.Failure, result.Error = describeFailure(ctx, probeCtx, err)
		return result
	}
	defer resp.Body.Close()
	if resp.Request != nil && resp.Request.URL != nil {
		result.URL = resp.Request.URL.String()
	}

	if p.mode == ModeOpaque {
		result.Status = StatusReachable
		drain(resp.Body)
		return result
	}

	result.HTTPStatus = resp.StatusCode
	result.Title = pageTitle(resp)
	drain(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Status = StatusReachable
		return result
	}
	result.Status = StatusBlocked
	result.Failure = FailureHTTPStatus
	result.Error = statusError(resp.StatusCode)
	return result
}

func describeFailure(parent, probeCtx context.Context, err error) (Failure, string) {
	if errors.Is(parent.Err(), context.Canceled) {
		return FailureNetwork, "canceled"
	}
	if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
		return FailureTimeout, "timeout"
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		err = ue.Err
	}
	return FailureNetwork, err.Error()
}

func statusError(code int) string {
	if text := http.StatusText(code); text != "" {
		return fmt.Sprintf("http status %d %s", code, text)
	}
	return fmt.Sprintf("http status %d", code)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, drainLimit))
}
