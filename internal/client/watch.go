package client

import (
	"context"
	"sync"
	"time"

	"github.com/hazz-dev/reachprobe/internal/scheduler"
)

// DefaultWatchInterval is how often WatchSummary polls when given zero.
const DefaultWatchInterval = 30 * time.Second

// Watcher polls the scheduler summary until stopped.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// WatchSummary polls /api/history/summary every interval and calls fn with
// each answer (or error). The first poll happens immediately. fn runs on
// the watcher goroutine; polling stops when ctx ends or Stop is called.
func (c *Client) WatchSummary(ctx context.Context, interval time.Duration, fn func(*scheduler.Status, error)) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			st, err := c.Summary(ctx)
			if ctx.Err() != nil {
				return
			}
			fn(st, err)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return w
}

// Stop ends polling and waits for the goroutine to exit. Safe to call more
// than once.
func (w *Watcher) Stop() {
	w.once.Do(w.cancel)
	<-w.done
}

// Done is closed once the watcher has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}
