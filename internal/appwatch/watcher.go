// Package appwatch polls the name of the frontmost application
package appwatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultPollInterval balances freshness against the cost of shelling
// out to the platform tool.
const DefaultPollInterval = 5 * time.Second

// prober implements platform-specific foreground lookup
type prober interface {
	frontmostApp() (string, error)
}

// Watcher polls the frontmost application on an interval and caches the
// latest answer so fragment stamping never blocks on a subprocess.
type Watcher struct {
	prober   prober
	interval time.Duration

	mu      sync.RWMutex
	current string

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a watcher backed by the platform prober.
func New(interval time.Duration) *Watcher {
	return newWatcher(newProber(), interval)
}

func newWatcher(p prober, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		prober:   p,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Run polls until ctx is canceled or Stop is called. The first poll
// happens immediately so Current is useful before the first tick.
func (w *Watcher) Run(ctx context.Context) {
	w.poll()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// Stop ends the poll loop.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Current returns the most recently observed frontmost application name.
// Empty means no observation yet.
func (w *Watcher) Current() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// poll probes once. Failures keep the previous value; a stale answer
// beats none when the display server is briefly unreachable.
func (w *Watcher) poll() {
	name, err := w.prober.frontmostApp()
	if err != nil {
		slog.Debug("frontmost app probe failed", "error", err)
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	w.mu.Lock()
	if name != w.current {
		w.current = name
		slog.Debug("foreground app changed", "app", name)
	}
	w.mu.Unlock()
}
