// Package connwatch watches model backend reachability in the
// background. It complements httpkit's transport retry, which covers
// sub-second dial races: connwatch covers the backend being down for
// seconds or minutes (model server restarting, still loading, host
// asleep).
//
// A Watcher probes in two phases. At startup it retries with
// exponential backoff (2s, 4s, 8s, ... capped at 60s); afterwards it
// polls on a fixed interval. Transitions are logged and published on
// the event bus as backend_ready and backend_down.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/reverie/internal/events"
)

// Pinger checks whether the backend answers. llm.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to [Pinger].
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Backoff controls probe timing.
type Backoff struct {
	Initial  time.Duration // first retry delay (default 2s)
	Max      time.Duration // retry delay ceiling (default 60s)
	Factor   float64       // growth per retry (default 2)
	Attempts int           // startup attempts before polling (default 10)
	Poll     time.Duration // steady-state interval (default 60s)
	Timeout  time.Duration // per-probe limit (default 10s)
}

// DefaultBackoff returns 2s doubling to 60s, 10 startup attempts,
// then a probe every 60 seconds.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:  2 * time.Second,
		Max:      60 * time.Second,
		Factor:   2,
		Attempts: 10,
		Poll:     60 * time.Second,
		Timeout:  10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Factor <= 1 {
		b.Factor = d.Factor
	}
	if b.Attempts <= 0 {
		b.Attempts = d.Attempts
	}
	if b.Poll <= 0 {
		b.Poll = d.Poll
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Timeout
	}
	return b
}

// next grows delay by the factor, capped at Max.
func (b Backoff) next(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * b.Factor)
	return min(delay, b.Max)
}

// Config configures a Watcher.
type Config struct {
	// Name labels logs and events, e.g. "ollama".
	Name    string
	Target  Pinger
	Backoff Backoff
	Events  *events.Bus
	Logger  *slog.Logger
}

// Status is a point-in-time view of the watched backend.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher tracks one backend.
type Watcher struct {
	cfg    Config
	log    *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	firstReady chan struct{}
	readyOnce  sync.Once

	mu        sync.Mutex
	ready     bool
	lastErr   error
	lastCheck time.Time
}

// Watch starts a Watcher in its own goroutine. It runs until ctx is
// cancelled or Stop is called. Panics if Name is empty or Target is
// nil; zero Backoff fields take their defaults.
func Watch(ctx context.Context, cfg Config) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: Config.Name must not be empty")
	}
	if cfg.Target == nil {
		panic("connwatch: Config.Target must not be nil")
	}
	cfg.Backoff = cfg.Backoff.withDefaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		cfg:        cfg,
		log:        cfg.Logger.With("backend", cfg.Name),
		cancel:     cancel,
		done:       make(chan struct{}),
		firstReady: make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

// IsReady reports whether the last probe succeeded.
func (w *Watcher) IsReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// LastError returns the most recent probe error, or nil.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns the current health snapshot.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{Name: w.cfg.Name, Ready: w.ready, LastCheck: w.lastCheck}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// WaitReady blocks until the backend has answered at least once or ctx
// is done, and reports whether it became ready.
func (w *Watcher) WaitReady(ctx context.Context) bool {
	select {
	case <-w.firstReady:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

// Wait blocks until the watcher goroutine exits.
func (w *Watcher) Wait() { <-w.done }

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	b := w.cfg.Backoff

	delay := b.Initial
	for attempt := 1; ; attempt++ {
		err := w.check(ctx)
		if err == nil {
			w.log.Info("backend reachable", "after_attempts", attempt)
			break
		}
		if attempt >= b.Attempts {
			w.log.Warn("backend unreachable, falling back to periodic polling",
				"attempts", attempt,
				"poll", b.Poll.String(),
				"error", err,
			)
			break
		}
		w.log.Debug("backend probe failed, retrying",
			"attempt", attempt,
			"next_delay", delay.String(),
			"error", err,
		)
		if !sleep(ctx, delay) {
			return
		}
		delay = b.next(delay)
	}

	ticker := time.NewTicker(b.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.check(ctx); err != nil {
				w.log.Debug("backend still unreachable", "error", err)
			}
		}
	}
}

// check runs one probe and records any state transition.
func (w *Watcher) check(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, w.cfg.Backoff.Timeout)
	err := w.cfg.Target.Ping(pctx)
	cancel()

	if ctx.Err() != nil {
		// Shutting down; a cancelled probe says nothing about the backend.
		return err
	}

	w.mu.Lock()
	was := w.ready
	w.ready = err == nil
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	switch {
	case err == nil && !was:
		w.readyOnce.Do(func() { close(w.firstReady) })
		w.cfg.Events.Publish(events.Event{
			Source: events.SourceBackend,
			Kind:   events.KindBackendReady,
			Data:   map[string]any{"name": w.cfg.Name},
		})
	case err != nil && was:
		w.log.Warn("backend became unreachable", "error", err)
		w.cfg.Events.Publish(events.Event{
			Source: events.SourceBackend,
			Kind:   events.KindBackendDown,
			Data:   map[string]any{"name": w.cfg.Name, "error": err.Error()},
		})
	}
	return err
}

// sleep waits for d or until ctx is done. Returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
