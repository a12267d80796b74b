package connwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/reverie/internal/events"
)

// fastBackoff keeps tests in the millisecond range.
func fastBackoff() Backoff {
	return Backoff{
		Initial:  time.Millisecond,
		Max:      5 * time.Millisecond,
		Factor:   2,
		Attempts: 5,
		Poll:     5 * time.Millisecond,
		Timeout:  100 * time.Millisecond,
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// togglePinger fails while down is set and counts calls.
type togglePinger struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (p *togglePinger) Ping(context.Context) error {
	p.calls.Add(1)
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDefaultBackoff(t *testing.T) {
	t.Parallel()
	b := DefaultBackoff()
	if b.Initial != 2*time.Second || b.Max != 60*time.Second || b.Factor != 2 {
		t.Errorf("unexpected growth settings: %+v", b)
	}
	if b.Attempts != 10 || b.Poll != 60*time.Second || b.Timeout != 10*time.Second {
		t.Errorf("unexpected polling settings: %+v", b)
	}
}

func TestBackoff_Next(t *testing.T) {
	t.Parallel()
	b := DefaultBackoff()
	var got []time.Duration
	d := b.Initial
	for range 7 {
		got = append(got, d)
		d = b.next(d)
	}
	want := []time.Duration{2, 4, 8, 16, 32, 60, 60}
	for i := range want {
		if got[i] != want[i]*time.Second {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i]*time.Second)
		}
	}
}

func TestBackoff_WithDefaults(t *testing.T) {
	t.Parallel()
	b := Backoff{Attempts: 3}.withDefaults()
	if b.Attempts != 3 {
		t.Errorf("Attempts = %d, want explicit value kept", b.Attempts)
	}
	if b.Initial != 2*time.Second || b.Poll != 60*time.Second {
		t.Errorf("zero fields not defaulted: %+v", b)
	}
}

func TestWatch_PanicsOnBadConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no name", Config{Target: &togglePinger{}}},
		{"no target", Config{Name: "ollama"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Watch should panic")
				}
			}()
			Watch(context.Background(), tt.cfg)
		})
	}
}

func TestWatcher_ImmediateSuccess(t *testing.T) {
	t.Parallel()
	bus := events.New()
	ch := bus.Subscribe(4)
	defer bus.Unsubscribe(ch)

	w := Watch(context.Background(), Config{
		Name:    "ollama",
		Target:  &togglePinger{},
		Backoff: fastBackoff(),
		Events:  bus,
		Logger:  quiet(),
	})
	defer w.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !w.WaitReady(ctx) {
		t.Fatal("WaitReady returned false")
	}
	if !w.IsReady() || w.LastError() != nil {
		t.Errorf("IsReady=%v LastError=%v", w.IsReady(), w.LastError())
	}

	select {
	case evt := <-ch:
		if evt.Kind != events.KindBackendReady || evt.Data["name"] != "ollama" {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no backend_ready event")
	}

	// Steady polling must not republish readiness.
	time.Sleep(30 * time.Millisecond)
	select {
	case evt := <-ch:
		t.Errorf("unexpected event while steady: %+v", evt)
	default:
	}
}

func TestWatcher_BackoffThenSuccess(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	target := PingFunc(func(context.Context) error {
		if calls.Add(1) <= 3 {
			return errors.New("loading model")
		}
		return nil
	})

	w := Watch(context.Background(), Config{Name: "ollama", Target: target, Backoff: fastBackoff(), Logger: quiet()})
	defer w.Stop()

	waitFor(t, "ready", w.IsReady)
	if n := calls.Load(); n < 4 {
		t.Errorf("probe calls = %d, want >= 4", n)
	}
}

func TestWatcher_DownThenRecovers(t *testing.T) {
	t.Parallel()
	bus := events.New()
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	p := &togglePinger{}
	w := Watch(context.Background(), Config{Name: "ollama", Target: p, Backoff: fastBackoff(), Events: bus, Logger: quiet()})
	defer w.Stop()

	waitFor(t, "initial ready", w.IsReady)
	p.down.Store(true)
	waitFor(t, "down", func() bool { return !w.IsReady() })
	if w.Status().LastError == "" {
		t.Error("Status().LastError should be set while down")
	}
	p.down.Store(false)
	waitFor(t, "recovered", w.IsReady)

	want := []string{events.KindBackendReady, events.KindBackendDown, events.KindBackendReady}
	for i, kind := range want {
		select {
		case evt := <-ch:
			if evt.Kind != kind {
				t.Errorf("event %d = %q, want %q", i, evt.Kind, kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %d (%s)", i, kind)
		}
	}
}

func TestWatcher_ExhaustsStartupAttempts(t *testing.T) {
	t.Parallel()
	p := &togglePinger{}
	p.down.Store(true)

	b := fastBackoff()
	b.Attempts = 3
	w := Watch(context.Background(), Config{Name: "ollama", Target: p, Backoff: b, Logger: quiet()})
	defer w.Stop()

	waitFor(t, "startup attempts", func() bool { return p.calls.Load() >= 3 })
	if w.IsReady() {
		t.Error("should not be ready")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if w.WaitReady(ctx) {
		t.Error("WaitReady should give up when ctx expires")
	}
}

func TestWatcher_ProbeTimeout(t *testing.T) {
	t.Parallel()
	target := PingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	b := fastBackoff()
	b.Timeout = 5 * time.Millisecond
	b.Attempts = 1
	w := Watch(context.Background(), Config{Name: "slow", Target: target, Backoff: b, Logger: quiet()})
	defer w.Stop()

	waitFor(t, "probe error", func() bool { return w.LastError() != nil })
	if !errors.Is(w.LastError(), context.DeadlineExceeded) {
		t.Errorf("LastError = %v, want deadline exceeded", w.LastError())
	}
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	t.Parallel()
	p := &togglePinger{}
	p.down.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	w := Watch(ctx, Config{Name: "ollama", Target: p, Backoff: fastBackoff(), Logger: quiet()})
	cancel()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after context cancellation")
	}
}
