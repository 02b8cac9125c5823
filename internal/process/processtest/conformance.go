package processtest

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/encodedeck/internal/process"
)

// ConformanceConfig describes the implementation under test.
type ConformanceConfig struct {
	// NewLongRunning returns an unstarted handle for a process that keeps
	// running until killed, with stdout redirected.
	NewLongRunning func(t *testing.T) process.Handle

	// ExitTimeout bounds how long a killed process may take to be reported
	// as exited. Defaults to 5s.
	ExitTimeout time.Duration
}

// RunConformanceTests checks the behavior every process.Handle must share.
func RunConformanceTests(t *testing.T, cfg ConformanceConfig) {
	t.Helper()
	if cfg.ExitTimeout == 0 {
		cfg.ExitTimeout = 5 * time.Second
	}

	started := func(t *testing.T) process.Handle {
		t.Helper()
		h := cfg.NewLongRunning(t)
		created, err := h.Start()
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if !created {
			t.Fatal("Start() = false, want true for a new process")
		}
		t.Cleanup(func() {
			_ = h.Kill()
			h.WaitForExit(cfg.ExitTimeout)
			_ = h.Close()
		})
		return h
	}

	t.Run("StartReportsNewProcess", func(t *testing.T) {
		h := started(t)
		if h.HasExited() {
			t.Error("HasExited() = true right after Start")
		}
		if h.PID() == 0 {
			t.Error("PID() = 0 after Start")
		}
		created, err := h.Start()
		if err != nil {
			t.Fatalf("second Start() error = %v", err)
		}
		if created {
			t.Error("second Start() = true, want false for a running process")
		}
	})

	t.Run("KillBeforeStart", func(t *testing.T) {
		h := cfg.NewLongRunning(t)
		defer h.Close()
		if err := h.Kill(); !errors.Is(err, process.ErrNotStarted) {
			t.Errorf("Kill() error = %v, want ErrNotStarted", err)
		}
		if h.WaitForExit(0) {
			t.Error("WaitForExit(0) = true before Start")
		}
		if _, err := h.ExitCode(); !errors.Is(err, process.ErrNotStarted) {
			t.Errorf("ExitCode() error = %v, want ErrNotStarted", err)
		}
	})

	t.Run("WaitForExitZeroPolls", func(t *testing.T) {
		h := started(t)
		if h.WaitForExit(0) {
			t.Fatal("WaitForExit(0) = true while running")
		}
		if err := h.Kill(); err != nil {
			t.Fatalf("Kill() error = %v", err)
		}
		if !h.WaitForExit(cfg.ExitTimeout) {
			t.Fatal("process not reported exited after Kill")
		}
		for i := range 200 {
			if !h.WaitForExit(0) {
				t.Fatalf("WaitForExit(0) = false on exited process (call %d)", i+1)
			}
		}
	})

	t.Run("CountersChangeOnlyOnRefresh", func(t *testing.T) {
		h := started(t)
		before := h.Counters()
		time.Sleep(50 * time.Millisecond)
		if got := h.Counters(); got != before {
			t.Fatalf("Counters() changed without Refresh: %+v -> %+v", before, got)
		}

		if err := h.Refresh(); errors.Is(err, process.ErrUnsupported) {
			t.Skip("Refresh unsupported on this platform")
		} else if err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		snapshot := h.Counters()
		time.Sleep(50 * time.Millisecond)
		if got := h.Counters(); got != snapshot {
			t.Errorf("Counters() changed between refreshes: %+v -> %+v", snapshot, got)
		}
	})

	t.Run("KillIsObservedOnce", func(t *testing.T) {
		h := cfg.NewLongRunning(t)
		h.SetEnableRaisingEvents(true)
		var fired atomic.Int32
		done := make(chan struct{}, 4)
		h.OnExited(func() {
			fired.Add(1)
			done <- struct{}{}
		})

		if created, err := h.Start(); err != nil || !created {
			t.Fatalf("Start() = %v, %v", created, err)
		}
		t.Cleanup(func() { _ = h.Close() })

		if h.HasExited() {
			t.Fatal("HasExited() = true before Kill")
		}
		if err := h.Kill(); err != nil {
			t.Fatalf("Kill() error = %v", err)
		}
		if !h.WaitForExit(cfg.ExitTimeout) {
			t.Fatal("process not reported exited after Kill")
		}
		if !h.HasExited() {
			t.Error("HasExited() = false after WaitForExit returned true")
		}

		select {
		case <-done:
		case <-time.After(cfg.ExitTimeout):
			t.Fatal("Exited callback never fired")
		}
		time.Sleep(50 * time.Millisecond)
		if n := fired.Load(); n != 1 {
			t.Errorf("Exited fired %d times, want 1", n)
		}

		select {
		case <-h.Exited():
		default:
			t.Error("Exited() channel not closed")
		}
		if _, err := h.ExitTime(); err != nil {
			t.Errorf("ExitTime() error = %v", err)
		}
	})

	t.Run("KillAfterExit", func(t *testing.T) {
		h := started(t)
		if err := h.Kill(); err != nil {
			t.Fatalf("Kill() error = %v", err)
		}
		h.WaitForExit(cfg.ExitTimeout)
		if err := h.Kill(); !errors.Is(err, process.ErrProcessExited) {
			t.Errorf("second Kill() error = %v, want ErrProcessExited", err)
		}
		if h.CloseMainWindow() {
			t.Error("CloseMainWindow() = true after exit")
		}
	})

	t.Run("WaitForExitTimesOut", func(t *testing.T) {
		h := started(t)
		if h.WaitForExit(0) {
			t.Error("WaitForExit(0) = true for a running process")
		}
		start := time.Now()
		if h.WaitForExit(50 * time.Millisecond) {
			t.Error("WaitForExit(50ms) = true for a running process")
		}
		if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
			t.Errorf("WaitForExit returned after %v, want about 50ms", elapsed)
		}
		if _, err := h.ExitCode(); !errors.Is(err, process.ErrNotExited) {
			t.Errorf("ExitCode() error = %v, want ErrNotExited", err)
		}
	})

	t.Run("WaitForInputIdle", func(t *testing.T) {
		h := started(t)
		if h.WaitForInputIdle(10 * time.Millisecond) {
			t.Error("WaitForInputIdle() = true, want false")
		}
	})

	t.Run("NoCallbackWithoutRaisingEvents", func(t *testing.T) {
		h := started(t)
		var fired atomic.Bool
		h.OnExited(func() { fired.Store(true) })

		if err := h.Kill(); err != nil {
			t.Fatalf("Kill() error = %v", err)
		}
		if !h.WaitForExit(cfg.ExitTimeout) {
			t.Fatal("process not reported exited after Kill")
		}
		time.Sleep(50 * time.Millisecond)
		if fired.Load() {
			t.Error("Exited callback fired with raising events disabled")
		}
	})

	t.Run("CallbacksUseDispatcher", func(t *testing.T) {
		h := cfg.NewLongRunning(t)
		d := &recordingDispatcher{}
		h.SetSynchronizingObject(d)
		h.SetEnableRaisingEvents(true)
		if h.SynchronizingObject() != d {
			t.Fatal("SynchronizingObject() did not return the dispatcher")
		}

		done := make(chan struct{})
		var once sync.Once
		h.OnExited(func() { once.Do(func() { close(done) }) })

		if _, err := h.Start(); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		t.Cleanup(func() { _ = h.Close() })
		if err := h.Kill(); err != nil {
			t.Fatalf("Kill() error = %v", err)
		}

		select {
		case <-done:
		case <-time.After(cfg.ExitTimeout):
			t.Fatal("Exited callback never fired")
		}
		if d.count() == 0 {
			t.Error("Exited callback bypassed the dispatcher")
		}
	})

	t.Run("StreamModes", func(t *testing.T) {
		h := cfg.NewLongRunning(t)
		if err := h.BeginOutputReadLine(); !errors.Is(err, process.ErrNotStarted) {
			t.Errorf("BeginOutputReadLine() before Start error = %v, want ErrNotStarted", err)
		}
		if _, err := h.Start(); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		t.Cleanup(func() {
			_ = h.Kill()
			h.WaitForExit(cfg.ExitTimeout)
			_ = h.Close()
		})

		if err := h.BeginOutputReadLine(); err != nil {
			t.Fatalf("BeginOutputReadLine() error = %v", err)
		}
		if err := h.BeginOutputReadLine(); !errors.Is(err, process.ErrAlreadyReading) {
			t.Errorf("second BeginOutputReadLine() error = %v, want ErrAlreadyReading", err)
		}
		if _, err := h.Stdout(); !errors.Is(err, process.ErrStreamMode) {
			t.Errorf("Stdout() after async read error = %v, want ErrStreamMode", err)
		}
		if err := h.CancelOutputRead(); err != nil {
			t.Errorf("CancelOutputRead() error = %v", err)
		}
		if err := h.CancelOutputRead(); !errors.Is(err, process.ErrNotReading) {
			t.Errorf("second CancelOutputRead() error = %v, want ErrNotReading", err)
		}
		if err := h.BeginOutputReadLine(); err != nil {
			t.Errorf("BeginOutputReadLine() after cancel error = %v", err)
		}
	})

	t.Run("CloseIsIdempotent", func(t *testing.T) {
		h := cfg.NewLongRunning(t)
		if _, err := h.Start(); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if err := h.Kill(); err != nil {
			t.Fatalf("Kill() error = %v", err)
		}
		h.WaitForExit(cfg.ExitTimeout)

		if err := h.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
		if err := h.Close(); err != nil {
			t.Errorf("second Close() error = %v", err)
		}
		if err := h.Kill(); !errors.Is(err, process.ErrClosed) {
			t.Errorf("Kill() after Close error = %v, want ErrClosed", err)
		}
		if _, err := h.ExitCode(); !errors.Is(err, process.ErrClosed) {
			t.Errorf("ExitCode() after Close error = %v, want ErrClosed", err)
		}
	})
}

type recordingDispatcher struct {
	mu sync.Mutex
	n  int
}

func (d *recordingDispatcher) Invoke(fn func()) {
	d.mu.Lock()
	d.n++
	d.mu.Unlock()
	fn()
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}
