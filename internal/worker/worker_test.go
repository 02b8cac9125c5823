package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/encodedeck/internal/logging"
	"github.com/smazurov/encodedeck/internal/process/processtest"
	"github.com/smazurov/encodedeck/internal/session"
)

type recordingPanel struct {
	mu       sync.Mutex
	lines    []string
	statuses []string
}

func (p *recordingPanel) AppendLine(source, line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, source+":"+line)
}

func (p *recordingPanel) SetStatus(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status)
}

func (p *recordingPanel) snapshot() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lines...), append([]string(nil), p.statuses...)
}

type recordingOutput struct {
	mu    sync.Mutex
	lines []string
}

func (o *recordingOutput) HandleLine(_, line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines = append(o.lines, line)
}

func testConfig() Config {
	return Config{
		Options:         session.WorkerOptions{JobID: "job", Title: "pass 1"},
		GracefulTimeout: 50 * time.Millisecond,
		KillTimeout:     50 * time.Millisecond,
		Logger:          logging.Discard(),
		OutputLogger:    logging.Discard(),
	}
}

// runAsync runs the worker in a goroutine and returns the exit code channel.
func runAsync(ctx context.Context, w *Worker) <-chan int {
	done := make(chan int, 1)
	go func() {
		done <- w.Run(ctx)
	}()
	return done
}

func waitForState(t *testing.T, w *Worker, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if w.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("worker state = %s, want %s", w.State(), want)
}

func waitForExit(t *testing.T, done <-chan int) int {
	t.Helper()
	select {
	case code := <-done:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for worker to exit")
		return -1
	}
}

func TestRunNaturalExit(t *testing.T) {
	fake := processtest.NewFake()
	out := &recordingOutput{}
	cfg := testConfig()
	cfg.OutputHandler = out
	w := New(fake, cfg)

	panel := &recordingPanel{}
	w.Render(panel)

	done := runAsync(context.Background(), w)
	waitForState(t, w, StateRunning)

	fake.EmitError("[info] Stream mapping:")
	fake.EmitOutput("frame=1")
	fake.Exit(0)

	if code := waitForExit(t, done); code != 0 {
		t.Errorf("Run() = %d, want 0", code)
	}
	if w.State() != StateExited {
		t.Errorf("State() = %s, want exited", w.State())
	}

	lines, statuses := panel.snapshot()
	if got := strings.Join(lines, "|"); got != "stderr:[info] Stream mapping:|stdout:frame=1" {
		t.Errorf("panel lines = %q", got)
	}
	wantStatuses := []string{"idle", "starting", "running", "exited (code 0)"}
	if fmt.Sprint(statuses) != fmt.Sprint(wantStatuses) {
		t.Errorf("panel statuses = %q, want %q", statuses, wantStatuses)
	}
	if len(out.lines) != 2 {
		t.Errorf("output handler got %d lines, want 2", len(out.lines))
	}

	select {
	case <-w.Done():
	default:
		t.Error("Done() not closed after Run returned")
	}
	if fake.CallCount("Close") != 1 {
		t.Errorf("handle closed %d times, want 1", fake.CallCount("Close"))
	}
}

func TestRunNonZeroExit(t *testing.T) {
	fake := processtest.NewFake()
	w := New(fake, testConfig())

	done := runAsync(context.Background(), w)
	waitForState(t, w, StateRunning)
	fake.Exit(42)

	if code := waitForExit(t, done); code != 42 {
		t.Errorf("Run() = %d, want 42", code)
	}
	if w.State() != StateError {
		t.Errorf("State() = %s, want error", w.State())
	}
	info := w.Info()
	if info.ExitCode == nil || *info.ExitCode != 42 {
		t.Errorf("Info().ExitCode = %v, want 42", info.ExitCode)
	}
}

func TestRunStartFailure(t *testing.T) {
	fake := processtest.NewFake(processtest.WithStartResult(false, os.ErrNotExist))
	w := New(fake, testConfig())

	if code := w.Run(context.Background()); code != 1 {
		t.Errorf("Run() = %d, want 1", code)
	}
	if w.State() != StateError {
		t.Errorf("State() = %s, want error", w.State())
	}
	if !errors.Is(w.Err(), os.ErrNotExist) {
		t.Errorf("Err() = %v, want ErrNotExist", w.Err())
	}
	if w.Info().Error == "" {
		t.Error("Info().Error empty after start failure")
	}
}

func TestGracefulStop(t *testing.T) {
	fake := processtest.NewFake(processtest.WithCloseExits(0))
	w := New(fake, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, w)
	waitForState(t, w, StateRunning)
	cancel()

	if code := waitForExit(t, done); code != 0 {
		t.Errorf("Run() = %d, want 0", code)
	}
	if fake.CallCount("CloseMainWindow") != 1 {
		t.Errorf("CloseMainWindow calls = %d, want 1", fake.CallCount("CloseMainWindow"))
	}
	if fake.CallCount("Kill") != 0 {
		t.Errorf("Kill calls = %d, want 0", fake.CallCount("Kill"))
	}
}

func TestForceKillOnTimeout(t *testing.T) {
	fake := processtest.NewFake()
	var states []State
	var mu sync.Mutex
	cfg := testConfig()
	cfg.OnStateChange = func(_ *Worker, _, newState State) {
		mu.Lock()
		states = append(states, newState)
		mu.Unlock()
	}
	w := New(fake, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, w)
	waitForState(t, w, StateRunning)
	cancel()

	if code := waitForExit(t, done); code != KilledExitCode {
		t.Errorf("Run() = %d, want %d", code, KilledExitCode)
	}
	if fake.CallCount("Kill") != 1 {
		t.Errorf("Kill calls = %d, want 1", fake.CallCount("Kill"))
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateStarting, StateRunning, StateStopping, StateError}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("state changes = %v, want %v", states, want)
	}
}

func TestRenderReplaysBacklog(t *testing.T) {
	fake := processtest.NewFake()
	cfg := testConfig()
	cfg.Backlog = 3
	w := New(fake, cfg)

	done := runAsync(context.Background(), w)
	waitForState(t, w, StateRunning)
	for i := 1; i <= 5; i++ {
		fake.EmitError(fmt.Sprintf("line %d", i))
	}

	panel := &recordingPanel{}
	w.Render(panel)
	fake.EmitError("line 6")
	fake.Exit(0)
	waitForExit(t, done)

	lines, statuses := panel.snapshot()
	want := []string{"stderr:line 3", "stderr:line 4", "stderr:line 5", "stderr:line 6"}
	if fmt.Sprint(lines) != fmt.Sprint(want) {
		t.Errorf("panel lines = %q, want %q", lines, want)
	}
	if len(statuses) == 0 || statuses[0] != "running" {
		t.Errorf("first status = %v, want running", statuses)
	}
}

func TestRenderAfterFinish(t *testing.T) {
	fake := processtest.NewFake()
	w := New(fake, testConfig())
	done := runAsync(context.Background(), w)
	waitForState(t, w, StateRunning)
	fake.EmitOutput("done")
	fake.Exit(3)
	waitForExit(t, done)

	panel := &recordingPanel{}
	w.Render(panel)
	lines, statuses := panel.snapshot()
	if len(lines) != 1 || lines[0] != "stdout:done" {
		t.Errorf("lines = %q", lines)
	}
	if len(statuses) != 1 || statuses[0] != "error (code 3)" {
		t.Errorf("statuses = %q", statuses)
	}
}

func TestRunTwiceReturnsFirstResult(t *testing.T) {
	fake := processtest.NewFake()
	w := New(fake, testConfig())
	done := runAsync(context.Background(), w)
	waitForState(t, w, StateRunning)
	fake.Exit(7)
	waitForExit(t, done)

	if code := w.Run(context.Background()); code != 7 {
		t.Errorf("second Run() = %d, want 7", code)
	}
	if fake.CallCount("Start") != 1 {
		t.Errorf("Start calls = %d, want 1", fake.CallCount("Start"))
	}
}

func TestDefaults(t *testing.T) {
	w := New(processtest.NewFake(), Config{})
	if w.ID() == "" {
		t.Error("ID() empty, want generated id")
	}
	if w.cfg.GracefulTimeout != DefaultGracefulTimeout || w.cfg.Backlog != DefaultBacklog {
		t.Errorf("defaults not applied: %+v", w.cfg)
	}
	if w.State() != StateIdle {
		t.Errorf("State() = %s, want idle", w.State())
	}
}

func TestNewFromCommand(t *testing.T) {
	if _, err := NewFromCommand(`echo "unclosed`, testConfig()); err == nil {
		t.Error("NewFromCommand() accepted an unclosed quote")
	}

	w, err := NewFromCommand(`sh -c "echo hello; echo oops >&2; exit 3"`, testConfig())
	if err != nil {
		t.Fatalf("NewFromCommand() error = %v", err)
	}
	panel := &recordingPanel{}
	w.Render(panel)

	if code := w.Run(context.Background()); code != 3 {
		t.Errorf("Run() = %d, want 3", code)
	}
	lines, _ := panel.snapshot()
	got := strings.Join(lines, "|")
	if !strings.Contains(got, "stdout:hello") || !strings.Contains(got, "stderr:oops") {
		t.Errorf("panel lines = %q", got)
	}
	if w.Info().Command == "" {
		t.Error("Info().Command empty")
	}
}

func TestGracefulStopRealProcess(t *testing.T) {
	w, err := NewFromCommand(`sh -c "trap 'exit 0' INT TERM; while :; do sleep 0.1; done"`, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	w.cfg.GracefulTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, w)
	waitForState(t, w, StateRunning)
	time.Sleep(100 * time.Millisecond)
	cancel()

	if code := waitForExit(t, done); code != 0 {
		t.Errorf("Run() = %d, want 0", code)
	}
}

func TestForceKillRealProcess(t *testing.T) {
	w, err := NewFromCommand(`sh -c "trap '' INT; sleep 10"`, testConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, w)
	waitForState(t, w, StateRunning)
	time.Sleep(50 * time.Millisecond)
	cancel()

	if code := waitForExit(t, done); code != KilledExitCode {
		t.Errorf("Run() = %d, want %d", code, KilledExitCode)
	}
}
