package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/encodedeck/internal/encoder"
	"github.com/smazurov/encodedeck/internal/logging"
	"github.com/smazurov/encodedeck/internal/process"
	"github.com/smazurov/encodedeck/internal/session"
)

// Defaults for Config.
const (
	DefaultGracefulTimeout = 5 * time.Second
	DefaultKillTimeout     = 5 * time.Second
	DefaultBacklog         = 200
)

// KilledExitCode is returned by Run when the process had to be killed.
const KilledExitCode = 137

// OutputHandler receives output lines from the process.
// Implementations can forward output to metrics, files, etc.
type OutputHandler interface {
	HandleLine(source, line string)
}

// StateChangeCallback is called on every state transition.
type StateChangeCallback func(w *Worker, oldState, newState State)

// Config configures a Worker.
type Config struct {
	// ID identifies the worker. Generated when empty.
	ID string

	// Options is the display metadata handed to the session registry.
	Options session.WorkerOptions

	// Command is the command line shown in status output.
	Command string

	// GracefulTimeout is how long Run waits after the close request before
	// killing the process.
	GracefulTimeout time.Duration

	// KillTimeout is how long Run waits after Kill before giving up.
	KillTimeout time.Duration

	// Backlog is how many recent lines are replayed to a panel on Render.
	Backlog int

	// Logger for lifecycle messages. Defaults to the "worker" module logger.
	Logger logging.Logger

	// OutputLogger receives every output line at the level the encoder
	// tagged it with. Defaults to the "encoder" module logger.
	OutputLogger logging.Logger

	// OutputHandler receives every output line (optional).
	OutputHandler OutputHandler

	// OnStateChange is called on state transitions (optional).
	OnStateChange StateChangeCallback

	// Dispatcher, when set, becomes the handle's SynchronizingObject.
	Dispatcher process.Dispatcher
}

type line struct {
	source string
	text   string
}

// Worker runs one process and renders its output into session panels.
type Worker struct {
	cfg    Config
	handle process.Handle
	logger logging.Logger

	mu        sync.Mutex
	state     State
	exitCode  int
	err       error
	startedAt time.Time
	backlog   []line
	head      int
	panels    []session.Panel

	ran  sync.Once
	done chan struct{}
}

var _ session.Worker = (*Worker)(nil)

// New creates a worker around an unstarted handle.
func New(handle process.Handle, cfg Config) *Worker {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultBacklog
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger("worker")
	}
	if cfg.OutputLogger == nil {
		cfg.OutputLogger = logging.GetLogger("encoder")
	}
	return &Worker{
		cfg:    cfg,
		handle: handle,
		logger: cfg.Logger,
		state:  StateIdle,
		done:   make(chan struct{}),
	}
}

// NewFromCommand parses command and creates a worker for an OS process with
// stdout and stderr redirected.
func NewFromCommand(command string, cfg Config) (*Worker, error) {
	info, err := process.ParseCommand(command)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	return NewFromStartInfo(info, cfg), nil
}

// NewFromStartInfo creates a worker for an OS process described by info.
// Output is always redirected.
func NewFromStartInfo(info process.StartInfo, cfg Config) *Worker {
	info.RedirectStdout = true
	info.RedirectStderr = true
	if cfg.Command == "" {
		cfg.Command = info.CommandLine()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger("process")
	}
	return New(process.New(info, process.WithLogger(logger)), cfg)
}

// ID returns the worker identifier.
func (w *Worker) ID() string { return w.cfg.ID }

// Options returns the display metadata.
func (w *Worker) Options() session.WorkerOptions { return w.cfg.Options }

// Handle returns the underlying process handle.
func (w *Worker) Handle() process.Handle { return w.handle }

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} { return w.done }

// State returns the current state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// ExitCode returns the code Run returned, or 0 while running.
func (w *Worker) ExitCode() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exitCode
}

// Err returns the start failure, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Info returns a status snapshot.
func (w *Worker) Info() Info {
	w.mu.Lock()
	defer w.mu.Unlock()
	info := Info{
		ID:        w.cfg.ID,
		JobID:     string(w.cfg.Options.JobID),
		Title:     w.cfg.Options.Title,
		Command:   w.cfg.Command,
		State:     w.state,
		PID:       w.handle.PID(),
		StartedAt: w.startedAt,
	}
	if w.state.Finished() {
		code := w.exitCode
		info.ExitCode = &code
	}
	if w.err != nil {
		info.Error = w.err.Error()
	}
	return info
}

// Render attaches panel: it receives the recent backlog and the current
// status right away, then every new line and status change.
func (w *Worker) Render(panel session.Panel) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, l := range w.orderedBacklog() {
		panel.AppendLine(l.source, l.text)
	}
	panel.SetStatus(statusText(w.state, w.exitCode, w.err))
	w.panels = append(w.panels, panel)
}

// orderedBacklog returns the backlog oldest first (must hold lock).
func (w *Worker) orderedBacklog() []line {
	if len(w.backlog) < w.cfg.Backlog {
		return w.backlog
	}
	out := make([]line, 0, len(w.backlog))
	out = append(out, w.backlog[w.head:]...)
	return append(out, w.backlog[:w.head]...)
}

func (w *Worker) handleLine(ev process.LineEvent) {
	source := string(ev.Source)

	w.mu.Lock()
	l := line{source: source, text: ev.Line}
	if len(w.backlog) < w.cfg.Backlog {
		w.backlog = append(w.backlog, l)
	} else {
		w.backlog[w.head] = l
		w.head = (w.head + 1) % w.cfg.Backlog
	}
	for _, p := range w.panels {
		p.AppendLine(source, ev.Line)
	}
	w.mu.Unlock()

	if w.cfg.OutputHandler != nil {
		w.cfg.OutputHandler.HandleLine(source, ev.Line)
	}
	encoder.Log(w.cfg.OutputLogger, ev.Line)
}

func (w *Worker) setState(newState State) {
	w.mu.Lock()
	oldState := w.state
	if oldState == newState {
		w.mu.Unlock()
		return
	}
	w.state = newState
	status := statusText(newState, w.exitCode, w.err)
	for _, p := range w.panels {
		p.SetStatus(status)
	}
	w.mu.Unlock()

	if w.cfg.OnStateChange != nil {
		w.cfg.OnStateChange(w, oldState, newState)
	}
}

// Run starts the process and blocks until it exits. When ctx is cancelled
// the process gets a close request, then GracefulTimeout to exit before it
// is killed. Run returns the exit code: 1 if the process could not be
// started and 137 if it had to be killed. Calling Run again returns the
// first result.
func (w *Worker) Run(ctx context.Context) int {
	w.ran.Do(func() {
		code := w.run(ctx)
		w.mu.Lock()
		w.exitCode = code
		w.mu.Unlock()
		close(w.done)
	})
	<-w.done
	return w.ExitCode()
}

func (w *Worker) run(ctx context.Context) int {
	h := w.handle
	defer h.Close()

	w.setState(StateStarting)

	if w.cfg.Dispatcher != nil {
		h.SetSynchronizingObject(w.cfg.Dispatcher)
	}
	offOut := h.OnOutputData(w.handleLine)
	offErr := h.OnErrorData(w.handleLine)
	defer offOut()
	defer offErr()

	if _, err := h.Start(); err != nil {
		w.logger.Error("Failed to start process", "id", w.cfg.ID, "command", w.cfg.Command, "error", err)
		w.finish(StateError, 1, err)
		return 1
	}

	w.mu.Lock()
	w.startedAt = time.Now()
	w.mu.Unlock()

	for _, begin := range []func() error{h.BeginOutputReadLine, h.BeginErrorReadLine} {
		if err := begin(); err != nil && !errors.Is(err, process.ErrNotRedirected) {
			w.logger.Warn("Failed to read process output", "id", w.cfg.ID, "error", err)
		}
	}

	w.setState(StateRunning)
	w.logger.Info("Worker running", "id", w.cfg.ID, "pid", h.PID(), "title", w.cfg.Options.Title)

	select {
	case <-h.Exited():
		code, err := h.ExitCode()
		if err != nil {
			w.logger.Warn("Exit code unavailable", "id", w.cfg.ID, "error", err)
			code = 1
		}
		w.logger.Info("Process exited", "id", w.cfg.ID, "exit_code", code)
		w.finishCode(code)
		return code
	case <-ctx.Done():
		w.logger.Info("Context cancelled, stopping process", "id", w.cfg.ID)
		w.setState(StateStopping)
		code := w.stop(h)
		w.finishCode(code)
		return code
	}
}

// stop asks the process to exit, force-killing it after GracefulTimeout.
func (w *Worker) stop(h process.Handle) int {
	if h.CloseMainWindow() && h.WaitForExit(w.cfg.GracefulTimeout) {
		code, err := h.ExitCode()
		if err == nil {
			return code
		}
	}
	if h.HasExited() {
		if code, err := h.ExitCode(); err == nil {
			return code
		}
	}

	w.logger.Warn("Graceful shutdown timeout, forcing kill", "id", w.cfg.ID, "timeout", w.cfg.GracefulTimeout)
	if err := h.Kill(); err != nil && !errors.Is(err, process.ErrProcessExited) {
		w.logger.Error("Failed to kill process", "id", w.cfg.ID, "error", err)
	}
	if !h.WaitForExit(w.cfg.KillTimeout) {
		w.logger.Error("Process did not exit after kill signal", "id", w.cfg.ID)
	}
	return KilledExitCode
}

func (w *Worker) finishCode(code int) {
	if code == 0 {
		w.finish(StateExited, 0, nil)
		return
	}
	w.finish(StateError, code, nil)
}

func (w *Worker) finish(state State, code int, err error) {
	w.mu.Lock()
	w.exitCode = code
	w.err = err
	w.mu.Unlock()
	w.setState(state)
}
