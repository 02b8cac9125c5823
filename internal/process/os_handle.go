package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/encodedeck/internal/logging"
)

// drainTimeout bounds how long exit waits for redirected streams to reach
// EOF once the process has been reaped. Grandchildren holding the pipe open
// must not delay the exit notification forever.
const drainTimeout = 2 * time.Second

// attachPollInterval is how often an attached handle checks whether its
// process is still alive.
const attachPollInterval = 100 * time.Millisecond

// Option configures an OSHandle.
type Option func(*OSHandle)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(logger logging.Logger) Option {
	return func(h *OSHandle) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithDispatcher sets the initial SynchronizingObject.
func WithDispatcher(d Dispatcher) Option {
	return func(h *OSHandle) { h.dispatcher = d }
}

// OSHandle is a Handle backed by a real operating system process.
type OSHandle struct {
	info     StartInfo
	logger   logging.Logger
	hostname string

	mu         sync.Mutex
	cmd        *exec.Cmd
	proc       *os.Process
	pid        int
	attached   bool
	started    bool
	closed     bool
	startTime  time.Time
	exitTime   time.Time
	exitCode   int
	raising    bool
	dispatcher Dispatcher

	stdin  io.WriteCloser
	stdout *pipeStream
	stderr *pipeStream

	snap     snapshot
	priority Priority
	boost    bool
	minWS    uint64
	maxWS    uint64

	exited        chan struct{}
	closing       chan struct{}
	exitListeners listeners[struct{}]
}

var _ Handle = (*OSHandle)(nil)

// New returns an unstarted handle for info.
func New(info StartInfo, opts ...Option) *OSHandle {
	h := &OSHandle{
		info:     info,
		logger:   logging.GetLogger("process"),
		exited:   make(chan struct{}),
		closing:  make(chan struct{}),
		priority: PriorityNormal,
	}
	h.hostname, _ = os.Hostname()
	for _, opt := range opts {
		opt(h)
	}
	if info.RedirectStdout {
		h.stdout = newPipeStream(StreamStdout, h.dispatch)
	}
	if info.RedirectStderr {
		h.stderr = newPipeStream(StreamStderr, h.dispatch)
	}
	return h
}

// Attach returns a handle for an already running process. Start on such a
// handle reports false and no streams are available.
func Attach(pid int, opts ...Option) (*OSHandle, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("attach to pid %d: invalid pid", pid)
	}
	if !processAlive(pid) {
		return nil, fmt.Errorf("attach to pid %d: %w", pid, os.ErrProcessDone)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("attach to pid %d: %w", pid, err)
	}

	h := New(StartInfo{}, opts...)
	h.proc = proc
	h.pid = pid
	h.attached = true
	h.started = true
	h.startTime = time.Now()
	if st, err := platformStartTime(pid); err == nil {
		h.startTime = st
	}
	if snap, err := readSnapshot(pid, h.snap); err == nil {
		h.snap = snap
	}

	go h.watchAttached()
	return h, nil
}

// Start launches the process described by the StartInfo.
func (h *OSHandle) Start() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false, ErrClosed
	}
	if h.started {
		if h.hasExited() {
			return false, ErrProcessExited
		}
		return false, nil
	}
	if err := h.info.validate(); err != nil {
		return false, err
	}

	cmd := exec.Command(h.info.FileName, h.info.Args...)
	cmd.Dir = h.info.Dir
	if h.info.Env != nil {
		cmd.Env = h.info.Env
	}
	cmd.SysProcAttr = sysProcAttr()

	var stdin io.WriteCloser
	if h.info.RedirectStdin {
		w, err := cmd.StdinPipe()
		if err != nil {
			return false, fmt.Errorf("stdin pipe: %w", err)
		}
		stdin = w
	}

	var writers []*os.File
	closeWriters := func() {
		for _, w := range writers {
			w.Close()
		}
	}
	for _, ps := range []*pipeStream{h.stdout, h.stderr} {
		if ps == nil {
			continue
		}
		r, w, err := os.Pipe()
		if err != nil {
			closeWriters()
			return false, fmt.Errorf("%s pipe: %w", ps.source, err)
		}
		ps.r = r
		writers = append(writers, w)
		if ps.source == StreamStdout {
			cmd.Stdout = w
		} else {
			cmd.Stderr = w
		}
	}

	if err := cmd.Start(); err != nil {
		closeWriters()
		for _, ps := range []*pipeStream{h.stdout, h.stderr} {
			if ps != nil && ps.r != nil {
				ps.r.Close()
				ps.r = nil
			}
		}
		h.logger.Debug("Failed to start process", "file", h.info.FileName, "error", err)
		return false, fmt.Errorf("start %s: %w", h.info.FileName, err)
	}
	// The child owns its copies now.
	closeWriters()

	h.cmd = cmd
	h.proc = cmd.Process
	h.pid = cmd.Process.Pid
	h.stdin = stdin
	h.started = true
	h.startTime = time.Now()

	h.logger.Info("Process started", "pid", h.pid, "command", h.info.CommandLine())

	go h.wait()
	return true, nil
}

func (h *OSHandle) wait() {
	err := h.cmd.Wait()
	code := exitCodeFromState(h.cmd.ProcessState, err)

	deadline := time.After(drainTimeout)
	for _, ps := range []*pipeStream{h.stdout, h.stderr} {
		if ps == nil || !ps.pumping() {
			continue
		}
		select {
		case <-ps.done:
		case <-deadline:
			h.logger.Debug("Output not drained at exit", "pid", h.pid, "source", ps.source)
		}
	}

	h.markExited(code)
}

// watchAttached polls an attached process until it dies or the handle is
// closed.
func (h *OSHandle) watchAttached() {
	ticker := time.NewTicker(attachPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.closing:
			return
		case <-ticker.C:
			if !processAlive(h.pid) {
				h.markExited(-1)
				return
			}
		}
	}
}

func (h *OSHandle) markExited(code int) {
	h.mu.Lock()
	if h.hasExited() {
		h.mu.Unlock()
		return
	}
	h.exitCode = code
	h.exitTime = time.Now()
	h.snap.responding = false
	close(h.exited)
	raising := h.raising
	h.mu.Unlock()

	h.logger.Info("Process exited", "pid", h.pid, "exit_code", code)

	if !raising {
		return
	}
	fns := h.exitListeners.snapshot()
	if len(fns) == 0 {
		return
	}
	h.dispatch(func() {
		for _, fn := range fns {
			fn(struct{}{})
		}
	})
}

// dispatch runs fn through the current SynchronizingObject.
func (h *OSHandle) dispatch(fn func()) {
	h.mu.Lock()
	d := h.dispatcher
	h.mu.Unlock()
	if d == nil {
		fn()
		return
	}
	d.Invoke(fn)
}

// hasExited must be called with mu held or from a goroutine that owns the
// exited channel state.
func (h *OSHandle) hasExited() bool {
	select {
	case <-h.exited:
		return true
	default:
		return false
	}
}

// checkRunning validates the handle for operations that need a live process.
// Caller holds mu.
func (h *OSHandle) checkRunning() error {
	switch {
	case h.closed:
		return ErrClosed
	case !h.started:
		return ErrNotStarted
	case h.hasExited():
		return ErrProcessExited
	}
	return nil
}

// Kill terminates the process and every process in its group.
func (h *OSHandle) Kill() error {
	h.mu.Lock()
	if err := h.checkRunning(); err != nil {
		h.mu.Unlock()
		return err
	}
	pid, attached, proc := h.pid, h.attached, h.proc
	h.mu.Unlock()

	var err error
	if attached {
		err = proc.Kill()
	} else {
		err = killGroup(pid)
	}
	if err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			return ErrProcessExited
		}
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	h.logger.Debug("Process killed", "pid", pid)
	return nil
}

// CloseMainWindow sends SIGINT to the process group, the request encoders
// treat as "finish and write the trailer".
func (h *OSHandle) CloseMainWindow() bool {
	h.mu.Lock()
	if h.checkRunning() != nil {
		h.mu.Unlock()
		return false
	}
	pid, attached, proc := h.pid, h.attached, h.proc
	h.mu.Unlock()

	var err error
	if attached {
		err = interruptProcess(proc)
	} else {
		err = interruptGroup(pid)
	}
	if err != nil {
		h.logger.Debug("Failed to send interrupt", "pid", pid, "error", err)
		return false
	}
	return true
}

// WaitForExit waits up to timeout for the process to exit.
func (h *OSHandle) WaitForExit(timeout time.Duration) bool {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if !started {
		return false
	}
	return waitChan(h.exited, timeout)
}

// WaitForInputIdle always reports false: POSIX processes have no message
// loop to become idle.
func (h *OSHandle) WaitForInputIdle(time.Duration) bool {
	return false
}

// Exited is closed once the process has exited.
func (h *OSHandle) Exited() <-chan struct{} {
	return h.exited
}

// OnExited registers fn to run once the process exits.
func (h *OSHandle) OnExited(fn func()) func() {
	return h.exitListeners.add(func(struct{}) { fn() })
}

// Close releases pipes. The process keeps running.
func (h *OSHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.closing)
	stdin := h.stdin
	h.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	for _, ps := range []*pipeStream{h.stdout, h.stderr} {
		if ps != nil {
			ps.close()
		}
	}
	return nil
}

// PID returns the process id, or 0 before Start.
func (h *OSHandle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// Name returns the executable name.
func (h *OSHandle) Name() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.snap.name != "" {
		return h.snap.name
	}
	if h.info.FileName == "" {
		return ""
	}
	return filepath.Base(h.info.FileName)
}

// MachineName returns the local host name.
func (h *OSHandle) MachineName() string {
	if h.hostname == "" {
		return "."
	}
	return h.hostname
}

// StartTime returns when the process was started.
func (h *OSHandle) StartTime() (time.Time, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return time.Time{}, ErrClosed
	}
	if !h.started {
		return time.Time{}, ErrNotStarted
	}
	return h.startTime, nil
}

// ExitTime returns when the process exited.
func (h *OSHandle) ExitTime() (time.Time, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.exitStateErr(); err != nil {
		return time.Time{}, err
	}
	return h.exitTime, nil
}

// ExitCode returns the exit status. A process terminated by a signal reports
// 128 plus the signal number; an attached process reports -1.
func (h *OSHandle) ExitCode() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.exitStateErr(); err != nil {
		return 0, err
	}
	return h.exitCode, nil
}

func (h *OSHandle) exitStateErr() error {
	switch {
	case h.closed:
		return ErrClosed
	case !h.started:
		return ErrNotStarted
	case !h.hasExited():
		return ErrNotExited
	}
	return nil
}

// HasExited reports whether the process has exited.
func (h *OSHandle) HasExited() bool {
	return h.hasExited()
}

// Responding reports whether the process was runnable at the last Refresh.
func (h *OSHandle) Responding() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started || h.hasExited() {
		return false
	}
	if !h.snap.refreshed {
		return true
	}
	return h.snap.responding
}

// Modules returns the images mapped at the last Refresh.
func (h *OSHandle) Modules() []Module {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Module(nil), h.snap.modules...)
}

// Threads returns the threads seen at the last Refresh.
func (h *OSHandle) Threads() []Thread {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Thread(nil), h.snap.threads...)
}

// MainWindowHandle is always 0; encoders have no window.
func (h *OSHandle) MainWindowHandle() uintptr { return 0 }

// MainWindowTitle is always empty.
func (h *OSHandle) MainWindowTitle() string { return "" }

// Counters returns the counters read by the last Refresh.
func (h *OSHandle) Counters() Counters {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap.counters
}

// Refresh rereads counters, threads and modules. After exit it keeps the
// last snapshot.
func (h *OSHandle) Refresh() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if !h.started {
		h.mu.Unlock()
		return ErrNotStarted
	}
	if h.hasExited() {
		h.mu.Unlock()
		return nil
	}
	pid, prev := h.pid, h.snap
	h.mu.Unlock()

	snap, err := readSnapshot(pid, prev)
	if err != nil {
		return fmt.Errorf("refresh pid %d: %w", pid, err)
	}

	h.mu.Lock()
	h.snap = snap
	h.mu.Unlock()
	return nil
}

// PriorityClass returns the last priority class set on the handle.
func (h *OSHandle) PriorityClass() Priority {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.priority
}

// SetPriorityClass changes the scheduling priority of the process.
func (h *OSHandle) SetPriorityClass(p Priority) error {
	if p < PriorityIdle || p > PriorityRealTime {
		return fmt.Errorf("invalid priority class %d", p)
	}
	h.mu.Lock()
	if err := h.checkRunning(); err != nil {
		h.mu.Unlock()
		return err
	}
	pid := h.pid
	h.mu.Unlock()

	if err := setPriority(pid, p); err != nil {
		return fmt.Errorf("set priority of pid %d: %w", pid, err)
	}

	h.mu.Lock()
	h.priority = p
	h.mu.Unlock()
	return nil
}

// PriorityBoostEnabled reports the stored boost flag. Linux has no
// equivalent knob, so the flag has no effect on scheduling.
func (h *OSHandle) PriorityBoostEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.boost
}

// SetPriorityBoostEnabled stores the boost flag.
func (h *OSHandle) SetPriorityBoostEnabled(enabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkRunning(); err != nil {
		return err
	}
	h.boost = enabled
	return nil
}

// ProcessorAffinity returns the CPU mask of the process. CPUs above 63 are
// not represented.
func (h *OSHandle) ProcessorAffinity() (uint64, error) {
	h.mu.Lock()
	if err := h.checkRunning(); err != nil {
		h.mu.Unlock()
		return 0, err
	}
	pid := h.pid
	h.mu.Unlock()

	mask, err := getAffinity(pid)
	if err != nil {
		return 0, fmt.Errorf("get affinity of pid %d: %w", pid, err)
	}
	return mask, nil
}

// SetProcessorAffinity pins every thread of the process to the CPUs in mask.
func (h *OSHandle) SetProcessorAffinity(mask uint64) error {
	if mask == 0 {
		return errors.New("affinity mask must select at least one CPU")
	}
	h.mu.Lock()
	if err := h.checkRunning(); err != nil {
		h.mu.Unlock()
		return err
	}
	pid := h.pid
	h.mu.Unlock()

	if err := setAffinity(pid, mask); err != nil {
		return fmt.Errorf("set affinity of pid %d: %w", pid, err)
	}
	return nil
}

// MinWorkingSet returns the stored minimum working set.
func (h *OSHandle) MinWorkingSet() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.minWS
}

// MaxWorkingSet returns the stored maximum working set.
func (h *OSHandle) MaxWorkingSet() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxWS
}

// SetWorkingSetBounds stores both bounds and applies maxBytes as the
// resident set soft limit. Zero means unlimited.
func (h *OSHandle) SetWorkingSetBounds(minBytes, maxBytes uint64) error {
	if maxBytes != 0 && minBytes > maxBytes {
		return ErrInvalidBounds
	}
	h.mu.Lock()
	if err := h.checkRunning(); err != nil {
		h.mu.Unlock()
		return err
	}
	pid := h.pid
	h.mu.Unlock()

	if err := setMaxResident(pid, maxBytes); err != nil {
		return fmt.Errorf("set working set of pid %d: %w", pid, err)
	}

	h.mu.Lock()
	h.minWS, h.maxWS = minBytes, maxBytes
	h.mu.Unlock()
	return nil
}

// EnableRaisingEvents reports whether OnExited callbacks fire.
func (h *OSHandle) EnableRaisingEvents() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.raising
}

// SetEnableRaisingEvents turns OnExited callbacks on or off.
func (h *OSHandle) SetEnableRaisingEvents(enabled bool) {
	h.mu.Lock()
	h.raising = enabled
	h.mu.Unlock()
}

// SynchronizingObject returns the callback dispatcher, or nil.
func (h *OSHandle) SynchronizingObject() Dispatcher {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dispatcher
}

// SetSynchronizingObject sets the callback dispatcher.
func (h *OSHandle) SetSynchronizingObject(d Dispatcher) {
	h.mu.Lock()
	h.dispatcher = d
	h.mu.Unlock()
}

// Stdin returns the write end of the redirected standard input.
func (h *OSHandle) Stdin() (io.WriteCloser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.closed:
		return nil, ErrClosed
	case !h.info.RedirectStdin:
		return nil, ErrNotRedirected
	case !h.started:
		return nil, ErrNotStarted
	}
	return h.stdin, nil
}

// Stdout returns the redirected standard output for synchronous reads.
func (h *OSHandle) Stdout() (io.ReadCloser, error) {
	return h.syncReader(h.stdout)
}

// Stderr returns the redirected standard error for synchronous reads.
func (h *OSHandle) Stderr() (io.ReadCloser, error) {
	return h.syncReader(h.stderr)
}

func (h *OSHandle) syncReader(ps *pipeStream) (io.ReadCloser, error) {
	if err := h.streamReady(ps); err != nil {
		return nil, err
	}
	return ps.syncReader()
}

// BeginOutputReadLine starts delivering stdout lines to OnOutputData
// subscribers.
func (h *OSHandle) BeginOutputReadLine() error {
	if err := h.streamReady(h.stdout); err != nil {
		return err
	}
	return h.stdout.begin()
}

// BeginErrorReadLine starts delivering stderr lines to OnErrorData
// subscribers.
func (h *OSHandle) BeginErrorReadLine() error {
	if err := h.streamReady(h.stderr); err != nil {
		return err
	}
	return h.stderr.begin()
}

// CancelOutputRead stops stdout line delivery. The stream is still drained.
func (h *OSHandle) CancelOutputRead() error {
	if err := h.streamReady(h.stdout); err != nil {
		return err
	}
	return h.stdout.cancel()
}

// CancelErrorRead stops stderr line delivery. The stream is still drained.
func (h *OSHandle) CancelErrorRead() error {
	if err := h.streamReady(h.stderr); err != nil {
		return err
	}
	return h.stderr.cancel()
}

// OnOutputData subscribes to stdout lines.
func (h *OSHandle) OnOutputData(fn func(LineEvent)) func() {
	if h.stdout == nil {
		return func() {}
	}
	return h.stdout.listeners.add(fn)
}

// OnErrorData subscribes to stderr lines.
func (h *OSHandle) OnErrorData(fn func(LineEvent)) func() {
	if h.stderr == nil {
		return func() {}
	}
	return h.stderr.listeners.add(fn)
}

func (h *OSHandle) streamReady(ps *pipeStream) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.closed:
		return ErrClosed
	case ps == nil:
		return ErrNotRedirected
	case !h.started:
		return ErrNotStarted
	}
	return nil
}

// exitCodeFromState extracts the exit code from a finished process.
// Signals map to 128+signal the way shells report them.
func exitCodeFromState(state *os.ProcessState, err error) int {
	if state == nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			state = exitErr.ProcessState
		}
	}
	if state == nil {
		if err == nil {
			return 0
		}
		return 1
	}
	if ws, ok := state.Sys().(interface {
		Signaled() bool
		Signal() syscall.Signal
	}); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

func waitChan(ch <-chan struct{}, timeout time.Duration) bool {
	if timeout < 0 {
		<-ch
		return true
	}
	if timeout == 0 {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
