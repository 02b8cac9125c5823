// Package processtest provides a scripted process.Handle for tests and a
// conformance suite every Handle implementation should pass.
package processtest

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/smazurov/encodedeck/internal/process"
)

// Fake is an in-memory process.Handle. Tests drive it with Exit, EmitOutput
// and EmitError, and inspect it with Calls.
type Fake struct {
	mu sync.Mutex

	pid         int
	name        string
	startResult bool
	startErr    error
	killErr     error
	closeExits  *int
	redirect    [3]bool

	started    bool
	closed     bool
	startTime  time.Time
	exitTime   time.Time
	exitCode   int
	exited     chan struct{}
	raising    bool
	dispatcher process.Dispatcher

	// published by Refresh, the way a real handle snapshots procfs
	counters  process.Counters
	modules   []process.Module
	threads   []process.Thread
	refreshes int

	pendingCounters process.Counters
	pendingModules  []process.Module
	pendingThreads  []process.Thread

	priority process.Priority
	boost    bool
	affinity uint64
	minWS    uint64
	maxWS    uint64

	stdin  bytes.Buffer
	stdout *fakeStream
	stderr *fakeStream

	exitFns map[int]func()
	nextID  int

	calls []string
}

// Option scripts a Fake.
type Option func(*Fake)

// WithPID sets the reported process id.
func WithPID(pid int) Option {
	return func(f *Fake) { f.pid = pid }
}

// WithName sets the reported executable name.
func WithName(name string) Option {
	return func(f *Fake) { f.name = name }
}

// WithStartResult scripts what Start returns the first time.
func WithStartResult(created bool, err error) Option {
	return func(f *Fake) {
		f.startResult = created
		f.startErr = err
	}
}

// WithKillError makes Kill fail with err on a running process, the way an
// access-denied kill does.
func WithKillError(err error) Option {
	return func(f *Fake) { f.killErr = err }
}

// WithCloseExits makes CloseMainWindow end the process with code, like an
// encoder that honors SIGINT.
func WithCloseExits(code int) Option {
	return func(f *Fake) { f.closeExits = &code }
}

// WithRedirect sets which of stdin, stdout and stderr are redirected. All
// three are by default.
func WithRedirect(stdin, stdout, stderr bool) Option {
	return func(f *Fake) { f.redirect = [3]bool{stdin, stdout, stderr} }
}

var _ process.Handle = (*Fake)(nil)

// NewFake returns an unstarted fake whose Start succeeds.
func NewFake(opts ...Option) *Fake {
	f := &Fake{
		pid:         4242,
		name:        "fake",
		startResult: true,
		redirect:    [3]bool{true, true, true},
		exited:      make(chan struct{}),
		priority:    process.PriorityNormal,
		affinity:    1,
		exitFns:     make(map[int]func()),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.redirect[1] {
		f.stdout = newFakeStream(process.StreamStdout)
	}
	if f.redirect[2] {
		f.stderr = newFakeStream(process.StreamStderr)
	}
	return f
}

func (f *Fake) record(call string) {
	f.calls = append(f.calls, call)
}

// Calls returns the names of the methods called so far, in order. Only
// methods that act on the process are recorded, not plain getters.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns how often the named method was called.
func (f *Fake) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

// Exit ends the process with code. It returns false if the process was not
// running.
func (f *Fake) Exit(code int) bool {
	f.mu.Lock()
	if !f.started || f.hasExited() {
		f.mu.Unlock()
		return false
	}
	f.exitCode = code
	f.exitTime = time.Now()
	close(f.exited)
	raising := f.raising
	fns := f.exitListeners()
	d := f.dispatcher
	out, errs := f.stdout, f.stderr
	f.mu.Unlock()

	for _, s := range []*fakeStream{out, errs} {
		if s != nil {
			s.eof()
		}
	}

	if raising && len(fns) > 0 {
		deliver(d, func() {
			for _, fn := range fns {
				fn()
			}
		})
	}
	return true
}

// EmitOutput writes a line to stdout.
func (f *Fake) EmitOutput(line string) {
	f.emit(f.stdout, line)
}

// EmitError writes a line to stderr.
func (f *Fake) EmitError(line string) {
	f.emit(f.stderr, line)
}

func (f *Fake) emit(s *fakeStream, line string) {
	if s == nil {
		return
	}
	f.mu.Lock()
	d := f.dispatcher
	f.mu.Unlock()
	s.write(line, d)
}

// SetCounters sets the counters the next Refresh publishes. Counters keeps
// returning the previous snapshot until then.
func (f *Fake) SetCounters(c process.Counters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingCounters = c
}

// SetThreads sets the threads the next Refresh publishes.
func (f *Fake) SetThreads(threads []process.Thread) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingThreads = append([]process.Thread(nil), threads...)
}

// SetModules sets the modules the next Refresh publishes.
func (f *Fake) SetModules(modules []process.Module) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingModules = append([]process.Module(nil), modules...)
}

// Refreshes returns how often Refresh succeeded.
func (f *Fake) Refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

// StdinData returns everything written to stdin.
func (f *Fake) StdinData() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stdin.String()
}

func (f *Fake) hasExited() bool {
	select {
	case <-f.exited:
		return true
	default:
		return false
	}
}

func (f *Fake) checkRunning() error {
	switch {
	case f.closed:
		return process.ErrClosed
	case !f.started:
		return process.ErrNotStarted
	case f.hasExited():
		return process.ErrProcessExited
	}
	return nil
}

func (f *Fake) exitListeners() []func() {
	fns := make([]func(), 0, len(f.exitFns))
	for i := 0; i < f.nextID; i++ {
		if fn, ok := f.exitFns[i]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

// Start marks the process running and returns the scripted result.
func (f *Fake) Start() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Start")
	switch {
	case f.closed:
		return false, process.ErrClosed
	case f.started && f.hasExited():
		return false, process.ErrProcessExited
	case f.started:
		return false, nil
	case f.startErr != nil:
		return false, f.startErr
	}
	f.started = true
	f.startTime = time.Now()
	return f.startResult, nil
}

// Kill ends the process with 137 unless a kill error is scripted.
func (f *Fake) Kill() error {
	f.mu.Lock()
	f.record("Kill")
	if err := f.checkRunning(); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.killErr != nil {
		err := f.killErr
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()

	f.Exit(137)
	return nil
}

// CloseMainWindow reports whether the request was delivered. With
// WithCloseExits the process then exits.
func (f *Fake) CloseMainWindow() bool {
	f.mu.Lock()
	f.record("CloseMainWindow")
	if f.checkRunning() != nil {
		f.mu.Unlock()
		return false
	}
	code := f.closeExits
	f.mu.Unlock()

	if code != nil {
		f.Exit(*code)
	}
	return true
}

// WaitForExit waits for Exit, Kill or a scripted close.
func (f *Fake) WaitForExit(timeout time.Duration) bool {
	f.mu.Lock()
	f.record("WaitForExit")
	started := f.started
	f.mu.Unlock()
	if !started {
		return false
	}
	if timeout < 0 {
		<-f.exited
		return true
	}
	select {
	case <-f.exited:
		return true
	default:
		if timeout == 0 {
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.exited:
		return true
	case <-timer.C:
		return false
	}
}

// WaitForInputIdle always reports false.
func (f *Fake) WaitForInputIdle(time.Duration) bool {
	f.mu.Lock()
	f.record("WaitForInputIdle")
	f.mu.Unlock()
	return false
}

// Exited is closed on exit.
func (f *Fake) Exited() <-chan struct{} { return f.exited }

// OnExited registers an exit callback.
func (f *Fake) OnExited(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.exitFns[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.exitFns, id)
		f.mu.Unlock()
	}
}

// Close releases the fake. It is idempotent.
func (f *Fake) Close() error {
	f.mu.Lock()
	f.record("Close")
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	out, errs := f.stdout, f.stderr
	f.mu.Unlock()

	for _, s := range []*fakeStream{out, errs} {
		if s != nil {
			s.eof()
		}
	}
	return nil
}

// PID returns the scripted pid once started, 0 before.
func (f *Fake) PID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return 0
	}
	return f.pid
}

// Name returns the scripted name.
func (f *Fake) Name() string { return f.name }

// MachineName returns "fakehost".
func (f *Fake) MachineName() string { return "fakehost" }

// StartTime returns when Start succeeded.
func (f *Fake) StartTime() (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return time.Time{}, process.ErrClosed
	}
	if !f.started {
		return time.Time{}, process.ErrNotStarted
	}
	return f.startTime, nil
}

func (f *Fake) exitStateErr() error {
	switch {
	case f.closed:
		return process.ErrClosed
	case !f.started:
		return process.ErrNotStarted
	case !f.hasExited():
		return process.ErrNotExited
	}
	return nil
}

// ExitTime returns when the process exited.
func (f *Fake) ExitTime() (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.exitStateErr(); err != nil {
		return time.Time{}, err
	}
	return f.exitTime, nil
}

// ExitCode returns the exit code.
func (f *Fake) ExitCode() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.exitStateErr(); err != nil {
		return 0, err
	}
	return f.exitCode, nil
}

// HasExited reports whether the process exited.
func (f *Fake) HasExited() bool { return f.hasExited() }

// Responding reports whether the process is running.
func (f *Fake) Responding() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started && !f.hasExited()
}

// Modules returns the modules published by the last Refresh.
func (f *Fake) Modules() []process.Module {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]process.Module(nil), f.modules...)
}

// Threads returns the threads published by the last Refresh.
func (f *Fake) Threads() []process.Thread {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]process.Thread(nil), f.threads...)
}

// MainWindowHandle is always 0.
func (f *Fake) MainWindowHandle() uintptr { return 0 }

// MainWindowTitle is always empty.
func (f *Fake) MainWindowTitle() string { return "" }

// Counters returns the snapshot published by the last Refresh.
func (f *Fake) Counters() process.Counters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters
}

// Refresh publishes the values set since the last call and counts it.
func (f *Fake) Refresh() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Refresh")
	if f.closed {
		return process.ErrClosed
	}
	if !f.started {
		return process.ErrNotStarted
	}
	f.counters = f.pendingCounters
	f.threads = append([]process.Thread(nil), f.pendingThreads...)
	f.modules = append([]process.Module(nil), f.pendingModules...)
	f.refreshes++
	return nil
}

// PriorityClass returns the stored priority.
func (f *Fake) PriorityClass() process.Priority {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priority
}

// SetPriorityClass stores p.
func (f *Fake) SetPriorityClass(p process.Priority) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetPriorityClass")
	if err := f.checkRunning(); err != nil {
		return err
	}
	f.priority = p
	return nil
}

// PriorityBoostEnabled returns the stored flag.
func (f *Fake) PriorityBoostEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.boost
}

// SetPriorityBoostEnabled stores the flag.
func (f *Fake) SetPriorityBoostEnabled(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkRunning(); err != nil {
		return err
	}
	f.boost = enabled
	return nil
}

// ProcessorAffinity returns the stored mask.
func (f *Fake) ProcessorAffinity() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkRunning(); err != nil {
		return 0, err
	}
	return f.affinity, nil
}

// SetProcessorAffinity stores mask.
func (f *Fake) SetProcessorAffinity(mask uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetProcessorAffinity")
	if err := f.checkRunning(); err != nil {
		return err
	}
	f.affinity = mask
	return nil
}

// MinWorkingSet returns the stored minimum.
func (f *Fake) MinWorkingSet() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.minWS
}

// MaxWorkingSet returns the stored maximum.
func (f *Fake) MaxWorkingSet() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxWS
}

// SetWorkingSetBounds stores both bounds.
func (f *Fake) SetWorkingSetBounds(minBytes, maxBytes uint64) error {
	if maxBytes != 0 && minBytes > maxBytes {
		return process.ErrInvalidBounds
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkRunning(); err != nil {
		return err
	}
	f.minWS, f.maxWS = minBytes, maxBytes
	return nil
}

// EnableRaisingEvents reports whether exit callbacks fire.
func (f *Fake) EnableRaisingEvents() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raising
}

// SetEnableRaisingEvents turns exit callbacks on or off.
func (f *Fake) SetEnableRaisingEvents(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raising = enabled
}

// SynchronizingObject returns the dispatcher.
func (f *Fake) SynchronizingObject() process.Dispatcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dispatcher
}

// SetSynchronizingObject sets the dispatcher.
func (f *Fake) SetSynchronizingObject(d process.Dispatcher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatcher = d
}

// Stdin returns a writer recording into StdinData.
func (f *Fake) Stdin() (io.WriteCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.closed:
		return nil, process.ErrClosed
	case !f.redirect[0]:
		return nil, process.ErrNotRedirected
	case !f.started:
		return nil, process.ErrNotStarted
	}
	return stdinWriter{f}, nil
}

type stdinWriter struct{ f *Fake }

func (w stdinWriter) Write(p []byte) (int, error) {
	w.f.mu.Lock()
	defer w.f.mu.Unlock()
	return w.f.stdin.Write(p)
}

func (w stdinWriter) Close() error { return nil }

func (f *Fake) streamReady(s *fakeStream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.closed:
		return process.ErrClosed
	case s == nil:
		return process.ErrNotRedirected
	case !f.started:
		return process.ErrNotStarted
	}
	return nil
}

// Stdout returns a reader of emitted stdout lines.
func (f *Fake) Stdout() (io.ReadCloser, error) {
	if err := f.streamReady(f.stdout); err != nil {
		return nil, err
	}
	return f.stdout.reader()
}

// Stderr returns a reader of emitted stderr lines.
func (f *Fake) Stderr() (io.ReadCloser, error) {
	if err := f.streamReady(f.stderr); err != nil {
		return nil, err
	}
	return f.stderr.reader()
}

// BeginOutputReadLine starts stdout line delivery.
func (f *Fake) BeginOutputReadLine() error {
	if err := f.streamReady(f.stdout); err != nil {
		return err
	}
	return f.stdout.begin()
}

// BeginErrorReadLine starts stderr line delivery.
func (f *Fake) BeginErrorReadLine() error {
	if err := f.streamReady(f.stderr); err != nil {
		return err
	}
	return f.stderr.begin()
}

// CancelOutputRead pauses stdout line delivery.
func (f *Fake) CancelOutputRead() error {
	if err := f.streamReady(f.stdout); err != nil {
		return err
	}
	return f.stdout.cancel()
}

// CancelErrorRead pauses stderr line delivery.
func (f *Fake) CancelErrorRead() error {
	if err := f.streamReady(f.stderr); err != nil {
		return err
	}
	return f.stderr.cancel()
}

// OnOutputData subscribes to stdout lines.
func (f *Fake) OnOutputData(fn func(process.LineEvent)) func() {
	if f.stdout == nil {
		return func() {}
	}
	return f.stdout.subscribe(fn)
}

// OnErrorData subscribes to stderr lines.
func (f *Fake) OnErrorData(fn func(process.LineEvent)) func() {
	if f.stderr == nil {
		return func() {}
	}
	return f.stderr.subscribe(fn)
}

func deliver(d process.Dispatcher, fn func()) {
	if d == nil {
		fn()
		return
	}
	d.Invoke(fn)
}
