package process

import (
	"io"
	"time"
)

// Infinite makes WaitForExit and WaitForInputIdle block without a deadline.
// Any negative timeout behaves the same; zero is an immediate poll.
const Infinite time.Duration = -1

// Stream identifies one of the redirected output streams.
type Stream string

// Output streams.
const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// LineEvent is one line read from a redirected output stream.
type LineEvent struct {
	Source Stream
	Line   string
	Time   time.Time
}

// Priority is a scheduling priority class. On Linux each class maps to a
// nice value.
type Priority int

// Priority classes, lowest to highest.
const (
	PriorityIdle Priority = iota
	PriorityBelowNormal
	PriorityNormal
	PriorityAboveNormal
	PriorityHigh
	PriorityRealTime
)

var priorityNames = [...]string{"idle", "below_normal", "normal", "above_normal", "high", "realtime"}

func (p Priority) String() string {
	if p < 0 || int(p) >= len(priorityNames) {
		return "unknown"
	}
	return priorityNames[p]
}

// Module is an executable image mapped into the process.
type Module struct {
	Name        string
	Path        string
	BaseAddress uintptr
	Size        uint64
}

// Thread is a snapshot of one thread of the process.
type Thread struct {
	ID         int
	State      string
	UserTime   time.Duration
	SystemTime time.Duration
}

// Counters is a resource usage snapshot taken by the last Refresh.
// Memory values are in bytes.
type Counters struct {
	WorkingSet        uint64
	PeakWorkingSet    uint64
	VirtualMemory     uint64
	PeakVirtualMemory uint64
	PagedMemory       uint64
	PeakPagedMemory   uint64
	NonpagedMemory    uint64
	PrivateMemory     uint64

	UserProcessorTime       time.Duration
	PrivilegedProcessorTime time.Duration
	TotalProcessorTime      time.Duration

	HandleCount int
	ThreadCount int
}

// Telemetry is the read-only view of a process. Identity and exit state are
// live; counters, modules, threads and responsiveness reflect the last Refresh.
type Telemetry interface {
	PID() int
	Name() string
	MachineName() string
	StartTime() (time.Time, error)
	ExitTime() (time.Time, error)
	ExitCode() (int, error)
	HasExited() bool
	Responding() bool
	Modules() []Module
	Threads() []Thread
	MainWindowHandle() uintptr
	MainWindowTitle() string
	Counters() Counters

	// Refresh reloads counters and state from the operating system.
	Refresh() error
}

// Tuning holds the mutable scheduling and delivery properties.
type Tuning interface {
	PriorityClass() Priority
	SetPriorityClass(p Priority) error
	PriorityBoostEnabled() bool
	SetPriorityBoostEnabled(enabled bool) error
	ProcessorAffinity() (uint64, error)
	SetProcessorAffinity(mask uint64) error
	MinWorkingSet() uint64
	MaxWorkingSet() uint64
	SetWorkingSetBounds(minBytes, maxBytes uint64) error

	// EnableRaisingEvents controls whether OnExited callbacks fire.
	// The Exited channel closes regardless.
	EnableRaisingEvents() bool
	SetEnableRaisingEvents(enabled bool)

	// SynchronizingObject is the Dispatcher asynchronous callbacks are
	// marshaled through. Nil delivers on the reading goroutine.
	SynchronizingObject() Dispatcher
	SetSynchronizingObject(d Dispatcher)
}

// Lifecycle controls the process from start to release.
type Lifecycle interface {
	// Start launches the process. It reports true when a new OS process was
	// created and false when an existing one is reused.
	Start() (bool, error)

	// Kill terminates the process immediately.
	Kill() error

	// CloseMainWindow asks the process to shut down gracefully. The result
	// only says whether the request was delivered.
	CloseMainWindow() bool

	// WaitForExit blocks until the process exits or timeout elapses and
	// reports whether it exited.
	WaitForExit(timeout time.Duration) bool

	// WaitForInputIdle reports whether the process reached an idle message
	// loop within timeout.
	WaitForInputIdle(timeout time.Duration) bool

	// Exited is closed once the process has exited.
	Exited() <-chan struct{}

	// OnExited registers a callback fired once on exit when raising events
	// is enabled. The returned function unregisters it.
	OnExited(fn func()) func()

	// Close releases pipes and other resources. It does not stop the process
	// and is safe to call repeatedly.
	Close() error
}

// Streams gives access to the standard streams, synchronously or as line
// events.
type Streams interface {
	Stdin() (io.WriteCloser, error)
	Stdout() (io.ReadCloser, error)
	Stderr() (io.ReadCloser, error)

	BeginOutputReadLine() error
	BeginErrorReadLine() error
	CancelOutputRead() error
	CancelErrorRead() error

	OnOutputData(fn func(LineEvent)) func()
	OnErrorData(fn func(LineEvent)) func()
}

// Handle is the complete process contract. Callers that need only part of it
// should accept the narrower role interface.
type Handle interface {
	Telemetry
	Tuning
	Lifecycle
	Streams
}
