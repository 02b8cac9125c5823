package events

// Event type constants for kelindar/event.
const (
	TypeSessionStarted uint32 = iota + 1
	TypeSessionStopped
	TypeSurfaceOpened
	TypeSurfaceClosed
	TypeWorkerLine
	TypeWorkerStatus
	TypeJobStateChanged
	TypeProcessExited
	TypeProcessMetrics
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionStartedEvent is published when a job gets its pinned surface.
type SessionStartedEvent struct {
	JobID     string `json:"job_id" example:"batch-1" doc:"Job identifier"`
	Title     string `json:"title" example:"Encoding batch 1" doc:"Surface title"`
	SurfaceID string `json:"surface_id" doc:"Pinned surface identifier"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStartedEvent.
func (e SessionStartedEvent) Type() uint32 { return TypeSessionStarted }

// SessionStoppedEvent is published when a job session is torn down.
type SessionStoppedEvent struct {
	JobID     string `json:"job_id" example:"batch-1" doc:"Job identifier"`
	SurfaceID string `json:"surface_id" doc:"Surface that was closed"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStoppedEvent.
func (e SessionStoppedEvent) Type() uint32 { return TypeSessionStopped }

// SurfaceOpenedEvent is published by feed surfaces when they are created.
type SurfaceOpenedEvent struct {
	SurfaceID string `json:"surface_id" doc:"Surface identifier"`
	Title     string `json:"title" example:"Quick job" doc:"Surface title"`
	AutoClose bool   `json:"auto_close" doc:"Whether the surface closes itself when its worker completes"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SurfaceOpenedEvent.
func (e SurfaceOpenedEvent) Type() uint32 { return TypeSurfaceOpened }

// SurfaceClosedEvent is published when a feed surface stops.
type SurfaceClosedEvent struct {
	SurfaceID string `json:"surface_id" doc:"Surface identifier"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SurfaceClosedEvent.
func (e SurfaceClosedEvent) Type() uint32 { return TypeSurfaceClosed }

// WorkerLineEvent carries one output line of a worker rendered into a surface.
type WorkerLineEvent struct {
	SurfaceID string `json:"surface_id" doc:"Surface identifier"`
	WorkerID  string `json:"worker_id" doc:"Worker identifier"`
	Source    string `json:"source" example:"stderr" doc:"Output stream: stdout or stderr"`
	Line      string `json:"line" doc:"Output line"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for WorkerLineEvent.
func (e WorkerLineEvent) Type() uint32 { return TypeWorkerLine }

// WorkerStatusEvent carries a worker status change shown on a surface.
type WorkerStatusEvent struct {
	SurfaceID string `json:"surface_id" doc:"Surface identifier"`
	WorkerID  string `json:"worker_id" doc:"Worker identifier"`
	Status    string `json:"status" example:"running" doc:"Worker status"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for WorkerStatusEvent.
func (e WorkerStatusEvent) Type() uint32 { return TypeWorkerStatus }

// JobStateChangedEvent is published by the job runner on every transition.
type JobStateChangedEvent struct {
	JobID     string `json:"job_id" example:"batch-1" doc:"Job identifier"`
	OldState  string `json:"old_state" example:"starting" doc:"Previous state"`
	NewState  string `json:"new_state" example:"running" doc:"New state"`
	Error     string `json:"error,omitempty" doc:"Failure description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for JobStateChangedEvent.
func (e JobStateChangedEvent) Type() uint32 { return TypeJobStateChanged }

// ProcessExitedEvent is published when an encoder process exits.
type ProcessExitedEvent struct {
	JobID     string `json:"job_id,omitempty" doc:"Job identifier, empty for ad-hoc workers"`
	WorkerID  string `json:"worker_id" doc:"Worker identifier"`
	PID       int    `json:"pid" doc:"OS process id"`
	ExitCode  int    `json:"exit_code" doc:"Process exit code"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ProcessExitedEvent.
func (e ProcessExitedEvent) Type() uint32 { return TypeProcessExited }

// ProcessMetricsEvent carries the latest telemetry sample of a running worker.
type ProcessMetricsEvent struct {
	JobID         string `json:"job_id,omitempty" doc:"Job identifier, empty for ad-hoc workers"`
	WorkerID      string `json:"worker_id" doc:"Worker identifier"`
	ResidentBytes string `json:"resident_bytes" example:"104857600" doc:"Resident set size in bytes"`
	CPUSeconds    string `json:"cpu_seconds" example:"12.50" doc:"Total processor time in seconds"`
	Threads       string `json:"threads" example:"17" doc:"Thread count"`
	Timestamp     string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ProcessMetricsEvent.
func (e ProcessMetricsEvent) Type() uint32 { return TypeProcessMetrics }
