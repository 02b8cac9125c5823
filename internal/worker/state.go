package worker

import (
	"fmt"
	"time"
)

// State represents the lifecycle state of a worker.
type State string

// Worker states.
const (
	StateIdle     State = "idle"     // Not started
	StateStarting State = "starting" // Launching the process
	StateRunning  State = "running"  // Process alive
	StateStopping State = "stopping" // Graceful stop requested
	StateExited   State = "exited"   // Process exited with code 0
	StateError    State = "error"    // Failed to start or exited non-zero
)

// Finished reports whether s is terminal.
func (s State) Finished() bool {
	return s == StateExited || s == StateError
}

// Info is a snapshot of a worker.
type Info struct {
	ID        string    `json:"id" doc:"Worker identifier"`
	JobID     string    `json:"job_id,omitempty" example:"batch-1" doc:"Job the worker belongs to"`
	Title     string    `json:"title" example:"1080p pass" doc:"Worker title"`
	Command   string    `json:"command" example:"ffmpeg -i in.mkv out.mp4" doc:"Command line"`
	State     State     `json:"state" example:"running" doc:"Lifecycle state"`
	PID       int       `json:"pid,omitempty" doc:"Process id once started"`
	ExitCode  *int      `json:"exit_code,omitempty" doc:"Exit code once finished"`
	StartedAt time.Time `json:"started_at,omitempty" doc:"When the process was started"`
	Error     string    `json:"error,omitempty" doc:"Start failure or exit reason"`
}

func statusText(s State, exitCode int, err error) string {
	switch {
	case s == StateError && err != nil:
		return fmt.Sprintf("error: %v", err)
	case s.Finished():
		return fmt.Sprintf("%s (code %d)", s, exitCode)
	}
	return string(s)
}
