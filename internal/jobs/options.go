package jobs

import (
	"time"

	"github.com/smazurov/encodedeck/internal/events"
	"github.com/smazurov/encodedeck/internal/logging"
	"github.com/smazurov/encodedeck/internal/process"
	"github.com/smazurov/encodedeck/internal/session"
	"github.com/smazurov/encodedeck/internal/worker"
)

// Registry is the part of the session registry the runner uses.
type Registry interface {
	Start(jobID session.JobID, title string) error
	Stop(jobID session.JobID)
	Display(w session.Worker)
}

// Tracker samples the telemetry of running workers.
type Tracker interface {
	Track(jobID, workerID string, h process.Telemetry)
	Untrack(workerID string)
}

// Publisher receives job and process events. *events.Bus satisfies it.
type Publisher interface {
	Publish(ev events.Event)
}

// StateChangeCallback is called when a job state changes.
type StateChangeCallback func(jobID string, oldState, newState State, err error)

// Configurer adjusts the worker config of a task before the worker is created.
type Configurer func(jobID string, cfg *worker.Config)

// Options configures a new Runner.
type Options struct {
	// Store provides the job definitions (required).
	Store Store

	// Registry opens job sessions and displays workers (required).
	Registry Registry

	// Tracker registers workers for telemetry sampling (optional).
	Tracker Tracker

	// Publisher receives JobStateChangedEvent and ProcessExitedEvent (optional).
	Publisher Publisher

	// OnStateChange is called when a job state transitions (optional).
	OnStateChange StateChangeCallback

	// ConfigureWorker customizes each worker before it is created (optional).
	ConfigureWorker Configurer

	// GracefulTimeout is passed to every worker. Zero uses the worker default.
	GracefulTimeout time.Duration

	// StopTimeout bounds how long Stop waits for a job to wind down.
	// Defaults to 15s.
	StopTimeout time.Duration

	// Logger for runner operations. Defaults to the "jobs" module logger.
	Logger logging.Logger
}
