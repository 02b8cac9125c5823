package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smazurov/encodedeck/internal/events"
	"github.com/smazurov/encodedeck/internal/logging"
	"github.com/smazurov/encodedeck/internal/session"
	"github.com/smazurov/encodedeck/internal/worker"
)

// State represents the run state of a job.
type State string

// Job states.
const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

const defaultStopTimeout = 15 * time.Second

// Info describes a job run.
type Info struct {
	ID        string        `json:"id" example:"batch-1" doc:"Job identifier"`
	State     State         `json:"state" example:"running" doc:"Job state"`
	StartedAt time.Time     `json:"started_at,omitempty" doc:"Start of the latest run"`
	RunCount  int           `json:"run_count" doc:"Number of times the job was started"`
	LastError string        `json:"last_error,omitempty" doc:"Failure of the latest run"`
	Workers   []worker.Info `json:"workers" doc:"Workers of the latest run"`
}

// managedJob tracks one job within the runner.
type managedJob struct {
	id        string
	state     State
	startedAt time.Time
	runCount  int
	lastError error
	workers   []*worker.Worker
	cancel    context.CancelFunc
	done      chan struct{}
}

// Runner runs jobs from a Store, one session per job.
type Runner struct {
	opts   Options
	logger logging.Logger

	mu    sync.RWMutex
	jobs  map[string]*managedJob
	adhoc map[string]*worker.Worker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a job runner.
func NewRunner(opts Options) *Runner {
	if opts.Store == nil || opts.Registry == nil {
		panic("jobs: Options with Store and Registry is required")
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("jobs")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		opts:   opts,
		logger: logger,
		jobs:   make(map[string]*managedJob),
		adhoc:  make(map[string]*worker.Worker),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts a job by ID. It returns ErrJobRunning if the job is active.
func (r *Runner) Start(id string) error {
	job, ok := r.opts.Store.GetJob(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err := job.Validate(); err != nil {
		return err
	}
	if r.ctx.Err() != nil {
		return errors.New("runner stopped")
	}

	r.mu.Lock()
	mj, exists := r.jobs[id]
	if exists && (mj.state == StateStarting || mj.state == StateRunning || mj.state == StateStopping) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobRunning, id)
	}
	if !exists {
		mj = &managedJob{id: id}
		r.jobs[id] = mj
	}

	ctx, cancel := context.WithCancel(r.ctx)
	oldState := mj.state
	if oldState == "" {
		oldState = StateIdle
	}
	mj.state = StateStarting
	mj.startedAt = time.Now()
	mj.runCount++
	mj.lastError = nil
	mj.workers = nil
	mj.cancel = cancel
	mj.done = make(chan struct{})
	done := mj.done
	r.mu.Unlock()

	r.notifyStateChange(id, oldState, StateStarting, nil)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)
		r.runJob(ctx, mj, job)
	}()
	return nil
}

// runJob opens the job session, runs its tasks and closes the session.
func (r *Runner) runJob(ctx context.Context, mj *managedJob, job JobSpec) {
	jobID := session.JobID(job.ID)
	if err := r.opts.Registry.Start(jobID, job.DisplayTitle()); err != nil {
		r.logger.Warn("Failed to open job session", "id", job.ID, "error", err)
	}
	defer r.opts.Registry.Stop(jobID)

	workers := make([]*worker.Worker, 0, len(job.Tasks))
	for i, task := range job.Tasks {
		info, err := task.StartInfo()
		if err != nil {
			r.finishJob(ctx, mj, fmt.Errorf("task %d: %w", i+1, err))
			return
		}
		cfg := worker.Config{
			ID:              fmt.Sprintf("%s-%d", job.ID, i+1),
			Options:         session.WorkerOptions{JobID: jobID, Title: task.DisplayTitle()},
			GracefulTimeout: r.opts.GracefulTimeout,
		}
		if r.opts.ConfigureWorker != nil {
			r.opts.ConfigureWorker(job.ID, &cfg)
		}
		workers = append(workers, worker.NewFromStartInfo(info, cfg))
	}

	r.mu.Lock()
	mj.workers = workers
	oldState := mj.state
	if oldState == StateStarting {
		mj.state = StateRunning
	}
	r.mu.Unlock()
	if oldState == StateStarting {
		r.notifyStateChange(job.ID, oldState, StateRunning, nil)
	}
	r.logger.Info("Job started", "id", job.ID, "tasks", len(workers), "parallel", job.Parallel)

	var err error
	if job.Parallel {
		err = r.runParallel(ctx, job.ID, workers)
	} else {
		err = r.runSequential(ctx, job.ID, workers)
	}
	r.finishJob(ctx, mj, err)
}

// runSequential runs workers one after another, stopping at the first
// failure.
func (r *Runner) runSequential(ctx context.Context, jobID string, workers []*worker.Worker) error {
	for _, w := range workers {
		if ctx.Err() != nil {
			return nil
		}
		if code := r.runWorker(ctx, jobID, w); code != 0 {
			return fmt.Errorf("task %q exited with code %d", w.Options().Title, code)
		}
	}
	return nil
}

// runParallel runs all workers at once and reports the first failure.
func (r *Runner) runParallel(ctx context.Context, jobID string, workers []*worker.Worker) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			if code := r.runWorker(ctx, jobID, w); code != 0 {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("task %q exited with code %d", w.Options().Title, code)
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return firstErr
}

// runWorker displays w and runs it to completion.
func (r *Runner) runWorker(ctx context.Context, jobID string, w *worker.Worker) int {
	r.opts.Registry.Display(w)
	if r.opts.Tracker != nil {
		r.opts.Tracker.Track(jobID, w.ID(), w.Handle())
		defer r.opts.Tracker.Untrack(w.ID())
	}

	code := w.Run(ctx)
	r.publish(events.ProcessExitedEvent{
		JobID:     jobID,
		WorkerID:  w.ID(),
		PID:       w.Info().PID,
		ExitCode:  code,
		Timestamp: events.Now(),
	})
	return code
}

func (r *Runner) finishJob(ctx context.Context, mj *managedJob, runErr error) {
	r.mu.Lock()
	oldState := mj.state
	switch {
	case ctx.Err() != nil:
		mj.state = StateIdle
	case runErr != nil:
		mj.state = StateError
		mj.lastError = runErr
	default:
		mj.state = StateIdle
	}
	newState := mj.state
	lastErr := mj.lastError
	r.mu.Unlock()

	if runErr != nil && ctx.Err() == nil {
		r.logger.Error("Job failed", "id", mj.id, "error", runErr)
	} else {
		r.logger.Info("Job finished", "id", mj.id)
	}
	r.notifyStateChange(mj.id, oldState, newState, lastErr)
}

// Stop gracefully stops a job. Stopping an idle or unknown job does nothing.
func (r *Runner) Stop(id string) error {
	r.mu.Lock()
	mj, exists := r.jobs[id]
	if !exists || (mj.state != StateStarting && mj.state != StateRunning) {
		r.mu.Unlock()
		return nil
	}
	oldState := mj.state
	mj.state = StateStopping
	cancel, done := mj.cancel, mj.done
	r.mu.Unlock()

	r.notifyStateChange(id, oldState, StateStopping, nil)
	r.logger.Info("Stopping job", "id", id)

	cancel()
	select {
	case <-done:
	case <-time.After(r.opts.StopTimeout):
		r.logger.Warn("Timeout waiting for job to stop", "id", id)
		return fmt.Errorf("timeout stopping job %s", id)
	}
	return nil
}

// Restart stops and restarts a job.
func (r *Runner) Restart(id string) error {
	r.logger.Info("Restarting job", "id", id)
	if err := r.Stop(id); err != nil {
		return fmt.Errorf("failed to stop job: %w", err)
	}
	return r.Start(id)
}

// Wait blocks until the current run of a job finishes and returns its
// failure, if any.
func (r *Runner) Wait(ctx context.Context, id string) error {
	r.mu.RLock()
	mj, exists := r.jobs[id]
	var done chan struct{}
	if exists {
		done = mj.done
	}
	r.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return mj.lastError
}

// Status returns job info. Jobs that never ran are reported idle.
func (r *Runner) Status(id string) Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mj, exists := r.jobs[id]
	if !exists {
		return Info{ID: id, State: StateIdle, Workers: []worker.Info{}}
	}
	return mj.info()
}

// All returns the info of every job in the store, ordered by id.
func (r *Runner) All() []Info {
	ids := make([]string, 0)
	for id := range r.opts.Store.GetAllJobs() {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, r.Status(id))
	}
	return infos
}

// info must be called with the runner lock held.
func (mj *managedJob) info() Info {
	info := Info{
		ID:        mj.id,
		State:     mj.state,
		StartedAt: mj.startedAt,
		RunCount:  mj.runCount,
		Workers:   make([]worker.Info, 0, len(mj.workers)),
	}
	if mj.lastError != nil {
		info.LastError = mj.lastError.Error()
	}
	for _, w := range mj.workers {
		info.Workers = append(info.Workers, w.Info())
	}
	return info
}

// IsRunning checks if a job is currently running.
func (r *Runner) IsRunning(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mj, exists := r.jobs[id]
	return exists && mj.state == StateRunning
}

// Exec runs an ad-hoc command outside the jobs file. The worker is displayed
// in the session of jobID when that job has one, otherwise on its own
// auto-closing surface. Exec does not wait for the worker; use its Done
// channel for the result.
func (r *Runner) Exec(ctx context.Context, jobID, title, command string) (*worker.Worker, error) {
	if r.ctx.Err() != nil {
		return nil, errors.New("runner stopped")
	}
	cfg := worker.Config{
		Options:         session.WorkerOptions{JobID: session.JobID(jobID), Title: title},
		GracefulTimeout: r.opts.GracefulTimeout,
	}
	if r.opts.ConfigureWorker != nil {
		r.opts.ConfigureWorker(jobID, &cfg)
	}
	w, err := worker.NewFromCommand(command, cfg)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopOnShutdown := context.AfterFunc(r.ctx, cancel)

	r.mu.Lock()
	r.adhoc[w.ID()] = w
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer stopOnShutdown()
		r.runWorker(runCtx, jobID, w)

		r.mu.Lock()
		delete(r.adhoc, w.ID())
		r.mu.Unlock()
	}()
	return w, nil
}

// Adhoc returns the ad-hoc workers that are still running.
func (r *Runner) Adhoc() []worker.Info {
	r.mu.RLock()
	infos := make([]worker.Info, 0, len(r.adhoc))
	for _, w := range r.adhoc {
		infos = append(infos, w.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// StopAll gracefully stops every job and ad-hoc worker. The runner accepts
// no new work afterwards.
func (r *Runner) StopAll() {
	r.logger.Info("Stopping all jobs")

	r.mu.RLock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		_ = r.Stop(id)
	}
	r.cancel()

	r.wg.Wait()
	r.logger.Info("All jobs stopped")
}

func (r *Runner) notifyStateChange(id string, oldState, newState State, err error) {
	if r.opts.OnStateChange != nil {
		r.opts.OnStateChange(id, oldState, newState, err)
	}
	ev := events.JobStateChangedEvent{
		JobID:     id,
		OldState:  string(oldState),
		NewState:  string(newState),
		Timestamp: events.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.publish(ev)
}

func (r *Runner) publish(ev events.Event) {
	if r.opts.Publisher != nil {
		r.opts.Publisher.Publish(ev)
	}
}
