package session

import (
	"sort"
	"sync"
	"time"

	"github.com/smazurov/encodedeck/internal/events"
	"github.com/smazurov/encodedeck/internal/logging"
)

// Publisher receives session lifecycle events. *events.Bus satisfies it.
type Publisher interface {
	Publish(ev events.Event)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPublisher publishes SessionStartedEvent and SessionStoppedEvent.
func WithPublisher(p Publisher) Option {
	return func(r *Registry) { r.publisher = p }
}

type entry struct {
	title     string
	surface   Surface
	startedAt time.Time
	renders   int
}

// Registry maps jobs to their pinned surfaces. It is safe for concurrent use.
type Registry struct {
	factory   SurfaceFactory
	logger    logging.Logger
	publisher Publisher

	mu        sync.Mutex
	entries   map[JobID]*entry
	appExited bool
}

// NewRegistry creates a registry that opens surfaces through factory.
func NewRegistry(factory SurfaceFactory, opts ...Option) *Registry {
	if factory == nil {
		panic("session: SurfaceFactory is required")
	}
	r := &Registry{
		factory: factory,
		logger:  logging.GetLogger("session"),
		entries: make(map[JobID]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start opens the pinned surface of jobID. The first Start of a job wins;
// later ones keep the existing surface and its title.
func (r *Registry) Start(jobID JobID, title string) error {
	if jobID == "" {
		return ErrInvalidJobID
	}

	r.mu.Lock()
	if r.appExited {
		r.mu.Unlock()
		r.logger.Debug("Ignoring start after application exit", "job_id", jobID)
		return nil
	}
	if _, exists := r.entries[jobID]; exists {
		r.mu.Unlock()
		r.logger.Debug("Session already started", "job_id", jobID)
		return nil
	}
	// Created under the lock so concurrent Starts of a job open one surface.
	surface := r.factory.CreateSurface(title, false)
	r.entries[jobID] = &entry{title: title, surface: surface, startedAt: time.Now()}
	r.mu.Unlock()

	r.logger.Info("Session started", "job_id", jobID, "title", title)
	r.publish(events.SessionStartedEvent{
		JobID:     string(jobID),
		Title:     title,
		SurfaceID: surfaceID(surface),
		Timestamp: events.Now(),
	})
	return nil
}

// Stop closes the surface of jobID and forgets the job. Unknown jobs are
// ignored. Stop keeps working after the application exited.
func (r *Registry) Stop(jobID JobID) {
	r.mu.Lock()
	e, exists := r.entries[jobID]
	var renders int
	if exists {
		delete(r.entries, jobID)
		renders = e.renders
	}
	r.mu.Unlock()

	if !exists {
		r.logger.Debug("No session to stop", "job_id", jobID)
		return
	}
	r.stopEntry(jobID, e.surface, renders)
}

// StopAll closes every pinned surface.
func (r *Registry) StopAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[JobID]*entry)
	renders := make(map[JobID]int, len(entries))
	for jobID, e := range entries {
		renders[jobID] = e.renders
	}
	r.mu.Unlock()

	for jobID, e := range entries {
		r.stopEntry(jobID, e.surface, renders[jobID])
	}
}

func (r *Registry) stopEntry(jobID JobID, surface Surface, renders int) {
	surface.Stop()
	r.logger.Info("Session stopped", "job_id", jobID, "renders", renders)
	r.publish(events.SessionStoppedEvent{
		JobID:     string(jobID),
		SurfaceID: surfaceID(surface),
		Timestamp: events.Now(),
	})
}

// Display renders w into the pinned surface of its job. Workers without a
// started job get their own auto-closing surface, which the registry does
// not keep.
func (r *Registry) Display(w Worker) {
	opts := w.Options()

	r.mu.Lock()
	if r.appExited {
		r.mu.Unlock()
		r.logger.Debug("Ignoring display after application exit", "job_id", opts.JobID)
		return
	}
	var pinned Surface
	if opts.JobID != "" {
		if e, exists := r.entries[opts.JobID]; exists {
			e.renders++
			pinned = e.surface
		}
	}
	r.mu.Unlock()

	// Rendering replays the worker backlog, so it runs outside the lock.
	// A surface stopped in the meantime ignores the render.
	if pinned != nil {
		pinned.RenderWorker(w)
		return
	}

	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}
	r.factory.CreateSurface(title, true).RenderWorker(w)
	r.logger.Debug("Displayed worker on ephemeral surface", "title", title, "job_id", opts.JobID)
}

// SetAppExited marks the application as exiting. From then on Start and
// Display do nothing.
func (r *Registry) SetAppExited() {
	r.mu.Lock()
	r.appExited = true
	r.mu.Unlock()
}

// AppExited reports whether SetAppExited was called.
func (r *Registry) AppExited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appExited
}

// Has reports whether jobID has a pinned surface.
func (r *Registry) Has(jobID JobID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.entries[jobID]
	return exists
}

// Sessions returns the registered sessions ordered by start time.
func (r *Registry) Sessions() []Info {
	r.mu.Lock()
	infos := make([]Info, 0, len(r.entries))
	for jobID, e := range r.entries {
		infos = append(infos, Info{
			JobID:     jobID,
			Title:     e.title,
			SurfaceID: surfaceID(e.surface),
			StartedAt: e.startedAt,
			Renders:   e.renders,
		})
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].JobID < infos[j].JobID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

func (r *Registry) publish(ev events.Event) {
	if r.publisher != nil {
		r.publisher.Publish(ev)
	}
}
