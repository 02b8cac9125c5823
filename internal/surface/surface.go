// Package surface provides the display surfaces session workers render into:
// a console surface for the CLI and an event feed surface for the web UI.
package surface

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/smazurov/encodedeck/internal/logging"
	"github.com/smazurov/encodedeck/internal/session"
)

// Sink draws surfaces. One sink serves many surfaces and must be safe for
// concurrent use.
type Sink interface {
	Opened(s *Surface)
	Line(s *Surface, workerID, source, line string)
	Status(s *Surface, workerID, status string)
	Closed(s *Surface)
}

// doner is implemented by workers that can report completion.
type doner interface {
	Done() <-chan struct{}
}

type identified interface {
	ID() string
}

// Surface is a titled area showing the output of one or more workers.
// An auto-closing surface stops itself once every worker rendered into it
// has finished.
type Surface struct {
	id        string
	title     string
	autoClose bool
	sink      Sink
	logger    logging.Logger

	mu      sync.Mutex
	workers []string
	pending int
	stopped bool
	closed  chan struct{}
}

var _ session.Surface = (*Surface)(nil)

// New opens a surface drawn by sink.
func New(title string, autoClose bool, sink Sink, logger logging.Logger) *Surface {
	if logger == nil {
		logger = logging.GetLogger("surface")
	}
	s := &Surface{
		id:        uuid.NewString(),
		title:     title,
		autoClose: autoClose,
		sink:      sink,
		logger:    logger,
		closed:    make(chan struct{}),
	}
	sink.Opened(s)
	return s
}

// ID returns the surface identifier.
func (s *Surface) ID() string { return s.id }

// Title returns the surface title.
func (s *Surface) Title() string { return s.title }

// AutoClose reports whether the surface closes itself.
func (s *Surface) AutoClose() bool { return s.autoClose }

// Closed is closed once the surface has stopped.
func (s *Surface) Closed() <-chan struct{} { return s.closed }

// Workers returns the ids of the workers rendered so far.
func (s *Surface) Workers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.workers...)
}

// RenderWorker attaches w to the surface. Rendering into a stopped surface
// does nothing.
func (s *Surface) RenderWorker(w session.Worker) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.logger.Debug("Render into stopped surface ignored", "surface_id", s.id)
		return
	}
	workerID := workerIdentity(w, len(s.workers))
	s.workers = append(s.workers, workerID)
	d, tracked := w.(doner)
	tracked = tracked && s.autoClose
	if tracked {
		s.pending++
	}
	s.mu.Unlock()

	w.Render(&panel{surface: s, workerID: workerID})

	if tracked {
		go s.watch(d.Done())
	}
}

func (s *Surface) watch(done <-chan struct{}) {
	<-done
	s.mu.Lock()
	s.pending--
	last := s.pending == 0
	s.mu.Unlock()
	if last {
		s.Stop()
	}
}

// Stop closes the surface. Later calls do nothing.
func (s *Surface) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.sink.Closed(s)
	close(s.closed)
}

func (s *Surface) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func workerIdentity(w session.Worker, index int) string {
	if id, ok := w.(identified); ok && id.ID() != "" {
		return id.ID()
	}
	if title := w.Options().Title; title != "" {
		return title
	}
	return fmt.Sprintf("worker-%d", index+1)
}

// panel routes one worker's output to the surface sink.
type panel struct {
	surface  *Surface
	workerID string
}

func (p *panel) AppendLine(source, line string) {
	if p.surface.isStopped() {
		return
	}
	p.surface.sink.Line(p.surface, p.workerID, source, line)
}

func (p *panel) SetStatus(status string) {
	if p.surface.isStopped() {
		return
	}
	p.surface.sink.Status(p.surface, p.workerID, status)
}

// MultiSink draws every surface on all of sinks.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Opened(s *Surface) {
	for _, sink := range m {
		sink.Opened(s)
	}
}

func (m multiSink) Line(s *Surface, workerID, source, line string) {
	for _, sink := range m {
		sink.Line(s, workerID, source, line)
	}
}

func (m multiSink) Status(s *Surface, workerID, status string) {
	for _, sink := range m {
		sink.Status(s, workerID, status)
	}
}

func (m multiSink) Closed(s *Surface) {
	for _, sink := range m {
		sink.Closed(s)
	}
}
