package collectors

import (
	"sync"

	"github.com/smazurov/encodedeck/internal/events"
	"github.com/smazurov/encodedeck/internal/metrics"
)

// Subscriber is the part of the event bus the collector uses.
type Subscriber interface {
	Subscribe(handler any) func()
}

// SessionCollector keeps the session and surface metrics in step with the
// event bus.
type SessionCollector struct {
	mu       sync.Mutex
	sessions map[string]struct{}
	surfaces map[string]struct{}
	unsubs   []func()
}

// NewSessionCollector creates a collector.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{
		sessions: make(map[string]struct{}),
		surfaces: make(map[string]struct{}),
	}
}

// Start subscribes to bus.
func (c *SessionCollector) Start(bus Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubs = append(c.unsubs,
		bus.Subscribe(c.onSessionStarted),
		bus.Subscribe(c.onSessionStopped),
		bus.Subscribe(c.onSurfaceOpened),
		bus.Subscribe(c.onSurfaceClosed),
		bus.Subscribe(c.onProcessExited),
	)
}

// Stop unsubscribes from the bus.
func (c *SessionCollector) Stop() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (c *SessionCollector) onSessionStarted(e events.SessionStartedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[e.JobID] = struct{}{}
	metrics.SetSessionsActive(len(c.sessions))
}

func (c *SessionCollector) onSessionStopped(e events.SessionStoppedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, e.JobID)
	metrics.SetSessionsActive(len(c.sessions))
}

func (c *SessionCollector) onSurfaceOpened(e events.SurfaceOpenedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.surfaces[e.SurfaceID] = struct{}{}
	metrics.SetSurfacesActive(len(c.surfaces))
	metrics.IncSurfacesOpened(e.AutoClose)
}

func (c *SessionCollector) onSurfaceClosed(e events.SurfaceClosedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.surfaces, e.SurfaceID)
	metrics.SetSurfacesActive(len(c.surfaces))
}

func (c *SessionCollector) onProcessExited(e events.ProcessExitedEvent) {
	metrics.IncProcessExit(e.ExitCode)
}

// Active returns the number of open sessions and surfaces.
func (c *SessionCollector) Active() (sessions, surfaces int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions), len(c.surfaces)
}
