package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/encodedeck/internal/events"
	"github.com/smazurov/encodedeck/internal/metrics"
)

// DefaultPublishInterval is how often the feed exporter looks for new samples.
const DefaultPublishInterval = time.Second

// EventPublisher is the part of the event bus the exporter needs.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEOption configures an SSEExporter.
type SSEOption func(*SSEExporter)

// WithInterval sets the publish interval. Non-positive values are ignored.
func WithInterval(d time.Duration) SSEOption {
	return func(s *SSEExporter) {
		if d > 0 {
			s.interval = d
		}
	}
}

// SSEExporter republishes process samples on the event bus so the browser
// feed can show them next to worker output. A worker is only republished
// when its sample changed since the last tick.
type SSEExporter struct {
	bus      EventPublisher
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	last   map[string]events.ProcessMetricsEvent
}

// NewSSEExporter creates an exporter publishing to bus.
func NewSSEExporter(bus EventPublisher, opts ...SSEOption) *SSEExporter {
	s := &SSEExporter{
		bus:      bus,
		interval: DefaultPublishInterval,
		last:     make(map[string]events.ProcessMetricsEvent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the publish loop. It runs until ctx is done or Stop is
// called. Starting a running exporter does nothing.
func (s *SSEExporter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(loopCtx)
}

// Stop ends the publish loop and waits for it. Safe to call repeatedly.
func (s *SSEExporter) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishChanged()
		}
	}
}

// publishChanged publishes the workers whose sample moved and forgets the
// ones that are gone.
func (s *SSEExporter) publishChanged() {
	current := metrics.GetAllProcessMetrics()

	var changed []events.ProcessMetricsEvent
	s.mu.Lock()
	for workerID := range s.last {
		if _, ok := current[workerID]; !ok {
			delete(s.last, workerID)
		}
	}
	for workerID, m := range current {
		ev := sampleEvent(workerID, m)
		if prev, ok := s.last[workerID]; ok && sameSample(prev, ev) {
			continue
		}
		s.last[workerID] = ev
		changed = append(changed, ev)
	}
	s.mu.Unlock()

	for _, ev := range changed {
		ev.Timestamp = events.Now()
		s.bus.Publish(ev)
	}
}

func sampleEvent(workerID string, m *metrics.ProcessMetrics) events.ProcessMetricsEvent {
	return events.ProcessMetricsEvent{
		JobID:         m.JobID,
		WorkerID:      workerID,
		ResidentBytes: strconv.FormatFloat(m.ResidentBytes, 'f', 0, 64),
		CPUSeconds:    strconv.FormatFloat(m.CPUSeconds, 'f', 2, 64),
		Threads:       strconv.FormatFloat(m.Threads, 'f', 0, 64),
	}
}

func sameSample(a, b events.ProcessMetricsEvent) bool {
	return a.JobID == b.JobID &&
		a.ResidentBytes == b.ResidentBytes &&
		a.CPUSeconds == b.CPUSeconds &&
		a.Threads == b.Threads
}

// GetEventTypes returns the event types this exporter adds to the SSE stream.
func GetEventTypes() map[string]any {
	return map[string]any{
		"process-metrics": events.ProcessMetricsEvent{},
	}
}
