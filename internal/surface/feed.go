package surface

import (
	"github.com/smazurov/encodedeck/internal/events"
)

// Publisher receives surface events. *events.Bus satisfies it.
type Publisher interface {
	Publish(ev events.Event)
}

// Feed draws surfaces by publishing them as events, which the API streams
// to browsers.
type Feed struct {
	pub Publisher
}

var _ Sink = (*Feed)(nil)

// NewFeed creates a feed sink publishing on pub.
func NewFeed(pub Publisher) *Feed {
	return &Feed{pub: pub}
}

// Opened publishes SurfaceOpenedEvent.
func (f *Feed) Opened(s *Surface) {
	f.pub.Publish(events.SurfaceOpenedEvent{
		SurfaceID: s.ID(),
		Title:     s.Title(),
		AutoClose: s.AutoClose(),
		Timestamp: events.Now(),
	})
}

// Line publishes WorkerLineEvent.
func (f *Feed) Line(s *Surface, workerID, source, line string) {
	f.pub.Publish(events.WorkerLineEvent{
		SurfaceID: s.ID(),
		WorkerID:  workerID,
		Source:    source,
		Line:      line,
		Timestamp: events.Now(),
	})
}

// Status publishes WorkerStatusEvent.
func (f *Feed) Status(s *Surface, workerID, status string) {
	f.pub.Publish(events.WorkerStatusEvent{
		SurfaceID: s.ID(),
		WorkerID:  workerID,
		Status:    status,
		Timestamp: events.Now(),
	})
}

// Closed publishes SurfaceClosedEvent.
func (f *Feed) Closed(s *Surface) {
	f.pub.Publish(events.SurfaceClosedEvent{
		SurfaceID: s.ID(),
		Timestamp: events.Now(),
	})
}
