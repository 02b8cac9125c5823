package api

import (
	"context"
	"maps"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/encodedeck/internal/api/models"
	"github.com/smazurov/encodedeck/internal/events"
	"github.com/smazurov/encodedeck/internal/metrics/exporters"
)

// registerSSERoutes registers the native Huma SSE endpoint that feeds the
// browser surfaces.
func (s *Server) registerSSERoutes() {
	eventTypes := map[string]any{
		"connected":         models.ConnectedEvent{},
		"session-started":   events.SessionStartedEvent{},
		"session-stopped":   events.SessionStoppedEvent{},
		"surface-opened":    events.SurfaceOpenedEvent{},
		"surface-closed":    events.SurfaceClosedEvent{},
		"worker-line":       events.WorkerLineEvent{},
		"worker-status":     events.WorkerStatusEvent{},
		"job-state-changed": events.JobStateChangedEvent{},
		"process-exited":    events.ProcessExitedEvent{},
	}
	maps.Copy(eventTypes, exporters.GetEventTypes())

	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of sessions, surfaces, worker output and job state",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, eventTypes, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Output lines arrive in bursts
		eventCh := make(chan any, 256)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.SessionStartedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionStoppedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SurfaceOpenedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SurfaceClosedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.WorkerLineEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.WorkerStatusEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.JobStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ProcessExitedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ProcessMetricsEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		if err := send.Data(models.ConnectedEvent{
			Message:   "SSE connection established",
			Timestamp: time.Now(),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
