package session

import (
	"errors"
	"time"
)

// DefaultTitle names ephemeral surfaces of workers that carry no title.
const DefaultTitle = "encodedeck"

// ErrInvalidJobID is returned by Start for the empty job id.
var ErrInvalidJobID = errors.New("job id is required")

// JobID groups workers under one session. The zero value means no job.
type JobID string

// WorkerOptions is the display metadata of a worker.
type WorkerOptions struct {
	JobID JobID
	Title string
}

// Panel is the part of a surface a worker draws into.
type Panel interface {
	AppendLine(source, line string)
	SetStatus(status string)
}

// Worker is a unit of work wrapping one process.
type Worker interface {
	Options() WorkerOptions
	Render(panel Panel)
}

// Surface displays one or more workers.
type Surface interface {
	RenderWorker(w Worker)
	Stop()
}

// SurfaceFactory creates surfaces. Pinned surfaces are created with
// autoClose false; ephemeral ones with autoClose true.
type SurfaceFactory interface {
	CreateSurface(title string, autoClose bool) Surface
}

// SurfaceFactoryFunc adapts a function to SurfaceFactory.
type SurfaceFactoryFunc func(title string, autoClose bool) Surface

// CreateSurface calls f.
func (f SurfaceFactoryFunc) CreateSurface(title string, autoClose bool) Surface {
	return f(title, autoClose)
}

// Info describes a registered session.
type Info struct {
	JobID     JobID     `json:"job_id" example:"batch-1" doc:"Job identifier"`
	Title     string    `json:"title" example:"Encoding batch 1" doc:"Surface title"`
	SurfaceID string    `json:"surface_id,omitempty" doc:"Surface identifier when the surface exposes one"`
	StartedAt time.Time `json:"started_at" doc:"When the session was started"`
	Renders   int       `json:"renders" doc:"Number of workers rendered into the surface"`
}

// identified is implemented by surfaces with a stable identifier.
type identified interface {
	ID() string
}

func surfaceID(s Surface) string {
	if id, ok := s.(identified); ok {
		return id.ID()
	}
	return ""
}
