package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/encodedeck/internal/api/models"
	"github.com/smazurov/encodedeck/internal/jobs"
)

// registerJobRoutes registers the job runner endpoints.
func (s *Server) registerJobRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/api/jobs",
		Summary:     "List Jobs",
		Description: "List the jobs of the jobs file with their run state",
		Tags:        []string{"jobs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.JobListResponse, error) {
		all := s.options.Jobs.All()
		return &models.JobListResponse{
			Body: models.JobListData{Jobs: all, Count: len(all)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/api/jobs/{job_id}",
		Summary:     "Get Job",
		Description: "Get the run state of a job and its workers",
		Tags:        []string{"jobs"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.JobPath) (*models.JobResponse, error) {
		if err := s.requireJob(input.JobID); err != nil {
			return nil, err
		}
		return &models.JobResponse{Body: s.options.Jobs.Status(input.JobID)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-job-spec",
		Method:      http.MethodGet,
		Path:        "/api/jobs/{job_id}/spec",
		Summary:     "Get Job Definition",
		Description: "Get the tasks of a job as defined in the jobs file",
		Tags:        []string{"jobs"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.JobPath) (*models.JobSpecResponse, error) {
		if s.options.JobStore == nil {
			return nil, huma.Error404NotFound("Job " + input.JobID + " not found")
		}
		spec, ok := s.options.JobStore.GetJob(input.JobID)
		if !ok {
			return nil, huma.Error404NotFound("Job " + input.JobID + " not found")
		}
		return &models.JobSpecResponse{Body: spec}, nil
	})

	s.registerJobAction("start-job", "start", "Start Job", "Run the tasks of a job in its own session", s.options.Jobs.Start)
	s.registerJobAction("stop-job", "stop", "Stop Job", "Stop a running job; encoders get a close request before they are killed", s.options.Jobs.Stop)
	s.registerJobAction("restart-job", "restart", "Restart Job", "Stop a job and start it again", s.options.Jobs.Restart)

	huma.Register(s.api, huma.Operation{
		OperationID:   "exec-command",
		Method:        http.MethodPost,
		Path:          "/api/exec",
		Summary:       "Run Command",
		Description:   "Run a command outside the jobs file. It is shown in the session of job_id when that job has one, otherwise on its own auto-closing surface.",
		Tags:          []string{"exec"},
		Security:      withAuth(),
		Errors:        []int{400, 401, 503},
		DefaultStatus: http.StatusAccepted,
	}, func(_ context.Context, input *models.ExecRequest) (*models.ExecResponse, error) {
		// Not tied to the request context: the worker outlives the request
		w, err := s.options.Jobs.Exec(context.Background(), input.Body.JobID, input.Body.Title, input.Body.Command)
		if err != nil {
			if s.options.Sessions != nil && s.options.Sessions.AppExited() {
				return nil, huma.Error503ServiceUnavailable("Application is shutting down", err)
			}
			return nil, huma.Error400BadRequest("Invalid command", err)
		}
		return &models.ExecResponse{Body: w.Info()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-exec",
		Method:      http.MethodGet,
		Path:        "/api/exec",
		Summary:     "List Running Commands",
		Description: "List the ad-hoc workers that are still running",
		Tags:        []string{"exec"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.WorkerListResponse, error) {
		workers := s.options.Jobs.Adhoc()
		return &models.WorkerListResponse{
			Body: models.WorkerListData{Workers: workers, Count: len(workers)},
		}, nil
	})
}

func (s *Server) registerJobAction(operationID, action, summary, description string, fn func(string) error) {
	huma.Register(s.api, huma.Operation{
		OperationID: operationID,
		Method:      http.MethodPost,
		Path:        "/api/jobs/{job_id}/" + action,
		Summary:     summary,
		Description: description,
		Tags:        []string{"jobs"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 409, 500},
	}, func(_ context.Context, input *models.JobPath) (*models.JobResponse, error) {
		if err := fn(input.JobID); err != nil {
			return nil, mapJobError(err)
		}
		return &models.JobResponse{Body: s.options.Jobs.Status(input.JobID)}, nil
	})
}

func (s *Server) requireJob(id string) error {
	if s.options.JobStore == nil {
		return nil
	}
	if _, ok := s.options.JobStore.GetJob(id); !ok {
		return huma.Error404NotFound("Job " + id + " not found")
	}
	return nil
}

// mapJobError converts runner errors to HTTP errors.
func mapJobError(err error) error {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, jobs.ErrJobRunning):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, jobs.ErrNoTasks):
		return huma.Error422UnprocessableEntity(err.Error())
	default:
		return huma.Error500InternalServerError("Job operation failed", err)
	}
}
