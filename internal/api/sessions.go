package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/encodedeck/internal/api/models"
	"github.com/smazurov/encodedeck/internal/session"
)

// registerSessionRoutes registers the session registry endpoints.
func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/api/sessions",
		Summary:     "List Sessions",
		Description: "List the jobs that have a pinned surface",
		Tags:        []string{"sessions"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.SessionListResponse, error) {
		sessions := s.options.Sessions.Sessions()
		return &models.SessionListResponse{
			Body: models.SessionListData{
				Sessions:  sessions,
				Count:     len(sessions),
				AppExited: s.options.Sessions.AppExited(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "stop-session",
		Method:        http.MethodDelete,
		Path:          "/api/sessions/{job_id}",
		Summary:       "Stop Session",
		Description:   "Close the pinned surface of a job. Workers keep running; later output goes to auto-closing surfaces.",
		Tags:          []string{"sessions"},
		Security:      withAuth(),
		Errors:        []int{401, 404},
		DefaultStatus: http.StatusNoContent,
	}, func(_ context.Context, input *models.SessionPath) (*struct{}, error) {
		jobID := session.JobID(input.JobID)
		if !s.options.Sessions.Has(jobID) {
			return nil, huma.Error404NotFound("No session for job " + input.JobID)
		}
		s.options.Sessions.Stop(jobID)
		return &struct{}{}, nil
	})
}
