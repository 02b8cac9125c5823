// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"time"

	"github.com/smazurov/encodedeck/internal/jobs"
	"github.com/smazurov/encodedeck/internal/logging"
	"github.com/smazurov/encodedeck/internal/session"
	"github.com/smazurov/encodedeck/internal/worker"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.2.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"a1b2c3d" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go toolchain version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Session models
type SessionListData struct {
	Sessions  []session.Info `json:"sessions" doc:"Jobs with an open session"`
	Count     int            `json:"count" example:"1" doc:"Number of sessions"`
	AppExited bool           `json:"app_exited" doc:"Whether the application is shutting down"`
}

type SessionListResponse struct {
	Body SessionListData
}

type SessionPath struct {
	JobID string `path:"job_id" example:"batch-1" doc:"Job identifier"`
}

// Job models
type JobPath struct {
	JobID string `path:"job_id" example:"batch-1" doc:"Job identifier"`
}

type JobListData struct {
	Jobs  []jobs.Info `json:"jobs" doc:"Jobs defined in the jobs file"`
	Count int         `json:"count" example:"2" doc:"Number of jobs"`
}

type JobListResponse struct {
	Body JobListData
}

type JobResponse struct {
	Body jobs.Info
}

type JobSpecResponse struct {
	Body jobs.JobSpec
}

// Ad-hoc execution models
type ExecRequestData struct {
	Command string `json:"command" minLength:"1" example:"ffmpeg -i in.mkv -c:v libx264 out.mp4" doc:"Command line to run"`
	Title   string `json:"title,omitempty" example:"Quick transcode" doc:"Surface title"`
	JobID   string `json:"job_id,omitempty" example:"batch-1" doc:"Show the worker in this job's session when it has one"`
}

type ExecRequest struct {
	Body ExecRequestData
}

type ExecResponse struct {
	Body worker.Info
}

type WorkerListData struct {
	Workers []worker.Info `json:"workers" doc:"Running ad-hoc workers"`
	Count   int           `json:"count" example:"1" doc:"Number of workers"`
}

type WorkerListResponse struct {
	Body WorkerListData
}

// Logging models
type LogLevelRequest struct {
	Module string `path:"module" example:"encoder" doc:"Logger module name"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New level"`
	}
}

type LogLevelData struct {
	Module string `json:"module" example:"encoder" doc:"Logger module name"`
	Level  string `json:"level" example:"debug" doc:"Applied level"`
}

type LogLevelResponse struct {
	Body LogLevelData
}

type LogHistoryRequest struct {
	Module string `query:"module" example:"encoder" doc:"Only records of this module"`
	Limit  int    `query:"limit" minimum:"0" maximum:"500" default:"100" doc:"Most recent records to return"`
}

type LogHistoryData struct {
	Entries []logging.Entry `json:"entries" doc:"Log records, oldest first"`
	Count   int             `json:"count" example:"100" doc:"Number of records"`
}

type LogHistoryResponse struct {
	Body LogHistoryData
}

// Event connection confirmation
type ConnectedEvent struct {
	Message   string    `json:"message" example:"SSE connection established" doc:"Connection message"`
	Timestamp time.Time `json:"timestamp" doc:"Connection time"`
}
