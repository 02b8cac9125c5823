package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/smazurov/encodedeck/internal/api/models"
	"github.com/smazurov/encodedeck/internal/jobs"
	"github.com/smazurov/encodedeck/internal/logging"
	"github.com/smazurov/encodedeck/internal/process/processtest"
	"github.com/smazurov/encodedeck/internal/session"
	"github.com/smazurov/encodedeck/internal/worker"
)

type mockSessionService struct {
	mu        sync.Mutex
	sessions  map[session.JobID]session.Info
	stopped   []session.JobID
	appExited bool
}

func (m *mockSessionService) Sessions() []session.Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]session.Info, 0, len(m.sessions))
	for _, info := range m.sessions {
		out = append(out, info)
	}
	return out
}

func (m *mockSessionService) Has(jobID session.JobID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[jobID]
	return ok
}

func (m *mockSessionService) Stop(jobID session.JobID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, jobID)
	m.stopped = append(m.stopped, jobID)
}

func (m *mockSessionService) AppExited() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appExited
}

type mockJobService struct {
	mu       sync.Mutex
	startErr error
	execErr  error
	started  []string
	execs    []string
	adhoc    []worker.Info
}

func (m *mockJobService) All() []jobs.Info {
	return []jobs.Info{{ID: "batch-1", State: jobs.StateIdle}}
}

func (m *mockJobService) Status(id string) jobs.Info {
	return jobs.Info{ID: id, State: jobs.StateRunning}
}

func (m *mockJobService) Start(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, id)
	return m.startErr
}

func (m *mockJobService) Stop(_ string) error    { return nil }
func (m *mockJobService) Restart(_ string) error { return m.startErr }

func (m *mockJobService) Exec(_ context.Context, jobID, title, command string) (*worker.Worker, error) {
	if m.execErr != nil {
		return nil, m.execErr
	}
	m.mu.Lock()
	m.execs = append(m.execs, command)
	m.mu.Unlock()
	return worker.New(processtest.NewFake(), worker.Config{
		ID:      "w-1",
		Command: command,
		Options: session.WorkerOptions{JobID: session.JobID(jobID), Title: title},
		Logger:  logging.Discard(),
	}), nil
}

func (m *mockJobService) Adhoc() []worker.Info { return m.adhoc }

type memoryJobStore struct {
	jobs map[string]jobs.JobSpec
}

func (s *memoryJobStore) Load() error { return nil }
func (s *memoryJobStore) Save() error { return nil }

func (s *memoryJobStore) GetJob(id string) (jobs.JobSpec, bool) {
	j, ok := s.jobs[id]
	return j, ok
}

func (s *memoryJobStore) GetAllJobs() map[string]jobs.JobSpec { return s.jobs }

func (s *memoryJobStore) PutJob(job jobs.JobSpec) error {
	s.jobs[job.ID] = job
	return nil
}

func (s *memoryJobStore) RemoveJob(id string) error {
	delete(s.jobs, id)
	return nil
}

func newTestServer(opts *Options) *httptest.Server {
	return httptest.NewServer(NewServer(opts).mux)
}

func doRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestHealthAndVersion(t *testing.T) {
	sessions := &mockSessionService{}
	ts := newTestServer(&Options{Sessions: sessions})
	defer ts.Close()

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/health", "")
	var health models.HealthData
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if health.Status != "ok" {
		t.Errorf("health status = %q, want ok", health.Status)
	}

	sessions.appExited = true
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/health", "")
	health = models.HealthData{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if health.Status != "stopping" {
		t.Errorf("health status after exit = %q, want stopping", health.Status)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/version", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("version status = %d, want 200", resp.StatusCode)
	}
}

func TestBasicAuth(t *testing.T) {
	ts := newTestServer(&Options{
		AuthUsername: "admin",
		AuthPassword: "secret",
		Sessions:     &mockSessionService{},
	})
	defer ts.Close()

	creds := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	wrong := base64.StdEncoding.EncodeToString([]byte("admin:nope"))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"public health", "/api/health", "", http.StatusOK},
		{"missing credentials", "/api/sessions", "", http.StatusUnauthorized},
		{"wrong password", "/api/sessions", "Basic " + wrong, http.StatusUnauthorized},
		{"bearer scheme", "/api/sessions", "Bearer " + creds, http.StatusUnauthorized},
		{"header credentials", "/api/sessions", "Basic " + creds, http.StatusOK},
		{"query credentials", "/api/sessions?auth=" + creds, "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestSessionRoutes(t *testing.T) {
	sessions := &mockSessionService{
		sessions: map[session.JobID]session.Info{
			"batch-1": {JobID: "batch-1", Title: "Batch 1", Renders: 2},
		},
	}
	ts := newTestServer(&Options{Sessions: sessions})
	defer ts.Close()

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/sessions", "")
	var list models.SessionListData
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if list.Count != 1 || list.Sessions[0].Title != "Batch 1" {
		t.Errorf("sessions = %+v", list)
	}

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/sessions/unknown", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("delete unknown = %d, want 404", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/sessions/batch-1", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", resp.StatusCode)
	}
	if len(sessions.stopped) != 1 || sessions.stopped[0] != "batch-1" {
		t.Errorf("stopped = %v, want [batch-1]", sessions.stopped)
	}
}

func TestJobRoutes(t *testing.T) {
	store := &memoryJobStore{jobs: map[string]jobs.JobSpec{
		"batch-1": {ID: "batch-1", Title: "Batch 1", Tasks: []jobs.TaskSpec{{Command: "true"}}},
	}}

	tests := []struct {
		name     string
		method   string
		path     string
		startErr error
		want     int
	}{
		{"list", http.MethodGet, "/api/jobs", nil, http.StatusOK},
		{"get known", http.MethodGet, "/api/jobs/batch-1", nil, http.StatusOK},
		{"get unknown", http.MethodGet, "/api/jobs/missing", nil, http.StatusNotFound},
		{"spec known", http.MethodGet, "/api/jobs/batch-1/spec", nil, http.StatusOK},
		{"spec unknown", http.MethodGet, "/api/jobs/missing/spec", nil, http.StatusNotFound},
		{"start", http.MethodPost, "/api/jobs/batch-1/start", nil, http.StatusOK},
		{"start unknown", http.MethodPost, "/api/jobs/missing/start", fmt.Errorf("%w: missing", jobs.ErrJobNotFound), http.StatusNotFound},
		{"start running", http.MethodPost, "/api/jobs/batch-1/start", fmt.Errorf("%w: batch-1", jobs.ErrJobRunning), http.StatusConflict},
		{"start empty", http.MethodPost, "/api/jobs/batch-1/start", jobs.ErrNoTasks, http.StatusUnprocessableEntity},
		{"restart failure", http.MethodPost, "/api/jobs/batch-1/restart", fmt.Errorf("boom"), http.StatusInternalServerError},
		{"stop", http.MethodPost, "/api/jobs/batch-1/stop", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(&Options{
				Jobs:     &mockJobService{startErr: tt.startErr},
				JobStore: store,
			})
			defer ts.Close()

			resp := doRequest(t, tt.method, ts.URL+tt.path, "")
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestExecRoutes(t *testing.T) {
	svc := &mockJobService{adhoc: []worker.Info{{ID: "w-0", State: worker.StateRunning}}}
	ts := newTestServer(&Options{Jobs: svc})
	defer ts.Close()

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/exec", `{"command":"ffmpeg -version","title":"probe","job_id":"batch-1"}`)
	var info worker.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("exec status = %d, want 202", resp.StatusCode)
	}
	if info.ID != "w-1" || info.Title != "probe" || info.JobID != "batch-1" {
		t.Errorf("exec info = %+v", info)
	}
	if len(svc.execs) != 1 || svc.execs[0] != "ffmpeg -version" {
		t.Errorf("execs = %v", svc.execs)
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/exec", `{"command":""}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("empty command status = %d, want 422", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/exec", "")
	var list models.WorkerListData
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if list.Count != 1 || list.Workers[0].ID != "w-0" {
		t.Errorf("adhoc list = %+v", list)
	}
}

func TestExecRejected(t *testing.T) {
	tests := []struct {
		name      string
		appExited bool
		want      int
	}{
		{"bad command", false, http.StatusBadRequest},
		{"shutting down", true, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(&Options{
				Jobs:     &mockJobService{execErr: fmt.Errorf("rejected")},
				Sessions: &mockSessionService{appExited: tt.appExited},
			})
			defer ts.Close()

			resp := doRequest(t, http.MethodPost, ts.URL+"/api/exec", `{"command":"sh -c 'unclosed"}`)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestSetLogLevel(t *testing.T) {
	ts := newTestServer(&Options{})
	defer ts.Close()
	logger := logging.GetLogger("api-test")

	resp := doRequest(t, http.MethodPut, ts.URL+"/api/logging/api-test", `{"level":"debug"}`)
	var data models.LogLevelData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || data.Module != "api-test" || data.Level != "debug" {
		t.Errorf("set level = %d %+v", resp.StatusCode, data)
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("api-test logger not at debug level")
	}

	resp = doRequest(t, http.MethodPut, ts.URL+"/api/logging/api-test", `{"level":"loud"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid level status = %d, want 422", resp.StatusCode)
	}
}

func TestLogHistory(t *testing.T) {
	ts := newTestServer(&Options{})
	defer ts.Close()
	logging.GetLogger("api-history-test").Warn("marker", "job_id", "batch-1")

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/logs?module=api-history-test&limit=5", "")
	defer resp.Body.Close()
	var data models.LogHistoryData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || data.Count != 1 {
		t.Fatalf("logs = %d %+v", resp.StatusCode, data)
	}
	e := data.Entries[0]
	if e.Message != "marker" || e.Level != "warn" || e.Attrs["job_id"] != "batch-1" {
		t.Errorf("entry = %+v", e)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(&Options{AuthUsername: "a", AuthPassword: "b"})
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/jobs", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		t.Errorf("preflight status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Error("missing Access-Control-Allow-Origin")
	}
}

func TestSurfacesPage(t *testing.T) {
	ts := newTestServer(&Options{})
	defer ts.Close()

	resp := doRequest(t, http.MethodGet, ts.URL+"/", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / = %d, want 200", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/nope", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /api/nope = %d, want 404", resp.StatusCode)
	}
}
