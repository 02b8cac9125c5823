package main

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/smazurov/encodedeck/internal/jobs"
	"github.com/smazurov/encodedeck/internal/jobs/store"
	"github.com/smazurov/encodedeck/internal/logging"
	"github.com/smazurov/encodedeck/internal/worker"
)

type spyRunner struct {
	running map[string]bool
	stopped []string
}

func (r *spyRunner) IsRunning(id string) bool { return r.running[id] }

func (r *spyRunner) Stop(id string) error {
	r.stopped = append(r.stopped, id)
	return nil
}

func writeJobs(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestApplyJobsReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.toml")
	writeJobs(t, path, `
[jobs.keep]
[[jobs.keep.tasks]]
command = "true"

[jobs.gone-running]
[[jobs.gone-running.tasks]]
command = "true"

[jobs.gone-idle]
[[jobs.gone-idle.tasks]]
command = "true"
`)
	jobStore := store.NewTOML(path)
	if err := jobStore.Load(); err != nil {
		t.Fatal(err)
	}

	writeJobs(t, path, `
[jobs.keep]
[[jobs.keep.tasks]]
command = "true"

[jobs.added]
[[jobs.added.tasks]]
command = "false"
`)
	all, err := loadJobsFile(path)
	if err != nil {
		t.Fatal(err)
	}

	runner := &spyRunner{running: map[string]bool{"keep": true, "gone-running": true}}
	applyJobsReload(jobStore, runner, all, logging.Discard())

	if len(runner.stopped) != 1 || runner.stopped[0] != "gone-running" {
		t.Errorf("stopped = %v, want [gone-running]", runner.stopped)
	}
	if _, ok := jobStore.GetJob("added"); !ok {
		t.Error("store missing job added after reload")
	}
	if _, ok := jobStore.GetJob("gone-idle"); ok {
		t.Error("store still has removed job gone-idle")
	}
}

func TestApplyJobsReloadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.toml")
	writeJobs(t, path, "[jobs.a]\n[[jobs.a.tasks]]\ncommand = \"true\"\n")
	jobStore := store.NewTOML(path)
	if err := jobStore.Load(); err != nil {
		t.Fatal(err)
	}

	writeJobs(t, path, "[jobs.a\n")
	runner := &spyRunner{running: map[string]bool{"a": true}}
	applyJobsReload(jobStore, runner, map[string]jobs.JobSpec{}, logging.Discard())

	if len(runner.stopped) != 0 {
		t.Errorf("stopped = %v after failed reload, want none", runner.stopped)
	}
	if _, ok := jobStore.GetJob("a"); !ok {
		t.Error("failed reload dropped job a")
	}
}

func TestBacklogConfigurer(t *testing.T) {
	tests := []struct {
		backlog int
		want    int
	}{
		{0, 0},
		{-1, 0},
		{500, 500},
	}
	for _, tt := range tests {
		cfg := worker.Config{}
		backlogConfigurer(tt.backlog)("job", &cfg)
		if cfg.Backlog != tt.want {
			t.Errorf("backlogConfigurer(%d) set %d, want %d", tt.backlog, cfg.Backlog, tt.want)
		}
	}
}

func TestParseDurationOr(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2s", "2s"},
		{"", "5s"},
		{"soon", "5s"},
		{"-1s", "5s"},
	}
	for _, tt := range tests {
		if got := parseDurationOr(tt.in, 5_000_000_000); got.String() != tt.want {
			t.Errorf("parseDurationOr(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

type countingReloader struct {
	calls chan struct{}
}

func (r *countingReloader) Reload() { r.calls <- struct{}{} }

func TestReloadOnSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &countingReloader{calls: make(chan struct{}, 1)}

	done := make(chan struct{})
	go func() {
		reloadOnSignal(ctx, logging.Discard(), r)
		close(done)
	}()
	// Let signal.Notify register
	time.Sleep(50 * time.Millisecond)

	if err := syscall.Kill(os.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatal(err)
	}
	select {
	case <-r.calls:
	case <-time.After(time.Second):
		t.Fatal("SIGHUP did not trigger a reload")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reloadOnSignal did not return after cancel")
	}
}
