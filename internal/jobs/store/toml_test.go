package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/smazurov/encodedeck/internal/jobs"
)

// setupTestStore creates a store backed by a temporary file.
func setupTestStore(t *testing.T) (*tomlStore, string) {
	t.Helper()

	testFile := filepath.Join(t.TempDir(), "jobs.toml")
	return NewTOML(testFile).(*tomlStore), testFile
}

const sampleJobs = `
version = 1

[jobs.batch-1]
title = "Encoding batch 1"

[[jobs.batch-1.tasks]]
title = "1080p"
command = "ffmpeg -i in.mkv -s 1920x1080 out1080.mp4"

[[jobs.batch-1.tasks]]
command = "ffmpeg -i in.mkv -s 1280x720 out720.mp4"
dir = "/tmp"
env = { FFREPORT = "file=report.log" }

[jobs.thumbs]
parallel = true

[[jobs.thumbs.tasks]]
command = "sh -c 'echo one'"
`

func TestLoad(t *testing.T) {
	s, path := setupTestStore(t)
	if err := os.WriteFile(path, []byte(sampleJobs), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	job, ok := s.GetJob("batch-1")
	if !ok {
		t.Fatal("batch-1 not loaded")
	}
	if job.ID != "batch-1" || job.Title != "Encoding batch 1" || job.Parallel {
		t.Errorf("batch-1 = %+v", job)
	}
	if len(job.Tasks) != 2 {
		t.Fatalf("batch-1 has %d tasks, want 2", len(job.Tasks))
	}
	if job.Tasks[1].Dir != "/tmp" || job.Tasks[1].Env["FFREPORT"] != "file=report.log" {
		t.Errorf("second task = %+v", job.Tasks[1])
	}

	thumbs, ok := s.GetJob("thumbs")
	if !ok || !thumbs.Parallel || thumbs.DisplayTitle() != "thumbs" {
		t.Errorf("thumbs = %+v", thumbs)
	}
	if n := len(s.GetAllJobs()); n != 2 {
		t.Errorf("GetAllJobs() has %d jobs, want 2", n)
	}
}

func TestLoadMissingFile(t *testing.T) {
	s, _ := setupTestStore(t)
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if n := len(s.GetAllJobs()); n != 0 {
		t.Errorf("GetAllJobs() has %d jobs, want 0", n)
	}
}

func TestLoadRejectsInvalidJobs(t *testing.T) {
	tests := map[string]string{
		"no tasks":       "[jobs.empty]\ntitle = \"x\"\n",
		"unclosed quote": "[jobs.bad]\n[[jobs.bad.tasks]]\ncommand = \"echo 'oops\"\n",
		"bad toml":       "[jobs.bad\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			s, path := setupTestStore(t)
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			if err := s.Load(); err == nil {
				t.Error("Load() accepted an invalid jobs file")
			}
		})
	}
}

func TestPutSaveReload(t *testing.T) {
	s, path := setupTestStore(t)

	job := jobs.JobSpec{
		ID:    "nightly",
		Title: "Nightly",
		Tasks: []jobs.TaskSpec{{Title: "proxy", Command: "ffmpeg -i a.mov -c:v prores b.mov"}},
	}
	if err := s.PutJob(job); err != nil {
		t.Fatalf("PutJob() error = %v", err)
	}
	if err := s.PutJob(jobs.JobSpec{ID: "empty"}); !errors.Is(err, jobs.ErrNoTasks) {
		t.Errorf("PutJob(no tasks) error = %v, want ErrNoTasks", err)
	}

	reloaded := NewTOML(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got, ok := reloaded.GetJob("nightly")
	if !ok || got.Title != "Nightly" || len(got.Tasks) != 1 || got.Tasks[0].Command != job.Tasks[0].Command {
		t.Errorf("reloaded job = %+v", got)
	}

	if err := reloaded.RemoveJob("nightly"); err != nil {
		t.Fatalf("RemoveJob() error = %v", err)
	}
	if err := reloaded.RemoveJob("nightly"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("RemoveJob(missing) error = %v, want ErrJobNotFound", err)
	}
}

func TestLoadReplacesJobs(t *testing.T) {
	s, path := setupTestStore(t)
	os.WriteFile(path, []byte(sampleJobs), 0o644)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	os.WriteFile(path, []byte("[jobs.only]\n[[jobs.only.tasks]]\ncommand = \"true\"\n"), 0o644)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.GetJob("batch-1"); ok {
		t.Error("Load() kept a job removed from the file")
	}
	if _, ok := s.GetJob("only"); !ok {
		t.Error("Load() missed the new job")
	}
}

func TestSaveWaitsForFileLock(t *testing.T) {
	s, path := setupTestStore(t)

	held := flock.New(path + ".lock")
	if err := held.Lock(); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.PutJob(jobs.JobSpec{ID: "locked", Tasks: []jobs.TaskSpec{{Command: "true"}}})
	}()

	select {
	case err := <-done:
		t.Fatalf("PutJob() returned while the file was locked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := held.Unlock(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("PutJob() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("PutJob() still blocked after unlock")
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}
}
