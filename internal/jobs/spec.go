package jobs

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/smazurov/encodedeck/internal/process"
)

// Errors returned by the runner and stores.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobRunning  = errors.New("job already running")
	ErrNoTasks     = errors.New("job has no tasks")
)

// JobSpec is one job of the jobs file.
type JobSpec struct {
	ID       string     `toml:"-" json:"id"`
	Title    string     `toml:"title" json:"title"`
	Parallel bool       `toml:"parallel,omitempty" json:"parallel,omitempty"`
	Tasks    []TaskSpec `toml:"tasks" json:"tasks"`
}

// TaskSpec is one command of a job.
type TaskSpec struct {
	Title   string            `toml:"title,omitempty" json:"title,omitempty"`
	Command string            `toml:"command" json:"command"`
	Dir     string            `toml:"dir,omitempty" json:"dir,omitempty"`
	Env     map[string]string `toml:"env,omitempty" json:"env,omitempty"`
}

// DisplayTitle returns the job title, falling back to its id.
func (j JobSpec) DisplayTitle() string {
	if j.Title != "" {
		return j.Title
	}
	return j.ID
}

// Validate checks that every task has a parseable command.
func (j JobSpec) Validate() error {
	if j.ID == "" {
		return errors.New("job id is required")
	}
	if len(j.Tasks) == 0 {
		return fmt.Errorf("job %s: %w", j.ID, ErrNoTasks)
	}
	for i, t := range j.Tasks {
		if _, err := t.StartInfo(); err != nil {
			return fmt.Errorf("job %s task %d: %w", j.ID, i+1, err)
		}
	}
	return nil
}

// DisplayTitle returns the task title, falling back to its command.
func (t TaskSpec) DisplayTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return t.Command
}

// StartInfo parses the command and applies the directory and environment.
// The environment extends the inherited one.
func (t TaskSpec) StartInfo() (process.StartInfo, error) {
	info, err := process.ParseCommand(t.Command)
	if err != nil {
		return process.StartInfo{}, err
	}
	info.Dir = t.Dir
	if len(t.Env) > 0 {
		keys := make([]string, 0, len(t.Env))
		for k := range t.Env {
			if k == "" || strings.Contains(k, "=") {
				return process.StartInfo{}, fmt.Errorf("invalid environment variable name %q", k)
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		info.Env = os.Environ()
		for _, k := range keys {
			info.Env = append(info.Env, k+"="+t.Env[k])
		}
	}
	return info, nil
}
