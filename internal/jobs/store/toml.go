package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/encodedeck/internal/jobs"
)

// file represents the complete jobs file for TOML marshaling.
type file struct {
	Version int                     `toml:"version" json:"version"`
	Jobs    map[string]jobs.JobSpec `toml:"jobs" json:"jobs"`
}

// tomlStore implements jobs.Store using TOML file storage.
type tomlStore struct {
	path string

	mu   sync.RWMutex
	file *file
}

// NewTOML creates a new TOML-based store.
func NewTOML(path string) jobs.Store {
	if path == "" {
		path = "jobs.toml"
	}

	return &tomlStore{
		path: path,
		file: &file{
			Version: 1,
			Jobs:    make(map[string]jobs.JobSpec),
		},
	}
}

// Load reads the jobs file. A missing file is an empty job list.
func (s *tomlStore) Load() error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		s.mu.Lock()
		s.file = &file{Version: 1, Jobs: make(map[string]jobs.JobSpec)}
		s.mu.Unlock()
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read jobs file: %w", err)
	}

	loaded := &file{}
	if unmarshalErr := toml.Unmarshal(data, loaded); unmarshalErr != nil {
		return fmt.Errorf("failed to parse jobs file: %w", unmarshalErr)
	}

	if loaded.Jobs == nil {
		loaded.Jobs = make(map[string]jobs.JobSpec)
	}
	if loaded.Version == 0 {
		loaded.Version = 1
	}

	// Table keys are the ids
	for id, job := range loaded.Jobs {
		job.ID = id
		if err := job.Validate(); err != nil {
			return fmt.Errorf("invalid jobs file: %w", err)
		}
		loaded.Jobs[id] = job
	}

	s.mu.Lock()
	s.file = loaded
	s.mu.Unlock()
	return nil
}

// Save writes the jobs file.
func (s *tomlStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

// saveLocked writes the file through a temporary file and a rename, holding
// an advisory lock so two encodedeck processes never interleave writes.
func (s *tomlStore) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create jobs directory: %w", err)
	}

	data, err := toml.Marshal(s.file)
	if err != nil {
		return fmt.Errorf("failed to marshal jobs file: %w", err)
	}

	fileLock := flock.New(s.path + ".lock")
	if lockErr := fileLock.Lock(); lockErr != nil {
		return fmt.Errorf("failed to lock jobs file: %w", lockErr)
	}
	defer func() { _ = fileLock.Unlock() }()

	tmp := s.path + ".tmp"
	if writeErr := os.WriteFile(tmp, data, 0o644); writeErr != nil {
		return fmt.Errorf("failed to write jobs file: %w", writeErr)
	}
	if renameErr := os.Rename(tmp, s.path); renameErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace jobs file: %w", renameErr)
	}

	return nil
}

// GetJob retrieves a job by ID.
func (s *tomlStore) GetJob(id string) (jobs.JobSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.file.Jobs[id]
	return job, exists
}

// GetAllJobs returns a copy of all jobs.
func (s *tomlStore) GetAllJobs() map[string]jobs.JobSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make(map[string]jobs.JobSpec, len(s.file.Jobs))
	for id, job := range s.file.Jobs {
		all[id] = job
	}
	return all
}

// PutJob adds or replaces a job.
func (s *tomlStore) PutJob(job jobs.JobSpec) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Jobs[job.ID] = job
	return s.saveLocked()
}

// RemoveJob removes a job.
func (s *tomlStore) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.file.Jobs[id]; !exists {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
	}
	delete(s.file.Jobs, id)
	return s.saveLocked()
}
