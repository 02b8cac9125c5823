package jobs

// Store persists job definitions.
type Store interface {
	// Load reads the jobs file, replacing what is in memory.
	Load() error

	// Save writes the in-memory jobs to the file.
	Save() error

	// GetJob returns the job with id.
	GetJob(id string) (JobSpec, bool)

	// GetAllJobs returns every job keyed by id.
	GetAllJobs() map[string]JobSpec

	// PutJob adds or replaces a job and saves the file.
	PutJob(job JobSpec) error

	// RemoveJob deletes a job and saves the file.
	RemoveJob(id string) error
}
