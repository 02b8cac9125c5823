package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/encodedeck/internal/config"
	"github.com/smazurov/encodedeck/internal/jobs"
	"github.com/smazurov/encodedeck/internal/jobs/store"
	"github.com/smazurov/encodedeck/internal/logging"
	"github.com/smazurov/encodedeck/internal/worker"
)

// jobRunner is the part of the runner a jobs file reload touches.
type jobRunner interface {
	IsRunning(id string) bool
	Stop(id string) error
}

func backlogConfigurer(backlog int) jobs.Configurer {
	return func(_ string, cfg *worker.Config) {
		if backlog > 0 {
			cfg.Backlog = backlog
		}
	}
}

func loadJobsFile(path string) (map[string]jobs.JobSpec, error) {
	s := store.NewTOML(path)
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s.GetAllJobs(), nil
}

// newJobsWatcher reloads the jobs store when the jobs file changes. Running
// jobs keep their tasks until restarted; jobs removed from the file are
// stopped.
func newJobsWatcher(path string, jobStore jobs.Store, runner jobRunner) *config.Watcher[map[string]jobs.JobSpec] {
	logger := logging.GetLogger("jobs")
	watcher := config.NewConfigWatcher(
		path,
		loadJobsFile,
		logger,
		config.WithDebounce[map[string]jobs.JobSpec](time.Second),
	)
	watcher.OnReload(func(all map[string]jobs.JobSpec) {
		applyJobsReload(jobStore, runner, all, logger)
	})
	return watcher
}

func applyJobsReload(jobStore jobs.Store, runner jobRunner, all map[string]jobs.JobSpec, logger logging.Logger) {
	previous := jobStore.GetAllJobs()
	if err := jobStore.Load(); err != nil {
		logger.Warn("Failed to reload jobs file", "error", err)
		return
	}

	for id := range previous {
		if _, kept := all[id]; kept || !runner.IsRunning(id) {
			continue
		}
		logger.Info("Job removed from jobs file, stopping", "job_id", id)
		if err := runner.Stop(id); err != nil {
			logger.Warn("Failed to stop removed job", "job_id", id, "error", err)
		}
	}
	logger.Info("Jobs file reloaded", "jobs", len(all))
}

// newLoggingWatcher reapplies the [logging] table of the config file when
// it changes.
func newLoggingWatcher(path string) *config.Watcher[logging.Config] {
	watcher := config.NewConfigWatcher(path, config.LoadLoggingConfig, nil)
	watcher.OnReload(func(cfg logging.Config) {
		logging.Initialize(cfg)
		logging.GetLogger("config").Info("Logging configuration reloaded", "level", cfg.Level)
	})
	return watcher
}

type reloader interface {
	Reload()
}

// reloadOnSignal forces every reloader to reload on SIGHUP until ctx is done.
func reloadOnSignal(ctx context.Context, logger logging.Logger, reloaders ...reloader) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("SIGHUP received, reloading configuration")
			for _, r := range reloaders {
				r.Reload()
			}
		}
	}
}
