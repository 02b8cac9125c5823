package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/encodedeck/internal/jobs"
	"github.com/smazurov/encodedeck/internal/jobs/store"
	"github.com/smazurov/encodedeck/internal/logging"
	"github.com/smazurov/encodedeck/internal/session"
	"github.com/smazurov/encodedeck/internal/surface"
	"github.com/smazurov/encodedeck/internal/worker"
)

// CreateRunCmd creates the run command.
func CreateRunCmd() *cobra.Command {
	var selected []string
	var gracefulTimeout time.Duration
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "run [jobs-file]",
		Short: "Run jobs from a jobs file and exit",
		Long: `Runs every job of the jobs file (or only those named with --job), each in its own ` +
			`console session. Exits when all jobs are done; the exit code is 1 if any job failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			initCommandLogging(logJSON)
			logger := logging.GetLogger("run")

			jobStore := store.NewTOML(args[0])
			if err := jobStore.Load(); err != nil {
				return fmt.Errorf("load jobs: %w", err)
			}

			ids, err := selectJobs(jobStore.GetAllJobs(), selected)
			if err != nil {
				return err
			}

			registry := session.NewRegistry(surface.NewFactory(surface.WithConsole(c.OutOrStdout())))
			runner := jobs.NewRunner(jobs.Options{
				Store:           jobStore,
				Registry:        registry,
				GracefulTimeout: gracefulTimeout,
			})

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			failed := runJobs(ctx, runner, registry, ids, logger)
			if failed > 0 {
				return fmt.Errorf("%d of %d jobs failed", failed, len(ids))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&selected, "job", nil, "Run only these jobs (repeatable)")
	cmd.Flags().DurationVar(&gracefulTimeout, "graceful-timeout", worker.DefaultGracefulTimeout,
		"Time a task gets to exit after the close request before it is killed")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	return cmd
}

// selectJobs returns the ids to run in a stable order.
func selectJobs(all map[string]jobs.JobSpec, selected []string) ([]string, error) {
	if len(selected) == 0 {
		ids := make([]string, 0, len(all))
		for id := range all {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if len(ids) == 0 {
			return nil, fmt.Errorf("jobs file has no jobs")
		}
		return ids, nil
	}

	ids := slices.Clone(selected)
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := all[id]; !ok {
			return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
		}
	}
	return slices.Compact(ids), nil
}

// runJobs starts every job and waits for all of them. Cancelling ctx stops
// the jobs gracefully. It returns the number of failed jobs.
func runJobs(ctx context.Context, runner *jobs.Runner, registry *session.Registry, ids []string, logger logging.Logger) int {
	go func() {
		<-ctx.Done()
		registry.SetAppExited()
		runner.StopAll()
	}()

	failed := 0
	started := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := runner.Start(id); err != nil {
			logger.Error("Failed to start job", "job_id", id, "error", err)
			failed++
			continue
		}
		started = append(started, id)
	}

	for _, id := range started {
		if err := runner.Wait(context.Background(), id); err != nil {
			logger.Warn("Job failed", "job_id", id, "error", err)
			failed++
		}
	}
	return failed
}
