package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/encodedeck/internal/process"
	"github.com/smazurov/encodedeck/internal/session"
	"github.com/smazurov/encodedeck/internal/surface"
	"github.com/smazurov/encodedeck/internal/worker"
)

// ExitError carries the exit code of the command run by exec.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// CreateExecCmd creates the exec command.
func CreateExecCmd() *cobra.Command {
	var jobID string
	var title string
	var gracefulTimeout time.Duration
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "exec [flags] -- command [args...]",
		Short: "Run one command in a console surface",
		Long: `Runs a single command and shows its output in a console surface. Without --job the ` +
			`surface closes itself when the command exits; with --job it is the pinned surface of that job. ` +
			`A single argument is parsed as a command line, several are used as they are.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			initCommandLogging(logJSON)

			info, err := commandStartInfo(args)
			if err != nil {
				return err
			}
			if title == "" {
				title = info.FileName
			}

			registry := session.NewRegistry(surface.NewFactory(surface.WithConsole(c.OutOrStdout())))
			if jobID != "" {
				if startErr := registry.Start(session.JobID(jobID), title); startErr != nil {
					return startErr
				}
				defer registry.Stop(session.JobID(jobID))
			}

			w := worker.NewFromStartInfo(info, worker.Config{
				Options:         session.WorkerOptions{JobID: session.JobID(jobID), Title: title},
				GracefulTimeout: gracefulTimeout,
			})
			registry.Display(w)

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if code := w.Run(ctx); code != 0 {
				c.SilenceUsage = true
				c.SilenceErrors = true
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "Show the command in the pinned surface of this job")
	cmd.Flags().StringVar(&title, "title", "", "Surface title (defaults to the program name)")
	cmd.Flags().DurationVar(&gracefulTimeout, "graceful-timeout", worker.DefaultGracefulTimeout,
		"Time the command gets to exit after the close request before it is killed")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	return cmd
}

func commandStartInfo(args []string) (process.StartInfo, error) {
	if len(args) == 1 {
		info, err := process.ParseCommand(args[0])
		if err != nil {
			return process.StartInfo{}, fmt.Errorf("parse command %q: %w", args[0], err)
		}
		return info, nil
	}
	if strings.TrimSpace(args[0]) == "" {
		return process.StartInfo{}, process.ErrEmptyCommand
	}
	return process.StartInfo{FileName: args[0], Args: args[1:]}, nil
}
