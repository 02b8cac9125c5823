package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/encodedeck/cmd"
	"github.com/smazurov/encodedeck/internal/api"
	"github.com/smazurov/encodedeck/internal/config"
	"github.com/smazurov/encodedeck/internal/events"
	"github.com/smazurov/encodedeck/internal/jobs"
	"github.com/smazurov/encodedeck/internal/jobs/store"
	"github.com/smazurov/encodedeck/internal/logging"
	"github.com/smazurov/encodedeck/internal/metrics/collectors"
	"github.com/smazurov/encodedeck/internal/metrics/exporters"
	"github.com/smazurov/encodedeck/internal/session"
	"github.com/smazurov/encodedeck/internal/surface"
	"github.com/smazurov/encodedeck/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `doc:"Path to configuration file" short:"c" default:"encodedeck.toml"`

	// Server settings
	Port string `doc:"Port to listen on" short:"p" default:":8095" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings
	AuthUsername string `doc:"Basic auth username (empty disables auth)" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `doc:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Jobs settings
	JobsFile      string `doc:"Job definitions file" default:"jobs.toml" toml:"jobs.file" env:"JOBS_FILE"`
	JobsAutostart bool   `doc:"Start every job when the server starts" default:"false" toml:"jobs.autostart" env:"JOBS_AUTOSTART"`

	// Surface settings
	ConsoleEnabled bool `doc:"Also draw surfaces on stdout" default:"false" toml:"surfaces.console" env:"SURFACES_CONSOLE"`

	// Worker settings
	WorkerGracefulTimeout string `doc:"Time a worker gets to exit after the close request" default:"5s" toml:"worker.graceful_timeout" env:"WORKER_GRACEFUL_TIMEOUT"`
	WorkerBacklog         int    `doc:"Output lines replayed to a newly attached surface" default:"200" toml:"worker.backlog" env:"WORKER_BACKLOG"`

	// Metrics settings
	MetricsEnabled        bool   `doc:"Serve Prometheus metrics on /metrics" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`
	MetricsSampleInterval string `doc:"Process counter sampling interval" default:"5s" toml:"metrics.sample_interval" env:"METRICS_SAMPLE_INTERVAL"`

	// Logging settings
	LoggingLevel   string `doc:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `doc:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingAPI     string `doc:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingJobs    string `doc:"Job runner logging level" default:"info" toml:"logging.jobs" env:"LOGGING_JOBS"`
	LoggingSession string `doc:"Session registry logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingWorker  string `doc:"Worker logging level" default:"info" toml:"logging.worker" env:"LOGGING_WORKER"`
	LoggingEncoder string `doc:"Encoder output logging level" default:"info" toml:"logging.encoder" env:"LOGGING_ENCODER"`
	LoggingMetrics string `doc:"Metrics logging level" default:"info" toml:"logging.metrics" env:"LOGGING_METRICS"`
}

func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"api":     o.LoggingAPI,
			"jobs":    o.LoggingJobs,
			"session": o.LoggingSession,
			"worker":  o.LoggingWorker,
			"encoder": o.LoggingEncoder,
			"metrics": o.LoggingMetrics,
		},
	}
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func main() {
	var cli humacli.CLI

	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically; flags set on the command line win
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			logging.GetLogger("main").Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Surfaces go to the browser feed, and to stdout when asked
		factoryOpts := []surface.FactoryOption{surface.WithFeed(eventBus)}
		if opts.ConsoleEnabled {
			factoryOpts = append(factoryOpts, surface.WithConsole(os.Stdout))
		}
		registry := session.NewRegistry(
			surface.NewFactory(factoryOpts...),
			session.WithPublisher(eventBus),
		)

		sampleInterval := parseDurationOr(opts.MetricsSampleInterval, collectors.DefaultSampleInterval)
		sampler := collectors.NewSampler(sampleInterval)
		sessionCollector := collectors.NewSessionCollector()
		sseExporter := exporters.NewSSEExporter(eventBus, exporters.WithInterval(sampleInterval))

		jobStore := store.NewTOML(opts.JobsFile)
		runner := jobs.NewRunner(jobs.Options{
			Store:           jobStore,
			Registry:        registry,
			Tracker:         sampler,
			Publisher:       eventBus,
			GracefulTimeout: parseDurationOr(opts.WorkerGracefulTimeout, 0),
			ConfigureWorker: backlogConfigurer(opts.WorkerBacklog),
		})

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Sessions:     registry,
			Jobs:         runner,
			JobStore:     jobStore,
			EventBus:     eventBus,
		}
		if opts.MetricsEnabled {
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
		}
		server := api.NewServer(apiOpts)

		notifier := systemd.NewNotifier()
		jobsWatcher := newJobsWatcher(opts.JobsFile, jobStore, runner)
		loggingWatcher := newLoggingWatcher(opts.Config)

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			if loadErr := jobStore.Load(); loadErr != nil {
				logger.Warn("Failed to load jobs file", "file", opts.JobsFile, "error", loadErr)
			}

			sessionCollector.Start(eventBus)
			if startErr := sampler.Start(ctx); startErr != nil {
				logger.Warn("Failed to start process sampler", "error", startErr)
			}
			sseExporter.Start(ctx)

			// Config watchers are non-fatal if they fail
			if startErr := jobsWatcher.Start(); startErr != nil {
				logger.Warn("Failed to watch jobs file, hot-reload disabled", "error", startErr)
			}
			if startErr := loggingWatcher.Start(); startErr != nil {
				logger.Warn("Failed to watch config file, log level reload disabled", "error", startErr)
			}

			if opts.JobsAutostart {
				for _, info := range runner.All() {
					if startErr := runner.Start(info.ID); startErr != nil {
						logger.Warn("Failed to autostart job", "job_id", info.ID, "error", startErr)
					}
				}
			}

			go reloadOnSignal(ctx, logger, jobsWatcher, loggingWatcher)

			notifier.Ready()
			go notifier.RunWatchdog(ctx)

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			notifier.Stopping()

			// No new sessions or surfaces from here on
			registry.SetAppExited()

			logger.Info("Stopping all jobs")
			runner.StopAll()
			registry.StopAll()

			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			_ = jobsWatcher.Stop()
			_ = loggingWatcher.Stop()

			cancel()
			_ = sampler.Stop()
			sseExporter.Stop()
			sessionCollector.Stop()
		})
	})

	cli.Root().Use = "encodedeck"
	cli.Root().Short = "Run encoder jobs and follow their output"
	cli.Root().AddCommand(cmd.CreateRunCmd())
	cli.Root().AddCommand(cmd.CreateExecCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	if err := cli.Root().Execute(); err != nil {
		var exitErr *cmd.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
