// Package logging provides structured logging with per-module log levels.
//
// Loggers are plain *slog.Logger values tagged with a "module" attribute.
// Each module owns a slog.LevelVar so levels can be changed while the
// process runs (for example when the config file is edited under serve).
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"session": "debug",
//			"encoder": "warn",
//		},
//	})
//
// Then fetch a module logger wherever it is needed:
//
//	logger := logging.GetLogger("jobs").With("job_id", id)
//	logger.Info("Job started")
//
// Output goes to stdout when it is a terminal, pipe or file, and to the
// systemd journal when journald is reachable (SYSLOG_IDENTIFIER=encodedeck),
// or to both at once:
//
//	journalctl -t encodedeck MODULE=worker JOB_ID=batch1
//
// Encoder output is logged through the "encoder" module at the level the
// encoder itself reported, so `[logging.modules] encoder = "warn"` hides
// the chatter of a healthy ffmpeg run.
package logging
