// Package cmd holds the subcommands of the encodedeck binary.
package cmd

import "github.com/smazurov/encodedeck/internal/logging"

// initCommandLogging sets up minimal logging for one-shot commands. Worker
// output already goes to the console surface, so the encoder logger only
// reports warnings.
func initCommandLogging(logJSON bool) {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"encoder": "warn"},
	}
	if logJSON {
		cfg.Format = "json"
	}
	logging.Initialize(cfg)
}
