// Package encoder understands the log output of command-line encoders.
package encoder

import (
	"strings"

	"github.com/smazurov/encodedeck/internal/logging"
)

// ParseLogLevel extracts the log level from encoder output.
//
// Recognized forms:
//
//	[info] message                        ffmpeg -loglevel level+info
//	[libx264 @ 0x55d1] [warning] message  ffmpeg component log
//	x264 [warning]: message               x264 and x265 CLIs
//
// The level is stripped from the returned message, component prefixes are
// kept. Lines without a level are "info".
func ParseLogLevel(line string) (level, msg string) {
	if len(line) < 3 {
		return "info", line
	}
	if line[0] != '[' {
		return parseCLIPrefix(line)
	}

	end := strings.Index(line, "] ")
	if end == -1 {
		return "info", line
	}

	bracket := line[1:end]
	if isLogLevel(bracket) {
		return bracket, line[end+2:]
	}

	component := line[:end+2]
	rest := line[end+2:]
	if len(rest) > 2 && rest[0] == '[' {
		if nextEnd := strings.Index(rest, "] "); nextEnd != -1 {
			if next := rest[1:nextEnd]; isLogLevel(next) {
				return next, component + rest[nextEnd+2:]
			}
		}
	}

	return "info", line
}

// parseCLIPrefix handles "name [level]: message".
func parseCLIPrefix(line string) (string, string) {
	open := strings.Index(line, " [")
	if open <= 0 || strings.ContainsAny(line[:open], " \t") {
		return "info", line
	}
	rest := line[open+2:]
	end := strings.Index(rest, "]:")
	if end == -1 {
		return "info", line
	}
	level := rest[:end]
	if !isLogLevel(level) {
		return "info", line
	}
	return level, line[:open] + ": " + strings.TrimLeft(rest[end+2:], " ")
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}

// Log writes an encoder output line to logger at the level the encoder
// tagged it with.
func Log(logger logging.Logger, line string) {
	level, msg := ParseLogLevel(line)
	switch level {
	case "panic", "fatal", "error":
		logger.Error(msg)
	case "warning":
		logger.Warn(msg)
	case "verbose", "debug", "trace":
		logger.Debug(msg)
	case "quiet":
	default:
		logger.Info(msg)
	}
}
