package process

import (
	"errors"
	"fmt"
	"strings"
)

// StartInfo describes the process to launch.
type StartInfo struct {
	FileName string
	Args     []string
	Dir      string
	// Env replaces the inherited environment when non-nil. Entries are
	// KEY=value pairs.
	Env []string

	RedirectStdin  bool
	RedirectStdout bool
	RedirectStderr bool
}

// ParseCommand splits a command line into a StartInfo. It understands single
// and double quotes and backslash escapes, nothing more.
func ParseCommand(command string) (StartInfo, error) {
	args, err := splitCommand(command)
	if err != nil {
		return StartInfo{}, err
	}
	if len(args) == 0 {
		return StartInfo{}, ErrEmptyCommand
	}
	return StartInfo{FileName: args[0], Args: args[1:]}, nil
}

// CommandLine renders the file name and arguments, quoting arguments that
// contain whitespace or quotes. ParseCommand reverses it.
func (si StartInfo) CommandLine() string {
	parts := make([]string, 0, len(si.Args)+1)
	for _, a := range append([]string{si.FileName}, si.Args...) {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func (si StartInfo) validate() error {
	if strings.TrimSpace(si.FileName) == "" {
		return ErrEmptyCommand
	}
	for _, kv := range si.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("invalid environment entry %q", kv)
		}
	}
	return nil
}

func quoteArg(a string) string {
	if a != "" && !strings.ContainsAny(a, " \t\"'\\") {
		return a
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range a {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// splitCommand parses a command string into arguments.
func splitCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoted := false
	quoteChar := rune(0)

	runes := []rune(strings.TrimSpace(command))

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoted = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case (r == ' ' || r == '\t') && !inQuote:
			if current.Len() > 0 || quoted {
				args = append(args, current.String())
				current.Reset()
				quoted = false
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}

	if inQuote {
		return nil, errors.New("unclosed quote in command")
	}
	if current.Len() > 0 || quoted {
		args = append(args, current.String())
	}
	return args, nil
}
