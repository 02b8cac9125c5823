package process

import "errors"

// Sentinel errors returned by handles. Operating system errors are wrapped
// with %w and never replaced, so callers can still errors.As them.
var (
	ErrNotStarted     = errors.New("process not started")
	ErrNotExited      = errors.New("process has not exited")
	ErrProcessExited  = errors.New("process already exited")
	ErrClosed         = errors.New("process handle closed")
	ErrEmptyCommand   = errors.New("empty command")
	ErrNotRedirected  = errors.New("stream not redirected")
	ErrStreamMode     = errors.New("cannot mix synchronous and asynchronous reads on a stream")
	ErrAlreadyReading = errors.New("asynchronous read already in progress")
	ErrNotReading     = errors.New("no asynchronous read in progress")
	ErrInvalidBounds  = errors.New("minimum working set exceeds maximum")
	ErrUnsupported    = errors.New("not supported on this platform")
)
