package process

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"sync"
	"time"
)

const (
	initialLineBuffer = 64 * 1024
	maxLineLength     = 1024 * 1024
)

type streamMode int

const (
	modeNone streamMode = iota
	modeSync
	modeAsync
)

// pipeStream is the parent side of one redirected output stream.
type pipeStream struct {
	source   Stream
	dispatch func(func())

	mu         sync.Mutex
	r          *os.File
	mode       streamMode
	delivering bool
	started    bool
	done       chan struct{}

	listeners listeners[LineEvent]
}

func newPipeStream(source Stream, dispatch func(func())) *pipeStream {
	return &pipeStream{
		source:   source,
		dispatch: dispatch,
		done:     make(chan struct{}),
	}
}

func (ps *pipeStream) syncReader() (io.ReadCloser, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.mode == modeAsync {
		return nil, ErrStreamMode
	}
	ps.mode = modeSync
	return ps.r, nil
}

func (ps *pipeStream) begin() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.mode == modeSync {
		return ErrStreamMode
	}
	if ps.delivering {
		return ErrAlreadyReading
	}
	ps.mode = modeAsync
	ps.delivering = true
	if !ps.started {
		ps.started = true
		go ps.pump(ps.r)
	}
	return nil
}

func (ps *pipeStream) cancel() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.mode != modeAsync || !ps.delivering {
		return ErrNotReading
	}
	ps.delivering = false
	return nil
}

func (ps *pipeStream) pumping() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.started
}

func (ps *pipeStream) isDelivering() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.delivering
}

func (ps *pipeStream) close() {
	ps.mu.Lock()
	r := ps.r
	ps.delivering = false
	ps.mu.Unlock()
	if r != nil {
		r.Close()
	}
}

// pump reads lines until EOF. Lines read while delivery is cancelled are
// dropped, but reading never stops so the child cannot block on a full pipe.
func (ps *pipeStream) pump(r io.Reader) {
	defer close(ps.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialLineBuffer), maxLineLength)
	scanner.Split(scanLines)

	for scanner.Scan() {
		if !ps.isDelivering() {
			continue
		}
		ev := LineEvent{Source: ps.source, Line: scanner.Text(), Time: time.Now()}
		fns := ps.listeners.snapshot()
		if len(fns) == 0 {
			continue
		}
		ps.dispatch(func() {
			for _, fn := range fns {
				fn(ev)
			}
		})
	}
	if scanner.Err() != nil {
		// overlong line or read error; keep draining
		_, _ = io.Copy(io.Discard, r)
	}
}

// scanLines splits on \n, \r\n and bare \r. Encoders rewrite their status
// line with \r, and each rewrite is a line of its own.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// \r at the end of the buffer may be the first half of \r\n
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
