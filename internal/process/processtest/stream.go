package processtest

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/smazurov/encodedeck/internal/process"
)

type fakeMode int

const (
	fakeModeNone fakeMode = iota
	fakeModeSync
	fakeModeAsync
)

// fakeStream mirrors the line delivery rules of a redirected stream.
// Lines emitted before any reader exists are buffered for a synchronous
// reader and dropped for asynchronous delivery, like an undrained pipe.
type fakeStream struct {
	source process.Stream

	mu         sync.Mutex
	cond       *sync.Cond
	mode       fakeMode
	delivering bool
	buf        bytes.Buffer
	closed     bool
	fns        map[int]func(process.LineEvent)
	nextID     int
}

func newFakeStream(source process.Stream) *fakeStream {
	s := &fakeStream{source: source, fns: make(map[int]func(process.LineEvent))}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *fakeStream) write(line string, d process.Dispatcher) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.mode != fakeModeAsync {
		s.buf.WriteString(line)
		s.buf.WriteByte('\n')
		s.cond.Broadcast()
		s.mu.Unlock()
		return
	}
	if !s.delivering {
		s.mu.Unlock()
		return
	}
	fns := make([]func(process.LineEvent), 0, len(s.fns))
	for i := 0; i < s.nextID; i++ {
		if fn, ok := s.fns[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	ev := process.LineEvent{Source: s.source, Line: line, Time: time.Now()}
	deliver(d, func() {
		for _, fn := range fns {
			fn(ev)
		}
	})
}

func (s *fakeStream) eof() {
	s.mu.Lock()
	s.closed = true
	s.delivering = false
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *fakeStream) subscribe(fn func(process.LineEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *fakeStream) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == fakeModeSync {
		return process.ErrStreamMode
	}
	if s.delivering {
		return process.ErrAlreadyReading
	}
	s.mode = fakeModeAsync
	s.delivering = true
	return nil
}

func (s *fakeStream) cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != fakeModeAsync || !s.delivering {
		return process.ErrNotReading
	}
	s.delivering = false
	return nil
}

func (s *fakeStream) reader() (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == fakeModeAsync {
		return nil, process.ErrStreamMode
	}
	s.mode = fakeModeSync
	return fakeReader{s}, nil
}

type fakeReader struct{ s *fakeStream }

// Read blocks until a line is emitted or the fake exits.
func (r fakeReader) Read(p []byte) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.buf.Len() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.buf.Len() == 0 {
		return 0, io.EOF
	}
	return s.buf.Read(p)
}

func (r fakeReader) Close() error {
	r.s.eof()
	return nil
}
