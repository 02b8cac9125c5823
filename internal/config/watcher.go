package config

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/smazurov/encodedeck/internal/logging"
)

// DefaultDebounce is how long a Watcher waits after the last change event
// before it reloads.
const DefaultDebounce = 1500 * time.Millisecond

// Watcher reloads a file through a typed loader whenever it changes and
// hands the result to every registered handler.
//
// It watches the parent directory, so saves that write a temporary file and
// rename it over the original are seen as well. Content identical to the
// last delivered load is not delivered again.
type Watcher[T any] struct {
	path     string
	debounce time.Duration
	loader   func(path string) (T, error)
	onError  func(error)
	logger   logging.Logger

	mu       sync.Mutex
	handlers map[int]func(T)
	nextID   int
	fsw      *fsnotify.Watcher
	stop     chan struct{}
	stopped  chan struct{}

	loadMu sync.Mutex
	digest [sha256.Size]byte
}

// WatcherOption configures a Watcher.
type WatcherOption[T any] func(*Watcher[T])

// WithDebounce sets the quiet period before a reload.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.debounce = d
	}
}

// WithErrorHandler is called with every failed load. Failures are logged
// either way.
func WithErrorHandler[T any](handler func(error)) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.onError = handler
	}
}

// NewConfigWatcher creates a watcher for path. Nothing is watched until Start.
func NewConfigWatcher[T any](
	path string,
	loader func(path string) (T, error),
	logger logging.Logger,
	opts ...WatcherOption[T],
) *Watcher[T] {
	if logger == nil {
		logger = logging.GetLogger("config")
	}
	w := &Watcher[T]{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		loader:   loader,
		logger:   logger,
		handlers: make(map[int]func(T)),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload adds a handler and returns a function removing it.
func (w *Watcher[T]) OnReload(handler func(T)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = handler
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.handlers, id)
		w.mu.Unlock()
	}
}

// Start begins watching. The current content becomes the baseline, so an
// unchanged file does not trigger a reload right away.
func (w *Watcher[T]) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	w.loadMu.Lock()
	w.digest, _ = fileDigest(w.path)
	w.loadMu.Unlock()

	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()

	w.logger.Info("Watching file for changes", "path", w.path, "debounce", w.debounce)
	go w.loop(fsw)
	return nil
}

// Stop ends watching and waits for the loop to return. Stopping a watcher
// that never started, or stopping twice, is fine.
func (w *Watcher[T]) Stop() error {
	w.mu.Lock()
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	close(w.stop)
	err := fsw.Close()
	<-w.stopped
	return err
}

func (w *Watcher[T]) loop(fsw *fsnotify.Watcher) {
	defer close(w.stopped)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			// Write covers in-place saves, Create covers rename-over saves
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("File change detected", "path", w.path, "op", ev.Op.String())
			timer.Reset(w.debounce)

		case <-timer.C:
			w.load(false)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "path", w.path, "error", err)
		}
	}
}

// Reload loads the file now and notifies handlers even if the content did
// not change.
func (w *Watcher[T]) Reload() {
	w.load(true)
}

func (w *Watcher[T]) load(force bool) {
	w.loadMu.Lock()
	defer w.loadMu.Unlock()

	digest, digestErr := fileDigest(w.path)
	if !force && digestErr == nil && digest == w.digest {
		w.logger.Debug("Content unchanged, reload skipped", "path", w.path)
		return
	}

	value, err := w.loader(w.path)
	if err != nil {
		w.logger.Warn("Reload failed, keeping previous configuration", "path", w.path, "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	w.digest = digest
	w.logger.Info("Reloaded", "path", w.path, "forced", force)

	w.mu.Lock()
	handlers := make([]func(T), 0, len(w.handlers))
	for id := 0; id < w.nextID; id++ {
		if h, ok := w.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	w.mu.Unlock()

	for _, h := range handlers {
		h(value)
	}
}

func fileDigest(path string) ([sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(data), nil
}
