package process

import "sync"

// Dispatcher runs callbacks on a chosen execution context. It is the
// synchronizing object of a handle: line and exit callbacks go through
// Invoke instead of running on the handle's reader goroutines.
type Dispatcher interface {
	Invoke(fn func())
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(fn func())

// Invoke calls f(fn).
func (f DispatcherFunc) Invoke(fn func()) { f(fn) }

// InlineDispatcher runs callbacks on the caller's goroutine.
type InlineDispatcher struct{}

// Invoke runs fn immediately.
func (InlineDispatcher) Invoke(fn func()) { fn() }

// QueueDispatcher runs callbacks one at a time, in submission order, on a
// single goroutine it owns. UI-bound consumers use it so they are never
// called concurrently.
type QueueDispatcher struct {
	queue chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	// mu is held shared while a callback is being queued and exclusively
	// while closing, so nothing is queued after the loop starts draining.
	mu     sync.RWMutex
	closed bool
}

// NewQueueDispatcher starts a dispatcher with the given queue depth.
func NewQueueDispatcher(depth int) *QueueDispatcher {
	if depth < 1 {
		depth = 1
	}
	q := &QueueDispatcher{
		queue: make(chan func(), depth),
		done:  make(chan struct{}),
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

func (q *QueueDispatcher) loop() {
	defer q.wg.Done()
	for {
		select {
		case fn := <-q.queue:
			fn()
		case <-q.done:
			// drain what was accepted before Close
			for {
				select {
				case fn := <-q.queue:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Invoke queues fn. It blocks while the queue is full and drops fn once the
// dispatcher is closed.
func (q *QueueDispatcher) Invoke(fn func()) {
	q.submit(fn)
}

// submit reports whether fn was queued. A queued fn always runs, even when
// Close follows immediately.
func (q *QueueDispatcher) submit(fn func()) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	q.queue <- fn
	return true
}

// Close stops the dispatcher after running already queued callbacks. It must
// not be called from a callback.
func (q *QueueDispatcher) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
