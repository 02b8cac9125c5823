package process

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestQueueDispatcherOrder(t *testing.T) {
	q := NewQueueDispatcher(4)

	var got []int
	for i := 0; i < 100; i++ {
		q.Invoke(func() { got = append(got, i) })
	}
	q.Close()

	if len(got) != 100 {
		t.Fatalf("ran %d callbacks, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("callback %d ran as %d", i, v)
		}
	}
}

func TestQueueDispatcherSerializes(t *testing.T) {
	q := NewQueueDispatcher(16)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Invoke(func() {
					n := active.Add(1)
					if n > maxActive.Load() {
						maxActive.Store(n)
					}
					active.Add(-1)
				})
			}
		}()
	}
	wg.Wait()
	q.Close()

	if maxActive.Load() != 1 {
		t.Errorf("callbacks overlapped: max concurrency %d", maxActive.Load())
	}
}

func TestQueueDispatcherClosed(t *testing.T) {
	q := NewQueueDispatcher(1)
	q.Close()
	q.Close()

	ran := false
	q.Invoke(func() { ran = true })
	if ran {
		t.Error("callback ran after Close")
	}
}

func TestQueueDispatcherCloseRacingInvoke(t *testing.T) {
	for iter := 0; iter < 200; iter++ {
		q := NewQueueDispatcher(2)
		var accepted, ran atomic.Int32
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					if q.submit(func() { ran.Add(1) }) {
						accepted.Add(1)
					}
				}
			}()
		}
		q.Close()
		wg.Wait()

		if a, r := accepted.Load(), ran.Load(); a != r {
			t.Fatalf("iteration %d: %d callbacks accepted, %d ran", iter, a, r)
		}
	}
}

func TestInlineDispatcher(t *testing.T) {
	ran := false
	InlineDispatcher{}.Invoke(func() { ran = true })
	if !ran {
		t.Error("InlineDispatcher did not run the callback")
	}

	var d Dispatcher = DispatcherFunc(func(fn func()) { fn() })
	ran = false
	d.Invoke(func() { ran = true })
	if !ran {
		t.Error("DispatcherFunc did not run the callback")
	}
}

func TestListenersUnsubscribe(t *testing.T) {
	var l listeners[int]
	var calls []string
	l.add(func(int) { calls = append(calls, "a") })
	off := l.add(func(int) { calls = append(calls, "b") })
	l.add(func(int) { calls = append(calls, "c") })
	off()

	for _, fn := range l.snapshot() {
		fn(0)
	}
	if got := len(calls); got != 2 || calls[0] != "a" || calls[1] != "c" {
		t.Errorf("calls = %v, want [a c]", calls)
	}
}
