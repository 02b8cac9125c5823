package events

import (
	"reflect"

	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher. Delivery is asynchronous; each
// subscriber sees events in publish order.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// kind binds one concrete event type to the generic dispatcher calls.
type kind struct {
	publish   func(d *event.Dispatcher, ev Event)
	subscribe func(d *event.Dispatcher, handler any) func()
}

var (
	kindsByType    = make(map[uint32]kind)
	kindsByHandler = make(map[reflect.Type]kind)
)

func register[T Event]() {
	var zero T
	k := kind{
		publish: func(d *event.Dispatcher, ev Event) {
			event.Publish(d, ev.(T))
		},
		subscribe: func(d *event.Dispatcher, handler any) func() {
			return event.Subscribe(d, handler.(func(T)))
		},
	}
	kindsByType[zero.Type()] = k
	kindsByHandler[reflect.TypeOf((func(T))(nil))] = k
}

func init() {
	register[SessionStartedEvent]()
	register[SessionStoppedEvent]()
	register[SurfaceOpenedEvent]()
	register[SurfaceClosedEvent]()
	register[WorkerLineEvent]()
	register[WorkerStatusEvent]()
	register[JobStateChangedEvent]()
	register[ProcessExitedEvent]()
	register[ProcessMetricsEvent]()
}

// Publish delivers ev to the subscribers of its concrete type.
// Unregistered event types are dropped.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	if k, ok := kindsByType[ev.Type()]; ok {
		k.publish(b.dispatcher, ev)
	}
}

// Subscribe registers handler, a func taking one event type, and returns
// the unsubscribe function. Other handler shapes get a no-op.
//
//	unsub := bus.Subscribe(func(e SessionStartedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	if k, ok := kindsByHandler[reflect.TypeOf(handler)]; ok {
		return k.subscribe(b.dispatcher, handler)
	}
	return func() {}
}
