package events

import (
	"time"

	"github.com/kelindar/event"
)

// SubscribeToChannel bridges kelindar/event callback subscriptions to a channel
// for select-loop consumers such as the SSE endpoint. Events are dropped when
// the channel is full so a slow browser never stalls an encoder.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

// Now returns the timestamp format used in event payloads.
func Now() string {
	return time.Now().Format(time.RFC3339)
}
