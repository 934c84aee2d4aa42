package mqtt

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/sweeney/ac-button/internal/logic"
)

// Forwarder hands button events from the sampling path to a Publisher
// running on its own goroutine. Notify never blocks; when the queue is full
// the event is dropped.
type Forwarder struct {
	pub    Publisher
	events chan logic.Event

	dropped  atomic.Int64
	dropping atomic.Bool
}

// NewForwarder creates a Forwarder with a queue of size events.
func NewForwarder(pub Publisher, size int) *Forwarder {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Forwarder{
		pub:    pub,
		events: make(chan logic.Event, size),
	}
}

// Notify queues ev for publishing.
func (f *Forwarder) Notify(ev logic.Event) {
	select {
	case f.events <- ev:
		f.dropping.Store(false)
	default:
		f.dropped.Add(1)
		if f.dropping.CompareAndSwap(false, true) {
			log.Printf("mqtt: event queue full (%d), dropping events", cap(f.events))
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (f *Forwarder) Dropped() int64 {
	return f.dropped.Load()
}

// Run publishes queued events until ctx is done, then flushes whatever is
// still queued.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-f.events:
					f.publish(ev)
				default:
					return
				}
			}
		case ev := <-f.events:
			f.publish(ev)
		}
	}
}

func (f *Forwarder) publish(ev logic.Event) {
	log.Printf("event: button%d %s", ev.Pin, ev.Type)
	if err := f.pub.Publish(ev); err != nil {
		log.Printf("publish error: %v", err)
	}
}
