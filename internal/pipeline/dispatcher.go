package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Dispatcher is the bounded FIFO between the capture and detection workers.
// Producers never block: an item offered to a full queue is dropped.
type Dispatcher struct {
	queue chan Item

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	dequeued atomic.Uint64
}

// NewDispatcher creates a queue holding at most capacity items.
func NewDispatcher(capacity int) *Dispatcher {
	if capacity < 1 {
		capacity = 1
	}
	return &Dispatcher{queue: make(chan Item, capacity)}
}

// Enqueue offers an item without blocking and reports whether it was queued.
func (d *Dispatcher) Enqueue(item Item) bool {
	select {
	case d.queue <- item:
		d.enqueued.Add(1)
		return true
	default:
		dropped := d.dropped.Add(1)
		log.Warn().
			Int("camera", item.Camera).
			Uint64("dropped_total", dropped).
			Msg("detection queue full, dropping frame")
		return false
	}
}

// Dequeue waits up to timeout for the next item.
func (d *Dispatcher) Dequeue(timeout time.Duration) (Item, bool) {
	select {
	case item := <-d.queue:
		d.dequeued.Add(1)
		return item, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item := <-d.queue:
		d.dequeued.Add(1)
		return item, true
	case <-timer.C:
		return Item{}, false
	}
}

// Drain discards everything currently queued and returns how many items
// were removed.
func (d *Dispatcher) Drain() int {
	n := 0
	for {
		select {
		case <-d.queue:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued items.
func (d *Dispatcher) Len() int { return len(d.queue) }

// Cap returns the queue capacity.
func (d *Dispatcher) Cap() int { return cap(d.queue) }

// Stats returns a snapshot of the queue counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Capacity: cap(d.queue),
		Length:   len(d.queue),
		Enqueued: d.enqueued.Load(),
		Dropped:  d.dropped.Load(),
		Dequeued: d.dequeued.Load(),
	}
}
