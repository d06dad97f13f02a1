package pipeline

import (
	"sync"
)

// EventHandler receives detection events synchronously.
type EventHandler interface {
	OnDetectionEvent(event *DetectionEvent)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(event *DetectionEvent)

func (f EventHandlerFunc) OnDetectionEvent(event *DetectionEvent) { f(event) }

// AllCameras subscribes to events from every camera.
const AllCameras = -1

// EventBus fans detection events out to subscribers.
type EventBus struct {
	subscribers map[*eventSubscription]struct{}
	mu          sync.RWMutex
}

type eventSubscription struct {
	camera  int
	channel chan *DetectionEvent
	handler EventHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]struct{}),
	}
}

// Subscribe registers a handler for events from camera (or AllCameras).
// Returns an unsubscribe function.
func (b *EventBus) Subscribe(camera int, handler EventHandler) func() {
	sub := &eventSubscription{camera: camera, handler: handler}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel of events from camera (or
// AllCameras). Events are skipped while the channel is full.
func (b *EventBus) SubscribeChannel(camera, bufferSize int) (<-chan *DetectionEvent, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *DetectionEvent, bufferSize)
	sub := &eventSubscription{camera: camera, channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish delivers an event to every matching subscriber. Handlers run on the
// caller's goroutine so per-camera order is preserved.
func (b *EventBus) Publish(event *DetectionEvent) {
	if event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.camera != AllCameras && sub.camera != event.Camera {
			continue
		}

		if sub.handler != nil {
			sub.handler.OnDetectionEvent(event)
		} else if sub.channel != nil {
			select {
			case sub.channel <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
