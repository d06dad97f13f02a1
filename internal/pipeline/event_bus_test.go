package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusCameraFilter(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	var all, cam1 []int
	unsubAll := bus.Subscribe(AllCameras, EventHandlerFunc(func(e *DetectionEvent) { all = append(all, e.Camera) }))
	bus.Subscribe(1, EventHandlerFunc(func(e *DetectionEvent) { cam1 = append(cam1, e.Camera) }))

	bus.Publish(&DetectionEvent{Camera: 0})
	bus.Publish(&DetectionEvent{Camera: 1})
	bus.Publish(nil)

	assert.Equal(t, []int{0, 1}, all)
	assert.Equal(t, []int{1}, cam1)

	unsubAll()
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestEventBusChannelSkipsWhenFull(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ch, unsubscribe := bus.SubscribeChannel(AllCameras, 1)

	bus.Publish(&DetectionEvent{ID: "a"})
	bus.Publish(&DetectionEvent{ID: "b"})

	assert.Equal(t, "a", (<-ch).ID)
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
}
