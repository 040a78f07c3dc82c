package cpubus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	var gotA, gotB Event
	b.Subscribe(func(ev Event) { gotA = ev })
	b.Subscribe(func(ev Event) { gotB = ev })

	b.Publish(Event{IsCPUOverloaded: true})

	assert.True(t, gotA.IsCPUOverloaded)
	assert.True(t, gotB.IsCPUOverloaded)
}

func TestUnsubscribeRemovesExactlyOneListener(t *testing.T) {
	b := New()
	calls := 0
	tokenA := b.Subscribe(func(Event) { calls++ })
	b.Subscribe(func(Event) { calls++ })

	assert.Equal(t, 2, b.SubscriberCount())

	b.Unsubscribe(tokenA)
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(Event{})
	assert.Equal(t, 1, calls)
}

func TestUnsubscribeUnknownTokenIsNoop(t *testing.T) {
	b := New()
	b.Subscribe(func(Event) {})
	before := b.SubscriberCount()

	b.Unsubscribe(New().Subscribe(func(Event) {}))

	assert.Equal(t, before, b.SubscriberCount())
}
