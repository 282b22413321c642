package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster[int](1)

	a := b.Subscribe()
	c := b.Subscribe()
	assert.Equal(t, 2, b.Subscribers())

	b.Publish(1)
	assert.Equal(t, 1, <-a)

	// c did not read, the second event is dropped for it only
	b.Publish(2)
	assert.Equal(t, 2, <-a)
	assert.Equal(t, 1, <-c)
	assert.Len(t, c, 0)

	b.Unsubscribe(a)
	b.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers())
}
