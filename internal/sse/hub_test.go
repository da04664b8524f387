package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	h := New()
	ch, unsub := h.Subscribe(JobTopic("a"))
	defer unsub()
	other, unsubOther := h.Subscribe(JobTopic("b"))
	defer unsubOther()

	h.PublishJSON(JobTopic("a"), "scored", map[string]any{"score": 0.5})

	evt := <-ch
	assert.Equal(t, "scored", evt.Type)
	assert.JSONEq(t, `{"score":0.5}`, evt.Data)
	assert.Empty(t, other)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := New()
	ch, unsub := h.Subscribe("t")
	require.Equal(t, 1, h.Subscribers("t"))

	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers("t"))

	h.Publish("t", Event{Type: "x"})
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	h := New()
	_, unsub := h.Subscribe("t")
	defer unsub()
	for i := 0; i < 100; i++ {
		h.Publish("t", Event{Type: "tick"})
	}
}

func TestNilHubIsNoop(t *testing.T) {
	var h *Hub
	h.Publish("t", Event{})
	h.PublishJSON("t", "x", 1)
}
