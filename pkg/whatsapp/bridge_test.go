package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeFanOutInRegistrationOrder(t *testing.T) {
	b := NewBridge()

	var order []string
	b.Subscribe(func(Event) { order = append(order, "first") })
	b.Subscribe(func(Event) { order = append(order, "second") })
	b.Subscribe(func(Event) { order = append(order, "third") })

	b.Publish(Event{Type: EventConnected})
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestBridgeUnsubscribe(t *testing.T) {
	b := NewBridge()

	var got []EventType
	unsubscribe := b.Subscribe(func(e Event) { got = append(got, e.Type) })

	b.Publish(Event{Type: EventQR})
	unsubscribe()
	b.Publish(Event{Type: EventConnected})

	assert.Equal(t, []EventType{EventQR}, got)
}

func TestBridgeUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBridge()

	unsubscribe := b.Subscribe(func(Event) {})
	keep := 0
	b.Subscribe(func(Event) { keep++ })

	unsubscribe()
	unsubscribe()

	b.Publish(Event{Type: EventConnected})
	assert.Equal(t, 1, keep)
}

func TestBridgeLastEvent(t *testing.T) {
	b := NewBridge()

	_, ok := b.Last(EventQR)
	assert.False(t, ok)

	b.Publish(Event{Type: EventQR, QR: "code-1"})
	b.Publish(Event{Type: EventQR, QR: "code-2"})
	b.Publish(Event{Type: EventConnected})

	event, ok := b.Last(EventQR)
	require.True(t, ok)
	assert.Equal(t, "code-2", event.QR)
	assert.False(t, event.Timestamp.IsZero())
}

func TestMaskJID(t *testing.T) {
	assert.Equal(t, "551***1.0", maskJID("5511999998888:1.0"))
	assert.Equal(t, "short", maskJID("short"))
	assert.Equal(t, "", maskJID(""))
}
