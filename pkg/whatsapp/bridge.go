package whatsapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aeonbot/aeon/pkg/env"
	"github.com/aeonbot/aeon/pkg/log"
)

// EventType identifies a lifecycle notification pushed through the bridge.
type EventType string

const (
	EventQR           EventType = "qr"
	EventPairingCode  EventType = "pairing-code"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
)

// Event is a connection lifecycle notification. QR events carry both the raw
// code (for terminal rendering) and a base64 PNG data URI (for web clients).
type Event struct {
	Type        EventType `json:"type"`
	QR          string    `json:"qr,omitempty"`
	QRImage     string    `json:"qrImage,omitempty"`
	PairingCode string    `json:"pairingCode,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type subscriber struct {
	id int
	fn func(Event)
}

// Bridge fans lifecycle events out to subscribers, synchronously and in
// registration order. Subscribers must not block; anything slow (webhook
// delivery, websocket writes) hands off to its own goroutine.
type Bridge struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscriber
	last   map[EventType]Event
}

func NewBridge() *Bridge {
	return &Bridge{
		last: make(map[EventType]Event),
	}
}

// Subscribe registers a callback and returns its unsubscribe func.
func (b *Bridge) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

func (b *Bridge) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.last[event.Type] = event
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.fn(event)
	}
}

// Last returns the most recent event of the given type, if any.
func (b *Bridge) Last(eventType EventType) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	event, ok := b.last[eventType]
	return event, ok
}

// AttachStdout mirrors events to stdout in a line format external process
// managers can grep: QR codes as "QR_CODE:<code>" and state changes as
// "BOT_STATUS:<type>". Enabled via BOT_STDOUT_EVENTS.
func (b *Bridge) AttachStdout() {
	if !env.GetEnvBoolOrDefault("BOT_STDOUT_EVENTS", false) {
		return
	}

	b.Subscribe(func(event Event) {
		switch event.Type {
		case EventQR:
			fmt.Println("QR_CODE:" + event.QR)
		case EventPairingCode:
			fmt.Println("PAIRING_CODE:" + event.PairingCode)
		default:
			fmt.Println("BOT_STATUS:" + string(event.Type))
		}
	})
}

// AttachWebhook POSTs every event as JSON to BOT_EVENT_WEBHOOK_URL when set.
func (b *Bridge) AttachWebhook() {
	url, err := env.GetEnvString("BOT_EVENT_WEBHOOK_URL")
	if err != nil {
		return
	}

	client := &http.Client{Timeout: 10 * time.Second}
	b.Subscribe(func(event Event) {
		go func() {
			payload, err := json.Marshal(event)
			if err != nil {
				return
			}
			resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
			if err != nil {
				log.Print(nil).Warn("Event webhook delivery failed: ", err)
				return
			}
			resp.Body.Close()
		}()
	})
}
