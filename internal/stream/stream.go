// Package stream pushes connection lifecycle events to browser clients over
// a websocket.
package stream

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/aeonbot/aeon/pkg/log"
	"github.com/aeonbot/aeon/pkg/whatsapp"
)

// outBuffer is the per-connection send queue; a stalled client drops events
// instead of blocking the bridge.
const outBuffer = 16

type message struct {
	Type        string `json:"type"`
	Status      string `json:"status,omitempty"`
	Connected   bool   `json:"connected"`
	Connecting  bool   `json:"connecting"`
	QR          string `json:"qr,omitempty"`
	QRImage     string `json:"qrImage,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
	Message     string `json:"message,omitempty"`
}

type Controller struct {
	manager *whatsapp.Manager
}

func NewController(manager *whatsapp.Manager) *Controller {
	return &Controller{manager: manager}
}

// Upgrade gates the route to websocket handshakes.
func (ctl *Controller) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handler serves one websocket client: current status on connect, bridge
// events while attached, and request-status/ping answers.
func (ctl *Controller) Handler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		out := make(chan message, outBuffer)

		push := func(msg message) {
			select {
			case out <- msg:
			default:
				// slow client, drop instead of blocking the bridge
			}
		}

		push(ctl.statusMessage())
		if status := ctl.manager.Status(); status.QR != "" {
			push(message{Type: "qr-code", QR: status.QR, QRImage: status.QRImage})
		}

		unsubscribe := ctl.manager.Bridge().Subscribe(func(event whatsapp.Event) {
			switch event.Type {
			case whatsapp.EventQR:
				push(message{Type: "qr-code", QR: event.QR, QRImage: event.QRImage})
			case whatsapp.EventPairingCode:
				push(ctl.statusMessage())
			default:
				msg := ctl.statusMessage()
				msg.Message = event.Message
				push(msg)
			}
		})
		defer unsubscribe()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				var incoming struct {
					Type string `json:"type"`
				}
				if err := conn.ReadJSON(&incoming); err != nil {
					return
				}
				switch incoming.Type {
				case "request-status":
					push(ctl.statusMessage())
				case "ping", "heartbeat":
					push(message{Type: "pong"})
				}
			}
		}()

		for {
			select {
			case msg := <-out:
				if err := conn.WriteJSON(msg); err != nil {
					log.Print(nil).Debug("Websocket write failed: ", err)
					return
				}
			case <-done:
				return
			}
		}
	})
}

func (ctl *Controller) statusMessage() message {
	status := ctl.manager.Status()
	return message{
		Type:        "status-update",
		Status:      string(status.State),
		Connected:   status.Online,
		Connecting:  status.Connecting,
		PairingCode: status.PairingCode,
	}
}
