// Package session is the HTTP control plane for the WhatsApp connection:
// QR and pairing-code flows, disconnect, status, and health.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/aeonbot/aeon/pkg/log"
	"github.com/aeonbot/aeon/pkg/whatsapp"
)

// startWaitTimeout bounds how long a start request waits for the first QR
// code before responding.
const startWaitTimeout = 30 * time.Second

type Controller struct {
	manager *whatsapp.Manager
}

func NewController(manager *whatsapp.Manager) *Controller {
	return &Controller{manager: manager}
}

type startBotRequest struct {
	Action string `json:"action"`
}

type pairingRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// StartBot drives the legacy single-endpoint protocol: action "start"
// (default) connects, action "disconnect" tears the session down.
func (ctl *Controller) StartBot(c *fiber.Ctx) error {
	var req startBotRequest
	_ = c.BodyParser(&req)

	switch strings.TrimSpace(req.Action) {
	case "", "start":
		return ctl.startSession(c, false)
	case "disconnect":
		return ctl.Disconnect(c)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Ação inválida: " + req.Action,
			"online":  false,
		})
	}
}

// StartQR forces a fresh QR pairing session.
func (ctl *Controller) StartQR(c *fiber.Ctx) error {
	return ctl.startSession(c, true)
}

func (ctl *Controller) startSession(c *fiber.Ctx, freshQR bool) error {
	log.Print(c).Info("Starting WhatsApp session")

	ctx, cancel := context.WithTimeout(context.Background(), startWaitTimeout)
	defer cancel()

	var (
		status whatsapp.Status
		err    error
	)
	if freshQR {
		status, err = ctl.manager.StartQR(ctx)
	} else {
		status, err = ctl.manager.Start(ctx)
	}

	if errors.Is(err, whatsapp.ErrAlreadyConnecting) || (err != nil && status.Online) {
		return c.JSON(startPayload(status, "Bot já está rodando"))
	}
	if err != nil {
		log.Print(c).Error("Error starting session: ", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Falha ao iniciar bot: " + err.Error(),
		})
	}

	return c.JSON(startPayload(status, "Bot iniciado com sucesso"))
}

func startPayload(status whatsapp.Status, message string) fiber.Map {
	return fiber.Map{
		"message":     message,
		"online":      status.Online,
		"qr":          status.QR,
		"qrImage":     status.QRImage,
		"pairingCode": status.PairingCode,
		"timestamp":   time.Now().UnixMilli(),
	}
}

// StartPairing requests a phone pairing code and returns it synchronously.
func (ctl *Controller) StartPairing(c *fiber.Ctx) error {
	var req pairingRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.PhoneNumber) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Número de telefone é obrigatório",
		})
	}

	phone := strings.TrimSpace(req.PhoneNumber)
	log.Print(c).Info("Starting pairing-code session")

	ctx, cancel := context.WithTimeout(context.Background(), startWaitTimeout)
	defer cancel()

	code, err := ctl.manager.StartPairing(ctx, phone)
	if errors.Is(err, whatsapp.ErrAlreadyConnecting) {
		return c.JSON(fiber.Map{
			"success": false,
			"message": "Bot já está conectando",
		})
	}
	if err != nil {
		log.Print(c).Error("Error starting pairing session: ", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Falha ao gerar código de pareamento: " + err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"message":     "Código de pareamento gerado",
		"pairingCode": code,
	})
}

// Disconnect logs out and wipes stored credentials.
func (ctl *Controller) Disconnect(c *fiber.Ctx) error {
	log.Print(c).Info("Disconnecting WhatsApp session")

	if err := ctl.manager.Disconnect(c.UserContext()); err != nil {
		log.Print(c).Error("Error disconnecting: ", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Falha ao desconectar bot: " + err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message":   "Bot desconectado com sucesso",
		"online":    false,
		"qr":        "",
		"timestamp": time.Now().UnixMilli(),
	})
}

// Status reports the live session snapshot.
func (ctl *Controller) Status(c *fiber.Ctx) error {
	status := ctl.manager.Status()
	return c.JSON(fiber.Map{
		"online":      status.Online,
		"connecting":  status.Connecting,
		"state":       status.State,
		"qr":          status.QR,
		"qrImage":     status.QRImage,
		"pairingCode": status.PairingCode,
		"jid":         status.JID,
		"message":     statusMessage(status),
	})
}

func statusMessage(status whatsapp.Status) string {
	switch status.State {
	case whatsapp.StateOnline:
		return "Bot conectado"
	case whatsapp.StateAwaitingQR:
		return "Aguardando leitura do QR code"
	case whatsapp.StateAwaitingPairing:
		return "Aguardando código de pareamento"
	case whatsapp.StateConnecting:
		return "Bot conectando"
	default:
		return "Bot desconectado"
	}
}

// Health is the liveness endpoint.
func (ctl *Controller) Health(c *fiber.Ctx) error {
	conn := "disconnected"
	if ctl.manager.Status().Online {
		conn = "connected"
	}
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"whatsapp":  conn,
	})
}
