package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeonbot/aeon/pkg/whatsapp"
)

func TestStartPayloadCarriesPairingArtifacts(t *testing.T) {
	payload := startPayload(whatsapp.Status{
		State:       whatsapp.StateAwaitingPairing,
		PairingCode: "ABCD-EFGH",
	}, "Bot iniciado com sucesso")

	assert.Equal(t, "Bot iniciado com sucesso", payload["message"])
	assert.Equal(t, false, payload["online"])
	assert.Equal(t, "ABCD-EFGH", payload["pairingCode"])
	require.Contains(t, payload, "qr")
	require.Contains(t, payload, "qrImage")
	require.Contains(t, payload, "timestamp")
}

func TestStartPayloadCarriesQR(t *testing.T) {
	payload := startPayload(whatsapp.Status{
		State:   whatsapp.StateAwaitingQR,
		QR:      "2@qr-payload",
		QRImage: "data:image/png;base64,xxxx",
	}, "Bot já está rodando")

	assert.Equal(t, "2@qr-payload", payload["qr"])
	assert.Equal(t, "data:image/png;base64,xxxx", payload["qrImage"])
	assert.Equal(t, "", payload["pairingCode"])
}

func TestStatusMessagePerState(t *testing.T) {
	assert.Equal(t, "Bot conectado", statusMessage(whatsapp.Status{State: whatsapp.StateOnline}))
	assert.Equal(t, "Aguardando leitura do QR code", statusMessage(whatsapp.Status{State: whatsapp.StateAwaitingQR}))
	assert.Equal(t, "Bot desconectado", statusMessage(whatsapp.Status{State: whatsapp.StateDisconnected}))
}
