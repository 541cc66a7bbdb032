// Package whatsapp owns the single WhatsApp session: credential storage,
// connection lifecycle, QR/pairing flows, and outbound messaging on top of
// go.mau.fi/whatsmeow.
package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	qrCode "github.com/skip2/go-qrcode"
	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/aeonbot/aeon/pkg/env"
	"github.com/aeonbot/aeon/pkg/log"
)

// State is the manager's connection state.
type State string

const (
	StateDisconnected    State = "disconnected"
	StateConnecting      State = "connecting"
	StateAwaitingQR      State = "awaiting-qr"
	StateAwaitingPairing State = "awaiting-pairing-code"
	StateOnline          State = "online"
)

const (
	reconnectDelay          = 3 * time.Second
	qrChannelWaitTimeout    = 2 * time.Minute
	pairPhoneRequestTimeout = 90 * time.Second
	logoutRequestTimeout    = 30 * time.Second
)

var (
	// ErrAlreadyConnecting is returned when a start request races an
	// in-flight connection attempt.
	ErrAlreadyConnecting = errors.New("whatsapp: a connection attempt is already in progress")

	// ErrNotConnected is returned by send operations while offline.
	ErrNotConnected = errors.New("whatsapp: client is not connected")
)

// MessageHandler receives inbound chat messages once the session is online.
type MessageHandler func(client *whatsmeow.Client, evt *events.Message)

// Status is a point-in-time snapshot of the session for late subscribers
// and the HTTP control plane.
type Status struct {
	State       State  `json:"state"`
	Online      bool   `json:"online"`
	Connecting  bool   `json:"connecting"`
	QR          string `json:"qr,omitempty"`
	QRImage     string `json:"qrImage,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
	JID         string `json:"jid,omitempty"`
}

// Manager owns one whatsmeow client and its whole lifecycle. Reconnection
// after transient drops is the manager's job, not the library's.
type Manager struct {
	mu sync.Mutex

	bridge    *Bridge
	datastore *datastore
	client    *whatsmeow.Client
	onMessage MessageHandler

	state       State
	qr          string
	qrImage     string
	pairingCode string

	retryCount  int
	maxRetries  int
	retryCancel context.CancelFunc
	qrCancel    context.CancelFunc
	terminalQR  bool

	// epoch increments on every lifecycle transition that invalidates
	// pending background work; a stale restart must not resurrect a
	// session the user closed.
	epoch uint64
}

func NewManager(bridge *Bridge) *Manager {
	return &Manager{
		bridge:     bridge,
		state:      StateDisconnected,
		maxRetries: env.GetEnvIntOrDefault("BOT_RECONNECT_MAX_RETRIES", 0),
		terminalQR: env.GetEnvBoolOrDefault("BOT_TERMINAL_QR", true),
	}
}

// SetMessageHandler wires the inbound chat dispatcher. Must be called before
// the first start.
func (m *Manager) SetMessageHandler(fn MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = fn
}

// Bridge exposes the event bridge for additional subscribers.
func (m *Manager) Bridge() *Bridge {
	return m.bridge
}

// Status reports the current snapshot under the manager lock.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		State:       m.state,
		Online:      m.state == StateOnline,
		Connecting:  m.state == StateConnecting || m.state == StateAwaitingQR || m.state == StateAwaitingPairing,
		QR:          m.qr,
		QRImage:     m.qrImage,
		PairingCode: m.pairingCode,
	}
	if m.client != nil && m.client.Store.ID != nil {
		s.JID = m.client.Store.ID.String()
	}
	return s
}

// Client returns the live client, or an error while offline.
func (m *Manager) Client() (*whatsmeow.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil || m.state != StateOnline {
		return nil, ErrNotConnected
	}
	return m.client, nil
}

// Start resumes the stored session when credentials exist, otherwise it
// falls into the QR pairing flow. It blocks until the session is connecting
// with a QR available, or connected.
func (m *Manager) Start(ctx context.Context) (Status, error) {
	client, fresh, err := m.beginStart(ctx, false)
	if err != nil {
		return m.Status(), err
	}

	if !fresh {
		if err := client.Connect(); err != nil {
			m.failStart(err)
			return m.Status(), err
		}
		return m.Status(), nil
	}

	if err := m.runQRFlow(ctx, client); err != nil {
		return m.Status(), err
	}
	return m.Status(), nil
}

// StartQR discards any stored credentials and begins a fresh QR pairing
// session. It blocks until the first QR code arrives so callers can hand the
// code back synchronously.
func (m *Manager) StartQR(ctx context.Context) (Status, error) {
	client, _, err := m.beginStart(ctx, true)
	if err != nil {
		return m.Status(), err
	}

	if err := m.runQRFlow(ctx, client); err != nil {
		return m.Status(), err
	}
	return m.Status(), nil
}

// StartPairing discards any stored credentials and requests a phone pairing
// code. The code is returned synchronously; whatsmeow resolves it before
// returning, so there is no window where the caller must poll for it.
func (m *Manager) StartPairing(ctx context.Context, phone string) (string, error) {
	client, _, err := m.beginStart(ctx, true)
	if err != nil {
		return "", err
	}

	if err := client.Connect(); err != nil {
		m.failStart(err)
		return "", err
	}

	pairCtx, cancel := context.WithTimeout(ctx, pairPhoneRequestTimeout)
	defer cancel()

	code, err := client.PairPhone(pairCtx, phone, true, whatsmeow.PairClientChrome, "Chrome ("+runtime.GOOS+")")
	if err != nil {
		m.failStart(err)
		return "", err
	}

	m.mu.Lock()
	m.state = StateAwaitingPairing
	m.pairingCode = code
	m.qr = ""
	m.qrImage = ""
	m.mu.Unlock()

	m.bridge.Publish(Event{Type: EventPairingCode, PairingCode: code})
	return code, nil
}

// Disconnect logs out, wipes credentials, and settles in the disconnected
// state. Logout errors are logged and swallowed; local cleanup always runs.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.cancelRetryLocked()
	m.cancelQRLocked()
	m.state = StateDisconnected
	m.qr = ""
	m.qrImage = ""
	m.pairingCode = ""
	m.retryCount = 0
	m.epoch++
	ds := m.datastore
	m.datastore = nil
	m.mu.Unlock()

	if client != nil {
		if client.Store.ID != nil {
			logoutCtx, cancel := context.WithTimeout(ctx, logoutRequestTimeout)
			if err := client.Logout(logoutCtx); err != nil {
				log.Print(nil).Warn("Logout request failed: ", err)
			}
			cancel()
		}
		client.Disconnect()
	}

	if ds != nil {
		if err := ds.purge(ctx); err != nil {
			log.Print(nil).Warn("Error purging session credentials: ", err)
		}
	}

	m.bridge.Publish(Event{Type: EventDisconnected, Message: "disconnected by request"})
	return nil
}

// Shutdown closes the socket and settles disconnected without touching
// stored credentials; used on process exit.
func (m *Manager) Shutdown() {
	m.teardown(false, "shutting down")
}

// beginStart transitions into connecting and prepares a client. fresh is
// true when no stored credentials exist and a pairing flow is required;
// purgeFirst forces that by deleting stored devices up front.
func (m *Manager) beginStart(ctx context.Context, purgeFirst bool) (*whatsmeow.Client, bool, error) {
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateAwaitingQR, StateAwaitingPairing:
		m.mu.Unlock()
		return nil, false, ErrAlreadyConnecting
	case StateOnline:
		if !purgeFirst {
			m.mu.Unlock()
			return nil, false, errors.New("whatsapp: client is already online")
		}
	}
	m.state = StateConnecting
	m.qr = ""
	m.qrImage = ""
	m.pairingCode = ""
	m.retryCount = 0
	m.epoch++
	m.cancelRetryLocked()
	m.cancelQRLocked()
	oldClient := m.client
	m.client = nil
	oldDS := m.datastore
	m.datastore = nil
	m.mu.Unlock()

	if oldClient != nil {
		oldClient.RemoveEventHandlers()
		oldClient.Disconnect()
	}
	if oldDS != nil {
		_ = oldDS.container.Close()
	}

	ds, err := openDatastore(ctx)
	if err != nil {
		m.failStart(err)
		return nil, false, err
	}

	if purgeFirst {
		if err := deleteStoredDevices(ctx, ds); err != nil {
			log.Print(nil).Warn("Error clearing stored credentials: ", err)
		}
	}

	device, err := ds.container.GetFirstDevice(ctx)
	if err != nil || device == nil {
		device = ds.container.NewDevice()
	}
	fresh := device.ID == nil

	store.DeviceProps.Os = proto.String(runtime.GOOS)
	store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
	store.DeviceProps.RequireFullSync = proto.Bool(false)

	client := whatsmeow.NewClient(device, nil)
	client.EnableAutoReconnect = false
	client.AutoTrustIdentity = true
	client.AddEventHandler(m.handleEvent)

	m.mu.Lock()
	m.client = client
	m.datastore = ds
	m.mu.Unlock()

	return client, fresh, nil
}

// failStart aborts an in-flight start attempt: the half-built client and its
// open datastore must not linger until the next start.
func (m *Manager) failStart(err error) {
	m.mu.Lock()
	client := m.client
	m.client = nil
	ds := m.datastore
	m.datastore = nil
	m.cancelRetryLocked()
	m.cancelQRLocked()
	m.state = StateDisconnected
	m.qr = ""
	m.qrImage = ""
	m.pairingCode = ""
	m.retryCount = 0
	m.epoch++
	m.mu.Unlock()

	if client != nil {
		client.RemoveEventHandlers()
		client.Disconnect()
	}
	if ds != nil {
		_ = ds.container.Close()
	}

	m.bridge.Publish(Event{Type: EventError, Message: err.Error()})
}

// runQRFlow opens the QR channel, connects, and blocks until the first code
// is published (or the flow fails). Refresh codes keep flowing on a
// background goroutine.
func (m *Manager) runQRFlow(ctx context.Context, client *whatsmeow.Client) error {
	qrCtx, qrCancel := context.WithTimeout(context.Background(), qrChannelWaitTimeout)

	qrChan, err := client.GetQRChannel(qrCtx)
	if err != nil {
		qrCancel()
		m.failStart(err)
		return err
	}

	if err := client.Connect(); err != nil {
		qrCancel()
		m.failStart(err)
		return err
	}

	m.mu.Lock()
	m.qrCancel = qrCancel
	m.mu.Unlock()

	firstQR := make(chan error, 1)
	go m.consumeQRChannel(qrCtx, qrChan, firstQR)

	select {
	case err := <-firstQR:
		if err != nil {
			m.failStart(err)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// consumeQRChannel watches the whatsmeow QR channel. The first code (or
// terminal condition) is reported on firstQR; later refresh codes only go
// through the bridge. An expired pairing window tears the session down and
// restarts it so a fresh code keeps appearing until someone scans.
func (m *Manager) consumeQRChannel(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem, firstQR chan<- error) {
	reported := false
	report := func(err error) {
		if !reported {
			reported = true
			firstQR <- err
		}
	}

	for {
		select {
		case <-ctx.Done():
			report(ctx.Err())
			return
		case item, ok := <-qrChan:
			if !ok {
				report(errors.New("whatsapp: qr channel closed before pairing"))
				return
			}

			switch item.Event {
			case "code":
				m.publishQR(item.Code)
				report(nil)
			case whatsmeow.QRChannelSuccess.Event:
				// Connected event does the state transition
				report(nil)
				return
			case whatsmeow.QRChannelTimeout.Event:
				if !reported {
					// no code ever surfaced; the caller handles the failure
					report(errors.New("whatsapp: qr pairing window expired"))
					return
				}
				log.Print(nil).Warn("QR pairing window expired, restarting for a fresh code")
				m.teardown(false, "qr expired")
				m.mu.Lock()
				epoch := m.epoch
				m.mu.Unlock()
				go m.restartQR(epoch)
				return
			case "error":
				err := item.Error
				if err == nil {
					err = errors.New("whatsapp: qr channel error")
				}
				m.failStart(err)
				report(err)
				return
			default:
				err := errors.New("whatsapp: qr channel event " + item.Event)
				m.failStart(err)
				report(err)
				return
			}
		}
	}
}

// restartQR reopens the QR flow after an expired pairing window, unless the
// session moved on (an explicit Disconnect, or another start) since the
// epoch was captured.
func (m *Manager) restartQR(epoch uint64) {
	m.mu.Lock()
	stale := m.epoch != epoch || m.state != StateDisconnected
	m.mu.Unlock()
	if stale {
		return
	}

	if _, err := m.StartQR(context.Background()); err != nil {
		log.Print(nil).Warn("QR session restart failed: ", err)
	}
}

func (m *Manager) publishQR(code string) {
	image := ""
	if png, err := qrCode.Encode(code, qrCode.Medium, 256); err == nil {
		image = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	} else {
		log.Print(nil).Warn("QR PNG encoding failed: ", err)
	}

	m.mu.Lock()
	m.state = StateAwaitingQR
	m.qr = code
	m.qrImage = image
	m.pairingCode = ""
	m.mu.Unlock()

	if m.terminalQR {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
	}

	log.Print(nil).Info("QR code ready, scan with the WhatsApp app")
	m.bridge.Publish(Event{Type: EventQR, QR: code, QRImage: image})
}

func (m *Manager) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		m.mu.Lock()
		m.state = StateOnline
		m.qr = ""
		m.qrImage = ""
		m.pairingCode = ""
		m.retryCount = 0
		m.cancelRetryLocked()
		m.cancelQRLocked()
		jid := ""
		if m.client != nil && m.client.Store.ID != nil {
			jid = m.client.Store.ID.String()
		}
		m.mu.Unlock()

		log.Print(nil).Info("WhatsApp session online: " + maskJID(jid))
		m.bridge.Publish(Event{Type: EventConnected, Message: maskJID(jid)})

	case *events.LoggedOut:
		log.Print(nil).Warn("Session logged out remotely, wiping credentials")
		m.teardown(true, "logged out")

	case *events.StreamReplaced:
		log.Print(nil).Warn("Stream replaced by another session")
		m.transientDrop("stream replaced")

	case *events.Disconnected:
		log.Print(nil).Warn("Connection to WhatsApp lost")
		m.transientDrop("disconnected")

	case *events.ConnectFailure:
		log.Print(nil).Errorf("Connection failure: reason=%s message=%s", e.Reason, e.Message)
		m.transientDrop("connect failure")

	case *events.KeepAliveTimeout:
		log.Print(nil).Warnf("Keepalive timeout, errors=%d", e.ErrorCount)
		m.transientDrop("keepalive timeout")

	case *events.Message:
		m.mu.Lock()
		client := m.client
		handler := m.onMessage
		m.mu.Unlock()
		if client != nil && handler != nil {
			go handler(client, e)
		}
	}
}

// teardown handles the terminal path: no reconnect, optionally wiping
// credentials.
func (m *Manager) teardown(purge bool, reason string) {
	m.mu.Lock()
	client := m.client
	m.client = nil
	ds := m.datastore
	m.datastore = nil
	m.cancelRetryLocked()
	m.cancelQRLocked()
	m.state = StateDisconnected
	m.qr = ""
	m.qrImage = ""
	m.pairingCode = ""
	m.retryCount = 0
	m.epoch++
	m.mu.Unlock()

	if client != nil {
		client.RemoveEventHandlers()
		client.Disconnect()
	}
	if purge && ds != nil {
		if err := ds.purge(context.Background()); err != nil {
			log.Print(nil).Warn("Error purging session credentials: ", err)
		}
	} else if ds != nil {
		_ = ds.container.Close()
	}

	m.bridge.Publish(Event{Type: EventDisconnected, Message: reason})
}

// transientDrop schedules a single cancellable reconnect attempt. A newer
// drop replaces the pending attempt rather than stacking another one.
func (m *Manager) transientDrop(reason string) {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}

	if m.maxRetries > 0 && m.retryCount >= m.maxRetries {
		m.mu.Unlock()
		log.Print(nil).Error("Reconnect retry limit reached, giving up")
		m.teardown(false, "retry limit reached")
		return
	}

	m.state = StateConnecting
	m.qr = ""
	m.qrImage = ""
	m.pairingCode = ""
	m.retryCount++
	attempt := m.retryCount
	m.cancelRetryLocked()
	retryCtx, cancel := context.WithCancel(context.Background())
	m.retryCancel = cancel
	client := m.client
	m.mu.Unlock()

	m.bridge.Publish(Event{Type: EventDisconnected, Message: reason})

	go func() {
		select {
		case <-retryCtx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		log.Print(nil).Infof("Reconnecting (attempt %d)", attempt)
		if client == nil || client.Store.ID == nil {
			m.teardown(false, "no credentials for reconnect")
			return
		}
		if err := client.Connect(); err != nil {
			log.Print(nil).Warn("Reconnect attempt failed: ", err)
			m.transientDrop("reconnect failed")
		}
	}()
}

func (m *Manager) cancelRetryLocked() {
	if m.retryCancel != nil {
		m.retryCancel()
		m.retryCancel = nil
	}
}

func (m *Manager) cancelQRLocked() {
	if m.qrCancel != nil {
		m.qrCancel()
		m.qrCancel = nil
	}
}

func deleteStoredDevices(ctx context.Context, ds *datastore) error {
	devices, err := ds.container.GetAllDevices(ctx)
	if err != nil {
		return err
	}
	for _, device := range devices {
		if err := ds.container.DeleteDevice(ctx, device); err != nil {
			return err
		}
	}
	return nil
}

func maskJID(jid string) string {
	if len(jid) <= 6 {
		return jid
	}
	return jid[:3] + "***" + jid[len(jid)-3:]
}
