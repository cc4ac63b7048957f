// Package client is a device-side connection to the relay. It performs
// either pairing handshake, holds the end-to-end session with the peer and
// moves clipboard items through the chunked transfer codec.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/cliprelay/internal/crypto"
	"github.com/nextlevelbuilder/cliprelay/pkg/protocol"
	"github.com/nextlevelbuilder/cliprelay/pkg/transfer"
)

const (
	writeWait              = 10 * time.Second
	confirmationCodeLength = 4
)

// ErrNotPaired is returned by Send before the peer's public key is known.
var ErrNotPaired = errors.New("no paired device")

// Callbacks receive what the relay and the peer send. All are optional and
// run on the goroutine executing Run.
type Callbacks struct {
	// Connected: primary.connected, with the first QR token.
	Connected func(deviceID, token string, lifetime time.Duration)
	// Token: a fresh QR token after RefreshToken.
	Token func(token string, lifetime time.Duration)
	// ManualCode: the code issued after RequestManualCode.
	ManualCode func(code string, lifetime time.Duration)
	// Confirmation carries the manual-code confirmation code. The secondary
	// sees the code it generated, the primary the code it has to confirm.
	Confirmation func(code string)
	// Paired fires once the peer's key is known and transfers can start.
	Paired func(peerPublicKey string)
	// Peer reports the other device going offline or coming back.
	Peer      func(online bool)
	Direction func(direction string)
	Prepared  func(p transfer.Prepared)
	Item      func(item *transfer.Item)
	// Delivered fires when the peer acknowledges an assembled transfer.
	Delivered func(transferID string)
	Error     func(event, message string)
}

// Config configures a Client.
type Config struct {
	URL       string
	Keys      crypto.KeyPair
	Transfer  transfer.SenderConfig
	Dialer    *websocket.Dialer
	Callbacks Callbacks
}

// Client is one device connection.
type Client struct {
	cfg  Config
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	deviceID string
	peerKey  string
	sender   *transfer.Sender
	receiver *transfer.Receiver
}

// Dial connects to the relay. The caller must call Run to process events.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Keys.PublicKey == "" {
		keys, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		cfg.Keys = keys
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", cfg.URL, err)
	}
	return &Client{cfg: cfg, conn: conn}, nil
}

// PublicKey returns this device's public key.
func (c *Client) PublicKey() string { return c.cfg.Keys.PublicKey }

// DeviceID returns the id the relay assigned, once known.
func (c *Client) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// PeerPublicKey returns the paired device's key, once known.
func (c *Client) PeerPublicKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerKey
}

// --- Requests ---

// ConnectPrimary opens a pair with this device as primary.
func (c *Client) ConnectPrimary() error {
	return c.emit(protocol.EventPrimaryConnect, protocol.PrimaryConnectParams{PublicKey: c.PublicKey()})
}

func (c *Client) RefreshToken() error {
	return c.emit(protocol.EventPrimaryTokenRefresh, nil)
}

func (c *Client) RequestManualCode() error {
	return c.emit(protocol.EventPrimaryManualCodeRequest, nil)
}

// ConfirmManualCode admits the staged secondary after the user compared
// confirmation codes.
func (c *Client) ConfirmManualCode() error {
	return c.emit(protocol.EventPrimaryManualCodeConfirm, nil)
}

// JoinQR joins a pair as secondary with a scanned QR token.
func (c *Client) JoinQR(token string) error {
	return c.emit(protocol.EventSecondaryConnectQR, protocol.SecondaryConnectQRParams{PublicKey: c.PublicKey(), Token: token})
}

// JoinManualCode joins a pair as secondary with a typed manual code.
func (c *Client) JoinManualCode(code string) error {
	return c.emit(protocol.EventSecondaryConnectManualCode, protocol.SecondaryConnectManualCodeParams{PublicKey: c.PublicKey(), Code: code})
}

func (c *Client) ToggleDirection() error {
	return c.emit(protocol.EventDirectionToggle, nil)
}

// Resume re-attaches this connection to a device that dropped, keeping the
// session with its known peer.
func (c *Client) Resume(deviceID, peerPublicKey string) error {
	if peerPublicKey != "" {
		if err := c.setPeer(peerPublicKey); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.deviceID = deviceID
	c.mu.Unlock()
	return c.emit(protocol.EventDeviceReconnect, protocol.DeviceReconnectParams{DeviceID: deviceID})
}

// Send starts transferring item to the peer. Packages leave paced in the
// background; the item's payload is released once queued.
func (c *Client) Send(item *transfer.Item) error {
	c.mu.Lock()
	sender := c.sender
	c.mu.Unlock()
	if sender == nil {
		return ErrNotPaired
	}
	return sender.Begin(item)
}

// SendText is Send for a plain text item.
func (c *Client) SendText(text string) error {
	return c.Send(&transfer.Item{Type: transfer.TypeText, Text: text})
}

// Close stops outgoing transfers and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.sender != nil {
		c.sender.Stop()
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// Run reads events until the connection drops or ctx is done.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read from relay: %w", err)
		}
		frame, err := protocol.ParseEvent(data)
		if err != nil {
			slog.Warn("bad frame from relay", "error", err)
			continue
		}
		c.handle(frame)
	}
}

func (c *Client) emit(event string, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(protocol.NewEvent(event, payload)); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// setPeer binds the end-to-end session to the peer's key.
func (c *Client) setPeer(peerKey string) error {
	session, err := crypto.NewSession(c.cfg.Keys, peerKey)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peerKey == peerKey && c.sender != nil {
		return nil
	}
	if c.sender != nil {
		c.sender.Stop()
	}
	c.peerKey = peerKey
	c.sender = transfer.NewSender(session, transfer.EmitterFunc(c.emitPackage), c.cfg.Transfer)
	c.receiver = transfer.NewReceiver(session, observer{c}, transfer.ReceiverConfig{Clock: c.cfg.Transfer.Clock})
	return nil
}

func (c *Client) emitPackage(pkg *transfer.Package) {
	raw, err := json.Marshal(pkg)
	if err != nil {
		slog.Error("marshal package failed", "transfer", pkg.ID, "error", err)
		return
	}
	if err := c.emit(protocol.EventDataSend, protocol.DataParams{Package: raw}); err != nil {
		slog.Warn("package not sent", "transfer", pkg.ID, "package", pkg.PackageNumber, "error", err)
	}
}

// ack is the header of a delivered transfer, sent back as data.received.
type ack struct {
	ID   string               `json:"id"`
	Type transfer.PayloadType `json:"type"`
}

type observer struct{ c *Client }

func (o observer) TransferPrepared(p transfer.Prepared) {
	if cb := o.c.cfg.Callbacks.Prepared; cb != nil {
		cb(p)
	}
}

func (o observer) TransferAssembled(item *transfer.Item) {
	raw, _ := json.Marshal(ack{ID: item.ID, Type: item.Type})
	if err := o.c.emit(protocol.EventDataReceived, protocol.DataParams{Package: raw}); err != nil {
		slog.Warn("ack not sent", "transfer", item.ID, "error", err)
	}
	if cb := o.c.cfg.Callbacks.Item; cb != nil {
		cb(item)
	}
}
