package client

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/cliprelay/internal/ids"
	"github.com/nextlevelbuilder/cliprelay/pkg/protocol"
	"github.com/nextlevelbuilder/cliprelay/pkg/transfer"
)

func (c *Client) handle(f *protocol.InboundFrame) {
	cb := c.cfg.Callbacks

	switch f.Event {
	case protocol.EventPrimaryConnected:
		var p protocol.PrimaryConnectedPayload
		if decode(f, &p) {
			c.mu.Lock()
			c.deviceID = p.DeviceID
			c.mu.Unlock()
			if cb.Connected != nil {
				cb.Connected(p.DeviceID, p.Token, ms(p.TokenLifetime))
			}
		}

	case protocol.EventPrimaryTokenFresh:
		var p protocol.TokenPayload
		if decode(f, &p) && cb.Token != nil {
			cb.Token(p.Token, ms(p.TokenLifetime))
		}

	case protocol.EventPrimaryManualCode:
		var p protocol.ManualCodePayload
		if decode(f, &p) && cb.ManualCode != nil {
			cb.ManualCode(p.Code, ms(p.TokenLifetime))
		}

	case protocol.EventPrimaryManualCodeConfirmation:
		var p protocol.ConfirmationPayload
		if decode(f, &p) && cb.Confirmation != nil {
			cb.Confirmation(p.Code)
		}

	case protocol.EventSecondaryManualCodeAccepted:
		var p protocol.SecondaryConnectedPayload
		if !decode(f, &p) {
			return
		}
		c.mu.Lock()
		c.deviceID = p.DeviceID
		c.mu.Unlock()
		c.handshake()

	case protocol.EventSecondaryConnectedQR, protocol.EventSecondaryConnectedManualCode:
		var p protocol.SecondaryConnectedPayload
		if !decode(f, &p) {
			return
		}
		c.mu.Lock()
		c.deviceID = p.DeviceID
		c.mu.Unlock()
		c.paired(p.PublicKey)
		if cb.Direction != nil {
			cb.Direction(p.Direction)
		}

	case protocol.EventOtherDeviceConnected:
		var p protocol.OtherDeviceConnectedPayload
		if decode(f, &p) {
			c.paired(p.PublicKey)
		}

	case protocol.EventOtherDeviceDisconnected, protocol.EventOtherDeviceReconnected:
		if cb.Peer != nil {
			cb.Peer(f.Event == protocol.EventOtherDeviceReconnected)
		}

	case protocol.EventDeviceReconnected:
		var p protocol.DeviceReconnectedPayload
		if decode(f, &p) && cb.Peer != nil {
			cb.Peer(p.OtherDeviceConnected)
		}

	case protocol.EventDirectionUpdate:
		var p protocol.DirectionPayload
		if decode(f, &p) && cb.Direction != nil {
			cb.Direction(p.Direction)
		}

	case protocol.EventDataReceive:
		c.receive(f)

	case protocol.EventDataReceived:
		var p protocol.DataParams
		var a ack
		if decode(f, &p) && json.Unmarshal(p.Package, &a) == nil && cb.Delivered != nil {
			cb.Delivered(a.ID)
		}

	default:
		var p protocol.ErrorPayload
		protocol.DecodePayload(f.Payload, &p)
		slog.Warn("relay event", "event", f.Event, "message", p.Message)
		if cb.Error != nil {
			cb.Error(f.Event, p.Message)
		}
	}
}

// handshake sends a fresh confirmation code for the primary's user to
// compare with the one shown here.
func (c *Client) handshake() {
	code, err := ids.Code(confirmationCodeLength)
	if err != nil {
		slog.Error("generate confirmation code failed", "error", err)
		return
	}
	if err := c.emit(protocol.EventSecondaryManualCodeShake, protocol.ManualCodeHandshakeParams{ConfirmationCode: code}); err != nil {
		slog.Warn("handshake not sent", "error", err)
		return
	}
	if cb := c.cfg.Callbacks.Confirmation; cb != nil {
		cb(code)
	}
}

func (c *Client) paired(peerKey string) {
	if err := c.setPeer(peerKey); err != nil {
		slog.Warn("peer key rejected", "error", err)
		return
	}
	if cb := c.cfg.Callbacks.Paired; cb != nil {
		cb(peerKey)
	}
}

func (c *Client) receive(f *protocol.InboundFrame) {
	var p protocol.DataParams
	if !decode(f, &p) {
		return
	}
	var pkg transfer.Package
	if err := json.Unmarshal(p.Package, &pkg); err != nil {
		slog.Warn("undecodable package", "error", err)
		return
	}

	c.mu.Lock()
	receiver := c.receiver
	c.mu.Unlock()
	if receiver == nil {
		slog.Warn("package before pairing, dropped", "transfer", pkg.ID)
		return
	}
	if err := receiver.Receive(&pkg); err != nil {
		slog.Warn("package rejected", "transfer", pkg.ID, "package", pkg.PackageNumber, "error", err)
	}
}

func decode(f *protocol.InboundFrame, v any) bool {
	if err := protocol.DecodePayload(f.Payload, v); err != nil {
		slog.Warn("bad payload from relay", "event", f.Event, "error", err)
		return false
	}
	return true
}

func ms(n int64) time.Duration { return time.Duration(n) * time.Millisecond }
