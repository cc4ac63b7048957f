package methods

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nextlevelbuilder/cliprelay/internal/gateway"
	"github.com/nextlevelbuilder/cliprelay/internal/pairing"
	"github.com/nextlevelbuilder/cliprelay/internal/tracing"
	"github.com/nextlevelbuilder/cliprelay/pkg/protocol"
)

// PairingMethods handles both handshake flows and direction changes.
type PairingMethods struct {
	core *Core
}

func NewPairingMethods(core *Core) *PairingMethods {
	return &PairingMethods{core: core}
}

func (m *PairingMethods) Register(router *gateway.Router) {
	router.Register(protocol.EventPrimaryConnect, m.handlePrimaryConnect)
	router.RegisterLimited(protocol.EventPrimaryTokenRefresh, m.handleTokenRefresh)
	router.RegisterLimited(protocol.EventPrimaryManualCodeRequest, m.handleManualCodeRequest)
	router.Register(protocol.EventPrimaryManualCodeConfirm, m.handleManualCodeConfirmed)
	router.RegisterLimited(protocol.EventSecondaryConnectQR, m.handleSecondaryConnectQR)
	router.RegisterLimited(protocol.EventSecondaryConnectManualCode, m.handleSecondaryConnectManualCode)
	router.Register(protocol.EventSecondaryManualCodeShake, m.handleManualCodeHandshake)
	router.Register(protocol.EventDirectionToggle, m.handleToggleDirection)
}

// --- Primary device ---

func (m *PairingMethods) handlePrimaryConnect(ctx context.Context, client *gateway.Client, payload json.RawMessage) {
	var params protocol.PrimaryConnectParams
	if err := protocol.DecodePayload(payload, &params); err != nil || params.PublicKey == "" {
		client.Fail(ctx, protocol.ErrInvalidRequest, "publicKey is required")
		return
	}

	pair, ok := m.core.Pairs.InitPair(client, params.PublicKey)
	if !ok {
		client.Fail(ctx, protocol.ErrInvalidRequest, "connection not registered")
		return
	}
	tracing.Annotate(ctx, tracing.AttrPairID.String(pair.ID()))

	tok, err := m.core.Tokens.Issue(pair, pairing.MethodQR)
	if err != nil {
		slog.Error("issue qr token failed", "pair", pair.ID(), "error", err)
		client.Fail(ctx, protocol.ErrInvalidRequest, "could not issue token")
		return
	}

	client.Emit(protocol.EventPrimaryConnected, protocol.PrimaryConnectedPayload{
		DeviceID:      pair.PrimaryDeviceID(),
		Token:         tok.Value,
		TokenLifetime: millis(tok),
	})
	m.core.logCensus("primary device connected", "client", client.ID(), "pair", pair.ID())
}

func (m *PairingMethods) handleTokenRefresh(ctx context.Context, client *gateway.Client, _ json.RawMessage) {
	pair, ok := m.core.primaryPair(client)
	if !ok {
		client.Fail(ctx, protocol.ErrInvalidRequest, "not a primary device")
		return
	}

	tok, err := m.core.Tokens.Issue(pair, pairing.MethodQR)
	if err != nil {
		slog.Error("issue qr token failed", "pair", pair.ID(), "error", err)
		client.Fail(ctx, protocol.ErrInvalidRequest, "could not issue token")
		return
	}
	client.Emit(protocol.EventPrimaryTokenFresh, protocol.TokenPayload{Token: tok.Value, TokenLifetime: millis(tok)})
}

func (m *PairingMethods) handleManualCodeRequest(ctx context.Context, client *gateway.Client, _ json.RawMessage) {
	pair, ok := m.core.primaryPair(client)
	if !ok {
		client.Fail(ctx, protocol.ErrInvalidRequest, "not a primary device")
		return
	}

	tok, err := m.core.Tokens.Issue(pair, pairing.MethodManualCode)
	if err != nil {
		slog.Error("issue manual code failed", "pair", pair.ID(), "error", err)
		client.Fail(ctx, protocol.ErrInvalidRequest, "could not issue code")
		return
	}
	client.Emit(protocol.EventPrimaryManualCode, protocol.ManualCodePayload{Code: tok.Value, TokenLifetime: millis(tok)})
}

// handleManualCodeConfirmed promotes the staged candidate once the
// primary's user has matched the confirmation code.
func (m *PairingMethods) handleManualCodeConfirmed(ctx context.Context, client *gateway.Client, _ json.RawMessage) {
	pair, ok := m.core.primaryPair(client)
	if !ok {
		client.Fail(ctx, protocol.ErrInvalidRequest, "not a primary device")
		return
	}
	tracing.Annotate(ctx, tracing.AttrPairID.String(pair.ID()))

	if !pair.ConfirmUnconfirmedSecondary() {
		client.Fail(ctx, protocol.ErrManualCodeSecondaryNotFound, "secondary device is gone")
		m.core.logCensus("manual code confirmation without candidate", "pair", pair.ID())
		return
	}

	if secondary, ok := pair.SecondaryDevice(); ok {
		secondary.Emit(protocol.EventSecondaryConnectedManualCode, protocol.SecondaryConnectedPayload{
			DeviceID:  secondary.ID(),
			PublicKey: pair.PrimaryPublicKey(),
			Direction: string(pair.Direction()),
		})
	}
	client.Emit(protocol.EventOtherDeviceConnected, protocol.OtherDeviceConnectedPayload{PublicKey: pair.SecondaryPublicKey()})
	m.core.logCensus("secondary device connected by manual code", "pair", pair.ID())
}

// --- Secondary device ---

func (m *PairingMethods) handleSecondaryConnectQR(ctx context.Context, client *gateway.Client, payload json.RawMessage) {
	var params protocol.SecondaryConnectQRParams
	if err := protocol.DecodePayload(payload, &params); err != nil || params.PublicKey == "" {
		client.Fail(ctx, protocol.ErrInvalidRequest, "publicKey and token are required")
		return
	}

	tok, ok := m.core.Tokens.Resolve(params.Token)
	if !ok || tok.Type != pairing.MethodQR {
		slog.Info("qr token not found", "client", client.ID())
		client.Fail(ctx, protocol.ErrQRTokenNotFound, "token unknown or expired")
		return
	}
	d, ok := m.core.Devices.ByConnection(client.ID())
	if !ok {
		client.Fail(ctx, protocol.ErrInvalidRequest, "connection not registered")
		return
	}

	pair := tok.Pair
	tracing.Annotate(ctx, tracing.AttrPairID.String(pair.ID()))
	if !pair.ConnectSecondaryByToken(params.PublicKey, d, tok.Type) {
		client.Fail(ctx, protocol.ErrInvalidRequest, "pair already has a secondary device")
		return
	}
	m.core.Tokens.Revoke(tok.Value)

	client.Emit(protocol.EventSecondaryConnectedQR, protocol.SecondaryConnectedPayload{
		DeviceID:  d.ID(),
		PublicKey: pair.PrimaryPublicKey(),
		Direction: string(pair.Direction()),
	})
	if primary, ok := pair.PrimaryDevice(); ok {
		primary.Emit(protocol.EventOtherDeviceConnected, protocol.OtherDeviceConnectedPayload{PublicKey: params.PublicKey})
	}
	m.core.logCensus("secondary device connected by qr", "client", client.ID(), "pair", pair.ID())
}

func (m *PairingMethods) handleSecondaryConnectManualCode(ctx context.Context, client *gateway.Client, payload json.RawMessage) {
	var params protocol.SecondaryConnectManualCodeParams
	if err := protocol.DecodePayload(payload, &params); err != nil || params.PublicKey == "" {
		client.Fail(ctx, protocol.ErrInvalidRequest, "publicKey and code are required")
		return
	}

	tok, ok := m.core.Tokens.Resolve(params.Code)
	if !ok || tok.Type != pairing.MethodManualCode {
		slog.Info("manual code not found", "client", client.ID())
		client.Fail(ctx, protocol.ErrManualCodeTokenNotFound, "code unknown or expired")
		return
	}
	d, ok := m.core.Devices.ByConnection(client.ID())
	if !ok {
		client.Fail(ctx, protocol.ErrInvalidRequest, "connection not registered")
		return
	}

	pair := tok.Pair
	tracing.Annotate(ctx, tracing.AttrPairID.String(pair.ID()))
	if !pair.RegisterUnconfirmedSecondary(params.PublicKey, d, tok.Type) {
		client.Fail(ctx, protocol.ErrInvalidRequest, "pair already has a secondary device")
		return
	}
	m.core.Tokens.Revoke(tok.Value)

	client.Emit(protocol.EventSecondaryManualCodeAccepted, protocol.SecondaryConnectedPayload{
		DeviceID:  d.ID(),
		PublicKey: pair.PrimaryPublicKey(),
		Direction: string(pair.Direction()),
	})
	m.core.logCensus("secondary device staged by manual code", "client", client.ID(), "pair", pair.ID())
}

// handleManualCodeHandshake forwards the candidate's confirmation code to
// the primary so its user can compare it.
func (m *PairingMethods) handleManualCodeHandshake(ctx context.Context, client *gateway.Client, payload json.RawMessage) {
	var params protocol.ManualCodeHandshakeParams
	if err := protocol.DecodePayload(payload, &params); err != nil || params.ConfirmationCode == "" {
		client.Fail(ctx, protocol.ErrInvalidRequest, "confirmationCode is required")
		return
	}

	pair, ok := m.core.Pairs.PairByUnconfirmedConnectionID(client.ID())
	if !ok {
		client.Fail(ctx, protocol.ErrInvalidRequest, "no pending manual code pairing")
		return
	}
	if primary, ok := pair.PrimaryDevice(); ok {
		primary.Emit(protocol.EventPrimaryManualCodeConfirmation, protocol.ConfirmationPayload{Code: params.ConfirmationCode})
	}
}

// --- Settings ---

func (m *PairingMethods) handleToggleDirection(ctx context.Context, client *gateway.Client, _ json.RawMessage) {
	pair, ok := m.core.Pairs.PairByConnectionID(client.ID())
	if !ok {
		client.Fail(ctx, protocol.ErrInvalidRequest, "not paired")
		return
	}

	update := protocol.DirectionPayload{Direction: string(pair.ToggleDirection())}
	if d, ok := pair.PrimaryDevice(); ok {
		d.Emit(protocol.EventDirectionUpdate, update)
	}
	if d, ok := pair.SecondaryDevice(); ok {
		d.Emit(protocol.EventDirectionUpdate, update)
	}
}
