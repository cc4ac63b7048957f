package methods

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nextlevelbuilder/cliprelay/internal/gateway"
	"github.com/nextlevelbuilder/cliprelay/pkg/protocol"
)

// RelayMethods forwards transfer packages and their acknowledgments to the
// other device of the sender's pair. Packages stay opaque.
type RelayMethods struct {
	core *Core
}

func NewRelayMethods(core *Core) *RelayMethods {
	return &RelayMethods{core: core}
}

func (m *RelayMethods) Register(router *gateway.Router) {
	router.Register(protocol.EventDataSend, m.relay(protocol.EventDataReceive))
	router.Register(protocol.EventDataReceived, m.relay(protocol.EventDataReceived))
}

// relay resolves the peer per package, so a peer that reconnected
// mid-transfer receives the remaining packages on its new connection.
func (m *RelayMethods) relay(outbound string) gateway.Handler {
	return func(ctx context.Context, client *gateway.Client, payload json.RawMessage) {
		var params protocol.DataParams
		if err := protocol.DecodePayload(payload, &params); err != nil || len(params.Package) == 0 {
			client.Fail(ctx, protocol.ErrInvalidRequest, "package is required")
			return
		}

		pair, ok := m.core.Pairs.PairByConnectionID(client.ID())
		if !ok {
			client.Fail(ctx, protocol.ErrInvalidRequest, "not paired")
			return
		}
		peer, ok := pair.OtherDevice(client.ID())
		if !ok {
			slog.Debug("relay target offline, package dropped", "pair", pair.ID(), "event", outbound)
			return
		}
		peer.Emit(outbound, params)
	}
}
