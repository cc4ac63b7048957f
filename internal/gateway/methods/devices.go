package methods

import (
	"context"
	"encoding/json"

	"github.com/nextlevelbuilder/cliprelay/internal/device"
	"github.com/nextlevelbuilder/cliprelay/internal/gateway"
	"github.com/nextlevelbuilder/cliprelay/internal/tracing"
	"github.com/nextlevelbuilder/cliprelay/pkg/protocol"
)

// DeviceMethods handles connection lifecycle and device.reconnect.
type DeviceMethods struct {
	core *Core
}

func NewDeviceMethods(core *Core) *DeviceMethods {
	return &DeviceMethods{core: core}
}

func (m *DeviceMethods) Register(router *gateway.Router) {
	router.OnConnect(m.handleConnect)
	router.OnDisconnect(m.handleDisconnect)
	router.Register(protocol.EventDeviceReconnect, m.handleReconnect)
}

func (m *DeviceMethods) handleConnect(_ context.Context, client *gateway.Client) {
	d := m.core.Devices.Register(client)
	m.core.logCensus("socket connected", "client", client.ID(), "device", d.ID())
}

func (m *DeviceMethods) handleDisconnect(_ context.Context, client *gateway.Client) {
	// Resolve the peer before the registry detaches this device from its pair.
	var peer *device.Device
	if p, ok := m.core.Pairs.PairByConnectionID(client.ID()); ok {
		peer, _ = p.OtherDevice(client.ID())
	}

	m.core.Devices.Unregister(client)
	if peer != nil {
		peer.Emit(protocol.EventOtherDeviceDisconnected, nil)
	}
	m.core.logCensus("socket disconnected", "client", client.ID())
}

func (m *DeviceMethods) handleReconnect(ctx context.Context, client *gateway.Client, payload json.RawMessage) {
	var params protocol.DeviceReconnectParams
	if err := protocol.DecodePayload(payload, &params); err != nil || params.DeviceID == "" {
		client.Fail(ctx, protocol.ErrInvalidRequest, "deviceId is required")
		return
	}

	fresh, ok := m.core.Devices.ByConnection(client.ID())
	if !ok {
		client.Fail(ctx, protocol.ErrReconnectDeviceNotFound, "connection not registered")
		return
	}
	original, ok := m.core.Devices.OfflineByDeviceID(params.DeviceID)
	if !ok {
		client.Fail(ctx, protocol.ErrReconnectDeviceNotFound, "no offline device with that id")
		return
	}
	d, ok := m.core.Devices.MergeReconnect(original, fresh)
	if !ok {
		client.Fail(ctx, protocol.ErrReconnectDeviceNotFound, "device expired")
		return
	}
	tracing.Annotate(ctx, tracing.AttrDeviceID.String(d.ID()))

	pair, ok := m.core.Pairs.PairByDeviceID(d.ID())
	if !ok {
		client.Fail(ctx, protocol.ErrReconnectDeviceNotFound, "device has no pair")
		return
	}
	tracing.Annotate(ctx, tracing.AttrPairID.String(pair.ID()))

	var peer *device.Device
	switch d.Role() {
	case device.RolePrimary:
		if !pair.ReconnectPrimary(d) {
			client.Fail(ctx, protocol.ErrInvalidRequest, "primary slot taken")
			return
		}
		peer, _ = pair.SecondaryDevice()
	case device.RoleSecondary:
		if !pair.ReconnectSecondary(d) {
			client.Fail(ctx, protocol.ErrInvalidRequest, "secondary slot taken")
			return
		}
		peer, _ = pair.PrimaryDevice()
	default:
		client.Fail(ctx, protocol.ErrReconnectDeviceNotFound, "device never joined a pair")
		return
	}

	if peer != nil {
		peer.Emit(protocol.EventOtherDeviceReconnected, nil)
	}
	client.Emit(protocol.EventDeviceReconnected, protocol.DeviceReconnectedPayload{OtherDeviceConnected: peer != nil})
	m.core.logCensus("device reconnected", "device", d.ID(), "role", d.Role(), "pair", pair.ID())
}
