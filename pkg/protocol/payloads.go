package protocol

import "encoding/json"

// PrimaryConnectParams is the payload of primary.connect.
type PrimaryConnectParams struct {
	PublicKey string `json:"publicKey"`
}

// SecondaryConnectQRParams is the payload of secondary.connect.qr.
type SecondaryConnectQRParams struct {
	PublicKey string `json:"publicKey"`
	Token     string `json:"token"`
}

// SecondaryConnectManualCodeParams is the payload of secondary.connect.manualcode.
type SecondaryConnectManualCodeParams struct {
	PublicKey string `json:"publicKey"`
	Code      string `json:"code"`
}

// ManualCodeHandshakeParams is the payload of secondary.manualcode.handshake.
type ManualCodeHandshakeParams struct {
	ConfirmationCode string `json:"confirmationCode"`
}

// DeviceReconnectParams is the payload of device.reconnect.
type DeviceReconnectParams struct {
	DeviceID string `json:"deviceId"`
}

// DataParams wraps one transfer package. The relay forwards Package
// without decoding it.
type DataParams struct {
	Package json.RawMessage `json:"package"`
}

// PrimaryConnectedPayload is the payload of primary.connected.
type PrimaryConnectedPayload struct {
	DeviceID      string `json:"deviceId"`
	Token         string `json:"token"`
	TokenLifetime int64  `json:"tokenLifetime"` // milliseconds
}

// TokenPayload is the payload of primary.token.fresh.
type TokenPayload struct {
	Token         string `json:"token"`
	TokenLifetime int64  `json:"tokenLifetime"` // milliseconds
}

// ManualCodePayload is the payload of primary.manualcode.
type ManualCodePayload struct {
	Code          string `json:"code"`
	TokenLifetime int64  `json:"tokenLifetime"` // milliseconds
}

// SecondaryConnectedPayload is the payload of secondary.connected.qr,
// secondary.manualcode.accepted and secondary.connected.manualcode.
type SecondaryConnectedPayload struct {
	DeviceID  string `json:"deviceId"`
	PublicKey string `json:"publicKey"` // the primary's
	Direction string `json:"direction"`
}

// OtherDeviceConnectedPayload is the payload of otherdevice.connected.
type OtherDeviceConnectedPayload struct {
	PublicKey string `json:"publicKey"` // the secondary's
}

// DeviceReconnectedPayload is the payload of device.reconnected.
type DeviceReconnectedPayload struct {
	OtherDeviceConnected bool `json:"otherDeviceConnected"`
}

// ConfirmationPayload is the payload of primary.manualcode.confirmation.
type ConfirmationPayload struct {
	Code string `json:"code"`
}

// DirectionPayload is the payload of direction.update.
type DirectionPayload struct {
	Direction string `json:"direction"`
}
