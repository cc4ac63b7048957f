package protocol

// Events sent by devices to the relay.
const (
	EventPrimaryConnect           = "primary.connect"
	EventPrimaryTokenRefresh      = "primary.token.refresh"
	EventPrimaryManualCodeRequest = "primary.manualcode.request"
	EventPrimaryManualCodeConfirm = "primary.manualcode.confirmed"

	EventSecondaryConnectQR         = "secondary.connect.qr"
	EventSecondaryConnectManualCode = "secondary.connect.manualcode"
	EventSecondaryManualCodeShake   = "secondary.manualcode.handshake"

	EventDeviceReconnect = "device.reconnect"
	EventDirectionToggle = "direction.toggle"
	EventDataSend        = "data.send"
	EventDataReceived    = "data.received" // also relayed to the sender
)

// Events pushed from the relay to devices.
const (
	EventPrimaryConnected              = "primary.connected"
	EventPrimaryTokenFresh             = "primary.token.fresh"
	EventPrimaryManualCode             = "primary.manualcode"
	EventPrimaryManualCodeConfirmation = "primary.manualcode.confirmation"

	EventSecondaryConnectedQR         = "secondary.connected.qr"
	EventSecondaryManualCodeAccepted  = "secondary.manualcode.accepted"
	EventSecondaryConnectedManualCode = "secondary.connected.manualcode"

	EventOtherDeviceConnected    = "otherdevice.connected"
	EventOtherDeviceReconnected  = "otherdevice.reconnected"
	EventOtherDeviceDisconnected = "otherdevice.disconnected"
	EventDeviceReconnected       = "device.reconnected"
	EventDirectionUpdate         = "direction.update"
	EventDataReceive             = "data.receive"
)
