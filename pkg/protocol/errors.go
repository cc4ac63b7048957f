package protocol

// Error events. Each carries an ErrorPayload.
const (
	ErrQRTokenNotFound             = "error.qr.token_not_found"
	ErrManualCodeTokenNotFound     = "error.manualcode.token_not_found"
	ErrReconnectDeviceNotFound     = "error.reconnect.device_not_found"
	ErrManualCodeSecondaryNotFound = "error.manualcode.secondary_not_found"

	ErrInvalidRequest = "error.invalid_request"
	ErrRateLimited    = "error.rate_limited"
)

// ErrorPayload describes why a request was refused.
type ErrorPayload struct {
	Message string `json:"message,omitempty"`
}
