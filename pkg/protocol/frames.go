// Package protocol defines the wire format between devices and the relay.
// This package is importable by device clients.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Protocol version. Bumped on incompatible event or payload changes.
const ProtocolVersion = 1

// Frame types
const (
	FrameTypeEvent = "event"
)

// EventFrame carries one named event in either direction.
type EventFrame struct {
	Type    string `json:"type"`              // always "event"
	Event   string `json:"event"`             // event name
	Payload any    `json:"payload,omitempty"` // event data
}

// InboundFrame is an event frame whose payload is kept raw until the
// handler for Event decodes it.
type InboundFrame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any) *EventFrame {
	return &EventFrame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: payload,
	}
}

// ParseFrameType extracts the frame type from raw JSON bytes.
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}

// ParseEvent decodes an inbound event frame.
func ParseEvent(data []byte) (*InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Type != FrameTypeEvent {
		return nil, fmt.Errorf("unexpected frame type: %q", f.Type)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("missing event name")
	}
	return &f, nil
}

// DecodePayload unmarshals a raw payload into v. A missing payload leaves
// v untouched.
func DecodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
