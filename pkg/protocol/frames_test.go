package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		event   string
		wantErr bool
	}{
		{"event with payload", `{"type":"event","event":"data.send","payload":{"package":{}}}`, "data.send", false},
		{"event without payload", `{"type":"event","event":"direction.toggle"}`, "direction.toggle", false},
		{"wrong type", `{"type":"res","event":"data.send"}`, "", true},
		{"missing event", `{"type":"event"}`, "", true},
		{"not json", `hello`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseEvent([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && f.Event != tt.event {
				t.Errorf("event = %q, want %q", f.Event, tt.event)
			}
		})
	}
}

func TestParseFrameType(t *testing.T) {
	got, err := ParseFrameType([]byte(`{"type":"event","event":"x"}`))
	if err != nil || got != FrameTypeEvent {
		t.Errorf("ParseFrameType = %q, %v", got, err)
	}
	if _, err := ParseFrameType([]byte(`[`)); err == nil {
		t.Error("expected error for truncated json")
	}
}

func TestDecodePayload(t *testing.T) {
	params := SecondaryConnectQRParams{PublicKey: "keep"}
	for _, raw := range []string{"", "null"} {
		if err := DecodePayload(json.RawMessage(raw), &params); err != nil {
			t.Fatalf("DecodePayload(%q): %v", raw, err)
		}
		if params.PublicKey != "keep" {
			t.Errorf("DecodePayload(%q) touched the target", raw)
		}
	}

	if err := DecodePayload(json.RawMessage(`{"publicKey":"pk","token":"T"}`), &params); err != nil {
		t.Fatal(err)
	}
	if params.PublicKey != "pk" || params.Token != "T" {
		t.Errorf("params = %+v", params)
	}

	if err := DecodePayload(json.RawMessage(`{"publicKey":1}`), &params); err == nil {
		t.Error("expected type error")
	}
}

func TestNewEventOmitsEmptyPayload(t *testing.T) {
	data, err := json.Marshal(NewEvent(EventOtherDeviceDisconnected, nil))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"event","event":"otherdevice.disconnected"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestDataParamsKeepPackageOpaque(t *testing.T) {
	raw := `{"payload":{"package":{"id":"a","value":{"data":"eA==","nonce":"bg=="},"extra":true}}}`
	var frame struct {
		Payload DataParams `json:"payload"`
	}
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatal(err)
	}
	want := `{"id":"a","value":{"data":"eA==","nonce":"bg=="},"extra":true}`
	if string(frame.Payload.Package) != want {
		t.Errorf("package = %s", frame.Payload.Package)
	}
}
