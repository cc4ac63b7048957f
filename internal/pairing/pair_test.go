package pairing

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/cliprelay/internal/clock"
	"github.com/nextlevelbuilder/cliprelay/internal/device"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeConn struct{ id string }

func (c fakeConn) ID() string       { return c.id }
func (c fakeConn) Emit(string, any) {}

type fixture struct {
	clock    *clock.Fake
	registry *device.Registry
	manager  *Manager
}

func newFixture() *fixture {
	c := clock.NewFake(epoch)
	reg := device.NewRegistry(device.Config{OfflineTTL: 2 * time.Minute, Clock: c})
	m := NewManager(reg, Config{IdleTTL: 5 * time.Minute, Clock: c})
	return &fixture{clock: c, registry: reg, manager: m}
}

func (f *fixture) connect(id string) *device.Device {
	return f.registry.Register(fakeConn{id})
}

func (f *fixture) pair(t *testing.T, connID string) (*Pair, *device.Device) {
	t.Helper()
	d := f.connect(connID)
	p, ok := f.manager.InitPair(d.Connection(), "pk-"+connID)
	if !ok {
		t.Fatalf("InitPair(%s) failed", connID)
	}
	return p, d
}

func TestPair_ToggleDirectionTwice(t *testing.T) {
	f := newFixture()
	p, _ := f.pair(t, "a")

	if p.Direction() != DirectionPrimaryToSecondary {
		t.Fatalf("initial direction = %s", p.Direction())
	}
	if got := p.ToggleDirection(); got != DirectionSecondaryToPrimary {
		t.Errorf("first toggle = %s", got)
	}
	if got := p.ToggleDirection(); got != DirectionPrimaryToSecondary {
		t.Errorf("second toggle = %s", got)
	}
}

func TestPair_ConnectSecondaryByToken(t *testing.T) {
	tests := []struct {
		name   string
		method Method
		want   bool
	}{
		{"qr", MethodQR, true},
		{"manual code rejected", MethodManualCode, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			p, _ := f.pair(t, "a")
			b := f.connect("b")

			if got := p.ConnectSecondaryByToken("pk-b", b, tt.method); got != tt.want {
				t.Fatalf("ConnectSecondaryByToken = %v, want %v", got, tt.want)
			}
			if p.HasSecondaryDevice() != tt.want {
				t.Errorf("HasSecondaryDevice = %v", p.HasSecondaryDevice())
			}
			if !tt.want {
				return
			}
			if b.Role() != device.RoleSecondary {
				t.Errorf("role = %s", b.Role())
			}
			if p.ConnectionMethod() != MethodQR || p.SecondaryPublicKey() != "pk-b" {
				t.Errorf("method=%s key=%s", p.ConnectionMethod(), p.SecondaryPublicKey())
			}
		})
	}
}

func TestPair_SecondarySlotIsExclusive(t *testing.T) {
	f := newFixture()
	p, a := f.pair(t, "a")
	b := f.connect("b")
	c := f.connect("c")

	if !p.ConnectSecondaryByToken("pk-b", b, MethodQR) {
		t.Fatal("first secondary rejected")
	}
	if p.ConnectSecondaryByToken("pk-c", c, MethodQR) {
		t.Error("second secondary accepted into a full slot")
	}
	if p.ConnectSecondaryByToken("pk-a", a, MethodQR) {
		t.Error("primary accepted as its own secondary")
	}
	if got, _ := p.SecondaryDevice(); got != b {
		t.Error("secondary slot changed hands")
	}
}

func TestPair_ManualCodeRequiresConfirmation(t *testing.T) {
	f := newFixture()
	p, a := f.pair(t, "a")
	b := f.connect("b")

	if p.RegisterUnconfirmedSecondary("pk-b", b, MethodQR) {
		t.Fatal("QR method staged as manual-code candidate")
	}
	if !p.RegisterUnconfirmedSecondary("pk-b", b, MethodManualCode) {
		t.Fatal("RegisterUnconfirmedSecondary failed")
	}
	if p.HasSecondaryDevice() {
		t.Error("unconfirmed candidate took the secondary slot")
	}
	if p.HasOtherDevice(a.ConnectionID()) {
		t.Error("unconfirmed candidate reachable for relay")
	}
	if !p.IsUnconfirmed("b") || p.IsMember("b") {
		t.Error("candidate membership wrong before confirmation")
	}

	if !p.ConfirmUnconfirmedSecondary() {
		t.Fatal("ConfirmUnconfirmedSecondary failed")
	}
	if got, ok := p.OtherDevice("a"); !ok || got != b {
		t.Error("confirmed secondary not reachable from primary")
	}
	if got, ok := p.OtherDevice("b"); !ok || got != a {
		t.Error("primary not reachable from confirmed secondary")
	}
	if p.ConnectionMethod() != MethodManualCode || b.Role() != device.RoleSecondary {
		t.Errorf("method=%s role=%s", p.ConnectionMethod(), b.Role())
	}
	if p.ConfirmUnconfirmedSecondary() {
		t.Error("second confirmation succeeded with nothing staged")
	}
}

func TestPair_LaterCandidateReplacesEarlier(t *testing.T) {
	f := newFixture()
	p, _ := f.pair(t, "a")
	b := f.connect("b")
	c := f.connect("c")

	p.RegisterUnconfirmedSecondary("pk-b", b, MethodManualCode)
	p.RegisterUnconfirmedSecondary("pk-c", c, MethodManualCode)

	if got, ok := p.UnconfirmedDevice(); !ok || got != c {
		t.Fatal("later candidate did not replace earlier one")
	}
	p.ConfirmUnconfirmedSecondary()
	if p.SecondaryDeviceID() != c.ID() || p.SecondaryPublicKey() != "pk-c" {
		t.Error("wrong candidate confirmed")
	}
}

func TestPair_CandidateDisconnectBeforeConfirm(t *testing.T) {
	f := newFixture()
	p, _ := f.pair(t, "a")
	b := f.connect("b")
	p.RegisterUnconfirmedSecondary("pk-b", b, MethodManualCode)

	f.registry.Unregister(fakeConn{"b"})

	if p.ConfirmUnconfirmedSecondary() {
		t.Error("confirmed a candidate that went offline")
	}
	if p.HasSecondaryDevice() {
		t.Error("secondary bound after failed confirmation")
	}
}

func TestPair_ReconnectGuard(t *testing.T) {
	f := newFixture()
	p, a := f.pair(t, "a")
	b := f.connect("b")
	intruder := f.connect("x")
	p.ConnectSecondaryByToken("pk-b", b, MethodQR)

	if p.ReconnectPrimary(intruder) {
		t.Error("foreign device took the primary slot")
	}
	if p.ReconnectSecondary(intruder) {
		t.Error("foreign device took the secondary slot")
	}
	if got, _ := p.PrimaryDevice(); got != a {
		t.Error("primary slot mutated by failed reconnect")
	}
	if intruder.Role() != device.RoleUnassigned {
		t.Errorf("intruder role = %s", intruder.Role())
	}
}

func TestPair_ReconnectRedirectsRelay(t *testing.T) {
	f := newFixture()
	p, a := f.pair(t, "a")
	b := f.connect("b")
	p.ConnectSecondaryByToken("pk-b", b, MethodQR)

	f.registry.Unregister(fakeConn{"b"})
	if p.HasOtherDevice("a") {
		t.Fatal("offline secondary still reachable")
	}
	if p.SecondaryDeviceID() != b.ID() {
		t.Fatal("slot lost the device id while offline")
	}

	fresh := f.connect("b2")
	merged, ok := f.registry.MergeReconnect(b, fresh)
	if !ok {
		t.Fatal("MergeReconnect failed")
	}
	if !p.ReconnectSecondary(merged) {
		t.Fatal("ReconnectSecondary failed")
	}
	got, ok := p.OtherDevice(a.ConnectionID())
	if !ok || got.ConnectionID() != "b2" {
		t.Error("relay not redirected to the new connection")
	}
}
