// Package pairing implements the primary/secondary pairing state machine.
//
// A pair is created when a primary device asks to pair. The secondary slot
// fills through one of two flows:
//  1. QR: the secondary presents a QR token and takes the slot directly.
//  2. Manual code: the secondary presents a short human-typed code and is
//     staged as an unconfirmed candidate. It only takes the slot after the
//     primary's user approves the confirmation code shown on the secondary.
//
// Slots remember the stable device id after the device goes offline so a
// reconnecting device can re-bind, but only bound, online devices receive
// relayed data.
package pairing

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/cliprelay/internal/device"
)

// Method is the handshake flow a token belongs to and the way a secondary
// joined its pair.
type Method string

const (
	MethodQR         Method = "qr"
	MethodManualCode Method = "manualcode"
)

// Direction tells which slot is currently the data source.
type Direction string

const (
	DirectionPrimaryToSecondary Direction = "primary_to_secondary"
	DirectionSecondaryToPrimary Direction = "secondary_to_primary"
)

type slot struct {
	deviceID  string
	device    *device.Device // nil while the device is offline
	publicKey string
}

func (s *slot) empty() bool { return s.deviceID == "" }

func (s *slot) heldBy(d *device.Device) bool { return s.deviceID == d.ID() }

func (s *slot) bound() bool { return s.device != nil }

func (s *slot) bind(d *device.Device) {
	s.deviceID = d.ID()
	s.device = d
}

func (s *slot) boundTo(connID string) bool {
	return s.device != nil && s.device.ConnectionID() == connID
}

// Pair is a pairing session between exactly two device slots.
type Pair struct {
	id        string
	createdAt time.Time

	mu          sync.RWMutex
	primary     slot
	secondary   slot
	unconfirmed *slot
	direction   Direction
	method      Method
	idleSince   time.Time
	closed      bool
}

func newPair(id string, primary *device.Device, publicKey string, now time.Time) *Pair {
	p := &Pair{
		id:        id,
		createdAt: now,
		direction: DirectionPrimaryToSecondary,
	}
	p.primary.bind(primary)
	p.primary.publicKey = publicKey
	return p
}

// ID returns the pair id.
func (p *Pair) ID() string { return p.id }

// CreatedAt returns when the primary initiated the pair.
func (p *Pair) CreatedAt() time.Time { return p.createdAt }

// ReconnectPrimary re-binds the primary slot to d. It fails without
// mutation if the slot belongs to a different device.
func (p *Pair) ReconnectPrimary(d *device.Device) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconnect(&p.primary, d, device.RolePrimary)
}

// ReconnectSecondary re-binds the secondary slot to d. It fails without
// mutation if the slot belongs to a different device.
func (p *Pair) ReconnectSecondary(d *device.Device) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconnect(&p.secondary, d, device.RoleSecondary)
}

func (p *Pair) reconnect(s *slot, d *device.Device, role device.Role) bool {
	if p.closed {
		return false
	}
	if !s.empty() && !s.heldBy(d) {
		return false
	}
	s.bind(d)
	d.SetRole(role)
	p.idleSince = time.Time{}
	return true
}

// ToggleDirection flips the data direction and returns the new value.
func (p *Pair) ToggleDirection() Direction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.direction == DirectionPrimaryToSecondary {
		p.direction = DirectionSecondaryToPrimary
	} else {
		p.direction = DirectionPrimaryToSecondary
	}
	return p.direction
}

// Direction returns the current data direction.
func (p *Pair) Direction() Direction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.direction
}

// ConnectionMethod returns how the secondary joined, empty until it has.
func (p *Pair) ConnectionMethod() Method {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.method
}

// ConnectSecondaryByToken fills the secondary slot through the QR flow.
// The token's method must be QR; a manual code never grants direct access.
func (p *Pair) ConnectSecondaryByToken(publicKey string, d *device.Device, method Method) bool {
	if method != MethodQR {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.acceptsSecondary(d) {
		return false
	}
	p.secondary.bind(d)
	p.secondary.publicKey = publicKey
	p.method = MethodQR
	if p.unconfirmed != nil && p.unconfirmed.heldBy(d) {
		p.unconfirmed = nil
	}
	d.SetRole(device.RoleSecondary)
	p.idleSince = time.Time{}
	return true
}

// RegisterUnconfirmedSecondary stages d as a manual-code candidate. The
// candidate gets no relay access until ConfirmUnconfirmedSecondary. A later
// registration replaces an earlier candidate.
func (p *Pair) RegisterUnconfirmedSecondary(publicKey string, d *device.Device, method Method) bool {
	if method != MethodManualCode {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.acceptsSecondary(d) {
		return false
	}
	candidate := &slot{publicKey: publicKey}
	candidate.bind(d)
	p.unconfirmed = candidate
	return true
}

// ConfirmUnconfirmedSecondary promotes the staged candidate into the
// secondary slot. Fails if nothing is staged, e.g. because the candidate
// disconnected before the primary approved.
func (p *Pair) ConfirmUnconfirmedSecondary() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.unconfirmed == nil || !p.unconfirmed.bound() {
		return false
	}
	d := p.unconfirmed.device
	if !p.acceptsSecondary(d) {
		return false
	}
	p.secondary = *p.unconfirmed
	p.unconfirmed = nil
	p.method = MethodManualCode
	d.SetRole(device.RoleSecondary)
	p.idleSince = time.Time{}
	return true
}

// acceptsSecondary must be called with p.mu held.
func (p *Pair) acceptsSecondary(d *device.Device) bool {
	if p.closed || p.primary.heldBy(d) {
		return false
	}
	return p.secondary.empty() || p.secondary.heldBy(d)
}

func (p *Pair) HasPrimaryDevice() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.primary.bound()
}

func (p *Pair) HasSecondaryDevice() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.secondary.bound()
}

// PrimaryDevice returns the bound primary device.
func (p *Pair) PrimaryDevice() (*device.Device, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.primary.device, p.primary.bound()
}

// SecondaryDevice returns the bound secondary device.
func (p *Pair) SecondaryDevice() (*device.Device, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.secondary.device, p.secondary.bound()
}

// UnconfirmedDevice returns the staged manual-code candidate.
func (p *Pair) UnconfirmedDevice() (*device.Device, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.unconfirmed == nil || !p.unconfirmed.bound() {
		return nil, false
	}
	return p.unconfirmed.device, true
}

// PrimaryDeviceID returns the stable id held by the primary slot, bound or not.
func (p *Pair) PrimaryDeviceID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.primary.deviceID
}

// SecondaryDeviceID returns the stable id held by the secondary slot, bound or not.
func (p *Pair) SecondaryDeviceID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.secondary.deviceID
}

func (p *Pair) PrimaryPublicKey() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.primary.publicKey
}

func (p *Pair) SecondaryPublicKey() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.secondary.publicKey
}

// IsMember reports whether connID is bound to a confirmed slot.
func (p *Pair) IsMember(connID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.primary.boundTo(connID) || p.secondary.boundTo(connID)
}

// IsUnconfirmed reports whether connID belongs to the staged candidate.
func (p *Pair) IsUnconfirmed(connID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.unconfirmed != nil && p.unconfirmed.boundTo(connID)
}

// HasOtherDevice reports whether the device opposite connID is bound.
func (p *Pair) HasOtherDevice(connID string) bool {
	_, ok := p.OtherDevice(connID)
	return ok
}

// OtherDevice resolves the device in the slot opposite connID. This is the
// relay primitive: it is evaluated per package, so a reconnect redirects
// the rest of a transfer.
func (p *Pair) OtherDevice(connID string) (*device.Device, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch {
	case p.primary.boundTo(connID):
		return p.secondary.device, p.secondary.bound()
	case p.secondary.boundTo(connID):
		return p.primary.device, p.primary.bound()
	default:
		return nil, false
	}
}

// holds reports whether deviceID occupies a confirmed slot.
func (p *Pair) holds(deviceID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.primary.deviceID == deviceID || p.secondary.deviceID == deviceID
}

// detach unbinds d from every slot after it went offline. The confirmed
// slots keep the device id; a staged candidate is dropped.
func (p *Pair) detach(d *device.Device) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := false
	if p.primary.device == d {
		p.primary.device = nil
		changed = true
	}
	if p.secondary.device == d {
		p.secondary.device = nil
		changed = true
	}
	if p.unconfirmed != nil && p.unconfirmed.device == d {
		p.unconfirmed = nil
		changed = true
	}
	return changed
}

// forget clears the slot of a device that was purged for good.
func (p *Pair) forget(deviceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := false
	if p.primary.deviceID == deviceID {
		p.primary = slot{}
		changed = true
	}
	if p.secondary.deviceID == deviceID {
		p.secondary = slot{}
		changed = true
	}
	return changed
}

// idle reports whether no slot has a bound device, tracking since when.
func (p *Pair) idle(now time.Time) (bool, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.primary.bound() || p.secondary.bound() {
		p.idleSince = time.Time{}
		return false, time.Time{}
	}
	if p.idleSince.IsZero() {
		p.idleSince = now
	}
	return true, p.idleSince
}

func (p *Pair) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Closed reports whether the pair was removed from its manager.
func (p *Pair) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}
