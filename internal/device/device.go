// Package device tracks connected devices and keeps their identity across
// disconnect and reconnect.
//
// A device is created ONLINE when its connection registers. On disconnect
// it moves to a time-boxed offline set; a reconnect within the TTL merges
// the throwaway device of the new connection back into the original
// identity. Offline devices whose TTL elapses are purged by a periodic sweep.
package device

import (
	"sync"
	"time"
)

// Connection is the transport a device is reachable on.
type Connection interface {
	// ID is stable for the lifetime of the connection.
	ID() string
	// Emit sends a named event. It must not block.
	Emit(event string, payload any)
}

// Role is the part a device plays in its pair.
type Role string

const (
	RoleUnassigned Role = "unassigned"
	RolePrimary    Role = "primary"
	RoleSecondary  Role = "secondary"
)

// State is the lifecycle state of a device.
type State string

const (
	StateOnline  State = "online"
	StateOffline State = "offline"
)

// Device is a paired endpoint's identity. The Registry owns it; pairs hold
// borrowed references.
type Device struct {
	id string

	mu        sync.RWMutex
	conn      Connection
	role      Role
	state     State
	expiresAt time.Time
}

func newDevice(id string, conn Connection) *Device {
	return &Device{id: id, conn: conn, role: RoleUnassigned, state: StateOnline}
}

// ID returns the stable device id.
func (d *Device) ID() string { return d.id }

// ConnectionID returns the id of the current connection.
func (d *Device) ConnectionID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conn.ID()
}

// Connection returns the current connection.
func (d *Device) Connection() Connection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conn
}

// Emit sends an event on the current connection.
func (d *Device) Emit(event string, payload any) {
	d.Connection().Emit(event, payload)
}

func (d *Device) Role() Role {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.role
}

// SetRole records the device's part in its pair.
func (d *Device) SetRole(r Role) {
	d.mu.Lock()
	d.role = r
	d.mu.Unlock()
}

func (d *Device) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// ExpiresAt is when an offline device gets purged. Zero while online.
func (d *Device) ExpiresAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.expiresAt
}

// Online reports whether the device currently has a live connection.
func (d *Device) Online() bool { return d.State() == StateOnline }

func (d *Device) goOffline(expiresAt time.Time) {
	d.mu.Lock()
	d.state = StateOffline
	d.expiresAt = expiresAt
	d.mu.Unlock()
}

func (d *Device) rebind(conn Connection) {
	d.mu.Lock()
	d.conn = conn
	d.state = StateOnline
	d.expiresAt = time.Time{}
	d.mu.Unlock()
}
