package pairing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/cliprelay/internal/clock"
	"github.com/nextlevelbuilder/cliprelay/internal/device"
	"github.com/nextlevelbuilder/cliprelay/internal/ids"
)

const (
	// DefaultIdleTTL is how long a pair with no bound device survives.
	DefaultIdleTTL = 5 * time.Minute
	// DefaultSweepInterval is the period of the idle-pair sweep.
	DefaultSweepInterval = 30 * time.Second
)

// Devices is the part of the device registry the manager needs.
type Devices interface {
	ByConnection(connID string) (*device.Device, bool)
	Subscribe(o device.Observer)
}

// Config configures a Manager.
type Config struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
	Clock         clock.Clock
	IDs           ids.Generator
}

// Manager owns every pair. It observes the device registry to unbind
// devices that go offline and to forget devices that are purged.
type Manager struct {
	cfg     Config
	devices Devices

	mu    sync.RWMutex
	pairs map[string]*Pair
}

// NewManager creates a manager and subscribes it to devices.
func NewManager(devices Devices, cfg Config) *Manager {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.IDs == nil {
		cfg.IDs = ids.Random{}
	}
	m := &Manager{
		cfg:     cfg,
		devices: devices,
		pairs:   make(map[string]*Pair),
	}
	devices.Subscribe(m)
	return m
}

// InitPair creates a pair whose primary slot holds the device of conn.
// Any pair the device was already primary of is closed first; a device
// leads at most one pair. Returns false if conn has no registered device.
func (m *Manager) InitPair(conn device.Connection, publicKey string) (*Pair, bool) {
	d, ok := m.devices.ByConnection(conn.ID())
	if !ok {
		return nil, false
	}

	m.mu.Lock()
	for id, p := range m.pairs {
		if p.PrimaryDeviceID() == d.ID() {
			delete(m.pairs, id)
			p.close()
			slog.Debug("pair replaced", "pair", id, "device", d.ID())
			continue
		}
		if p.SecondaryDeviceID() == d.ID() {
			p.forget(d.ID())
		}
	}
	p := newPair(m.cfg.IDs.NewID(), d, publicKey, m.cfg.Clock.Now())
	m.pairs[p.id] = p
	m.mu.Unlock()

	d.SetRole(device.RolePrimary)
	slog.Info("pair created", "pair", p.id, "primary", d.ID())
	return p, true
}

// PairByConnectionID finds the pair in which connID holds a confirmed slot.
func (m *Manager) PairByConnectionID(connID string) (*Pair, bool) {
	return m.find(func(p *Pair) bool { return p.IsMember(connID) })
}

// PairByUnconfirmedConnectionID finds the pair in which connID is the
// staged manual-code candidate.
func (m *Manager) PairByUnconfirmedConnectionID(connID string) (*Pair, bool) {
	return m.find(func(p *Pair) bool { return p.IsUnconfirmed(connID) })
}

// PairByDeviceID finds the pair whose confirmed slot holds deviceID, bound
// or not.
func (m *Manager) PairByDeviceID(deviceID string) (*Pair, bool) {
	return m.find(func(p *Pair) bool { return p.holds(deviceID) })
}

// PairByID looks up a pair by its id.
func (m *Manager) PairByID(id string) (*Pair, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pairs[id]
	return p, ok
}

func (m *Manager) find(match func(*Pair) bool) (*Pair, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pairs {
		if match(p) {
			return p, true
		}
	}
	return nil, false
}

// Remove closes and forgets a pair.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	p, ok := m.pairs[id]
	delete(m.pairs, id)
	m.mu.Unlock()
	if ok {
		p.close()
	}
}

// Active returns the number of pairs with at least one bound device.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked()
}

// Idle returns the number of pairs with no bound device.
func (m *Manager) Idle() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pairs) - m.activeLocked()
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, p := range m.pairs {
		if p.HasPrimaryDevice() || p.HasSecondaryDevice() {
			n++
		}
	}
	return n
}

// Len returns the number of pairs.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pairs)
}

// Sweep removes pairs that have had no bound device for IdleTTL.
func (m *Manager) Sweep() {
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	var removed []*Pair
	for id, p := range m.pairs {
		idle, since := p.idle(now)
		if !idle || now.Sub(since) < m.cfg.IdleTTL {
			continue
		}
		delete(m.pairs, id)
		removed = append(removed, p)
	}
	m.mu.Unlock()

	for _, p := range removed {
		p.close()
		slog.Info("idle pair collected", "pair", p.id)
	}
}

// Run sweeps idle pairs on every tick until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := m.cfg.Clock.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.Sweep()
		}
	}
}

// DeviceOffline implements device.Observer.
func (m *Manager) DeviceOffline(d *device.Device) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pairs {
		if p.detach(d) {
			slog.Debug("device detached from pair", "pair", p.id, "device", d.ID())
		}
	}
}

// DeviceRemoved implements device.Observer.
func (m *Manager) DeviceRemoved(d *device.Device) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pairs {
		if p.forget(d.ID()) {
			slog.Debug("device forgotten by pair", "pair", p.id, "device", d.ID())
		}
	}
}
