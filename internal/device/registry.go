package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/cliprelay/internal/clock"
	"github.com/nextlevelbuilder/cliprelay/internal/ids"
)

const (
	// DefaultOfflineTTL is how long a disconnected device can come back.
	DefaultOfflineTTL = 2 * time.Minute
	// DefaultSweepInterval is the period of the offline sweep.
	DefaultSweepInterval = 10 * time.Second
)

// Observer is notified of lifecycle transitions. Callbacks run after the
// registry lock is released and must not block.
type Observer interface {
	DeviceOffline(d *Device)
	DeviceRemoved(d *Device)
}

// Config configures a Registry.
type Config struct {
	OfflineTTL    time.Duration
	SweepInterval time.Duration
	Clock         clock.Clock
	IDs           ids.Generator
}

// Registry owns device identity: one online index per connection id, one
// per device id, and the offline set. A device id is in exactly one of
// byDevice or offline, never both.
type Registry struct {
	cfg Config

	mu           sync.Mutex
	byConnection map[string]*Device
	byDevice     map[string]*Device
	offline      map[string]*Device

	obsMu     sync.RWMutex
	observers []Observer
}

// NewRegistry creates a registry. Zero config fields take defaults.
func NewRegistry(cfg Config) *Registry {
	if cfg.OfflineTTL <= 0 {
		cfg.OfflineTTL = DefaultOfflineTTL
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
	return &Registry{
		cfg:          cfg,
		byConnection: make(map[string]*Device),
		byDevice:     make(map[string]*Device),
		offline:      make(map[string]*Device),
	}
}

// Subscribe registers an observer for offline/removed notifications.
func (r *Registry) Subscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

// Register allocates a new online device for conn.
func (r *Registry) Register(conn Connection) *Device {
	d := newDevice(r.cfg.IDs.NewID(), conn)

	r.mu.Lock()
	r.byConnection[conn.ID()] = d
	r.byDevice[d.id] = d
	r.mu.Unlock()

	slog.Debug("device registered", "device", d.id, "conn", conn.ID())
	return d
}

// Unregister moves the device of conn into the offline set. Unknown
// connections are ignored.
func (r *Registry) Unregister(conn Connection) {
	r.mu.Lock()
	d, ok := r.byConnection[conn.ID()]
	if !ok {
		r.mu.Unlock()
		return
	}
	expiresAt := r.cfg.Clock.Now().Add(r.cfg.OfflineTTL)
	d.goOffline(expiresAt)
	r.offline[d.id] = d
	delete(r.byConnection, conn.ID())
	delete(r.byDevice, d.id)
	r.mu.Unlock()

	slog.Debug("device offline", "device", d.id, "conn", conn.ID(), "expires_at", expiresAt)
	r.notify(func(o Observer) { o.DeviceOffline(d) })
}

// ByConnection resolves an online device by connection id.
func (r *Registry) ByConnection(connID string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byConnection[connID]
	return d, ok
}

// ByDeviceID resolves an online device by its stable id.
func (r *Registry) ByDeviceID(deviceID string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byDevice[deviceID]
	return d, ok
}

// OfflineByDeviceID resolves a device waiting in the offline set. Entries
// past their expiry resolve as not found even before the sweep runs.
func (r *Registry) OfflineByDeviceID(deviceID string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.offline[deviceID]
	if !ok || !r.cfg.Clock.Now().Before(d.ExpiresAt()) {
		return nil, false
	}
	return d, true
}

// MergeReconnect folds fresh, the throwaway device created for a new
// connection, into original, which must still be offline. original takes
// over fresh's connection and fresh disappears from every index.
//
// Returns false without mutating anything if original is no longer in the
// offline set (purged by a sweep, or already merged) or fresh is not online.
func (r *Registry) MergeReconnect(original, fresh *Device) (*Device, bool) {
	r.mu.Lock()
	if r.offline[original.id] != original {
		r.mu.Unlock()
		return nil, false
	}
	conn := fresh.Connection()
	if r.byConnection[conn.ID()] != fresh {
		r.mu.Unlock()
		return nil, false
	}

	original.rebind(conn)

	delete(r.byConnection, conn.ID())
	delete(r.byDevice, fresh.id)
	delete(r.offline, original.id)

	r.byConnection[conn.ID()] = original
	r.byDevice[original.id] = original
	r.mu.Unlock()

	slog.Debug("device merged", "device", original.id, "throwaway", fresh.id, "conn", conn.ID())
	return original, true
}

// Sweep purges offline devices whose TTL has elapsed.
func (r *Registry) Sweep() {
	now := r.cfg.Clock.Now()

	r.mu.Lock()
	var removed []*Device
	for id, d := range r.offline {
		if d.ExpiresAt().After(now) {
			continue
		}
		delete(r.offline, id)
		removed = append(removed, d)
	}
	r.mu.Unlock()

	for _, d := range removed {
		slog.Debug("device removed", "device", d.id)
		r.notify(func(o Observer) { o.DeviceRemoved(d) })
	}
}

// Run sweeps on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := r.cfg.Clock.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			r.Sweep()
		}
	}
}

// Online returns the number of online devices.
func (r *Registry) Online() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConnection)
}

// Offline returns the number of devices waiting to reconnect.
func (r *Registry) Offline() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.offline)
}

func (r *Registry) notify(fn func(Observer)) {
	r.obsMu.RLock()
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.obsMu.RUnlock()

	for _, o := range observers {
		fn(o)
	}
}
