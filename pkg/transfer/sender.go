package transfer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/cliprelay/internal/clock"
)

const (
	DefaultMaxPackageSize = 200000
	DefaultInterval       = 10 * time.Millisecond
)

// Emitter receives each package at the moment it is sent.
type Emitter interface {
	EmitPackage(pkg *Package)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(pkg *Package)

func (f EmitterFunc) EmitPackage(pkg *Package) { f(pkg) }

// SenderConfig configures a Sender.
type SenderConfig struct {
	MaxPackageSize int
	Interval       time.Duration
	Clock          clock.Clock
	// NewID generates transfer ids. Defaults to random UUIDs.
	NewID func() string
}

type outbound struct {
	pkg      *Package
	plain    []byte
	fileName string
}

// Sender paces outbound packages: one per Interval, sealed just before
// emission. The pacing timer is armed only while packages are queued.
type Sender struct {
	cfg    SenderConfig
	cipher Cipher
	out    Emitter

	mu    sync.Mutex
	queue []*outbound
	armed bool
	timer clock.Timer
}

// NewSender creates a sender sealing with cipher and emitting to out.
func NewSender(cipher Cipher, out Emitter, cfg SenderConfig) *Sender {
	if cfg.MaxPackageSize <= 0 {
		cfg.MaxPackageSize = DefaultMaxPackageSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Sender{cfg: cfg, cipher: cipher, out: out}
}

// Begin slices item into packages and queues them. The item's payload is
// cleared once queued. An empty payload still produces one package so the
// receiver sees the item.
func (s *Sender) Begin(item *Item) error {
	if item == nil {
		return errNoPayload
	}
	raw, fileName, err := serialize(item)
	if err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = s.cfg.NewID()
	}

	size := s.cfg.MaxPackageSize
	count := max(1, (len(raw)+size-1)/size)
	if count > MaxPackageCount {
		return fmt.Errorf("payload of %d bytes needs %d packages, limit is %d", len(raw), count, MaxPackageCount)
	}
	batch := make([]*outbound, 0, count)
	for i := range count {
		end := min((i+1)*size, len(raw))
		chunk := raw[i*size : end]
		ob := &outbound{
			pkg: &Package{
				ID:            item.ID,
				Type:          item.Type,
				PackageNumber: i,
				PackageCount:  count,
				PackageSize:   len(chunk),
			},
			plain: chunk,
		}
		if i == 0 && fileName != "" {
			ob.fileName = fileName
		}
		batch = append(batch, ob)
	}
	release(item)

	s.mu.Lock()
	s.queue = append(s.queue, batch...)
	s.armLocked()
	s.mu.Unlock()

	slog.Debug("transfer queued", "transfer", item.ID, "type", item.Type, "packages", count, "bytes", len(raw))
	return nil
}

// armLocked must be called with s.mu held.
func (s *Sender) armLocked() {
	if s.armed || len(s.queue) == 0 {
		return
	}
	s.armed = true
	s.timer = s.cfg.Clock.AfterFunc(s.cfg.Interval, s.tick)
}

func (s *Sender) tick() {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.armed = false
		s.timer = nil
		s.mu.Unlock()
		return
	}
	next := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.mu.Unlock()

	if pkg, err := s.seal(next); err != nil {
		slog.Error("transfer package dropped", "transfer", next.pkg.ID, "package", next.pkg.PackageNumber, "error", err)
	} else {
		s.out.EmitPackage(pkg)
	}

	s.mu.Lock()
	s.armed = false
	s.timer = nil
	s.armLocked()
	s.mu.Unlock()
}

func (s *Sender) seal(ob *outbound) (*Package, error) {
	pkg := ob.pkg
	value, err := s.cipher.Seal(ob.plain)
	if err != nil {
		return nil, fmt.Errorf("seal value: %w", err)
	}
	pkg.Value = value
	if ob.fileName != "" {
		name, err := s.cipher.Seal([]byte(ob.fileName))
		if err != nil {
			return nil, fmt.Errorf("seal file name: %w", err)
		}
		pkg.MetaData = &Metadata{FileName: &name}
	}
	return pkg, nil
}

// Pending returns the number of queued packages.
func (s *Sender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Armed reports whether the pacing timer is scheduled or running.
func (s *Sender) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Stop drops every queued package and cancels the pacing timer.
func (s *Sender) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	if s.timer != nil && s.timer.Stop() {
		s.armed = false
		s.timer = nil
	}
}
