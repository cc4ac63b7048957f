package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nextlevelbuilder/cliprelay/internal/clock"
)

const (
	// DefaultCompletedMemory is how many finished transfer ids a Receiver
	// remembers to reject late packages.
	DefaultCompletedMemory = 1024

	// MaxPackageCount caps the package count a peer may announce. At the
	// default package size it admits payloads of about 2 GB.
	MaxPackageCount = 10000

	DefaultStaleAfter = 2 * time.Minute
	DefaultMaxPending = 64
)

var (
	ErrInvalidPackage       = errors.New("invalid package")
	ErrPackageOutOfRange    = errors.New("package number out of range")
	ErrPackageCountMismatch = errors.New("package count differs from first package")
	ErrDuplicatePackage     = errors.New("duplicate package number")
	ErrTransferCompleted    = errors.New("transfer already completed")
)

// Prepared announces an incoming transfer before its payload is complete.
type Prepared struct {
	ID           string
	Type         PayloadType
	PackageCount int
	FileName     string
}

// Observer is told about incoming transfers. Callbacks run without the
// receiver's lock held.
type Observer interface {
	TransferPrepared(p Prepared)
	TransferAssembled(item *Item)
}

type record struct {
	seen     time.Time
	typ      PayloadType
	count    int
	received int
	fileName string
	slots    []*Package
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// StaleAfter drops a partial transfer that has received no package
	// for this long.
	StaleAfter time.Duration
	// MaxPending caps the partial transfers held at once.
	MaxPending int
	Clock      clock.Clock
}

// Receiver reassembles packages into items.
type Receiver struct {
	cfg    ReceiverConfig
	cipher Cipher
	obs    Observer

	mu        sync.Mutex
	records   map[string]*record
	completed *lru.Cache[string, struct{}]
}

// NewReceiver creates a receiver opening packages with cipher.
func NewReceiver(cipher Cipher, obs Observer, cfg ReceiverConfig) *Receiver {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	completed, err := lru.New[string, struct{}](DefaultCompletedMemory)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &Receiver{
		cfg:       cfg,
		cipher:    cipher,
		obs:       obs,
		records:   make(map[string]*record),
		completed: completed,
	}
}

// Receive stores one package. The last package of a transfer triggers
// decryption in package order and an Assembled notification.
func (r *Receiver) Receive(pkg *Package) error {
	if err := validate(pkg); err != nil {
		return err
	}

	var fileName string
	if pkg.PackageNumber == 0 && pkg.MetaData != nil && pkg.MetaData.FileName != nil {
		name, err := r.cipher.Open(*pkg.MetaData.FileName)
		if err != nil {
			return fmt.Errorf("open file name: %w", err)
		}
		fileName = string(name)
	}

	r.mu.Lock()
	if r.completed.Contains(pkg.ID) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTransferCompleted, pkg.ID)
	}
	now := r.cfg.Clock.Now()
	rec, ok := r.records[pkg.ID]
	if !ok {
		r.dropStaleLocked(now)
		if len(r.records) >= r.cfg.MaxPending {
			r.mu.Unlock()
			return fmt.Errorf("%w: %d transfers pending", ErrInvalidPackage, len(r.records))
		}
		rec = &record{typ: pkg.Type, count: pkg.PackageCount, slots: make([]*Package, pkg.PackageCount)}
		r.records[pkg.ID] = rec
	}
	rec.seen = now
	if pkg.PackageCount != rec.count || pkg.Type != rec.typ {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s got %d, want %d", ErrPackageCountMismatch, pkg.ID, pkg.PackageCount, rec.count)
	}
	if rec.slots[pkg.PackageNumber] != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s #%d", ErrDuplicatePackage, pkg.ID, pkg.PackageNumber)
	}
	rec.slots[pkg.PackageNumber] = pkg
	rec.received++
	if pkg.PackageNumber == 0 {
		rec.fileName = fileName
	}
	done := rec.received == rec.count
	if done {
		delete(r.records, pkg.ID)
		r.completed.Add(pkg.ID, struct{}{})
	}
	r.mu.Unlock()

	if pkg.PackageNumber == 0 && pkg.MetaData != nil && r.obs != nil {
		r.obs.TransferPrepared(Prepared{ID: pkg.ID, Type: pkg.Type, PackageCount: pkg.PackageCount, FileName: fileName})
	}
	if !done {
		return nil
	}

	item, err := r.assemble(pkg.ID, rec)
	if err != nil {
		return err
	}
	slog.Debug("transfer assembled", "transfer", item.ID, "type", item.Type, "packages", rec.count)
	if r.obs != nil {
		r.obs.TransferAssembled(item)
	}
	return nil
}

func (r *Receiver) assemble(id string, rec *record) (*Item, error) {
	var buf bytes.Buffer
	for _, p := range rec.slots {
		plain, err := r.cipher.Open(p.Value)
		if err != nil {
			return nil, fmt.Errorf("open package %d of %s: %w", p.PackageNumber, id, err)
		}
		buf.Write(plain)
	}
	return parse(id, rec.typ, buf.Bytes(), rec.fileName)
}

// DropStale forgets partial transfers that stopped receiving packages.
func (r *Receiver) DropStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropStaleLocked(r.cfg.Clock.Now())
}

func (r *Receiver) dropStaleLocked(now time.Time) int {
	dropped := 0
	for id, rec := range r.records {
		if now.Sub(rec.seen) < r.cfg.StaleAfter {
			continue
		}
		delete(r.records, id)
		dropped++
		slog.Debug("partial transfer dropped", "transfer", id, "received", rec.received, "packages", rec.count)
	}
	return dropped
}

// Pending returns the number of transfers being reassembled.
func (r *Receiver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func validate(pkg *Package) error {
	switch {
	case pkg == nil:
		return ErrInvalidPackage
	case pkg.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidPackage)
	case !pkg.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidPackage, pkg.Type)
	case pkg.PackageCount <= 0 || pkg.PackageCount > MaxPackageCount:
		return fmt.Errorf("%w: package count %d", ErrInvalidPackage, pkg.PackageCount)
	case pkg.PackageNumber < 0 || pkg.PackageNumber >= pkg.PackageCount:
		return fmt.Errorf("%w: %d of %d", ErrPackageOutOfRange, pkg.PackageNumber, pkg.PackageCount)
	}
	return nil
}
