package transfer

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/cliprelay/internal/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// plainCipher base64-encodes and counts calls; enough to verify ordering
// and laziness without real keys.
type plainCipher struct{ seals, opens int }

func (c *plainCipher) Seal(p []byte) (Sealed, error) {
	c.seals++
	return Sealed{Data: base64.StdEncoding.EncodeToString(p), Nonce: fmt.Sprint(c.seals)}, nil
}

func (c *plainCipher) Open(s Sealed) ([]byte, error) {
	c.opens++
	return base64.StdEncoding.DecodeString(s.Data)
}

type sink struct {
	prepared  []Prepared
	assembled []*Item
}

func (s *sink) TransferPrepared(p Prepared)  { s.prepared = append(s.prepared, p) }
func (s *sink) TransferAssembled(item *Item) { s.assembled = append(s.assembled, item) }

// capture runs item through a Sender on a fake clock and returns every
// emitted package.
func capture(t *testing.T, item *Item, size int) []*Package {
	t.Helper()
	c := clock.NewFake(epoch)
	var out []*Package
	s := NewSender(&plainCipher{}, EmitterFunc(func(p *Package) { out = append(out, p) }),
		SenderConfig{MaxPackageSize: size, Clock: c})
	if err := s.Begin(item); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for s.Pending() > 0 || s.Armed() {
		c.Advance(DefaultInterval)
	}
	return out
}

func TestSender_SlicesLargeText(t *testing.T) {
	text := strings.Repeat("x", 450000)
	item := &Item{Type: TypeText, Text: text}
	pkgs := capture(t, item, 200000)

	if len(pkgs) != 3 {
		t.Fatalf("packages = %d, want 3", len(pkgs))
	}
	wantSizes := []int{200000, 200000, 50000}
	for i, p := range pkgs {
		if p.PackageNumber != i || p.PackageCount != 3 || p.PackageSize != wantSizes[i] {
			t.Errorf("package %d: number=%d count=%d size=%d", i, p.PackageNumber, p.PackageCount, p.PackageSize)
		}
		if p.ID != pkgs[0].ID {
			t.Errorf("package %d has transfer id %s, want %s", i, p.ID, pkgs[0].ID)
		}
	}
	if item.Text != "" {
		t.Error("source item still carries its payload")
	}

	sk := &sink{}
	r := NewReceiver(&plainCipher{}, sk, ReceiverConfig{})
	for _, i := range []int{1, 0, 2} {
		if err := r.Receive(pkgs[i]); err != nil {
			t.Fatalf("Receive(%d): %v", i, err)
		}
	}
	if len(sk.assembled) != 1 || sk.assembled[0].Text != text {
		t.Fatal("450000-character text did not reassemble")
	}
	if r.Pending() != 0 {
		t.Error("reassembly record left behind")
	}
}

func TestReceiver_AnyPermutation(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	pkgs := capture(t, &Item{Type: TypeText, Text: text}, 10)
	if len(pkgs) != 5 {
		t.Fatalf("packages = %d, want 5", len(pkgs))
	}

	orders := [][]int{
		{0, 1, 2, 3, 4},
		{4, 3, 2, 1, 0},
		{2, 4, 0, 3, 1},
		{1, 0, 3, 4, 2},
	}
	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			sk := &sink{}
			r := NewReceiver(&plainCipher{}, sk, ReceiverConfig{})
			for n, i := range order {
				if err := r.Receive(pkgs[i]); err != nil {
					t.Fatalf("Receive(%d): %v", i, err)
				}
				if n < len(order)-1 && (len(sk.assembled) != 0 || r.Pending() != 1) {
					t.Fatalf("after %d packages: assembled=%d pending=%d", n+1, len(sk.assembled), r.Pending())
				}
			}
			if len(sk.assembled) != 1 || sk.assembled[0].Text != text {
				t.Errorf("assembled = %+v", sk.assembled)
			}
			if r.Pending() != 0 {
				t.Error("record not discarded on completion")
			}
		})
	}
}

func TestRoundTrip_PayloadTypes(t *testing.T) {
	doc := bytes.Repeat([]byte{0, 1, 2, 250, 251, 252}, 100)
	tests := []struct {
		name string
		item func() *Item
		want func(*testing.T, *Item)
	}{
		{
			name: "text",
			item: func() *Item { return &Item{Type: TypeText, Text: "héllo wörld ✓"} },
			want: func(t *testing.T, got *Item) {
				if got.Text != "héllo wörld ✓" {
					t.Errorf("text = %q", got.Text)
				}
			},
		},
		{
			name: "password",
			item: func() *Item { return &Item{Type: TypePassword, Text: "hunter2"} },
			want: func(t *testing.T, got *Item) {
				if got.Type != TypePassword || got.Text != "hunter2" {
					t.Errorf("got %+v", got)
				}
			},
		},
		{
			name: "url",
			item: func() *Item { return &Item{Type: TypeURL, Text: "https://example.com/?q=1"} },
			want: func(t *testing.T, got *Item) {
				if got.Text != "https://example.com/?q=1" {
					t.Errorf("url = %q", got.Text)
				}
			},
		},
		{
			name: "empty text",
			item: func() *Item { return &Item{Type: TypeText} },
			want: func(t *testing.T, got *Item) {
				if got.Text != "" {
					t.Errorf("text = %q", got.Text)
				}
			},
		},
		{
			name: "document",
			item: func() *Item {
				return &Item{Type: TypeDocument, Document: &Document{FileName: "notes.bin", Data: append([]byte(nil), doc...)}}
			},
			want: func(t *testing.T, got *Item) {
				if got.Document == nil || got.Document.FileName != "notes.bin" || !bytes.Equal(got.Document.Data, doc) {
					t.Errorf("document = %+v", got.Document)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := tt.item()
			pkgs := capture(t, item, 64)

			sk := &sink{}
			r := NewReceiver(&plainCipher{}, sk, ReceiverConfig{})
			for i := len(pkgs) - 1; i >= 0; i-- {
				if err := r.Receive(pkgs[i]); err != nil {
					t.Fatalf("Receive: %v", err)
				}
			}
			if len(sk.assembled) != 1 {
				t.Fatalf("assembled %d items", len(sk.assembled))
			}
			got := sk.assembled[0]
			if got.ID != item.ID {
				t.Errorf("id = %s, want %s", got.ID, item.ID)
			}
			tt.want(t, got)
		})
	}
}

func TestSender_MetadataOnFirstPackageOnly(t *testing.T) {
	item := &Item{Type: TypeDocument, Document: &Document{FileName: "a.txt", Data: bytes.Repeat([]byte("z"), 500)}}
	pkgs := capture(t, item, 100)

	for _, p := range pkgs {
		hasMeta := p.MetaData != nil && p.MetaData.FileName != nil
		if hasMeta != (p.PackageNumber == 0) {
			t.Errorf("package %d metadata present = %v", p.PackageNumber, hasMeta)
		}
	}
	if item.Document.Data != nil {
		t.Error("document data not cleared from source item")
	}

	sk := &sink{}
	r := NewReceiver(&plainCipher{}, sk, ReceiverConfig{})
	if err := r.Receive(pkgs[0]); err != nil {
		t.Fatal(err)
	}
	if len(sk.prepared) != 1 || sk.prepared[0].FileName != "a.txt" || sk.prepared[0].PackageCount != len(pkgs) {
		t.Errorf("prepared = %+v", sk.prepared)
	}
	if len(sk.assembled) != 0 {
		t.Error("assembled before the last package")
	}
}

func TestSender_PacingIsLazyAndSelfStopping(t *testing.T) {
	c := clock.NewFake(epoch)
	cipher := &plainCipher{}
	var out []*Package
	s := NewSender(cipher, EmitterFunc(func(p *Package) { out = append(out, p) }),
		SenderConfig{MaxPackageSize: 4, Interval: 10 * time.Millisecond, Clock: c})

	if s.Armed() {
		t.Fatal("timer armed with an empty queue")
	}
	if err := s.Begin(&Item{Type: TypeText, Text: "abcdefghij"}); err != nil {
		t.Fatal(err)
	}
	if cipher.seals != 0 {
		t.Errorf("sealed %d packages before the first tick", cipher.seals)
	}
	if c.Pending() != 1 {
		t.Errorf("pending timers = %d, want 1", c.Pending())
	}

	if err := s.Begin(&Item{Type: TypeText, Text: "k"}); err != nil {
		t.Fatal(err)
	}
	if c.Pending() != 1 {
		t.Errorf("second Begin double-armed the timer: pending = %d", c.Pending())
	}

	c.Advance(10 * time.Millisecond)
	if len(out) != 1 || cipher.seals != 1 {
		t.Fatalf("after one tick: emitted=%d sealed=%d", len(out), cipher.seals)
	}

	c.Advance(30 * time.Millisecond)
	if len(out) != 4 {
		t.Fatalf("emitted %d packages, want 4", len(out))
	}
	if s.Armed() || c.Pending() != 0 {
		t.Error("timer left running against an empty queue")
	}

	if err := s.Begin(&Item{Type: TypeText, Text: "again"}); err != nil {
		t.Fatal(err)
	}
	if !s.Armed() {
		t.Error("timer not restarted on enqueue")
	}
}

func TestSender_Stop(t *testing.T) {
	c := clock.NewFake(epoch)
	var out []*Package
	s := NewSender(&plainCipher{}, EmitterFunc(func(p *Package) { out = append(out, p) }),
		SenderConfig{MaxPackageSize: 1, Clock: c})
	s.Begin(&Item{Type: TypeText, Text: "abc"})

	s.Stop()
	c.Advance(time.Second)
	if len(out) != 0 || s.Pending() != 0 || s.Armed() {
		t.Errorf("emitted=%d pending=%d armed=%v after Stop", len(out), s.Pending(), s.Armed())
	}
}

func TestSender_RejectsBadItems(t *testing.T) {
	s := NewSender(&plainCipher{}, EmitterFunc(func(*Package) {}), SenderConfig{Clock: clock.NewFake(epoch)})
	tests := []struct {
		name string
		item *Item
	}{
		{"nil", nil},
		{"unknown type", &Item{Type: "image", Text: "x"}},
		{"document without body", &Item{Type: TypeDocument}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Begin(tt.item); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestReceiver_ProtocolErrors(t *testing.T) {
	pkgs := capture(t, &Item{Type: TypeText, Text: "abcdef"}, 2)

	t.Run("duplicate", func(t *testing.T) {
		r := NewReceiver(&plainCipher{}, nil, ReceiverConfig{})
		r.Receive(pkgs[0])
		if err := r.Receive(pkgs[0]); !errors.Is(err, ErrDuplicatePackage) {
			t.Errorf("error = %v, want ErrDuplicatePackage", err)
		}
	})

	t.Run("after completion", func(t *testing.T) {
		r := NewReceiver(&plainCipher{}, nil, ReceiverConfig{})
		for _, p := range pkgs {
			if err := r.Receive(p); err != nil {
				t.Fatal(err)
			}
		}
		if err := r.Receive(pkgs[1]); !errors.Is(err, ErrTransferCompleted) {
			t.Errorf("error = %v, want ErrTransferCompleted", err)
		}
		if r.Pending() != 0 {
			t.Error("late package recreated a record")
		}
	})

	t.Run("count mismatch", func(t *testing.T) {
		r := NewReceiver(&plainCipher{}, nil, ReceiverConfig{})
		r.Receive(pkgs[0])
		odd := *pkgs[1]
		odd.PackageCount = 4
		if err := r.Receive(&odd); !errors.Is(err, ErrPackageCountMismatch) {
			t.Errorf("error = %v, want ErrPackageCountMismatch", err)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		r := NewReceiver(&plainCipher{}, nil, ReceiverConfig{})
		odd := *pkgs[2]
		odd.PackageNumber = 3
		if err := r.Receive(&odd); !errors.Is(err, ErrPackageOutOfRange) {
			t.Errorf("error = %v, want ErrPackageOutOfRange", err)
		}
		if r.Pending() != 0 {
			t.Error("rejected package allocated a record")
		}
	})

	t.Run("invalid", func(t *testing.T) {
		r := NewReceiver(&plainCipher{}, nil, ReceiverConfig{})
		for _, p := range []*Package{nil, {Type: TypeText, PackageCount: 1}, {ID: "x", Type: "image", PackageCount: 1}, {ID: "x", Type: TypeText}} {
			if err := r.Receive(p); !errors.Is(err, ErrInvalidPackage) {
				t.Errorf("Receive(%+v) error = %v, want ErrInvalidPackage", p, err)
			}
		}
	})
}

func TestReceiver_RejectsOversizedPackageCount(t *testing.T) {
	r := NewReceiver(&plainCipher{}, nil, ReceiverConfig{})

	for _, count := range []int{MaxPackageCount + 1, 1e9, 1 << 62} {
		t.Run(fmt.Sprint(count), func(t *testing.T) {
			pkg := &Package{ID: "x", Type: TypeText, PackageNumber: 0, PackageCount: count}
			if err := r.Receive(pkg); !errors.Is(err, ErrInvalidPackage) {
				t.Errorf("error = %v, want ErrInvalidPackage", err)
			}
		})
	}
	if r.Pending() != 0 {
		t.Error("rejected package allocated a record")
	}
}

func TestSender_RejectsPayloadBeyondPackageLimit(t *testing.T) {
	s := NewSender(&plainCipher{}, EmitterFunc(func(*Package) {}),
		SenderConfig{MaxPackageSize: 1, Clock: clock.NewFake(epoch)})
	if err := s.Begin(&Item{Type: TypeText, Text: strings.Repeat("a", MaxPackageCount+1)}); err == nil {
		t.Fatal("expected error for a payload needing too many packages")
	}
	if s.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", s.Pending())
	}
}

func TestReceiver_DropsStalePartialTransfers(t *testing.T) {
	c := clock.NewFake(epoch)
	r := NewReceiver(&plainCipher{}, nil, ReceiverConfig{StaleAfter: time.Minute, MaxPending: 2, Clock: c})
	pkgs := capture(t, &Item{Type: TypeText, Text: "abcdef"}, 2)

	if err := r.Receive(pkgs[0]); err != nil {
		t.Fatal(err)
	}
	if err := r.Receive(&Package{ID: "other", Type: TypeText, PackageCount: 2}); err != nil {
		t.Fatal(err)
	}
	if err := r.Receive(&Package{ID: "third", Type: TypeText, PackageCount: 2}); !errors.Is(err, ErrInvalidPackage) {
		t.Errorf("error = %v, want ErrInvalidPackage while full", err)
	}

	c.Advance(30 * time.Second)
	if err := r.Receive(pkgs[1]); err != nil {
		t.Fatal(err)
	}

	c.Advance(45 * time.Second)
	if n := r.DropStale(); n != 1 {
		t.Errorf("DropStale = %d, want 1", n)
	}
	if r.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", r.Pending())
	}
	if err := r.Receive(pkgs[2]); err != nil {
		t.Errorf("live transfer lost its record: %v", err)
	}
}
