package client

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/cliprelay/internal/config"
	"github.com/nextlevelbuilder/cliprelay/internal/crypto"
	"github.com/nextlevelbuilder/cliprelay/internal/gateway"
	"github.com/nextlevelbuilder/cliprelay/internal/gateway/methods"
	"github.com/nextlevelbuilder/cliprelay/pkg/transfer"
)

func startRelay(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	core, err := methods.NewCore(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	router := gateway.NewRouter(nil)
	core.Register(router)

	ctx, cancel := context.WithCancel(context.Background())
	go router.Run(ctx)
	hs := httptest.NewServer(gateway.NewServer(cfg, router).Handler())
	t.Cleanup(func() {
		hs.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(hs.URL, "http") + cfg.Gateway.Path
}

// device is a Client whose callbacks feed channels.
type device struct {
	*Client
	connected    chan string // QR token
	manualCode   chan string
	confirmation chan string
	paired       chan string
	peer         chan bool
	items        chan *transfer.Item
	delivered    chan string
	errors       chan string
}

func newDevice(t *testing.T, url string) *device {
	t.Helper()
	return dialDevice(t, url, crypto.KeyPair{})
}

func dialDevice(t *testing.T, url string, keys crypto.KeyPair) *device {
	t.Helper()
	d := &device{
		connected:    make(chan string, 4),
		manualCode:   make(chan string, 4),
		confirmation: make(chan string, 4),
		paired:       make(chan string, 4),
		peer:         make(chan bool, 4),
		items:        make(chan *transfer.Item, 4),
		delivered:    make(chan string, 4),
		errors:       make(chan string, 4),
	}
	cfg := Config{
		URL:      url,
		Keys:     keys,
		Transfer: transfer.SenderConfig{MaxPackageSize: 1000, Interval: time.Millisecond},
		Callbacks: Callbacks{
			Connected:    func(_, token string, _ time.Duration) { d.connected <- token },
			ManualCode:   func(code string, _ time.Duration) { d.manualCode <- code },
			Confirmation: func(code string) { d.confirmation <- code },
			Paired:       func(key string) { d.paired <- key },
			Peer:         func(online bool) { d.peer <- online },
			Item:         func(item *transfer.Item) { d.items <- item },
			Delivered:    func(id string) { d.delivered <- id },
			Error:        func(event, _ string) { d.errors <- event },
		},
	}
	c, err := Dial(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	d.Client = c

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func pairQR(t *testing.T, primary, secondary *device) {
	t.Helper()
	if err := primary.ConnectPrimary(); err != nil {
		t.Fatal(err)
	}
	token := recv(t, primary.connected, "qr token")
	if err := secondary.JoinQR(token); err != nil {
		t.Fatal(err)
	}
	if key := recv(t, secondary.paired, "secondary paired"); key != primary.PublicKey() {
		t.Errorf("secondary paired with %q", key)
	}
	if key := recv(t, primary.paired, "primary paired"); key != secondary.PublicKey() {
		t.Errorf("primary paired with %q", key)
	}
}

func TestSendBeforePairing(t *testing.T) {
	d := newDevice(t, startRelay(t))
	if err := d.SendText("hi"); err != ErrNotPaired {
		t.Errorf("SendText = %v, want ErrNotPaired", err)
	}
}

func TestQRPairingTransfersBothWays(t *testing.T) {
	url := startRelay(t)
	primary := newDevice(t, url)
	secondary := newDevice(t, url)
	pairQR(t, primary, secondary)

	text := strings.Repeat("clipboard ", 350) // several packages
	if err := primary.SendText(text); err != nil {
		t.Fatal(err)
	}
	item := recv(t, secondary.items, "text item")
	if item.Type != transfer.TypeText || item.Text != text {
		t.Errorf("secondary got %s of %d chars", item.Type, len(item.Text))
	}
	if id := recv(t, primary.delivered, "delivery ack"); id != item.ID {
		t.Errorf("ack for %q, want %q", id, item.ID)
	}

	data := bytes.Repeat([]byte{0, 1, 2, 0xff}, 900)
	doc := &transfer.Item{Type: transfer.TypeDocument, Document: &transfer.Document{FileName: "notes.bin", Data: data}}
	if err := secondary.Send(doc); err != nil {
		t.Fatal(err)
	}
	got := recv(t, primary.items, "document item")
	if got.Document == nil || got.Document.FileName != "notes.bin" || !bytes.Equal(got.Document.Data, data) {
		t.Errorf("primary got document %+v", got.Document)
	}
}

func TestManualCodePairing(t *testing.T) {
	url := startRelay(t)
	primary := newDevice(t, url)
	secondary := newDevice(t, url)

	primary.ConnectPrimary()
	recv(t, primary.connected, "qr token")
	primary.RequestManualCode()
	code := recv(t, primary.manualCode, "manual code")

	secondary.JoinManualCode(strings.ToLower(code))
	shown := recv(t, secondary.confirmation, "secondary confirmation code")
	if got := recv(t, primary.confirmation, "primary confirmation code"); got != shown {
		t.Fatalf("primary shows %q, secondary %q", got, shown)
	}

	primary.ConfirmManualCode()
	recv(t, secondary.paired, "secondary paired")
	recv(t, primary.paired, "primary paired")

	secondary.Send(&transfer.Item{Type: transfer.TypeURL, Text: "https://example.com"})
	if item := recv(t, primary.items, "url item"); item.Text != "https://example.com" {
		t.Errorf("url = %q", item.Text)
	}
}

func TestResumeAfterDrop(t *testing.T) {
	url := startRelay(t)
	primary := newDevice(t, url)
	secondary := newDevice(t, url)
	pairQR(t, primary, secondary)

	deviceID, peerKey := secondary.DeviceID(), secondary.PeerPublicKey()
	keys := secondary.cfg.Keys
	secondary.conn.Close()
	if online := recv(t, primary.peer, "peer offline"); online {
		t.Fatal("peer reported online after drop")
	}

	again := dialDevice(t, url, keys)
	if err := again.Resume(deviceID, peerKey); err != nil {
		t.Fatal(err)
	}
	if online := recv(t, again.peer, "device.reconnected"); !online {
		t.Error("primary reported offline")
	}
	if online := recv(t, primary.peer, "peer back"); !online {
		t.Error("peer reported offline after resume")
	}

	primary.SendText("still here")
	if item := recv(t, again.items, "item after resume"); item.Text != "still here" {
		t.Errorf("text = %q", item.Text)
	}
}

func TestJoinWithUnknownToken(t *testing.T) {
	d := newDevice(t, startRelay(t))
	d.JoinQR("NOPE")
	if ev := recv(t, d.errors, "error event"); ev != "error.qr.token_not_found" {
		t.Errorf("error = %s", ev)
	}
}
