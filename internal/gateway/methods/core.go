package methods

import (
	"log/slog"

	"github.com/nextlevelbuilder/cliprelay/internal/clock"
	"github.com/nextlevelbuilder/cliprelay/internal/config"
	"github.com/nextlevelbuilder/cliprelay/internal/device"
	"github.com/nextlevelbuilder/cliprelay/internal/gateway"
	"github.com/nextlevelbuilder/cliprelay/internal/pairing"
	"github.com/nextlevelbuilder/cliprelay/internal/token"
)

// Core bundles the state the event handlers mutate. It is only touched
// from the router goroutine.
type Core struct {
	Devices *device.Registry
	Pairs   *pairing.Manager
	Tokens  *token.Service
}

// NewCore builds the relay state from cfg. A nil clk uses the wall clock.
func NewCore(cfg *config.Config, clk clock.Clock) (*Core, error) {
	if clk == nil {
		clk = clock.Real()
	}
	registry := device.NewRegistry(device.Config{
		OfflineTTL:    cfg.OfflineTTL(),
		SweepInterval: cfg.DeviceSweepInterval(),
		Clock:         clk,
	})
	tokens, err := token.NewService(token.Config{
		QRLifetime:         cfg.QRLifetime(),
		ManualCodeLifetime: cfg.ManualCodeLifetime(),
		MaxTokens:          cfg.Tokens.MaxTokens,
		Clock:              clk,
	})
	if err != nil {
		return nil, err
	}
	pairs := pairing.NewManager(registry, pairing.Config{
		IdleTTL:       cfg.PairIdleTTL(),
		SweepInterval: cfg.PairSweepInterval(),
		Clock:         clk,
	})
	return &Core{Devices: registry, Pairs: pairs, Tokens: tokens}, nil
}

// Register installs every device event handler on router.
func (c *Core) Register(router *gateway.Router) {
	NewDeviceMethods(c).Register(router)
	NewPairingMethods(c).Register(router)
	NewRelayMethods(c).Register(router)
}

// Census reports current occupancy.
func (c *Core) Census() gateway.Census {
	return gateway.Census{
		Devices:        c.Devices.Online(),
		OfflineDevices: c.Devices.Offline(),
		ActivePairs:    c.Pairs.Active(),
		IdlePairs:      c.Pairs.Idle(),
		Tokens:         c.Tokens.Len(),
	}
}

// logCensus logs a state change together with the occupancy after it.
func (c *Core) logCensus(msg string, args ...any) {
	census := c.Census()
	args = append(args,
		"devices", census.Devices,
		"offline_devices", census.OfflineDevices,
		"active_pairs", census.ActivePairs,
		"idle_pairs", census.IdlePairs,
	)
	slog.Info(msg, args...)
}

// primaryPair returns the pair in which client holds the primary slot.
func (c *Core) primaryPair(client *gateway.Client) (*pairing.Pair, bool) {
	p, ok := c.Pairs.PairByConnectionID(client.ID())
	if !ok {
		return nil, false
	}
	d, ok := p.PrimaryDevice()
	if !ok || d.ConnectionID() != client.ID() {
		return nil, false
	}
	return p, true
}

func millis(t *token.Token) int64 { return t.Lifetime.Milliseconds() }
