// Package config loads the relay and device client configuration from a
// JSON5 file with environment overrides.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Devices   DevicesConfig   `json:"devices"`
	Pairs     PairsConfig     `json:"pairs"`
	Tokens    TokensConfig    `json:"tokens"`
	Transfer  TransferConfig  `json:"transfer"`
	QR        QRConfig        `json:"qr"`
	Log       LogConfig       `json:"log"`
	Telemetry TelemetryConfig `json:"telemetry"`

	mu sync.RWMutex
}

type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Path           string   `json:"path"`                      // websocket endpoint
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // empty = allow all
	MaxMessageSize int64    `json:"max_message_size"`          // bytes per websocket frame
	RateLimitRPM   int      `json:"rate_limit_rpm"`            // token guesses per minute per IP, 0 = off
	RateLimitBurst int      `json:"rate_limit_burst"`
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
}

type DevicesConfig struct {
	OfflineTTLSec    int `json:"offline_ttl_sec"`
	SweepIntervalSec int `json:"sweep_interval_sec"`
}

type PairsConfig struct {
	IdleTTLSec       int `json:"idle_ttl_sec"`
	SweepIntervalSec int `json:"sweep_interval_sec"`
}

type TokensConfig struct {
	QRLifetimeSec         int `json:"qr_lifetime_sec"`
	ManualCodeLifetimeSec int `json:"manual_code_lifetime_sec"`
	MaxTokens             int `json:"max_tokens"`
}

type TransferConfig struct {
	MaxPackageSize   int `json:"max_package_size"`   // bytes of plaintext per package
	PacingIntervalMs int `json:"pacing_interval_ms"` // one package per interval
}

// QRConfig controls the QR codes a primary shows.
type QRConfig struct {
	// BaseURL is prefixed to the token in the QR payload, e.g.
	// "https://relay.example.com/connect/". Empty encodes the bare token.
	BaseURL string `json:"base_url,omitempty"`
	Size    int    `json:"size"` // PNG edge in pixels
}

type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // grpc (default), http
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Sealing adds 16 bytes of authenticator, base64 grows that by 4/3, and a
// data.send frame wraps it with ids, counters, the nonce and a sealed file
// name.
const (
	sealOverhead  = 16
	frameOverhead = 4096
)

// PackageFrameSize is the largest data.send frame a package of
// maxPackageSize plaintext bytes produces.
func PackageFrameSize(maxPackageSize int) int64 {
	sealed := int64(maxPackageSize) + sealOverhead
	return (sealed+2)/3*4 + frameOverhead
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           18790,
			Path:           "/ws",
			MaxMessageSize: 512 * 1024,
			RateLimitRPM:   30,
			RateLimitBurst: 5,
		},
		Devices: DevicesConfig{
			OfflineTTLSec:    120,
			SweepIntervalSec: 10,
		},
		Pairs: PairsConfig{
			IdleTTLSec:       300,
			SweepIntervalSec: 30,
		},
		Tokens: TokensConfig{
			QRLifetimeSec:         120,
			ManualCodeLifetimeSec: 120,
			MaxTokens:             10000,
		},
		Transfer: TransferConfig{
			MaxPackageSize:   200000,
			PacingIntervalMs: 10,
		},
		QR: QRConfig{
			Size: 256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "cliprelay",
		},
	}
}

// DefaultPath returns ~/.cliprelay/config.json5, or CLIPRELAY_CONFIG if set.
func DefaultPath() string {
	if p := os.Getenv("CLIPRELAY_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json5"
	}
	return filepath.Join(home, ".cliprelay", "config.json5")
}

// Load reads path on top of the defaults and applies env overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as indented JSON, which is valid JSON5.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// ApplyEnvOverrides applies CLIPRELAY_HOST, CLIPRELAY_PORT and
// CLIPRELAY_LOG_LEVEL.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("CLIPRELAY_HOST"); v != "" {
		c.Gateway.Host = v
	}
	if v := os.Getenv("CLIPRELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("CLIPRELAY_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

// Validate rejects values the relay cannot run with.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	if !strings.HasPrefix(c.Gateway.Path, "/") {
		errs = append(errs, fmt.Errorf("gateway.path %q must start with /", c.Gateway.Path))
	}
	if (c.Gateway.TLSCert == "") != (c.Gateway.TLSKey == "") {
		errs = append(errs, errors.New("gateway.tls_cert and gateway.tls_key must be set together"))
	}
	positive := []struct {
		name  string
		value int64
	}{
		{"gateway.max_message_size", c.Gateway.MaxMessageSize},
		{"devices.offline_ttl_sec", int64(c.Devices.OfflineTTLSec)},
		{"devices.sweep_interval_sec", int64(c.Devices.SweepIntervalSec)},
		{"pairs.idle_ttl_sec", int64(c.Pairs.IdleTTLSec)},
		{"pairs.sweep_interval_sec", int64(c.Pairs.SweepIntervalSec)},
		{"tokens.qr_lifetime_sec", int64(c.Tokens.QRLifetimeSec)},
		{"tokens.manual_code_lifetime_sec", int64(c.Tokens.ManualCodeLifetimeSec)},
		{"tokens.max_tokens", int64(c.Tokens.MaxTokens)},
		{"transfer.max_package_size", int64(c.Transfer.MaxPackageSize)},
		{"transfer.pacing_interval_ms", int64(c.Transfer.PacingIntervalMs)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.value))
		}
	}
	if c.Transfer.MaxPackageSize > 0 && c.Gateway.MaxMessageSize > 0 {
		if need := PackageFrameSize(c.Transfer.MaxPackageSize); need > c.Gateway.MaxMessageSize {
			errs = append(errs, fmt.Errorf("transfer.max_package_size %d needs gateway.max_message_size of at least %d, got %d",
				c.Transfer.MaxPackageSize, need, c.Gateway.MaxMessageSize))
		}
	}
	if c.Gateway.RateLimitRPM < 0 {
		errs = append(errs, errors.New("gateway.rate_limit_rpm must not be negative"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q unknown", c.Log.Level))
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol %q unknown", c.Telemetry.Protocol))
	}
	return errors.Join(errs...)
}

// Addr returns host:port for the listener.
func (c *Config) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}

// MaxMessageSize is the read limit for one websocket frame.
func (c *Config) MaxMessageSize() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Gateway.MaxMessageSize
}

// AllowedOrigins returns a copy of the browser origins allowed to connect.
func (c *Config) AllowedOrigins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.Gateway.AllowedOrigins)
}

// GatewaySettings returns a copy of the gateway section.
func (c *Config) GatewaySettings() GatewayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g := c.Gateway
	g.AllowedOrigins = slices.Clone(g.AllowedOrigins)
	return g
}

// OfflineTTL is how long a disconnected device may reconnect.
func (c *Config) OfflineTTL() time.Duration { return seconds(c.Devices.OfflineTTLSec) }

func (c *Config) DeviceSweepInterval() time.Duration { return seconds(c.Devices.SweepIntervalSec) }

// PairIdleTTL is how long a pair without any online device survives.
func (c *Config) PairIdleTTL() time.Duration { return seconds(c.Pairs.IdleTTLSec) }

func (c *Config) PairSweepInterval() time.Duration { return seconds(c.Pairs.SweepIntervalSec) }

func (c *Config) QRLifetime() time.Duration { return seconds(c.Tokens.QRLifetimeSec) }

func (c *Config) ManualCodeLifetime() time.Duration { return seconds(c.Tokens.ManualCodeLifetimeSec) }

func (c *Config) PacingInterval() time.Duration {
	return time.Duration(c.Transfer.PacingIntervalMs) * time.Millisecond
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ReplaceFrom copies every setting of src into c.
func (c *Config) ReplaceFrom(src *Config) {
	src.mu.RLock()
	gateway, devices, pairs, tokens := src.Gateway, src.Devices, src.Pairs, src.Tokens
	transfer, qr, log, telemetry := src.Transfer, src.QR, src.Log, src.Telemetry
	src.mu.RUnlock()

	c.mu.Lock()
	c.Gateway, c.Devices, c.Pairs, c.Tokens = gateway, devices, pairs, tokens
	c.Transfer, c.QR, c.Log, c.Telemetry = transfer, qr, log, telemetry
	c.mu.Unlock()
}

// Hash returns a short content hash, used to tell whether a reload changed
// anything.
func (c *Config) Hash() string {
	c.mu.RLock()
	data, _ := json.Marshal(c)
	c.mu.RUnlock()
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
