// Package token issues the short-lived secrets a secondary device presents
// to join a pair: a long QR token scanned from the primary's screen, or a
// short manual code typed by a human.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nextlevelbuilder/cliprelay/internal/clock"
	"github.com/nextlevelbuilder/cliprelay/internal/ids"
	"github.com/nextlevelbuilder/cliprelay/internal/pairing"
)

const (
	QRLength         = 32
	ManualCodeLength = 6

	DefaultQRLifetime         = 2 * time.Minute
	DefaultManualCodeLifetime = 2 * time.Minute
	DefaultMaxTokens          = 10000
	DefaultSweepInterval      = 30 * time.Second

	maxIssueAttempts = 5
)

// ErrIndexFull is returned by Issue when MaxTokens live tokens exist.
var ErrIndexFull = errors.New("token index full")

// Token binds a random value to the pair it admits a secondary into.
type Token struct {
	Value     string
	Type      pairing.Method
	ExpiresAt time.Time
	Lifetime  time.Duration
	Pair      *pairing.Pair
}

// Config configures a Service.
type Config struct {
	QRLifetime         time.Duration
	ManualCodeLifetime time.Duration
	MaxTokens          int
	SweepInterval      time.Duration
	Clock              clock.Clock
	IDs                ids.Generator
}

type issued struct {
	pair   string
	method pairing.Method
}

// Service is the token index. It holds at most MaxTokens tokens and never
// evicts a live one to make room: Issue fails instead. Each pair holds at
// most one token per type; issuing another revokes the previous one.
type Service struct {
	cfg Config

	mu      sync.Mutex
	tokens  *lru.Cache[string, *Token]
	current map[issued]string
}

// NewService creates a token service. Zero config fields take defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.QRLifetime <= 0 {
		cfg.QRLifetime = DefaultQRLifetime
	}
	if cfg.ManualCodeLifetime <= 0 {
		cfg.ManualCodeLifetime = DefaultManualCodeLifetime
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
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

	s := &Service{cfg: cfg, current: make(map[issued]string)}
	cache, err := lru.NewWithEvict(cfg.MaxTokens, s.dropped)
	if err != nil {
		return nil, fmt.Errorf("create token index: %w", err)
	}
	s.tokens = cache
	return s, nil
}

// dropped runs under s.mu from inside the cache's Remove.
func (s *Service) dropped(value string, t *Token) {
	key := issued{pair: t.Pair.ID(), method: t.Type}
	if s.current[key] == value {
		delete(s.current, key)
	}
	slog.Debug("token dropped", "type", t.Type, "pair", t.Pair.ID())
}

// Issue creates and indexes a fresh token of the given type for pair.
func (s *Service) Issue(pair *pairing.Pair, method pairing.Method) (*Token, error) {
	length, lifetime, err := s.shape(method)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := issued{pair: pair.ID(), method: method}
	if prev, ok := s.current[key]; ok {
		s.tokens.Remove(prev)
	}
	if s.tokens.Len() >= s.cfg.MaxTokens {
		s.sweepLocked(s.cfg.Clock.Now())
	}
	if s.tokens.Len() >= s.cfg.MaxTokens {
		slog.Warn("security.token_index_full", "pair", pair.ID(), "type", method, "max", s.cfg.MaxTokens)
		return nil, ErrIndexFull
	}

	for range maxIssueAttempts {
		value, err := s.cfg.IDs.NewCode(length)
		if err != nil {
			return nil, fmt.Errorf("generate %s token: %w", method, err)
		}
		if s.tokens.Contains(value) {
			continue
		}
		t := &Token{
			Value:     value,
			Type:      method,
			Lifetime:  lifetime,
			ExpiresAt: s.cfg.Clock.Now().Add(lifetime),
			Pair:      pair,
		}
		s.tokens.Add(value, t)
		s.current[key] = value
		return t, nil
	}
	return nil, fmt.Errorf("generate %s token: %d collisions in a row", method, maxIssueAttempts)
}

func (s *Service) shape(method pairing.Method) (int, time.Duration, error) {
	switch method {
	case pairing.MethodQR:
		return QRLength, s.cfg.QRLifetime, nil
	case pairing.MethodManualCode:
		return ManualCodeLength, s.cfg.ManualCodeLifetime, nil
	default:
		return 0, 0, fmt.Errorf("unknown token type %q", method)
	}
}

// Resolve finds a live token. Expired tokens and tokens whose pair has been
// closed resolve as not found even before a sweep removes them. Manual
// codes are matched case-insensitively.
func (s *Service) Resolve(value string) (*Token, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens.Get(value)
	if !ok {
		t, ok = s.tokens.Get(strings.ToUpper(value))
		if !ok || t.Type != pairing.MethodManualCode {
			return nil, false
		}
	}
	if !s.cfg.Clock.Now().Before(t.ExpiresAt) || t.Pair.Closed() {
		return nil, false
	}
	return t, true
}

// Revoke removes a token so it cannot be used again.
func (s *Service) Revoke(value string) {
	s.mu.Lock()
	s.tokens.Remove(value)
	s.mu.Unlock()
}

// Len returns the number of indexed tokens, expired ones included.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.Len()
}

// Sweep drops expired tokens and tokens of closed pairs.
func (s *Service) Sweep() {
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if removed := s.sweepLocked(now); removed > 0 {
		slog.Debug("tokens swept", "removed", removed, "remaining", s.tokens.Len())
	}
}

func (s *Service) sweepLocked(now time.Time) int {
	removed := 0
	for _, value := range s.tokens.Keys() {
		t, ok := s.tokens.Peek(value)
		if !ok {
			continue
		}
		if now.Before(t.ExpiresAt) && !t.Pair.Closed() {
			continue
		}
		s.tokens.Remove(value)
		removed++
	}
	return removed
}

// Run sweeps on every tick until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := s.cfg.Clock.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.Sweep()
		}
	}
}
