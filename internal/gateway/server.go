// Package gateway is the relay's WebSocket front: it upgrades device
// connections, funnels their events through a single dispatcher goroutine
// and serves the health endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/cliprelay/internal/config"
	"github.com/nextlevelbuilder/cliprelay/pkg/protocol"
)

// Census is a snapshot of relay occupancy.
type Census struct {
	Devices        int `json:"devices"`
	OfflineDevices int `json:"offlineDevices"`
	ActivePairs    int `json:"activePairs"`
	IdlePairs      int `json:"idlePairs"`
	Tokens         int `json:"tokens"`
}

// Server accepts device connections.
type Server struct {
	cfg    *config.Config
	router *Router
	census func() Census

	mux      *http.ServeMux
	upgrader websocket.Upgrader
	ctx      context.Context // outlives requests; ends on shutdown

	mu      sync.Mutex
	clients map[string]*Client
	wg      sync.WaitGroup
}

// NewServer creates a server dispatching through router.
func NewServer(cfg *config.Config, router *Router) *Server {
	s := &Server{
		cfg:     cfg,
		router:  router,
		mux:     http.NewServeMux(),
		ctx:     context.Background(),
		clients: make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.mux.HandleFunc("GET "+cfg.GatewaySettings().Path, s.handleWebSocket)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

// SetCensus sets the source of /health counts.
func (s *Server) SetCensus(f func() Census) { s.census = f }

// Handle mounts an extra HTTP handler, e.g. the QR image endpoint.
func (s *Server) Handle(pattern string, h http.Handler) { s.mux.Handle(pattern, h) }

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Clients returns the number of open WebSocket connections.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Start listens on the configured address until ctx is done, then closes
// every client and drains in-flight connections.
func (s *Server) Start(ctx context.Context) error {
	s.ctx = ctx
	gw := s.cfg.GatewaySettings()
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", srv.Addr, "path", gw.Path)
		var err error
		if gw.TLSCert != "" {
			err = srv.ListenAndServeTLS(gw.TLSCert, gw.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.closeClients()
	err := srv.Shutdown(shutdownCtx)
	s.wg.Wait()
	slog.Info("gateway stopped")
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(conn, remoteIP(r), s.router, s.cfg.MaxMessageSize())
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.wg.Add(1)

	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		s.wg.Done()
	}()

	slog.Debug("websocket connected", "client", c.id, "remote", c.remoteIP)
	c.Run(s.ctx)
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":   "ok",
		"protocol": protocol.ProtocolVersion,
		"clients":  s.Clients(),
	}
	if s.census != nil {
		body["census"] = s.census()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.AllowedOrigins()
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	slog.Warn("security.origin_rejected", "origin", origin, "remote", r.RemoteAddr)
	return false
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
