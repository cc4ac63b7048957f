package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nextlevelbuilder/cliprelay/internal/tracing"
	"github.com/nextlevelbuilder/cliprelay/pkg/protocol"
)

// Handler processes one inbound device event. Handlers run one at a time
// on the router goroutine and must not block.
type Handler func(ctx context.Context, client *Client, payload json.RawMessage)

// LifecycleHandler is called when a client connects or disconnects.
type LifecycleHandler func(ctx context.Context, client *Client)

type envelopeKind int

const (
	kindConnect envelopeKind = iota
	kindFrame
	kindDisconnect
)

type envelope struct {
	kind   envelopeKind
	client *Client
	frame  *protocol.InboundFrame
}

const inboxSize = 1024

// Router maps event names to handlers and serializes every connect, frame
// and disconnect through a single goroutine, so handlers never observe a
// half-applied state change.
type Router struct {
	handlers     map[string]Handler
	limited      map[string]bool
	limiter      *RateLimiter
	onConnect    LifecycleHandler
	onDisconnect LifecycleHandler

	inbox chan envelope
}

// NewRouter creates a router. limiter guards events registered with
// RegisterLimited; nil disables limiting.
func NewRouter(limiter *RateLimiter) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		limited:  make(map[string]bool),
		limiter:  limiter,
		inbox:    make(chan envelope, inboxSize),
	}
}

// Register adds an event handler.
func (r *Router) Register(event string, handler Handler) {
	r.handlers[event] = handler
}

// RegisterLimited adds a handler for an event that presents a guessable
// secret or mints a new one. Such events are rate limited per remote IP.
func (r *Router) RegisterLimited(event string, handler Handler) {
	r.handlers[event] = handler
	r.limited[event] = true
}

// OnConnect sets the handler for new connections.
func (r *Router) OnConnect(h LifecycleHandler) { r.onConnect = h }

// OnDisconnect sets the handler for dropped connections.
func (r *Router) OnDisconnect(h LifecycleHandler) { r.onDisconnect = h }

// submit queues an envelope, blocking while the inbox is full. Returns
// false if ctx ended first.
func (r *Router) submit(ctx context.Context, env envelope) bool {
	select {
	case r.inbox <- env:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run dispatches queued envelopes until ctx is done.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-r.inbox:
			r.dispatch(ctx, env)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, env envelope) {
	switch env.kind {
	case kindConnect:
		if r.onConnect != nil {
			r.onConnect(ctx, env.client)
		}
	case kindDisconnect:
		if r.onDisconnect != nil {
			r.onDisconnect(ctx, env.client)
		}
	case kindFrame:
		r.handle(ctx, env.client, env.frame)
	}
}

func (r *Router) handle(ctx context.Context, client *Client, frame *protocol.InboundFrame) {
	ctx, span := tracing.StartEvent(ctx, frame.Event, client.id)
	defer span.End()

	handler, ok := r.handlers[frame.Event]
	if !ok {
		slog.Warn("unknown event", "event", frame.Event, "client", client.id)
		client.Fail(ctx, protocol.ErrInvalidRequest, "unknown event: "+frame.Event)
		return
	}

	if r.limited[frame.Event] && r.limiter != nil && !r.limiter.Allow(client.remoteIP) {
		client.Fail(ctx, protocol.ErrRateLimited, "too many attempts, slow down")
		return
	}

	slog.Debug("handling event", "event", frame.Event, "client", client.id)
	handler(ctx, client, frame.Payload)
}
