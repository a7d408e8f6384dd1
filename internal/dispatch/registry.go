// Package dispatch routes inbound frames to the handler registered for their
// message type.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/readify/gateway/internal/protocol"
	"github.com/readify/gateway/internal/session"
)

// Handler processes one message type. raw is the complete inbound frame.
// Replies are written to c; a returned error is reported to the client as
// an error envelope.
type Handler interface {
	Type() string
	Handle(ctx context.Context, c *session.Conn, raw []byte) error
}

// Typed adapts fn into a Handler that decodes the frame's data into T
// before calling it.
func Typed[T any](msgType string, fn func(ctx context.Context, c *session.Conn, msg protocol.Message[T]) error) Handler {
	return &typedHandler[T]{msgType: msgType, fn: fn}
}

type typedHandler[T any] struct {
	msgType string
	fn      func(ctx context.Context, c *session.Conn, msg protocol.Message[T]) error
}

func (h *typedHandler[T]) Type() string { return h.msgType }

func (h *typedHandler[T]) Handle(ctx context.Context, c *session.Conn, raw []byte) error {
	msg, err := protocol.Decode[T](raw)
	if err != nil {
		return err
	}
	return h.fn(ctx, c, msg)
}

// Registry maps message types to handlers. It is populated at startup and
// read-only once frozen.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	frozen   bool
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds h under h.Type(). Panics on an empty or duplicate type, or
// after Freeze.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("handler registry is frozen, cannot register: %s", h.Type()))
	}
	if h.Type() == "" {
		panic("handler registered with empty message type")
	}
	if _, exists := r.handlers[h.Type()]; exists {
		panic(fmt.Sprintf("handler already registered for type: %s", h.Type()))
	}
	r.handlers[h.Type()] = h
}

// Freeze rejects further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup returns the handler for msgType.
func (r *Registry) Lookup(msgType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[msgType]
	return h, ok
}

// Types returns the registered message types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
