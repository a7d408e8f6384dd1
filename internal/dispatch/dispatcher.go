package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/readify/gateway/internal/apperr"
	"github.com/readify/gateway/internal/auth"
	"github.com/readify/gateway/internal/protocol"
	"github.com/readify/gateway/internal/session"
)

// errPanic marks a recovered handler panic. It maps to the generic message.
var errPanic = errors.New("handler panicked")

// Dispatcher resolves the caller identity, routes a frame to its handler and
// turns every failure into an error envelope on the same connection.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher freezes reg and returns a dispatcher over it.
func NewDispatcher(reg *Registry, logger *slog.Logger) *Dispatcher {
	reg.Freeze()
	return &Dispatcher{
		registry: reg,
		logger:   logger.With("component", "dispatch"),
	}
}

// Dispatch processes one inbound frame from c. It never returns an error:
// failures are reported to the client and the connection stays open.
func (d *Dispatcher) Dispatch(c *session.Conn, raw []byte) {
	id := resolveIdentity(c)
	if id == nil {
		d.reply(c, "", apperr.ErrUnauthenticated)
		return
	}

	// The identity binding lives only as long as this message.
	ctx, cancel := context.WithCancel(c.Context())
	defer cancel()
	ctx = auth.WithIdentity(ctx, id)

	msgType, err := protocol.PeekType(raw)
	if err != nil {
		d.reply(c, "", err)
		return
	}

	h, ok := d.registry.Lookup(msgType)
	if !ok {
		d.reply(c, msgType, &apperr.UnknownTypeError{Type: msgType})
		return
	}

	if err := d.invoke(ctx, h, c, raw); err != nil {
		d.reply(c, msgType, err)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, c *session.Conn, raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic", "type", h.Type(), "conn_id", c.ID(),
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = errPanic
		}
	}()
	return h.Handle(ctx, c, raw)
}

func (d *Dispatcher) reply(c *session.Conn, msgType string, err error) {
	d.logger.Warn("message failed", "conn_id", c.ID(), "user_id", c.UserID(), "type", msgType, "error", err)
	if sendErr := c.SendEnvelope(protocol.Error(apperr.FriendlyMessage(err))); sendErr != nil {
		d.logger.Debug("error reply dropped", "conn_id", c.ID(), "error", sendErr)
	}
}

// resolveIdentity prefers the verified identity attached at handshake and
// falls back to the bare user id.
func resolveIdentity(c *session.Conn) *auth.Identity {
	if id := c.Identity(); id != nil {
		return id
	}
	if c.UserID() != 0 {
		return &auth.Identity{UserID: c.UserID()}
	}
	return nil
}
