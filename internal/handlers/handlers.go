// Package handlers implements the gateway's message handlers.
package handlers

import (
	"context"
	"log/slog"

	"github.com/readify/gateway/internal/apperr"
	"github.com/readify/gateway/internal/auth"
	"github.com/readify/gateway/internal/broker"
	"github.com/readify/gateway/internal/dispatch"
	"github.com/readify/gateway/internal/relay"
	"github.com/readify/gateway/internal/session"
)

// Deps are the collaborators the handlers need.
type Deps struct {
	Sessions   *session.Registry
	Broker     broker.Broker
	Files      ProjectFileLister
	Relay      *relay.Relay
	MaxStreams int64
	Logger     *slog.Logger
}

// Register adds every handler to reg and returns the sendMessage handler so
// the caller can wait for in-flight relays on shutdown.
func Register(reg *dispatch.Registry, deps Deps) *SendMessage {
	send := NewSendMessage(deps.Relay, deps.Sessions, deps.MaxStreams, deps.Logger)
	reg.Register(Ping())
	reg.Register(Broadcast(deps.Broker))
	reg.Register(QueryProjectFiles(deps.Files))
	reg.Register(send.Handler())
	return send
}

// identity returns the identity bound to the current message.
func identity(ctx context.Context) (*auth.Identity, error) {
	id, ok := auth.IdentityFrom(ctx)
	if !ok {
		return nil, apperr.ErrUnauthenticated
	}
	return id, nil
}
