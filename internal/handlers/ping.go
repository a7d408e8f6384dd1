package handlers

import (
	"context"
	"encoding/json"

	"github.com/readify/gateway/internal/dispatch"
	"github.com/readify/gateway/internal/protocol"
	"github.com/readify/gateway/internal/session"
)

// PongText is the data of every pong reply.
const PongText = "Server is alive"

// Ping answers "ping" with a pong on the same connection.
func Ping() dispatch.Handler {
	return dispatch.Typed(protocol.TypePing, func(_ context.Context, c *session.Conn, _ protocol.Message[json.RawMessage]) error {
		return c.SendEnvelope(protocol.New(protocol.TypePong, PongText))
	})
}
