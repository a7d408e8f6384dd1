package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/readify/gateway/internal/apperr"
	"github.com/readify/gateway/internal/broker"
	"github.com/readify/gateway/internal/dispatch"
	"github.com/readify/gateway/internal/protocol"
	"github.com/readify/gateway/internal/session"
)

// Broadcast relays the sender's text to every connected client, the sender
// included.
func Broadcast(b broker.Broker) dispatch.Handler {
	return dispatch.Typed(protocol.TypeBroadcast, func(ctx context.Context, c *session.Conn, msg protocol.Message[json.RawMessage]) error {
		id, err := identity(ctx)
		if err != nil {
			return err
		}
		text := broadcastText(msg.Data)
		if text == "" {
			return apperr.Invalid("broadcast text is required")
		}
		env := protocol.New(protocol.TypeBroadcast, fmt.Sprintf("Message from user %d: %s", id.UserID, text))
		return b.Publish(ctx, env)
	})
}

// broadcastText accepts a JSON string or any other JSON value, which is
// forwarded in its compact text form.
func broadcastText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}
