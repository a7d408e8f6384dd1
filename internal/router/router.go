// Package router accepts client WebSocket connections, authenticates them
// once at handshake and runs the per-connection read loop.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/readify/gateway/internal/apperr"
	"github.com/readify/gateway/internal/auth"
	"github.com/readify/gateway/internal/dispatch"
	"github.com/readify/gateway/internal/protocol"
	"github.com/readify/gateway/internal/session"
)

// Close reasons sent to clients.
const (
	supersededReason = "superseded by a newer connection"
	shutdownReason   = "server shutting down"
)

// Options configures the router.
type Options struct {
	AllowedOrigins  []string
	MaxMessageBytes int64
	CloseSuperseded bool
	PingInterval    time.Duration
	PongWait        time.Duration
	Session         session.Options
}

func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// Router owns the WebSocket endpoint.
type Router struct {
	baseCtx    context.Context
	verifier   auth.Verifier
	sessions   *session.Registry
	dispatcher *dispatch.Dispatcher
	upgrader   websocket.Upgrader
	opts       Options
	logger     *slog.Logger
}

// New creates a router. Every connection's context derives from baseCtx;
// canceling it closes all connections.
func New(baseCtx context.Context, verifier auth.Verifier, sessions *session.Registry, dispatcher *dispatch.Dispatcher, opts Options, logger *slog.Logger) *Router {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 * 1024
	}
	return &Router{
		baseCtx:    baseCtx,
		verifier:   verifier,
		sessions:   sessions,
		dispatcher: dispatcher,
		upgrader:   makeUpgrader(opts.AllowedOrigins),
		opts:       opts,
		logger:     logger.With("component", "router"),
	}
}

// ConnectedText is the data of the acknowledgement sent after registration.
func ConnectedText(userID int64) string {
	return fmt.Sprintf("Connection established successfully for user %d", userID)
}

// bearerToken extracts the handshake credential from the token query
// parameter, falling back to an Authorization: Bearer header.
func bearerToken(req *http.Request) string {
	if tok := req.URL.Query().Get("token"); tok != "" {
		return tok
	}
	h := req.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return ""
}

// HandleWS authenticates and upgrades a client connection, then serves it
// until it closes.
func (r *Router) HandleWS(w http.ResponseWriter, req *http.Request) {
	// Browsers cannot set headers on the WebSocket handshake, so the token
	// usually arrives in the query string. Keep query strings out of access logs.
	tokenStr := bearerToken(req)
	if tokenStr == "" {
		r.logger.Info("handshake rejected", "reason", "missing token", "remote", req.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	identity, err := r.verifier.Verify(req.Context(), tokenStr)
	if err != nil {
		r.logger.Info("handshake rejected", "reason", "invalid token", "remote", req.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("client websocket upgrade failed", "error", err)
		return
	}

	conn := session.NewConn(r.baseCtx, ws, identity, r.opts.Session)
	ws.SetReadLimit(r.opts.MaxMessageBytes)
	log := r.logger.With("conn_id", conn.ID(), "user_id", conn.UserID())

	if prev := r.sessions.Add(conn); prev != nil && r.opts.CloseSuperseded {
		log.Info("closing superseded connection", "old_conn_id", prev.ID())
		_ = prev.CloseWithReason(websocket.ClosePolicyViolation, supersededReason)
	}
	defer func() {
		r.sessions.Remove(conn.ID())
		_ = conn.Close()
		log.Info("client disconnected")
	}()

	stopShutdownClose := context.AfterFunc(conn.Context(), func() {
		_ = conn.CloseWithReason(websocket.CloseGoingAway, shutdownReason)
	})
	defer stopShutdownClose()

	cancelKeepalive := startKeepalive(ws, conn, r.opts.PingInterval, r.opts.PongWait)
	defer cancelKeepalive()

	log.Info("client connected")
	if err := conn.SendEnvelope(protocol.New(protocol.TypeConnected, ConnectedText(conn.UserID()))); err != nil {
		log.Warn("send connected ack", "error", err)
		return
	}

	// throttled is set while frames are being dropped; the client gets one
	// error per throttling window, not one per dropped frame.
	throttled := false
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			r.handleReadError(conn, log, err)
			return
		}
		// Any message resets the read deadline.
		_ = ws.SetReadDeadline(time.Now().Add(r.opts.PongWait))

		if !conn.Allow() {
			if !throttled {
				throttled = true
				log.Warn("client message rate limited")
				_ = conn.SendEnvelope(protocol.Error(apperr.MsgGeneric))
			}
			continue
		}
		throttled = false

		r.dispatcher.Dispatch(conn, msg)
	}
}

func (r *Router) handleReadError(conn *session.Conn, log *slog.Logger, err error) {
	if !conn.IsOpen() || isNormalClose(err) {
		log.Debug("client read ended", "error", err)
		return
	}
	log.Warn("client transport error", "error", err)
	_ = conn.SendEnvelope(protocol.Error("Transport error: " + err.Error()))
}

func isNormalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	}
	return false
}
