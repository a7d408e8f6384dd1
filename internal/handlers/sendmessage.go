package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/readify/gateway/internal/apperr"
	"github.com/readify/gateway/internal/dispatch"
	"github.com/readify/gateway/internal/protocol"
	"github.com/readify/gateway/internal/relay"
	"github.com/readify/gateway/internal/session"
)

var errTooManyStreams = errors.New("agent stream limit reached")

// SendMessage starts an agent relay for each "sendMessage" frame. Relays run
// on their own goroutines bound to the connection context, so the read loop
// continues while a stream is in flight.
type SendMessage struct {
	relay    *relay.Relay
	sessions *session.Registry
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewSendMessage creates the handler. maxStreams caps concurrent relays
// across all connections.
func NewSendMessage(r *relay.Relay, sessions *session.Registry, maxStreams int64, logger *slog.Logger) *SendMessage {
	if maxStreams <= 0 {
		maxStreams = 256
	}
	return &SendMessage{
		relay:    r,
		sessions: sessions,
		sem:      semaphore.NewWeighted(maxStreams),
		logger:   logger.With("component", "send-message"),
	}
}

// Handler returns the dispatch handler for "sendMessage".
func (s *SendMessage) Handler() dispatch.Handler {
	return dispatch.Typed(protocol.TypeSendMessage, s.handle)
}

func (s *SendMessage) handle(ctx context.Context, c *session.Conn, msg protocol.Message[protocol.SendMessageRequest]) error {
	id, err := identity(ctx)
	if err != nil {
		return err
	}
	data := msg.Data
	if strings.TrimSpace(data.Query) == "" {
		return apperr.Invalid("query is required")
	}
	if data.ProjectID <= 0 {
		return apperr.Invalid("projectId is required")
	}
	if !s.sem.TryAcquire(1) {
		s.logger.Warn("relay rejected", "user_id", id.UserID, "error", errTooManyStreams)
		return errTooManyStreams
	}

	req := relay.Request{
		Query:     data.Query,
		ProjectID: data.ProjectID,
		TaskType:  data.TaskType,
		MindMapID: data.MindMapID,
		UserID:    id.UserID,
	}
	connID := c.ID()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		// The per-message context ends when this handler returns; the relay
		// lives as long as the connection.
		s.relay.Run(c.Context(), req, func(env protocol.Envelope) {
			s.sessions.SendTo(connID, env)
		})
	}()
	return nil
}

// Wait blocks until every relay started by this handler has finished.
func (s *SendMessage) Wait() {
	s.wg.Wait()
}
