// Package session tracks live client connections and the users behind them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/readify/gateway/internal/auth"
	"github.com/readify/gateway/internal/protocol"
)

// ErrClosed is returned when writing to a connection that has been closed.
var ErrClosed = errors.New("connection closed")

// Transport is the subset of *websocket.Conn a Conn writes through.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Options tune a single connection.
type Options struct {
	WriteTimeout      time.Duration
	MessagesPerSecond float64 // inbound frames; 0 disables limiting
	Burst             int
}

// Conn is a handle to one authenticated client connection. Writes are
// serialized by the connection's own mutex so handlers and relays running
// on other goroutines can send safely.
type Conn struct {
	id       string
	userID   int64
	identity *auth.Identity

	t            Transport
	mu           sync.Mutex // serializes writes to t
	writeTimeout time.Duration
	limiter      *rate.Limiter

	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewConn wraps t for the given identity. The connection context derives
// from parent and is canceled by Close.
func NewConn(parent context.Context, t Transport, id *auth.Identity, opts Options) *Conn {
	ctx, cancel := context.WithCancel(parent)
	c := &Conn{
		id:           uuid.New().String(),
		identity:     id,
		t:            t,
		writeTimeout: opts.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	if id != nil {
		c.userID = id.UserID
	}
	if opts.MessagesPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), burst)
	}
	return c
}

func (c *Conn) ID() string { return c.id }
func (c *Conn) UserID() int64 { return c.userID }
func (c *Conn) Identity() *auth.Identity { return c.identity }
func (c *Conn) Context() context.Context { return c.ctx }
func (c *Conn) IsOpen() bool { return !c.closed.Load() }
func (c *Conn) String() string { return fmt.Sprintf("conn %s (user %d)", c.id, c.userID) }

// Allow reports whether another inbound frame may be processed now.
func (c *Conn) Allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// Send writes one text frame.
func (c *Conn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.t.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.t.WriteMessage(websocket.TextMessage, data)
}

// SendEnvelope marshals env and writes it.
func (c *Conn) SendEnvelope(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", env.Type, err)
	}
	return c.Send(data)
}

// Ping writes a ping control frame.
func (c *Conn) Ping(deadline time.Time) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t.WriteControl(websocket.PingMessage, nil, deadline)
}

// Close cancels the connection context and closes the transport. Repeated
// calls are no-ops.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	return c.t.Close()
}

// CloseWithReason sends a close frame carrying code and text before closing.
func (c *Conn) CloseWithReason(code int, text string) error {
	if c.closed.Load() {
		return nil
	}
	c.mu.Lock()
	_ = c.t.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.Close()
}
