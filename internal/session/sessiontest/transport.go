// Package sessiontest provides an in-memory Transport for tests.
package sessiontest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/readify/gateway/internal/auth"
	"github.com/readify/gateway/internal/protocol"
	"github.com/readify/gateway/internal/session"
)

// Transport records every frame written to it.
type Transport struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	closeMsg []byte
	notify   chan struct{}

	// FailWrites makes every WriteMessage return an error.
	FailWrites bool
}

// NewTransport returns an empty recording transport.
func NewTransport() *Transport {
	return &Transport{notify: make(chan struct{}, 1024)}
}

func (t *Transport) WriteMessage(_ int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailWrites {
		return errors.New("write failed")
	}
	if t.closed {
		return websocket.ErrCloseSent
	}
	t.frames = append(t.frames, append([]byte(nil), data...))
	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}

func (t *Transport) WriteControl(messageType int, data []byte, _ time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if messageType == websocket.CloseMessage {
		t.closeMsg = append([]byte(nil), data...)
	}
	return nil
}

func (t *Transport) SetWriteDeadline(time.Time) error { return nil }

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// CloseFrame returns the payload of the last close control frame.
func (t *Transport) CloseFrame() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeMsg
}

// Envelopes decodes every recorded frame.
func (t *Transport) Envelopes() []protocol.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(t.frames))
	for _, f := range t.frames {
		var env protocol.Envelope
		if err := json.Unmarshal(f, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

// WaitFor blocks until at least n frames were written or ctx is done, and
// returns the envelopes seen so far.
func (t *Transport) WaitFor(ctx context.Context, n int) []protocol.Envelope {
	for {
		envs := t.Envelopes()
		if len(envs) >= n {
			return envs
		}
		select {
		case <-t.notify:
		case <-ctx.Done():
			return envs
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// NewConn builds a session.Conn for userID over a fresh Transport.
func NewConn(userID int64) (*session.Conn, *Transport) {
	t := NewTransport()
	c := session.NewConn(context.Background(), t, &auth.Identity{UserID: userID}, session.Options{})
	return c, t
}
