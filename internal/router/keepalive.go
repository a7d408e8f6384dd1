package router

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/readify/gateway/internal/session"
)

const (
	// defaultPingInterval is how often the gateway sends WebSocket ping frames.
	defaultPingInterval = 30 * time.Second
	// defaultPongWait is the maximum time to wait for a pong from the peer.
	defaultPongWait = 60 * time.Second
)

// startKeepalive sets a read deadline, installs a pong handler, and starts a
// goroutine that pings the peer through c so pings share the connection's
// write mutex. The returned cancel function stops the ping goroutine.
func startKeepalive(ws *websocket.Conn, c *session.Conn, interval, wait time.Duration) (cancel func()) {
	_ = ws.SetReadDeadline(time.Now().Add(wait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wait))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.Ping(time.Now().Add(10 * time.Second)); err != nil {
					return
				}
			case <-done:
				return
			case <-c.Context().Done():
				return
			}
		}
	}()

	return func() { close(done) }
}
