package session

import (
	"encoding/json"
	"log/slog"

	"github.com/readify/gateway/internal/protocol"
	"github.com/readify/gateway/internal/safemap"
)

// Registry maps connection ids and user ids to live connections.
//
// A user has at most one indexed connection: registering a new one
// overwrites the user index. Removing the older connection later leaves the
// newer mapping intact. No lock is held while marshaling or writing.
type Registry struct {
	byConn *safemap.SafeMap[string, *Conn]
	byUser *safemap.SafeMap[int64, string]
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		byConn: safemap.New[string, *Conn](),
		byUser: safemap.New[int64, string](),
		logger: logger.With("component", "session"),
	}
}

// Add registers c and indexes it under its user. It returns the connection
// previously indexed for that user, if it is still registered.
func (r *Registry) Add(c *Conn) (superseded *Conn) {
	r.byConn.Store(c.ID(), c)
	prevID, loaded := r.byUser.Swap(c.UserID(), c.ID())
	r.logger.Info("session registered", "conn_id", c.ID(), "user_id", c.UserID())
	if !loaded || prevID == c.ID() {
		return nil
	}
	prev, ok := r.byConn.Load(prevID)
	if !ok {
		return nil
	}
	r.logger.Info("user index superseded", "user_id", c.UserID(), "old_conn_id", prevID, "conn_id", c.ID())
	return prev
}

// Remove unregisters connID. The user index entry is dropped only if it
// still points at connID. Removing an unknown id is a no-op.
func (r *Registry) Remove(connID string) {
	c, ok := r.byConn.LoadAndDelete(connID)
	if !ok {
		return
	}
	r.byUser.CompareAndDelete(c.UserID(), connID)
	r.logger.Info("session removed", "conn_id", connID, "user_id", c.UserID())
}

// Get returns the connection registered under connID.
func (r *Registry) Get(connID string) (*Conn, bool) {
	return r.byConn.Load(connID)
}

// SendTo delivers env to one connection. Absent or closed connections are
// skipped silently.
func (r *Registry) SendTo(connID string, env protocol.Envelope) bool {
	c, ok := r.byConn.Load(connID)
	if !ok || !c.IsOpen() {
		return false
	}
	data, err := json.Marshal(env)
	if err != nil {
		r.logger.Warn("marshal envelope", "type", env.Type, "error", err)
		return false
	}
	return r.write(c, env.Type, data)
}

// SendToUser delivers env to the connection indexed for userID.
func (r *Registry) SendToUser(userID int64, env protocol.Envelope) bool {
	connID, ok := r.byUser.Load(userID)
	if !ok {
		return false
	}
	return r.SendTo(connID, env)
}

// SendToUsers delivers env to each listed user that is online and returns
// the number of successful writes.
func (r *Registry) SendToUsers(userIDs []int64, env protocol.Envelope) int {
	data, err := json.Marshal(env)
	if err != nil {
		r.logger.Warn("marshal envelope", "type", env.Type, "error", err)
		return 0
	}
	sent := 0
	for _, uid := range userIDs {
		c, ok := r.userConn(uid)
		if !ok {
			continue
		}
		if r.write(c, env.Type, data) {
			sent++
		}
	}
	return sent
}

// Broadcast marshals env once and attempts every open connection.
// Individual failures are logged and do not stop delivery to the rest.
func (r *Registry) Broadcast(env protocol.Envelope) int {
	data, err := json.Marshal(env)
	if err != nil {
		r.logger.Warn("marshal envelope", "type", env.Type, "error", err)
		return 0
	}
	targets := make([]*Conn, 0, 16)
	r.byConn.Range(func(_ string, c *Conn) bool {
		if c.IsOpen() {
			targets = append(targets, c)
		}
		return true
	})
	sent := 0
	for _, c := range targets {
		if r.write(c, env.Type, data) {
			sent++
		}
	}
	return sent
}

// IsUserOnline reports whether the connection indexed for userID is still
// registered and open.
func (r *Registry) IsUserOnline(userID int64) bool {
	_, ok := r.userConn(userID)
	return ok
}

// userConn returns the open connection indexed for userID.
func (r *Registry) userConn(userID int64) (*Conn, bool) {
	connID, ok := r.byUser.Load(userID)
	if !ok {
		return nil, false
	}
	c, ok := r.byConn.Load(connID)
	if !ok || !c.IsOpen() {
		return nil, false
	}
	return c, true
}

// UserConnID returns the connection id indexed for userID.
func (r *Registry) UserConnID(userID int64) (string, bool) {
	return r.byUser.Load(userID)
}

// OnlineUsers returns a snapshot of the users for which IsUserOnline holds.
func (r *Registry) OnlineUsers() []int64 {
	var users []int64
	r.byUser.Range(func(userID int64, _ string) bool {
		if _, ok := r.userConn(userID); ok {
			users = append(users, userID)
		}
		return true
	})
	return users
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	return r.byConn.Len()
}

func (r *Registry) write(c *Conn, msgType string, data []byte) bool {
	if err := c.Send(data); err != nil {
		r.logger.Warn("send failed", "conn_id", c.ID(), "user_id", c.UserID(), "type", msgType, "error", err)
		return false
	}
	return true
}
