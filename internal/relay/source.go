// Package relay bridges an upstream event stream back to a client connection.
package relay

import (
	"context"
	"encoding/json"
)

// Request describes one agent invocation.
type Request struct {
	Query     string
	ProjectID int64
	TaskType  string
	MindMapID *int64
	UserID    int64
}

// Event is one upstream server-sent event.
type Event struct {
	ID   string
	Name string
	Data string
}

// Source opens upstream event streams.
type Source interface {
	Open(ctx context.Context, req Request) (Stream, error)
}

// Stream iterates over upstream events. Next returns io.EOF once the
// upstream closes the stream. Close releases the upstream request and may be
// called at any time.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// sentinel marks logical completion inside an event payload.
const sentinel = "[DONE]"

// IsSentinel reports whether data is the end-of-stream marker: a JSON
// object whose "type" is "[DONE]", or the bare text "[DONE]".
func IsSentinel(data string) bool {
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return data == sentinel
	}
	t, _ := m["type"].(string)
	return t == sentinel
}
