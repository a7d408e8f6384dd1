// Package protocol defines the wire messages exchanged between the gateway and
// its WebSocket clients.
//
// Every frame is a JSON object sharing one envelope. The "type" field selects
// the handler and therefore the shape of "data".
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/readify/gateway/internal/apperr"
)

// Envelope is the outbound wire format.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

// Message is an inbound envelope whose data has been decoded into T.
type Message[T any] struct {
	Type      string `json:"type"`
	Data      T      `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// New stamps an envelope with the current time.
func New(msgType string, data any) Envelope {
	return Envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Error builds an "error" envelope.
func Error(text string) Envelope {
	return New(TypeError, text)
}

// Inbound message types.
const (
	TypePing              = "ping"
	TypeBroadcast         = "broadcast"
	TypeSendMessage       = "sendMessage"
	TypeQueryProjectFiles = "queryProjectFiles"
)

// Outbound message types.
const (
	TypeConnected     = "connected"
	TypePong          = "pong"
	TypeAgentMessage  = "agentMessage"
	TypeAgentComplete = "agentComplete"
	TypeProjectFiles  = "projectFiles"
	TypeError         = "error"
)

// PeekType reads only the "type" field of a raw frame. The data payload is
// left undecoded because its shape depends on the handler.
func PeekType(raw []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("parse frame: %v: %w", err, apperr.ErrInvalidArgument)
	}
	if head.Type == "" {
		return "", apperr.Invalid("message type is required")
	}
	return head.Type, nil
}

// Decode fully decodes a raw frame with data typed as T.
func Decode[T any](raw []byte) (Message[T], error) {
	var msg Message[T]
	if err := json.Unmarshal(raw, &msg); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return msg, apperr.Invalid("field %q has wrong type", typeErr.Field)
		}
		return msg, fmt.Errorf("decode frame: %v: %w", err, apperr.ErrInvalidArgument)
	}
	return msg, nil
}

// --- Payloads ---

// SendMessageRequest is the data of a "sendMessage" frame.
type SendMessageRequest struct {
	Query     string `json:"query"`
	ProjectID int64  `json:"projectId"`
	TaskType  string `json:"taskType"`
	MindMapID *int64 `json:"mindMapId"`
}

// QueryProjectRequest is the data of a "queryProjectFiles" frame.
type QueryProjectRequest struct {
	ProjectID int64 `json:"projectId"`
}

// FileInfo describes one file in a "projectFiles" reply.
type FileInfo struct {
	ID            int64  `json:"id"`
	OriginalName  string `json:"originalName"`
	StorageKey    string `json:"storageKey"`
	StorageBucket string `json:"storageBucket"`
	StorageType   string `json:"storageType"`
	Size          int64  `json:"size"`
	MimeType      string `json:"mimeType"`
	MD5           string `json:"md5"`
	Vectorized    bool   `json:"vectorized"`
	ProjectID     int64  `json:"projectId"`
	UserID        int64  `json:"userId"`
	CreateTime    int64  `json:"createTime"`
	UpdateTime    int64  `json:"updateTime"`
}
