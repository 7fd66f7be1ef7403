package model

import "encoding/json"

// Backend event names.
const (
	EventPluginChanged = "plugin:changed"
	EventAssetChanged  = "asset:changed"
	EventStreamDelta   = "stream:delta"
	EventStreamFinal   = "stream:final"
	EventStreamError   = "stream:error"
)

// Event is a named notification pushed by the backend.
type Event struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StreamMessage is the payload of the stream:* events. Every message carries
// the id of the stream it belongs to.
type StreamMessage struct {
	StreamID string `json:"stream_id"`
	Delta    string `json:"delta,omitempty"`
	Content  string `json:"content,omitempty"`
	Error    string `json:"error,omitempty"`
}

// StreamResult is the outcome of awaiting a stream.
type StreamResult struct {
	StreamID string `json:"stream_id"`
	Content  string `json:"content"`
	Final    bool   `json:"final"`
	TimedOut bool   `json:"timed_out"`
}

// Notification levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelError   = "error"
)

// Notification is a transient, user-visible message (a toast).
type Notification struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}
