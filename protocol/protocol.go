// Package protocol defines the frames exchanged over the persistent relay connection.
//
// The negotiation follows the Pusher channels protocol so that Echo/pusher-js clients can
// attach without a custom transport:
//
//	server → client  pusher:connection_established  {"socket_id", "activity_timeout"}
//	client → server  pusher:subscribe               {"channel", "auth"}
//	server → client  pusher_internal:subscription_succeeded (channel set)
//	server → client  pusher:error                   {"code", "message"}
//	server → client  MessageSent                    (channel set, data = Message)
//	client → server  pusher:unsubscribe             {"channel"}
//	either direction pusher:ping / pusher:pong
//
// Unlike Pusher, "data" carries a JSON object rather than a JSON-encoded string.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventError                 = "pusher:error"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
)

// Error codes sent in pusher:error frames.
const (
	// CodeReconnect asks the client to reconnect after backing off.
	CodeReconnect = 4200

	// CodeUnauthorized rejects a subscription whose grant is missing, forged or expired.
	CodeUnauthorized = 4009

	// CodeOverCapacity is sent before a slow connection is dropped.
	CodeOverCapacity = 4100

	// CodeBadRequest rejects malformed frames.
	CodeBadRequest = 4001
)

// Frame is one message on the wire.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ConnectionEstablished is the payload of EventConnectionEstablished.
type ConnectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"` // seconds
}

// Subscribe is the payload of EventSubscribe.
type Subscribe struct {
	Channel string `json:"channel"`
	Auth    string `json:"auth"`
}

// Unsubscribe is the payload of EventUnsubscribe.
type Unsubscribe struct {
	Channel string `json:"channel"`
}

// Error is the payload of EventError.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewFrame builds a frame whose data is the JSON encoding of payload.
// A nil payload produces a frame without data.
func NewFrame(event, channel string, payload any) (Frame, error) {
	f := Frame{Event: event, Channel: channel}
	if payload == nil {
		return f, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	f.Data = data
	return f, nil
}

// Encode serializes a frame.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses a frame. Frames without an event name are rejected.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("decode frame: missing event")
	}
	return f, nil
}

// DecodeData unmarshals the frame payload into v.
func (f Frame) DecodeData(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s: missing data", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%s: decode data: %w", f.Event, err)
	}
	return nil
}
