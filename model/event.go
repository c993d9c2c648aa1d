package model

import (
	"encoding/json"
	"fmt"
)

// EventMessageSent is the event name carrying a newly persisted Message.
const EventMessageSent = "MessageSent"

// Event is a named payload published on a channel.
// The relay never inspects Data; it is delivered verbatim to subscribers.
type Event struct {
	Name    string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// NewMessageSentEvent wraps a persisted message for delivery on its receiver's channel.
func NewMessageSentEvent(m Message) (Event, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Event{}, fmt.Errorf("encode message %d: %w", m.ID, err)
	}
	return Event{
		Name:    EventMessageSent,
		Channel: m.DeliveryChannel(),
		Data:    data,
	}, nil
}

// Message decodes a MessageSent payload.
func (e Event) Message() (Message, error) {
	if e.Name != EventMessageSent {
		return Message{}, fmt.Errorf("event %q does not carry a message", e.Name)
	}
	var m Message
	if err := json.Unmarshal(e.Data, &m); err != nil {
		return Message{}, fmt.Errorf("decode %s payload: %w", e.Name, err)
	}
	return m, nil
}
