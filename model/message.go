// Package model contains the domain models shared by the chatrelay server, relay and client.
package model

import "time"

// tablePrefix is the default prefix of every chatrelay table.
const tablePrefix = "chatrelay_"

// Message is a persisted direct message between two identities.
// Messages are immutable once created: there is no update or delete path.
//
// The body travels as "message" on the wire to stay compatible with existing clients.
type Message struct {
	ID         int64     `json:"id" db:"id"`                   // Store-assigned, monotonically increasing
	SenderID   int64     `json:"sender_id" db:"sender_id"`     // Author
	ReceiverID int64     `json:"receiver_id" db:"receiver_id"` // Addressee; selects the delivery channel
	Body       string    `json:"message" db:"body"`            // Non-empty, bounded text
	CreatedAt  time.Time `json:"created_at" db:"created_at"`   // Server-assigned, never client-supplied
}

// TableName returns the database table name for Message.
func (m Message) TableName() string {
	return tablePrefix + "message"
}

// NewMessage creates an unsaved message stamped with createdAt.
// The ID is assigned by the repository on insert.
func NewMessage(senderID, receiverID int64, body string, createdAt time.Time) Message {
	return Message{
		ID:         0,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		CreatedAt:  createdAt.UTC(),
	}
}

// Involves reports whether the message belongs to the conversation between a and b.
func (m Message) Involves(a, b int64) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// DeliveryChannel returns the channel the message is pushed on: the receiver's channel.
func (m Message) DeliveryChannel() string {
	return ChannelFor(m.ReceiverID)
}
