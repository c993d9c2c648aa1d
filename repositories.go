package chatrelay

import (
	"context"

	"github.com/coregx/chatrelay/model"
)

// ConversationQuery selects a page of the conversation between two identities.
type ConversationQuery struct {
	ParticipantA int64 // One side of the conversation
	ParticipantB int64 // The other side (may equal ParticipantA for notes-to-self)
	AfterID      int64 // Exclusive lower bound on message ID (0 = from the beginning)
	Limit        int   // Maximum number of messages returned (> 0)
}

// MessageRepository defines the persistence interface for direct messages.
// Messages are append-only: there is no update or delete operation.
//
// Implementations must be safe for concurrent use. Save must not return before the
// message is durably stored.
type MessageRepository interface {
	// Load retrieves a message by ID.
	// Returns ErrNoData if not found.
	Load(ctx context.Context, id int64) (model.Message, error)

	// Save inserts a new message (ID must be 0) and returns it with its assigned ID.
	// IDs are strictly increasing in insertion order.
	Save(ctx context.Context, m model.Message) (model.Message, error)

	// FindConversation returns messages exchanged between the two participants
	// (either direction) with ID > AfterID, ordered by ID ascending, at most Limit items.
	// Returns an empty slice (not ErrNoData) when nothing matches.
	FindConversation(ctx context.Context, q ConversationQuery) ([]model.Message, error)
}
