// Package memory provides in-process repository implementations.
//
// They keep everything in memory and lose it on restart. Use them for tests, examples
// and the "memory" database driver of the server.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/model"
)

// MessageRepository implements chatrelay.MessageRepository on a slice ordered by ID.
type MessageRepository struct {
	mu       sync.RWMutex
	messages []model.Message
	nextID   int64
}

// NewMessageRepository creates an empty MessageRepository.
func NewMessageRepository() *MessageRepository {
	return &MessageRepository{nextID: 1}
}

// Load retrieves a message by ID.
func (r *MessageRepository) Load(ctx context.Context, id int64) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if i, ok := r.indexOf(id); ok {
		return r.messages[i], nil
	}
	return model.Message{}, chatrelay.ErrNoData
}

// Save appends a new message and assigns the next ID.
func (r *MessageRepository) Save(ctx context.Context, m model.Message) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return m, err
	}
	if m.ID != 0 {
		return m, chatrelay.NewError(chatrelay.ErrCodeValidation, "messages are append-only")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m.ID = r.nextID
	r.nextID++
	r.messages = append(r.messages, m)
	return m, nil
}

// FindConversation returns up to q.Limit messages between the two participants after q.AfterID.
func (r *MessageRepository) FindConversation(ctx context.Context, q chatrelay.ConversationQuery) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	start, _ := r.indexOf(q.AfterID + 1)
	result := make([]model.Message, 0)
	for _, m := range r.messages[start:] {
		if q.Limit > 0 && len(result) == q.Limit {
			break
		}
		if m.ID > q.AfterID && m.Involves(q.ParticipantA, q.ParticipantB) {
			result = append(result, m)
		}
	}
	return result, nil
}

// Len returns the number of stored messages.
func (r *MessageRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages)
}

// indexOf returns the position of id, or its insertion point when absent.
func (r *MessageRepository) indexOf(id int64) (int, bool) {
	return slices.BinarySearchFunc(r.messages, id, func(m model.Message, target int64) int {
		return cmp.Compare(m.ID, target)
	})
}
