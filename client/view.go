package client

import (
	"slices"
	"sync"

	"github.com/coregx/chatrelay/model"
)

// MessageView is the local ordered view of a conversation. Messages are kept in id order
// and each id appears at most once, whether it arrived live or from history.
//
// Thread safety: Safe for concurrent use.
type MessageView struct {
	mu       sync.RWMutex
	messages []model.Message
}

// NewMessageView creates an empty view.
func NewMessageView() *MessageView {
	return &MessageView{}
}

// Add inserts m and reports whether it was new.
func (v *MessageView) Add(m model.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.insertLocked(m)
}

// Merge inserts every message of a history page and returns how many were new.
func (v *MessageView) Merge(messages []model.Message) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	added := 0
	for _, m := range messages {
		if v.insertLocked(m) {
			added++
		}
	}
	return added
}

// Messages returns a copy of the view.
func (v *MessageView) Messages() []model.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.messages)
}

// Len returns the number of messages in the view.
func (v *MessageView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.messages)
}

// LastID returns the highest message id, or 0 when empty.
func (v *MessageView) LastID() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.messages) == 0 {
		return 0
	}
	return v.messages[len(v.messages)-1].ID
}

func (v *MessageView) insertLocked(m model.Message) bool {
	i, found := slices.BinarySearchFunc(v.messages, m.ID, func(e model.Message, id int64) int {
		switch {
		case e.ID < id:
			return -1
		case e.ID > id:
			return 1
		}
		return 0
	})
	if found {
		return false
	}
	v.messages = slices.Insert(v.messages, i, m)
	return true
}
