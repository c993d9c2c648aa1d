package chatrelay

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/coregx/chatrelay/model"
)

const (
	// DefaultMaxBodyLength is the default upper bound of a message body, in runes.
	DefaultMaxBodyLength = 4096

	// DefaultHistoryLimit is used when a history request carries no limit.
	DefaultHistoryLimit = 50

	// MaxHistoryLimit caps the page size of a single history request.
	MaxHistoryLimit = 200
)

// MessageStore is the durable, append-only record of direct messages.
// It validates bodies, assigns server timestamps and exposes ordered history.
//
// Thread safety: Safe for concurrent use. Writes are independent of each other;
// only timestamp assignment is serialized so that created_at never goes backwards.
type MessageStore struct {
	repo          MessageRepository
	logger        Logger
	maxBodyLength int
	now           func() time.Time

	clockMu   sync.Mutex
	lastStamp time.Time
}

// MessageStoreOption configures a MessageStore.
type MessageStoreOption func(*MessageStore) error

// NewMessageStore creates a new MessageStore with the provided options.
//
// Required options:
//   - WithMessageRepository: message persistence
//
// Example:
//
//	store, err := chatrelay.NewMessageStore(
//	    chatrelay.WithMessageRepository(repos.Message),
//	    chatrelay.WithMessageStoreLogger(logger),
//	)
func NewMessageStore(opts ...MessageStoreOption) (*MessageStore, error) {
	s := &MessageStore{
		logger:        &NoopLogger{},
		maxBodyLength: DefaultMaxBodyLength,
		now:           time.Now,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply message store option", err)
		}
	}

	if s.repo == nil {
		return nil, NewError(ErrCodeConfiguration, "MessageRepository is required (use WithMessageRepository)")
	}

	return s, nil
}

// WithMessageRepository sets the required persistence dependency.
func WithMessageRepository(repo MessageRepository) MessageStoreOption {
	return func(s *MessageStore) error {
		if repo == nil {
			return fmt.Errorf("message repository cannot be nil")
		}
		s.repo = repo
		return nil
	}
}

// WithMessageStoreLogger sets the logger instance.
func WithMessageStoreLogger(logger Logger) MessageStoreOption {
	return func(s *MessageStore) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithMaxBodyLength overrides DefaultMaxBodyLength. Must be > 0.
func WithMaxBodyLength(runes int) MessageStoreOption {
	return func(s *MessageStore) error {
		if runes <= 0 {
			return fmt.Errorf("max body length must be > 0, got %d", runes)
		}
		s.maxBodyLength = runes
		return nil
	}
}

// WithClock replaces time.Now as the timestamp source.
func WithClock(now func() time.Time) MessageStoreOption {
	return func(s *MessageStore) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		s.now = now
		return nil
	}
}

// MaxBodyLength returns the configured body limit in runes.
func (s *MessageStore) MaxBodyLength() int {
	return s.maxBodyLength
}

// ValidateBody checks a message body against the store rules:
// non-blank and at most MaxBodyLength runes.
func (s *MessageStore) ValidateBody(body string) error {
	err := validation.Validate(strings.TrimSpace(body),
		validation.Required.Error("message must not be empty"),
	)
	if err == nil {
		err = validation.Validate(body,
			validation.RuneLength(0, s.maxBodyLength).Error(
				fmt.Sprintf("message must be at most %d characters", s.maxBodyLength)),
		)
	}
	if err != nil {
		return NewErrorWithCause(ErrCodeValidation, err.Error(), err)
	}
	return nil
}

// Append validates and persists a new message from sender to receiver.
// The returned message carries its store-assigned ID and timestamp. When Append returns
// without error the message is durable.
//
// ID is the ordering key. CreatedAt is stamped before the insert, so across concurrent
// appends it is only roughly ordered with respect to ID.
func (s *MessageStore) Append(ctx context.Context, senderID, receiverID int64, body string) (model.Message, error) {
	if err := validateParticipants(senderID, receiverID); err != nil {
		return model.Message{}, err
	}
	if err := s.ValidateBody(body); err != nil {
		return model.Message{}, err
	}

	msg := model.NewMessage(senderID, receiverID, body, s.stamp())

	saved, err := s.repo.Save(ctx, msg)
	if err != nil {
		return model.Message{}, NewErrorWithCause(ErrCodeDatabase, "failed to save message", err)
	}

	s.logger.Debugf("Message stored: id=%d, sender=%d, receiver=%d", saved.ID, senderID, receiverID)
	return saved, nil
}

// Load returns a single message by ID.
func (s *MessageStore) Load(ctx context.Context, id int64) (model.Message, error) {
	msg, err := s.repo.Load(ctx, id)
	if err != nil {
		if IsNoData(err) {
			return model.Message{}, err
		}
		return model.Message{}, NewErrorWithCause(ErrCodeDatabase, "failed to load message", err)
	}
	return msg, nil
}

// HistoryRequest selects a page of history between two identities.
type HistoryRequest struct {
	ParticipantA int64 // Usually the caller
	ParticipantB int64 // The peer
	Limit        int   // 0 = DefaultHistoryLimit; clamped to MaxHistoryLimit
	Cursor       int64 // ID of the last message already seen (exclusive); 0 = from the start
}

// HistoryPage is one page of history in ascending creation order.
type HistoryPage struct {
	Messages   []model.Message `json:"messages"`
	NextCursor int64           `json:"next_cursor,omitempty"` // 0 when no further page exists
}

// History returns messages between the two participants in ascending creation order,
// starting after Cursor and bounded by Limit.
func (s *MessageStore) History(ctx context.Context, req HistoryRequest) (*HistoryPage, error) {
	if err := validateParticipants(req.ParticipantA, req.ParticipantB); err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, NewError(ErrCodeValidation, "limit must not be negative")
	}
	if req.Cursor < 0 {
		return nil, NewError(ErrCodeValidation, "cursor must not be negative")
	}

	limit := req.Limit
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	messages, err := s.repo.FindConversation(ctx, ConversationQuery{
		ParticipantA: req.ParticipantA,
		ParticipantB: req.ParticipantB,
		AfterID:      req.Cursor,
		Limit:        limit,
	})
	if err != nil && !IsNoData(err) {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load history", err)
	}
	if messages == nil {
		messages = []model.Message{}
	}

	page := &HistoryPage{Messages: messages}
	if len(messages) == limit {
		page.NextCursor = messages[len(messages)-1].ID
	}
	return page, nil
}

// Conversation returns a lazy sequence over the whole conversation between a and b,
// fetched pageSize messages at a time. Each range over the sequence starts again from the
// oldest message. Iteration stops at the first error, which is yielded once.
func (s *MessageStore) Conversation(ctx context.Context, a, b int64, pageSize int) iter.Seq2[model.Message, error] {
	return func(yield func(model.Message, error) bool) {
		cursor := int64(0)
		for {
			page, err := s.History(ctx, HistoryRequest{
				ParticipantA: a,
				ParticipantB: b,
				Limit:        pageSize,
				Cursor:       cursor,
			})
			if err != nil {
				yield(model.Message{}, err)
				return
			}
			for _, m := range page.Messages {
				if !yield(m, nil) {
					return
				}
			}
			if page.NextCursor == 0 {
				return
			}
			cursor = page.NextCursor
		}
	}
}

// stamp returns a UTC timestamp that never precedes a previously issued one.
func (s *MessageStore) stamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	now := s.now().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

func validateParticipants(a, b int64) error {
	err := validation.Errors{
		"sender_id":   validation.Validate(a, validation.Required, validation.Min(int64(1))),
		"receiver_id": validation.Validate(b, validation.Required, validation.Min(int64(1))),
	}.Filter()
	if err != nil {
		return NewErrorWithCause(ErrCodeValidation, "invalid participants", err)
	}
	return nil
}
