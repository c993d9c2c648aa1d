package relica

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coregx/relica"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/model"
)

// MessageRepository implements chatrelay.MessageRepository using Relica.
type MessageRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewMessageRepository creates a new MessageRepository with default table prefix.
func NewMessageRepository(sqlDB *sql.DB, driverName string) *MessageRepository {
	return &MessageRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: DefaultTablePrefix}
}

// NewMessageRepositoryWithPrefix creates a new MessageRepository with custom table prefix.
func NewMessageRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *MessageRepository {
	return &MessageRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *MessageRepository) tableName() string {
	return r.tablePrefix + "message"
}

// Load retrieves a message by ID.
func (r *MessageRepository) Load(ctx context.Context, id int64) (model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).Where("id = ?", id).One(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return msg, chatrelay.ErrNoData
	}
	if err != nil {
		return msg, chatrelay.NewErrorWithCause(chatrelay.ErrCodeDatabase, "failed to load message", err)
	}
	return msg, nil
}

// Save inserts a new message. Messages are immutable, so a non-zero ID is rejected.
func (r *MessageRepository) Save(ctx context.Context, m model.Message) (model.Message, error) {
	if m.ID != 0 {
		return m, chatrelay.NewError(chatrelay.ErrCodeValidation, "messages are append-only")
	}

	err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Insert()
	if err != nil {
		return m, chatrelay.NewErrorWithCause(chatrelay.ErrCodeDatabase, "failed to insert message", err)
	}
	// m.ID is auto-populated by Model().Insert()
	return m, nil
}

// FindConversation retrieves one page of the conversation between two identities.
func (r *MessageRepository) FindConversation(ctx context.Context, q chatrelay.ConversationQuery) ([]model.Message, error) {
	var messages []model.Message

	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)) AND id > ?",
			q.ParticipantA, q.ParticipantB, q.ParticipantB, q.ParticipantA, q.AfterID).
		OrderBy("id ASC").
		Limit(int64(q.Limit)).
		WithContext(ctx).
		All(&messages)

	if err != nil {
		return nil, chatrelay.NewErrorWithCause(chatrelay.ErrCodeDatabase, "failed to find conversation", err)
	}

	return messages, nil
}
