package relica

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/model"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, chatrelay.ApplyMigrations(context.Background(), db, "sqlite3"))
	return db
}

func TestMessageRepository_SaveAssignsIncreasingIDs(t *testing.T) {
	repo := NewMessageRepository(openSQLite(t), "sqlite3")
	ctx := context.Background()

	first, err := repo.Save(ctx, model.NewMessage(1, 2, "a", time.Now()))
	require.NoError(t, err)
	second, err := repo.Save(ctx, model.NewMessage(2, 1, "b", time.Now()))
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
}

func TestMessageRepository_SaveRejectsExistingID(t *testing.T) {
	repo := NewMessageRepository(openSQLite(t), "sqlite3")

	m := model.NewMessage(1, 2, "a", time.Now())
	m.ID = 9

	_, err := repo.Save(context.Background(), m)
	assert.True(t, chatrelay.IsValidation(err))
}

func TestMessageRepository_Load(t *testing.T) {
	repo := NewMessageRepository(openSQLite(t), "sqlite3")
	ctx := context.Background()

	saved, err := repo.Save(ctx, model.NewMessage(1, 2, "hello", time.Now()))
	require.NoError(t, err)

	loaded, err := repo.Load(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, loaded.ID)
	assert.Equal(t, int64(1), loaded.SenderID)
	assert.Equal(t, int64(2), loaded.ReceiverID)
	assert.Equal(t, "hello", loaded.Body)

	_, err = repo.Load(ctx, 42)
	assert.True(t, chatrelay.IsNoData(err))
}

func TestMessageRepository_FindConversation(t *testing.T) {
	repo := NewMessageRepository(openSQLite(t), "sqlite3")
	ctx := context.Background()

	for _, m := range []model.Message{
		model.NewMessage(1, 2, "1→2", time.Now()), // id 1
		model.NewMessage(3, 2, "3→2", time.Now()), // id 2
		model.NewMessage(2, 1, "2→1", time.Now()), // id 3
		model.NewMessage(1, 3, "1→3", time.Now()), // id 4
		model.NewMessage(1, 2, "1→2", time.Now()), // id 5
	} {
		_, err := repo.Save(ctx, m)
		require.NoError(t, err)
	}

	tests := []struct {
		name    string
		query   chatrelay.ConversationQuery
		wantIDs []int64
	}{
		{"whole pair", chatrelay.ConversationQuery{ParticipantA: 1, ParticipantB: 2, Limit: 10}, []int64{1, 3, 5}},
		{"reversed pair", chatrelay.ConversationQuery{ParticipantA: 2, ParticipantB: 1, Limit: 10}, []int64{1, 3, 5}},
		{"after cursor", chatrelay.ConversationQuery{ParticipantA: 2, ParticipantB: 1, AfterID: 1, Limit: 10}, []int64{3, 5}},
		{"limited", chatrelay.ConversationQuery{ParticipantA: 1, ParticipantB: 2, Limit: 2}, []int64{1, 3}},
		{"no messages", chatrelay.ConversationQuery{ParticipantA: 2, ParticipantB: 3, AfterID: 2, Limit: 10}, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages, err := repo.FindConversation(ctx, tt.query)
			require.NoError(t, err)

			ids := make([]int64, 0, len(messages))
			for _, m := range messages {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestRepositories_StoreHistory(t *testing.T) {
	repos := NewRepositories(openSQLite(t), "sqlite3")
	store, err := chatrelay.NewMessageStore(chatrelay.WithMessageRepository(repos.Message))
	require.NoError(t, err)
	ctx := context.Background()

	for _, body := range []string{"one", "two", "three"} {
		_, err := store.Append(ctx, 1, 2, body)
		require.NoError(t, err)
	}

	page, err := store.History(ctx, chatrelay.HistoryRequest{ParticipantA: 2, ParticipantB: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "one", page.Messages[0].Body)
	assert.Equal(t, "two", page.Messages[1].Body)
	assert.False(t, page.Messages[1].CreatedAt.Before(page.Messages[0].CreatedAt))

	rest, err := store.History(ctx, chatrelay.HistoryRequest{ParticipantA: 2, ParticipantB: 1, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Messages, 1)
	assert.Equal(t, "three", rest.Messages[0].Body)
}
