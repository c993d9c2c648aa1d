package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/model"
)

func TestMessageRepository_SaveAssignsIncreasingIDs(t *testing.T) {
	repo := NewMessageRepository()
	ctx := context.Background()

	first, err := repo.Save(ctx, model.NewMessage(1, 2, "a", time.Now()))
	require.NoError(t, err)
	second, err := repo.Save(ctx, model.NewMessage(2, 1, "b", time.Now()))
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, 2, repo.Len())
}

func TestMessageRepository_SaveRejectsExistingID(t *testing.T) {
	repo := NewMessageRepository()

	m := model.NewMessage(1, 2, "a", time.Now())
	m.ID = 9

	_, err := repo.Save(context.Background(), m)
	assert.True(t, chatrelay.IsValidation(err))
}

func TestMessageRepository_Load(t *testing.T) {
	repo := NewMessageRepository()
	ctx := context.Background()

	saved, err := repo.Save(ctx, model.NewMessage(1, 2, "hello", time.Now()))
	require.NoError(t, err)

	loaded, err := repo.Load(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", loaded.Body)

	_, err = repo.Load(ctx, 42)
	assert.True(t, chatrelay.IsNoData(err))
}

func TestMessageRepository_FindConversation(t *testing.T) {
	repo := NewMessageRepository()
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
		{"after cursor", chatrelay.ConversationQuery{ParticipantA: 1, ParticipantB: 2, AfterID: 1, Limit: 10}, []int64{3, 5}},
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
