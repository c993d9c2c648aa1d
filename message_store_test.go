package chatrelay_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/adapters/memory"
	"github.com/coregx/chatrelay/model"
)

func newStore(t *testing.T, opts ...chatrelay.MessageStoreOption) *chatrelay.MessageStore {
	t.Helper()
	opts = append([]chatrelay.MessageStoreOption{
		chatrelay.WithMessageRepository(memory.NewMessageRepository()),
	}, opts...)
	store, err := chatrelay.NewMessageStore(opts...)
	require.NoError(t, err)
	return store
}

func TestNewMessageStore_RequiresRepository(t *testing.T) {
	_, err := chatrelay.NewMessageStore()
	require.Error(t, err)
	assert.True(t, chatrelay.HasCode(err, chatrelay.ErrCodeConfiguration))

	_, err = chatrelay.NewMessageStore(chatrelay.WithMessageRepository(nil))
	assert.True(t, chatrelay.HasCode(err, chatrelay.ErrCodeConfiguration))

	_, err = chatrelay.NewMessageStore(
		chatrelay.WithMessageRepository(memory.NewMessageRepository()),
		chatrelay.WithMaxBodyLength(0),
	)
	assert.True(t, chatrelay.HasCode(err, chatrelay.ErrCodeConfiguration))
}

func TestMessageStore_Append(t *testing.T) {
	store := newStore(t)

	msg, err := store.Append(context.Background(), 1, 2, "hi")
	require.NoError(t, err)

	assert.Equal(t, int64(1), msg.ID)
	assert.Equal(t, int64(1), msg.SenderID)
	assert.Equal(t, int64(2), msg.ReceiverID)
	assert.Equal(t, "hi", msg.Body)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.Equal(t, time.UTC, msg.CreatedAt.Location())
}

func TestMessageStore_AppendValidation(t *testing.T) {
	store := newStore(t, chatrelay.WithMaxBodyLength(5))

	tests := []struct {
		name     string
		sender   int64
		receiver int64
		body     string
	}{
		{"empty body", 1, 2, ""},
		{"whitespace body", 1, 2, "  \n\t "},
		{"too long", 1, 2, "abcdef"},
		{"no sender", 0, 2, "hi"},
		{"negative receiver", 1, -2, "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Append(context.Background(), tt.sender, tt.receiver, tt.body)
			require.Error(t, err)
			assert.True(t, chatrelay.IsValidation(err), "got %v", err)
		})
	}
}

func TestMessageStore_AppendCountsRunes(t *testing.T) {
	store := newStore(t, chatrelay.WithMaxBodyLength(3))

	_, err := store.Append(context.Background(), 1, 2, "héé")
	assert.NoError(t, err)

	_, err = store.Append(context.Background(), 1, 2, strings.Repeat("é", 4))
	assert.True(t, chatrelay.IsValidation(err))
}

func TestMessageStore_AppendKeepsTimestampsMonotonic(t *testing.T) {
	frozen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := newStore(t, chatrelay.WithClock(func() time.Time { return frozen }))

	first, err := store.Append(context.Background(), 1, 2, "a")
	require.NoError(t, err)
	second, err := store.Append(context.Background(), 1, 2, "b")
	require.NoError(t, err)

	assert.True(t, second.CreatedAt.After(first.CreatedAt))
	assert.Greater(t, second.ID, first.ID)
}

type failingRepository struct {
	memory.MessageRepository
}

func (*failingRepository) Save(context.Context, model.Message) (model.Message, error) {
	return model.Message{}, errors.New("disk full")
}

func TestMessageStore_AppendDatabaseError(t *testing.T) {
	store, err := chatrelay.NewMessageStore(chatrelay.WithMessageRepository(&failingRepository{}))
	require.NoError(t, err)

	_, err = store.Append(context.Background(), 1, 2, "hi")
	require.Error(t, err)
	assert.True(t, chatrelay.HasCode(err, chatrelay.ErrCodeDatabase))
}

func TestMessageStore_HistoryOrderAndIsolation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, step := range []struct {
		from, to int64
		body     string
	}{
		{1, 2, "one"},
		{2, 1, "two"},
		{3, 2, "other conversation"},
		{1, 2, "three"},
	} {
		_, err := store.Append(ctx, step.from, step.to, step.body)
		require.NoError(t, err)
	}

	page, err := store.History(ctx, chatrelay.HistoryRequest{ParticipantA: 2, ParticipantB: 1})
	require.NoError(t, err)

	bodies := make([]string, 0, len(page.Messages))
	for _, m := range page.Messages {
		bodies = append(bodies, m.Body)
	}
	assert.Equal(t, []string{"one", "two", "three"}, bodies)
	assert.Zero(t, page.NextCursor)
}

func TestMessageStore_ConcurrentAppendsOrderedByID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(sender int64) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := store.Append(ctx, sender, 99, "x")
				assert.NoError(t, err)
			}
		}(int64(w + 1))
	}
	wg.Wait()

	var ids []int64
	for w := int64(1); w <= writers; w++ {
		page, err := store.History(ctx, chatrelay.HistoryRequest{ParticipantA: 99, ParticipantB: w, Limit: chatrelay.MaxHistoryLimit})
		require.NoError(t, err)
		require.Len(t, page.Messages, perWriter)
		for i, m := range page.Messages {
			if i > 0 {
				assert.Greater(t, m.ID, page.Messages[i-1].ID)
			}
			ids = append(ids, m.ID)
		}
	}
	assert.Len(t, ids, writers*perWriter)
}

func TestMessageStore_HistoryPagination(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, 1, 2, "m")
		require.NoError(t, err)
	}

	page, err := store.History(ctx, chatrelay.HistoryRequest{ParticipantA: 1, ParticipantB: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, int64(2), page.NextCursor)

	page, err = store.History(ctx, chatrelay.HistoryRequest{ParticipantA: 1, ParticipantB: 2, Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, int64(3), page.Messages[0].ID)
	assert.Equal(t, int64(4), page.NextCursor)

	page, err = store.History(ctx, chatrelay.HistoryRequest{ParticipantA: 1, ParticipantB: 2, Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Zero(t, page.NextCursor)
}

func TestMessageStore_HistoryRejectsBadInput(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.History(ctx, chatrelay.HistoryRequest{ParticipantA: 1, ParticipantB: 2, Limit: -1})
	assert.True(t, chatrelay.IsValidation(err))

	_, err = store.History(ctx, chatrelay.HistoryRequest{ParticipantA: 1, ParticipantB: 2, Cursor: -5})
	assert.True(t, chatrelay.IsValidation(err))

	_, err = store.History(ctx, chatrelay.HistoryRequest{ParticipantA: 0, ParticipantB: 2})
	assert.True(t, chatrelay.IsValidation(err))
}

func TestMessageStore_HistoryEmptyIsNotNil(t *testing.T) {
	store := newStore(t)

	page, err := store.History(context.Background(), chatrelay.HistoryRequest{ParticipantA: 1, ParticipantB: 2})
	require.NoError(t, err)
	assert.NotNil(t, page.Messages)
	assert.Empty(t, page.Messages)
}

func TestMessageStore_ConversationIsLazyAndRestartable(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := store.Append(ctx, 1, 2, "m")
		require.NoError(t, err)
	}

	seq := store.Conversation(ctx, 1, 2, 3)

	var ids []int64
	for m, err := range seq {
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, ids)

	var firstTwo []int64
	for m, err := range seq {
		require.NoError(t, err)
		firstTwo = append(firstTwo, m.ID)
		if len(firstTwo) == 2 {
			break
		}
	}
	assert.Equal(t, []int64{1, 2}, firstTwo)
}

func TestMessageStore_ConversationYieldsError(t *testing.T) {
	store := newStore(t)

	count := 0
	for _, err := range store.Conversation(context.Background(), 0, 2, 10) {
		count++
		assert.True(t, chatrelay.IsValidation(err))
	}
	assert.Equal(t, 1, count)
}
