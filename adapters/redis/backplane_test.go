package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/model"
)

type publishCall struct {
	channel string
	payload []byte
}

type fakeClient struct {
	calls []publishCall
	err   error
}

func (f *fakeClient) Publish(_ context.Context, channel string, message interface{}) *goredis.IntCmd {
	f.calls = append(f.calls, publishCall{channel: channel, payload: message.([]byte)})
	return goredis.NewIntResult(1, f.err)
}

func (f *fakeClient) PSubscribe(context.Context, ...string) *goredis.PubSub {
	panic("not used")
}

type recordingRelay struct {
	channels []string
	events   []model.Event
}

func (r *recordingRelay) Publish(_ context.Context, channel string, ev model.Event) error {
	r.channels = append(r.channels, channel)
	r.events = append(r.events, ev)
	return nil
}

func TestNewBackplane_Requires(t *testing.T) {
	_, err := NewBackplane(WithLocalRelay(&recordingRelay{}))
	assert.True(t, chatrelay.HasCode(err, chatrelay.ErrCodeConfiguration))

	_, err = NewBackplane(WithClient(&fakeClient{}))
	assert.True(t, chatrelay.HasCode(err, chatrelay.ErrCodeConfiguration))
}

func TestBackplane_PublishEncodesEvent(t *testing.T) {
	client := &fakeClient{}
	b, err := NewBackplane(WithClient(client), WithLocalRelay(&recordingRelay{}), WithChannelPrefix("test:"))
	require.NoError(t, err)

	ev, err := model.NewMessageSentEvent(model.Message{ID: 5, SenderID: 1, ReceiverID: 2, Body: "hi"})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "private-chat.2", ev))

	require.Len(t, client.calls, 1)
	assert.Equal(t, "test:chat.2", client.calls[0].channel)

	var decoded model.Event
	require.NoError(t, json.Unmarshal(client.calls[0].payload, &decoded))
	assert.Equal(t, model.EventMessageSent, decoded.Name)
	assert.Equal(t, "chat.2", decoded.Channel)
}

func TestBackplane_PublishError(t *testing.T) {
	b, err := NewBackplane(WithClient(&fakeClient{err: errors.New("READONLY")}), WithLocalRelay(&recordingRelay{}))
	require.NoError(t, err)

	err = b.Publish(context.Background(), "chat.2", model.Event{Name: model.EventMessageSent})
	assert.True(t, chatrelay.IsRelayUnavailable(err))
}

func TestBackplane_DeliverForwardsToLocalRelay(t *testing.T) {
	local := &recordingRelay{}
	b, err := NewBackplane(WithClient(&fakeClient{}), WithLocalRelay(local))
	require.NoError(t, err)

	payload, err := json.Marshal(model.Event{Name: model.EventMessageSent, Channel: "chat.9", Data: json.RawMessage(`{"id":1}`)})
	require.NoError(t, err)

	b.deliver(context.Background(), DefaultChannelPrefix+"chat.9", string(payload))
	b.deliver(context.Background(), DefaultChannelPrefix+"chat.9", "not json")

	require.Len(t, local.events, 1)
	assert.Equal(t, "chat.9", local.channels[0])
	assert.JSONEq(t, `{"id":1}`, string(local.events[0].Data))
}

func TestBackplane_UnreachableRedis(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:            "127.0.0.1:1",
		DialTimeout:     200 * time.Millisecond,
		MaxRetries:      -1,
		ConnMaxIdleTime: time.Second,
	})
	t.Cleanup(func() { _ = client.Close() })

	b, err := NewBackplane(WithClient(client), WithLocalRelay(&recordingRelay{}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.True(t, chatrelay.IsRelayUnavailable(b.Publish(ctx, "chat.1", model.Event{Name: model.EventMessageSent})))
	assert.True(t, chatrelay.IsNetwork(b.Run(ctx)))
}
