package chatrelay_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/model"
)

type verifierFunc func(socketID, channel, auth string) error

func (f verifierFunc) Verify(socketID, channel, auth string) error { return f(socketID, channel, auth) }

var allowAll = verifierFunc(func(_, _, _ string) error { return nil })

type recordingNotifications struct {
	mu      sync.Mutex
	dropped []string
	created []string
	removed []string
	failed  []int64
}

func (r *recordingNotifications) NotifyRelayFailure(_ context.Context, msg model.Message, _ string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, msg.ID)
}

func (r *recordingNotifications) NotifySubscriberDropped(_ context.Context, socketID, _, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, socketID)
}

func (r *recordingNotifications) NotifySubscriptionCreated(_ context.Context, _, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, channel)
}

func (r *recordingNotifications) NotifySubscriptionRemoved(_ context.Context, _, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, channel)
}

func newHub(t *testing.T, opts ...chatrelay.HubOption) *chatrelay.Hub {
	t.Helper()
	opts = append([]chatrelay.HubOption{chatrelay.WithHubVerifier(allowAll)}, opts...)
	hub, err := chatrelay.NewHub(opts...)
	require.NoError(t, err)
	t.Cleanup(hub.Close)
	return hub
}

func testEvent(id int64) model.Event {
	data, _ := json.Marshal(map[string]int64{"id": id})
	return model.Event{Name: model.EventMessageSent, Data: data}
}

func receive(t *testing.T, c *chatrelay.Connection) model.Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return model.Event{}
	}
}

func assertNoEvent(t *testing.T, c *chatrelay.Connection) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestNewHub_RequiresVerifier(t *testing.T) {
	_, err := chatrelay.NewHub()
	assert.True(t, chatrelay.HasCode(err, chatrelay.ErrCodeConfiguration))

	_, err = chatrelay.NewHub(chatrelay.WithHubVerifier(allowAll), chatrelay.WithBufferSize(0))
	assert.True(t, chatrelay.HasCode(err, chatrelay.ErrCodeConfiguration))
}

func TestHub_PublishFansOutToChannel(t *testing.T) {
	hub := newHub(t)
	ctx := context.Background()

	a1, err := hub.Connect()
	require.NoError(t, err)
	a2, err := hub.Connect()
	require.NoError(t, err)
	b, err := hub.Connect()
	require.NoError(t, err)

	require.NoError(t, a1.Subscribe(ctx, "private-chat.2", "grant"))
	require.NoError(t, a2.Subscribe(ctx, "chat.2", "grant"))
	require.NoError(t, b.Subscribe(ctx, "chat.3", "grant"))

	require.NoError(t, hub.Publish(ctx, "chat.2", testEvent(1)))

	for _, c := range []*chatrelay.Connection{a1, a2} {
		ev := receive(t, c)
		assert.Equal(t, model.EventMessageSent, ev.Name)
		assert.Equal(t, "chat.2", ev.Channel)
	}
	assertNoEvent(t, b)

	stats := hub.Stats()
	assert.Equal(t, 3, stats.Connections)
	assert.Equal(t, 3, stats.Subscriptions)
	assert.Equal(t, int64(1), stats.Published)
	assert.Equal(t, int64(2), stats.Delivered)
}

func TestHub_NoReplayForLateSubscribers(t *testing.T) {
	hub := newHub(t)
	ctx := context.Background()

	require.NoError(t, hub.Publish(ctx, "chat.2", testEvent(1)))

	c, err := hub.Connect()
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, "chat.2", "grant"))

	assertNoEvent(t, c)
}

func TestHub_InOrderPerConnection(t *testing.T) {
	hub := newHub(t)
	ctx := context.Background()

	c, err := hub.Connect()
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, "chat.2", "grant"))

	for i := int64(1); i <= 10; i++ {
		require.NoError(t, hub.Publish(ctx, "chat.2", testEvent(i)))
	}
	for i := int64(1); i <= 10; i++ {
		ev := receive(t, c)
		assert.JSONEq(t, string(testEvent(i).Data), string(ev.Data))
	}
}

func TestHub_SubscribeReplacesPrevious(t *testing.T) {
	notes := &recordingNotifications{}
	hub := newHub(t, chatrelay.WithHubNotifications(notes))
	ctx := context.Background()

	c, err := hub.Connect()
	require.NoError(t, err)

	require.NoError(t, c.Subscribe(ctx, "chat.2", "grant"))
	require.NoError(t, c.Subscribe(ctx, "chat.2", "grant"))
	require.NoError(t, c.Subscribe(ctx, "chat.3", "grant"))

	assert.Equal(t, "chat.3", c.Subscription())
	assert.Equal(t, 1, hub.Stats().Subscriptions)

	require.NoError(t, hub.Publish(ctx, "chat.2", testEvent(1)))
	assertNoEvent(t, c)

	notes.mu.Lock()
	assert.Equal(t, []string{"chat.2", "chat.3"}, notes.created)
	assert.Equal(t, []string{"chat.2"}, notes.removed)
	notes.mu.Unlock()
}

func TestHub_SubscribeRejected(t *testing.T) {
	denied := chatrelay.NewError(chatrelay.ErrCodeUnauthorized, "denied")
	hub := newHub(t, chatrelay.WithHubVerifier(verifierFunc(func(_, _, _ string) error { return denied })))
	ctx := context.Background()

	c, err := hub.Connect()
	require.NoError(t, err)

	err = c.Subscribe(ctx, "chat.2", "forged")
	assert.True(t, chatrelay.IsUnauthorized(err))
	assert.Empty(t, c.Subscription())

	err = c.Subscribe(ctx, "lobby", "grant")
	assert.True(t, chatrelay.IsUnauthorized(err))
}

func TestHub_SubscribeVerifiesCanonicalChannel(t *testing.T) {
	var seen string
	hub := newHub(t, chatrelay.WithHubVerifier(verifierFunc(func(_, channel, _ string) error {
		seen = channel
		return nil
	})))

	c, err := hub.Connect()
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(context.Background(), "private-chat.5", "grant"))

	assert.Equal(t, "chat.5", seen)
	assert.Equal(t, "chat.5", c.Subscription())
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := newHub(t)
	ctx := context.Background()

	c, err := hub.Connect()
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, "chat.2", "grant"))

	c.Unsubscribe(ctx, "chat.9")
	assert.Equal(t, "chat.2", c.Subscription())

	c.Unsubscribe(ctx, "private-chat.2")
	assert.Empty(t, c.Subscription())

	require.NoError(t, hub.Publish(ctx, "chat.2", testEvent(1)))
	assertNoEvent(t, c)
}

func TestHub_SlowConnectionDropped(t *testing.T) {
	notes := &recordingNotifications{}
	hub := newHub(t, chatrelay.WithBufferSize(2), chatrelay.WithHubNotifications(notes))
	ctx := context.Background()

	slow, err := hub.Connect()
	require.NoError(t, err)
	fast, err := hub.Connect()
	require.NoError(t, err)
	require.NoError(t, slow.Subscribe(ctx, "chat.2", "grant"))
	require.NoError(t, fast.Subscribe(ctx, "chat.2", "grant"))

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, hub.Publish(ctx, "chat.2", testEvent(i)))
		receive(t, fast)
	}

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow connection not closed")
	}
	assert.Equal(t, chatrelay.ReasonBufferOverflow, slow.Reason())
	assert.Empty(t, fast.Reason())

	stats := hub.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, int64(1), stats.Dropped)

	notes.mu.Lock()
	assert.Equal(t, []string{slow.SocketID()}, notes.dropped)
	notes.mu.Unlock()
}

func TestHub_ConnectionClose(t *testing.T) {
	hub := newHub(t)
	ctx := context.Background()

	c, err := hub.Connect()
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(ctx, "chat.2", "grant"))

	c.Close()
	c.Close()

	<-c.Done()
	assert.Equal(t, chatrelay.ReasonClosed, c.Reason())
	assert.Equal(t, chatrelay.HubStats{}, hub.Stats())

	assert.Error(t, c.Subscribe(ctx, "chat.2", "grant"))
}

func TestHub_Close(t *testing.T) {
	hub := newHub(t)

	c, err := hub.Connect()
	require.NoError(t, err)

	hub.Close()

	<-c.Done()
	assert.Equal(t, chatrelay.ReasonHubClosed, c.Reason())

	_, err = hub.Connect()
	assert.ErrorIs(t, err, chatrelay.ErrRelayClosed)
	assert.True(t, chatrelay.IsRelayUnavailable(hub.Publish(context.Background(), "chat.1", testEvent(1))))
}

func TestHub_PublishCancelledContext(t *testing.T) {
	hub := newHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, chatrelay.IsRelayUnavailable(hub.Publish(ctx, "chat.1", testEvent(1))))
}

func TestHub_ConcurrentPublishAndSubscribe(t *testing.T) {
	hub := newHub(t, chatrelay.WithBufferSize(1024))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := hub.Connect()
			if !assert.NoError(t, err) {
				return
			}
			defer c.Close()
			for j := 0; j < 20; j++ {
				assert.NoError(t, c.Subscribe(ctx, "chat.1", "grant"))
				assert.NoError(t, hub.Publish(ctx, "chat.1", testEvent(int64(j))))
				c.Unsubscribe(ctx, "chat.1")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, hub.Stats().Connections)
}
