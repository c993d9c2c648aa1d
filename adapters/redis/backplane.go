// Package redis links the relays of several server nodes over Redis pub/sub.
//
// The Backplane is a chatrelay.Relay: the Sender publishes to Redis, and every node runs
// Backplane.Run to forward Redis messages into its local Hub. Redis pub/sub is
// fire-and-forget, which matches the relay's no-replay contract.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/model"
)

// DefaultChannelPrefix namespaces relay channels in Redis.
const DefaultChannelPrefix = "chatrelay:"

// Client is the subset of the go-redis client used by the Backplane.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	PSubscribe(ctx context.Context, channels ...string) *goredis.PubSub
}

// Backplane publishes relay events to Redis and bridges them back into a local relay.
type Backplane struct {
	client Client
	local  chatrelay.Relay
	prefix string
	logger chatrelay.Logger
}

// Option configures a Backplane.
type Option func(*Backplane) error

// NewBackplane creates a Backplane.
//
// Required options:
//   - WithClient: Redis connection
//   - WithLocalRelay: relay that receives events from Redis (usually the node's Hub)
func NewBackplane(opts ...Option) (*Backplane, error) {
	b := &Backplane{
		prefix: DefaultChannelPrefix,
		logger: &chatrelay.NoopLogger{},
	}

	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, chatrelay.NewErrorWithCause(chatrelay.ErrCodeConfiguration, "failed to apply backplane option", err)
		}
	}

	if b.client == nil {
		return nil, chatrelay.NewError(chatrelay.ErrCodeConfiguration, "Redis client is required (use WithClient)")
	}
	if b.local == nil {
		return nil, chatrelay.NewError(chatrelay.ErrCodeConfiguration, "local relay is required (use WithLocalRelay)")
	}

	return b, nil
}

// WithClient sets the Redis client.
func WithClient(client Client) Option {
	return func(b *Backplane) error {
		if client == nil {
			return fmt.Errorf("client cannot be nil")
		}
		b.client = client
		return nil
	}
}

// WithLocalRelay sets the relay Redis messages are forwarded to.
func WithLocalRelay(relay chatrelay.Relay) Option {
	return func(b *Backplane) error {
		if relay == nil {
			return fmt.Errorf("relay cannot be nil")
		}
		b.local = relay
		return nil
	}
}

// WithChannelPrefix overrides DefaultChannelPrefix.
func WithChannelPrefix(prefix string) Option {
	return func(b *Backplane) error {
		if prefix == "" {
			return fmt.Errorf("prefix cannot be empty")
		}
		b.prefix = prefix
		return nil
	}
}

// WithLogger sets the logger instance.
func WithLogger(logger chatrelay.Logger) Option {
	return func(b *Backplane) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		b.logger = logger
		return nil
	}
}

// Publish implements chatrelay.Relay by publishing ev to Redis.
func (b *Backplane) Publish(ctx context.Context, channel string, ev model.Event) error {
	channel = model.CanonicalChannel(channel)
	if ev.Channel == "" {
		ev.Channel = channel
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return chatrelay.NewErrorWithCause(chatrelay.ErrCodeRelayUnavailable, "failed to encode event", err)
	}
	if err := b.client.Publish(ctx, b.prefix+channel, payload).Err(); err != nil {
		return chatrelay.NewErrorWithCause(chatrelay.ErrCodeRelayUnavailable, "failed to publish to redis", err)
	}
	return nil
}

// Run forwards Redis messages to the local relay until ctx is done.
// Returns an error when the subscription cannot be established or is lost.
func (b *Backplane) Run(ctx context.Context) error {
	ps := b.client.PSubscribe(ctx, b.prefix+"*")
	defer func() {
		if err := ps.Close(); err != nil {
			b.logger.Warnf("redis: failed to close subscription: %v", err)
		}
	}()

	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return chatrelay.NewErrorWithCause(chatrelay.ErrCodeNetwork, "failed to subscribe to redis", err)
	}
	b.logger.Infof("redis: backplane subscribed to %s*", b.prefix)

	messages := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return chatrelay.NewError(chatrelay.ErrCodeNetwork, "redis subscription closed")
			}
			b.deliver(ctx, msg.Channel, msg.Payload)
		}
	}
}

func (b *Backplane) deliver(ctx context.Context, redisChannel, payload string) {
	channel := strings.TrimPrefix(redisChannel, b.prefix)

	var ev model.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		b.logger.Warnf("redis: dropping malformed event on %s: %v", redisChannel, err)
		return
	}
	if err := b.local.Publish(ctx, channel, ev); err != nil {
		b.logger.Warnf("redis: local publish on %s failed: %v", channel, err)
	}
}
