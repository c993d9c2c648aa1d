package chatrelay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/coregx/chatrelay/model"
)

// Relay accepts an event for a channel and fans it out to the channel's subscribers.
// Delivery is best-effort: there is no persistence and no replay.
type Relay interface {
	Publish(ctx context.Context, channel string, ev model.Event) error
}

// Drop reasons reported by Connection.Reason.
const (
	ReasonClosed         = "closed"
	ReasonBufferOverflow = "buffer overflow"
	ReasonHubClosed      = "hub closed"
)

// Hub is the in-process Publish Relay.
//
// Each Connection owns a bounded event buffer. Publish never blocks on a connection:
// when a buffer is full the connection is dropped from fan-out and closed. A connection
// holds at most one subscription; subscribing again replaces the previous one.
//
// Thread safety: Safe for concurrent use.
type Hub struct {
	verifier      GrantVerifier
	logger        Logger
	notifications NotificationService
	bufferSize    int

	mu       sync.RWMutex
	conns    map[string]*Connection
	channels map[string]map[string]*Connection
	closed   bool

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// HubStats is a snapshot of hub counters.
type HubStats struct {
	Connections   int   `json:"connections"`
	Subscriptions int   `json:"subscriptions"`
	Published     int64 `json:"published"`
	Delivered     int64 `json:"delivered"`
	Dropped       int64 `json:"dropped"`
}

// NewHub creates a Hub.
//
// Required options:
//   - WithHubVerifier: grant verification on subscribe
func NewHub(opts ...HubOption) (*Hub, error) {
	h := &Hub{
		logger:        &NoopLogger{},
		notifications: &NoOpNotificationService{},
		bufferSize:    DefaultBufferSize,
		conns:         make(map[string]*Connection),
		channels:      make(map[string]map[string]*Connection),
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply hub option", err)
		}
	}

	if h.verifier == nil {
		return nil, NewError(ErrCodeConfiguration, "GrantVerifier is required (use WithHubVerifier)")
	}

	return h, nil
}

// Connect registers a new connection with a fresh socket id.
func (h *Hub) Connect() (*Connection, error) {
	c := &Connection{
		hub:      h,
		socketID: uuid.NewString(),
		events:   make(chan model.Event, h.bufferSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrRelayClosed
	}
	h.conns[c.socketID] = c

	h.logger.Debugf("Connection opened: socket_id=%s", c.socketID)
	return c, nil
}

// Publish delivers ev to every connection subscribed to channel.
// The "private-" prefix is ignored. Connections whose buffer is full are dropped.
func (h *Hub) Publish(ctx context.Context, channel string, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return NewErrorWithCause(ErrCodeRelayUnavailable, "publish cancelled", err)
	}
	channel = model.CanonicalChannel(channel)
	if ev.Channel == "" {
		ev.Channel = channel
	}

	var slow []*Connection

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrRelayClosed
	}
	for _, c := range h.channels[channel] {
		select {
		case c.events <- ev:
			h.delivered.Add(1)
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	h.published.Add(1)

	for _, c := range slow {
		h.logger.Warnf("Dropping slow connection: socket_id=%s, channel=%s", c.socketID, channel)
		if c.closeWithReason(ReasonBufferOverflow) {
			h.dropped.Add(1)
			h.notifications.NotifySubscriberDropped(ctx, c.socketID, channel, ReasonBufferOverflow)
		}
	}
	return nil
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := 0
	for _, members := range h.channels {
		subs += len(members)
	}
	return HubStats{
		Connections:   len(h.conns),
		Subscriptions: subs,
		Published:     h.published.Load(),
		Delivered:     h.delivered.Load(),
		Dropped:       h.dropped.Load(),
	}
}

// Close disconnects every connection. Subsequent Connect and Publish calls fail with
// ErrRelayClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.closeWithReason(ReasonHubClosed)
	}
	h.logger.Infof("Hub closed: %d connections released", len(conns))
}

// subscribe moves c to channel and reports whether it joined a new channel.
// Caller has verified the grant.
func (h *Hub) subscribe(c *Connection, channel string) (previous string, joined bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.socketID]; !ok {
		return "", false, ErrRelayClosed
	}
	previous = c.channel
	if previous == channel {
		return "", false, nil
	}
	h.detachLocked(c)

	members, ok := h.channels[channel]
	if !ok {
		members = make(map[string]*Connection)
		h.channels[channel] = members
	}
	members[c.socketID] = c
	c.channel = channel
	return previous, true, nil
}

// unsubscribe removes c from its channel if it is channel. Returns whether it was removed.
func (h *Hub) unsubscribe(c *Connection, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.channel == "" || c.channel != channel {
		return false
	}
	h.detachLocked(c)
	return true
}

// remove forgets c entirely and returns the channel it was subscribed to.
func (h *Hub) remove(c *Connection) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	channel := c.channel
	h.detachLocked(c)
	delete(h.conns, c.socketID)
	return channel
}

func (h *Hub) detachLocked(c *Connection) {
	if c.channel == "" {
		return
	}
	if members, ok := h.channels[c.channel]; ok {
		delete(members, c.socketID)
		if len(members) == 0 {
			delete(h.channels, c.channel)
		}
	}
	c.channel = ""
}

// Connection is one transport session attached to a Hub.
//
// Events are read from Events until Done is closed. The events channel itself is never
// closed.
type Connection struct {
	hub      *Hub
	socketID string
	events   chan model.Event
	done     chan struct{}

	closeOnce sync.Once
	reason    atomic.Value

	// channel is guarded by hub.mu.
	channel string
}

// SocketID returns the connection's unique id, used to bind grants.
func (c *Connection) SocketID() string {
	return c.socketID
}

// Events returns the stream of delivered events.
func (c *Connection) Events() <-chan model.Event {
	return c.events
}

// Done is closed when the connection is closed by either side.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Reason returns why the connection was closed, or "" while it is open.
func (c *Connection) Reason() string {
	if r, ok := c.reason.Load().(string); ok {
		return r
	}
	return ""
}

// Subscription returns the current canonical channel, or "" when unsubscribed.
func (c *Connection) Subscription() string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.channel
}

// Subscribe verifies auth and attaches the connection to channel, replacing any previous
// subscription. Subscribing twice to the same channel is a no-op.
func (c *Connection) Subscribe(ctx context.Context, channel, auth string) error {
	canonical := model.CanonicalChannel(channel)
	if _, err := model.ParseChannel(canonical); err != nil {
		return NewErrorWithCause(ErrCodeUnauthorized, "unknown channel", err)
	}
	if err := c.hub.verifier.Verify(c.socketID, canonical, auth); err != nil {
		return err
	}

	previous, joined, err := c.hub.subscribe(c, canonical)
	if err != nil || !joined {
		return err
	}
	if previous != "" {
		c.hub.notifications.NotifySubscriptionRemoved(ctx, c.socketID, previous)
	}
	c.hub.logger.Debugf("Subscribed: socket_id=%s, channel=%s", c.socketID, canonical)
	c.hub.notifications.NotifySubscriptionCreated(ctx, c.socketID, canonical)
	return nil
}

// Unsubscribe detaches the connection from channel. Unknown channels are ignored.
func (c *Connection) Unsubscribe(ctx context.Context, channel string) {
	canonical := model.CanonicalChannel(channel)
	if c.hub.unsubscribe(c, canonical) {
		c.hub.logger.Debugf("Unsubscribed: socket_id=%s, channel=%s", c.socketID, canonical)
		c.hub.notifications.NotifySubscriptionRemoved(ctx, c.socketID, canonical)
	}
}

// Close unsubscribes and releases the connection. Safe to call more than once.
func (c *Connection) Close() {
	c.closeWithReason(ReasonClosed)
}

// closeWithReason reports whether this call performed the close.
func (c *Connection) closeWithReason(reason string) bool {
	closed := false
	c.closeOnce.Do(func() {
		closed = true
		c.reason.Store(reason)
		channel := c.hub.remove(c)
		close(c.done)
		if channel != "" {
			c.hub.notifications.NotifySubscriptionRemoved(context.Background(), c.socketID, channel)
		}
		c.hub.logger.Debugf("Connection closed: socket_id=%s, reason=%s", c.socketID, reason)
	})
	return closed
}
