package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/model"
	"github.com/coregx/chatrelay/protocol"
	"github.com/coregx/chatrelay/retry"
)

// DefaultHandshakeTimeout bounds the wait for connection_established and the
// subscription acknowledgement.
const DefaultHandshakeTimeout = 10 * time.Second

// GrantRequester obtains subscription grants from the Channel Authorizer.
// API implements it against POST /broadcasting/auth.
type GrantRequester interface {
	AuthorizeChannel(ctx context.Context, socketID, channel string) (model.Grant, error)
}

// Connector keeps one subscription to the identity's private channel alive.
//
// Each session dials the relay, waits for a socket id, requests a grant, subscribes and
// then receives events until the transport drops. A dropped session is retried with
// exponential backoff, starting again from the dial. A denied grant ends Run with an
// UNAUTHORIZED error. Cancelling the Run context or calling Close unsubscribes, closes the
// transport and ends Run with nil.
//
// Thread safety: Run must not be called concurrently; State, View and Close are safe from
// any goroutine.
type Connector struct {
	dialer           Dialer
	grants           GrantRequester
	identity         model.Identity
	strategy         retry.Strategy
	view             *MessageView
	logger           chatrelay.Logger
	onMessage        func(model.Message)
	onState          func(State)
	handshakeTimeout time.Duration

	mu      sync.Mutex
	state   State
	running bool
	cancel  context.CancelFunc
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector) error

// NewConnector creates a Connector.
//
// Required options:
//   - WithDialer: relay transport
//   - WithGrants: channel authorization
//   - WithIdentity: whose channel to subscribe to
func NewConnector(opts ...ConnectorOption) (*Connector, error) {
	c := &Connector{
		strategy:         retry.DefaultStrategy(),
		logger:           &chatrelay.NoopLogger{},
		handshakeTimeout: DefaultHandshakeTimeout,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, chatrelay.NewErrorWithCause(chatrelay.ErrCodeConfiguration, "failed to apply connector option", err)
		}
	}

	if c.dialer == nil {
		return nil, chatrelay.NewError(chatrelay.ErrCodeConfiguration, "Dialer is required (use WithDialer)")
	}
	if c.grants == nil {
		return nil, chatrelay.NewError(chatrelay.ErrCodeConfiguration, "GrantRequester is required (use WithGrants)")
	}
	if c.identity.IsZero() {
		return nil, chatrelay.NewError(chatrelay.ErrCodeConfiguration, "identity is required (use WithIdentity)")
	}
	if c.view == nil {
		c.view = NewMessageView()
	}
	return c, nil
}

// WithDialer sets how transports are opened.
func WithDialer(d Dialer) ConnectorOption {
	return func(c *Connector) error {
		if d == nil {
			return fmt.Errorf("dialer cannot be nil")
		}
		c.dialer = d
		return nil
	}
}

// WithGrants sets the grant source.
func WithGrants(g GrantRequester) ConnectorOption {
	return func(c *Connector) error {
		if g == nil {
			return fmt.Errorf("grant requester cannot be nil")
		}
		c.grants = g
		return nil
	}
}

// WithIdentity sets the identity whose channel is subscribed.
func WithIdentity(id model.Identity) ConnectorOption {
	return func(c *Connector) error {
		if id.IsZero() {
			return fmt.Errorf("identity cannot be empty")
		}
		c.identity = id
		return nil
	}
}

// WithStrategy overrides the reconnect schedule.
func WithStrategy(s retry.Strategy) ConnectorOption {
	return func(c *Connector) error {
		if err := s.Validate(); err != nil {
			return err
		}
		c.strategy = s
		return nil
	}
}

// WithView shares a MessageView, e.g. one pre-filled from history.
func WithView(v *MessageView) ConnectorOption {
	return func(c *Connector) error {
		if v == nil {
			return fmt.Errorf("view cannot be nil")
		}
		c.view = v
		return nil
	}
}

// WithConnectorLogger sets the logger instance.
func WithConnectorLogger(logger chatrelay.Logger) ConnectorOption {
	return func(c *Connector) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithHandshakeTimeout overrides DefaultHandshakeTimeout.
func WithHandshakeTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) error {
		if d <= 0 {
			return fmt.Errorf("handshake timeout must be > 0, got %v", d)
		}
		c.handshakeTimeout = d
		return nil
	}
}

// OnMessage registers a callback for each new message added to the view.
// It runs on the Run goroutine, in arrival order.
func OnMessage(fn func(model.Message)) ConnectorOption {
	return func(c *Connector) error {
		c.onMessage = fn
		return nil
	}
}

// OnStateChange registers a callback for state transitions. It runs on the Run goroutine.
func OnStateChange(fn func(State)) ConnectorOption {
	return func(c *Connector) error {
		c.onState = fn
		return nil
	}
}

// Channel returns the channel name the connector subscribes to.
func (c *Connector) Channel() string {
	return model.PrivatePrefix + model.ChannelFor(c.identity.ID)
}

// View returns the message view fed by the connector.
func (c *Connector) View() *MessageView {
	return c.view
}

// State returns the current state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close stops a running connector. Safe to call at any time.
func (c *Connector) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run connects and keeps the subscription alive until ctx is done or Close is called,
// which return nil. A denied grant returns an UNAUTHORIZED error; a strategy with
// MaxAttempts returns a NETWORK_ERROR once reconnects are exhausted.
func (c *Connector) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		cancel()
		return chatrelay.NewError(chatrelay.ErrCodeConfiguration, "connector is already running")
	}
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
		c.setState(Disconnected)
	}()

	c.logger.Debugf("connector: %s", c.strategy.GetRetrySchedule(3))
	backoff := retry.NewBackoff(c.strategy)
	for {
		err := c.session(ctx, backoff)
		if ctx.Err() != nil {
			return nil
		}
		if chatrelay.IsUnauthorized(err) || chatrelay.HasCode(err, chatrelay.ErrCodeConfiguration) {
			c.logger.Errorf("connector: giving up: %v", err)
			return err
		}

		c.setState(Reconnecting)
		c.logger.Warnf("connector: session lost (attempt %d): %v", backoff.Attempts()+1, err)
		if werr := backoff.Wait(ctx); werr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return chatrelay.NewErrorWithCause(chatrelay.ErrCodeNetwork, "reconnect attempts exhausted", err)
		}
	}
}

// session runs one connection from dial to drop. The transport is unsubscribed and
// closed on every return path.
func (c *Connector) session(ctx context.Context, backoff *retry.Backoff) error {
	c.setState(Authenticating)

	t, err := c.dialer.Dial(ctx)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	frames := make(chan protocol.Frame)
	readErr := make(chan error, 1)
	go c.readLoop(t, frames, readErr, done)

	subscribed := false
	channel := c.Channel()
	defer func() {
		if subscribed {
			if f, err := protocol.NewFrame(protocol.EventUnsubscribe, "", protocol.Unsubscribe{Channel: channel}); err == nil {
				_ = t.WriteFrame(f)
			}
		}
		close(done)
		_ = t.Close()
	}()

	next := func(timeout <-chan time.Time) (protocol.Frame, error) {
		select {
		case f := <-frames:
			return f, nil
		case err := <-readErr:
			return protocol.Frame{}, err
		case <-ctx.Done():
			return protocol.Frame{}, ctx.Err()
		case <-timeout:
			return protocol.Frame{}, chatrelay.NewError(chatrelay.ErrCodeNetwork, "handshake timed out")
		}
	}

	handshake := time.NewTimer(c.handshakeTimeout)
	defer handshake.Stop()

	socketID, err := c.awaitEstablished(next, handshake.C)
	if err != nil {
		return err
	}

	grant, err := c.grants.AuthorizeChannel(ctx, socketID, channel)
	if err != nil {
		if chatrelay.IsUnauthorized(err) {
			return err
		}
		return chatrelay.NewErrorWithCause(chatrelay.ErrCodeNetwork, "request grant", err)
	}

	c.setState(Subscribing)
	sub, err := protocol.NewFrame(protocol.EventSubscribe, "", protocol.Subscribe{Channel: channel, Auth: grant.Auth})
	if err != nil {
		return err
	}
	if err := t.WriteFrame(sub); err != nil {
		return err
	}

	for !subscribed {
		f, err := next(handshake.C)
		if err != nil {
			return err
		}
		switch f.Event {
		case protocol.EventSubscriptionSucceeded:
			subscribed = true
		case model.EventMessageSent:
			// The relay may deliver before the ack reaches us.
			c.accept(f)
		case protocol.EventError:
			return relayError(f)
		case protocol.EventPing:
			if err := t.WriteFrame(protocol.Frame{Event: protocol.EventPong}); err != nil {
				return err
			}
		}
	}

	backoff.Reset()
	c.setState(Subscribed)
	c.logger.Infof("connector: subscribed to %s (socket_id=%s)", channel, socketID)

	for {
		f, err := next(nil)
		if err != nil {
			return err
		}
		switch f.Event {
		case model.EventMessageSent:
			c.receive(f)
		case protocol.EventPing:
			if err := t.WriteFrame(protocol.Frame{Event: protocol.EventPong}); err != nil {
				return err
			}
		case protocol.EventError:
			return relayError(f)
		}
	}
}

func (c *Connector) awaitEstablished(next func(<-chan time.Time) (protocol.Frame, error), timeout <-chan time.Time) (string, error) {
	for {
		f, err := next(timeout)
		if err != nil {
			return "", err
		}
		if f.Event != protocol.EventConnectionEstablished {
			continue
		}
		var est protocol.ConnectionEstablished
		if err := f.DecodeData(&est); err != nil || est.SocketID == "" {
			return "", chatrelay.NewErrorWithCause(chatrelay.ErrCodeNetwork, "bad connection_established", err)
		}
		return est.SocketID, nil
	}
}

// receive appends a delivered message to the view exactly once.
func (c *Connector) receive(f protocol.Frame) {
	c.setState(Receiving)
	defer c.setState(Subscribed)
	c.accept(f)
}

func (c *Connector) accept(f protocol.Frame) {
	msg, err := model.Event{Name: f.Event, Channel: f.Channel, Data: f.Data}.Message()
	if err != nil {
		c.logger.Warnf("connector: dropping undecodable event: %v", err)
		return
	}
	if !c.view.Add(msg) {
		c.logger.Debugf("connector: duplicate message %d ignored", msg.ID)
		return
	}
	if c.onMessage != nil {
		c.onMessage(msg)
	}
}

// readLoop forwards frames until the transport fails. Malformed frames are skipped.
func (c *Connector) readLoop(t Transport, frames chan<- protocol.Frame, readErr chan<- error, done <-chan struct{}) {
	for {
		f, err := t.ReadFrame()
		if err != nil {
			if chatrelay.IsNetwork(err) {
				readErr <- err
				return
			}
			c.logger.Warnf("connector: skipping frame: %v", err)
			continue
		}
		select {
		case frames <- f:
		case <-done:
			return
		}
	}
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	if c.onState != nil {
		c.onState(s)
	}
}

// relayError maps a pusher:error frame to an error. 4009 is terminal; everything else
// asks for a reconnect.
func relayError(f protocol.Frame) error {
	var perr protocol.Error
	if err := f.DecodeData(&perr); err != nil {
		return chatrelay.NewErrorWithCause(chatrelay.ErrCodeNetwork, "relay error", err)
	}
	if perr.Code == protocol.CodeUnauthorized {
		return chatrelay.NewError(chatrelay.ErrCodeUnauthorized, perr.Message)
	}
	return chatrelay.NewErrorWithCause(chatrelay.ErrCodeNetwork, "relay error",
		fmt.Errorf("%d: %s", perr.Code, perr.Message))
}
