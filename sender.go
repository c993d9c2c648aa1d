package chatrelay

import (
	"context"
	"fmt"
	"time"

	"github.com/coregx/chatrelay/model"
)

// DefaultPublishTimeout bounds the relay hand-off of a single send.
const DefaultPublishTimeout = 2 * time.Second

// Sender handles the send path: validate, persist, then publish to the receiver's channel.
//
// A send succeeds once the message is durable. Relay failures are logged, reported to the
// NotificationService and swallowed; the receiver will still see the message in history.
type Sender struct {
	store          *MessageStore
	relay          Relay
	logger         Logger
	notifications  NotificationService
	publishTimeout time.Duration
}

// SenderOption configures a Sender.
type SenderOption func(*Sender) error

// NewSender creates a new Sender with the provided options.
//
// Required options:
//   - WithSenderStore: message persistence
//   - WithSenderRelay: live delivery
//
// Example:
//
//	sender, err := chatrelay.NewSender(
//	    chatrelay.WithSenderStore(store),
//	    chatrelay.WithSenderRelay(hub),
//	    chatrelay.WithSenderLogger(logger),
//	)
func NewSender(opts ...SenderOption) (*Sender, error) {
	s := &Sender{
		logger:         &NoopLogger{},
		notifications:  &NoOpNotificationService{},
		publishTimeout: DefaultPublishTimeout,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply sender option", err)
		}
	}

	if s.store == nil {
		return nil, NewError(ErrCodeConfiguration, "MessageStore is required (use WithSenderStore)")
	}
	if s.relay == nil {
		return nil, NewError(ErrCodeConfiguration, "Relay is required (use WithSenderRelay)")
	}

	return s, nil
}

// WithSenderStore sets the message store.
func WithSenderStore(store *MessageStore) SenderOption {
	return func(s *Sender) error {
		if store == nil {
			return fmt.Errorf("store cannot be nil")
		}
		s.store = store
		return nil
	}
}

// WithSenderRelay sets the relay messages are published to.
func WithSenderRelay(relay Relay) SenderOption {
	return func(s *Sender) error {
		if relay == nil {
			return fmt.Errorf("relay cannot be nil")
		}
		s.relay = relay
		return nil
	}
}

// WithSenderLogger sets the logger instance.
func WithSenderLogger(logger Logger) SenderOption {
	return func(s *Sender) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithSenderNotifications sets the notification service for relay failures.
func WithSenderNotifications(service NotificationService) SenderOption {
	return func(s *Sender) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		s.notifications = service
		return nil
	}
}

// WithPublishTimeout overrides DefaultPublishTimeout.
func WithPublishTimeout(timeout time.Duration) SenderOption {
	return func(s *Sender) error {
		if timeout <= 0 {
			return fmt.Errorf("publish timeout must be > 0, got %v", timeout)
		}
		s.publishTimeout = timeout
		return nil
	}
}

// SendRequest represents a request to send a direct message.
type SendRequest struct {
	SenderID   int64  // Authenticated caller
	ReceiverID int64  // Addressee
	Body       string // Message text
}

// SendResult represents the result of a send operation.
type SendResult struct {
	Message   model.Message // Persisted message
	Delivered bool          // Whether the relay accepted the event
}

// Send persists a message and publishes it on the receiver's channel.
//
// The process:
//  1. Validate the request
//  2. Append to the MessageStore (durable on return)
//  3. Publish MessageSent on chat.<receiver_id>
//
// Only validation and persistence errors are returned.
func (s *Sender) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if err := s.store.ValidateBody(req.Body); err != nil {
		return nil, err
	}

	msg, err := s.store.Append(ctx, req.SenderID, req.ReceiverID, req.Body)
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Message created: id=%d, sender=%d, receiver=%d", msg.ID, msg.SenderID, msg.ReceiverID)

	return &SendResult{
		Message:   msg,
		Delivered: s.publish(ctx, msg),
	}, nil
}

// publish hands msg to the relay. The caller may have hung up by now; the message is
// already stored, so the hand-off runs on a context detached from the request.
func (s *Sender) publish(ctx context.Context, msg model.Message) bool {
	channel := msg.DeliveryChannel()

	ev, err := model.NewMessageSentEvent(msg)
	if err == nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
		err = s.relay.Publish(pctx, channel, ev)
		cancel()
	}
	if err != nil {
		if !IsRelayUnavailable(err) {
			err = NewErrorWithCause(ErrCodeRelayUnavailable, "publish failed", err)
		}
		s.logger.Errorf("Failed to publish message %d to %s: %v", msg.ID, channel, err)
		s.notifications.NotifyRelayFailure(ctx, msg, channel, err)
		return false
	}

	s.logger.Debugf("Published message %d to %s", msg.ID, channel)
	return true
}
