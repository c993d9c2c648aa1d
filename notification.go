package chatrelay

import (
	"context"

	"github.com/coregx/chatrelay/model"
)

// NotificationService defines an optional interface for reporting relay events
// (publish failures, dropped subscribers, subscription changes).
//
// Implementations might export metrics, page an operator or log to monitoring systems.
// Calls happen on the hot path: implementations must not block.
type NotificationService interface {
	// NotifyRelayFailure is called when a stored message could not be handed to the relay.
	// The message is durable; only its live delivery was lost.
	NotifyRelayFailure(ctx context.Context, msg model.Message, channel string, err error)

	// NotifySubscriberDropped is called when a connection is disconnected by the relay
	// (buffer overflow, write failure).
	NotifySubscriberDropped(ctx context.Context, socketID, channel, reason string)

	// NotifySubscriptionCreated is called when a connection joins a channel.
	NotifySubscriptionCreated(ctx context.Context, socketID, channel string)

	// NotifySubscriptionRemoved is called when a connection leaves a channel.
	NotifySubscriptionRemoved(ctx context.Context, socketID, channel string)
}

// NoOpNotificationService is a no-op implementation of NotificationService.
// Use this when notifications are not needed.
type NoOpNotificationService struct{}

// NotifyRelayFailure does nothing.
func (n *NoOpNotificationService) NotifyRelayFailure(_ context.Context, _ model.Message, _ string, _ error) {
}

// NotifySubscriberDropped does nothing.
func (n *NoOpNotificationService) NotifySubscriberDropped(_ context.Context, _, _, _ string) {}

// NotifySubscriptionCreated does nothing.
func (n *NoOpNotificationService) NotifySubscriptionCreated(_ context.Context, _, _ string) {}

// NotifySubscriptionRemoved does nothing.
func (n *NoOpNotificationService) NotifySubscriptionRemoved(_ context.Context, _, _ string) {}

// LoggingNotificationService is a simple implementation that logs notifications.
type LoggingNotificationService struct {
	logger Logger
}

// NewLoggingNotificationService creates a new LoggingNotificationService.
func NewLoggingNotificationService(logger Logger) *LoggingNotificationService {
	return &LoggingNotificationService{logger: logger}
}

// NotifyRelayFailure logs a lost live delivery.
func (n *LoggingNotificationService) NotifyRelayFailure(_ context.Context, msg model.Message, channel string, err error) {
	n.logger.Warnf("⚠️ Relay publish failed: message_id=%d, channel=%s, error=%v", msg.ID, channel, err)
}

// NotifySubscriberDropped logs a forced disconnect.
func (n *LoggingNotificationService) NotifySubscriberDropped(_ context.Context, socketID, channel, reason string) {
	n.logger.Warnf("⚠️ Subscriber dropped: socket_id=%s, channel=%s, reason=%s", socketID, channel, reason)
}

// NotifySubscriptionCreated logs a channel join.
func (n *LoggingNotificationService) NotifySubscriptionCreated(_ context.Context, socketID, channel string) {
	n.logger.Infof("✅ Subscription created: socket_id=%s, channel=%s", socketID, channel)
}

// NotifySubscriptionRemoved logs a channel leave.
func (n *LoggingNotificationService) NotifySubscriptionRemoved(_ context.Context, socketID, channel string) {
	n.logger.Infof("🔴 Subscription removed: socket_id=%s, channel=%s", socketID, channel)
}

// MultiNotificationService fans a notification out to several services in order.
type MultiNotificationService []NotificationService

// NotifyRelayFailure forwards to every service.
func (m MultiNotificationService) NotifyRelayFailure(ctx context.Context, msg model.Message, channel string, err error) {
	for _, n := range m {
		n.NotifyRelayFailure(ctx, msg, channel, err)
	}
}

// NotifySubscriberDropped forwards to every service.
func (m MultiNotificationService) NotifySubscriberDropped(ctx context.Context, socketID, channel, reason string) {
	for _, n := range m {
		n.NotifySubscriberDropped(ctx, socketID, channel, reason)
	}
}

// NotifySubscriptionCreated forwards to every service.
func (m MultiNotificationService) NotifySubscriptionCreated(ctx context.Context, socketID, channel string) {
	for _, n := range m {
		n.NotifySubscriptionCreated(ctx, socketID, channel)
	}
}

// NotifySubscriptionRemoved forwards to every service.
func (m MultiNotificationService) NotifySubscriptionRemoved(ctx context.Context, socketID, channel string) {
	for _, n := range m {
		n.NotifySubscriptionRemoved(ctx, socketID, channel)
	}
}
