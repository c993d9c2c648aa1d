package chatrelay

import (
	"fmt"
)

// DefaultBufferSize is the per-connection event buffer of a Hub.
const DefaultBufferSize = 64

// HubOption is a function that configures a Hub.
//
// Example:
//
//	hub, err := chatrelay.NewHub(
//	    chatrelay.WithHubVerifier(authorizer),
//	    chatrelay.WithHubLogger(logger),
//	    chatrelay.WithBufferSize(128), // optional
//	)
type HubOption func(*Hub) error

// WithHubVerifier sets the grant verifier consulted on every subscribe.
//
// This is a required option for NewHub.
func WithHubVerifier(verifier GrantVerifier) HubOption {
	return func(h *Hub) error {
		if verifier == nil {
			return fmt.Errorf("verifier cannot be nil")
		}
		h.verifier = verifier
		return nil
	}
}

// WithHubLogger sets the logger instance.
// Default: NoopLogger.
func WithHubLogger(logger Logger) HubOption {
	return func(h *Hub) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		h.logger = logger
		return nil
	}
}

// WithBufferSize sets how many undelivered events a connection may hold before it is
// dropped from fan-out.
// Default: 64. Must be > 0.
func WithBufferSize(size int) HubOption {
	return func(h *Hub) error {
		if size <= 0 {
			return fmt.Errorf("buffer size must be > 0, got %d", size)
		}
		h.bufferSize = size
		return nil
	}
}

// WithHubNotifications sets the notification service for subscription and drop events.
// Default: NoOpNotificationService.
func WithHubNotifications(service NotificationService) HubOption {
	return func(h *Hub) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		h.notifications = service
		return nil
	}
}
