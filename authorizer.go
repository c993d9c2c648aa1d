package chatrelay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coregx/chatrelay/model"
)

// DefaultGrantTTL is how long a subscription grant stays valid.
const DefaultGrantTTL = 5 * time.Minute

// GrantVerifier checks the auth string presented by a connection on subscribe.
type GrantVerifier interface {
	Verify(socketID, channel, auth string) error
}

// ChannelAuthorizer decides whether an identity may join a private channel and signs grants.
//
// An identity may only subscribe to its own channel "chat.<id>". The decision is stateless;
// grants are HMAC-SHA256 signatures over the socket id, the canonical channel name and the
// expiry, so any node sharing the secret can verify them.
//
// Thread safety: Safe for concurrent use.
type ChannelAuthorizer struct {
	key    string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// AuthorizerOption configures a ChannelAuthorizer.
type AuthorizerOption func(*ChannelAuthorizer) error

// NewChannelAuthorizer creates a ChannelAuthorizer.
//
// Required options:
//   - WithSigningKey: public app key and signing secret
func NewChannelAuthorizer(opts ...AuthorizerOption) (*ChannelAuthorizer, error) {
	a := &ChannelAuthorizer{
		ttl: DefaultGrantTTL,
		now: time.Now,
	}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply authorizer option", err)
		}
	}

	if a.key == "" || len(a.secret) == 0 {
		return nil, NewError(ErrCodeConfiguration, "signing key is required (use WithSigningKey)")
	}

	return a, nil
}

// WithSigningKey sets the public app key and the secret grants are signed with.
// The key must not contain ':'.
func WithSigningKey(key, secret string) AuthorizerOption {
	return func(a *ChannelAuthorizer) error {
		if key == "" || strings.Contains(key, ":") {
			return fmt.Errorf("invalid app key %q", key)
		}
		if secret == "" {
			return fmt.Errorf("secret cannot be empty")
		}
		a.key = key
		a.secret = []byte(secret)
		return nil
	}
}

// WithGrantTTL overrides DefaultGrantTTL.
func WithGrantTTL(ttl time.Duration) AuthorizerOption {
	return func(a *ChannelAuthorizer) error {
		if ttl <= 0 {
			return fmt.Errorf("grant ttl must be > 0, got %v", ttl)
		}
		a.ttl = ttl
		return nil
	}
}

// WithAuthorizerClock replaces time.Now.
func WithAuthorizerClock(now func() time.Time) AuthorizerOption {
	return func(a *ChannelAuthorizer) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		a.now = now
		return nil
	}
}

// Key returns the public app key.
func (a *ChannelAuthorizer) Key() string {
	return a.key
}

// Authorize issues a grant binding socketID to channelName for identity.
// Returns an UNAUTHORIZED error unless channelName addresses the identity's own channel.
// The "private-" prefix is accepted and echoed back in the grant.
func (a *ChannelAuthorizer) Authorize(identity model.Identity, channelName, socketID string) (model.Grant, error) {
	if identity.IsZero() {
		return model.Grant{}, NewError(ErrCodeUnauthorized, "no identity")
	}
	if socketID == "" {
		return model.Grant{}, NewError(ErrCodeValidation, "socket_id is required")
	}

	target, err := model.ParseChannel(channelName)
	if err != nil {
		return model.Grant{}, NewErrorWithCause(ErrCodeUnauthorized, "channel not authorized", err)
	}
	if target != identity.ID {
		return model.Grant{}, NewError(ErrCodeUnauthorized,
			fmt.Sprintf("identity %d may not subscribe to %s", identity.ID, channelName))
	}

	expiresAt := a.now().Add(a.ttl).Truncate(time.Second)
	expiry := strconv.FormatInt(expiresAt.Unix(), 10)

	return model.Grant{
		ChannelName: channelName,
		IdentityID:  identity.ID,
		SocketID:    socketID,
		Auth:        a.key + ":" + expiry + ":" + a.sign(socketID, model.CanonicalChannel(channelName), expiry),
		ExpiresAt:   expiresAt,
	}, nil
}

// Verify checks that auth is a live grant issued by this authorizer for socketID and channel.
func (a *ChannelAuthorizer) Verify(socketID, channel, auth string) error {
	parts := strings.Split(auth, ":")
	if len(parts) != 3 || parts[0] != a.key {
		return NewError(ErrCodeUnauthorized, "malformed grant")
	}

	expiryUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return NewErrorWithCause(ErrCodeUnauthorized, "malformed grant expiry", err)
	}

	expected := a.sign(socketID, model.CanonicalChannel(channel), parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return NewError(ErrCodeUnauthorized, "grant signature mismatch")
	}

	grant := model.Grant{ExpiresAt: time.Unix(expiryUnix, 0)}
	if grant.Expired(a.now()) {
		return NewError(ErrCodeUnauthorized, "grant expired")
	}
	return nil
}

func (a *ChannelAuthorizer) sign(socketID, channel, expiry string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(socketID + ":" + channel + ":" + expiry))
	return hex.EncodeToString(mac.Sum(nil))
}
