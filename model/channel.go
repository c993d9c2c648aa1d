package model

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// ChannelPrefix starts every per-identity channel name.
	ChannelPrefix = "chat."

	// PrivatePrefix is prepended by Echo/Pusher clients to private channel names.
	PrivatePrefix = "private-"
)

// ChannelFor returns the canonical channel of an identity: "chat.<id>".
//
// Channels are receiver-scoped, not pair-scoped: every conversation an identity takes part
// in as receiver is pushed on the same channel.
func ChannelFor(identityID int64) string {
	return ChannelPrefix + strconv.FormatInt(identityID, 10)
}

// CanonicalChannel strips the optional "private-" prefix.
func CanonicalChannel(name string) string {
	return strings.TrimPrefix(name, PrivatePrefix)
}

// ParseChannel decodes the identity id addressed by a channel name.
// Both "chat.7" and "private-chat.7" decode to 7.
func ParseChannel(name string) (int64, error) {
	canonical := CanonicalChannel(name)
	if !strings.HasPrefix(canonical, ChannelPrefix) {
		return 0, fmt.Errorf("channel %q: missing %q prefix", name, ChannelPrefix)
	}
	raw := strings.TrimPrefix(canonical, ChannelPrefix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("channel %q: invalid identity id: %w", name, err)
	}
	if id <= 0 || strconv.FormatInt(id, 10) != raw {
		return 0, fmt.Errorf("channel %q: invalid identity id", name)
	}
	return id, nil
}
