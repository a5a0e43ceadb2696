package domain

import (
	"fmt"
	"time"
)

// ChannelMode identifies the namespace a subscription target lives in.
// The same literal string may exist independently as an Exact and a
// Sharded entry; they are distinct subscriptions.
type ChannelMode uint8

const (
	// ModeExact subscribes to a literal channel name (SUBSCRIBE).
	ModeExact ChannelMode = iota
	// ModePattern subscribes to a glob pattern (PSUBSCRIBE).
	ModePattern
	// ModeSharded subscribes to a cluster shard channel (SSUBSCRIBE).
	ModeSharded
)

// Modes lists all channel modes in a stable order.
var Modes = [...]ChannelMode{ModeExact, ModePattern, ModeSharded}

// String returns the mode name.
func (m ChannelMode) String() string {
	switch m {
	case ModeExact:
		return "exact"
	case ModePattern:
		return "pattern"
	case ModeSharded:
		return "sharded"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Valid reports whether the mode is a known channel mode.
func (m ChannelMode) Valid() bool {
	return m <= ModeSharded
}

// SubscriptionKey identifies one desired subscription. It is an
// immutable value type; equality is exact string comparison and
// patterns are never pre-expanded.
type SubscriptionKey struct {
	Mode   ChannelMode
	Target string
}

// NewSubscriptionKey validates mode and target and builds a key.
// An empty target or unknown mode is rejected as a request error.
func NewSubscriptionKey(mode ChannelMode, target string) (SubscriptionKey, error) {
	if !mode.Valid() {
		return SubscriptionKey{}, ErrBadSubscription.WithDetails(fmt.Sprintf("unknown mode %d", mode))
	}
	if target == "" {
		return SubscriptionKey{}, ErrBadSubscription.WithDetails("empty target")
	}
	return SubscriptionKey{Mode: mode, Target: target}, nil
}

// String renders the key as "mode:target" for logs.
func (k SubscriptionKey) String() string {
	return k.Mode.String() + ":" + k.Target
}

// ConfirmState tracks what the server has acknowledged for one
// subscription on one connection.
type ConfirmState uint8

const (
	// ConfirmPending means the subscribe command was issued but no
	// confirmation has arrived yet.
	ConfirmPending ConfirmState = iota
	// ConfirmAcked means the server confirmed the subscription.
	ConfirmAcked
	// ConfirmUnknown means the connection dropped and the server-side
	// state cannot be assumed until the next reconvergence.
	ConfirmUnknown
)

// String returns the confirmation state name.
func (s ConfirmState) String() string {
	switch s {
	case ConfirmPending:
		return "pending"
	case ConfirmAcked:
		return "confirmed"
	case ConfirmUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("confirm(%d)", uint8(s))
	}
}

// MessageCallback consumes one delivered message. The ctx value is the
// opaque context registered with the subscription, passed through
// untouched.
type MessageCallback func(msg PubSubMessage, ctx any)

// SubscriptionEntry is the desired-set record for one key.
type SubscriptionEntry struct {
	Key       SubscriptionKey
	Callback  MessageCallback
	Context   any
	CreatedAt time.Time
}
