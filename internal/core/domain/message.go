package domain

// PubSubMessage is one inbound pub/sub delivery. Pattern is empty for
// exact and sharded deliveries and carries the matching glob pattern
// for pattern-mode deliveries. Values are immutable once created.
type PubSubMessage struct {
	Channel string
	Payload []byte
	Pattern string
	Sharded bool
}

// IsPattern reports whether the message was delivered through a
// pattern subscription.
func (m PubSubMessage) IsPattern() bool {
	return m.Pattern != ""
}

// PushKind classifies a frame pushed by the server on a subscriber
// connection. Confirmation kinds are consumed by the reconciler;
// message kinds are fanned out to registered callbacks.
type PushKind uint8

const (
	PushMessage PushKind = iota
	PushPMessage
	PushSMessage
	PushSubscribe
	PushPSubscribe
	PushSSubscribe
	PushUnsubscribe
	PushPUnsubscribe
	PushSUnsubscribe
	PushDisconnection
)

// String returns the push kind name as the server spells it.
func (k PushKind) String() string {
	switch k {
	case PushMessage:
		return "message"
	case PushPMessage:
		return "pmessage"
	case PushSMessage:
		return "smessage"
	case PushSubscribe:
		return "subscribe"
	case PushPSubscribe:
		return "psubscribe"
	case PushSSubscribe:
		return "ssubscribe"
	case PushUnsubscribe:
		return "unsubscribe"
	case PushPUnsubscribe:
		return "punsubscribe"
	case PushSUnsubscribe:
		return "sunsubscribe"
	case PushDisconnection:
		return "disconnection"
	default:
		return "unknown"
	}
}

// IsConfirmation reports whether the kind is a subscribe/unsubscribe
// acknowledgement rather than a payload-bearing message.
func (k PushKind) IsConfirmation() bool {
	switch k {
	case PushSubscribe, PushPSubscribe, PushSSubscribe,
		PushUnsubscribe, PushPUnsubscribe, PushSUnsubscribe:
		return true
	}
	return false
}

// ConfirmationKey maps a confirmation push to the subscription key it
// acknowledges, and whether it confirms a subscribe or an unsubscribe.
// Returns ok=false for non-confirmation kinds.
func (k PushKind) ConfirmationKey(target string) (key SubscriptionKey, subscribed, ok bool) {
	switch k {
	case PushSubscribe:
		return SubscriptionKey{Mode: ModeExact, Target: target}, true, true
	case PushPSubscribe:
		return SubscriptionKey{Mode: ModePattern, Target: target}, true, true
	case PushSSubscribe:
		return SubscriptionKey{Mode: ModeSharded, Target: target}, true, true
	case PushUnsubscribe:
		return SubscriptionKey{Mode: ModeExact, Target: target}, false, true
	case PushPUnsubscribe:
		return SubscriptionKey{Mode: ModePattern, Target: target}, false, true
	case PushSUnsubscribe:
		return SubscriptionKey{Mode: ModeSharded, Target: target}, false, true
	}
	return SubscriptionKey{}, false, false
}
