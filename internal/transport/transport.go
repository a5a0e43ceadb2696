package transport

import (
	"context"

	"github.com/channelmesh/channelmesh-go/internal/core/domain"
)

// NodeID identifies one server node (address-shaped, e.g. "10.0.0.1:6379").
type NodeID string

// Command is one request to a node. Name is the command verb; Args are
// the remaining arguments in wire order.
type Command struct {
	Name string
	Args []string
}

// NewCommand builds a command.
func NewCommand(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// Reply is the decoded response to a command. Only the fields relevant
// to the command's reply shape are populated.
type Reply struct {
	// Int carries integer replies (PUBLISH subscriber counts, NUMPAT).
	Int int64
	// List carries array-of-string replies (PUBSUB CHANNELS).
	List []string
	// Counts carries channel→count replies (PUBSUB NUMSUB/SHARDNUMSUB).
	Counts map[string]int64
}

// PushHandler consumes one server-pushed frame. kind discriminates
// messages from subscribe/unsubscribe confirmations; pattern is empty
// except for pattern frames. Handlers must not block: slow processing
// belongs on the dispatcher's workers, not the read loop.
type PushHandler func(node NodeID, kind domain.PushKind, target string, channel string, payload []byte)

// ConnState is the connection state of one node link.
type ConnState uint8

const (
	StateConnected ConnState = iota
	StateDisconnected
)

// String returns the state name.
func (s ConnState) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// ConnHandler observes per-node connection state transitions.
type ConnHandler func(node NodeID, state ConnState)

// Capabilities describes what the connected server supports. The
// transport layer knows the negotiated server version, so it owns the
// feature surface.
type Capabilities struct {
	// ShardedPubSub is true when SSUBSCRIBE/SPUBLISH and the shard
	// introspection commands are available (server >= 7.0).
	ShardedPubSub bool
}

// Transport is the connection layer the engine drives.
type Transport interface {
	// Send issues a command to a specific node and awaits the reply.
	// Context cancellation and deadline are honored.
	Send(ctx context.Context, node NodeID, cmd Command) (Reply, error)

	// RegisterPushHandler installs the sink for pushed pub/sub frames.
	// Must be called before any subscribe command is issued.
	RegisterPushHandler(h PushHandler)

	// RegisterConnHandler installs the observer for connection state
	// transitions, including the initial connect.
	RegisterConnHandler(h ConnHandler)

	// Capabilities reports the connected server's feature surface.
	Capabilities() Capabilities

	// Close releases the transport. Idempotent.
	Close() error
}
