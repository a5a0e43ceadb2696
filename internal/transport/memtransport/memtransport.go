// Package memtransport provides an in-memory multi-node Transport used
// by the tests and the probe CLI.
//
// It implements the pub/sub command subset with real server semantics
// (per-node subscriber accounting, server-side glob matching, subscribe
// confirmations, node-local publish counts) but no wire protocol. Fault
// injection hooks simulate node failures and send errors so the
// reconciler's convergence paths can be exercised deterministically.
package memtransport

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/channelmesh/channelmesh-go/internal/core/domain"
	"github.com/channelmesh/channelmesh-go/internal/transport"
	"github.com/channelmesh/channelmesh-go/pkg/glob"
)

// Config configures the in-memory cluster.
type Config struct {
	// Nodes lists the simulated node IDs. At least one is required.
	Nodes []transport.NodeID
	// ShardedPubSub enables SSUBSCRIBE/SPUBLISH and shard introspection.
	ShardedPubSub bool
	// ConfirmDelay delays subscribe/unsubscribe confirmations, modeling
	// the window between issuing a command and the server's ack.
	ConfirmDelay time.Duration
}

// Cluster is an in-memory Transport spanning several simulated nodes.
type Cluster struct {
	cfg   Config
	nodes map[transport.NodeID]*node

	mu       sync.Mutex
	push     transport.PushHandler
	connFn   transport.ConnHandler
	closed   atomic.Bool
	confirms sync.WaitGroup
}

// node holds the server-side pub/sub state of one simulated node.
type node struct {
	id transport.NodeID

	mu      sync.Mutex
	alive   bool
	sendErr error

	// The engine client's confirmed subscriptions on this node.
	exact    map[string]bool
	patterns map[string]bool
	sharded  map[string]bool

	// Other clients' subscriptions, for introspection accounting.
	extExact    map[string]int
	extPatterns map[string]int
	extSharded  map[string]int
}

func newNode(id transport.NodeID) *node {
	return &node{
		id:          id,
		alive:       true,
		exact:       make(map[string]bool),
		patterns:    make(map[string]bool),
		sharded:     make(map[string]bool),
		extExact:    make(map[string]int),
		extPatterns: make(map[string]int),
		extSharded:  make(map[string]int),
	}
}

// New creates an in-memory cluster. Call Start after registering
// handlers to emit the initial connect events.
func New(cfg Config) (*Cluster, error) {
	if len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("memtransport: at least one node required")
	}
	c := &Cluster{cfg: cfg, nodes: make(map[transport.NodeID]*node, len(cfg.Nodes))}
	for _, id := range cfg.Nodes {
		c.nodes[id] = newNode(id)
	}
	return c, nil
}

// RegisterPushHandler implements transport.Transport.
func (c *Cluster) RegisterPushHandler(h transport.PushHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.push = h
}

// RegisterConnHandler implements transport.Transport.
func (c *Cluster) RegisterConnHandler(h transport.ConnHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connFn = h
}

// Capabilities implements transport.Transport.
func (c *Cluster) Capabilities() transport.Capabilities {
	return transport.Capabilities{ShardedPubSub: c.cfg.ShardedPubSub}
}

// Start emits the initial Connected event for every node.
func (c *Cluster) Start() {
	for id := range c.nodes {
		c.emitConn(id, transport.StateConnected)
	}
}

// Close implements transport.Transport. Pending confirmations are
// drained before returning.
func (c *Cluster) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.confirms.Wait()
	return nil
}

func (c *Cluster) emitConn(id transport.NodeID, state transport.ConnState) {
	c.mu.Lock()
	h := c.connFn
	c.mu.Unlock()
	if h != nil {
		h(id, state)
	}
}

func (c *Cluster) emitPush(id transport.NodeID, kind domain.PushKind, target, channel string, payload []byte) {
	if c.closed.Load() {
		return
	}
	c.mu.Lock()
	h := c.push
	c.mu.Unlock()
	if h != nil {
		h(id, kind, target, channel, payload)
	}
}

// ============================================================================
// Fault injection
// ============================================================================

// Disconnect kills a node: its server-side subscription state is lost
// and subsequent sends fail until Reconnect.
func (c *Cluster) Disconnect(id transport.NodeID) {
	n, ok := c.nodes[id]
	if !ok {
		return
	}
	n.mu.Lock()
	n.alive = false
	n.exact = make(map[string]bool)
	n.patterns = make(map[string]bool)
	n.sharded = make(map[string]bool)
	n.mu.Unlock()
	c.emitConn(id, transport.StateDisconnected)
}

// Reconnect revives a dead node with empty subscription state.
func (c *Cluster) Reconnect(id transport.NodeID) {
	n, ok := c.nodes[id]
	if !ok {
		return
	}
	n.mu.Lock()
	n.alive = true
	n.mu.Unlock()
	c.emitConn(id, transport.StateConnected)
}

// SetSendError forces Send on the node to fail with err until cleared
// with a nil err. Connection state is untouched.
func (c *Cluster) SetSendError(id transport.NodeID, err error) {
	if n, ok := c.nodes[id]; ok {
		n.mu.Lock()
		n.sendErr = err
		n.mu.Unlock()
	}
}

// AddExternalSubscriber registers a foreign client's subscription on a
// node so introspection counts reflect more than the engine itself.
func (c *Cluster) AddExternalSubscriber(id transport.NodeID, mode domain.ChannelMode, target string) {
	n, ok := c.nodes[id]
	if !ok {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	switch mode {
	case domain.ModeExact:
		n.extExact[target]++
	case domain.ModePattern:
		n.extPatterns[target]++
	case domain.ModeSharded:
		n.extSharded[target]++
	}
}

// RemoveExternalSubscriber drops a foreign subscription added with
// AddExternalSubscriber.
func (c *Cluster) RemoveExternalSubscriber(id transport.NodeID, mode domain.ChannelMode, target string) {
	n, ok := c.nodes[id]
	if !ok {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	dec := func(m map[string]int) {
		if m[target] <= 1 {
			delete(m, target)
		} else {
			m[target]--
		}
	}
	switch mode {
	case domain.ModeExact:
		dec(n.extExact)
	case domain.ModePattern:
		dec(n.extPatterns)
	case domain.ModeSharded:
		dec(n.extSharded)
	}
}

// ============================================================================
// Command execution
// ============================================================================

// Send implements transport.Transport.
func (c *Cluster) Send(ctx context.Context, id transport.NodeID, cmd transport.Command) (transport.Reply, error) {
	if c.closed.Load() {
		return transport.Reply{}, domain.ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return transport.Reply{}, domain.ErrTimeout.WithCause(err)
	}

	n, ok := c.nodes[id]
	if !ok {
		return transport.Reply{}, domain.ErrNoRoute.WithDetails(string(id))
	}
	n.mu.Lock()
	alive, sendErr := n.alive, n.sendErr
	n.mu.Unlock()
	if !alive {
		return transport.Reply{}, domain.ErrConnection.WithDetails(string(id))
	}
	if sendErr != nil {
		return transport.Reply{}, sendErr
	}

	switch strings.ToUpper(cmd.Name) {
	case "SUBSCRIBE":
		return c.subscribe(n, domain.ModeExact, cmd.Args)
	case "PSUBSCRIBE":
		return c.subscribe(n, domain.ModePattern, cmd.Args)
	case "SSUBSCRIBE":
		if !c.cfg.ShardedPubSub {
			return transport.Reply{}, domain.ErrRequest.WithDetails("unknown command 'SSUBSCRIBE'")
		}
		return c.subscribe(n, domain.ModeSharded, cmd.Args)
	case "UNSUBSCRIBE":
		return c.unsubscribe(n, domain.ModeExact, cmd.Args)
	case "PUNSUBSCRIBE":
		return c.unsubscribe(n, domain.ModePattern, cmd.Args)
	case "SUNSUBSCRIBE":
		if !c.cfg.ShardedPubSub {
			return transport.Reply{}, domain.ErrRequest.WithDetails("unknown command 'SUNSUBSCRIBE'")
		}
		return c.unsubscribe(n, domain.ModeSharded, cmd.Args)
	case "PUBLISH":
		if len(cmd.Args) != 2 {
			return transport.Reply{}, domain.ErrRequest.WithDetails("wrong number of arguments for 'publish'")
		}
		return c.publish(n, cmd.Args[0], []byte(cmd.Args[1]))
	case "SPUBLISH":
		if !c.cfg.ShardedPubSub {
			return transport.Reply{}, domain.ErrRequest.WithDetails("unknown command 'SPUBLISH'")
		}
		if len(cmd.Args) != 2 {
			return transport.Reply{}, domain.ErrRequest.WithDetails("wrong number of arguments for 'spublish'")
		}
		return c.spublish(n, cmd.Args[0], []byte(cmd.Args[1]))
	case "PUBSUB":
		return c.pubsub(n, cmd.Args)
	default:
		return transport.Reply{}, domain.ErrRequest.WithDetails("unknown command '" + cmd.Name + "'")
	}
}

// subscribe records the client's subscriptions and emits one
// confirmation push per target, after ConfirmDelay if configured.
func (c *Cluster) subscribe(n *node, mode domain.ChannelMode, targets []string) (transport.Reply, error) {
	if len(targets) == 0 {
		return transport.Reply{}, domain.ErrRequest.WithDetails("wrong number of arguments")
	}
	confirm := func() {
		for _, target := range targets {
			n.mu.Lock()
			switch mode {
			case domain.ModeExact:
				n.exact[target] = true
			case domain.ModePattern:
				n.patterns[target] = true
			case domain.ModeSharded:
				n.sharded[target] = true
			}
			n.mu.Unlock()
			c.emitPush(n.id, subscribeKind(mode), target, target, nil)
		}
	}

	if c.cfg.ConfirmDelay > 0 {
		c.confirms.Add(1)
		time.AfterFunc(c.cfg.ConfirmDelay, func() {
			defer c.confirms.Done()
			if !c.closed.Load() {
				confirm()
			}
		})
	} else {
		confirm()
	}
	return transport.Reply{Int: int64(len(targets))}, nil
}

func (c *Cluster) unsubscribe(n *node, mode domain.ChannelMode, targets []string) (transport.Reply, error) {
	if len(targets) == 0 {
		return transport.Reply{}, domain.ErrRequest.WithDetails("wrong number of arguments")
	}
	for _, target := range targets {
		n.mu.Lock()
		switch mode {
		case domain.ModeExact:
			delete(n.exact, target)
		case domain.ModePattern:
			delete(n.patterns, target)
		case domain.ModeSharded:
			delete(n.sharded, target)
		}
		n.mu.Unlock()
		c.emitPush(n.id, unsubscribeKind(mode), target, target, nil)
	}
	return transport.Reply{Int: int64(len(targets))}, nil
}

// publish delivers a regular message. The receiving node relays
// cluster-wide, so the client's matching subscriptions on any node
// count for delivery; the transport's merged push stream emits each
// match once per subscription key. The returned count is node-local.
func (c *Cluster) publish(origin *node, channel string, payload []byte) (transport.Reply, error) {
	// Node-local receiver count for the reply.
	origin.mu.Lock()
	local := int64(origin.extExact[channel])
	if origin.exact[channel] {
		local++
	}
	for p := range origin.patterns {
		if glob.Match(p, channel) {
			local++
		}
	}
	for p, cnt := range origin.extPatterns {
		if glob.Match(p, channel) {
			local += int64(cnt)
		}
	}
	origin.mu.Unlock()

	// Cluster-wide delivery to the engine client, deduplicated by
	// subscription key across nodes.
	exactHit := false
	patterns := make(map[string]bool)
	for _, n := range c.nodes {
		n.mu.Lock()
		if n.exact[channel] {
			exactHit = true
		}
		for p := range n.patterns {
			if glob.Match(p, channel) {
				patterns[p] = true
			}
		}
		n.mu.Unlock()
	}
	if exactHit {
		c.emitPush(origin.id, domain.PushMessage, "", channel, payload)
	}
	for _, p := range sortedKeys(patterns) {
		c.emitPush(origin.id, domain.PushPMessage, p, channel, payload)
	}

	return transport.Reply{Int: local}, nil
}

// spublish delivers a sharded message. Shard channels are node-local:
// only subscriptions confirmed on the receiving node receive it.
func (c *Cluster) spublish(n *node, channel string, payload []byte) (transport.Reply, error) {
	n.mu.Lock()
	count := int64(n.extSharded[channel])
	hit := n.sharded[channel]
	if hit {
		count++
	}
	n.mu.Unlock()

	if hit {
		c.emitPush(n.id, domain.PushSMessage, "", channel, payload)
	}
	return transport.Reply{Int: count}, nil
}

// pubsub executes the PUBSUB introspection subcommands node-locally.
func (c *Cluster) pubsub(n *node, args []string) (transport.Reply, error) {
	if len(args) == 0 {
		return transport.Reply{}, domain.ErrRequest.WithDetails("wrong number of arguments for 'pubsub'")
	}
	sub := strings.ToUpper(args[0])
	rest := args[1:]

	n.mu.Lock()
	defer n.mu.Unlock()

	switch sub {
	case "CHANNELS":
		pattern := ""
		if len(rest) > 0 {
			pattern = rest[0]
		}
		return transport.Reply{List: activeChannels(n.exact, n.extExact, pattern)}, nil

	case "NUMSUB":
		counts := make(map[string]int64, len(rest))
		for _, ch := range rest {
			cnt := int64(n.extExact[ch])
			if n.exact[ch] {
				cnt++
			}
			counts[ch] = cnt
		}
		return transport.Reply{Counts: counts}, nil

	case "NUMPAT":
		uniq := make(map[string]bool, len(n.patterns)+len(n.extPatterns))
		for p := range n.patterns {
			uniq[p] = true
		}
		for p := range n.extPatterns {
			uniq[p] = true
		}
		return transport.Reply{Int: int64(len(uniq))}, nil

	case "SHARDCHANNELS":
		if !c.cfg.ShardedPubSub {
			return transport.Reply{}, domain.ErrRequest.WithDetails("unknown subcommand 'SHARDCHANNELS'")
		}
		pattern := ""
		if len(rest) > 0 {
			pattern = rest[0]
		}
		return transport.Reply{List: activeChannels(n.sharded, n.extSharded, pattern)}, nil

	case "SHARDNUMSUB":
		if !c.cfg.ShardedPubSub {
			return transport.Reply{}, domain.ErrRequest.WithDetails("unknown subcommand 'SHARDNUMSUB'")
		}
		counts := make(map[string]int64, len(rest))
		for _, ch := range rest {
			cnt := int64(n.extSharded[ch])
			if n.sharded[ch] {
				cnt++
			}
			counts[ch] = cnt
		}
		return transport.Reply{Counts: counts}, nil

	default:
		return transport.Reply{}, domain.ErrRequest.WithDetails("unknown subcommand '" + args[0] + "'")
	}
}

// activeChannels returns the distinct channels with at least one
// subscriber, optionally filtered by a glob pattern, sorted for
// deterministic replies.
func activeChannels(own map[string]bool, ext map[string]int, pattern string) []string {
	uniq := make(map[string]bool, len(own)+len(ext))
	for ch := range own {
		uniq[ch] = true
	}
	for ch, cnt := range ext {
		if cnt > 0 {
			uniq[ch] = true
		}
	}
	out := make([]string, 0, len(uniq))
	for ch := range uniq {
		if pattern == "" || glob.Match(pattern, ch) {
			out = append(out, ch)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func subscribeKind(mode domain.ChannelMode) domain.PushKind {
	switch mode {
	case domain.ModePattern:
		return domain.PushPSubscribe
	case domain.ModeSharded:
		return domain.PushSSubscribe
	default:
		return domain.PushSubscribe
	}
}

func unsubscribeKind(mode domain.ChannelMode) domain.PushKind {
	switch mode {
	case domain.ModePattern:
		return domain.PushPUnsubscribe
	case domain.ModeSharded:
		return domain.PushSUnsubscribe
	default:
		return domain.PushUnsubscribe
	}
}
