// Package introspect aggregates server-side pub/sub observability
// across the routed node set.
//
// Regular channels can be subscribed on any node, so the aggregate
// commands fan out and merge: CHANNELS unions, NUMSUB and NUMPAT sum.
// Shard channels live on their slot owner, so the shard variants route
// by slot instead of fanning out. The shard commands are feature-gated
// and fail with an unsupported-feature error before anything is sent
// to a server that cannot understand them.
package introspect

import (
	"context"
	"sort"

	"github.com/channelmesh/channelmesh-go/internal/cluster/routing"
	"github.com/channelmesh/channelmesh-go/internal/core/domain"
	"github.com/channelmesh/channelmesh-go/internal/telemetry/logger"
	"github.com/channelmesh/channelmesh-go/internal/transport"
)

// Facade answers PUBSUB introspection queries.
type Facade struct {
	router *routing.Router
	tr     transport.Transport
	log    logger.Logger
}

// New creates an introspection facade.
func New(router *routing.Router, tr transport.Transport, log logger.Logger) *Facade {
	if log == nil {
		log = logger.Default()
	}
	return &Facade{router: router, tr: tr, log: log}
}

// Channels returns the distinct active channels across the routed
// nodes, optionally filtered by a glob pattern. Empty pattern means
// all channels. The result is sorted.
func (f *Facade) Channels(ctx context.Context, route routing.Route, pattern string) ([]string, error) {
	args := []string{"CHANNELS"}
	if pattern != "" {
		args = append(args, pattern)
	}
	return f.unionList(ctx, route, args)
}

// NumSub returns the subscriber count per requested channel, summed
// across the routed nodes. Channels nobody subscribes to are present
// with count zero.
func (f *Facade) NumSub(ctx context.Context, route routing.Route, channels ...string) (map[string]int64, error) {
	return f.sumCounts(ctx, route, append([]string{"NUMSUB"}, channels...), channels)
}

// NumPat returns the number of pattern subscriptions summed across the
// routed nodes.
func (f *Facade) NumPat(ctx context.Context, route routing.Route) (int64, error) {
	nodes := f.router.ResolveForIntrospection(route)
	var total int64
	for _, node := range nodes {
		reply, err := f.tr.Send(ctx, node, transport.NewCommand("PUBSUB", "NUMPAT"))
		if err != nil {
			return 0, domain.ErrConnection.WithDetails("PUBSUB NUMPAT on " + string(node)).WithCause(err)
		}
		total += reply.Int
	}
	return total, nil
}

// ShardChannels returns the distinct active shard channels across the
// routed nodes. Feature-gated on server shard pub/sub support.
func (f *Facade) ShardChannels(ctx context.Context, route routing.Route, pattern string) ([]string, error) {
	if err := f.requireSharded("PUBSUB SHARDCHANNELS"); err != nil {
		return nil, err
	}
	args := []string{"SHARDCHANNELS"}
	if pattern != "" {
		args = append(args, pattern)
	}
	return f.unionList(ctx, route, args)
}

// ShardNumSub returns the subscriber count per requested shard
// channel. Each channel is resolved to its slot owner rather than
// fanned out. Feature-gated on server shard pub/sub support.
func (f *Facade) ShardNumSub(ctx context.Context, channels ...string) (map[string]int64, error) {
	if err := f.requireSharded("PUBSUB SHARDNUMSUB"); err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(channels))
	// Group channels by owning node so each owner is queried once.
	byNode := make(map[transport.NodeID][]string)
	for _, ch := range channels {
		out[ch] = 0
		nodes := f.router.ResolveForIntrospection(routing.Route{Policy: routing.RouteSlotKey, SlotKey: ch})
		for _, node := range nodes {
			byNode[node] = append(byNode[node], ch)
		}
	}

	for node, chans := range byNode {
		cmd := transport.NewCommand("PUBSUB", append([]string{"SHARDNUMSUB"}, chans...)...)
		reply, err := f.tr.Send(ctx, node, cmd)
		if err != nil {
			return nil, domain.ErrConnection.WithDetails("PUBSUB SHARDNUMSUB on " + string(node)).WithCause(err)
		}
		for ch, n := range reply.Counts {
			out[ch] += n
		}
	}
	return out, nil
}

// requireSharded gates shard commands on the negotiated server
// feature surface.
func (f *Facade) requireSharded(cmd string) error {
	if !f.tr.Capabilities().ShardedPubSub {
		return domain.ErrUnsupportedFeature.WithDetails(cmd + " requires server shard pub/sub support")
	}
	return nil
}

// unionList fans one PUBSUB list command out and returns the sorted
// distinct union of the replies.
func (f *Facade) unionList(ctx context.Context, route routing.Route, args []string) ([]string, error) {
	nodes := f.router.ResolveForIntrospection(route)
	seen := make(map[string]struct{})
	for _, node := range nodes {
		reply, err := f.tr.Send(ctx, node, transport.NewCommand("PUBSUB", args...))
		if err != nil {
			return nil, domain.ErrConnection.WithDetails("PUBSUB " + args[0] + " on " + string(node)).WithCause(err)
		}
		for _, ch := range reply.List {
			seen[ch] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for ch := range seen {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out, nil
}

// sumCounts fans one PUBSUB counting command out and sums the per
// channel replies. requested seeds the result so absent channels
// report zero.
func (f *Facade) sumCounts(ctx context.Context, route routing.Route, args []string, requested []string) (map[string]int64, error) {
	nodes := f.router.ResolveForIntrospection(route)
	out := make(map[string]int64, len(requested))
	for _, ch := range requested {
		out[ch] = 0
	}
	for _, node := range nodes {
		reply, err := f.tr.Send(ctx, node, transport.NewCommand("PUBSUB", args...))
		if err != nil {
			return nil, domain.ErrConnection.WithDetails("PUBSUB " + args[0] + " on " + string(node)).WithCause(err)
		}
		for ch, n := range reply.Counts {
			out[ch] += n
		}
	}
	return out, nil
}
