package routing

import (
	"github.com/channelmesh/channelmesh-go/internal/core/domain"
	"github.com/channelmesh/channelmesh-go/internal/transport"
)

// RoutePolicy selects the node set an explicitly routed request targets.
type RoutePolicy uint8

const (
	// RouteDefault lets the command decide (all nodes for aggregate
	// introspection, slot owner for sharded commands).
	RouteDefault RoutePolicy = iota
	// RouteRandom targets one arbitrary node.
	RouteRandom
	// RouteAllNodes targets every known node.
	RouteAllNodes
	// RouteAllPrimaries targets every primary.
	RouteAllPrimaries
	// RouteSlotKey targets the owner of the slot the key hashes to.
	RouteSlotKey
	// RouteSlotID targets the owner of an explicit slot.
	RouteSlotID
	// RouteByAddress targets one specific node.
	RouteByAddress
)

// Route is a caller-supplied routing directive. Zero value means
// RouteDefault. PreferZone biases reads toward replicas in that
// availability zone when the policy allows a choice.
type Route struct {
	Policy     RoutePolicy
	SlotKey    string
	SlotID     uint16
	Address    transport.NodeID
	PreferZone string
}

// Router resolves node sets for subscribe, publish, and introspection
// requests against the current topology view.
type Router struct {
	topo       TopologyView
	standalone bool
}

// NewRouter creates a router. standalone short-circuits every
// resolution to the single known node.
func NewRouter(topo TopologyView, standalone bool) *Router {
	return &Router{topo: topo, standalone: standalone}
}

// ResolveForSubscribe returns the nodes a (un)subscribe for the given
// key must be issued on. Cluster exact and pattern subscriptions go to
// every node; sharded subscriptions go to the slot owner. Stale
// topology fails soft: with no known owner the first primary stands in
// and command errors drive the reconciler to retry.
func (r *Router) ResolveForSubscribe(key domain.SubscriptionKey) []transport.NodeID {
	if r.standalone {
		return r.allNodes()
	}
	switch key.Mode {
	case domain.ModeSharded:
		if owner, ok := r.topo.SlotOwner(domain.HashSlot(key.Target)); ok {
			return []transport.NodeID{owner}
		}
		return r.firstPrimary()
	default:
		return r.allNodes()
	}
}

// ResolveForPublish returns the node a publish goes to: any primary
// for regular channels (the cluster relays), the slot owner for shard
// channels.
func (r *Router) ResolveForPublish(sharded bool, channel string) (transport.NodeID, error) {
	if sharded && !r.standalone {
		if owner, ok := r.topo.SlotOwner(domain.HashSlot(channel)); ok {
			return owner, nil
		}
	}
	primaries := r.topo.Primaries()
	if len(primaries) == 0 {
		nodes := r.topo.Nodes()
		if len(nodes) == 0 {
			return "", domain.ErrNoRoute
		}
		return nodes[0].ID, nil
	}
	return primaries[0].ID, nil
}

// ResolveForIntrospection returns the fan-out set for a PUBSUB
// introspection command, honoring an explicit route and defaulting to
// all nodes for aggregate commands.
func (r *Router) ResolveForIntrospection(route Route) []transport.NodeID {
	if r.standalone {
		return r.allNodes()
	}

	switch route.Policy {
	case RouteRandom:
		return r.preferred(r.topo.Nodes(), route.PreferZone)
	case RouteAllPrimaries:
		return nodeIDs(r.topo.Primaries())
	case RouteSlotKey:
		return r.slotOwnerOrFallback(domain.HashSlot(route.SlotKey), route.PreferZone)
	case RouteSlotID:
		return r.slotOwnerOrFallback(route.SlotID%domain.SlotCount, route.PreferZone)
	case RouteByAddress:
		return []transport.NodeID{route.Address}
	case RouteAllNodes:
		return nodeIDs(r.topo.Nodes())
	default:
		return nodeIDs(r.topo.Nodes())
	}
}

// slotOwnerOrFallback resolves a slot owner, optionally swapping in an
// in-zone replica of that owner, failing soft to the first primary.
func (r *Router) slotOwnerOrFallback(slot uint16, zone string) []transport.NodeID {
	owner, ok := r.topo.SlotOwner(slot)
	if !ok {
		return r.firstPrimary()
	}
	if zone != "" {
		for _, replica := range r.topo.ReplicasOf(owner) {
			if replica.Zone == zone {
				return []transport.NodeID{replica.ID}
			}
		}
	}
	return []transport.NodeID{owner}
}

// preferred picks one node, biased toward the requested zone. Same
// inputs always pick the same node so a zone's traffic lands on one
// member rather than spraying.
func (r *Router) preferred(nodes []NodeInfo, zone string) []transport.NodeID {
	if len(nodes) == 0 {
		return nil
	}
	if zone != "" {
		for _, n := range nodes {
			if n.Zone == zone {
				return []transport.NodeID{n.ID}
			}
		}
	}
	return []transport.NodeID{nodes[0].ID}
}

func (r *Router) allNodes() []transport.NodeID {
	return nodeIDs(r.topo.Nodes())
}

func (r *Router) firstPrimary() []transport.NodeID {
	if primaries := r.topo.Primaries(); len(primaries) > 0 {
		return []transport.NodeID{primaries[0].ID}
	}
	return r.allNodes()
}

func nodeIDs(nodes []NodeInfo) []transport.NodeID {
	out := make([]transport.NodeID, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}
