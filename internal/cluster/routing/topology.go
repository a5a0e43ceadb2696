package routing

import (
	"sort"
	"sync"

	"github.com/channelmesh/channelmesh-go/internal/core/domain"
	"github.com/channelmesh/channelmesh-go/internal/transport"
)

// NodeInfo describes one cluster node as the topology provider sees it.
type NodeInfo struct {
	ID      transport.NodeID
	Primary bool
	// ReplicaOf is the primary this node replicates, empty for primaries.
	ReplicaOf transport.NodeID
	// Zone is the availability zone label, empty when unknown.
	Zone string
}

// TopologyView is the engine's window onto cluster topology. The
// connection layer owns discovery; the engine only reads the current
// view and registers for change notification.
type TopologyView interface {
	// Nodes returns all known nodes in a stable order.
	Nodes() []NodeInfo
	// Primaries returns the primary nodes in a stable order.
	Primaries() []NodeInfo
	// SlotOwner returns the primary owning the given hash slot.
	SlotOwner(slot uint16) (transport.NodeID, bool)
	// ReplicasOf returns the replicas of a primary in a stable order.
	ReplicasOf(primary transport.NodeID) []NodeInfo
	// OnChange registers fn to run after any topology mutation.
	OnChange(fn func())
}

// StaticTopology is a TopologyView backed by explicit assignments. It
// serves standalone deployments (one node owning every slot), tests,
// and the probe CLI; mutation methods simulate failover and resharding.
type StaticTopology struct {
	mu        sync.RWMutex
	nodes     []NodeInfo
	slots     map[uint16]transport.NodeID
	listeners []func()
}

// NewStaticTopology creates a topology with the given nodes and no
// slot assignments.
func NewStaticTopology(nodes ...NodeInfo) *StaticTopology {
	t := &StaticTopology{slots: make(map[uint16]transport.NodeID)}
	t.nodes = append(t.nodes, nodes...)
	sort.Slice(t.nodes, func(i, j int) bool { return t.nodes[i].ID < t.nodes[j].ID })
	return t
}

// NewSingleNode creates the trivial topology of a standalone server
// owning every slot.
func NewSingleNode(id transport.NodeID) *StaticTopology {
	t := NewStaticTopology(NodeInfo{ID: id, Primary: true})
	t.AssignSlotRange(0, domain.SlotCount-1, id)
	return t
}

// AssignSlotRange assigns slots [from, to] to a node and notifies
// listeners.
func (t *StaticTopology) AssignSlotRange(from, to uint16, id transport.NodeID) {
	t.mu.Lock()
	for s := from; ; s++ {
		t.slots[s] = id
		if s == to {
			break
		}
	}
	t.mu.Unlock()
	t.notify()
}

// RemoveSlotOwner drops ownership of slots [from, to], simulating a
// stale view during resharding.
func (t *StaticTopology) RemoveSlotOwner(from, to uint16) {
	t.mu.Lock()
	for s := from; ; s++ {
		delete(t.slots, s)
		if s == to {
			break
		}
	}
	t.mu.Unlock()
	t.notify()
}

// Nodes implements TopologyView.
func (t *StaticTopology) Nodes() []NodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]NodeInfo, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// Primaries implements TopologyView.
func (t *StaticTopology) Primaries() []NodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []NodeInfo
	for _, n := range t.nodes {
		if n.Primary {
			out = append(out, n)
		}
	}
	return out
}

// SlotOwner implements TopologyView.
func (t *StaticTopology) SlotOwner(slot uint16) (transport.NodeID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.slots[slot]
	return id, ok
}

// ReplicasOf implements TopologyView.
func (t *StaticTopology) ReplicasOf(primary transport.NodeID) []NodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []NodeInfo
	for _, n := range t.nodes {
		if !n.Primary && n.ReplicaOf == primary {
			out = append(out, n)
		}
	}
	return out
}

// OnChange implements TopologyView.
func (t *StaticTopology) OnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func (t *StaticTopology) notify() {
	t.mu.RLock()
	listeners := make([]func(), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}
