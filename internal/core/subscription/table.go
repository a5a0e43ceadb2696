// Package subscription maintains the client's desired subscription set.
//
// The Table is the authoritative record of what the application asked
// to be subscribed to, keyed by (mode, target). The reconciler reads it
// to converge server-side state; the dispatcher reads it to route
// inbound messages to callbacks. All access is serialized by a single
// mutex which is never held across a callback invocation.
package subscription

import (
	"sort"
	"sync"
	"time"

	"github.com/channelmesh/channelmesh-go/internal/core/domain"
	"github.com/channelmesh/channelmesh-go/pkg/glob"
)

// Table is the desired subscription set. Safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	entries map[domain.SubscriptionKey]*domain.SubscriptionEntry
	// order preserves registration order per key for deterministic
	// pattern dispatch.
	order []domain.SubscriptionKey
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[domain.SubscriptionKey]*domain.SubscriptionEntry)}
}

// Add inserts or overwrites the desired entry for key. Subscribing
// twice to the same key replaces the callback rather than duplicating
// the subscription; the return value reports whether an entry was
// replaced.
func (t *Table) Add(key domain.SubscriptionKey, cb domain.MessageCallback, cbCtx any) (replaced bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[key]; ok {
		replaced = true
	} else {
		t.order = append(t.order, key)
	}
	t.entries[key] = &domain.SubscriptionEntry{
		Key:       key,
		Callback:  cb,
		Context:   cbCtx,
		CreatedAt: time.Now(),
	}
	return replaced
}

// Remove deletes the desired entry for key and reports whether it
// existed.
func (t *Table) Remove(key domain.SubscriptionKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[key]; !ok {
		return false
	}
	delete(t.entries, key)
	t.dropFromOrder(key)
	return true
}

// RemoveAll clears every desired entry of the given mode and returns
// the removed keys.
func (t *Table) RemoveAll(mode domain.ChannelMode) []domain.SubscriptionKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []domain.SubscriptionKey
	for key := range t.entries {
		if key.Mode == mode {
			removed = append(removed, key)
			delete(t.entries, key)
		}
	}
	for _, key := range removed {
		t.dropFromOrder(key)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Target < removed[j].Target })
	return removed
}

// Clear removes every entry. Used on client disposal.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[domain.SubscriptionKey]*domain.SubscriptionEntry)
	t.order = nil
}

// Get returns the entry registered under key.
func (t *Table) Get(key domain.SubscriptionKey) (*domain.SubscriptionEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	return e, ok
}

// Len returns the number of desired entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// MatchExact returns the entry subscribed to the literal channel, or
// nil. mode selects the exact or sharded namespace.
func (t *Table) MatchExact(mode domain.ChannelMode, channel string) *domain.SubscriptionEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[domain.SubscriptionKey{Mode: mode, Target: channel}]; ok {
		return e
	}
	return nil
}

// MatchPatterns returns the pattern entries whose glob matches channel,
// in registration order. The client mirrors server-side matching only
// to route deliveries to the right callback; the server remains
// authoritative for whether a pattern matched.
func (t *Table) MatchPatterns(channel string) []*domain.SubscriptionEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*domain.SubscriptionEntry
	for _, key := range t.order {
		if key.Mode != domain.ModePattern {
			continue
		}
		if glob.Match(key.Target, channel) {
			out = append(out, t.entries[key])
		}
	}
	return out
}

// Keys returns every desired key in registration order.
func (t *Table) Keys() []domain.SubscriptionKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.SubscriptionKey, len(t.order))
	copy(out, t.order)
	return out
}

// Targets returns the sorted targets desired under mode. Used for
// subscription-state snapshots.
func (t *Table) Targets(mode domain.ChannelMode) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for key := range t.entries {
		if key.Mode == mode {
			out = append(out, key.Target)
		}
	}
	sort.Strings(out)
	return out
}

// dropFromOrder removes key from the registration-order slice. Caller
// holds t.mu.
func (t *Table) dropFromOrder(key domain.SubscriptionKey) {
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}
