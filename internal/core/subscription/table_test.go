package subscription

import (
	"fmt"
	"sync"
	"testing"

	"github.com/channelmesh/channelmesh-go/internal/core/domain"
)

func key(mode domain.ChannelMode, target string) domain.SubscriptionKey {
	return domain.SubscriptionKey{Mode: mode, Target: target}
}

func TestAddIsIdempotent(t *testing.T) {
	tbl := NewTable()

	first := 0
	second := 0
	k := key(domain.ModeExact, "orders")

	if replaced := tbl.Add(k, func(domain.PubSubMessage, any) { first++ }, nil); replaced {
		t.Error("first Add reported replaced")
	}
	if replaced := tbl.Add(k, func(domain.PubSubMessage, any) { second++ }, nil); !replaced {
		t.Error("second Add did not report replaced")
	}

	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}

	// Only the latest callback is active.
	e := tbl.MatchExact(domain.ModeExact, "orders")
	if e == nil {
		t.Fatal("MatchExact returned nil")
	}
	e.Callback(domain.PubSubMessage{Channel: "orders"}, e.Context)
	if first != 0 || second != 1 {
		t.Errorf("callbacks invoked = (%d, %d), want (0, 1)", first, second)
	}
}

func TestRemove(t *testing.T) {
	tbl := NewTable()
	k := key(domain.ModeExact, "orders")
	tbl.Add(k, func(domain.PubSubMessage, any) {}, nil)

	if !tbl.Remove(k) {
		t.Error("Remove of existing key = false")
	}
	if tbl.Remove(k) {
		t.Error("Remove of removed key = true")
	}
	if e := tbl.MatchExact(domain.ModeExact, "orders"); e != nil {
		t.Error("entry still matchable after Remove")
	}
}

func TestExactAndShardedAreSeparateNamespaces(t *testing.T) {
	tbl := NewTable()
	tbl.Add(key(domain.ModeExact, "orders"), func(domain.PubSubMessage, any) {}, "exact")
	tbl.Add(key(domain.ModeSharded, "orders"), func(domain.PubSubMessage, any) {}, "sharded")

	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}
	if e := tbl.MatchExact(domain.ModeExact, "orders"); e == nil || e.Context != "exact" {
		t.Error("exact namespace entry wrong")
	}
	if e := tbl.MatchExact(domain.ModeSharded, "orders"); e == nil || e.Context != "sharded" {
		t.Error("sharded namespace entry wrong")
	}

	tbl.Remove(key(domain.ModeExact, "orders"))
	if e := tbl.MatchExact(domain.ModeSharded, "orders"); e == nil {
		t.Error("removing exact entry removed the sharded one")
	}
}

func TestMatchPatternsRegistrationOrder(t *testing.T) {
	tbl := NewTable()
	tbl.Add(key(domain.ModePattern, "news.*"), func(domain.PubSubMessage, any) {}, 1)
	tbl.Add(key(domain.ModePattern, "news.sports.*"), func(domain.PubSubMessage, any) {}, 2)
	tbl.Add(key(domain.ModePattern, "weather.*"), func(domain.PubSubMessage, any) {}, 3)

	matches := tbl.MatchPatterns("news.sports.123")
	if len(matches) != 2 {
		t.Fatalf("%d matches, want 2", len(matches))
	}
	if matches[0].Context != 1 || matches[1].Context != 2 {
		t.Errorf("match order = [%v %v], want [1 2]", matches[0].Context, matches[1].Context)
	}
}

func TestRemoveAll(t *testing.T) {
	tbl := NewTable()
	tbl.Add(key(domain.ModeExact, "a"), func(domain.PubSubMessage, any) {}, nil)
	tbl.Add(key(domain.ModeExact, "b"), func(domain.PubSubMessage, any) {}, nil)
	tbl.Add(key(domain.ModePattern, "c.*"), func(domain.PubSubMessage, any) {}, nil)

	removed := tbl.RemoveAll(domain.ModeExact)
	if len(removed) != 2 {
		t.Errorf("removed %d keys, want 2", len(removed))
	}
	if tbl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tbl.Len())
	}
}

func TestTargetsSorted(t *testing.T) {
	tbl := NewTable()
	for _, target := range []string{"zebra", "alpha", "mango"} {
		tbl.Add(key(domain.ModeExact, target), func(domain.PubSubMessage, any) {}, nil)
	}

	got := tbl.Targets(domain.ModeExact)
	want := []string{"alpha", "mango", "zebra"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Targets() = %v, want %v", got, want)
		}
	}
}

func TestConcurrentMutation(t *testing.T) {
	tbl := NewTable()
	var wg sync.WaitGroup

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k := key(domain.ModeExact, fmt.Sprintf("g%d-ch%d", g, i))
				tbl.Add(k, func(domain.PubSubMessage, any) {}, nil)
				tbl.MatchPatterns("g0-ch0")
				if i%2 == 0 {
					tbl.Remove(k)
				}
			}
		}(g)
	}
	wg.Wait()

	if tbl.Len() != 4*100 {
		t.Errorf("Len() = %d, want %d", tbl.Len(), 4*100)
	}
}
