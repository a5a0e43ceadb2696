package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/channelmesh/channelmesh-go/internal/core/domain"
	"github.com/channelmesh/channelmesh-go/internal/core/subscription"
	"github.com/channelmesh/channelmesh-go/internal/telemetry/metric"
	"github.com/channelmesh/channelmesh-go/internal/transport"
)

func newTestDispatcher(t *testing.T, table *subscription.Table, confirm ConfirmFunc) *Dispatcher {
	t.Helper()
	d := New(Config{Workers: 2, QueueSize: 64}, table, confirm, metric.NewRegistry(), nil)
	t.Cleanup(d.Close)
	return d
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDispatcher_ExactDelivery(t *testing.T) {
	table := subscription.NewTable()

	var mu sync.Mutex
	var got []domain.PubSubMessage
	key, _ := domain.NewSubscriptionKey(domain.ModeExact, "news.tech")
	table.Add(key, func(msg domain.PubSubMessage, ctx any) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}, nil)

	d := newTestDispatcher(t, table, nil)
	d.HandlePush("n1", domain.PushMessage, "news.tech", "news.tech", []byte("hello"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "message not delivered")

	mu.Lock()
	defer mu.Unlock()
	if got[0].Channel != "news.tech" || string(got[0].Payload) != "hello" {
		t.Errorf("got %+v", got[0])
	}
	if got[0].Pattern != "" || got[0].Sharded {
		t.Errorf("exact delivery should have no pattern and not be sharded: %+v", got[0])
	}
}

func TestDispatcher_PatternDelivery(t *testing.T) {
	table := subscription.NewTable()

	var mu sync.Mutex
	var got []domain.PubSubMessage
	key, _ := domain.NewSubscriptionKey(domain.ModePattern, "news.*")
	table.Add(key, func(msg domain.PubSubMessage, ctx any) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}, nil)

	d := newTestDispatcher(t, table, nil)
	d.HandlePush("n1", domain.PushPMessage, "news.*", "news.sports", []byte("score"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "pattern message not delivered")

	mu.Lock()
	defer mu.Unlock()
	if got[0].Pattern != "news.*" {
		t.Errorf("Pattern = %q, want news.*", got[0].Pattern)
	}
	if got[0].Channel != "news.sports" {
		t.Errorf("Channel = %q, want news.sports", got[0].Channel)
	}
}

func TestDispatcher_ShardedNamespace(t *testing.T) {
	table := subscription.NewTable()

	var exactN, shardN int
	var mu sync.Mutex
	ek, _ := domain.NewSubscriptionKey(domain.ModeExact, "orders")
	sk, _ := domain.NewSubscriptionKey(domain.ModeSharded, "orders")
	table.Add(ek, func(msg domain.PubSubMessage, ctx any) {
		mu.Lock()
		exactN++
		mu.Unlock()
	}, nil)
	table.Add(sk, func(msg domain.PubSubMessage, ctx any) {
		mu.Lock()
		shardN++
		if !msg.Sharded {
			t.Error("sharded delivery should set Sharded")
		}
		mu.Unlock()
	}, nil)

	d := newTestDispatcher(t, table, nil)
	d.HandlePush("n1", domain.PushSMessage, "orders", "orders", []byte("x"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return shardN == 1
	}, "sharded message not delivered")

	mu.Lock()
	defer mu.Unlock()
	if exactN != 0 {
		t.Errorf("exact callback received a sharded delivery %d times", exactN)
	}
}

func TestDispatcher_DropsInFlightUnsubscribed(t *testing.T) {
	table := subscription.NewTable()
	reg := metric.NewRegistry()
	d := New(Config{Workers: 1}, table, nil, reg, nil)
	defer d.Close()

	d.HandlePush("n1", domain.PushMessage, "ghost", "ghost", []byte("x"))
	d.Close()

	// No subscription registered: the frame is discarded silently.
	if table.Len() != 0 {
		t.Fatal("table should be empty")
	}
}

func TestDispatcher_ConfirmationsBypassCallbacks(t *testing.T) {
	table := subscription.NewTable()

	called := false
	key, _ := domain.NewSubscriptionKey(domain.ModeExact, "news")
	table.Add(key, func(msg domain.PubSubMessage, ctx any) {
		called = true
	}, nil)

	type confirm struct {
		node       transport.NodeID
		key        domain.SubscriptionKey
		subscribed bool
	}
	var mu sync.Mutex
	var confirms []confirm

	d := newTestDispatcher(t, table, func(node transport.NodeID, key domain.SubscriptionKey, subscribed bool) {
		mu.Lock()
		confirms = append(confirms, confirm{node, key, subscribed})
		mu.Unlock()
	})

	d.HandlePush("n1", domain.PushSubscribe, "news", "", nil)
	d.HandlePush("n1", domain.PushUnsubscribe, "news", "", nil)
	d.HandlePush("n1", domain.PushPSubscribe, "news.*", "", nil)

	mu.Lock()
	defer mu.Unlock()
	if len(confirms) != 3 {
		t.Fatalf("confirms = %d, want 3", len(confirms))
	}
	if !confirms[0].subscribed || confirms[0].key.Mode != domain.ModeExact {
		t.Errorf("confirm[0] = %+v", confirms[0])
	}
	if confirms[1].subscribed {
		t.Error("unsubscribe confirmation should report subscribed=false")
	}
	if confirms[2].key.Mode != domain.ModePattern || confirms[2].key.Target != "news.*" {
		t.Errorf("confirm[2] key = %v", confirms[2].key)
	}
	if called {
		t.Error("confirmation frames must not reach user callbacks")
	}
}

func TestDispatcher_PanicIsolation(t *testing.T) {
	table := subscription.NewTable()

	var mu sync.Mutex
	var delivered int
	bad, _ := domain.NewSubscriptionKey(domain.ModeExact, "bad")
	good, _ := domain.NewSubscriptionKey(domain.ModeExact, "good")
	table.Add(bad, func(msg domain.PubSubMessage, ctx any) {
		panic("subscriber bug")
	}, nil)
	table.Add(good, func(msg domain.PubSubMessage, ctx any) {
		mu.Lock()
		delivered++
		mu.Unlock()
	}, nil)

	d := newTestDispatcher(t, table, nil)
	d.HandlePush("n1", domain.PushMessage, "bad", "bad", []byte("boom"))
	d.HandlePush("n1", domain.PushMessage, "good", "good", []byte("1"))
	d.HandlePush("n1", domain.PushMessage, "bad", "bad", []byte("boom"))
	d.HandlePush("n1", domain.PushMessage, "good", "good", []byte("2"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 2
	}, "deliveries after a panic did not arrive")
}

func TestDispatcher_PerChannelOrdering(t *testing.T) {
	table := subscription.NewTable()

	const n = 200
	var mu sync.Mutex
	got := make(map[string][]byte)
	for _, ch := range []string{"alpha", "beta", "gamma"} {
		key, _ := domain.NewSubscriptionKey(domain.ModeExact, ch)
		table.Add(key, func(msg domain.PubSubMessage, ctx any) {
			mu.Lock()
			got[msg.Channel] = append(got[msg.Channel], msg.Payload[0])
			mu.Unlock()
		}, nil)
	}

	d := newTestDispatcher(t, table, nil)
	for i := 0; i < n; i++ {
		for _, ch := range []string{"alpha", "beta", "gamma"} {
			d.HandlePush("n1", domain.PushMessage, ch, ch, []byte{byte(i)})
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got["alpha"]) == n && len(got["beta"]) == n && len(got["gamma"]) == n
	}, "not all messages delivered")

	mu.Lock()
	defer mu.Unlock()
	for ch, seq := range got {
		for i := 1; i < len(seq); i++ {
			if seq[i] != seq[i-1]+1 {
				t.Fatalf("channel %s out of order at %d: %d after %d", ch, i, seq[i], seq[i-1])
			}
		}
	}
}

func TestDispatcher_SlowChannelDoesNotBlockOthers(t *testing.T) {
	table := subscription.NewTable()

	block := make(chan struct{})
	var mu sync.Mutex
	var fastDelivered bool

	// "pause" and "fast" must land on different workers for this test;
	// with two workers murmur3 separates them.
	slowKey, _ := domain.NewSubscriptionKey(domain.ModeExact, "pause")
	fastKey, _ := domain.NewSubscriptionKey(domain.ModeExact, "fast")
	table.Add(slowKey, func(msg domain.PubSubMessage, ctx any) {
		<-block
	}, nil)
	table.Add(fastKey, func(msg domain.PubSubMessage, ctx any) {
		mu.Lock()
		fastDelivered = true
		mu.Unlock()
	}, nil)

	d := New(Config{Workers: 2, QueueSize: 64}, table, nil, metric.NewRegistry(), nil)
	defer d.Close()

	if d.workerFor("pause") == d.workerFor("fast") {
		close(block)
		t.Skip("channels hash to the same worker")
	}

	d.HandlePush("n1", domain.PushMessage, "pause", "pause", []byte("x"))
	d.HandlePush("n1", domain.PushMessage, "fast", "fast", []byte("y"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fastDelivered
	}, "fast channel blocked behind slow channel")
	close(block)
}

func TestDispatcher_CloseIdempotent(t *testing.T) {
	d := New(Config{}, subscription.NewTable(), nil, metric.NewRegistry(), nil)
	d.Close()
	d.Close()

	// After close, frames are ignored rather than panicking.
	d.HandlePush("n1", domain.PushMessage, "late", "late", []byte("x"))
}
