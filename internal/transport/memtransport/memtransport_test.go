package memtransport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/channelmesh/channelmesh-go/internal/core/domain"
	"github.com/channelmesh/channelmesh-go/internal/transport"
)

const (
	nodeA = transport.NodeID("10.0.0.1:6379")
	nodeB = transport.NodeID("10.0.0.2:6379")
)

type pushRecorder struct {
	mu     sync.Mutex
	frames []recordedPush
}

type recordedPush struct {
	node    transport.NodeID
	kind    domain.PushKind
	target  string
	channel string
	payload string
}

func (r *pushRecorder) handler() transport.PushHandler {
	return func(node transport.NodeID, kind domain.PushKind, target, channel string, payload []byte) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.frames = append(r.frames, recordedPush{node, kind, target, channel, string(payload)})
	}
}

func (r *pushRecorder) ofKind(kind domain.PushKind) []recordedPush {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedPush
	for _, f := range r.frames {
		if f.kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func newCluster(t *testing.T, sharded bool) (*Cluster, *pushRecorder) {
	t.Helper()
	c, err := New(Config{Nodes: []transport.NodeID{nodeA, nodeB}, ShardedPubSub: sharded})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := &pushRecorder{}
	c.RegisterPushHandler(rec.handler())
	c.Start()
	t.Cleanup(func() { _ = c.Close() })
	return c, rec
}

func TestSubscribeConfirmAndPublish(t *testing.T) {
	c, rec := newCluster(t, false)
	ctx := context.Background()

	if _, err := c.Send(ctx, nodeA, transport.NewCommand("SUBSCRIBE", "orders")); err != nil {
		t.Fatalf("SUBSCRIBE: %v", err)
	}
	if got := rec.ofKind(domain.PushSubscribe); len(got) != 1 || got[0].target != "orders" {
		t.Fatalf("subscribe confirmations = %+v", got)
	}

	reply, err := c.Send(ctx, nodeB, transport.NewCommand("PUBLISH", "orders", "msg1"))
	if err != nil {
		t.Fatalf("PUBLISH: %v", err)
	}
	// Node-local count: nodeB has no subscriber for orders.
	if reply.Int != 0 {
		t.Errorf("publish reply = %d, want 0 (node-local)", reply.Int)
	}

	msgs := rec.ofKind(domain.PushMessage)
	if len(msgs) != 1 || msgs[0].channel != "orders" || msgs[0].payload != "msg1" {
		t.Fatalf("message frames = %+v", msgs)
	}
}

func TestPublishLocalCountAndPatternDelivery(t *testing.T) {
	c, rec := newCluster(t, false)
	ctx := context.Background()

	if _, err := c.Send(ctx, nodeA, transport.NewCommand("PSUBSCRIBE", "news.*")); err != nil {
		t.Fatalf("PSUBSCRIBE: %v", err)
	}

	reply, err := c.Send(ctx, nodeA, transport.NewCommand("PUBLISH", "news.sports.123", "m"))
	if err != nil {
		t.Fatalf("PUBLISH: %v", err)
	}
	if reply.Int != 1 {
		t.Errorf("publish reply = %d, want 1", reply.Int)
	}

	pmsgs := rec.ofKind(domain.PushPMessage)
	if len(pmsgs) != 1 {
		t.Fatalf("pmessage frames = %+v", pmsgs)
	}
	if pmsgs[0].target != "news.*" || pmsgs[0].channel != "news.sports.123" {
		t.Errorf("pmessage = %+v", pmsgs[0])
	}
}

func TestPublishDeduplicatesAcrossNodes(t *testing.T) {
	c, rec := newCluster(t, false)
	ctx := context.Background()

	// Subscribed on both nodes (cluster exact routing), one delivery.
	for _, n := range []transport.NodeID{nodeA, nodeB} {
		if _, err := c.Send(ctx, n, transport.NewCommand("SUBSCRIBE", "orders")); err != nil {
			t.Fatalf("SUBSCRIBE on %s: %v", n, err)
		}
	}
	if _, err := c.Send(ctx, nodeA, transport.NewCommand("PUBLISH", "orders", "once")); err != nil {
		t.Fatalf("PUBLISH: %v", err)
	}

	if msgs := rec.ofKind(domain.PushMessage); len(msgs) != 1 {
		t.Errorf("got %d deliveries, want exactly 1", len(msgs))
	}
}

func TestShardedGating(t *testing.T) {
	c, _ := newCluster(t, false)
	ctx := context.Background()

	if _, err := c.Send(ctx, nodeA, transport.NewCommand("SSUBSCRIBE", "orders")); !errors.Is(err, domain.ErrRequest) {
		t.Errorf("SSUBSCRIBE without support: err = %v, want ErrRequest", err)
	}

	sc, rec := newCluster(t, true)
	if _, err := sc.Send(ctx, nodeA, transport.NewCommand("SSUBSCRIBE", "orders")); err != nil {
		t.Fatalf("SSUBSCRIBE: %v", err)
	}
	reply, err := sc.Send(ctx, nodeA, transport.NewCommand("SPUBLISH", "orders", "m"))
	if err != nil {
		t.Fatalf("SPUBLISH: %v", err)
	}
	if reply.Int != 1 {
		t.Errorf("spublish reply = %d, want 1", reply.Int)
	}
	if msgs := rec.ofKind(domain.PushSMessage); len(msgs) != 1 {
		t.Errorf("smessage frames = %+v", msgs)
	}

	// Shard channels are node-local: publishing on the other node
	// reaches nobody.
	reply, err = sc.Send(ctx, nodeB, transport.NewCommand("SPUBLISH", "orders", "m"))
	if err != nil {
		t.Fatalf("SPUBLISH nodeB: %v", err)
	}
	if reply.Int != 0 {
		t.Errorf("spublish on nodeB = %d, want 0", reply.Int)
	}
}

func TestIntrospection(t *testing.T) {
	c, _ := newCluster(t, false)
	ctx := context.Background()

	if _, err := c.Send(ctx, nodeA, transport.NewCommand("SUBSCRIBE", "orders")); err != nil {
		t.Fatalf("SUBSCRIBE: %v", err)
	}
	c.AddExternalSubscriber(nodeA, domain.ModeExact, "orders")
	c.AddExternalSubscriber(nodeB, domain.ModeExact, "invoices")
	c.AddExternalSubscriber(nodeA, domain.ModePattern, "news.*")

	reply, err := c.Send(ctx, nodeA, transport.NewCommand("PUBSUB", "CHANNELS"))
	if err != nil {
		t.Fatalf("PUBSUB CHANNELS: %v", err)
	}
	if len(reply.List) != 1 || reply.List[0] != "orders" {
		t.Errorf("CHANNELS on nodeA = %v", reply.List)
	}

	reply, err = c.Send(ctx, nodeA, transport.NewCommand("PUBSUB", "NUMSUB", "orders", "ghost"))
	if err != nil {
		t.Fatalf("PUBSUB NUMSUB: %v", err)
	}
	if reply.Counts["orders"] != 2 {
		t.Errorf("NUMSUB orders = %d, want 2", reply.Counts["orders"])
	}
	if got, ok := reply.Counts["ghost"]; !ok || got != 0 {
		t.Errorf("NUMSUB ghost = (%d, %v), want (0, true)", got, ok)
	}

	reply, err = c.Send(ctx, nodeA, transport.NewCommand("PUBSUB", "NUMPAT"))
	if err != nil {
		t.Fatalf("PUBSUB NUMPAT: %v", err)
	}
	if reply.Int != 1 {
		t.Errorf("NUMPAT = %d, want 1", reply.Int)
	}
}

func TestDisconnectClearsServerState(t *testing.T) {
	c, rec := newCluster(t, false)
	ctx := context.Background()

	if _, err := c.Send(ctx, nodeA, transport.NewCommand("SUBSCRIBE", "orders")); err != nil {
		t.Fatalf("SUBSCRIBE: %v", err)
	}

	c.Disconnect(nodeA)
	if _, err := c.Send(ctx, nodeA, transport.NewCommand("PUBLISH", "x", "y")); !errors.Is(err, domain.ErrConnection) {
		t.Errorf("send to dead node: err = %v, want ErrConnection", err)
	}

	c.Reconnect(nodeA)
	// Server-side subscription state did not survive the disconnect.
	if _, err := c.Send(ctx, nodeB, transport.NewCommand("PUBLISH", "orders", "m")); err != nil {
		t.Fatalf("PUBLISH: %v", err)
	}
	if msgs := rec.ofKind(domain.PushMessage); len(msgs) != 0 {
		t.Errorf("got %d deliveries after reconnect without resubscribe, want 0", len(msgs))
	}
}

func TestSetSendError(t *testing.T) {
	c, _ := newCluster(t, false)
	ctx := context.Background()

	injected := domain.ErrConnection.WithDetails("injected")
	c.SetSendError(nodeA, injected)
	if _, err := c.Send(ctx, nodeA, transport.NewCommand("SUBSCRIBE", "x")); !errors.Is(err, domain.ErrConnection) {
		t.Errorf("err = %v, want injected connection error", err)
	}

	c.SetSendError(nodeA, nil)
	if _, err := c.Send(ctx, nodeA, transport.NewCommand("SUBSCRIBE", "x")); err != nil {
		t.Errorf("err after clearing = %v", err)
	}
}
