package client

import (
	"context"
	"crypto/rand"
	"errors"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/channelmesh/channelmesh-go/internal/cluster/routing"
	"github.com/channelmesh/channelmesh-go/internal/core/dispatch"
	"github.com/channelmesh/channelmesh-go/internal/core/domain"
	"github.com/channelmesh/channelmesh-go/internal/core/introspect"
	"github.com/channelmesh/channelmesh-go/internal/core/reconcile"
	"github.com/channelmesh/channelmesh-go/internal/core/subscription"
	"github.com/channelmesh/channelmesh-go/internal/telemetry/logger"
	"github.com/channelmesh/channelmesh-go/internal/transport"
)

// Client is the pub/sub engine facade.
type Client struct {
	id  string
	cfg Config
	log logger.Logger

	tr     transport.Transport
	router *routing.Router
	table  *subscription.Table
	rec    *reconcile.Reconciler
	disp   *dispatch.Dispatcher
	intro  *introspect.Facade

	closed atomic.Bool
}

// New wires a client to the given transport and topology view and
// starts reconciliation. The transport's connection events begin
// flowing immediately, so the caller should construct the client
// before the transport reports its first connect.
func New(cfg Config, tr transport.Transport, topo routing.TopologyView) (*Client, error) {
	if tr == nil {
		return nil, domain.ErrRequest.WithDetails("nil transport")
	}
	if topo == nil {
		return nil, domain.ErrRequest.WithDetails("nil topology view")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	id, err := ulid.New(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return nil, domain.ErrRequest.WithDetails("client id generation").WithCause(err)
	}

	c := &Client{
		id:     id.String(),
		cfg:    cfg,
		log:    log.With("client_id", id.String()),
		tr:     tr,
		router: routing.NewRouter(topo, cfg.Standalone),
		table:  subscription.NewTable(),
	}
	c.rec = reconcile.New(cfg.Reconcile, c.table, c.router, tr, cfg.Metrics, c.log)
	c.disp = dispatch.New(cfg.Dispatch, c.table, c.rec.HandleConfirm, cfg.Metrics, c.log)
	c.intro = introspect.New(c.router, tr, c.log)

	tr.RegisterPushHandler(c.disp.HandlePush)
	tr.RegisterConnHandler(c.rec.HandleConn)

	return c, nil
}

// ID returns the client's stable opaque identifier.
func (c *Client) ID() string {
	return c.id
}

// Subscribe registers the callback under (mode, target) and issues the
// subscribe command. Subscribing twice to the same key replaces the
// callback without duplicating the server-side subscription.
func (c *Client) Subscribe(ctx context.Context, sub SubscriptionConfig) error {
	if c.closed.Load() {
		return domain.ErrClientClosed
	}
	key, err := domain.NewSubscriptionKey(sub.Mode, sub.Target)
	if err != nil {
		return err
	}
	if sub.Callback == nil {
		return domain.ErrBadSubscription.WithDetails("nil callback")
	}
	if key.Mode == domain.ModeSharded && !c.tr.Capabilities().ShardedPubSub {
		return domain.ErrUnsupportedFeature.WithDetails("SSUBSCRIBE requires server shard pub/sub support")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	replaced := c.table.Add(key, sub.Callback, sub.Context)
	if replaced {
		// Server-side state is already right; only the callback moved.
		return nil
	}
	if err := c.rec.Subscribe(ctx, key); err != nil {
		return c.mapErr(ctx, err)
	}
	c.trackSubscriptions()
	return nil
}

// Unsubscribe removes the subscription under (mode, target). Removing
// a key that was never subscribed is a no-op.
func (c *Client) Unsubscribe(ctx context.Context, mode domain.ChannelMode, target string) error {
	if c.closed.Load() {
		return domain.ErrClientClosed
	}
	key, err := domain.NewSubscriptionKey(mode, target)
	if err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if !c.table.Remove(key) {
		return nil
	}
	if err := c.rec.Unsubscribe(ctx, key); err != nil {
		return c.mapErr(ctx, err)
	}
	c.trackSubscriptions()
	return nil
}

// UnsubscribeAll removes every subscription of the given mode.
func (c *Client) UnsubscribeAll(ctx context.Context, mode domain.ChannelMode) error {
	if c.closed.Load() {
		return domain.ErrClientClosed
	}
	if !mode.Valid() {
		return domain.ErrBadSubscription.WithDetails("unknown mode")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var firstErr error
	for _, key := range c.table.RemoveAll(mode) {
		if err := c.rec.Unsubscribe(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.trackSubscriptions()
	if firstErr != nil {
		return c.mapErr(ctx, firstErr)
	}
	return nil
}

// GetSubscriptions returns the desired set and the server-confirmed
// actual set, keyed by mode with sorted targets.
func (c *Client) GetSubscriptions(ctx context.Context) (Snapshot, error) {
	if c.closed.Load() {
		return Snapshot{}, domain.ErrClientClosed
	}
	snap := Snapshot{
		Desired: make(map[domain.ChannelMode][]string, len(domain.Modes)),
		Actual:  make(map[domain.ChannelMode][]string, len(domain.Modes)),
	}
	for _, mode := range domain.Modes {
		snap.Desired[mode] = c.table.Targets(mode)
		snap.Actual[mode] = c.rec.ActualTargets(mode)
	}
	return snap, nil
}

// Publish sends payload to channel and returns the number of
// subscribers on the receiving node.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	return c.publish(ctx, channel, payload, false)
}

// SPublish sends payload to a shard channel, routed to the channel's
// slot owner. Feature-gated on server shard pub/sub support.
func (c *Client) SPublish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if !c.tr.Capabilities().ShardedPubSub {
		return 0, domain.ErrUnsupportedFeature.WithDetails("SPUBLISH requires server shard pub/sub support")
	}
	return c.publish(ctx, channel, payload, true)
}

func (c *Client) publish(ctx context.Context, channel string, payload []byte, sharded bool) (int64, error) {
	if c.closed.Load() {
		return 0, domain.ErrClientClosed
	}
	if channel == "" {
		return 0, domain.ErrRequest.WithDetails("empty channel")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	node, err := c.router.ResolveForPublish(sharded, channel)
	if err != nil {
		return 0, err
	}
	verb, mode := "PUBLISH", "exact"
	if sharded {
		verb, mode = "SPUBLISH", "sharded"
	}
	reply, err := c.tr.Send(ctx, node, transport.NewCommand(verb, channel, string(payload)))
	if err != nil {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.PublishErrors.Inc()
		}
		return 0, c.mapErr(ctx, err)
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.PublishTotal.WithLabelValues(mode).Inc()
	}
	return reply.Int, nil
}

// Channels lists active channels across the cluster, optionally
// filtered by a glob pattern.
func (c *Client) Channels(ctx context.Context, pattern string) ([]string, error) {
	if c.closed.Load() {
		return nil, domain.ErrClientClosed
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.intro.Channels(ctx, routing.Route{}, pattern)
	return out, c.mapErr(ctx, err)
}

// NumSub reports subscriber counts for the given channels.
func (c *Client) NumSub(ctx context.Context, channels ...string) (map[string]int64, error) {
	if c.closed.Load() {
		return nil, domain.ErrClientClosed
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.intro.NumSub(ctx, routing.Route{}, channels...)
	return out, c.mapErr(ctx, err)
}

// NumPat reports the number of pattern subscriptions cluster-wide.
func (c *Client) NumPat(ctx context.Context) (int64, error) {
	if c.closed.Load() {
		return 0, domain.ErrClientClosed
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.intro.NumPat(ctx, routing.Route{})
	return out, c.mapErr(ctx, err)
}

// ShardChannels lists active shard channels.
func (c *Client) ShardChannels(ctx context.Context, pattern string) ([]string, error) {
	if c.closed.Load() {
		return nil, domain.ErrClientClosed
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.intro.ShardChannels(ctx, routing.Route{}, pattern)
	return out, c.mapErr(ctx, err)
}

// ShardNumSub reports subscriber counts for the given shard channels.
func (c *Client) ShardNumSub(ctx context.Context, channels ...string) (map[string]int64, error) {
	if c.closed.Load() {
		return nil, domain.ErrClientClosed
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.intro.ShardNumSub(ctx, channels...)
	return out, c.mapErr(ctx, err)
}

// Close stops reconciliation, drains the dispatcher, and releases the
// transport. Idempotent and safe concurrent with in-flight callbacks.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.log.Info("closing client")
	c.rec.Close()
	c.disp.Close()
	c.table.Clear()
	return c.tr.Close()
}

// withTimeout applies the default request timeout when the caller's
// context has no deadline.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}

// mapErr turns a deadline expiry into the timeout error the API
// promises. There is no automatic retry.
func (c *Client) mapErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ErrTimeout.WithCause(err)
	}
	return err
}

func (c *Client) trackSubscriptions() {
	if c.cfg.Metrics == nil {
		return
	}
	for _, mode := range domain.Modes {
		c.cfg.Metrics.SubscriptionsActive.WithLabelValues(mode.String()).Set(float64(len(c.table.Targets(mode))))
	}
}
