package dispatch

import (
	"runtime/debug"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/channelmesh/channelmesh-go/internal/core/domain"
	"github.com/channelmesh/channelmesh-go/internal/core/subscription"
	"github.com/channelmesh/channelmesh-go/internal/telemetry/logger"
	"github.com/channelmesh/channelmesh-go/internal/telemetry/metric"
	"github.com/channelmesh/channelmesh-go/internal/transport"
)

// DefaultWorkers is the worker pool size when unset.
const DefaultWorkers = 4

// DefaultQueueSize is the per-worker queue capacity when unset.
const DefaultQueueSize = 256

// Config holds dispatcher configuration.
type Config struct {
	// Workers is the number of delivery goroutines.
	Workers int
	// QueueSize is the per-worker queue capacity. A full queue applies
	// backpressure to the transport read loop.
	QueueSize int
}

// ConfirmFunc consumes subscribe/unsubscribe confirmations. subscribed
// is true for subscribe-side acknowledgements.
type ConfirmFunc func(node transport.NodeID, key domain.SubscriptionKey, subscribed bool)

type task struct {
	kind    domain.PushKind
	target  string
	channel string
	payload []byte
}

// Dispatcher fans inbound frames out to subscription callbacks.
type Dispatcher struct {
	table   *subscription.Table
	confirm ConfirmFunc
	metrics *metric.Registry
	log     logger.Logger

	queues []chan task
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New creates a dispatcher and starts its worker pool.
func New(cfg Config, table *subscription.Table, confirm ConfirmFunc, metrics *metric.Registry, log logger.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if log == nil {
		log = logger.Default()
	}

	d := &Dispatcher{
		table:   table,
		confirm: confirm,
		metrics: metrics,
		log:     log,
		queues:  make([]chan task, cfg.Workers),
	}
	for i := range d.queues {
		d.queues[i] = make(chan task, cfg.QueueSize)
		d.wg.Add(1)
		go d.run(d.queues[i])
	}
	return d
}

// HandlePush is the transport push sink. Confirmations are routed to
// the reconciler synchronously; message frames are queued to the worker
// owning the channel.
func (d *Dispatcher) HandlePush(node transport.NodeID, kind domain.PushKind, target string, channel string, payload []byte) {
	if key, subscribed, ok := kind.ConfirmationKey(target); ok {
		if d.confirm != nil {
			d.confirm(node, key, subscribed)
		}
		return
	}
	if kind == domain.PushDisconnection {
		// Connection state flows through the transport's ConnHandler;
		// the push variant is informational only.
		d.log.Debug("disconnection push", "node", string(node))
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	t := task{kind: kind, target: target, channel: channel, payload: payload}
	d.queues[d.workerFor(channel)] <- t
	if d.metrics != nil {
		d.metrics.DispatchQueueDepth.Inc()
	}
}

// workerFor maps a channel name to its owning worker. Same channel,
// same worker: that is what preserves per-channel ordering.
func (d *Dispatcher) workerFor(channel string) int {
	return int(murmur3.Sum32([]byte(channel)) % uint32(len(d.queues)))
}

// Close stops accepting frames, drains the queues, and waits for the
// workers to exit. Idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	for _, q := range d.queues {
		close(q)
	}
	d.wg.Wait()
}

func (d *Dispatcher) run(queue <-chan task) {
	defer d.wg.Done()
	for t := range queue {
		if d.metrics != nil {
			d.metrics.DispatchQueueDepth.Dec()
		}
		d.deliver(t)
	}
}

func (d *Dispatcher) deliver(t task) {
	var entry *domain.SubscriptionEntry
	msg := domain.PubSubMessage{Channel: t.channel, Payload: t.payload}

	switch t.kind {
	case domain.PushMessage:
		entry = d.table.MatchExact(domain.ModeExact, t.channel)
	case domain.PushSMessage:
		entry = d.table.MatchExact(domain.ModeSharded, t.channel)
		msg.Sharded = true
	case domain.PushPMessage:
		// Pattern deliveries carry the matching pattern; the lookup is
		// by the exact pattern string, not by re-matching the channel.
		msg.Pattern = t.target
		if e, ok := d.table.Get(domain.SubscriptionKey{Mode: domain.ModePattern, Target: t.target}); ok {
			entry = e
		}
	default:
		d.log.Warn("unroutable push kind", "kind", t.kind.String(), "channel", t.channel)
		return
	}

	if entry == nil {
		// Unsubscribed while the frame was in flight.
		if d.metrics != nil {
			d.metrics.MessagesDropped.Inc()
		}
		d.log.Debug("dropping message with no subscription",
			"kind", t.kind.String(),
			"channel", t.channel,
		)
		return
	}

	d.invoke(entry, msg, t.kind)
}

// invoke runs one callback with panic isolation. A panicking callback
// is counted and logged; the worker keeps delivering.
func (d *Dispatcher) invoke(entry *domain.SubscriptionEntry, msg domain.PubSubMessage, kind domain.PushKind) {
	defer func() {
		if r := recover(); r != nil {
			if d.metrics != nil {
				d.metrics.CallbackPanics.Inc()
			}
			d.log.Error("subscriber callback panicked",
				"channel", msg.Channel,
				"subscription", entry.Key.String(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	entry.Callback(msg, entry.Context)
	if d.metrics != nil {
		d.metrics.MessagesDispatched.WithLabelValues(kind.String()).Inc()
	}
}
