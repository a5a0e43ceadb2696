package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/channelmesh/channelmesh-go/internal/cluster/routing"
	"github.com/channelmesh/channelmesh-go/internal/core/domain"
	"github.com/channelmesh/channelmesh-go/internal/core/subscription"
	"github.com/channelmesh/channelmesh-go/internal/telemetry/logger"
	"github.com/channelmesh/channelmesh-go/internal/telemetry/metric"
	"github.com/channelmesh/channelmesh-go/internal/transport"
)

// Phase is the convergence phase of one node connection.
type Phase uint8

const (
	PhaseDisconnected Phase = iota
	PhaseReconverging
	PhaseConverged
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseReconverging:
		return "reconverging"
	case PhaseConverged:
		return "converged"
	default:
		return "unknown"
	}
}

// Config holds reconciler tuning.
type Config struct {
	// ConvergenceWindow is how long one reconvergence round waits for
	// confirmations before resending unacknowledged entries.
	ConvergenceWindow time.Duration
	// RetryBase is the first backoff step after a failed send.
	RetryBase time.Duration
	// RetryCap bounds the exponential backoff.
	RetryCap time.Duration
	// RetryRate paces resubscribe sends across all connections.
	RetryRate rate.Limit
	// RetryBurst is the limiter burst size.
	RetryBurst int
}

// Defaults applied by New when fields are zero.
const (
	DefaultConvergenceWindow = 3 * time.Second
	DefaultRetryBase         = 50 * time.Millisecond
	DefaultRetryCap          = 2 * time.Second
	DefaultRetryRate         = rate.Limit(50)
	DefaultRetryBurst        = 10
)

// connState is one node's view of the actual subscription set.
type connState struct {
	phase Phase
	// actual maps keys issued on this connection to their confirmation
	// state. Cleared wholesale on reconnect.
	actual map[domain.SubscriptionKey]domain.ConfirmState
	// epoch invalidates in-flight reconvergence loops after a
	// disconnect or reconnect.
	epoch uint64
	// reconvergeStart is when the current reconvergence began.
	reconvergeStart time.Time
}

// Reconciler drives server-side subscription state toward the desired
// set.
type Reconciler struct {
	cfg     Config
	table   *subscription.Table
	router  *routing.Router
	tr      transport.Transport
	limiter *rate.Limiter
	metrics *metric.Registry
	log     logger.Logger

	mu    sync.Mutex
	conns map[transport.NodeID]*connState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a reconciler. It does nothing until the transport starts
// reporting connection events through HandleConn.
func New(cfg Config, table *subscription.Table, router *routing.Router, tr transport.Transport, metrics *metric.Registry, log logger.Logger) *Reconciler {
	if cfg.ConvergenceWindow <= 0 {
		cfg.ConvergenceWindow = DefaultConvergenceWindow
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = DefaultRetryCap
	}
	if cfg.RetryRate <= 0 {
		cfg.RetryRate = DefaultRetryRate
	}
	if cfg.RetryBurst <= 0 {
		cfg.RetryBurst = DefaultRetryBurst
	}
	if log == nil {
		log = logger.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		cfg:     cfg,
		table:   table,
		router:  router,
		tr:      tr,
		limiter: rate.NewLimiter(cfg.RetryRate, cfg.RetryBurst),
		metrics: metrics,
		log:     log,
		conns:   make(map[transport.NodeID]*connState),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close stops all reconvergence loops and waits for them to exit.
func (r *Reconciler) Close() {
	r.cancel()
	r.wg.Wait()
}

// HandleConn is the transport connection-state sink. A connect (or
// reconnect) discards everything previously confirmed on the node and
// starts reconvergence; a disconnect marks the actual set unknown.
func (r *Reconciler) HandleConn(node transport.NodeID, state transport.ConnState) {
	r.mu.Lock()
	cs, ok := r.conns[node]
	if !ok {
		cs = &connState{actual: make(map[domain.SubscriptionKey]domain.ConfirmState)}
		r.conns[node] = cs
	}
	cs.epoch++
	epoch := cs.epoch

	switch state {
	case transport.StateConnected:
		cs.phase = PhaseReconverging
		cs.actual = make(map[domain.SubscriptionKey]domain.ConfirmState)
		cs.reconvergeStart = time.Now()
		r.setConvergedGauge(node, false)
		r.mu.Unlock()

		r.log.Info("connection up, reconverging", "node", string(node))
		r.wg.Add(1)
		go r.reconverge(node, epoch)

	case transport.StateDisconnected:
		cs.phase = PhaseDisconnected
		for key := range cs.actual {
			cs.actual[key] = domain.ConfirmUnknown
		}
		r.setConvergedGauge(node, false)
		r.mu.Unlock()

		r.log.Warn("connection down, subscription state unknown", "node", string(node))
	default:
		r.mu.Unlock()
	}
}

// HandleConfirm is the dispatcher's confirmation sink. Subscribe acks
// mark entries confirmed; unsubscribe acks remove them. Convergence is
// declared here, once the last routed entry is acknowledged.
func (r *Reconciler) HandleConfirm(node transport.NodeID, key domain.SubscriptionKey, subscribed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.conns[node]
	if !ok {
		return
	}
	if subscribed {
		cs.actual[key] = domain.ConfirmAcked
	} else {
		delete(cs.actual, key)
	}

	if cs.phase == PhaseReconverging && r.convergedLocked(node, cs) {
		cs.phase = PhaseConverged
		r.setConvergedGauge(node, true)
		if r.metrics != nil && !cs.reconvergeStart.IsZero() {
			r.metrics.ConvergenceLatency.Observe(time.Since(cs.reconvergeStart).Seconds())
		}
		r.log.Info("subscriptions converged",
			"node", string(node),
			"entries", len(cs.actual),
			"took", time.Since(cs.reconvergeStart).String(),
		)
	}
}

// Subscribe issues the subscribe command for key on every routed node.
// Called after the desired set already records the entry. On converged
// connections this is the incremental path and errors surface to the
// caller; entries on reconverging connections are picked up by the
// running loop instead.
func (r *Reconciler) Subscribe(ctx context.Context, key domain.SubscriptionKey) error {
	nodes := r.router.ResolveForSubscribe(key)
	var firstErr error
	for _, node := range nodes {
		r.mu.Lock()
		cs, ok := r.conns[node]
		if !ok || cs.phase == PhaseDisconnected {
			r.mu.Unlock()
			continue
		}
		cs.actual[key] = domain.ConfirmPending
		// Convergence now requires this entry's ack too.
		if cs.phase == PhaseConverged {
			cs.phase = PhaseReconverging
			cs.reconvergeStart = time.Now()
			r.setConvergedGauge(node, false)
		}
		r.mu.Unlock()

		cmd := transport.NewCommand(subscribeVerb(key.Mode), key.Target)
		if _, err := r.tr.Send(ctx, node, cmd); err != nil {
			if firstErr == nil {
				firstErr = domain.ErrConnection.WithDetails("subscribe " + key.String() + " on " + string(node)).WithCause(err)
			}
			// The entry stays pending; a fresh reconvergence loop
			// retries it in the background.
			r.restartReconverge(node)
		}
	}
	return firstErr
}

// restartReconverge invalidates any running loop for node and starts a
// new one. No-op on disconnected or unknown nodes.
func (r *Reconciler) restartReconverge(node transport.NodeID) {
	r.mu.Lock()
	cs, ok := r.conns[node]
	if !ok || cs.phase == PhaseDisconnected {
		r.mu.Unlock()
		return
	}
	cs.epoch++
	cs.phase = PhaseReconverging
	if cs.reconvergeStart.IsZero() {
		cs.reconvergeStart = time.Now()
	}
	epoch := cs.epoch
	r.setConvergedGauge(node, false)
	r.mu.Unlock()

	r.wg.Add(1)
	go r.reconverge(node, epoch)
}

// Unsubscribe issues the unsubscribe command on every node that has
// the entry issued. Errors surface to the caller; the entry is dropped
// from the actual set on the server's acknowledgement.
func (r *Reconciler) Unsubscribe(ctx context.Context, key domain.SubscriptionKey) error {
	r.mu.Lock()
	var nodes []transport.NodeID
	for node, cs := range r.conns {
		if _, ok := cs.actual[key]; ok && cs.phase != PhaseDisconnected {
			nodes = append(nodes, node)
		}
	}
	r.mu.Unlock()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	var firstErr error
	for _, node := range nodes {
		cmd := transport.NewCommand(unsubscribeVerb(key.Mode), key.Target)
		if _, err := r.tr.Send(ctx, node, cmd); err != nil {
			if firstErr == nil {
				firstErr = domain.ErrConnection.WithDetails("unsubscribe " + key.String() + " on " + string(node)).WithCause(err)
			}
		}
	}
	return firstErr
}

// Phase returns the convergence phase of one node connection.
func (r *Reconciler) Phase(node transport.NodeID) Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cs, ok := r.conns[node]; ok {
		return cs.phase
	}
	return PhaseDisconnected
}

// Converged reports whether every known connection is converged.
func (r *Reconciler) Converged() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		return false
	}
	for _, cs := range r.conns {
		if cs.phase != PhaseConverged {
			return false
		}
	}
	return true
}

// ActualTargets returns the sorted distinct targets of the given mode
// confirmed on at least one connection.
func (r *Reconciler) ActualTargets(mode domain.ChannelMode) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{})
	for _, cs := range r.conns {
		for key, state := range cs.actual {
			if key.Mode == mode && state == domain.ConfirmAcked {
				seen[key.Target] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for target := range seen {
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

// reconverge resubscribes every desired entry routed to node and
// retries until the connection converges, the epoch moves on, or the
// reconciler closes.
func (r *Reconciler) reconverge(node transport.NodeID, epoch uint64) {
	defer r.wg.Done()

	for attempt := 0; ; attempt++ {
		if err := r.limiter.Wait(r.ctx); err != nil {
			return
		}
		if !r.epochCurrent(node, epoch) {
			return
		}
		if r.metrics != nil {
			r.metrics.ReconcileRounds.Inc()
		}

		pending := r.markPending(node)
		if len(pending) == 0 && r.tryConverge(node, epoch) {
			return
		}
		sendErr := r.sendBatch(node, pending)
		if sendErr != nil {
			if r.metrics != nil {
				r.metrics.ResubscribeRetries.Inc()
			}
			r.log.Warn("resubscribe round failed, backing off",
				"node", string(node),
				"attempt", attempt,
				"error", sendErr,
			)
			if !r.sleep(backoff(r.cfg.RetryBase, r.cfg.RetryCap, attempt)) {
				return
			}
			continue
		}

		// Wait out the convergence window; confirmations arriving via
		// HandleConfirm flip the phase.
		if !r.sleep(r.cfg.ConvergenceWindow) {
			return
		}
		r.mu.Lock()
		done := false
		if cs, ok := r.conns[node]; ok {
			done = cs.epoch != epoch || cs.phase != PhaseReconverging
		} else {
			done = true
		}
		r.mu.Unlock()
		if done {
			return
		}
		if r.metrics != nil {
			r.metrics.ResubscribeRetries.Inc()
		}
		r.log.Warn("convergence window elapsed, resending",
			"node", string(node),
			"attempt", attempt,
		)
	}
}

// markPending records every desired key routed to node as pending and
// returns the ones still needing a send. Entries confirmed by an ack
// that raced ahead are skipped.
func (r *Reconciler) markPending(node transport.NodeID) []domain.SubscriptionKey {
	desired := r.table.Keys()

	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.conns[node]
	if !ok {
		return nil
	}

	var pending []domain.SubscriptionKey
	for _, key := range desired {
		if !r.routedTo(node, key) {
			continue
		}
		if cs.actual[key] == domain.ConfirmAcked {
			continue
		}
		cs.actual[key] = domain.ConfirmPending
		pending = append(pending, key)
	}
	return pending
}

// sendBatch issues one subscribe command per mode carrying all pending
// targets of that mode.
func (r *Reconciler) sendBatch(node transport.NodeID, pending []domain.SubscriptionKey) error {
	if len(pending) == 0 {
		return nil
	}
	byMode := make(map[domain.ChannelMode][]string)
	for _, key := range pending {
		byMode[key.Mode] = append(byMode[key.Mode], key.Target)
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.ConvergenceWindow)
	defer cancel()

	for _, mode := range domain.Modes {
		targets := byMode[mode]
		if len(targets) == 0 {
			continue
		}
		cmd := transport.NewCommand(subscribeVerb(mode), targets...)
		if _, err := r.tr.Send(ctx, node, cmd); err != nil {
			return err
		}
	}
	return nil
}

// routedTo reports whether key's subscribe set includes node.
func (r *Reconciler) routedTo(node transport.NodeID, key domain.SubscriptionKey) bool {
	for _, n := range r.router.ResolveForSubscribe(key) {
		if n == node {
			return true
		}
	}
	return false
}

// convergedLocked reports whether every desired key routed to node is
// acknowledged. Caller holds r.mu.
func (r *Reconciler) convergedLocked(node transport.NodeID, cs *connState) bool {
	for _, key := range r.table.Keys() {
		if !r.routedTo(node, key) {
			continue
		}
		if cs.actual[key] != domain.ConfirmAcked {
			return false
		}
	}
	return true
}

// tryConverge declares convergence if every routed entry is already
// acknowledged. Covers the empty-desired-set case, where no
// confirmation will ever arrive to flip the phase.
func (r *Reconciler) tryConverge(node transport.NodeID, epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.conns[node]
	if !ok || cs.epoch != epoch || cs.phase != PhaseReconverging {
		return true
	}
	if !r.convergedLocked(node, cs) {
		return false
	}
	cs.phase = PhaseConverged
	r.setConvergedGauge(node, true)
	if r.metrics != nil && !cs.reconvergeStart.IsZero() {
		r.metrics.ConvergenceLatency.Observe(time.Since(cs.reconvergeStart).Seconds())
	}
	return true
}

func (r *Reconciler) epochCurrent(node transport.NodeID, epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.conns[node]
	return ok && cs.epoch == epoch && cs.phase == PhaseReconverging
}

// sleep waits d or until the reconciler closes. Reports false on close.
func (r *Reconciler) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *Reconciler) setConvergedGauge(node transport.NodeID, converged bool) {
	if r.metrics == nil {
		return
	}
	v := 0.0
	if converged {
		v = 1.0
	}
	r.metrics.ConvergenceState.WithLabelValues(string(node)).Set(v)
}

// backoff computes the bounded exponential delay for attempt.
func backoff(base, limit time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}

func subscribeVerb(mode domain.ChannelMode) string {
	switch mode {
	case domain.ModePattern:
		return "PSUBSCRIBE"
	case domain.ModeSharded:
		return "SSUBSCRIBE"
	default:
		return "SUBSCRIBE"
	}
}

func unsubscribeVerb(mode domain.ChannelMode) string {
	switch mode {
	case domain.ModePattern:
		return "PUNSUBSCRIBE"
	case domain.ModeSharded:
		return "SUNSUBSCRIBE"
	default:
		return "UNSUBSCRIBE"
	}
}
