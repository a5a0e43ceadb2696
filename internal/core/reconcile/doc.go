// Package reconcile converges server-side subscription state with the
// client's desired set.
//
// Each node connection runs a small state machine: Disconnected until
// the transport reports a link, Reconverging while desired entries are
// being resubscribed and confirmed, Converged once every entry routed
// to that node is acknowledged. A reconnect clears the actual set and
// restarts reconvergence from scratch; nothing the server confirmed
// before the drop is trusted afterwards.
//
// Reconvergence failures are never fatal. Sends are retried with
// bounded exponential backoff and paced by a rate limiter so a flapping
// link cannot turn into a resubscribe storm.
package reconcile
