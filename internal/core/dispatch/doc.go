// Package dispatch delivers inbound pub/sub frames to subscriber
// callbacks.
//
// The dispatcher decouples callback execution from the transport read
// loop with a fixed worker pool. Each channel name hashes to one
// worker, so deliveries on the same channel stay ordered while a slow
// callback on one channel never stalls another. Subscribe and
// unsubscribe confirmations bypass the pool and go straight to the
// reconciler.
package dispatch
