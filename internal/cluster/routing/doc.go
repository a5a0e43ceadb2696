// Package routing resolves which nodes a pub/sub request must target.
//
// It consumes a TopologyView (the slot-to-node ownership map maintained
// by the connection layer) and answers three questions:
//
//   - where subscribe/unsubscribe commands for a given mode and target
//     must be issued (standalone: the single node; cluster exact and
//     pattern: every node; cluster sharded: the slot owner)
//   - where a publish must go
//   - which nodes an introspection command fans out to, honoring an
//     explicit caller-supplied route
//
// Resolution fails soft on stale topology: the best-known node set is
// returned and the reconciliation loop retries on command errors rather
// than surfacing resolution failures synchronously.
package routing
