// Package metric provides Prometheus metrics for ChannelMesh.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: metric registry and HTTP handler
//   - collector.go: subscription table collector
//
// Metrics include:
//
//   - Dispatched message counters by kind
//   - Callback error and panic counters
//   - Reconciliation round and retry counters
//   - Convergence state gauges per connection
//   - Subscription counts by mode
package metric
