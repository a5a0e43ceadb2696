// Package shutdown provides graceful shutdown for ChannelMesh.
//
// This package handles process termination signals:
//
//   - Signal handling (SIGINT, SIGTERM)
//   - Programmatic shutdown via Trigger
//   - Timeout-based forced shutdown
//   - Cleanup callback registration
//   - Shutdown coordination
//
// Usage:
//
//	h := shutdown.NewHandler(10 * time.Second)
//	h.OnShutdown(func(context.Context) error { return client.Close() })
//	err := h.Wait() // Blocks until SIGINT/SIGTERM or Trigger
package shutdown
