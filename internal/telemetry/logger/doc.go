// Package logger provides structured logging for channelmesh.
//
// It wraps the standard library log/slog to provide structured JSON
// logging with automatic truncation of message payloads:
//
//   - logger.go: configuration, the Logger interface, global default
//   - context.go: context-aware logging with client/request IDs
//   - truncate.go: payload attribute truncation
//
// Features:
//   - JSON structured logging (default) or text output
//   - Dynamic log level adjustment
//   - Payload truncation so large pub/sub messages never bloat logs
//   - Context propagation for per-client log correlation
package logger
