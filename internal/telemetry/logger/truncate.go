package logger

import (
	"fmt"
	"log/slog"
)

// payloadAttrs are attribute keys whose values may carry arbitrary
// subscriber payloads and are capped before logging.
var payloadAttrs = map[string]bool{
	"payload": true,
	"message": true,
	"body":    true,
}

// truncatePayload caps payload-bearing attributes at max bytes. The
// truncated value keeps a prefix and records the original length.
func truncatePayload(a slog.Attr, max int) slog.Attr {
	if !payloadAttrs[a.Key] {
		return a
	}

	switch a.Value.Kind() {
	case slog.KindString:
		s := a.Value.String()
		if len(s) > max {
			a.Value = slog.StringValue(fmt.Sprintf("%s...(%d bytes)", s[:max], len(s)))
		}
	case slog.KindAny:
		if b, ok := a.Value.Any().([]byte); ok {
			if len(b) > max {
				a.Value = slog.StringValue(fmt.Sprintf("%s...(%d bytes)", b[:max], len(b)))
			} else {
				a.Value = slog.StringValue(string(b))
			}
		}
	}
	return a
}
