package client

import (
	"time"

	"github.com/channelmesh/channelmesh-go/internal/core/dispatch"
	"github.com/channelmesh/channelmesh-go/internal/core/domain"
	"github.com/channelmesh/channelmesh-go/internal/core/reconcile"
	"github.com/channelmesh/channelmesh-go/internal/telemetry/logger"
	"github.com/channelmesh/channelmesh-go/internal/telemetry/metric"
)

// DefaultRequestTimeout applies when a request context carries no
// deadline and Config.RequestTimeout is zero.
const DefaultRequestTimeout = 5 * time.Second

// Config holds client configuration. The zero value is usable.
type Config struct {
	// Standalone disables cluster routing; every request goes to the
	// single known node.
	Standalone bool `koanf:"standalone"`

	// RequestTimeout is the default per-request deadline applied when
	// the caller's context has none.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// Dispatch tunes the delivery worker pool.
	Dispatch dispatch.Config `koanf:"dispatch"`

	// Reconcile tunes convergence and retry behavior.
	Reconcile reconcile.Config `koanf:"reconcile"`

	// Logger overrides the default logger.
	Logger logger.Logger `koanf:"-"`

	// Metrics receives engine metrics when set.
	Metrics *metric.Registry `koanf:"-"`
}

// SubscriptionConfig describes one subscription request.
type SubscriptionConfig struct {
	Mode     domain.ChannelMode
	Target   string
	Callback domain.MessageCallback
	// Context is an opaque value handed back to the callback on every
	// delivery.
	Context any
}

// Snapshot is the desired and confirmed subscription state, with
// sorted targets per mode.
type Snapshot struct {
	Desired map[domain.ChannelMode][]string
	Actual  map[domain.ChannelMode][]string
}
