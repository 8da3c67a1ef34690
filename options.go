package singleton

import (
	"log/slog"
	"time"
)

const (
	DefaultHeartbeat     = 3 * time.Second
	DefaultLeaseTTL      = 10 * time.Second
	DefaultMissThreshold = 3
	DefaultShutdownGrace = 10 * time.Second
	DefaultRejoinDelay   = 5 * time.Second
	DefaultHookTimeout   = 30 * time.Second
	DefaultReconnectWait = 2 * time.Second
	DefaultMaxReconnects = -1 // Unlimited
)

// Option configures a Group.
type Option func(*groupOptions)

type groupOptions struct {
	heartbeat     time.Duration
	leaseTTL      time.Duration
	missThreshold int
	rejoinDelay   time.Duration
	hookTimeout   time.Duration
	metricsAddr   string
	natsCreds     string
	reconnectWait time.Duration
	maxReconnects int
	resolver      Resolver
	logger        *slog.Logger
}

func defaultGroupOptions() *groupOptions {
	return &groupOptions{
		heartbeat:     DefaultHeartbeat,
		leaseTTL:      DefaultLeaseTTL,
		missThreshold: DefaultMissThreshold,
		rejoinDelay:   DefaultRejoinDelay,
		hookTimeout:   DefaultHookTimeout,
		reconnectWait: DefaultReconnectWait,
		maxReconnects: DefaultMaxReconnects,
		resolver:      DefaultResolver,
		logger:        slog.Default(),
	}
}

// WithHeartbeat sets the owner heartbeat interval used by the liveness
// monitor and the claim refresh loop.
func WithHeartbeat(d time.Duration) Option {
	return func(o *groupOptions) {
		o.heartbeat = d
	}
}

// WithLeaseTTL sets how long an unrefreshed claim record stays valid.
func WithLeaseTTL(d time.Duration) Option {
	return func(o *groupOptions) {
		o.leaseTTL = d
	}
}

// WithMissThreshold sets how many consecutive missed heartbeats a watch
// tolerates before reporting an abnormal termination.
func WithMissThreshold(n int) Option {
	return func(o *groupOptions) {
		o.missThreshold = n
	}
}

// WithRejoinDelay sets how long a follower stays parked after observing
// a clean owner shutdown before running a fresh lookup cycle.
func WithRejoinDelay(d time.Duration) Option {
	return func(o *groupOptions) {
		o.rejoinDelay = d
	}
}

// WithHookTimeout sets the timeout applied to lifecycle hook calls.
func WithHookTimeout(d time.Duration) Option {
	return func(o *groupOptions) {
		o.hookTimeout = d
	}
}

// MetricsAddr sets the Prometheus metrics HTTP address. Empty disables
// the metrics server.
func MetricsAddr(addr string) Option {
	return func(o *groupOptions) {
		o.metricsAddr = addr
	}
}

// NATSCreds sets the NATS credentials file path.
func NATSCreds(path string) Option {
	return func(o *groupOptions) {
		o.natsCreds = path
	}
}

// WithReconnectWait sets the wait between NATS reconnect attempts.
func WithReconnectWait(d time.Duration) Option {
	return func(o *groupOptions) {
		o.reconnectWait = d
	}
}

// WithMaxReconnects sets the NATS reconnect attempt limit.
func WithMaxReconnects(n int) Option {
	return func(o *groupOptions) {
		o.maxReconnects = n
	}
}

// WithResolver overrides the conflict resolver. The function must be a
// pure function of the two handles; see Resolver.
func WithResolver(r Resolver) Option {
	return func(o *groupOptions) {
		o.resolver = r
	}
}

// WithLogger sets the logger for the group and its coordinators.
func WithLogger(logger *slog.Logger) Option {
	return func(o *groupOptions) {
		o.logger = logger
	}
}
