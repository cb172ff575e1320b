package sentinel

import (
	"context"
	"time"

	"firestige.xyz/sentinel/coordination"
	"firestige.xyz/sentinel/metrics"
)

// Strategy is the failure-detection policy: a pure function from a window
// of recent call outcomes (true = failure), already filtered to events at
// or after the last state transition, to "should transition to Blocking".
// Concrete strategies (consecutive-failures, count-window, time-window)
// are out of scope for this module; see package breakertest for test
// doubles.
type Strategy interface {
	ShouldOpen(recentFailures []bool) bool
}

// Backoff is a pure function from attempt number (1-indexed) to the next
// recovery-probe delay in milliseconds.
type Backoff func(attempt int) int64

// HealthCheckFunc is the caller-supplied probe. It must return promptly
// once ctx is done; an error returned after ctx is done is treated as
// cancellation noise and suppressed rather than counted as a failed
// probe.
type HealthCheckFunc func(ctx context.Context, kind ProbeKind) error

// HealthConfig groups the health-check scheduler's required and optional
// collaborators.
type HealthConfig struct {
	// Backoff computes the delay between recovery-probe attempts.
	// Required.
	Backoff Backoff
	// Check is the probe function run by both recovery and idle probing.
	// Required.
	Check HealthCheckFunc
	// IdleProbeIntervalMs enables idle probing when non-zero: while
	// Passing and idle for this many milliseconds, a probe runs; failure
	// transitions the circuit to Blocking.
	IdleProbeIntervalMs int64
}

// Config constructs a CircuitBreaker. ID, Store, Strategy, Health.Backoff
// and Health.Check are required; New returns a ConfigError if any are
// missing.
type Config struct {
	// ID namespaces this circuit's three coordination-store keys.
	ID string
	// Store is the caller-owned coordination-store client. The breaker
	// obtains dedicated connections from it for its log readers; shared
	// writes and the mutex use Store directly.
	Store coordination.Client
	// Strategy decides when to open the circuit. Required.
	Strategy Strategy
	// Health configures recovery/idle probing. Required.
	Health HealthConfig
	// Metrics receives call/probe outcomes. Defaults to metrics.NoopSink
	// when nil.
	Metrics metrics.Sink
	// OnError receives subsystem-internal errors (coordination failures,
	// non-cancellation probe errors). Defaults to logging via
	// internal/xlog when nil.
	OnError func(error)
	// OnRoleChange fires on genuine Follower<->Leader transitions.
	OnRoleChange func(Role)
	// OnStateChange fires on genuine Passing<->Blocking transitions, on
	// every process (not just the leader that caused it).
	OnStateChange func(CircuitState)
	// WindowSize bounds the call-result store's in-memory window and log
	// retention. Defaults to 1000.
	WindowSize int
	// KeyPrefix namespaces every circuit's coordination-store keys below
	// a shared root. Defaults to "sentinel".
	KeyPrefix string
	// LeaderAcquireInterval overrides the elector's default ~5s acquire
	// cadence (spec §9 Open Question 3 explicitly allows this, provided
	// the at-most-one-leader invariant is preserved, which a single
	// coordination-store mutex still guarantees regardless of cadence).
	// Defaults to 5s when zero.
	LeaderAcquireInterval time.Duration
}

func (c *Config) validate() error {
	if c.ID == "" {
		return &ConfigError{Field: "ID", Message: "required"}
	}
	if c.Store == nil {
		return &ConfigError{Field: "Store", Message: "required"}
	}
	if c.Strategy == nil {
		return &ConfigError{Field: "Strategy", Message: "required"}
	}
	if c.Health.Backoff == nil {
		return &ConfigError{Field: "Health.Backoff", Message: "required"}
	}
	if c.Health.Check == nil {
		return &ConfigError{Field: "Health.Check", Message: "required"}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Metrics == nil {
		c.Metrics = metrics.NoopSink{}
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "sentinel"
	}
}
