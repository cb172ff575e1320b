// Package breakertest provides test-double implementations of the two
// pluggable collaborators spec.md places out of scope for the kernel
// itself (the failure-detection strategy and the backoff delay
// function), plus a minimal in-memory metrics sink. These are not
// production policies; they exist so this module's own tests (and a
// consuming application's tests) can exercise the orchestrator without
// depending on a real strategy implementation.
//
// The interface-and-factory shape is grounded on the teacher's
// DispatchStrategy pattern (internal/task/dispatch_strategy.go): a small
// interface plus simple constructors, no registry machinery.
package breakertest

import (
	"sync"

	"firestige.xyz/sentinel/metrics"
)

var _ metrics.Sink = (*MetricsSink)(nil)

// FailureDetectionStrategy mirrors the shape sentinel.Config.Strategy is
// expected to satisfy: a pure function from a window of recent outcomes
// (true = failure) to "should transition to Blocking".
type FailureDetectionStrategy interface {
	ShouldOpen(recentFailures []bool) bool
}

type consecutiveFailures struct {
	threshold int
}

// ConsecutiveFailures returns a strategy that demands opening once the
// trailing `threshold` outcomes are all failures.
func ConsecutiveFailures(threshold int) FailureDetectionStrategy {
	return &consecutiveFailures{threshold: threshold}
}

func (c *consecutiveFailures) ShouldOpen(recentFailures []bool) bool {
	if len(recentFailures) < c.threshold {
		return false
	}
	tail := recentFailures[len(recentFailures)-c.threshold:]
	for _, failed := range tail {
		if !failed {
			return false
		}
	}
	return true
}

// AlwaysOpen demands a transition on every evaluation, whatever the
// window holds.
func AlwaysOpen() FailureDetectionStrategy { return fixedVerdict{open: true} }

// NeverOpen always returns false.
func NeverOpen() FailureDetectionStrategy { return fixedVerdict{open: false} }

type fixedVerdict struct{ open bool }

func (f fixedVerdict) ShouldOpen([]bool) bool { return f.open }

// Backoff mirrors sentinel.Config.Health.Backoff: a pure function from
// attempt number to delay in milliseconds.
type Backoff func(attempt int) int64

// FixedBackoff returns a Backoff that always waits ms milliseconds.
func FixedBackoff(ms int64) Backoff {
	return func(int) int64 { return ms }
}

// MetricsSink is a minimal in-memory implementation of spec.md §6's
// metrics sink contract, recording every call for assertion in tests.
type MetricsSink struct {
	mu              sync.Mutex
	Calls           []CallRecord
	BlockedRequests int
	HealthChecks    []HealthCheckRecord
}

// CallRecord is one recordCall invocation.
type CallRecord struct {
	ID         string
	Outcome    string
	DurationMs int64
}

// HealthCheckRecord is one recordHealthCheck invocation.
type HealthCheckRecord struct {
	ID         string
	Kind       string
	Outcome    string
	DurationMs int64
}

// NewMetricsSink constructs an empty MetricsSink.
func NewMetricsSink() *MetricsSink { return &MetricsSink{} }

// Initialize implements metrics.Sink; MetricsSink needs no per-id setup.
func (m *MetricsSink) Initialize(id string) {}

func (m *MetricsSink) RecordCall(id, outcome string, durationMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, CallRecord{ID: id, Outcome: outcome, DurationMs: durationMs})
}

func (m *MetricsSink) RecordBlockedRequest(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BlockedRequests++
}

func (m *MetricsSink) RecordHealthCheck(id, kind, outcome string, durationMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HealthChecks = append(m.HealthChecks, HealthCheckRecord{ID: id, Kind: kind, Outcome: outcome, DurationMs: durationMs})
}

// Snapshot returns copies of the recorded calls and health checks, safe to
// inspect from a test goroutine while the breaker keeps running.
func (m *MetricsSink) Snapshot() ([]CallRecord, int, []HealthCheckRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := append([]CallRecord(nil), m.Calls...)
	checks := append([]HealthCheckRecord(nil), m.HealthChecks...)
	return calls, m.BlockedRequests, checks
}
