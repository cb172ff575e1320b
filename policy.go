package sentinel

import (
	"context"

	"firestige.xyz/sentinel/internal/callresultstore"
	"firestige.xyz/sentinel/internal/circuitstatestore"
	"firestige.xyz/sentinel/internal/elector"
	"firestige.xyz/sentinel/internal/healthcheck"
)

// Non-leader processes are passive observers: onCallResultWindow and the
// two probe callbacks (runRecoveryProbe, runIdleProbe) are the only places
// the breaker ever mutates the state log, and each checks leadership (or
// is only reachable while leader) before doing so.

// onCallResultWindow is invoked by the call-result store's tail loop with
// the full current window, oldest first, whenever it changes.
func (b *CircuitBreaker) onCallResultWindow(window []callresultstore.Event) {
	if !b.elect.IsLeader() {
		return
	}
	if b.states.GetState() == circuitstatestore.Blocking {
		return
	}

	lastChange := b.states.GetLastStateChangeTimestamp()
	var recentFailures []bool
	for _, e := range window {
		if e.TimestampMs < lastChange {
			continue
		}
		recentFailures = append(recentFailures, e.Outcome == 1)
	}

	ctx := context.Background()
	if b.cfg.Strategy.ShouldOpen(recentFailures) {
		if err := b.states.SetState(ctx, circuitstatestore.Blocking, nowMs()); err != nil {
			b.handleError(err)
			return
		}
		b.sched.Restart(ctx, b.recoveryConfig())
		return
	}

	if b.cfg.Health.IdleProbeIntervalMs > 0 {
		b.sched.Restart(ctx, b.idleConfig())
	}
}

// onStateChange is invoked by the circuit-state store on every genuine
// Passing<->Blocking transition, on every process, leader or follower.
func (b *CircuitBreaker) onStateChange(c circuitstatestore.Cached) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(toRootState(c.State))
	}
}

// onRoleChange is invoked by the elector on every genuine Follower<->Leader
// transition.
func (b *CircuitBreaker) onRoleChange(r elector.Role) {
	isLeader := r == elector.Leader
	if b.cfg.OnRoleChange != nil {
		b.cfg.OnRoleChange(toRootRole(isLeader))
	}

	if !isLeader {
		_ = b.sched.Stop(context.Background())
		return
	}

	ctx := context.Background()
	if b.states.GetState() == circuitstatestore.Blocking {
		b.sched.Restart(ctx, b.recoveryConfig())
	} else if b.cfg.Health.IdleProbeIntervalMs > 0 {
		b.sched.Restart(ctx, b.idleConfig())
	}
}

func (b *CircuitBreaker) recoveryConfig() healthcheck.Config {
	return healthcheck.Config{
		Kind:       healthcheck.Recovery,
		GetDelayMs: b.cfg.Health.Backoff,
		RunCheck:   b.runRecoveryProbe,
	}
}

func (b *CircuitBreaker) idleConfig() healthcheck.Config {
	interval := b.cfg.Health.IdleProbeIntervalMs
	return healthcheck.Config{
		Kind: healthcheck.Idle,
		GetDelayMs: func(attempt int) int64 {
			if attempt != 1 {
				return interval
			}
			target := b.newestCallTimestamp() + interval - nowMs()
			if target < 0 {
				return 0
			}
			return target
		},
		RunCheck: b.runIdleProbe,
	}
}

func (b *CircuitBreaker) newestCallTimestamp() int64 {
	events := b.results.GetEvents()
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].TimestampMs
}

// runRecoveryProbe is the scheduler's RunCheck callback while probing in
// Recovery mode. It runs on the scheduler's own loop goroutine, so any
// restart/stop of that same scheduler triggered from here must happen on
// a separate goroutine to avoid the loop waiting on its own exit.
func (b *CircuitBreaker) runRecoveryProbe(ctx context.Context, _ healthcheck.Kind, _ int) {
	outcome, _ := b.runProbe(ctx, ProbeRecovery)
	if outcome == "" {
		return // cancellation noise
	}
	if outcome != "success" {
		return // scheduler advances attempt and retries on the next backoff
	}

	if err := b.states.SetState(ctx, circuitstatestore.Passing, nowMs()); err != nil {
		b.handleError(err)
		return
	}
	if b.cfg.Health.IdleProbeIntervalMs > 0 {
		go b.sched.Restart(context.Background(), b.idleConfig())
	} else {
		go func() { _ = b.sched.Stop(context.Background()) }()
	}
}

// runIdleProbe is the scheduler's RunCheck callback while probing in Idle
// mode. Same self-restart caveat as runRecoveryProbe applies.
func (b *CircuitBreaker) runIdleProbe(ctx context.Context, _ healthcheck.Kind, _ int) {
	if b.states.GetState() != circuitstatestore.Passing {
		return
	}
	outcome, _ := b.runProbe(ctx, ProbeIdle)
	if outcome == "" || outcome == "success" {
		return
	}

	if err := b.states.SetState(ctx, circuitstatestore.Blocking, nowMs()); err != nil {
		b.handleError(err)
		return
	}
	go b.sched.Restart(context.Background(), b.recoveryConfig())
}

// runProbe runs the caller-supplied health check, records it via the
// metrics sink, and returns "success"/"failure", or "" if the failure was
// only cancellation noise (ctx already done when check returned an
// error).
func (b *CircuitBreaker) runProbe(ctx context.Context, kind ProbeKind) (outcome string, durationMs int64) {
	start := nowMs()
	err := b.cfg.Health.Check(ctx, kind)
	durationMs = nowMs() - start

	if err != nil && ctx.Err() != nil {
		return "", durationMs
	}
	outcome = "success"
	if err != nil {
		outcome = "failure"
		b.handleError(err)
	}
	b.cfg.Metrics.RecordHealthCheck(b.cfg.ID, kind.String(), outcome, durationMs)
	return outcome, durationMs
}
