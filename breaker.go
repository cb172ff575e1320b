// Package sentinel is a distributed circuit breaker: application
// processes wrap calls to a fragile dependency through Execute, which
// records every outcome, detects failure patterns via a pluggable
// strategy, and — once a threshold is crossed — replicates a blocking
// transition to every cooperating process sharing the same circuit id, so
// new calls everywhere short-circuit immediately. A background probing
// loop decides when the dependency has recovered.
//
// Coordination across processes goes through a caller-supplied
// coordination store (package coordination): an ordered, append-only log
// and a distributed mutex. This package ships the coordination kernel —
// lifecycle management, the two replicated stores, leader election, the
// health-check scheduler, and this orchestrator — not a concrete
// coordination-store client, failure-detection policy, or metrics sink;
// see package breakertest for test doubles of the latter two.
package sentinel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"firestige.xyz/sentinel/coordination"
	"firestige.xyz/sentinel/internal/callresultstore"
	"firestige.xyz/sentinel/internal/circuitstatestore"
	"firestige.xyz/sentinel/internal/elector"
	"firestige.xyz/sentinel/internal/healthcheck"
	"firestige.xyz/sentinel/internal/lifecycle"
	"firestige.xyz/sentinel/internal/xlog"
)

// CircuitBreaker is the orchestrator. Construct with New; it owns a
// call-result store, a circuit-state store, a leader elector, and a
// health-check scheduler, nested inside its own lifecycle.
type CircuitBreaker struct {
	cfg  Config
	keys coordination.KeyPrefix

	mgr *lifecycle.Manager[struct{}]

	results *callresultstore.Store
	states  *circuitstatestore.Store
	elect   *elector.Elector
	sched   *healthcheck.Scheduler

	logger xlog.Logger

	pending sync.WaitGroup
}

// New validates cfg and constructs an unstarted CircuitBreaker.
func New(cfg Config) (*CircuitBreaker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	b := &CircuitBreaker{
		cfg:     cfg,
		keys:    coordination.KeyPrefix{Prefix: cfg.KeyPrefix, ID: cfg.ID},
		results: callresultstore.New(),
		states:  circuitstatestore.New(),
		elect:   elector.New(),
		sched:   healthcheck.New(),
		logger:  xlog.Default(),
	}
	b.mgr = lifecycle.New(b.startInternal, b.stopInternal)
	cfg.Metrics.Initialize(cfg.ID)
	return b, nil
}

// Start brings the call-result store, state store, and elector to
// Operational, in that order (mirrors the teacher's Task.Start ordered
// sub-step startup with rollback on failure). Idempotent per the
// lifecycle's rules.
func (b *CircuitBreaker) Start(ctx context.Context) error {
	return wrapLifecycleErr(b.mgr.Start(ctx, struct{}{}))
}

// Stop concurrently stops the scheduler and all three subsystems.
func (b *CircuitBreaker) Stop(ctx context.Context) error {
	return wrapLifecycleErr(b.mgr.Stop(ctx))
}

// wrapLifecycleErr translates an internal/lifecycle error into the
// exported LifecycleError, preserving the original as Cause so
// errors.As(err, &lifecycle.BusyError{}) style checks still work for
// callers willing to import the internal package, while everyone else can
// match on *sentinel.LifecycleError alone.
func wrapLifecycleErr(err error) error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *lifecycle.BusyError:
		return &LifecycleError{Phase: e.Phase.String(), Message: e.Error(), Cause: err}
	case *lifecycle.RunningError:
		return &LifecycleError{Phase: "operational", Message: e.Error(), Cause: err}
	case *lifecycle.UnrecoverableError:
		return &LifecycleError{Phase: "unrecoverable", Message: e.Error(), Cause: err}
	default:
		return err
	}
}

func (b *CircuitBreaker) startInternal(ctx context.Context, _ struct{}) error {
	if err := b.results.Start(ctx, callresultstore.Config{
		Client:     b.cfg.Store,
		Key:        b.keys.CallResultKey(),
		WindowSize: b.cfg.WindowSize,
		OnWindow:   b.onCallResultWindow,
		OnError:    b.handleError,
	}); err != nil {
		return fmt.Errorf("sentinel: call-result store start: %w", err)
	}

	if err := b.states.Start(ctx, circuitstatestore.Config{
		Client:   b.cfg.Store,
		Key:      b.keys.StateKey(),
		OnChange: b.onStateChange,
		OnError:  b.handleError,
	}); err != nil {
		_ = b.results.Stop(ctx)
		return fmt.Errorf("sentinel: circuit-state store start: %w", err)
	}

	if err := b.elect.Start(ctx, elector.Config{
		Client:         b.cfg.Store,
		Key:            b.keys.LeaderKey(),
		AcquireCadence: b.cfg.LeaderAcquireInterval,
		OnRoleChange:   b.onRoleChange,
		OnError:        b.handleError,
	}); err != nil {
		_ = b.states.Stop(ctx)
		_ = b.results.Stop(ctx)
		return fmt.Errorf("sentinel: elector start: %w", err)
	}
	return nil
}

func (b *CircuitBreaker) stopInternal(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, 4)
	wg.Add(4)
	go func() { defer wg.Done(); errs[0] = b.sched.Stop(ctx) }()
	go func() { defer wg.Done(); errs[1] = b.elect.Stop(ctx) }()
	go func() { defer wg.Done(); errs[2] = b.states.Stop(ctx) }()
	go func() { defer wg.Done(); errs[3] = b.results.Stop(ctx) }()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// State returns the state store's cached current state.
func (b *CircuitBreaker) State() CircuitState {
	return toRootState(b.states.GetState())
}

// Role returns Leader if this instance currently holds the leader lock,
// else Follower.
func (b *CircuitBreaker) Role() Role {
	return toRootRole(b.elect.IsLeader())
}

// Snapshot returns a read-only composite view convenient for status
// endpoints and logging.
func (b *CircuitBreaker) Snapshot() Snapshot {
	events := b.results.GetEvents()
	cached := b.states.GetCached()
	return Snapshot{
		ID:                b.cfg.ID,
		State:             b.State(),
		Role:              b.Role(),
		LastStateChangeMs: cached.TimestampMs,
		WindowSize:        len(events),
		RecentEvents:      toRootEvents(events),
		LastStateEvent:    toRootStateEvent(cached),
	}
}

// Flush blocks until every call-result append enqueued by Execute so far
// has completed, or ctx is done. Execute's append is fire-and-forget by
// default; Flush is an opt-in way to wait for it to drain.
func (b *CircuitBreaker) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs fn if the circuit is Passing, recording its outcome; if
// the circuit is Blocking it reports a blocked request and fails with
// CircuitOpenError without invoking fn. Go forbids type parameters on
// methods, hence Execute is a package-level function taking the breaker
// as its first argument.
func Execute[T any](b *CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if b.State() == Blocking {
		b.cfg.Metrics.RecordBlockedRequest(b.cfg.ID)
		return zero, &CircuitOpenError{CircuitID: b.cfg.ID}
	}

	start := time.Now()
	result, err := fn(ctx)
	durationMs := time.Since(start).Milliseconds()

	outcome := Success
	if err != nil {
		outcome = Failure
	}
	b.cfg.Metrics.RecordCall(b.cfg.ID, outcome.String(), durationMs)
	b.recordCallResultAsync(outcome, nowMs())

	return result, err
}

func (b *CircuitBreaker) recordCallResultAsync(outcome CallOutcome, tsMs int64) {
	wire := 0
	if outcome == Failure {
		wire = 1
	}
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		b.results.StoreCallResult(context.Background(), wire, tsMs)
	}()
}

func (b *CircuitBreaker) handleError(err error) {
	if b.cfg.OnError != nil {
		b.cfg.OnError(err)
		return
	}
	b.logger.WithError(err).Error("sentinel: subsystem error")
}

func nowMs() int64 { return time.Now().UnixMilli() }

func toRootState(s circuitstatestore.State) CircuitState {
	if s == circuitstatestore.Blocking {
		return Blocking
	}
	return Passing
}

func toRootRole(isLeader bool) Role {
	if isLeader {
		return Leader
	}
	return Follower
}

func toRootEvents(events []callresultstore.Event) []CallResultEvent {
	out := make([]CallResultEvent, len(events))
	for i, e := range events {
		outcome := Success
		if e.Outcome == 1 {
			outcome = Failure
		}
		out[i] = CallResultEvent{ID: e.ID, Outcome: outcome, TimestampMs: e.TimestampMs}
	}
	return out
}

func toRootStateEvent(c circuitstatestore.Cached) StateEvent {
	return StateEvent{ID: c.ID, State: toRootState(c.State), TimestampMs: c.TimestampMs}
}
