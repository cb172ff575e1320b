// Package lifecycle implements the reusable start/stop/restart state
// machine embedded by the call-result store, the circuit-state store, the
// leader elector, and the orchestrator itself. Centralising it here means
// none of those subsystems hand-roll their own "started" bool. The
// health-check scheduler does not embed it: it has no lifecycle phases and
// tracks only its running loop's cancel func and done channel.
package lifecycle

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// Phase is one state in the five-phase lifecycle.
type Phase int

const (
	Inactive Phase = iota
	Starting
	Operational
	Stopping
	Unrecoverable
)

func (p Phase) String() string {
	switch p {
	case Inactive:
		return "inactive"
	case Starting:
		return "starting"
	case Operational:
		return "operational"
	case Stopping:
		return "stopping"
	case Unrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// BusyError is returned by Start when a start is already in flight with a
// different config than the one requested.
type BusyError struct{ Phase Phase }

func (e *BusyError) Error() string {
	return fmt.Sprintf("lifecycle: busy in phase %s with a different config", e.Phase)
}

// RunningError is returned by Start when the manager is Operational with a
// different config than the one requested.
type RunningError struct{}

func (e *RunningError) Error() string {
	return "lifecycle: already running with a different config"
}

// UnrecoverableError is returned by any operation attempted once the
// manager has entered Unrecoverable; Cause is the error that caused it.
type UnrecoverableError struct{ Cause error }

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("lifecycle: unrecoverable: %v", e.Cause)
}

func (e *UnrecoverableError) Unwrap() error { return e.Cause }

// Manager[C] is a generic lifecycle state machine parameterised by the
// config type a given subsystem starts with. It is not safe to share a
// single Manager's startFn/stopFn across unrelated subsystem instances;
// each owning instance constructs its own.
type Manager[C any] struct {
	startFn func(context.Context, C) error
	stopFn  func(context.Context) error

	mu     sync.Mutex
	phase  Phase
	config C
	cause  error

	startDone chan struct{}
	startErr  error
	stopDone  chan struct{}
	stopErr   error
}

// New constructs a Manager bound to the given start/stop callbacks. Both
// run outside the manager's internal lock so they may themselves call back
// into the owning subsystem without deadlocking.
func New[C any](startFn func(context.Context, C) error, stopFn func(context.Context) error) *Manager[C] {
	return &Manager[C]{startFn: startFn, stopFn: stopFn}
}

// Phase returns the current lifecycle phase.
func (m *Manager[C]) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// IsOperational reports whether the manager is currently Operational.
func (m *Manager[C]) IsOperational() bool {
	return m.Phase() == Operational
}

// Start promotes Inactive -> Starting -> Operational, running startFn in
// between. See package lifecycle's doc and spec §4.1 for the full
// idempotence/busy/running/join semantics.
func (m *Manager[C]) Start(ctx context.Context, config C) error {
	m.mu.Lock()
	switch m.phase {
	case Inactive:
		m.phase = Starting
		m.config = config
		done := make(chan struct{})
		m.startDone = done
		m.mu.Unlock()

		err := m.startFn(ctx, config)

		m.mu.Lock()
		m.startErr = err
		if err != nil {
			m.phase = Unrecoverable
			m.cause = err
		} else {
			m.phase = Operational
		}
		close(done)
		m.mu.Unlock()
		return err

	case Starting:
		if reflect.DeepEqual(m.config, config) {
			done := m.startDone
			m.mu.Unlock()
			<-done
			m.mu.Lock()
			err := m.startErr
			m.mu.Unlock()
			return err
		}
		phase := m.phase
		m.mu.Unlock()
		return &BusyError{Phase: phase}

	case Operational:
		if reflect.DeepEqual(m.config, config) {
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		return &RunningError{}

	case Stopping:
		done := m.stopDone
		m.mu.Unlock()
		<-done
		return m.Start(ctx, config)

	case Unrecoverable:
		cause := m.cause
		m.mu.Unlock()
		return &UnrecoverableError{Cause: cause}

	default:
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: unknown phase %v", m.phase)
	}
}

// Stop promotes Operational -> Stopping -> Inactive, running stopFn in
// between. Idempotent on Inactive.
func (m *Manager[C]) Stop(ctx context.Context) error {
	m.mu.Lock()
	switch m.phase {
	case Operational:
		m.phase = Stopping
		done := make(chan struct{})
		m.stopDone = done
		m.mu.Unlock()

		err := m.stopFn(ctx)

		m.mu.Lock()
		m.stopErr = err
		if err != nil {
			m.phase = Unrecoverable
			m.cause = err
		} else {
			m.phase = Inactive
			var zero C
			m.config = zero
		}
		close(done)
		m.mu.Unlock()
		return err

	case Inactive:
		m.mu.Unlock()
		return nil

	case Starting:
		done := m.startDone
		m.mu.Unlock()
		<-done
		return m.Stop(ctx)

	case Stopping:
		done := m.stopDone
		m.mu.Unlock()
		<-done
		m.mu.Lock()
		err := m.stopErr
		m.mu.Unlock()
		return err

	case Unrecoverable:
		cause := m.cause
		m.mu.Unlock()
		return &UnrecoverableError{Cause: cause}

	default:
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: unknown phase %v", m.phase)
	}
}

// Restart stops the manager (if not already Inactive) and starts it again
// with config.
func (m *Manager[C]) Restart(ctx context.Context, config C) error {
	for {
		if err := m.Stop(ctx); err != nil {
			return err
		}
		if m.Phase() == Inactive {
			break
		}
	}
	return m.Start(ctx, config)
}
