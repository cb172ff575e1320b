// Package elector wraps a distributed mutex into a leader election: a
// background acquire loop attempts to take the lock at a fixed cadence,
// and a role-change callback fires on genuine transitions only. Grounded
// on the teacher's Task.statsCollectorLoop ticker/select pattern
// (internal/task/task.go), adapted from "refresh stats on an interval" to
// "attempt acquisition on an interval".
package elector

import (
	"context"
	"sync"
	"time"

	"firestige.xyz/sentinel/coordination"
	"firestige.xyz/sentinel/internal/delay"
	"firestige.xyz/sentinel/internal/lifecycle"
)

// Role mirrors sentinel.Role's two variants without importing the root
// package.
type Role int

const (
	Follower Role = iota
	Leader
)

// Config configures an Elector.
type Config struct {
	Client coordination.Client
	// Key is the leader-election mutex key, e.g. KeyPrefix.LeaderKey().
	Key string
	// AcquireCadence is how often the background loop attempts
	// tryAcquire while Follower. Defaults to 5s.
	AcquireCadence time.Duration
	// OnRoleChange fires on genuine Follower<->Leader transitions only.
	OnRoleChange func(Role)
	OnError      func(error)
}

// Elector is the Leader Elector (spec §4.6).
type Elector struct {
	mgr *lifecycle.Manager[Config]

	mu     sync.Mutex
	cfg    Config
	role   Role
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an unstarted Elector; Follower is the start role.
func New() *Elector {
	e := &Elector{role: Follower}
	e.mgr = lifecycle.New(e.startInternal, e.stopInternal)
	return e
}

func (e *Elector) Start(ctx context.Context, cfg Config) error { return e.mgr.Start(ctx, cfg) }
func (e *Elector) Stop(ctx context.Context) error              { return e.mgr.Stop(ctx) }
func (e *Elector) IsOperational() bool                         { return e.mgr.IsOperational() }

// IsLeader reports whether this instance currently holds the lock.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role == Leader
}

func (e *Elector) cadence() time.Duration {
	if e.cfg.AcquireCadence > 0 {
		return e.cfg.AcquireCadence
	}
	return 5 * time.Second
}

func (e *Elector) startInternal(ctx context.Context, cfg Config) error {
	e.mu.Lock()
	e.cfg = cfg
	e.role = Follower
	e.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.mu.Lock()
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	go e.loop(loopCtx, done)
	return nil
}

func (e *Elector) stopInternal(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	cfg := e.cfg
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if e.IsLeader() {
		_ = cfg.Client.Release(ctx, cfg.Key)
	}
	e.setRole(Follower)
	return nil
}

func (e *Elector) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		if !e.IsLeader() {
			e.tryAcquire(ctx)
		}
		delay.Sleep(ctx, e.cadence())
	}
}

func (e *Elector) tryAcquire(ctx context.Context) {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	acquired, err := cfg.Client.TryAcquire(ctx, cfg.Key, func() { e.onLockLost() })
	if err != nil {
		if cfg.OnError != nil {
			cfg.OnError(err)
		}
		return
	}
	if acquired {
		e.setRole(Leader)
	}
}

func (e *Elector) onLockLost() {
	e.setRole(Follower)
}

func (e *Elector) setRole(r Role) {
	e.mu.Lock()
	prev := e.role
	e.role = r
	notify := e.cfg.OnRoleChange
	e.mu.Unlock()

	if notify != nil && prev != r {
		notify(r)
	}
}
