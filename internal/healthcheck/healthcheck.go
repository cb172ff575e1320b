// Package healthcheck implements the single reusable probing loop the
// orchestrator multiplexes between recovery and idle probing. Grounded on
// the teacher's Task.statsCollectorLoop/ReporterWrapper.batchLoop
// ticker/select pattern, but delay-driven (via internal/delay) rather than
// ticker-driven, since the delay between attempts is itself a function of
// the attempt number.
package healthcheck

import (
	"context"
	"sync"
	"time"

	"firestige.xyz/sentinel/internal/delay"
)

func msToDuration(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Kind mirrors sentinel.ProbeKind's two variants without importing the
// root package.
type Kind int

const (
	Recovery Kind = iota
	Idle
)

// Config parameterizes one run of the scheduler.
type Config struct {
	Kind Kind
	// GetDelayMs returns the delay, in milliseconds, before attempt N
	// (1-indexed). Consulted before every attempt including the first.
	GetDelayMs func(attempt int) int64
	// RunCheck is invoked once per attempt. It owns interpreting and
	// reporting its own outcome; the scheduler never inspects it.
	RunCheck func(ctx context.Context, kind Kind, attempt int)
}

// Scheduler runs at most one probe loop at a time. Restart guarantees the
// previous loop has fully terminated before the new one's first sleep
// begins, so probes of different kinds never overlap.
type Scheduler struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an idle Scheduler with no loop running.
func New() *Scheduler {
	return &Scheduler{}
}

// Start launches the probe loop described by cfg. Calling Start while a
// loop is already running first stops it (equivalent to Restart).
func (s *Scheduler) Start(ctx context.Context, cfg Config) {
	_ = s.Stop(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.loop(loopCtx, done, cfg)
}

// Restart is Start under another name, kept to mirror spec §4.7's
// vocabulary at call sites.
func (s *Scheduler) Restart(ctx context.Context, cfg Config) {
	s.Start(ctx, cfg)
}

// Stop cancels the running loop, if any, and waits for it to fully exit or
// for ctx to be done, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}, cfg Config) {
	defer close(done)
	attempt := 1
	for {
		var delayMs int64
		if cfg.GetDelayMs != nil {
			delayMs = cfg.GetDelayMs(attempt)
		}
		delay.Sleep(ctx, msToDuration(delayMs))
		if ctx.Err() != nil {
			return
		}
		if cfg.RunCheck != nil {
			cfg.RunCheck(ctx, cfg.Kind, attempt)
		}
		attempt++
	}
}
