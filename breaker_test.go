package sentinel_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sentinel"
	"firestige.xyz/sentinel/breakertest"
	"firestige.xyz/sentinel/internal/coordtest"
)

func newTestBreaker(t *testing.T, client *coordtest.Client, cfg sentinel.Config) *sentinel.CircuitBreaker {
	t.Helper()
	cfg.Store = client
	if cfg.ID == "" {
		cfg.ID = "svc"
	}
	cb, err := sentinel.New(cfg)
	require.NoError(t, err)
	require.NoError(t, cb.Start(context.Background()))
	t.Cleanup(func() { _ = cb.Stop(context.Background()) })
	return cb
}

// S1 - consecutive-failure trigger.
func TestExecute_ConsecutiveFailuresOpenCircuit(t *testing.T) {
	client := coordtest.NewClient()
	cb := newTestBreaker(t, client, sentinel.Config{
		Strategy: breakertest.ConsecutiveFailures(3),
		Health: sentinel.HealthConfig{
			Backoff: breakertest.FixedBackoff(5),
			Check:   func(context.Context, sentinel.ProbeKind) error { return nil },
		},
	})
	require.Eventually(t, func() bool { return cb.Role() == sentinel.Leader }, time.Second, time.Millisecond)

	wantErr := errors.New("e")
	for i := 0; i < 3; i++ {
		_, err := sentinel.Execute(cb, context.Background(), func(context.Context) (int, error) {
			return 0, wantErr
		})
		assert.ErrorIs(t, err, wantErr)
	}

	require.Eventually(t, func() bool { return cb.State() == sentinel.Blocking }, time.Second, time.Millisecond)

	_, err := sentinel.Execute(cb, context.Background(), func(context.Context) (int, error) {
		t.Fatal("fn must not run while circuit is open")
		return 0, nil
	})
	var openErr *sentinel.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
}

func TestSnapshot_IncludesRecentEventsAndLastStateEvent(t *testing.T) {
	client := coordtest.NewClient()
	cb := newTestBreaker(t, client, sentinel.Config{
		ID:       "snap",
		Strategy: breakertest.ConsecutiveFailures(1),
		Health: sentinel.HealthConfig{
			Backoff: breakertest.FixedBackoff(5),
			Check:   func(context.Context, sentinel.ProbeKind) error { return nil },
		},
	})
	require.Eventually(t, func() bool { return cb.Role() == sentinel.Leader }, time.Second, time.Millisecond)

	_, _ = sentinel.Execute(cb, context.Background(), func(context.Context) (int, error) {
		return 0, errors.New("e")
	})

	require.Eventually(t, func() bool { return cb.State() == sentinel.Blocking }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return len(cb.Snapshot().RecentEvents) >= 1
	}, time.Second, time.Millisecond)

	snap := cb.Snapshot()
	require.NotEmpty(t, snap.RecentEvents)
	assert.Equal(t, sentinel.Failure, snap.RecentEvents[len(snap.RecentEvents)-1].Outcome)
	assert.Equal(t, sentinel.Blocking, snap.LastStateEvent.State)
	assert.Equal(t, snap.LastStateChangeMs, snap.LastStateEvent.TimestampMs)
	assert.NotEmpty(t, snap.LastStateEvent.ID)
}

// S2 - distributed propagation.
func TestExecute_DistributedPropagation(t *testing.T) {
	client := coordtest.NewClient()
	a := newTestBreaker(t, client, sentinel.Config{
		ID:       "shared",
		Strategy: breakertest.ConsecutiveFailures(2),
		Health: sentinel.HealthConfig{
			Backoff: breakertest.FixedBackoff(5),
			Check:   func(context.Context, sentinel.ProbeKind) error { return nil },
		},
	})
	require.Eventually(t, func() bool { return a.Role() == sentinel.Leader }, time.Second, time.Millisecond)

	b := newTestBreaker(t, client, sentinel.Config{
		ID:       "shared",
		Strategy: breakertest.NeverOpen(),
		Health: sentinel.HealthConfig{
			Backoff: breakertest.FixedBackoff(5),
			Check:   func(context.Context, sentinel.ProbeKind) error { return nil },
		},
	})

	wantErr := errors.New("e")
	for i := 0; i < 2; i++ {
		_, _ = sentinel.Execute(a, context.Background(), func(context.Context) (int, error) {
			return 0, wantErr
		})
	}

	require.Eventually(t, func() bool { return b.State() == sentinel.Blocking }, time.Second, time.Millisecond)

	_, err := sentinel.Execute(b, context.Background(), func(context.Context) (int, error) {
		t.Fatal("fn must not run on follower once circuit is open")
		return 0, nil
	})
	var openErr *sentinel.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
}

// S3 - recovery.
func TestExecute_RecoveryTransitionsBackToPassing(t *testing.T) {
	client := coordtest.NewClient()
	var mu sync.Mutex
	var leaderChanges, followerChanges []sentinel.CircuitState

	a := newTestBreaker(t, client, sentinel.Config{
		ID:       "rec",
		Strategy: breakertest.ConsecutiveFailures(1),
		Health: sentinel.HealthConfig{
			Backoff: breakertest.FixedBackoff(5),
			Check:   func(context.Context, sentinel.ProbeKind) error { return nil },
		},
		OnStateChange: func(s sentinel.CircuitState) {
			mu.Lock()
			defer mu.Unlock()
			leaderChanges = append(leaderChanges, s)
		},
	})
	b := newTestBreaker(t, client, sentinel.Config{
		ID:       "rec",
		Strategy: breakertest.NeverOpen(),
		Health: sentinel.HealthConfig{
			Backoff: breakertest.FixedBackoff(5),
			Check:   func(context.Context, sentinel.ProbeKind) error { return nil },
		},
		OnStateChange: func(s sentinel.CircuitState) {
			mu.Lock()
			defer mu.Unlock()
			followerChanges = append(followerChanges, s)
		},
	})
	require.Eventually(t, func() bool { return a.Role() == sentinel.Leader }, time.Second, time.Millisecond)

	_, _ = sentinel.Execute(a, context.Background(), func(context.Context) (int, error) {
		return 0, errors.New("e")
	})

	require.Eventually(t, func() bool { return a.State() == sentinel.Blocking }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return a.State() == sentinel.Passing }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return b.State() == sentinel.Passing }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, leaderChanges, sentinel.Passing)
	assert.Contains(t, followerChanges, sentinel.Passing)
}

// S4 - historical suppression.
func TestExecute_PreRecoveryFailuresDoNotReopenCircuit(t *testing.T) {
	client := coordtest.NewClient()

	cb := newTestBreaker(t, client, sentinel.Config{
		ID:       "hist",
		Strategy: breakertest.ConsecutiveFailures(2),
		Health: sentinel.HealthConfig{
			Backoff: breakertest.FixedBackoff(5),
			Check:   func(context.Context, sentinel.ProbeKind) error { return nil },
		},
	})
	require.Eventually(t, func() bool { return cb.Role() == sentinel.Leader }, time.Second, time.Millisecond)

	fail := func() {
		_, _ = sentinel.Execute(cb, context.Background(), func(context.Context) (int, error) {
			return 0, errors.New("e")
		})
	}

	fail()
	fail()
	require.Eventually(t, func() bool { return cb.State() == sentinel.Blocking }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return cb.State() == sentinel.Passing }, time.Second, time.Millisecond)

	fail() // one post-recovery failure: must NOT reopen (only 1 of 2 needed)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, sentinel.Passing, cb.State())

	fail() // second post-recovery failure: now it reopens
	require.Eventually(t, func() bool { return cb.State() == sentinel.Blocking }, time.Second, time.Millisecond)
}

// S5 - idle probe opens circuit.
func TestExecute_IdleProbeOpensCircuitOnFailure(t *testing.T) {
	client := coordtest.NewClient()
	cb := newTestBreaker(t, client, sentinel.Config{
		ID:       "idle",
		Strategy: breakertest.NeverOpen(),
		Health: sentinel.HealthConfig{
			Backoff:              breakertest.FixedBackoff(1000),
			Check:                func(context.Context, sentinel.ProbeKind) error { return errors.New("down") },
			IdleProbeIntervalMs: 30,
		},
	})
	require.Eventually(t, func() bool { return cb.Role() == sentinel.Leader }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return cb.State() == sentinel.Blocking }, time.Second, 2*time.Millisecond)
}

// S6 - leadership handover.
func TestElection_HandoverPreservesBlockingState(t *testing.T) {
	client := coordtest.NewClient()
	a := newTestBreaker(t, client, sentinel.Config{
		ID:                    "handover",
		Strategy:              breakertest.ConsecutiveFailures(1),
		LeaderAcquireInterval: 5 * time.Millisecond,
		Health: sentinel.HealthConfig{
			Backoff: breakertest.FixedBackoff(10 * 1000),
			Check:   func(context.Context, sentinel.ProbeKind) error { return nil },
		},
	})
	require.Eventually(t, func() bool { return a.Role() == sentinel.Leader }, time.Second, time.Millisecond)

	b, err := sentinel.New(sentinel.Config{
		ID:                    "handover",
		Store:                 client,
		Strategy:              breakertest.NeverOpen(),
		LeaderAcquireInterval: 5 * time.Millisecond,
		Health: sentinel.HealthConfig{
			Backoff: breakertest.FixedBackoff(10 * 1000),
			Check:   func(context.Context, sentinel.ProbeKind) error { return nil },
		},
	})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop(context.Background())

	_, _ = sentinel.Execute(a, context.Background(), func(context.Context) (int, error) {
		return 0, errors.New("e")
	})
	require.Eventually(t, func() bool { return b.State() == sentinel.Blocking }, time.Second, time.Millisecond)

	require.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, sentinel.Follower, a.Role())

	require.Eventually(t, func() bool { return b.Role() == sentinel.Leader }, time.Second, time.Millisecond)
	assert.Equal(t, sentinel.Blocking, b.State())
}
