package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	N int
}

func TestManager_StartStop_HappyPath(t *testing.T) {
	var started, stopped bool
	m := New(func(_ context.Context, cfg testConfig) error {
		started = true
		return nil
	}, func(_ context.Context) error {
		stopped = true
		return nil
	})

	require.NoError(t, m.Start(context.Background(), testConfig{N: 1}))
	assert.True(t, started)
	assert.Equal(t, Operational, m.Phase())
	assert.True(t, m.IsOperational())

	require.NoError(t, m.Stop(context.Background()))
	assert.True(t, stopped)
	assert.Equal(t, Inactive, m.Phase())
}

func TestManager_Start_IdempotentSameConfig(t *testing.T) {
	calls := 0
	m := New(func(_ context.Context, cfg testConfig) error {
		calls++
		return nil
	}, func(_ context.Context) error { return nil })

	cfg := testConfig{N: 1}
	require.NoError(t, m.Start(context.Background(), cfg))
	require.NoError(t, m.Start(context.Background(), cfg))
	assert.Equal(t, 1, calls, "starting twice with the same config must not re-run startInternal")
}

func TestManager_Start_DifferentConfigWhileOperational(t *testing.T) {
	m := New(func(_ context.Context, cfg testConfig) error { return nil },
		func(_ context.Context) error { return nil })

	require.NoError(t, m.Start(context.Background(), testConfig{N: 1}))
	err := m.Start(context.Background(), testConfig{N: 2})
	require.Error(t, err)
	var runningErr *RunningError
	assert.ErrorAs(t, err, &runningErr)
}

func TestManager_Start_DifferentConfigWhileStarting(t *testing.T) {
	release := make(chan struct{})
	m := New(func(_ context.Context, cfg testConfig) error {
		<-release
		return nil
	}, func(_ context.Context) error { return nil })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.Start(context.Background(), testConfig{N: 1})
	}()

	// Give the first Start a moment to reach the Starting phase.
	for m.Phase() != Starting {
		time.Sleep(time.Millisecond)
	}

	err := m.Start(context.Background(), testConfig{N: 2})
	require.Error(t, err)
	var busyErr *BusyError
	assert.ErrorAs(t, err, &busyErr)

	close(release)
	wg.Wait()
}

func TestManager_Start_JoinsInFlightStartWithSameConfig(t *testing.T) {
	release := make(chan struct{})
	m := New(func(_ context.Context, cfg testConfig) error {
		<-release
		return nil
	}, func(_ context.Context) error { return nil })

	cfg := testConfig{N: 1}
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Start(context.Background(), cfg)
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range results {
		assert.NoError(t, err)
	}
	assert.Equal(t, Operational, m.Phase())
}

func TestManager_Stop_IdempotentOnInactive(t *testing.T) {
	m := New(func(_ context.Context, cfg testConfig) error { return nil },
		func(_ context.Context) error { return nil })
	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
}

func TestManager_Start_BecomesUnrecoverableOnStartError(t *testing.T) {
	wantErr := errors.New("boom")
	m := New(func(_ context.Context, cfg testConfig) error { return wantErr },
		func(_ context.Context) error { return nil })

	err := m.Start(context.Background(), testConfig{N: 1})
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, Unrecoverable, m.Phase())

	err = m.Start(context.Background(), testConfig{N: 1})
	var unrecoverable *UnrecoverableError
	require.ErrorAs(t, err, &unrecoverable)
	assert.ErrorIs(t, unrecoverable, wantErr)
}

func TestManager_Restart(t *testing.T) {
	starts, stops := 0, 0
	m := New(func(_ context.Context, cfg testConfig) error {
		starts++
		return nil
	}, func(_ context.Context) error {
		stops++
		return nil
	})

	require.NoError(t, m.Start(context.Background(), testConfig{N: 1}))
	require.NoError(t, m.Restart(context.Background(), testConfig{N: 2}))
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, stops)
	assert.Equal(t, Operational, m.Phase())
}

func TestManager_Restart_FromInactiveIsJustStart(t *testing.T) {
	starts := 0
	m := New(func(_ context.Context, cfg testConfig) error {
		starts++
		return nil
	}, func(_ context.Context) error { return nil })

	require.NoError(t, m.Restart(context.Background(), testConfig{N: 1}))
	assert.Equal(t, 1, starts)
}
