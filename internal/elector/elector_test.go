package elector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sentinel/internal/coordtest"
)

func TestElector_AcquiresLeadershipWhenUncontended(t *testing.T) {
	client := coordtest.NewClient()
	var mu sync.Mutex
	var roles []Role

	e := New()
	require.NoError(t, e.Start(context.Background(), Config{
		Client:         client,
		Key:            "leader",
		AcquireCadence: 5 * time.Millisecond,
		OnRoleChange: func(r Role) {
			mu.Lock()
			defer mu.Unlock()
			roles = append(roles, r)
		},
	}))
	defer e.Stop(context.Background())

	require.Eventually(t, e.IsLeader, time.Second, 2*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, roles, 1)
	assert.Equal(t, Leader, roles[0])
}

func TestElector_OnlyOneOfTwoAcquires(t *testing.T) {
	client := coordtest.NewClient()
	a := New()
	b := New()
	cfg := Config{Client: client, Key: "leader", AcquireCadence: 5 * time.Millisecond}

	require.NoError(t, a.Start(context.Background(), cfg))
	require.NoError(t, b.Start(context.Background(), cfg))
	defer a.Stop(context.Background())
	defer b.Stop(context.Background())

	require.Eventually(t, func() bool { return a.IsLeader() || b.IsLeader() }, time.Second, 2*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.NotEqual(t, a.IsLeader(), b.IsLeader())
}

func TestElector_LockLostRevertsToFollowerAndReacquires(t *testing.T) {
	client := coordtest.NewClient()
	e := New()
	require.NoError(t, e.Start(context.Background(), Config{
		Client:         client,
		Key:            "leader",
		AcquireCadence: 5 * time.Millisecond,
	}))
	defer e.Stop(context.Background())

	require.Eventually(t, e.IsLeader, time.Second, 2*time.Millisecond)

	client.ForceLoss("leader")
	require.Eventually(t, func() bool { return !e.IsLeader() }, time.Second, 2*time.Millisecond)
	require.Eventually(t, e.IsLeader, time.Second, 2*time.Millisecond)
}

func TestElector_StopReleasesLockAndDropsRole(t *testing.T) {
	client := coordtest.NewClient()
	e := New()
	require.NoError(t, e.Start(context.Background(), Config{
		Client:         client,
		Key:            "leader",
		AcquireCadence: 5 * time.Millisecond,
	}))
	require.Eventually(t, e.IsLeader, time.Second, 2*time.Millisecond)

	require.NoError(t, e.Stop(context.Background()))
	assert.False(t, e.IsLeader())

	acquired, err := client.TryAcquire(context.Background(), "leader", nil)
	require.NoError(t, err)
	assert.True(t, acquired, "lock should have been released on Stop")
}
