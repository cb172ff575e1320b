package delay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSleep_ReturnsAfterDuration(t *testing.T) {
	start := time.Now()
	Sleep(context.Background(), 20*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSleep_ReturnsEarlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	Sleep(ctx, time.Hour)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleep_ZeroDurationChecksCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	Sleep(ctx, 0)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
