// Package delay implements a cancellable sleep, the single cooperative
// cancellation building block every blocking loop in this module (log
// tailing, the leader acquire loop, the health-check scheduler) is built
// from.
package delay

import (
	"context"
	"time"
)

// Sleep returns after d, or promptly once ctx is done — whichever happens
// first. A cancelled context is never surfaced as an error; callers check
// ctx.Err() themselves if they need to distinguish "slept the full
// duration" from "woke up early".
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		select {
		case <-ctx.Done():
		default:
		}
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
