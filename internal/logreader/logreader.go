// Package logreader implements the blocking-tail loop shared by the
// call-result store and the circuit-state store: given a log key and a
// callback that reports the caller's own last-seen position, it
// continuously tails new entries and hands them to the caller in batches.
//
// The loop structure mirrors the teacher's ticker-driven batch loops
// (ReporterWrapper.batchLoop, Task.statsCollectorLoop) but is blocking-tail
// driven rather than ticker driven, since the coordination log itself
// blocks for up to blockMs waiting on new entries.
package logreader

import (
	"context"
	"time"

	"firestige.xyz/sentinel/coordination"
	"firestige.xyz/sentinel/internal/delay"
)

const (
	defaultBlockMs      = 1000
	defaultRetryBackoff = 200 * time.Millisecond
)

// Reader tails a single log key, invoking onEntries for each non-empty
// batch and onError whenever the underlying Tail call fails outside of
// shutdown.
type Reader struct {
	conn            coordination.Log
	key             string
	getLastPosition func() string
	onEntries       func([]coordination.Entry)
	onError         func(error)

	blockMs      int
	retryBackoff time.Duration

	done chan struct{}
}

// New constructs a Reader. conn is typically a dedicated coordination.Conn
// obtained via Client.Dedicated so the reader's blocking Tail calls don't
// contend with the owning subsystem's other traffic on the same
// connection.
func New(conn coordination.Log, key string, getLastPosition func() string, onEntries func([]coordination.Entry), onError func(error)) *Reader {
	return &Reader{
		conn:            conn,
		key:             key,
		getLastPosition: getLastPosition,
		onEntries:       onEntries,
		onError:         onError,
		blockMs:         defaultBlockMs,
		retryBackoff:    defaultRetryBackoff,
	}
}

// Start launches the tail loop in its own goroutine. It returns
// immediately; call Stop to cancel and wait for the loop to exit.
func (r *Reader) Start(ctx context.Context) {
	r.done = make(chan struct{})
	go r.loop(ctx)
}

// Stop blocks until the tail loop, started via Start, has exited. It does
// not cancel ctx itself — callers cancel the context they passed to Start.
func (r *Reader) Stop() {
	if r.done != nil {
		<-r.done
	}
}

func (r *Reader) loop(ctx context.Context) {
	defer close(r.done)
	for {
		if ctx.Err() != nil {
			return
		}

		pos := r.getLastPosition()
		entries, err := r.conn.Tail(ctx, r.key, pos, r.blockMs)
		if err != nil {
			if ctx.Err() != nil {
				// Shutdown-induced error; not a real transport failure.
				return
			}
			if r.onError != nil {
				r.onError(err)
			}
			delay.Sleep(ctx, r.retryBackoff)
			continue
		}

		if len(entries) > 0 && r.onEntries != nil {
			r.onEntries(entries)
		}
	}
}
