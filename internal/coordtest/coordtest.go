// Package coordtest provides in-memory fakes of the coordination.Log and
// coordination.Mutex contracts, used exclusively by this module's own
// tests to exercise distributed scenarios (two orchestrators sharing one
// fake store) without a real coordination-store client, which is out of
// scope for this module (see spec §1).
package coordtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"firestige.xyz/sentinel/coordination"
)

// Log is an in-memory, single-process stand-in for an append-only log with
// blocking tail and MAXLEN trim semantics.
type Log struct {
	mu      sync.Mutex
	entries map[string][]coordination.Entry
	waiters map[string]chan struct{}
	seq     int64
}

// NewLog constructs an empty Log.
func NewLog() *Log {
	return &Log{
		entries: make(map[string][]coordination.Entry),
		waiters: make(map[string]chan struct{}),
	}
}

func (l *Log) nextPosition() string {
	l.seq++
	return fmt.Sprintf("%020d", l.seq)
}

// Append implements coordination.Log.
func (l *Log) Append(_ context.Context, key string, fields []string, maxLenHint int) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.nextPosition()
	entry := coordination.Entry{Position: pos, Fields: append([]string(nil), fields...)}
	l.entries[key] = append(l.entries[key], entry)
	if maxLenHint > 0 && len(l.entries[key]) > maxLenHint {
		l.entries[key] = l.entries[key][len(l.entries[key])-maxLenHint:]
	}

	if ch, ok := l.waiters[key]; ok {
		close(ch)
		delete(l.waiters, key)
	}
	return pos, nil
}

// ReadRange implements coordination.Log.
func (l *Log) ReadRange(_ context.Context, key string, from, to string, count int) ([]coordination.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filterLocked(key, from, to, count), nil
}

func (l *Log) filterLocked(key, from, to string, count int) []coordination.Entry {
	var out []coordination.Entry
	for _, e := range l.entries[key] {
		if from != "" && e.Position <= from {
			continue
		}
		if to != "" && e.Position > to {
			break
		}
		out = append(out, e)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out
}

// Tail implements coordination.Log, blocking up to blockMs for new entries.
func (l *Log) Tail(ctx context.Context, key string, afterPosition string, blockMs int) ([]coordination.Entry, error) {
	l.mu.Lock()
	out := l.filterLocked(key, afterPosition, "", 0)
	if len(out) > 0 {
		l.mu.Unlock()
		return out, nil
	}
	ch, ok := l.waiters[key]
	if !ok {
		ch = make(chan struct{})
		l.waiters[key] = ch
	}
	l.mu.Unlock()

	timer := time.NewTimer(time.Duration(blockMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ch:
		l.mu.Lock()
		out := l.filterLocked(key, afterPosition, "", 0)
		l.mu.Unlock()
		return out, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lockState tracks who holds a mutex key and the callback to invoke should
// the lock be force-lost.
type lockState struct {
	onLost coordination.LockLostFunc
}

// Mutex is an in-memory stand-in for a distributed mutex, shared across
// however many fake "processes" (Elector instances in tests) need to
// contend for the same key.
type Mutex struct {
	mu   sync.Mutex
	held map[string]*lockState
}

// NewMutex constructs a Mutex with no keys held.
func NewMutex() *Mutex {
	return &Mutex{held: make(map[string]*lockState)}
}

// TryAcquire implements coordination.Mutex.
func (m *Mutex) TryAcquire(_ context.Context, key string, onLost coordination.LockLostFunc) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return false, nil
	}
	m.held[key] = &lockState{onLost: onLost}
	return true, nil
}

// Release implements coordination.Mutex.
func (m *Mutex) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}

// ForceLoss simulates the coordination store revoking a held lock out of
// band (lease expiry, network partition): the lock is dropped and the
// registered onLost callback, if any, fires synchronously.
func (m *Mutex) ForceLoss(key string) {
	m.mu.Lock()
	st, ok := m.held[key]
	if ok {
		delete(m.held, key)
	}
	m.mu.Unlock()
	if ok && st.onLost != nil {
		st.onLost()
	}
}

// conn adapts a *Log into a coordination.Conn; Close is a no-op since the
// fake has no real connection to release.
type conn struct {
	*Log
}

func (c *conn) Close() error { return nil }

// Client bundles a Log and Mutex into a coordination.Client, the shape a
// real caller-supplied base client takes.
type Client struct {
	*Log
	*Mutex
}

// NewClient constructs a Client backed by fresh, empty Log and Mutex fakes.
func NewClient() *Client {
	return &Client{Log: NewLog(), Mutex: NewMutex()}
}

// Dedicated implements coordination.Client. Since the fake has no real
// connection pool, it simply wraps the same underlying Log.
func (c *Client) Dedicated(_ context.Context) (coordination.Conn, error) {
	return &conn{Log: c.Log}, nil
}
