// Package coordination defines the contract the circuit breaker kernel
// requires from a backing coordination store: an ordered, append-only log
// and a distributed mutex. Concrete clients (Redis Streams + RedLock, an
// etcd-backed equivalent, or anything else that can honor these semantics)
// are deliberately out of scope for this module — it ships only the
// contract and, under internal/coordtest, an in-memory fake used by this
// module's own tests.
package coordination

import "context"

// Entry is one record read back from an append-only log. Position is the
// log's own opaque, lexicographically-ordered cursor; Fields preserves the
// flat key/value field layout the wire format uses (see wire.go).
type Entry struct {
	Position string
	Fields   []string
}

// Log is an ordered, append-only log keyed by an arbitrary string. Entries
// preserve insertion order; positions returned by Append are opaque strings
// that sort lexicographically in the order they were assigned.
type Log interface {
	// Append writes fields to the log at key, trimming the log so it
	// retains approximately maxLenHint most recent entries, and returns
	// the new entry's position.
	Append(ctx context.Context, key string, fields []string, maxLenHint int) (position string, err error)

	// ReadRange reads entries in (from, to] in ascending position order,
	// capped at count. from == "" means from the beginning of the log.
	ReadRange(ctx context.Context, key string, from, to string, count int) ([]Entry, error)

	// Tail blocks for up to blockMs milliseconds waiting for entries with
	// position strictly greater than afterPosition, returning immediately
	// once any arrive. An empty result with a nil error means the block
	// timed out with nothing new. afterPosition == "" tails from the start.
	Tail(ctx context.Context, key string, afterPosition string, blockMs int) ([]Entry, error)
}

// Conn is a dedicated connection to the coordination store. Log readers
// that perform blocking tails open one of these so a slow/blocking read
// never starves other RPCs sharing the caller's base client. Conn embeds
// Log so a connection can be used directly wherever a Log is expected.
type Conn interface {
	Log
	Close() error
}

// Client is the caller-supplied handle to the coordination store. The
// orchestrator obtains dedicated connections from it for components that
// need one (log readers); the shared connection itself backs producer-side
// appends and the mutex.
type Client interface {
	Log
	Mutex

	// Dedicated opens a new connection exclusively owned by the caller,
	// released via Conn.Close when the owning subsystem stops.
	Dedicated(ctx context.Context) (Conn, error)
}

// LockLostFunc is invoked when a held mutex is lost out-of-band (lease
// expiry, network partition) rather than via an explicit Release.
type LockLostFunc func()

// Mutex is a distributed mutex keyed by an arbitrary string. Implementations
// are expected to renew the lock automatically while held and to invoke the
// registered lost-callback if renewal fails.
type Mutex interface {
	// TryAcquire attempts to acquire the mutex at key without blocking,
	// reporting whether it succeeded. onLost, if non-nil, is registered
	// for the duration the lock is held and fires at most once per
	// successful acquisition.
	TryAcquire(ctx context.Context, key string, onLost LockLostFunc) (acquired bool, err error)

	// Release releases a held mutex. Releasing a mutex not currently held
	// by this handle is a no-op.
	Release(ctx context.Context, key string) error
}
