// Package callresultstore maintains an in-memory, bounded window of recent
// call outcomes, replicated across processes through the coordination
// store's append-only log. Grounded on the teacher's ReporterWrapper
// (internal/task/reporter_wrapper.go): a ticker/tail-driven loop pushing
// batches to a subscriber, here repurposed from "flush metrics on a
// ticker" to "push tailed log entries into a bounded window".
package callresultstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"firestige.xyz/sentinel/coordination"
	"firestige.xyz/sentinel/internal/lifecycle"
	"firestige.xyz/sentinel/internal/logreader"
)

// Event mirrors the root package's CallResultEvent without importing it,
// keeping this package free of a dependency on the root package.
type Event struct {
	ID          string
	Outcome     int // 0 = success, 1 = failure; matches sentinel.CallOutcome's iota
	TimestampMs int64
}

// Config configures a Store.
type Config struct {
	// Client is the caller's base coordination-store handle. Store opens
	// its own dedicated connection for the tailing reader.
	Client coordination.Client
	// Key is the call-result log key, e.g. KeyPrefix.CallResultKey().
	Key string
	// WindowSize is the maximum number of events retained, both in the
	// in-memory window and as the log's MAXLEN trim hint. Defaults to
	// 1000 if zero.
	WindowSize int
	// OnWindow is invoked with the full current window (oldest-first)
	// whenever it changes, including once after the initial load if that
	// load was non-empty.
	OnWindow func([]Event)
	// OnError receives transport errors surfaced by the reader or by
	// StoreCallResult appends. May be nil.
	OnError func(error)
}

// Store is the Call-Result Store (spec §4.4).
type Store struct {
	mgr *lifecycle.Manager[Config]

	mu     sync.Mutex
	cfg    Config
	window []Event
	conn   coordination.Conn
	reader *logreader.Reader
	cancel context.CancelFunc
}

// New constructs an unstarted Store.
func New() *Store {
	s := &Store{}
	s.mgr = lifecycle.New(s.startInternal, s.stopInternal)
	return s
}

// Start brings the store to Operational, loading up to cfg.WindowSize most
// recent entries from the log before tailing begins.
func (s *Store) Start(ctx context.Context, cfg Config) error {
	return s.mgr.Start(ctx, cfg)
}

// Stop releases the dedicated connection and stops tailing.
func (s *Store) Stop(ctx context.Context) error {
	return s.mgr.Stop(ctx)
}

// IsOperational reports whether the store is currently Operational.
func (s *Store) IsOperational() bool { return s.mgr.IsOperational() }

func (s *Store) windowLimit() int {
	if s.cfg.WindowSize > 0 {
		return s.cfg.WindowSize
	}
	return 1000
}

func (s *Store) startInternal(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	s.cfg = cfg
	limit := s.windowLimit()
	s.mu.Unlock()

	conn, err := cfg.Client.Dedicated(ctx)
	if err != nil {
		return fmt.Errorf("callresultstore: dedicated connection: %w", err)
	}

	initial, err := conn.ReadRange(ctx, cfg.Key, "", "", 0)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("callresultstore: initial load: %w", err)
	}
	events := decodeAll(initial)
	if len(events) > limit {
		events = events[len(events)-limit:]
	}

	s.mu.Lock()
	s.window = events
	s.conn = conn
	notify := cfg.OnWindow
	snapshot := append([]Event(nil), s.window...)
	s.mu.Unlock()

	if len(events) > 0 && notify != nil {
		notify(snapshot)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.reader = logreader.New(conn, cfg.Key, s.lastPosition, s.onEntries, cfg.OnError)
	s.reader.Start(loopCtx)
	return nil
}

func (s *Store) stopInternal(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	reader := s.reader
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if reader != nil {
		reader.Stop()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}

	s.mu.Lock()
	s.window = nil
	s.conn = nil
	s.reader = nil
	s.cancel = nil
	s.mu.Unlock()
	return err
}

func (s *Store) lastPosition() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.window) == 0 {
		return ""
	}
	return s.window[len(s.window)-1].ID
}

func (s *Store) onEntries(entries []coordination.Entry) {
	fresh := decodeAll(entries)
	if len(fresh) == 0 {
		return
	}

	s.mu.Lock()
	limit := s.windowLimit()
	s.window = append(s.window, fresh...)
	if len(s.window) > limit {
		s.window = s.window[len(s.window)-limit:]
	}
	notify := s.cfg.OnWindow
	snapshot := append([]Event(nil), s.window...)
	s.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
}

// GetEvents returns a snapshot of the current window, oldest first.
func (s *Store) GetEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.window...)
}

// StoreCallResult appends {outcome, timestampMs=now} to the log with
// MAXLEN retention. Fire-and-forget: write errors are reported through
// cfg.OnError, not returned.
func (s *Store) StoreCallResult(ctx context.Context, outcome int, nowMs int64) {
	s.mu.Lock()
	operational := s.conn != nil
	client := s.cfg.Client
	key := s.cfg.Key
	limit := s.windowLimit()
	onErr := s.cfg.OnError
	s.mu.Unlock()

	if !operational {
		return
	}
	fields := []string{
		coordination.FieldCallResult, outcomeWire(outcome),
		coordination.FieldTimestamp, strconv.FormatInt(nowMs, 10),
	}
	if _, err := client.Append(ctx, key, fields, limit); err != nil && onErr != nil {
		onErr(fmt.Errorf("callresultstore: append: %w", err))
	}
}

func outcomeWire(outcome int) string {
	if outcome == 0 {
		return coordination.WireCallSuccess
	}
	return coordination.WireCallFailure
}

func decodeAll(entries []coordination.Entry) []Event {
	out := make([]Event, 0, len(entries))
	for _, e := range entries {
		ev, ok := decode(e)
		if ok {
			out = append(out, ev)
		}
	}
	return out
}

func decode(e coordination.Entry) (Event, bool) {
	var outcome int = -1
	var ts int64
	for i := 0; i+1 < len(e.Fields); i += 2 {
		switch e.Fields[i] {
		case coordination.FieldCallResult:
			switch e.Fields[i+1] {
			case coordination.WireCallSuccess:
				outcome = 0
			case coordination.WireCallFailure:
				outcome = 1
			}
		case coordination.FieldTimestamp:
			if v, err := strconv.ParseInt(e.Fields[i+1], 10, 64); err == nil {
				ts = v
			}
		}
	}
	if outcome == -1 {
		return Event{}, false
	}
	return Event{ID: e.Position, Outcome: outcome, TimestampMs: ts}, true
}
