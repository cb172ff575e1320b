// Package circuitstatestore maintains the replicated current circuit state
// and the timestamp of its last transition, tailed from the coordination
// store's state log. Grounded on the same ReporterWrapper/Task loop
// texture as internal/callresultstore, but caches a single current value
// instead of a window.
package circuitstatestore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"firestige.xyz/sentinel/coordination"
	"firestige.xyz/sentinel/internal/lifecycle"
	"firestige.xyz/sentinel/internal/logreader"
)

// State mirrors sentinel.CircuitState's two variants without importing the
// root package.
type State int

const (
	Passing State = iota
	Blocking
)

// Cached is the store's current value.
type Cached struct {
	ID          string
	State       State
	TimestampMs int64
}

// Config configures a Store.
type Config struct {
	Client coordination.Client
	// Key is the circuit-state log key, e.g. KeyPrefix.StateKey().
	Key string
	// MaxLen bounds the state log's retention. Defaults to 10 (the state
	// log only ever needs its most recent entry; a small cushion absorbs
	// concurrent writers racing at the moment of a leadership handover).
	MaxLen int
	// OnChange fires whenever the tailed state differs from the
	// previously cached one. Never fires for the initial load.
	OnChange func(Cached)
	OnError  func(error)
}

// Store is the Circuit-State Store (spec §4.5).
type Store struct {
	mgr *lifecycle.Manager[Config]

	mu     sync.Mutex
	cfg    Config
	cached Cached
	conn   coordination.Conn
	reader *logreader.Reader
	cancel context.CancelFunc
}

// New constructs an unstarted Store, initially caching {id:"0",
// state:Passing, timestampMs:0} per spec §4.5.
func New() *Store {
	s := &Store{cached: Cached{ID: "0", State: Passing, TimestampMs: 0}}
	s.mgr = lifecycle.New(s.startInternal, s.stopInternal)
	return s
}

func (s *Store) Start(ctx context.Context, cfg Config) error { return s.mgr.Start(ctx, cfg) }
func (s *Store) Stop(ctx context.Context) error              { return s.mgr.Stop(ctx) }
func (s *Store) IsOperational() bool                         { return s.mgr.IsOperational() }

func (s *Store) maxLen() int {
	if s.cfg.MaxLen > 0 {
		return s.cfg.MaxLen
	}
	return 10
}

func (s *Store) startInternal(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	conn, err := cfg.Client.Dedicated(ctx)
	if err != nil {
		return fmt.Errorf("circuitstatestore: dedicated connection: %w", err)
	}

	latest, err := conn.ReadRange(ctx, cfg.Key, "", "", 0)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("circuitstatestore: initial load: %w", err)
	}

	s.mu.Lock()
	if len(latest) > 0 {
		if c, ok := decode(latest[len(latest)-1]); ok {
			s.cached = c
		}
	}
	s.conn = conn
	s.mu.Unlock()

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
	s.conn = nil
	s.reader = nil
	s.cancel = nil
	s.mu.Unlock()
	return err
}

func (s *Store) lastPosition() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached.ID
}

func (s *Store) onEntries(entries []coordination.Entry) {
	if len(entries) == 0 {
		return
	}
	c, ok := decode(entries[len(entries)-1])
	if !ok {
		return
	}

	s.mu.Lock()
	prev := s.cached
	s.cached = c
	notify := s.cfg.OnChange
	s.mu.Unlock()

	if notify != nil && c.State != prev.State {
		notify(c)
	}
}

// GetState returns the cached current state.
func (s *Store) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached.State
}

// GetLastStateChangeTimestamp returns the cached transition's timestamp.
func (s *Store) GetLastStateChangeTimestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached.TimestampMs
}

// GetCached returns a copy of the store's full cached value.
func (s *Store) GetCached() Cached {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached
}

// SetState appends {state, timestampMs=nowMs} to the log. Callers (the
// orchestrator) are responsible for only calling this while leader.
func (s *Store) SetState(ctx context.Context, state State, nowMs int64) error {
	s.mu.Lock()
	operational := s.conn != nil
	client := s.cfg.Client
	key := s.cfg.Key
	limit := s.maxLen()
	s.mu.Unlock()

	if !operational {
		return fmt.Errorf("circuitstatestore: not operational")
	}
	fields := []string{
		coordination.FieldState, stateWire(state),
		coordination.FieldTimestamp, strconv.FormatInt(nowMs, 10),
	}
	_, err := client.Append(ctx, key, fields, limit)
	return err
}

func stateWire(s State) string {
	if s == Passing {
		return coordination.WireStateClosed
	}
	return coordination.WireStateOpen
}

func decode(e coordination.Entry) (Cached, bool) {
	var state = Passing
	var found bool
	var ts int64
	for i := 0; i+1 < len(e.Fields); i += 2 {
		switch e.Fields[i] {
		case coordination.FieldState:
			found = true
			switch e.Fields[i+1] {
			case coordination.WireStateClosed:
				state = Passing
			case coordination.WireStateOpen:
				state = Blocking
			}
		case coordination.FieldTimestamp:
			if v, err := strconv.ParseInt(e.Fields[i+1], 10, 64); err == nil {
				ts = v
			}
		}
	}
	if !found {
		return Cached{}, false
	}
	return Cached{ID: e.Position, State: state, TimestampMs: ts}, true
}
