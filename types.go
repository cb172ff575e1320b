package sentinel

import "firestige.xyz/sentinel/coordination"

// CallOutcome is the result of one guarded call.
type CallOutcome int

const (
	Success CallOutcome = iota
	Failure
)

func (o CallOutcome) String() string {
	if o == Success {
		return coordination.WireCallSuccess
	}
	return coordination.WireCallFailure
}

// CircuitState is the circuit's current disposition. There are only two
// states; recovery/idle probing happens out-of-band, never through live
// traffic.
type CircuitState int

const (
	Passing CircuitState = iota
	Blocking
)

func (s CircuitState) String() string {
	if s == Passing {
		return coordination.WireStateClosed
	}
	return coordination.WireStateOpen
}

// Role is this process's current standing in the leader election.
type Role int

const (
	Follower Role = iota
	Leader
)

func (r Role) String() string {
	if r == Leader {
		return coordination.WireRoleLeader
	}
	return coordination.WireRoleFollower
}

// ProbeKind distinguishes a recovery probe (run while Blocking, trying to
// detect recovery) from an idle probe (run while Passing with no recent
// traffic, trying to detect silent failure).
type ProbeKind int

const (
	ProbeRecovery ProbeKind = iota
	ProbeIdle
)

func (k ProbeKind) String() string {
	if k == ProbeRecovery {
		return coordination.WireProbeRecovery
	}
	return coordination.WireProbeIdle
}

// CallResultEvent is one entry tailed from the call-result log. ID is the
// log's own opaque, totally-ordered position; TimestampMs is the
// appending process's wall clock at the time of the call.
type CallResultEvent struct {
	ID          string
	Outcome     CallOutcome
	TimestampMs int64
}

// StateEvent is one entry tailed from the circuit-state log.
type StateEvent struct {
	ID          string
	State       CircuitState
	TimestampMs int64
}

// Snapshot is a read-only composite view of a CircuitBreaker's current
// disposition, convenient for logging, health endpoints, or tests.
//
// [EXPANSION] Not named in spec.md's 2-accessor surface (state, role) but
// additive: it bundles those two accessors plus the circuit id, the
// last-state-change timestamp, current window size, the window's actual
// events, and the last applied state event, all read from state the
// breaker already holds.
type Snapshot struct {
	ID                string
	State             CircuitState
	Role              Role
	LastStateChangeMs int64
	WindowSize        int
	// RecentEvents is the call-result window backing WindowSize, oldest
	// first.
	RecentEvents []CallResultEvent
	// LastStateEvent is the circuit-state log's most recently applied
	// entry.
	LastStateEvent StateEvent
}
