// Package scan holds the Scan domain model: the authoritative record of one
// client-submitted scan and its state-machine transitions (SPEC §3, §4.7).
package scan

import "time"

// State is the lifecycle state of a Scan. Terminal states are sticky.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsValid reports whether s is one of the recognized states.
func (s State) IsValid() bool {
	switch s {
	case StateQueued, StateRunning, StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is a terminal (sticky) state.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// transitions enumerates every state the machine may move to from a given
// state, making the state machine exhaustive at compile time (SPEC §9
// redesign flag: "the state machine becomes an enumeration with
// compile-time exhaustive transitions").
var transitions = map[State]map[State]bool{
	StateQueued:    {StateRunning: true, StateCancelled: true},
	StateRunning:   {StateCompleted: true, StateFailed: true, StateCancelled: true},
	StateCompleted: {},
	StateFailed:    {},
	StateCancelled: {},
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s State) CanTransition(next State) bool {
	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	return allowed[next]
}

// Options captures the recognized scan-start options (SPEC §6.2).
type Options struct {
	Scanners      []string `json:"scanners"`
	DangerousMode bool     `json:"dangerous_mode"`
	FuzzAuth      bool     `json:"fuzz_auth"`
	MaxRequests   int      `json:"max_requests"`
	RPS           float64  `json:"rps"`
	ParallelMode  bool     `json:"parallel_mode"`
	ChunkSize     int      `json:"chunk_size"`
	AllowInternal bool     `json:"allow_internal"`
}

// DefaultOptions returns the policy defaults named in SPEC §6.2.
func DefaultOptions() Options {
	return Options{
		Scanners:     []string{"ventiapi"},
		MaxRequests:  400,
		RPS:          2.0,
		ParallelMode: true,
		ChunkSize:    4,
	}
}

// Scan is one end-to-end run of the system against a target (SPEC §3).
type Scan struct {
	ID              string
	OwnerPrincipal  string
	TargetURL       string
	SpecRef         string
	Options         Options
	State           State
	Progress        int
	CurrentPhase    string
	ParallelMode    bool
	TotalChunks     int
	ErrorSummary    string
	CreatedAt       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	RetentionDeadline time.Time
}

// New creates a queued Scan owned by principal, ready for partitioning.
func New(id, ownerPrincipal, targetURL, specRef string, opts Options, retention time.Duration) *Scan {
	now := time.Now()
	return &Scan{
		ID:                id,
		OwnerPrincipal:    ownerPrincipal,
		TargetURL:         targetURL,
		SpecRef:           specRef,
		Options:           opts,
		State:             StateQueued,
		CreatedAt:         now,
		RetentionDeadline: now.Add(retention),
	}
}

// Transition moves the scan to next if the transition is legal, returning
// false (and leaving the scan unmodified) otherwise.
func (s *Scan) Transition(next State) bool {
	if !s.State.CanTransition(next) {
		return false
	}
	s.State = next
	switch next {
	case StateRunning:
		if s.StartedAt.IsZero() {
			s.StartedAt = time.Now()
		}
	case StateCompleted, StateFailed, StateCancelled:
		s.CompletedAt = time.Now()
	}
	return true
}

// SetProgress applies the monotonic non-decreasing rule of SPEC I3: a lower
// value than the current progress is silently discarded.
func (s *Scan) SetProgress(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct > s.Progress {
		s.Progress = pct
	}
}
