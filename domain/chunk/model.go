// Package chunk holds the Chunk domain model: a partition of a Scan's
// endpoints assigned to one worker (SPEC §3, §4.6).
package chunk

import "time"

// State is the lifecycle state of a Chunk. It advances monotonically
// (SPEC invariant I2): pending -> running -> {completed, failed, cancelled}.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) IsValid() bool {
	switch s {
	case StatePending, StateRunning, StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

var transitions = map[State]map[State]bool{
	StatePending:   {StateRunning: true, StateCancelled: true},
	StateRunning:   {StateCompleted: true, StateFailed: true, StateCancelled: true},
	StateCompleted: {},
	StateFailed:    {},
	StateCancelled: {},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	return allowed[next]
}

// ExitKind classifies how a worker exited (SPEC §4.6).
type ExitKind string

const (
	ExitSuccess         ExitKind = "success"
	ExitBudgetExhausted ExitKind = "budget-exhausted"
	ExitError           ExitKind = "error"
	ExitTimeout         ExitKind = "timeout"
	ExitKilled          ExitKind = "killed"
)

// IsCompletedOutcome reports whether kind should classify its chunk as
// completed. budget-exhausted is deliberately treated as success (SPEC
// §4.6 rationale: the request budget is a safety feature, not a fault).
func (k ExitKind) IsCompletedOutcome() bool {
	return k == ExitSuccess || k == ExitBudgetExhausted
}

// Endpoint is one (method, path) operation assigned to a chunk.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Chunk is a partition of a Scan's endpoints assigned to one worker.
type Chunk struct {
	ScanID          string
	Index           int
	Endpoints       []Endpoint
	State           State
	Progress        int
	CurrentEndpoint string
	LastTelemetry   time.Time
	ExitKind        ExitKind
	ErrorMessage    string
	FindingsPath    string
	StartedAt       time.Time
	CompletedAt     time.Time
}

// New creates a pending Chunk for scanID at the given index.
func New(scanID string, index int, endpoints []Endpoint) *Chunk {
	return &Chunk{
		ScanID:    scanID,
		Index:     index,
		Endpoints: endpoints,
		State:     StatePending,
	}
}

// Transition moves the chunk to next if legal, returning false otherwise.
func (c *Chunk) Transition(next State) bool {
	if !c.State.CanTransition(next) {
		return false
	}
	c.State = next
	switch next {
	case StateRunning:
		if c.StartedAt.IsZero() {
			c.StartedAt = time.Now()
		}
	case StateCompleted, StateFailed, StateCancelled:
		c.CompletedAt = time.Now()
	}
	return true
}

// SetProgress applies the monotonic non-decreasing rule; a lower value is
// discarded.
func (c *Chunk) SetProgress(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct > c.Progress {
		c.Progress = pct
	}
}

// Complete records a terminal exit classification and transitions the
// chunk's state accordingly (budget-exhausted -> completed, timeout/error
// -> failed, see SPEC §4.6).
func (c *Chunk) Complete(kind ExitKind, errMessage string) {
	c.ExitKind = kind
	c.ErrorMessage = errMessage
	if kind.IsCompletedOutcome() {
		c.Transition(StateCompleted)
		c.SetProgress(100)
		return
	}
	c.Transition(StateFailed)
}
