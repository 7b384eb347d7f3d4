package pipeline

import (
	"fmt"
	"maps"
	"time"
)

// State is the runner lifecycle position.
type State int

// Runner states.
const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFatal
)

//nolint:gochecknoglobals // Intentional: static lookup table.
var stateNames = map[State]string{
	StateIdle:      "idle",
	StateRunning:   "running",
	StateCompleted: "completed",
	StateCancelled: "cancelled",
	StateFatal:     "fatal",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFatal
}

// RunCounters tallies a run. Every identifier in the collection lands in
// exactly one of Succeeded, Failed, Absent or Cancelled, and Attempted is
// their sum.
type RunCounters struct {
	Attempted int
	Succeeded int
	Failed    int
	Absent    int
	Cancelled int

	// Chunks is the number of chunk fetches; FetchCalls counts every
	// store call including retries.
	Chunks     int
	FetchCalls int

	// ByOutcome breaks Succeeded, Failed and Absent down per Outcome.
	ByOutcome map[Outcome]int
}

func (c *RunCounters) record(o Outcome) {
	c.Attempted++
	switch {
	case o == OutcomeAbsent:
		c.Absent++
	case o.Succeeded():
		c.Succeeded++
	default:
		c.Failed++
	}
	if c.ByOutcome == nil {
		c.ByOutcome = make(map[Outcome]int)
	}
	c.ByOutcome[o]++
}

func (c *RunCounters) cancel(n int) {
	c.Attempted += n
	c.Cancelled += n
}

// Processed returns the items that were actually looked at.
func (c RunCounters) Processed() int { return c.Succeeded + c.Failed + c.Absent }

func (c RunCounters) clone() RunCounters {
	c.ByOutcome = maps.Clone(c.ByOutcome)
	return c
}

func (c RunCounters) String() string {
	return fmt.Sprintf("attempted=%d succeeded=%d failed=%d absent=%d cancelled=%d chunks=%d fetch_calls=%d",
		c.Attempted, c.Succeeded, c.Failed, c.Absent, c.Cancelled, c.Chunks, c.FetchCalls)
}

// Summary is the immutable result of one run.
type Summary struct {
	Operation string
	Origin    string
	TraceID   string
	State     State
	Counters  RunCounters
	Started   time.Time
	Finished  time.Time

	// Err is set for a fatal run.
	Err error
}

// Elapsed returns the wall time of the run.
func (s Summary) Elapsed() time.Duration { return s.Finished.Sub(s.Started) }

func (s Summary) String() string {
	return fmt.Sprintf("%s %s: %s", s.Operation, s.State, s.Counters)
}
