package pipeline

import (
	"context"

	"github.com/cabb/almabatch/internal/extract"
	"github.com/cabb/almabatch/internal/record"
)

// Outcome classifies what happened to one item.
type Outcome int

// Item outcomes. The zero value is OutcomeFailed.
const (
	OutcomeFailed Outcome = iota
	OutcomeExtracted
	OutcomeChanged
	OutcomeAdded
	OutcomeDuplicatesRemoved
	OutcomeNoOp
	OutcomeAbsent
)

//nolint:gochecknoglobals // Intentional: static lookup table.
var outcomeNames = map[Outcome]string{
	OutcomeFailed:            "failed",
	OutcomeExtracted:         "extracted",
	OutcomeChanged:           "changed",
	OutcomeAdded:             "added",
	OutcomeDuplicatesRemoved: "duplicates-removed",
	OutcomeNoOp:              "no-op",
	OutcomeAbsent:            "absent",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// Succeeded reports whether o counts as a success.
func (o Outcome) Succeeded() bool {
	return o != OutcomeFailed && o != OutcomeAbsent
}

// Result is what an Operation reports for one item.
type Result struct {
	Outcome Outcome

	// Row is appended to the sink when set.
	Row *extract.Row

	// Err explains a failed outcome.
	Err error
}

// Failed returns a failed Result carrying err.
func Failed(err error) Result { return Result{Outcome: OutcomeFailed, Err: err} }

// Operation is applied to each fetched record. Apply must not panic on
// bad input and never returns an error; failures are a Result.
type Operation interface {
	// Name identifies the operation in logs and summaries.
	Name() string

	Apply(ctx context.Context, id string, rec *record.Record) Result
}

// Sink receives the rows operations produce, in collection order.
type Sink interface {
	Write(row *extract.Row) error
}
