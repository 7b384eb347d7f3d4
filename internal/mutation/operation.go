package mutation

import (
	"context"
	"fmt"
	"strings"

	"github.com/cabb/almabatch/internal/extract"
	"github.com/cabb/almabatch/internal/logging"
	"github.com/cabb/almabatch/internal/pipeline"
	"github.com/cabb/almabatch/internal/record"
	"github.com/cabb/almabatch/internal/store"
)

// Audit columns.
const (
	ColumnOutcome = "Outcome"
	ColumnBefore  = "Before"
	ColumnAfter   = "After"
)

// AuditSchema is the per-record change log an edit run writes.
//
//nolint:gochecknoglobals // Intentional: static schema.
var AuditSchema = extract.MustSchema("edit-audit", "1.0.0",
	extract.Placeholder(extract.ColumnMMSID),
	extract.Placeholder(extract.ColumnTitle),
	extract.Placeholder(ColumnOutcome),
	extract.Placeholder(ColumnBefore),
	extract.Placeholder(ColumnAfter),
)

// Change is what applying a Rule did to one record.
type Change struct {
	Outcome pipeline.Outcome
	Before  []string
	After   []string
}

// Modified reports whether the record needs writing back.
func (c Change) Modified() bool {
	switch c.Outcome {
	case pipeline.OutcomeChanged, pipeline.OutcomeAdded, pipeline.OutcomeDuplicatesRemoved:
		return true
	default:
		return false
	}
}

// Apply edits rec in place so that it satisfies rule. Applying the same
// rule again reports OutcomeNoOp.
func Apply(rec *record.Record, rule Rule) (Change, error) {
	nodes, err := rec.Occurrences(rule.Field)
	if err != nil {
		return Change{Outcome: pipeline.OutcomeFailed}, err
	}
	change := Change{Before: texts(nodes)}

	var targets, legacy []*record.Node
	for _, n := range nodes {
		v := strings.TrimSpace(n.Text())
		switch {
		case rule.Target != "" && v == rule.Target:
			targets = append(targets, n)
		case rule.isLegacy(v):
			legacy = append(legacy, n)
		}
	}

	switch {
	case rule.Target == "":
		change.Outcome = pipeline.OutcomeNoOp
		if removeAll(rec, legacy) > 0 {
			change.Outcome = pipeline.OutcomeChanged
		}

	case len(targets) > 0:
		change.Outcome = pipeline.OutcomeNoOp
		if removeAll(rec, targets[1:])+removeAll(rec, legacy) > 0 {
			change.Outcome = pipeline.OutcomeDuplicatesRemoved
		}

	case len(legacy) > 0:
		rec.SetValue(legacy[0], rule.Target)
		removeAll(rec, legacy[1:])
		change.Outcome = pipeline.OutcomeChanged

	case len(nodes) == 0 && rule.AddIfAbsent:
		if _, err := rec.Add(rule.Field, rule.Target); err != nil {
			return Change{Outcome: pipeline.OutcomeFailed, Before: change.Before}, err
		}
		change.Outcome = pipeline.OutcomeAdded

	default:
		change.Outcome = pipeline.OutcomeNoOp
	}

	if change.Modified() {
		after, err := rec.Occurrences(rule.Field)
		if err != nil {
			return Change{Outcome: pipeline.OutcomeFailed, Before: change.Before}, err
		}
		change.After = texts(after)
	} else {
		change.After = change.Before
	}
	return change, nil
}

func removeAll(rec *record.Record, nodes []*record.Node) int {
	n := 0
	for _, node := range nodes {
		if rec.Remove(node) {
			n++
		}
	}
	return n
}

func texts(nodes []*record.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, strings.TrimSpace(n.Text()))
	}
	return out
}

// Operation applies a Rule to every record of a run and writes changed
// records back. It implements pipeline.Operation.
type Operation struct {
	store   store.RecordStore
	rule    Rule
	dryRun  bool
	refetch bool
	audit   bool
}

// NewOperation returns an edit operation writing through st.
func NewOperation(st store.RecordStore, rule Rule) (*Operation, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return &Operation{store: st, rule: rule}, nil
}

// WithDryRun computes outcomes without writing anything back.
func (o *Operation) WithDryRun(dryRun bool) *Operation {
	o.dryRun = dryRun
	return o
}

// WithRefetch re-reads each record individually before editing it, so the
// edit starts from the latest stored version rather than the batch copy.
func (o *Operation) WithRefetch(refetch bool) *Operation {
	o.refetch = refetch
	return o
}

// WithAudit makes every item produce an AuditSchema row.
func (o *Operation) WithAudit(audit bool) *Operation {
	o.audit = audit
	return o
}

// Name implements pipeline.Operation.
func (o *Operation) Name() string {
	name := o.rule.Name
	if name == "" {
		name = o.rule.Field.String()
	}
	if o.dryRun {
		return "edit " + name + " (dry run)"
	}
	return "edit " + name
}

// Apply implements pipeline.Operation.
func (o *Operation) Apply(ctx context.Context, id string, rec *record.Record) pipeline.Result {
	log := logging.FromContext(ctx)

	if o.refetch {
		fresh, err := o.store.FetchOne(ctx, id)
		if err != nil {
			return pipeline.Failed(fmt.Errorf("refetching %s (status %d): %w", id, store.StatusCode(err), err))
		}
		rec = fresh
	}

	change, err := Apply(rec, o.rule)
	if err != nil {
		return pipeline.Failed(fmt.Errorf("editing %s: %w", id, err))
	}

	if change.Modified() && !o.dryRun {
		if err := o.store.WriteOne(ctx, id, rec); err != nil {
			return pipeline.Failed(fmt.Errorf("writing %s (status %d): %w", id, store.StatusCode(err), err))
		}
	}

	ev := log.Debug()
	if change.Modified() {
		ev = log.Info()
	}
	ev.Str("outcome", change.Outcome.String()).
		Int("before", len(change.Before)).
		Int("after", len(change.After)).
		Bool("dry_run", o.dryRun).
		Msg("record edited")

	res := pipeline.Result{Outcome: change.Outcome}
	if o.audit {
		res.Row = o.auditRow(id, rec, change)
	}
	return res
}

func (o *Operation) auditRow(id string, rec *record.Record, change Change) *extract.Row {
	row := AuditSchema.NewRow()
	row.Set(extract.ColumnMMSID, id)
	row.Set(extract.ColumnTitle, rec.Title())
	row.Set(ColumnOutcome, change.Outcome.String())
	row.Set(ColumnBefore, strings.Join(change.Before, extract.DefaultDelimiter))
	row.Set(ColumnAfter, strings.Join(change.After, extract.DefaultDelimiter))
	return row
}
