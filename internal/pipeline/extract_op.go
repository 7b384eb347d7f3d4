package pipeline

import (
	"context"
	"fmt"

	"github.com/cabb/almabatch/internal/extract"
	"github.com/cabb/almabatch/internal/record"
)

// Enricher fills row columns that need more than the record, such as a
// link check. An error fails the item.
type Enricher interface {
	Enrich(ctx context.Context, row *extract.Row) error
}

// EnricherFunc adapts a function to Enricher.
type EnricherFunc func(ctx context.Context, row *extract.Row) error

// Enrich implements Enricher.
func (f EnricherFunc) Enrich(ctx context.Context, row *extract.Row) error { return f(ctx, row) }

// ExtractOperation maps every record to one row.
type ExtractOperation struct {
	Mapper    *extract.Mapper
	Enrichers []Enricher
}

// NewExtractOperation returns an operation producing rows of schema.
func NewExtractOperation(schema *extract.Schema, enrichers ...Enricher) *ExtractOperation {
	return &ExtractOperation{Mapper: extract.NewMapper(schema), Enrichers: enrichers}
}

// Name implements Operation.
func (o *ExtractOperation) Name() string { return "extract " + o.Mapper.Schema().Name }

// Apply implements Operation. Malformed metadata still yields a row.
func (o *ExtractOperation) Apply(ctx context.Context, id string, rec *record.Record) Result {
	row := o.Mapper.MapRow(ctx, rec)
	if row.Get(extract.ColumnMMSID) == "" {
		row.Set(extract.ColumnMMSID, id)
	}
	for _, e := range o.Enrichers {
		if err := e.Enrich(ctx, row); err != nil {
			return Failed(fmt.Errorf("enriching %s: %w", id, err))
		}
	}
	return Result{Outcome: OutcomeExtracted, Row: row}
}
