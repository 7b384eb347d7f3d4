package extract

import (
	"context"
	"strings"

	"github.com/cabb/almabatch/internal/logging"
	"github.com/cabb/almabatch/internal/record"
)

// Stats counts what a Mapper saw across every row it mapped.
type Stats struct {
	Rows      int
	Malformed int

	// Counters holds per-column empty counts for columns that name a
	// counter, for example "no_date" on the Year column.
	Counters map[string]int
}

// Mapper builds rows for one schema. A Mapper is used by one goroutine.
type Mapper struct {
	schema *Schema
	stats  Stats
}

// NewMapper returns a Mapper for schema.
func NewMapper(schema *Schema) *Mapper {
	return &Mapper{schema: schema, stats: Stats{Counters: make(map[string]int)}}
}

// Schema returns the mapper's schema.
func (m *Mapper) Schema() *Schema { return m.schema }

// Stats returns a copy of the accumulated counts.
func (m *Mapper) Stats() Stats {
	out := Stats{Rows: m.stats.Rows, Malformed: m.stats.Malformed, Counters: make(map[string]int, len(m.stats.Counters))}
	for k, v := range m.stats.Counters {
		out.Counters[k] = v
	}
	return out
}

// MapRow builds one row from rec. Unreadable embedded metadata leaves the
// affected columns empty and logs a single warning for the record.
func (m *Mapper) MapRow(ctx context.Context, rec *record.Record) *Row {
	row := m.schema.NewRow()
	var metaErr error

	for i, col := range m.schema.Columns {
		var value string
		switch col.Policy {
		case PolicyFirst:
			values, err := m.lookup(rec, col)
			if err != nil {
				metaErr = err
			}
			if len(values) > 0 {
				value = values[0]
			}
		case PolicyJoin:
			values, err := m.lookup(rec, col)
			if err != nil {
				metaErr = err
			}
			delim := col.Delimiter
			if delim == "" {
				delim = DefaultDelimiter
			}
			value = strings.Join(Dedup(values), delim)
		case PolicyDerived:
			value = col.Derive(row)
		}
		row.values[i] = value

		if col.Counter != "" && value == "" {
			m.stats.Counters[col.Counter]++
		}
	}

	m.stats.Rows++
	if metaErr != nil {
		m.stats.Malformed++
		logging.FromContext(ctx).Warn().
			Err(metaErr).
			Str("mms_id", rec.ID).
			Str("schema", m.schema.Name).
			Msg("embedded metadata unreadable, metadata columns left empty")
	}
	return row
}

// lookup returns the values of the first selector that yields any.
func (m *Mapper) lookup(rec *record.Record, col Column) ([]string, error) {
	for _, sel := range col.Selectors {
		values, err := Values(rec, sel)
		if err != nil {
			return nil, err
		}
		if col.Filter != nil {
			values = filter(values, col.Filter)
		}
		if len(values) > 0 {
			return values, nil
		}
	}
	return nil, nil
}

func filter(values []string, keep func(string) bool) []string {
	out := values[:0:0]
	for _, v := range values {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
