// Package extract flattens record fields into schema-shaped rows.
//
// Extract and Dedup read values for one selector; a Mapper applies a Schema
// of columns to a record, combining multi-valued fields per column policy
// and computing derived columns such as year and decade.
package extract

import (
	"context"
	"strings"

	"github.com/cabb/almabatch/internal/logging"
	"github.com/cabb/almabatch/internal/record"
)

// Values returns the trimmed, non-empty text of every occurrence of sel in
// document order. Errors come from malformed embedded metadata.
func Values(rec *record.Record, sel record.Selector) ([]string, error) {
	nodes, err := rec.Occurrences(sel)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if v := strings.TrimSpace(n.Text()); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// Extract is Values with malformed metadata degraded to an empty result and
// a warning on the context logger.
func Extract(ctx context.Context, rec *record.Record, sel record.Selector) []string {
	values, err := Values(rec, sel)
	if err != nil {
		logging.FromContext(ctx).Warn().
			Err(err).
			Str("mms_id", rec.ID).
			Str("field", sel.String()).
			Msg("embedded metadata unreadable, field treated as empty")
		return nil
	}
	return values
}

// Dedup removes repeated values, keeping the first occurrence of each.
func Dedup(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
