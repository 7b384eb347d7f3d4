// Package source builds the ordered identifier collection a run works on,
// either by paging through a remote set or by reading a local file.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/cabb/almabatch/internal/logging"
	"github.com/cabb/almabatch/internal/store"
)

// DefaultPageSize is the membership page size; Alma caps it at 100.
const DefaultPageSize = 100

// ErrEnumerationFailed wraps any failure to list a set's members. It is the
// only error that aborts a run before it starts.
var ErrEnumerationFailed = errors.New("set enumeration failed")

// Collection is the ordered, immutable working set of one run.
type Collection struct {
	IDs []string

	// Origin names where the identifiers came from, e.g. "set 7071".
	Origin string

	// ReportedTotal is the size the store reported on the first page, or
	// the number of identifiers read from a file.
	ReportedTotal int

	// EffectiveTotal is the denominator for progress reporting.
	EffectiveTotal int
}

// Len returns the number of identifiers.
func (c *Collection) Len() int { return len(c.IDs) }

// EnumerateSet pages through setID with a fixed page size.
//
// The total reported on the first page is kept for the whole enumeration:
// paging stops at an empty page or once the offset reaches that total.
// A positive limit stops paging as soon as limit identifiers are held; a
// negative limit keeps the last -limit identifiers and so reads the whole
// set first. Any list failure aborts with an error wrapping
// ErrEnumerationFailed and no partial collection.
func EnumerateSet(ctx context.Context, st store.RecordStore, setID string, pageSize, limit int) (*Collection, error) {
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}
	log := logging.FromContext(ctx)

	var ids []string
	total := -1
	for offset := 0; total < 0 || offset < total; {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("enumerating set %s: %w", setID, err)
		}

		page, err := st.ListMembers(ctx, setID, offset, pageSize)
		if err != nil {
			return nil, fmt.Errorf("%w: set %s at offset %d (status %d): %w",
				ErrEnumerationFailed, setID, offset, store.StatusCode(err), err)
		}
		if total < 0 {
			total = page.Total
			log.Info().Str("set", setID).Int("reported_total", total).Msg("enumerating set")
		} else if page.Total != total {
			log.Warn().
				Str("set", setID).
				Int("reported_total", total).
				Int("page_total", page.Total).
				Msg("set size changed during enumeration, keeping first reported total")
		}
		if len(page.Members) == 0 {
			break
		}

		ids = append(ids, page.Members...)
		offset += len(page.Members)

		log.Debug().Str("set", setID).Int("offset", offset).Int("collected", len(ids)).Msg("set page read")

		if limit > 0 && len(ids) >= limit {
			break
		}
	}

	ids = Truncate(dedupe(ids), limit)
	effective := max(total, 0)
	if limit > 0 && limit < effective {
		effective = limit
	}
	if limit < 0 {
		effective = len(ids)
	}
	if effective != len(ids) {
		// Membership drifted against the first reported total; progress
		// follows what was actually collected.
		log.Warn().
			Str("set", setID).
			Int("expected", effective).
			Int("collected", len(ids)).
			Msg("collected identifier count differs from reported total")
		effective = len(ids)
	}

	return &Collection{
		IDs:            ids,
		Origin:         "set " + setID,
		ReportedTotal:  total,
		EffectiveTotal: effective,
	}, nil
}

// Truncate keeps the first n identifiers for n > 0, the last -n for n < 0,
// and all of them for n == 0.
func Truncate(ids []string, n int) []string {
	switch {
	case n > 0 && n < len(ids):
		return ids[:n]
	case n < 0 && -n < len(ids):
		return ids[len(ids)+n:]
	default:
		return ids
	}
}

// dedupe drops repeated identifiers, keeping the first occurrence.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
