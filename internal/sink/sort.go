package sink

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cabb/almabatch/internal/extract"
)

// Sort orders.
const (
	SortOrderAsc  = "asc"
	SortOrderDesc = "desc"
)

const sortPartsMax = 2

// ErrInvalidSort is returned for a malformed sort expression.
var ErrInvalidSort = errors.New("invalid sort expression")

// SortKey orders rows by one column.
type SortKey struct {
	Column string
	Order  string
}

func (k SortKey) String() string { return k.Column + ":" + k.Order }

// ParseSortExpression parses a sort expression in "column:order" format.
// Supports:
//   - "column" - defaults to asc order
//   - "column:asc" - explicit ascending order
//   - "column:desc" - explicit descending order
//
// Column names may contain spaces but not colons or commas.
func ParseSortExpression(expr string) (SortKey, error) {
	if strings.TrimSpace(expr) == "" {
		return SortKey{}, fmt.Errorf("%w: empty sort expression", ErrInvalidSort)
	}

	parts := strings.Split(expr, ":")
	if len(parts) > sortPartsMax {
		return SortKey{}, fmt.Errorf("%w: too many colons in %q", ErrInvalidSort, expr)
	}

	key := SortKey{Column: strings.TrimSpace(parts[0]), Order: SortOrderAsc}
	if key.Column == "" {
		return SortKey{}, fmt.Errorf("%w: empty column in %q", ErrInvalidSort, expr)
	}
	if len(parts) == sortPartsMax {
		key.Order = strings.ToLower(strings.TrimSpace(parts[1]))
	}
	if key.Order != SortOrderAsc && key.Order != SortOrderDesc {
		return SortKey{}, fmt.Errorf("%w: order %q (must be asc or desc)", ErrInvalidSort, key.Order)
	}
	return key, nil
}

// ParseSortSpec parses a comma-separated list of sort expressions and
// checks every column exists in schema.
func ParseSortSpec(spec string, schema *extract.Schema) ([]SortKey, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	var keys []SortKey
	for _, expr := range strings.Split(spec, ",") {
		key, err := ParseSortExpression(expr)
		if err != nil {
			return nil, err
		}
		if _, ok := schema.Index(key.Column); !ok {
			return nil, fmt.Errorf("%w: no column %q in %s (columns: %s)",
				ErrInvalidSort, key.Column, schema.Name, strings.Join(schema.Header(), ", "))
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// SortRows sorts rows in place by keys. The sort is stable so rows that
// compare equal keep collection order.
func SortRows(rows []*extract.Row, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			c := compareValues(rows[i].Get(k.Column), rows[j].Get(k.Column))
			if c == 0 {
				continue
			}
			if k.Order == SortOrderDesc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareValues compares numerically when both values are integers and
// lexically otherwise. Empty values sort first.
func compareValues(a, b string) int {
	if a == b {
		return 0
	}
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	if aErr == nil && bErr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
