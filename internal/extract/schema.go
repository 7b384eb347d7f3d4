package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/cabb/almabatch/internal/record"
)

// DefaultDelimiter joins multi-valued columns.
const DefaultDelimiter = "|"

// Policy is how a column combines the values of its selectors.
type Policy int

// Combination policies.
const (
	// PolicyFirst takes the first value, or "" when there is none.
	PolicyFirst Policy = iota
	// PolicyJoin deduplicates all values and joins them with the delimiter.
	PolicyJoin
	// PolicyDerived computes the value from columns earlier in the row.
	PolicyDerived
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyFirst:
		return "first"
	case PolicyJoin:
		return "join"
	case PolicyDerived:
		return "derived"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// DeriveFunc computes a derived column from the row built so far.
type DeriveFunc func(row *Row) string

// Column is one schema entry.
type Column struct {
	Name string

	// Selectors are tried in order; the first that yields any value wins.
	Selectors []record.Selector

	Policy    Policy
	Delimiter string
	Derive    DeriveFunc

	// Filter, when set, drops selector values it rejects.
	Filter func(string) bool

	// Counter names a Stats counter incremented when the column is empty.
	Counter string
}

// WithFilter returns c keeping only values accepted by keep.
func (c Column) WithFilter(keep func(string) bool) Column {
	c.Filter = keep
	return c
}

// CountingEmpty returns c incrementing counter whenever it maps to "".
func (c Column) CountingEmpty(counter string) Column {
	c.Counter = counter
	return c
}

// Placeholder builds a column left empty by the mapper and filled later by
// an enricher.
func Placeholder(name string) Column {
	return Derived(name, func(*Row) string { return "" })
}

// First builds a first-value column.
func First(name string, sels ...record.Selector) Column {
	return Column{Name: name, Selectors: sels, Policy: PolicyFirst}
}

// Joined builds a deduplicated, delimiter-joined column.
func Joined(name string, sels ...record.Selector) Column {
	return Column{Name: name, Selectors: sels, Policy: PolicyJoin, Delimiter: DefaultDelimiter}
}

// Derived builds a column computed from earlier columns.
func Derived(name string, fn DeriveFunc) Column {
	return Column{Name: name, Policy: PolicyDerived, Derive: fn}
}

// Schema errors.
var (
	ErrDuplicateColumn = errors.New("duplicate column name")
	ErrEmptyColumn     = errors.New("column name cannot be empty")
	ErrInvalidColumn   = errors.New("invalid column definition")
)

// Schema is an ordered, versioned list of columns.
type Schema struct {
	Name    string
	Version *semver.Version
	Columns []Column

	index map[string]int
}

// NewSchema validates columns and builds a schema.
func NewSchema(name, version string, columns ...Column) (*Schema, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("schema %s: invalid version %q: %w", name, version, err)
	}

	s := &Schema{Name: name, Version: v, Columns: columns, index: make(map[string]int, len(columns))}
	for i, c := range columns {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("schema %s column %d: %w", name, i, ErrEmptyColumn)
		}
		if _, dup := s.index[c.Name]; dup {
			return nil, fmt.Errorf("schema %s: %w: %q", name, ErrDuplicateColumn, c.Name)
		}
		switch c.Policy {
		case PolicyDerived:
			if c.Derive == nil {
				return nil, fmt.Errorf("schema %s: %w: derived column %q has no function", name, ErrInvalidColumn, c.Name)
			}
		case PolicyFirst, PolicyJoin:
			if len(c.Selectors) == 0 {
				return nil, fmt.Errorf("schema %s: %w: column %q has no selector", name, ErrInvalidColumn, c.Name)
			}
		default:
			return nil, fmt.Errorf("schema %s: %w: column %q has policy %s", name, ErrInvalidColumn, c.Name, c.Policy)
		}
		s.index[c.Name] = i
	}
	return s, nil
}

// MustSchema is NewSchema for package-level report definitions.
func MustSchema(name, version string, columns ...Column) *Schema {
	s, err := NewSchema(name, version, columns...)
	if err != nil {
		panic(err)
	}
	return s
}

// Header returns the column names in order.
func (s *Schema) Header() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Index returns the position of the named column.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// NewRow returns a row with every column present and empty.
func (s *Schema) NewRow() *Row {
	return &Row{schema: s, values: make([]string, len(s.Columns))}
}

// Row is one flat, schema-shaped output. It always holds exactly the
// schema's columns in schema order.
type Row struct {
	schema *Schema
	values []string
}

// Schema returns the schema the row was built from.
func (r *Row) Schema() *Schema { return r.schema }

// Get returns the named column's value, or "" for an unknown column.
func (r *Row) Get(name string) string {
	if i, ok := r.schema.index[name]; ok {
		return r.values[i]
	}
	return ""
}

// Set stores a value for the named column. It reports whether the column
// exists.
func (r *Row) Set(name, value string) bool {
	i, ok := r.schema.index[name]
	if ok {
		r.values[i] = value
	}
	return ok
}

// Values returns a copy of the row in column order.
func (r *Row) Values() []string {
	out := make([]string, len(r.values))
	copy(out, r.values)
	return out
}
