// Package mutation implements idempotent read-modify-write edits of record
// metadata.
package mutation

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cabb/almabatch/internal/record"
)

// CollectionRelationPrefix marks dc:relation values that point at an Alma
// collection.
const CollectionRelationPrefix = "alma:01GCL_INST/bibs/collections/"

// Preset names.
const (
	PresetClearCollectionRelations = "clear-collection-relations"
)

// Rule errors.
var (
	ErrUnknownPreset = errors.New("unknown preset")
	ErrInvalidRule   = errors.New("invalid rule")
)

// Matcher reports whether an existing value is a legacy form to replace
// or remove.
type Matcher func(value string) bool

// PrefixMatcher matches values starting with prefix.
func PrefixMatcher(prefix string) Matcher {
	return func(v string) bool { return strings.HasPrefix(v, prefix) }
}

// PatternMatcher matches values the regular expression finds a match in.
func PatternMatcher(pattern string) (Matcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: legacy pattern: %w", ErrInvalidRule, err)
	}
	return re.MatchString, nil
}

// Rule describes the desired state of one field.
//
// With a Target the field should hold that value exactly once: legacy
// occurrences are rewritten into it or, once it is present, dropped.
// Without a Target every legacy occurrence is removed.
type Rule struct {
	Name  string
	Field record.Selector

	// Target is the value the field must hold; empty for removal rules.
	Target string

	// Legacy matches occurrences to replace or remove. Nil matches none.
	Legacy Matcher

	// AddIfAbsent appends Target when the field has no occurrence at all.
	AddIfAbsent bool
}

// Validate checks that the rule can do something.
func (r Rule) Validate() error {
	switch {
	case r.Field.Name == "":
		return fmt.Errorf("%w: no field", ErrInvalidRule)
	case r.Field.IsBib():
		return fmt.Errorf("%w: %s is not a metadata field", ErrInvalidRule, r.Field)
	case r.Target == "" && r.Legacy == nil:
		return fmt.Errorf("%w: removal rule for %s needs a legacy matcher", ErrInvalidRule, r.Field)
	case r.Target == "" && r.AddIfAbsent:
		return fmt.Errorf("%w: cannot add an empty value to %s", ErrInvalidRule, r.Field)
	}
	return nil
}

func (r Rule) isLegacy(v string) bool {
	return r.Legacy != nil && r.Legacy(v)
}

// ClearCollectionRelations removes every dc:relation pointing at an Alma
// collection.
func ClearCollectionRelations() Rule {
	return Rule{
		Name:   PresetClearCollectionRelations,
		Field:  record.DC("relation"),
		Legacy: PrefixMatcher(CollectionRelationPrefix),
	}
}

//nolint:gochecknoglobals // Intentional: static preset table.
var presets = map[string]func() Rule{
	PresetClearCollectionRelations: ClearCollectionRelations,
}

// LookupPreset returns the named preset rule.
func LookupPreset(name string) (Rule, error) {
	fn, ok := presets[name]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownPreset, name, strings.Join(PresetNames(), ", "))
	}
	return fn(), nil
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
