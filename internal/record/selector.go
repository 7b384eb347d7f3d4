package record

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Namespaces that appear in Alma bib records.
const (
	NamespaceDC       = "http://purl.org/dc/elements/1.1/"
	NamespaceDCTerms  = "http://purl.org/dc/terms/"
	NamespaceXMLBeans = "http://com/exlibris/urm/general/xmlbeans"
)

// knownPrefixes maps the conventional prefix to its namespace URI.
//
//nolint:gochecknoglobals // Read-only lookup table.
var knownPrefixes = map[string]string{
	"dc":      NamespaceDC,
	"dcterms": NamespaceDCTerms,
	"xb":      NamespaceXMLBeans,
}

// ErrInvalidSelector is returned when a selector expression cannot be parsed.
var ErrInvalidSelector = errors.New("invalid field selector")

// Selector locates zero or more field occurrences inside a record.
//
// A Selector with an empty Namespace addresses a direct child of the bib
// element (mms_id, title, record_format). Any other namespace addresses
// elements of the embedded metadata document.
type Selector struct {
	Namespace string
	Name      string
}

// DC returns a selector for a Dublin Core element.
func DC(name string) Selector {
	return Selector{Namespace: NamespaceDC, Name: name}
}

// DCTerms returns a selector for a DCMI terms element.
func DCTerms(name string) Selector {
	return Selector{Namespace: NamespaceDCTerms, Name: name}
}

// Bib returns a selector for a direct child of the bib element.
func Bib(name string) Selector {
	return Selector{Name: name}
}

// ParseSelector parses "prefix:name", "{uri}name" or a bare bib field name.
func ParseSelector(expr string) (Selector, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Selector{}, fmt.Errorf("%w: empty expression", ErrInvalidSelector)
	}

	if strings.HasPrefix(expr, "{") {
		end := strings.Index(expr, "}")
		if end < 0 || end == len(expr)-1 {
			return Selector{}, fmt.Errorf("%w: %q", ErrInvalidSelector, expr)
		}
		return Selector{Namespace: expr[1:end], Name: expr[end+1:]}, nil
	}

	prefix, name, found := strings.Cut(expr, ":")
	if !found {
		return Bib(expr), nil
	}
	if name == "" {
		return Selector{}, fmt.Errorf("%w: %q", ErrInvalidSelector, expr)
	}
	space, ok := knownPrefixes[strings.ToLower(prefix)]
	if !ok {
		return Selector{}, fmt.Errorf("%w: unknown prefix %q (known: %s)",
			ErrInvalidSelector, prefix, strings.Join(KnownPrefixes(), ", "))
	}
	return Selector{Namespace: space, Name: name}, nil
}

// KnownPrefixes returns the selector prefixes accepted by ParseSelector.
func KnownPrefixes() []string {
	out := make([]string, 0, len(knownPrefixes))
	for p := range knownPrefixes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// IsBib reports whether the selector addresses a bib-level field.
func (s Selector) IsBib() bool { return s.Namespace == "" }

// PreferredPrefix returns the conventional prefix for the selector's namespace.
func (s Selector) PreferredPrefix() string {
	for p, space := range knownPrefixes {
		if space == s.Namespace {
			return p
		}
	}
	return "ns"
}

// String renders the selector in the form ParseSelector accepts.
func (s Selector) String() string {
	if s.IsBib() {
		return s.Name
	}
	for p, space := range knownPrefixes {
		if space == s.Namespace {
			return p + ":" + s.Name
		}
	}
	return "{" + s.Namespace + "}" + s.Name
}
