package extract

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cabb/almabatch/internal/record"
)

// Column names shared by the built-in reports.
const (
	ColumnMMSID      = "MMS ID"
	ColumnTitle      = "Title"
	ColumnDate       = "Date"
	ColumnYear       = "Year"
	ColumnDecade     = "Decade"
	ColumnHalfDecade = "Half-Decade"
	ColumnHandle     = "Handle"
	ColumnStatusCode = "Status Code"
	ColumnResult     = "Result"
)

// CounterNoDate counts records without a four-digit year.
const CounterNoDate = "no_date"

// Report names.
const (
	ReportDublinCore       = "dublin-core"
	ReportDecade           = "decade"
	ReportHandleValidation = "handle-validation"
)

// ErrUnknownReport is returned by LookupReport for an unregistered name.
var ErrUnknownReport = errors.New("unknown report")

// Report is a named, versioned export.
type Report struct {
	Schema      *Schema
	Description string

	// SortBy is a sink sort expression applied when the report is written
	// in buffered mode, e.g. "Status Code:asc,Result:asc".
	SortBy string
}

// FileName returns the default output file name for a run started at t.
// The schema's major version is part of the name so files with
// incompatible headers never share a name.
func (r *Report) FileName(t time.Time) string {
	base := strings.ReplaceAll(r.Schema.Name, "-", "_")
	return fmt.Sprintf("%s_v%d_%s.csv", base, r.Schema.Version.Major(), t.Format("20060102_150405"))
}

// IsHandle reports whether v is a Handle System URL.
func IsHandle(v string) bool {
	return strings.Contains(strings.ToLower(v), "hdl.handle.net/")
}

//nolint:gochecknoglobals // Intentional: static report table.
var reports = map[string]*Report{
	ReportDublinCore: {
		Description: "flat export of common Dublin Core fields",
		Schema: MustSchema(ReportDublinCore, "1.0.0",
			First(ColumnMMSID, record.Bib("mms_id")),
			First(ColumnTitle, record.DC("title"), record.Bib("title")),
			Joined("Creator", record.DC("creator")),
			Joined("Contributor", record.DC("contributor")),
			First(ColumnDate, record.DC("date"), record.DCTerms("created"), record.DCTerms("issued")),
			Joined("Type", record.DC("type")),
			Joined("Format", record.DC("format")),
			Joined("Subject", record.DC("subject")),
			Joined("Description", record.DC("description")),
			Joined("Identifier", record.DC("identifier")),
			Joined("Relation", record.DC("relation")),
			Joined("Rights", record.DC("rights")),
		),
	},
	ReportDecade: {
		Description: "record dates bucketed by decade and half-decade",
		Schema: MustSchema(ReportDecade, "1.0.0",
			First(ColumnMMSID, record.Bib("mms_id")),
			First(ColumnTitle, record.DC("title"), record.Bib("title")),
			First(ColumnDate, record.DC("date"), record.DCTerms("created"), record.DCTerms("issued")),
			Derived(ColumnYear, YearOf(ColumnDate)).CountingEmpty(CounterNoDate),
			Derived(ColumnDecade, DecadeOf(ColumnYear)),
			Derived(ColumnHalfDecade, HalfDecadeOf(ColumnYear)),
		),
	},
	ReportHandleValidation: {
		Description: "checks that each record's handle resolves",
		SortBy:      ColumnStatusCode + ":asc," + ColumnResult + ":asc",
		Schema: MustSchema(ReportHandleValidation, "1.0.0",
			First(ColumnMMSID, record.Bib("mms_id")),
			First(ColumnTitle, record.DC("title"), record.Bib("title")),
			Joined("Creator", record.DC("creator")),
			First(ColumnDate, record.DC("date"), record.DCTerms("created")),
			Joined("Type", record.DC("type")),
			First(ColumnHandle, record.DC("identifier")).WithFilter(IsHandle),
			Placeholder(ColumnStatusCode),
			Placeholder(ColumnResult),
		),
	},
}

// LookupReport returns the named report.
func LookupReport(name string) (*Report, error) {
	r, ok := reports[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownReport, name, strings.Join(ReportNames(), ", "))
	}
	return r, nil
}

// ReportNames returns the registered report names, sorted.
func ReportNames() []string {
	out := make([]string, 0, len(reports))
	for name := range reports {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
