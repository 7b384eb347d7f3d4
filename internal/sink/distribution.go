package sink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cabb/almabatch/internal/extract"
)

// Distribution table headers.
const (
	HeaderDecade      = "Decade"
	HeaderHalfDecade  = "Half-Decade Range"
	HeaderRecordCount = "Record Count"
	TotalLabel        = "TOTAL"
)

// ErrNoYearColumn is returned when the input has no Year column.
var ErrNoYearColumn = errors.New("input has no " + extract.ColumnYear + " column")

// Bucket is one row of a distribution table.
type Bucket struct {
	Label string
	Start int
	Count int
}

// Distribution counts records per decade and half-decade.
type Distribution struct {
	Decades     []Bucket
	HalfDecades []Bucket

	// Total is the number of rows with a year.
	Total int

	// NoDate is the number of rows without one.
	NoDate int
}

// AnalyzeFile reads a decade report written by a CSVSink.
func AnalyzeFile(path string) (*Distribution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening decade report: %w", err)
	}
	defer f.Close()
	return Analyze(f)
}

// Analyze counts the rows of a decade report by the year in its Year
// column. Rows with an empty or non-numeric year are counted as NoDate.
func Analyze(r io.Reader) (*Distribution, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoYearColumn
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	yearIdx := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), extract.ColumnYear) {
			yearIdx = i
			break
		}
	}
	if yearIdx < 0 {
		return nil, ErrNoYearColumn
	}

	decades := make(map[int]int)
	halves := make(map[int]int)
	d := &Distribution{}
	for {
		rec, readErr := cr.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("reading row: %w", readErr)
		}
		if yearIdx >= len(rec) {
			d.NoDate++
			continue
		}
		year, convErr := strconv.Atoi(strings.TrimSpace(rec[yearIdx]))
		if convErr != nil {
			d.NoDate++
			continue
		}
		decades[year/10*10]++
		halves[year/5*5]++
		d.Total++
	}

	d.Decades = buckets(decades, extract.Decade)
	d.HalfDecades = buckets(halves, extract.HalfDecade)
	return d, nil
}

func buckets(counts map[int]int, label func(int) string) []Bucket {
	out := make([]Bucket, 0, len(counts))
	for start, n := range counts {
		out = append(out, Bucket{Label: label(start), Start: start, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// WriteDecades writes the decade table with a closing TOTAL row.
func (d *Distribution) WriteDecades(w io.Writer) error {
	return writeTable(w, HeaderDecade, d.Decades)
}

// WriteHalfDecades writes the half-decade table with a closing TOTAL row.
func (d *Distribution) WriteHalfDecades(w io.Writer) error {
	return writeTable(w, HeaderHalfDecade, d.HalfDecades)
}

func writeTable(w io.Writer, label string, rows []Bucket) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{label, HeaderRecordCount}); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	total := 0
	for _, b := range rows {
		if err := cw.Write([]string{b.Label, strconv.Itoa(b.Count)}); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
		total += b.Count
	}
	if err := cw.Write([]string{TotalLabel, strconv.Itoa(total)}); err != nil {
		return fmt.Errorf("writing total: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing table: %w", err)
	}
	return nil
}

// WriteFiles writes both tables next to each other in dir, named with
// stamp, and returns their paths.
func (d *Distribution) WriteFiles(dir, stamp string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	tables := []struct {
		name  string
		write func(io.Writer) error
	}{
		{name: "decade_distribution_" + stamp + ".csv", write: d.WriteDecades},
		{name: "half_decade_distribution_" + stamp + ".csv", write: d.WriteHalfDecades},
	}

	paths := make([]string, 0, len(tables))
	for _, t := range tables {
		path := filepath.Join(dir, t.name)
		if err := writeFile(path, t.write); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path) //nolint:gosec // Output path chosen by the operator.
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
