// Package sink writes report rows to delimited files and derives summary
// tables from them.
package sink

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"

	"github.com/cabb/almabatch/internal/extract"
)

// Mode selects when rows reach the file.
type Mode int

const (
	// ModeBuffered holds rows until Close, then sorts and writes them.
	ModeBuffered Mode = iota

	// ModeStreaming writes and flushes every row as it arrives, so a
	// crash mid-run leaves every finished row on disk.
	ModeStreaming
)

func (m Mode) String() string {
	if m == ModeStreaming {
		return "streaming"
	}
	return "buffered"
}

// Sink errors.
var (
	ErrClosed           = errors.New("sink is closed")
	ErrSchemaMismatch   = errors.New("row does not belong to the sink schema")
	ErrHeaderMismatch   = errors.New("existing file header does not match schema")
	ErrIncompatibleFile = errors.New("existing file was written by an incompatible schema version")
	ErrSortNeedsBuffer  = errors.New("sorting requires buffered mode")
)

// Options controls a CSVSink.
type Options struct {
	Mode Mode

	// SortBy orders rows at Close; buffered mode only.
	SortBy []SortKey

	// Append adds rows to an existing file, streaming mode only. The
	// file's header must match the schema.
	Append bool

	// Delimiter defaults to a comma.
	Delimiter rune
}

// CSVSink writes rows of one schema to a delimited file.
type CSVSink struct {
	schema *extract.Schema
	opts   Options
	path   string

	f      *os.File
	buf    *bufio.Writer
	w      *csv.Writer
	rows   []*extract.Row
	count  int
	closed bool
}

// Create opens path for rows of schema. In buffered mode nothing but the
// header is written before Close.
func Create(path string, schema *extract.Schema, opts Options) (*CSVSink, error) {
	if len(opts.SortBy) > 0 && opts.Mode != ModeBuffered {
		return nil, ErrSortNeedsBuffer
	}
	if opts.Append && opts.Mode != ModeStreaming {
		opts.Mode = ModeStreaming
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}

	appending := false
	if opts.Append {
		ok, err := checkExisting(path, schema, opts.Delimiter)
		if err != nil {
			return nil, err
		}
		appending = ok
	}

	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appending {
		flag = os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flag, 0o600) //nolint:gosec // Output path chosen by the operator.
	if err != nil {
		return nil, fmt.Errorf("opening output: %w", err)
	}

	s := &CSVSink{schema: schema, opts: opts, path: path, f: f}
	s.buf = bufio.NewWriter(f)
	s.w = csv.NewWriter(s.buf)
	if opts.Delimiter != 0 {
		s.w.Comma = opts.Delimiter
	}

	if !appending {
		if err := s.w.Write(schema.Header()); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("writing header: %w", err)
		}
		if err := s.flush(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return s, nil
}

// Path returns the output file path.
func (s *CSVSink) Path() string { return s.path }

// Count returns the rows accepted so far.
func (s *CSVSink) Count() int { return s.count }

// Write implements pipeline.Sink.
func (s *CSVSink) Write(row *extract.Row) error {
	if s.closed {
		return ErrClosed
	}
	if row.Schema() != s.schema {
		return fmt.Errorf("%w: %s row into %s sink", ErrSchemaMismatch, row.Schema().Name, s.schema.Name)
	}

	s.count++
	if s.opts.Mode == ModeBuffered {
		s.rows = append(s.rows, row)
		return nil
	}
	if err := s.w.Write(row.Values()); err != nil {
		return fmt.Errorf("writing row: %w", err)
	}
	return s.flush()
}

// Close sorts and writes buffered rows, then closes the file. Closing twice
// is a no-op.
func (s *CSVSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.opts.Mode == ModeBuffered {
		SortRows(s.rows, s.opts.SortBy)
		for _, row := range s.rows {
			if err = s.w.Write(row.Values()); err != nil {
				break
			}
		}
		s.rows = nil
	}
	if err == nil {
		err = s.flush()
	}
	if closeErr := s.f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("closing output: %w", closeErr)
	}
	return err
}

func (s *CSVSink) flush() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flushing rows: %w", err)
	}
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flushing rows: %w", err)
	}
	return nil
}

// versionPattern finds the schema major version in names made by
// extract.Report.FileName.
//
//nolint:gochecknoglobals // Intentional: compiled once.
var versionPattern = regexp.MustCompile(`_v(\d+)_`)

// checkExisting reports whether path already holds rows of schema. A
// missing or empty file is fine; anything else incompatible is an error.
func checkExisting(path string, schema *extract.Schema, delim rune) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("opening existing output: %w", err)
	}
	defer f.Close()

	if m := versionPattern.FindStringSubmatch(filepath.Base(path)); m != nil {
		major, _ := strconv.ParseUint(m[1], 10, 64)
		if major != schema.Version.Major() {
			return false, fmt.Errorf("%w: file is v%d, schema %s is %s",
				ErrIncompatibleFile, major, schema.Name, schema.Version)
		}
	}

	r := csv.NewReader(f)
	if delim != 0 {
		r.Comma = delim
	}
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading existing header: %w", err)
	}
	if !slices.Equal(header, schema.Header()) {
		return false, fmt.Errorf("%w: %v", ErrHeaderMismatch, header)
	}
	return true, nil
}
