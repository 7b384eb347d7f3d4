package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// DefaultColumn is the identifier column looked up in input files.
const DefaultColumn = "MMS ID"

const utf8BOM = "\ufeff"

// FileOptions controls how an identifier file is read.
type FileOptions struct {
	// Column is matched case-insensitively against the header. When no
	// header cell matches, the first column is used.
	Column string

	// Delimiter overrides the delimiter chosen from the file extension.
	Delimiter rune

	// Limit truncates the result as Truncate does.
	Limit int
}

// ReadFile reads identifiers from a delimited file. ".tsv" and ".tab"
// files are tab separated, everything else comma separated.
func ReadFile(path string, opts FileOptions) (*Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening identifier file: %w", err)
	}
	defer f.Close()

	if opts.Delimiter == 0 {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".tsv", ".tab":
			opts.Delimiter = '\t'
		default:
			opts.Delimiter = ','
		}
	}

	col, err := Read(f, opts)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	col.Origin = "file " + filepath.Base(path)
	return col, nil
}

// Read reads identifiers from delimited text, preserving row order,
// skipping blank values and dropping repeats.
func Read(r io.Reader, opts FileOptions) (*Collection, error) {
	if opts.Column == "" {
		opts.Column = DefaultColumn
	}
	cr := csv.NewReader(r)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &Collection{Origin: "input"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	idx, matched := columnIndex(header, opts.Column)

	var ids []string
	// A headerless file of bare identifiers: the first line is data.
	if !matched && len(header) > 0 && looksLikeIdentifier(header[0]) {
		ids = append(ids, strings.TrimSpace(header[0]))
	}

	for {
		rec, readErr := cr.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("reading row: %w", readErr)
		}
		if idx >= len(rec) {
			continue
		}
		if v := strings.TrimSpace(rec[idx]); v != "" {
			ids = append(ids, v)
		}
	}

	ids = dedupe(ids)
	read := len(ids)
	ids = Truncate(ids, opts.Limit)
	return &Collection{
		IDs:            ids,
		Origin:         "input",
		ReportedTotal:  read,
		EffectiveTotal: len(ids),
	}, nil
}

func columnIndex(header []string, column string) (int, bool) {
	want := strings.TrimSpace(column)
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), want) {
			return i, true
		}
	}
	return 0, false
}

func looksLikeIdentifier(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
