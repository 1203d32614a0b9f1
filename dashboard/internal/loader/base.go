package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stresslens/stresslens/dashboard/internal/config"
	"github.com/stresslens/stresslens/pkg/types"
)

// ErrMissingInput is returned (wrapped) when a source file does not exist.
var ErrMissingInput = errors.New("input file not found")

// SchemaError reports required columns or keys absent from a loaded file.
type SchemaError struct {
	Path      string
	Missing   []string
	Available []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: missing %s (available: %s)",
		e.Path, strings.Join(e.Missing, ", "), strings.Join(e.Available, ", "))
}

// Result is the normalized output of loading one source table.
// Every supported layout ends up as a flat Measurement slice.
type Result struct {
	SourceID string
	Path     string

	// Layout is the resolved layout, never "auto".
	Layout string

	LoadedAt time.Time
	ModTime  time.Time
	Size     int64

	// Header is the raw column list, kept for schema diagnostics.
	Header []string

	Measurements []types.Measurement

	// Features lists feature names in first-seen order.
	Features []string

	// Dimensions lists the grouping keys the table actually carries.
	Dimensions []types.Dimension

	// Attributes holds the categorical values of wide tables, one per
	// distinct (subject, dataset, column, value).
	Attributes []types.Attribute

	// Invalid counts numeric cells per column that could not be parsed.
	// Such cells are treated as missing readings.
	Invalid map[string]int

	// Err is non-nil if the file is missing, unreadable or does not match
	// the layout. Measurements is empty in that case.
	Err error
}

// InvalidCells returns the total number of unparsable numeric cells.
func (r *Result) InvalidCells() int {
	var n int
	for _, c := range r.Invalid {
		n += c
	}
	return n
}

// HasDimension reports whether the table carries grouping key d.
func (r *Result) HasDimension(d types.Dimension) bool {
	for _, have := range r.Dimensions {
		if have == d {
			return true
		}
	}
	return false
}

// Loader is the common interface implemented by every table loader.
type Loader interface {
	Load(ctx context.Context) (*Result, error)
}

// New returns the appropriate Loader for the given source configuration.
// The delimiter is chosen from the file extension.
func New(src config.Source, conds config.ConditionsConfig) (Loader, error) {
	comma := ','
	switch strings.ToLower(filepath.Ext(src.Path)) {
	case ".csv", "":
	case ".tsv", ".tab", ".txt":
		comma = '\t'
	default:
		return nil, fmt.Errorf("loader %q: unsupported file type %q", src.ID, filepath.Ext(src.Path))
	}
	return &tableLoader{
		src:    src,
		comma:  comma,
		mapper: NewConditionMapper(conds),
		now:    time.Now,
	}, nil
}

type tableLoader struct {
	src    config.Source
	comma  rune
	mapper *ConditionMapper
	now    func() time.Time
}

// Load reads the delimited file and normalizes it to measurements.
// File and schema problems are reported through Result.Err; the returned
// error is only set when ctx is cancelled.
func (l *tableLoader) Load(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := &Result{
		SourceID: l.src.ID,
		Path:     l.src.Path,
		LoadedAt: l.now().UTC(),
	}

	info, err := os.Stat(l.src.Path)
	if err != nil {
		res.Err = statErr(l.src.Path, err)
		slog.Warn("loader: source unavailable", "source", l.src.ID, "path", l.src.Path, "err", err)
		return res, nil
	}
	res.ModTime = info.ModTime()
	res.Size = info.Size()

	header, rows, err := readTable(l.src.Path, l.comma)
	if err != nil {
		res.Err = err
		slog.Warn("loader: read failed", "source", l.src.ID, "path", l.src.Path, "err", err)
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Header = header

	t, err := normalize(l.src, header, rows, l.mapper)
	if err != nil {
		res.Err = err
		slog.Warn("loader: table rejected", "source", l.src.ID, "path", l.src.Path, "err", err)
		return res, nil
	}
	res.Layout = t.layout
	res.Measurements = t.measurements
	res.Features = t.features
	res.Dimensions = t.dims
	res.Attributes = t.attributes
	if len(t.invalid) > 0 {
		res.Invalid = t.invalid
		for col, n := range t.invalid {
			slog.Warn("loader: unparsable values treated as missing",
				"source", l.src.ID, "column", col, "cells", n)
		}
	}

	slog.Debug("loader: table loaded",
		"source", l.src.ID,
		"layout", res.Layout,
		"rows", len(rows),
		"measurements", len(res.Measurements),
	)
	return res, nil
}

// statErr maps a stat failure to ErrMissingInput when the file is absent.
func statErr(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, ErrMissingInput)
	}
	return fmt.Errorf("stat %s: %w", path, err)
}

// readTable reads a delimited file into a header and data rows.
func readTable(path string, comma rune) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, statErr(path, err)
	}
	defer f.Close()
	return parseTable(f, path, comma)
}

// parseTable decodes delimited text. Blank lines are skipped; every row must
// have as many cells as the header.
func parseTable(r io.Reader, path string, comma rune) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, &SchemaError{Path: path, Missing: []string{"header row"}}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s header: %w", path, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	var rows [][]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", path, err)
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}
