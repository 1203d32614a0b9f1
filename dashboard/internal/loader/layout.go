package loader

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/stresslens/stresslens/dashboard/internal/config"
	"github.com/stresslens/stresslens/pkg/types"
)

// Default identifier column names.
const (
	ColSubject      = "subject"
	ColDataset      = "dataset"
	ColFeature      = "feature"
	ColValue        = "value"
	ColLabel        = "label"
	ColCondition    = "condition"
	ColBaselineMean = "baseline_mean"
	ColStressMean   = "stress_mean"
	ColSignal       = "signal"

	suffixBaseline = "_baseline"
	suffixStress   = "_stress"
)

// table is the normalized form of one parsed file.
type table struct {
	layout       string
	measurements []types.Measurement
	features     []string
	dims         []types.Dimension
	attributes   []types.Attribute

	// invalid counts unparsable numeric cells per column.
	invalid map[string]int
}

// columns holds the resolved identifier column names for one source.
type columns struct {
	subject, dataset, feature, condition, value, signal string
}

// resolveColumns applies defaults to the configured column names. The
// condition column defaults to "label" when present, else "condition". The
// signal column defaults to "signal" when present.
func resolveColumns(c config.Columns, idx headerIndex) columns {
	out := columns{
		subject:   or(c.Subject, ColSubject),
		dataset:   or(c.Dataset, ColDataset),
		feature:   or(c.Feature, ColFeature),
		condition: c.Condition,
		value:     or(c.Value, ColValue),
		signal:    c.Signal,
	}
	if out.signal == "" && idx.has(ColSignal) {
		out.signal = ColSignal
	}
	if out.condition == "" {
		out.condition = ColCondition
		if idx.has(ColLabel) {
			out.condition = ColLabel
		}
	}
	return out
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// headerIndex maps column names to positions. Lookup falls back to a
// case-insensitive match.
type headerIndex map[string]int

func indexHeader(header []string) headerIndex {
	idx := make(headerIndex, len(header)*2)
	for i, h := range header {
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	for i, h := range header {
		lower := strings.ToLower(h)
		if _, dup := idx[lower]; !dup {
			idx[lower] = i
		}
	}
	return idx
}

func (h headerIndex) pos(name string) int {
	if i, ok := h[name]; ok {
		return i
	}
	if i, ok := h[strings.ToLower(name)]; ok {
		return i
	}
	return -1
}

func (h headerIndex) has(name string) bool { return h.pos(name) >= 0 }

// DetectLayout picks the layout of a table from its header. Checks run from
// most to least specific: trend, long, paired, then wide.
func DetectLayout(header []string, c config.Columns) string {
	idx := indexHeader(header)
	cols := resolveColumns(c, idx)
	switch {
	case idx.has(cols.feature) && idx.has(ColBaselineMean) && idx.has(ColStressMean):
		return config.LayoutTrend
	case idx.has(cols.feature) && idx.has(cols.value) && idx.has(cols.condition):
		return config.LayoutLong
	case hasPairedColumns(header):
		return config.LayoutPaired
	default:
		return config.LayoutWide
	}
}

func hasPairedColumns(header []string) bool {
	for _, h := range header {
		if _, _, ok := pairedColumn(h); ok {
			return true
		}
	}
	return false
}

// pairedColumn splits "HR_mean_baseline" into ("HR_mean", baseline).
func pairedColumn(h string) (string, types.Condition, bool) {
	lower := strings.ToLower(h)
	switch {
	case strings.HasSuffix(lower, suffixBaseline) && len(h) > len(suffixBaseline):
		return h[:len(h)-len(suffixBaseline)], types.Baseline, true
	case strings.HasSuffix(lower, suffixStress) && len(h) > len(suffixStress):
		return h[:len(h)-len(suffixStress)], types.Stress, true
	}
	return "", "", false
}

// normalize converts parsed rows to measurements according to the source's
// layout. This is the only place that knows about input shapes.
func normalize(src config.Source, header []string, rows [][]string, m *ConditionMapper) (*table, error) {
	idx := indexHeader(header)
	cols := resolveColumns(src.Columns, idx)

	layout := src.Layout
	if layout == "" || layout == config.LayoutAuto {
		layout = DetectLayout(header, src.Columns)
	}

	b := &builder{
		t:      &table{layout: layout, invalid: make(map[string]int)},
		seen:   make(map[string]bool),
		subj:   idx.pos(cols.subject),
		dset:   idx.pos(cols.dataset),
		sig:    -1,
		header: header,
		path:   src.Path,
	}
	if cols.signal != "" {
		if err := b.require(idx, cols.signal); err != nil {
			return nil, err
		}
		b.sig = idx.pos(cols.signal)
	}
	if b.subj >= 0 {
		b.t.dims = append(b.t.dims, types.DimSubject)
	}
	if b.dset >= 0 {
		b.t.dims = append(b.t.dims, types.DimDataset)
	}

	var err error
	switch layout {
	case config.LayoutLong:
		err = b.long(rows, idx, cols, m)
	case config.LayoutTrend:
		err = b.trend(rows, idx, cols)
	case config.LayoutPaired:
		err = b.paired(rows)
	default:
		err = b.wide(rows, idx, cols, m)
	}
	if err == nil {
		err = b.err
	}
	if err != nil {
		return nil, err
	}
	return b.t, nil
}

type builder struct {
	t               *table
	seen            map[string]bool
	subj, dset, sig int
	header          []string
	path            string

	// err is the first identifier rejected by add.
	err error
}

func (b *builder) add(row []string, feature string, cond types.Condition, v float64) {
	if feature == "" {
		return
	}
	if b.sig >= 0 {
		if s := cell(row, b.sig); s != "" {
			feature = s + "_" + feature
		}
	}
	b.checkID(row, b.subj)
	b.checkID(row, b.dset)
	if !b.seen[feature] {
		b.seen[feature] = true
		b.t.features = append(b.t.features, feature)
	}
	b.t.measurements = append(b.t.measurements, types.Measurement{
		Subject:   cell(row, b.subj),
		Dataset:   cell(row, b.dset),
		Feature:   feature,
		Condition: cond,
		Value:     v,
	})
}

// checkID rejects identifiers containing types.GroupSeparator, which would
// make multi-dimension group labels ambiguous.
func (b *builder) checkID(row []string, i int) {
	if b.err != nil || i < 0 {
		return
	}
	if id := cell(row, i); strings.Contains(id, types.GroupSeparator) {
		b.err = fmt.Errorf("%s: %s %q contains the reserved separator %q", b.path, b.header[i], id, types.GroupSeparator)
	}
}

// value parses the numeric cell at column i, counting unparsable text.
func (b *builder) value(row []string, i int) float64 {
	v, ok := parseValue(cell(row, i))
	if !ok {
		b.t.invalid[b.header[i]]++
	}
	return v
}

func (b *builder) require(idx headerIndex, names ...string) error {
	var missing []string
	for _, n := range names {
		if !idx.has(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Path: b.path, Missing: missing, Available: b.header}
	}
	return nil
}

// long: one row per (subject, feature, condition, value).
func (b *builder) long(rows [][]string, idx headerIndex, cols columns, m *ConditionMapper) error {
	if err := b.require(idx, cols.feature, cols.value, cols.condition); err != nil {
		return err
	}
	fi, vi, ci := idx.pos(cols.feature), idx.pos(cols.value), idx.pos(cols.condition)
	for _, row := range rows {
		b.add(row, cell(row, fi), m.Map(cell(row, ci)), b.value(row, vi))
	}
	return nil
}

// trend: one row per (subject, feature) carrying both condition means.
func (b *builder) trend(rows [][]string, idx headerIndex, cols columns) error {
	if err := b.require(idx, cols.feature, ColBaselineMean, ColStressMean); err != nil {
		return err
	}
	fi, bi, si := idx.pos(cols.feature), idx.pos(ColBaselineMean), idx.pos(ColStressMean)
	for _, row := range rows {
		f := cell(row, fi)
		b.add(row, f, types.Baseline, b.value(row, bi))
		b.add(row, f, types.Stress, b.value(row, si))
	}
	return nil
}

// paired: one column per (feature, condition), e.g. HR_mean_baseline.
func (b *builder) paired(rows [][]string) error {
	type pcol struct {
		pos     int
		feature string
		cond    types.Condition
	}
	var pcols []pcol
	for i, h := range b.header {
		if f, c, ok := pairedColumn(h); ok {
			pcols = append(pcols, pcol{pos: i, feature: f, cond: c})
		}
	}
	if len(pcols) == 0 {
		return &SchemaError{Path: b.path, Missing: []string{"<feature>_baseline / <feature>_stress columns"}, Available: b.header}
	}
	for _, row := range rows {
		for _, pc := range pcols {
			b.add(row, pc.feature, pc.cond, b.value(row, pc.pos))
		}
	}
	return nil
}

// wide: one column per feature, optional condition column per row.
// A column is a feature when every non-missing cell is numeric. Other
// columns with text are kept as categorical attributes of the row's subject.
func (b *builder) wide(rows [][]string, idx headerIndex, cols columns, m *ConditionMapper) error {
	reserved := map[int]bool{}
	for _, n := range []string{cols.subject, cols.dataset, cols.condition, cols.signal, ColLabel, ColCondition, ColSubject, ColDataset} {
		if p := idx.pos(n); n != "" && p >= 0 {
			reserved[p] = true
		}
	}

	var featureCols, attrCols []int
	for i := range b.header {
		if reserved[i] || b.header[i] == "" {
			continue
		}
		if numericColumn(rows, i) {
			featureCols = append(featureCols, i)
		} else if textColumn(rows, i) {
			attrCols = append(attrCols, i)
		}
	}
	if len(featureCols) == 0 {
		return &SchemaError{Path: b.path, Missing: []string{"numeric feature columns"}, Available: b.header}
	}

	ci := idx.pos(cols.condition)
	for _, row := range rows {
		cond := types.Other
		if ci >= 0 {
			cond = m.Map(cell(row, ci))
		}
		for _, fc := range featureCols {
			b.add(row, b.header[fc], cond, b.value(row, fc))
		}
	}
	b.attributes(rows, attrCols)
	return nil
}

// attributes records each distinct (subject, dataset, column, value) of the
// categorical columns, sorted by subject, dataset, name then value.
func (b *builder) attributes(rows [][]string, attrCols []int) {
	seen := make(map[types.Attribute]bool)
	for _, row := range rows {
		for _, ac := range attrCols {
			v := cell(row, ac)
			if isMissing(v) {
				continue
			}
			a := types.Attribute{
				Subject: cell(row, b.subj),
				Dataset: cell(row, b.dset),
				Name:    b.header[ac],
				Value:   v,
			}
			if !seen[a] {
				seen[a] = true
				b.t.attributes = append(b.t.attributes, a)
			}
		}
	}
	sort.Slice(b.t.attributes, func(i, j int) bool {
		x, y := b.t.attributes[i], b.t.attributes[j]
		switch {
		case x.Subject != y.Subject:
			return x.Subject < y.Subject
		case x.Dataset != y.Dataset:
			return x.Dataset < y.Dataset
		case x.Name != y.Name:
			return x.Name < y.Name
		}
		return x.Value < y.Value
	})
}

// numericColumn reports whether column i holds at least one number and no
// non-numeric, non-missing cells.
func numericColumn(rows [][]string, i int) bool {
	var found bool
	for _, row := range rows {
		v, ok := parseValue(cell(row, i))
		if !ok {
			return false
		}
		if !math.IsNaN(v) {
			found = true
		}
	}
	return found
}

// textColumn reports whether column i holds at least one non-numeric,
// non-missing cell.
func textColumn(rows [][]string, i int) bool {
	for _, row := range rows {
		if _, ok := parseValue(cell(row, i)); !ok {
			return true
		}
	}
	return false
}

func isMissing(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan", "na", "n/a", "null", "none", "-":
		return true
	}
	return false
}

// parseValue parses a numeric cell. Missing markers and infinities, which
// ratio features carry after a zero denominator, yield (NaN, true);
// unparsable text yields (NaN, false).
func parseValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if isMissing(s) {
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return math.NaN(), false
	}
	if math.IsInf(v, 0) {
		return math.NaN(), true
	}
	return v, true
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
