package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Condition is the measurement condition a row was recorded under.
type Condition string

const (
	Baseline Condition = "baseline"
	Stress   Condition = "stress"
	Other    Condition = "other"
)

// Dimension names a grouping key for aggregation.
type Dimension string

const (
	DimSubject Dimension = "subject"
	DimDataset Dimension = "dataset"
)

// ParseDimension converts a config or query value to a Dimension.
func ParseDimension(s string) (Dimension, error) {
	switch Dimension(strings.ToLower(strings.TrimSpace(s))) {
	case DimSubject:
		return DimSubject, nil
	case DimDataset:
		return DimDataset, nil
	default:
		return "", fmt.Errorf("unknown dimension %q: want subject|dataset", s)
	}
}

// Measurement is one observed value of one feature for one subject under
// one condition. Value may be NaN when the reading is missing.
type Measurement struct {
	Subject   string
	Dataset   string
	Feature   string
	Condition Condition
	Value     float64
}

// Key returns the value of dimension d for this measurement.
func (m Measurement) Key(d Dimension) string {
	switch d {
	case DimSubject:
		return m.Subject
	case DimDataset:
		return m.Dataset
	default:
		return ""
	}
}

// GroupLabel joins the values of dims into one group label.
// An empty dims slice yields the empty label (a single global group).
//
// Labels of several dimensions are joined with GroupSeparator, so two groups
// collide when an identifier itself contains the separator. The loader
// rejects such identifiers for that reason.
func (m Measurement) GroupLabel(dims []Dimension) string {
	switch len(dims) {
	case 0:
		return ""
	case 1:
		return m.Key(dims[0])
	}
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = m.Key(d)
	}
	return strings.Join(parts, GroupSeparator)
}

// GroupSeparator joins multi-dimension group labels.
const GroupSeparator = " / "

// Attribute is one categorical value carried by a subject's rows, such as a
// regulation class.
type Attribute struct {
	Subject string `json:"subject"`
	Dataset string `json:"dataset,omitempty"`
	Name    string `json:"name"`
	Value   string `json:"value"`
}

// FeatureSummary is the baseline/stress comparison for one feature within
// one group. ChangePct is only ever set from a non-zero, non-NaN baseline.
type FeatureSummary struct {
	Group        string  `json:"group"`
	Feature      string  `json:"feature"`
	BaselineMean float64 `json:"baseline_mean"`
	StressMean   float64 `json:"stress_mean"`
	ChangePct    float64 `json:"change_pct"`
}

// Extremes holds the records with the largest and smallest change.
type Extremes struct {
	Increase FeatureSummary `json:"biggest_increase"`
	Decrease FeatureSummary `json:"biggest_decrease"`
}

// Float is a float64 that marshals NaN and ±Inf as JSON null.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}
