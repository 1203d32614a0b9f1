package compute

import (
	"math"
	"sort"
)

// Reference status values.
const (
	StatusNormal   = "normal"
	StatusElevated = "elevated"
	StatusLowered  = "lowered"
)

// maxPosition caps the normalized position so outliers stay plottable.
const maxPosition = 150.0

// Range is the normal range of one feature.
type Range struct {
	Min   float64
	Max   float64
	Label string
	Unit  string
}

// Assessment places one observed value against its reference range.
type Assessment struct {
	Feature string  `json:"feature"`
	Label   string  `json:"label"`
	Unit    string  `json:"unit"`
	Value   float64 `json:"value"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Status  string  `json:"status"`

	// Position is (value - min) / (max - min) * 100, clipped to [0, 150].
	Position float64 `json:"position"`
}

// Assess compares each value with its reference range. Features without a
// range, NaN values and ranges with max <= min are skipped. Results are
// sorted by feature name.
func Assess(values map[string]float64, ranges map[string]Range) []Assessment {
	out := make([]Assessment, 0, len(values))
	for feat, v := range values {
		r, ok := ranges[feat]
		if !ok || math.IsNaN(v) || r.Max <= r.Min {
			continue
		}
		status := StatusNormal
		switch {
		case v > r.Max:
			status = StatusElevated
		case v < r.Min:
			status = StatusLowered
		}
		pos := (v - r.Min) / (r.Max - r.Min) * 100
		pos = math.Max(0, math.Min(maxPosition, pos))

		label := r.Label
		if label == "" {
			label = feat
		}
		out = append(out, Assessment{
			Feature:  feat,
			Label:    label,
			Unit:     r.Unit,
			Value:    v,
			Min:      r.Min,
			Max:      r.Max,
			Status:   status,
			Position: pos,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out
}
