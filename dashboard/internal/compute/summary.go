package compute

import (
	"math"
	"sort"

	"github.com/stresslens/stresslens/pkg/types"
)

// pairKey identifies one (group, feature) aggregation cell.
type pairKey struct {
	group   string
	feature string
}

// condValues collects the non-NaN readings of one cell per condition.
type condValues struct {
	baseline, stress []float64
}

// Summarize reduces measurements to per-(group, feature) baseline and stress
// means and the percent change between them.
//
// Only baseline and stress rows take part. NaN values are ignored when
// averaging; a condition whose values are all NaN has a NaN mean. A pair is
// omitted when either mean is absent or not finite, when the baseline mean
// is exactly zero, or when the change itself overflows.
//
// The output is sorted by group then feature and every mean is summed in
// ascending value order, so the result does not depend on input row order.
func Summarize(ms []types.Measurement, groupBy ...types.Dimension) []types.FeatureSummary {
	cells := make(map[pairKey]*condValues)
	for _, m := range ms {
		if m.Condition != types.Baseline && m.Condition != types.Stress {
			continue
		}
		k := pairKey{group: m.GroupLabel(groupBy), feature: m.Feature}
		c, ok := cells[k]
		if !ok {
			c = &condValues{}
			cells[k] = c
		}
		if math.IsNaN(m.Value) {
			continue
		}
		if m.Condition == types.Baseline {
			c.baseline = append(c.baseline, m.Value)
		} else {
			c.stress = append(c.stress, m.Value)
		}
	}

	out := make([]types.FeatureSummary, 0, len(cells))
	for k, c := range cells {
		b, s := Mean(c.baseline), Mean(c.stress)
		pct, ok := ChangePct(b, s)
		if !ok {
			continue
		}
		out = append(out, types.FeatureSummary{
			Group:        k.group,
			Feature:      k.feature,
			BaselineMean: b,
			StressMean:   s,
			ChangePct:    pct,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}

// ChangePct returns ((stress - baseline) / baseline) * 100. ok is false when
// either mean is NaN or infinite, the baseline is zero, or the result is not
// finite.
func ChangePct(baseline, stress float64) (float64, bool) {
	if !finite(baseline) || !finite(stress) || baseline == 0 {
		return 0, false
	}
	pct := (stress - baseline) / baseline * 100
	if !finite(pct) {
		return 0, false
	}
	return pct, true
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Mean returns the arithmetic mean of the non-NaN values in vs, or NaN when
// there are none. Values are summed in ascending order; vs is not modified.
func Mean(vs []float64) float64 {
	sorted := make([]float64, 0, len(vs))
	for _, v := range vs {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return math.NaN()
	}
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(len(sorted))
}

// Extremes returns the summaries with the largest and the smallest ChangePct
// among those accepted by keep (nil keeps all). Ties resolve to the earliest
// record. ok is false when no record is accepted.
func Extremes(summaries []types.FeatureSummary, keep func(types.FeatureSummary) bool) (types.Extremes, bool) {
	var (
		ext   types.Extremes
		found bool
	)
	for _, s := range summaries {
		if keep != nil && !keep(s) {
			continue
		}
		if !found {
			ext.Increase, ext.Decrease = s, s
			found = true
			continue
		}
		if s.ChangePct > ext.Increase.ChangePct {
			ext.Increase = s
		}
		if s.ChangePct < ext.Decrease.ChangePct {
			ext.Decrease = s
		}
	}
	return ext, found
}

// InGroup returns a keep function for Extremes that accepts one group.
func InGroup(group string) func(types.FeatureSummary) bool {
	return func(s types.FeatureSummary) bool { return s.Group == group }
}
