package compute

import (
	"math"
	"sort"
	"strings"

	"github.com/stresslens/stresslens/pkg/types"
)

// ConditionMean is the mean of one feature within one group under one
// condition. Mean is NaN when every reading was missing.
type ConditionMean struct {
	Group     string          `json:"group"`
	Condition types.Condition `json:"condition"`
	Feature   string          `json:"feature"`
	Mean      types.Float     `json:"mean"`
	N         int             `json:"n"`

	// Normalized is set by Normalize; nil otherwise.
	Normalized *types.Float `json:"normalized,omitempty"`
}

type meanKey struct {
	group, feature string
	cond           types.Condition
}

// ConditionMeans averages each feature per group and condition. Only baseline
// and stress rows take part. Results are sorted by group, feature, then
// condition with baseline first.
func ConditionMeans(ms []types.Measurement, groupBy ...types.Dimension) []ConditionMean {
	vals := make(map[meanKey][]float64)
	for _, m := range ms {
		if m.Condition != types.Baseline && m.Condition != types.Stress {
			continue
		}
		k := meanKey{group: m.GroupLabel(groupBy), feature: m.Feature, cond: m.Condition}
		vals[k] = append(vals[k], m.Value)
	}

	out := make([]ConditionMean, 0, len(vals))
	for k, vs := range vals {
		n := 0
		for _, v := range vs {
			if !math.IsNaN(v) {
				n++
			}
		}
		out = append(out, ConditionMean{
			Group:     k.group,
			Condition: k.cond,
			Feature:   k.feature,
			Mean:      types.Float(Mean(vs)),
			N:         n,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if a.Feature != b.Feature {
			return a.Feature < b.Feature
		}
		return condOrder(a.Condition) < condOrder(b.Condition)
	})
	return out
}

func condOrder(c types.Condition) int {
	switch c {
	case types.Baseline:
		return 0
	case types.Stress:
		return 1
	default:
		return 2
	}
}

// Normalize returns a copy of means with Normalized set to the min-max
// scaled mean of each feature across all its cells. A feature whose cells
// share one value scales to 0.5. NaN means stay NaN.
func Normalize(means []ConditionMean) []ConditionMean {
	type span struct{ min, max float64 }
	spans := make(map[string]*span)
	for _, m := range means {
		v := float64(m.Mean)
		if math.IsNaN(v) {
			continue
		}
		s, ok := spans[m.Feature]
		if !ok {
			spans[m.Feature] = &span{min: v, max: v}
			continue
		}
		s.min = math.Min(s.min, v)
		s.max = math.Max(s.max, v)
	}

	out := make([]ConditionMean, len(means))
	for i, m := range means {
		v := float64(m.Mean)
		norm := math.NaN()
		if s, ok := spans[m.Feature]; ok && !math.IsNaN(v) {
			norm = 0.5
			if s.max > s.min {
				norm = (v - s.min) / (s.max - s.min)
			}
		}
		f := types.Float(norm)
		m.Normalized = &f
		out[i] = m
	}
	return out
}

// PivotTable is a feature x group matrix of percent changes. Cells[i][j]
// is the change of Features[i] in Groups[j], NaN where no summary exists.
type PivotTable struct {
	Features []string        `json:"features"`
	Groups   []string        `json:"groups"`
	Cells    [][]types.Float `json:"cells"`
}

// Pivot arranges summaries into a feature x group matrix.
func Pivot(summaries []types.FeatureSummary) PivotTable {
	features, groups := make(map[string]bool), make(map[string]bool)
	for _, s := range summaries {
		features[s.Feature] = true
		groups[s.Group] = true
	}
	pt := PivotTable{Features: sortedKeys(features), Groups: sortedKeys(groups)}

	fi, gi := indexOf(pt.Features), indexOf(pt.Groups)
	pt.Cells = make([][]types.Float, len(pt.Features))
	for i := range pt.Cells {
		row := make([]types.Float, len(pt.Groups))
		for j := range row {
			row[j] = types.Float(math.NaN())
		}
		pt.Cells[i] = row
	}
	for _, s := range summaries {
		pt.Cells[fi[s.Feature]][gi[s.Group]] = types.Float(s.ChangePct)
	}
	return pt
}

// CountTable is a group x condition crosstab of observations.
type CountTable struct {
	Groups     []string          `json:"groups"`
	Conditions []types.Condition `json:"conditions"`
	Cells      [][]int           `json:"cells"`
	RowTotals  []int             `json:"row_totals"`
	ColTotals  []int             `json:"col_totals"`
	Total      int               `json:"total"`
}

// Counts tallies observations per group and condition. An observation is
// one measurement of the first feature in ms, which for wide tables is one
// source row. Conditions appear in baseline, stress, other order and only
// when present.
func Counts(ms []types.Measurement, groupBy ...types.Dimension) CountTable {
	var ct CountTable
	if len(ms) == 0 {
		return ct
	}
	first := ms[0].Feature

	type cell struct {
		group string
		cond  types.Condition
	}
	tally := make(map[cell]int)
	groups := make(map[string]bool)
	conds := make(map[types.Condition]bool)
	for _, m := range ms {
		if m.Feature != first {
			continue
		}
		g := m.GroupLabel(groupBy)
		tally[cell{g, m.Condition}]++
		groups[g] = true
		conds[m.Condition] = true
	}

	ct.Groups = sortedKeys(groups)
	for _, c := range []types.Condition{types.Baseline, types.Stress, types.Other} {
		if conds[c] {
			ct.Conditions = append(ct.Conditions, c)
		}
	}
	ct.Cells = make([][]int, len(ct.Groups))
	ct.RowTotals = make([]int, len(ct.Groups))
	ct.ColTotals = make([]int, len(ct.Conditions))
	for i, g := range ct.Groups {
		ct.Cells[i] = make([]int, len(ct.Conditions))
		for j, c := range ct.Conditions {
			n := tally[cell{g, c}]
			ct.Cells[i][j] = n
			ct.RowTotals[i] += n
			ct.ColTotals[j] += n
			ct.Total += n
		}
	}
	return ct
}

// DefaultProfilePrefixes are the signal families a subject profile is
// grouped into.
var DefaultProfilePrefixes = []string{"EDA_", "BVP_", "HRV_", "HR_", "TEMP_", "ACC_", "RESP_"}

// ProfileValue is the mean of one feature for one subject under one condition.
type ProfileValue struct {
	Feature   string          `json:"feature"`
	Condition types.Condition `json:"condition"`
	Value     types.Float     `json:"value"`
}

// ProfileGroup holds the values of the features sharing a name prefix.
// Prefix is empty for features matching no prefix.
type ProfileGroup struct {
	Prefix string         `json:"prefix"`
	Values []ProfileValue `json:"values"`
}

// Profile collects a subject's feature values grouped by name prefix. Each
// feature is assigned to the first matching prefix; groups follow prefix
// order with the unmatched group last. Empty groups are omitted.
// ErrEmptySelection is returned when the subject has no rows.
func Profile(ms []types.Measurement, subject string, prefixes []string) ([]ProfileGroup, error) {
	if prefixes == nil {
		prefixes = DefaultProfilePrefixes
	}
	own, err := Select(ms, Filter{Subjects: []string{subject}})
	if err != nil {
		return nil, err
	}

	vals := make(map[meanKey][]float64)
	for _, m := range own {
		k := meanKey{feature: m.Feature, cond: m.Condition}
		vals[k] = append(vals[k], m.Value)
	}
	keys := make([]meanKey, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].feature != keys[j].feature {
			return keys[i].feature < keys[j].feature
		}
		return condOrder(keys[i].cond) < condOrder(keys[j].cond)
	})

	groups := make([]ProfileGroup, len(prefixes)+1)
	for i, p := range prefixes {
		groups[i].Prefix = p
	}
	for _, k := range keys {
		slot := len(prefixes)
		for i, p := range prefixes {
			if strings.HasPrefix(k.feature, p) {
				slot = i
				break
			}
		}
		groups[slot].Values = append(groups[slot].Values, ProfileValue{
			Feature:   k.feature,
			Condition: k.cond,
			Value:     types.Float(Mean(vals[k])),
		})
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.Values) > 0 {
			out = append(out, g)
		}
	}
	return out, nil
}

// AttributeCount is the number of subjects carrying one value of one
// categorical attribute.
type AttributeCount struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Count int    `json:"count"`
}

// AttributeCounts tallies the attributes accepted by the dataset and subject
// filters of f. Results are sorted by name, then by count descending, then
// by value.
func AttributeCounts(attrs []types.Attribute, f Filter) []AttributeCount {
	datasets, subjects := set(f.Datasets), set(f.Subjects)
	type key struct{ name, value string }
	tally := make(map[key]int)
	for _, a := range attrs {
		if !accepts(datasets, a.Dataset) || !accepts(subjects, a.Subject) {
			continue
		}
		tally[key{a.Name, a.Value}]++
	}

	out := make([]AttributeCount, 0, len(tally))
	for k, n := range tally {
		out = append(out, AttributeCount{Name: k.name, Value: k.value, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Name != b.Name:
			return a.Name < b.Name
		case a.Count != b.Count:
			return a.Count > b.Count
		}
		return a.Value < b.Value
	})
	return out
}

// SubjectAttributes returns the attributes of one subject in input order.
func SubjectAttributes(attrs []types.Attribute, subject string) []types.Attribute {
	out := []types.Attribute{}
	for _, a := range attrs {
		if a.Subject == subject {
			out = append(out, a)
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func indexOf(vs []string) map[string]int {
	idx := make(map[string]int, len(vs))
	for i, v := range vs {
		idx[v] = i
	}
	return idx
}
