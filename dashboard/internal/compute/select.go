package compute

import (
	"errors"

	"github.com/stresslens/stresslens/pkg/types"
)

// ErrEmptySelection is returned when filters match no measurements.
var ErrEmptySelection = errors.New("selection matched no rows")

// Filter restricts measurements by identifier. An empty list places no
// restriction on that field; values within a list are alternatives.
type Filter struct {
	Datasets []string
	Subjects []string
	Features []string
}

// IsZero reports whether the filter restricts nothing.
func (f Filter) IsZero() bool {
	return len(f.Datasets) == 0 && len(f.Subjects) == 0 && len(f.Features) == 0
}

// Select returns the measurements accepted by f, in input order.
// ErrEmptySelection is returned when nothing matches.
func Select(ms []types.Measurement, f Filter) ([]types.Measurement, error) {
	if f.IsZero() {
		if len(ms) == 0 {
			return nil, ErrEmptySelection
		}
		return ms, nil
	}
	datasets, subjects, features := set(f.Datasets), set(f.Subjects), set(f.Features)

	var out []types.Measurement
	for _, m := range ms {
		if !accepts(datasets, m.Dataset) || !accepts(subjects, m.Subject) || !accepts(features, m.Feature) {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, ErrEmptySelection
	}
	return out, nil
}

func set(vs []string) map[string]bool {
	if len(vs) == 0 {
		return nil
	}
	s := make(map[string]bool, len(vs))
	for _, v := range vs {
		s[v] = true
	}
	return s
}

func accepts(s map[string]bool, v string) bool {
	return s == nil || s[v]
}

// Values lists the distinct values of dimension d in ms, sorted.
func Values(ms []types.Measurement, d types.Dimension) []string {
	seen := make(map[string]bool)
	for _, m := range ms {
		seen[m.Key(d)] = true
	}
	return sortedKeys(seen)
}
