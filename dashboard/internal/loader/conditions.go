package loader

import (
	"strings"

	"github.com/stresslens/stresslens/dashboard/internal/config"
	"github.com/stresslens/stresslens/pkg/types"
)

// ConditionMapper maps raw condition labels from a table onto the
// baseline / stress / other classification. Matching is case-insensitive
// and ignores surrounding whitespace.
type ConditionMapper struct {
	labels map[string]types.Condition
}

// NewConditionMapper builds a mapper from the configured label aliases.
// A label listed under both conditions resolves to baseline.
func NewConditionMapper(c config.ConditionsConfig) *ConditionMapper {
	m := &ConditionMapper{labels: make(map[string]types.Condition, len(c.Baseline)+len(c.Stress))}
	for _, l := range c.Stress {
		m.labels[strings.ToLower(strings.TrimSpace(l))] = types.Stress
	}
	for _, l := range c.Baseline {
		m.labels[strings.ToLower(strings.TrimSpace(l))] = types.Baseline
	}
	return m
}

// Map classifies one raw label.
func (m *ConditionMapper) Map(label string) types.Condition {
	if c, ok := m.labels[strings.ToLower(strings.TrimSpace(label))]; ok {
		return c
	}
	return types.Other
}
