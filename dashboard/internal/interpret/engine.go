package interpret

import (
	"strings"

	"github.com/stresslens/stresslens/dashboard/internal/compute"
	"github.com/stresslens/stresslens/dashboard/internal/config"
	"github.com/stresslens/stresslens/pkg/types"
)

// Finding is one interpretation rule that fired for a set of summaries.
type Finding struct {
	Rule     string   `json:"rule"`
	Level    string   `json:"level"`
	Message  string   `json:"message"`
	Value    float64  `json:"value"`
	Features []string `json:"features"`
}

// Engine evaluates interpretation rules against change summaries.
// An Engine with no rules is valid; Evaluate then returns nothing.
type Engine struct {
	rules []config.Rule
}

// New creates an Engine from the configured rules.
func New(rules []config.Rule) *Engine {
	return &Engine{rules: rules}
}

// Evaluate runs every rule against summaries, which are normally the changes
// of a single subject or group. A rule only fires when at least one summary
// is in its scope. Findings follow rule order.
func (e *Engine) Evaluate(summaries []types.FeatureSummary) []Finding {
	var out []Finding
	for _, r := range e.rules {
		sc, features := collect(r, summaries)
		if sc.count == 0 {
			continue
		}
		fires, v := evalCondition(r.Condition, sc)
		if !fires {
			continue
		}
		level := r.Level
		if level == "" {
			level = "info"
		}
		out = append(out, Finding{
			Rule:     r.Name,
			Level:    level,
			Message:  r.Message,
			Value:    v,
			Features: features,
		})
	}
	return out
}

// collect reduces the summaries whose feature matches the rule to a scope.
func collect(r config.Rule, summaries []types.FeatureSummary) (scope, []string) {
	var (
		sc       scope
		features []string
		changes  []float64
	)
	for _, s := range summaries {
		if !matches(r.Features, s.Feature) {
			continue
		}
		if sc.count == 0 || s.ChangePct < sc.min {
			sc.min = s.ChangePct
		}
		if sc.count == 0 || s.ChangePct > sc.max {
			sc.max = s.ChangePct
		}
		sc.count++
		changes = append(changes, s.ChangePct)
		features = append(features, s.Feature)
	}
	if sc.count > 0 {
		sc.avg = compute.Mean(changes)
	}
	return sc, features
}

// matches reports whether feature contains any of the substrings.
// An empty substring list matches every feature.
func matches(substrings []string, feature string) bool {
	if len(substrings) == 0 {
		return true
	}
	for _, sub := range substrings {
		if strings.Contains(feature, sub) {
			return true
		}
	}
	return false
}
