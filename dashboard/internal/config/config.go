package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHTTPPort          = 8501
	DefaultBroadcastInterval = 5 * time.Second
	DefaultCacheIdleTTL      = 30 * time.Minute
	DefaultAuthHeader        = "X-API-Key"
)

// Layout names accepted in sources[].layout.
const (
	LayoutAuto   = "auto"
	LayoutLong   = "long"
	LayoutTrend  = "trend"
	LayoutWide   = "wide"
	LayoutPaired = "paired"
)

// Config is the top-level configuration of the dashboard and the CLI.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// DashboardConfig holds every dashboard-side setting.
type DashboardConfig struct {
	// HTTPPort is the port the REST API, chart endpoints and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port"`

	// BroadcastInterval controls how often connected dashboards receive the
	// source list over the WebSocket stream.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	// Auth configures how REST clients authenticate.
	Auth AuthConfig `yaml:"auth"`

	// Cache controls the in-memory table cache.
	Cache CacheConfig `yaml:"cache"`

	// Sources is the list of precomputed feature tables to serve.
	Sources []Source `yaml:"sources"`

	// Conditions maps raw condition labels onto baseline / stress.
	Conditions ConditionsConfig `yaml:"conditions"`

	// Classifier points at the precomputed classifier results document.
	Classifier ClassifierConfig `yaml:"classifier"`

	// Interpretation holds the profile interpretation rules.
	Interpretation InterpretationConfig `yaml:"interpretation"`

	// Reference maps a feature name to its normal range.
	Reference map[string]Range `yaml:"reference"`
}

// Source describes one feature table produced by the upstream notebooks.
type Source struct {
	// ID is a unique, human-readable identifier used in API paths.
	ID string `yaml:"id"`

	// Path is the filesystem path of the delimited text file.
	Path string `yaml:"path"`

	// Layout is one of: auto | long | trend | wide | paired.
	Layout string `yaml:"layout"`

	// Columns overrides the identifier column names.
	Columns Columns `yaml:"columns"`

	// GroupBy is the default grouping key set: subject and/or dataset.
	GroupBy []string `yaml:"group_by"`

	// Features is the default feature selection; empty means all.
	Features []string `yaml:"features"`
}

// Columns names the identifier columns of a source table.
// Empty fields fall back to the defaults applied by the loader.
type Columns struct {
	Subject   string `yaml:"subject"`
	Dataset   string `yaml:"dataset"`
	Feature   string `yaml:"feature"`
	Condition string `yaml:"condition"`
	Value     string `yaml:"value"`

	// Signal, when set, names a column whose value prefixes every feature
	// of its row, so that "latency_s" measured on EDA becomes "EDA_latency_s".
	Signal string `yaml:"signal"`
}

// AuthConfig controls REST client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header the key is read from. Defaults to X-API-Key.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAuthHeader
}

// CacheConfig controls the loaded-table cache.
type CacheConfig struct {
	// IdleTTL is how long a table stays cached without being requested.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// ConditionsConfig lists the raw labels treated as baseline and stress.
// Matching is case-insensitive; every other label becomes "other".
type ConditionsConfig struct {
	Baseline []string `yaml:"baseline"`
	Stress   []string `yaml:"stress"`
}

// ClassifierConfig locates the classifier results document.
type ClassifierConfig struct {
	// ResultsPath is the analysis_results.json written by the training notebook.
	ResultsPath string `yaml:"results_path"`
}

// InterpretationConfig holds profile interpretation rules.
type InterpretationConfig struct {
	Rules []Rule `yaml:"rules"`
}

// Rule is one interpretation rule evaluated against a subject's changes.
type Rule struct {
	// Name is the stable rule identifier.
	Name string `yaml:"name"`

	// Features lists substrings; a feature is in scope when its name
	// contains any of them.
	Features []string `yaml:"features"`

	// Condition is an expression like "avg_change_pct < -10".
	Condition string `yaml:"condition"`

	// Level is one of: info | warning | critical.
	Level string `yaml:"level"`

	// Message is the text shown when the rule fires.
	Message string `yaml:"message"`
}

// Range is the normal range of one physiological feature.
type Range struct {
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Label string  `yaml:"label"`
	Unit  string  `yaml:"unit"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	fillSourceDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := defaults()
	fillSourceDefaults(cfg)
	return cfg
}

// SourceByID returns the source with the given id.
func (c *Config) SourceByID(id string) (Source, bool) {
	for _, s := range c.Dashboard.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}

// defaults returns a Config pre-populated with default values.
// Slices and maps set here are replaced, not merged, when the file sets them.
func defaults() *Config {
	return &Config{
		Dashboard: DashboardConfig{
			HTTPPort:          DefaultHTTPPort,
			BroadcastInterval: DefaultBroadcastInterval,
			Cache:             CacheConfig{IdleTTL: DefaultCacheIdleTTL},
			Conditions: ConditionsConfig{
				Baseline: []string{"baseline"},
				Stress:   []string{"stress"},
			},
			Interpretation: InterpretationConfig{Rules: DefaultRules()},
			Reference:      DefaultReference(),
		},
	}
}

// DefaultRules returns the built-in HRV and temperature interpretation rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "fast_stress_reaction",
			Features:  []string{"HRV", "pNN50"},
			Condition: "avg_change_pct < -10",
			Level:     "warning",
			Message:   "Marked HRV drop: strong sympathetic activation under stress.",
		},
		{
			Name:      "good_regulation",
			Features:  []string{"HRV", "pNN50"},
			Condition: "avg_change_pct > 10",
			Level:     "info",
			Message:   "HRV rises under stress, which may indicate adaptation.",
		},
		{
			Name:      "temperature_rise",
			Features:  []string{"TEMP"},
			Condition: "avg_change_pct > 5",
			Level:     "warning",
			Message:   "Skin temperature rises under stress, a possible stress response.",
		},
	}
}

// DefaultReference returns the built-in normal ranges.
func DefaultReference() map[string]Range {
	return map[string]Range{
		"HR_mean":   {Min: 60, Max: 100, Label: "HR", Unit: "bpm"},
		"HRV_RMSSD": {Min: 25, Max: 50, Label: "HRV RMSSD", Unit: "ms"},
		"HRV_SDNN":  {Min: 30, Max: 60, Label: "HRV SDNN", Unit: "ms"},
		"TEMP_mean": {Min: 36.0, Max: 37.0, Label: "Temperature", Unit: "°C"},
	}
}

// ValidLayout reports whether layout is one of the accepted layout names.
func ValidLayout(layout string) bool {
	switch layout {
	case LayoutAuto, LayoutLong, LayoutTrend, LayoutWide, LayoutPaired:
		return true
	}
	return false
}

// fillSourceDefaults applies per-source defaults after unmarshalling.
func fillSourceDefaults(cfg *Config) {
	for i := range cfg.Dashboard.Sources {
		src := &cfg.Dashboard.Sources[i]
		if src.Layout == "" {
			src.Layout = LayoutAuto
		}
		src.Layout = strings.ToLower(src.Layout)
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	d := cfg.Dashboard
	if d.HTTPPort <= 0 || d.HTTPPort > 65535 {
		return fmt.Errorf("dashboard.http_port %d is out of range [1, 65535]", d.HTTPPort)
	}
	if d.BroadcastInterval <= 0 {
		return fmt.Errorf("dashboard.broadcast_interval must be positive")
	}
	if d.Cache.IdleTTL < 0 {
		return fmt.Errorf("dashboard.cache.idle_ttl must not be negative")
	}
	switch d.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("dashboard.auth.mode %q unknown: want apikey|none", d.Auth.Mode)
	}
	if len(d.Conditions.Baseline) == 0 || len(d.Conditions.Stress) == 0 {
		return fmt.Errorf("dashboard.conditions: baseline and stress labels are required")
	}

	seen := make(map[string]bool, len(d.Sources))
	for i, src := range d.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d] %q: duplicate id", i, src.ID)
		}
		seen[src.ID] = true
		if src.Path == "" {
			return fmt.Errorf("sources[%d] %q: path is required", i, src.ID)
		}
		if !ValidLayout(src.Layout) {
			return fmt.Errorf("sources[%d] %q: unknown layout %q", i, src.ID, src.Layout)
		}
		for _, g := range src.GroupBy {
			switch strings.ToLower(g) {
			case "subject", "dataset":
			default:
				return fmt.Errorf("sources[%d] %q: unknown group_by %q", i, src.ID, g)
			}
		}
	}

	for i, r := range d.Interpretation.Rules {
		if r.Name == "" {
			return fmt.Errorf("interpretation.rules[%d]: name is required", i)
		}
		if len(strings.Fields(r.Condition)) != 3 {
			return fmt.Errorf("interpretation.rules[%d] %q: condition must be \"field op value\"", i, r.Name)
		}
		switch r.Level {
		case "info", "warning", "critical", "":
		default:
			return fmt.Errorf("interpretation.rules[%d] %q: unknown level %q", i, r.Name, r.Level)
		}
	}

	for name, rg := range d.Reference {
		if rg.Max <= rg.Min {
			return fmt.Errorf("reference %q: max must be greater than min", name)
		}
	}
	return nil
}
