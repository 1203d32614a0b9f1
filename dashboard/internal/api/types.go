package api

import (
	"time"

	"github.com/stresslens/stresslens/dashboard/internal/compute"
	"github.com/stresslens/stresslens/dashboard/internal/interpret"
	"github.com/stresslens/stresslens/dashboard/internal/loader"
	"github.com/stresslens/stresslens/pkg/types"
)

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status  string    `json:"status"`
	Sources int       `json:"sources"`
	Cached  int       `json:"cached"`
	Time    time.Time `json:"time"`
}

// SourceResponse describes one configured source and the state of its table.
type SourceResponse struct {
	ID         string            `json:"id"`
	Path       string            `json:"path"`
	Layout     string            `json:"layout"`
	Rows       int               `json:"rows"`
	Features   []string          `json:"features"`
	Dimensions []types.Dimension `json:"dimensions"`
	Subjects   []string          `json:"subjects"`
	Datasets   []string          `json:"datasets"`

	// LoadedAt is nil when the table could not be loaded.
	LoadedAt    *time.Time       `json:"loaded_at,omitempty"`
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// ChangesResponse is returned by GET /api/v1/sources/{id}/changes.
type ChangesResponse struct {
	Source      string                 `json:"source"`
	GroupBy     []types.Dimension      `json:"group_by"`
	Changes     []types.FeatureSummary `json:"changes"`
	Diagnostics []DiagnosticHint       `json:"diagnostics"`
}

// ExtremesResponse is returned by GET /api/v1/sources/{id}/extremes.
// Extremes is nil when no change is defined for the selection.
type ExtremesResponse struct {
	Source      string            `json:"source"`
	GroupBy     []types.Dimension `json:"group_by"`
	Group       string            `json:"group,omitempty"`
	Extremes    *types.Extremes   `json:"extremes"`
	Diagnostics []DiagnosticHint  `json:"diagnostics"`
}

// MeansResponse is returned by GET /api/v1/sources/{id}/means.
type MeansResponse struct {
	Source      string                  `json:"source"`
	GroupBy     []types.Dimension       `json:"group_by"`
	Normalized  bool                    `json:"normalized"`
	Means       []compute.ConditionMean `json:"means"`
	Diagnostics []DiagnosticHint        `json:"diagnostics"`
}

// PivotResponse is returned by GET /api/v1/sources/{id}/pivot.
type PivotResponse struct {
	Source      string             `json:"source"`
	GroupBy     []types.Dimension  `json:"group_by"`
	Pivot       compute.PivotTable `json:"pivot"`
	Diagnostics []DiagnosticHint   `json:"diagnostics"`
}

// CountsResponse is returned by GET /api/v1/sources/{id}/counts.
type CountsResponse struct {
	Source      string             `json:"source"`
	GroupBy     []types.Dimension  `json:"group_by"`
	Counts      compute.CountTable `json:"counts"`
	Diagnostics []DiagnosticHint   `json:"diagnostics"`
}

// InterpretationResponse is returned by GET /api/v1/sources/{id}/interpretation.
type InterpretationResponse struct {
	Source      string                 `json:"source"`
	Subject     string                 `json:"subject"`
	Changes     []types.FeatureSummary `json:"changes"`
	Extremes    *types.Extremes        `json:"extremes"`
	Findings    []interpret.Finding    `json:"findings"`
	Diagnostics []DiagnosticHint       `json:"diagnostics"`
}

// ProfileResponse is returned by GET /api/v1/sources/{id}/profile/{subject}.
type ProfileResponse struct {
	Source      string                 `json:"source"`
	Subject     string                 `json:"subject"`
	Groups      []compute.ProfileGroup `json:"groups"`
	Attributes  []types.Attribute      `json:"attributes"`
	Diagnostics []DiagnosticHint       `json:"diagnostics"`
}

// AttributesResponse is returned by GET /api/v1/sources/{id}/attributes.
type AttributesResponse struct {
	Source      string                   `json:"source"`
	Attributes  []compute.AttributeCount `json:"attributes"`
	Diagnostics []DiagnosticHint         `json:"diagnostics"`
}

// ChartResponse is returned instead of an image when there is nothing to draw.
type ChartResponse struct {
	Source      string           `json:"source"`
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// ReferenceResponse is returned by GET /api/v1/reference.
type ReferenceResponse struct {
	Assessments []compute.Assessment `json:"assessments"`
}

// ClassifierResponse is returned by GET /api/v1/classifier.
type ClassifierResponse struct {
	Results *loader.ClassifierResults `json:"results"`
	Models  []string                  `json:"models"`

	// Normalized holds each confusion matrix with rows scaled to sum to 1.
	Normalized  map[string][][]float64 `json:"normalized"`
	Diagnostics []DiagnosticHint       `json:"diagnostics"`
}

type errorResponse struct {
	Error string `json:"error"`
}
