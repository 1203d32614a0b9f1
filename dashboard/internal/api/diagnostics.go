package api

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/stresslens/stresslens/dashboard/internal/compute"
	"github.com/stresslens/stresslens/dashboard/internal/loader"
)

// DiagnosticHint is one human-readable note about why a view is empty or
// incomplete. The dashboard shows these instead of failing the request.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label (≤ 5 words).
	Title string `json:"title"`
	// Detail is the full explanation, including what to do about it.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

// Diagnostic keys.
const (
	HintMissingInput   = "missing_input"
	HintSchemaMismatch = "schema_mismatch"
	HintEmptySelection = "empty_selection"
	HintLoadFailed     = "load_failed"
	HintNotConfigured  = "not_configured"
	HintInvalidValues  = "invalid_values"
)

// invalidValues reports unparsable numeric cells of a loaded table. Value
// carries the number of affected cells. It returns nil when there are none.
func invalidValues(res *loader.Result) []DiagnosticHint {
	n := res.InvalidCells()
	if n == 0 {
		return nil
	}
	cols := make([]string, 0, len(res.Invalid))
	for c := range res.Invalid {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	v := float64(n)
	return []DiagnosticHint{{
		Key:   HintInvalidValues,
		Level: "warning",
		Title: "Unreadable values",
		Detail: fmt.Sprintf(
			"%d cells in %s are not numbers and were treated as missing readings. "+
				"Check the decimal separator and the export step.",
			n, strings.Join(cols, ", ")),
		Value: &v,
	}}
}

// diagnose maps a load or selection error onto hints. It returns nil for a
// nil error.
func diagnose(err error) []DiagnosticHint {
	if err == nil {
		return nil
	}

	var schemaErr *loader.SchemaError
	switch {
	case errors.Is(err, loader.ErrMissingInput):
		return []DiagnosticHint{{
			Key:   HintMissingInput,
			Level: "critical",
			Title: "Input file not found",
			Detail: fmt.Sprintf(
				"The feature table could not be found (%v). "+
					"Run the feature extraction step that produces it, or fix the source path "+
					"in the config. The view will fill in as soon as the file appears.",
				err),
		}}

	case errors.As(err, &schemaErr):
		return []DiagnosticHint{{
			Key:   HintSchemaMismatch,
			Level: "warning",
			Title: "Unexpected columns",
			Detail: fmt.Sprintf(
				"The table at %s is missing %s. Available columns: %s. "+
					"Set sources[].layout or sources[].columns to match the file.",
				schemaErr.Path,
				strings.Join(schemaErr.Missing, ", "),
				strings.Join(schemaErr.Available, ", ")),
		}}

	case errors.Is(err, compute.ErrEmptySelection):
		return []DiagnosticHint{{
			Key:    HintEmptySelection,
			Level:  "info",
			Title:  "Nothing selected",
			Detail: "No rows match the current dataset, subject and feature filters. Widen the selection.",
		}}

	default:
		return []DiagnosticHint{{
			Key:    HintLoadFailed,
			Level:  "critical",
			Title:  "Cannot read table",
			Detail: fmt.Sprintf("The feature table could not be read: %v.", err),
		}}
	}
}
