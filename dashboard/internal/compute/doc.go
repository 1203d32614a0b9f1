// Package compute derives baseline-vs-stress change summaries from
// normalized measurements.
//
// summary.go provides the pure Summarize function: per (group, feature)
// baseline and stress means (NaN ignored) and the percent change between
// them, plus Extremes for the biggest increase and decrease. Pairs whose
// baseline mean is zero, NaN or absent are left out.
//
// select.go filters measurements (Select, ErrEmptySelection). views.go
// builds the derived views served by the dashboard: condition means, min-max
// normalization, the change pivot, condition counts and per-subject profiles.
// reference.go assesses values against normal ranges.
//
// Nothing here touches the filesystem or keeps state; every function is a
// deterministic transform of its arguments.
package compute
