// Package types defines the shared in-memory shapes used by the dashboard
// server and the changereport CLI. Every input layout is normalized to
// Measurement before any aggregation runs; FeatureSummary is the derived
// per-feature baseline/stress view.
package types
