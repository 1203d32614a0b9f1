// Package api serves the dashboard's REST endpoints with a chi router:
// source listing, change summaries and their derived views, chart images,
// reference-range assessment and classifier results. Load, schema and
// selection problems never fail a request; they come back as diagnostic
// hints next to an empty payload.
package api
