// Package metrics exposes dashboard counters and gauges (requests per route,
// computed summaries, cache hits and misses, measurements per source,
// WebSocket clients) in the Prometheus text exposition format using the
// client_model types and the expfmt encoder.
package metrics
