// Package config loads and watches the dashboard configuration file (config.yaml).
//
// Top-level types:
//   - Config{Dashboard}: full config tree parsed from YAML
//   - DashboardConfig: http_port, broadcast_interval, auth, cache, sources[],
//     conditions, classifier, interpretation, reference
//   - Source: id, path, layout (auto|long|trend|wide|paired), columns, group_by, features
//   - AuthConfig: mode (apikey|none), key_env, header; Key() resolves from the environment
//   - Rule, Range: interpretation rules and reference ranges, with built-in defaults
//
// Load(path) reads the YAML file, applies defaults (port 8501, 5s broadcast,
// 30m cache idle TTL, baseline/stress labels, HRV/TEMP rules, HR/HRV/TEMP
// ranges), then validates required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config.
package config
