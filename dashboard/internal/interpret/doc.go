// Package interpret turns change summaries into human-readable findings.
// Each rule selects the features whose name contains one of its substrings,
// reduces their percent changes (avg, min, max, count) and fires when its
// "field op value" condition holds.
package interpret
