// Package loader reads the precomputed feature tables produced by the
// analysis notebooks and normalizes them to a flat []types.Measurement.
//
// Supported layouts (layout.go): long, trend, paired and wide. The layout is
// detected once from the header by DetectLayout, or forced per source in
// config. Raw condition labels are mapped onto baseline / stress / other by
// ConditionMapper (conditions.go).
//
// Missing files and schema mismatches are carried on Result.Err rather than
// returned, so a caller can keep serving other sources. results.go decodes
// the classifier results document (analysis_results.json).
package loader
