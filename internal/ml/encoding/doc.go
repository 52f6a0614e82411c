// Package encoding turns raw sleep-health records into the fixed numeric
// feature vectors the classifier consumes.
//
// Training and serving share one code path: FitAndEncode fits a Registry
// from the corpus and encodes every row through the same per-record encoder
// that EncodeOne uses at serving time. The Registry and Contract are then
// persisted with the model, so the serving side never rebuilds a mapping of
// its own.
//
// Pipeline for a single record:
//
//	presence check (Contract)  -> SchemaError
//	blood pressure split       -> FormatError
//	categorical lookup         -> code, or default code + SkewWarning
//	numeric domain validation  -> ValidationError
package encoding
