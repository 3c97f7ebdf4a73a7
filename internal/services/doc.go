// Package services defines shared utilities consumed by the pipeline stages and
// the external gateway.
//
// Key responsibilities:
//   - Context helpers that stamp item correlation keys, stage names, batch ids,
//     and request identifiers for logging and tracing.
//   - Sentinel error markers plus the Wrap helper, and the Classify function that
//     maps any failure onto the Network/Validation/Processing/Timeout/Unknown
//     taxonomy.
//   - PipelineError, the terminal error a stage surfaces once retries are spent.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
