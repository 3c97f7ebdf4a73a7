// Package stage holds the ordered catalog of pipeline stages, their
// skip predicates, and the per-item executors that drive the gateway.
//
// Executors never touch stage results directly; they return an Outcome that
// the caller applies only while the run is still live. Shared helpers such as
// ApplyBackgroundResult let the batch coordinator interpret bulk responses with
// the same rules the single-item executors use.
package stage
