// Package queue models the product items that move through the asset pipeline
// and persists snapshots of them in SQLite.
//
// Item carries the per-stage results, the ordered stage plan for its mode, the
// derived overall status, and the accumulated cost. Status derivation is pure:
// it looks only at StageResults and Plan, so a resumed item re-derives where it
// left off without external flags. Mutating helpers refuse to overwrite sealed
// (completed or failed) stage results and never move Status backwards.
//
// The Store is optional infrastructure for the CLI: it records item snapshots
// and batch summaries so runs can be listed, inspected, and resumed. The
// orchestrator itself never reads from it.
package queue
