// Package workflow runs batches of products through the bulk and per-item
// phases.
//
// A Coordinator owns a BatchRun for the run's lifetime: Phase A saves every
// product in one gateway call, Phase B removes backgrounds for every saved
// product in one call, and Phase C walks the items one at a time through 3D
// generation and optimization. A failure is recorded against the failing item's
// stage and never stops the batch. All mutation happens on the calling
// goroutine; observers receive snapshots through a progress.Reporter.
//
// Resuming a batch is the same Run over stored items: every phase re-derives
// its work from stage results, so completed stages are never repeated.
package workflow
