// Package progress carries pipeline progress from the single coordinating
// goroutine to any number of observers.
//
// Producers call Reporter methods; Hub records every update in sequence and
// lets observers replay the run from the start, either by polling Fetch or by
// ranging over Subscribe. Board folds updates into the latest snapshot per
// item, keyed by correlation key, so repeated notifications supersede rather
// than append.
package progress
