// Package preflight provides readiness checks for the processing gateway and
// the filesystem paths assetpipe writes to.
//
// Batch runs call RunAll before the first phase and refuse to start when a
// check fails, so a misconfigured gateway does not fail every item one by one.
// The CLI status command renders the same results.
package preflight
