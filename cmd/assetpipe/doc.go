// Package main hosts the assetpipe CLI entrypoint and command graph.
//
// Commands load configuration once, then hand work to the internal packages:
// batch runs and resumes go through the workflow coordinator with progress
// streamed to the terminal and persisted to the state database, while
// process drives a single product through the interactive pipeline.
package main
