package main

import (
	"testing"

	"assetpipe/internal/queue"
)

func TestColorStatus(t *testing.T) {
	cases := []struct {
		status string
		color  string
	}{
		{string(queue.StatusCompleted), ansiGreen},
		{string(queue.BatchCompleted), ansiGreen},
		{string(queue.StatusFailed), ansiRed},
		{string(queue.BatchAborted), ansiRed},
		{string(queue.StatusProcessing), ansiYellow},
		{string(queue.BatchRunning), ansiYellow},
		{string(queue.StatusPending), ansiBlue},
	}
	for _, tc := range cases {
		got := colorStatus(tc.status, true)
		if want := tc.color + tc.status + ansiReset; got != want {
			t.Fatalf("colorStatus(%q) = %q, want %q", tc.status, got, want)
		}
	}
	if got := colorStatus("failed", false); got != "failed" {
		t.Fatalf("expected plain status without color, got %q", got)
	}
}
