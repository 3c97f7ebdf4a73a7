package services_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"assetpipe/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrProcessing, "generate-3d", "submit", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"generate-3d", "submit", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Kind
	}{
		{"validation marker", services.Wrap(services.ErrValidation, "scrape", "", "bad url", nil), services.KindValidation},
		{"timeout marker", services.Wrap(services.ErrTimeout, "generate-3d", "poll", "", nil), services.KindTimeout},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), services.KindTimeout},
		{"network marker", services.Wrap(services.ErrNetwork, "", "", "", errors.New("reset")), services.KindNetwork},
		{"url error", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("refused")}, services.KindNetwork},
		{"processing marker", services.Wrap(services.ErrProcessing, "", "", "", nil), services.KindProcessing},
		{"plain", errors.New("mystery"), services.KindUnknown},
		{"pipeline error", &services.PipelineError{Kind: services.KindTimeout}, services.KindTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Classify(tc.err); got != tc.want {
				t.Fatalf("Classify() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestNewPipelineErrorCarriesAttempts(t *testing.T) {
	cause := services.Wrap(services.ErrNetwork, "optimize", "request", "connection reset", nil)
	perr := services.NewPipelineError(cause, 3)
	if perr.Kind != services.KindNetwork {
		t.Fatalf("unexpected kind %s", perr.Kind)
	}
	if !perr.Retryable {
		t.Fatal("network failures should be retryable")
	}
	if perr.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", perr.Attempts)
	}
	if !errors.Is(perr, services.ErrNetwork) {
		t.Fatal("expected cause to remain reachable")
	}
	if strings.HasPrefix(perr.Message, "network error") {
		t.Fatalf("expected marker stripped from message, got %q", perr.Message)
	}
}

func TestPipelineErrorTextDoesNotRepeatCause(t *testing.T) {
	cause := services.Wrap(services.ErrValidation, "bg", "x", "bad", nil)
	perr := services.NewPipelineError(cause, 1)
	if got := perr.Error(); got != "bg: x: bad" {
		t.Fatalf("unexpected error text %q", got)
	}
	if !errors.Is(perr, services.ErrValidation) {
		t.Fatal("expected marker to stay reachable")
	}

	retried := services.NewPipelineError(services.Wrap(services.ErrNetwork, "scrape", "request", "reset", nil), 3)
	if got := retried.Error(); got != "scrape: request: reset (after 3 attempts)" {
		t.Fatalf("unexpected retried error text %q", got)
	}

	custom := &services.PipelineError{Kind: services.KindProcessing, Message: "optimize failed", Cause: errors.New("mesh collapsed")}
	if got := custom.Error(); got != "optimize failed: mesh collapsed" {
		t.Fatalf("expected unrelated cause appended, got %q", got)
	}
}

func TestValidationIsNotRetryable(t *testing.T) {
	if services.KindValidation.Retryable() {
		t.Fatal("validation must not be retryable")
	}
	for _, kind := range []services.Kind{services.KindNetwork, services.KindProcessing, services.KindTimeout, services.KindUnknown} {
		if !kind.Retryable() {
			t.Fatalf("%s should be retryable", kind)
		}
	}
}
