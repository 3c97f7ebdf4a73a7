package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrNetwork    = errors.New("network error")
	ErrValidation = errors.New("validation error")
	ErrProcessing = errors.New("processing error")
	ErrTimeout    = errors.New("timeout")
)

// Kind classifies a pipeline failure for retry and reporting decisions.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindValidation Kind = "validation"
	KindProcessing Kind = "processing"
	KindTimeout    Kind = "timeout"
	KindUnknown    Kind = "unknown"
)

// Retryable reports whether failures of this kind may be attempted again.
func (k Kind) Retryable() bool {
	return k != KindValidation
}

// PipelineError is the terminal error surfaced once a stage gives up.
type PipelineError struct {
	Kind      Kind
	Message   string
	Retryable bool
	Attempts  int
	Cause     error
}

func (e *PipelineError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = string(e.Kind) + " failure"
	}
	base := msg
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s (after %d attempts)", msg, e.Attempts)
	}
	if e.Cause == nil {
		return msg
	}
	causeText := e.Cause.Error()
	if strings.Contains(base, causeText) {
		return msg
	}
	if stripped := Message(e.Cause); stripped != "" && strings.Contains(base, stripped) {
		return msg
	}
	return msg + ": " + causeText
}

func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ErrorKind satisfies queue-style classifiers that switch on a string kind.
func (e *PipelineError) ErrorKind() string {
	if e == nil {
		return ""
	}
	return string(e.Kind)
}

// NewPipelineError classifies cause and wraps it with the attempt count.
func NewPipelineError(cause error, attempts int) *PipelineError {
	kind := Classify(cause)
	return &PipelineError{
		Kind:      kind,
		Message:   Message(cause),
		Retryable: kind.Retryable(),
		Attempts:  attempts,
		Cause:     cause,
	}
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrProcessing
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an arbitrary error onto the pipeline taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) && pipelineErr.Kind != "" {
		return pipelineErr.Kind
	}
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrProcessing):
		return KindProcessing
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindNetwork
	}
	return KindUnknown
}

// Message extracts a user-facing message from err without marker prefixes.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) && strings.TrimSpace(pipelineErr.Message) != "" {
		return strings.TrimSpace(pipelineErr.Message)
	}
	msg := strings.TrimSpace(err.Error())
	for _, marker := range []error{ErrNetwork, ErrValidation, ErrProcessing, ErrTimeout} {
		msg = strings.TrimPrefix(msg, marker.Error()+": ")
	}
	return msg
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
