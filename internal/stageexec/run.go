// Package stageexec runs one stage for one item: it opens the stage result,
// drives the executor under the retry policy, and seals or defers the result
// while emitting lifecycle logs, metrics, and progress.
package stageexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"assetpipe/internal/gateway"
	"assetpipe/internal/logging"
	"assetpipe/internal/metrics"
	"assetpipe/internal/progress"
	"assetpipe/internal/queue"
	"assetpipe/internal/retry"
	"assetpipe/internal/services"
	"assetpipe/internal/stage"
)

// ErrSkipped is returned when the stage's work is already present on the item.
var ErrSkipped = errors.New("stage skipped")

// Options controls one stage execution.
type Options struct {
	Logger   *slog.Logger
	Registry *stage.Registry
	Gateway  gateway.Gateway
	Policy   retry.Policy
	Settings stage.Settings
	Input    stage.Input
	Metrics  *metrics.Collector
	Reporter progress.Reporter
	// Progress receives in-stage progress in [0, 100], including 0 at start
	// and 100 once the stage resolves either way.
	Progress func(stageProgress float64)
	Stage    queue.Stage
	Item     *queue.Item
	// Defer leaves a failed stage open for another attempt instead of sealing it.
	Defer bool
	Now   func() time.Time
}

// Run executes opts.Stage for opts.Item. Terminal failures are returned as
// *services.PipelineError; cancellation returns the context error and leaves
// the item untouched by any late result.
func Run(ctx context.Context, opts Options) error {
	if opts.Item == nil {
		return fmt.Errorf("item is required")
	}
	if opts.Registry == nil {
		return fmt.Errorf("stage registry is required")
	}
	def, ok := opts.Registry.Lookup(opts.Stage)
	if !ok || def.Execute == nil {
		return fmt.Errorf("stage executor unavailable: %s", opts.Stage)
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = progress.Nop{}
	}
	emit := func(p float64) {
		if opts.Progress != nil {
			opts.Progress(progress.ClampPercent(p))
		}
	}

	item := opts.Item
	stageCtx := services.WithItemID(ctx, item.CorrelationKey)
	stageCtx = services.WithStage(stageCtx, string(opts.Stage))
	logger := logging.WithContext(stageCtx, opts.Logger)

	if def.Skip(item) {
		logger.Info(
			"stage skipped",
			logging.String(logging.FieldEventType, "stage_skip"),
			logging.String("reason", "already completed"),
		)
		opts.Metrics.StageFinished(string(opts.Stage), metrics.OutcomeSkipped, "", 0)
		return ErrSkipped
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	started := now()
	if _, err := item.BeginStage(opts.Stage, started); err != nil {
		return err
	}
	emit(0)
	reporter.ItemUpdated(item.Snapshot())

	logger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("stage_label", def.Label),
		logging.String("product", strings.TrimSpace(item.Name)),
		logging.String("server_id", item.ServerID),
	)

	env := &stage.Env{
		Gateway:    opts.Gateway,
		Policy:     opts.Policy,
		Settings:   opts.Settings,
		Input:      opts.Input,
		OnProgress: emit,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Warn(
				"gateway call failed; retrying",
				logging.String(logging.FieldEventType, "stage_retry"),
				logging.Int("attempt", attempt),
				logging.Duration("delay", delay),
				logging.String("error_kind", string(services.Classify(err))),
				logging.Error(err),
			)
			opts.Metrics.StageRetried(string(opts.Stage))
		},
	}

	outcome, execErr := def.Execute(stageCtx, env, item)
	if err := ctx.Err(); err != nil {
		logger.Info("stage abandoned; discarding result", logging.String(logging.FieldEventType, "stage_cancel"))
		return err
	}

	item.AddCost(outcome.Cost)
	opts.Metrics.AddCost(outcome.Cost)
	finished := now()
	elapsed := finished.Sub(started)

	if execErr == nil {
		data, err := encodeData(outcome.Data)
		if err != nil {
			execErr = services.Wrap(services.ErrProcessing, string(opts.Stage), "encode result", "", err)
		} else {
			if outcome.Apply != nil {
				outcome.Apply(item)
			}
			if err := item.CompleteStage(opts.Stage, data, env.Attempts(), finished); err != nil {
				return err
			}
			logger.Info(
				"stage completed",
				logging.String(logging.FieldEventType, "stage_complete"),
				logging.Int("attempts", env.Attempts()),
				logging.Duration("elapsed", elapsed),
				logging.Float64("cost", outcome.Cost),
				logging.String("item_status", string(item.Status)),
			)
			opts.Metrics.StageFinished(string(opts.Stage), metrics.OutcomeCompleted, "", elapsed)
			emit(100)
			reporter.ItemUpdated(item.Snapshot())
			return nil
		}
	}

	pipeErr := asPipelineError(execErr, env.Attempts())
	attempts := max(pipeErr.Attempts, env.Attempts())
	message := services.Message(pipeErr)
	if opts.Defer {
		if err := item.DeferFailure(opts.Stage, string(pipeErr.Kind), message, attempts); err != nil {
			return err
		}
		logging.WarnWithContext(logger, "stage failed; awaiting retry or dismiss", "stage_failure",
			logging.String("error_kind", string(pipeErr.Kind)),
			logging.Int("attempts", attempts),
			logging.String(logging.FieldErrorHint, "advance again to retry, or dismiss"),
			logging.Error(pipeErr),
		)
		opts.Metrics.StageFinished(string(opts.Stage), metrics.OutcomeDeferred, string(pipeErr.Kind), elapsed)
		reporter.ItemUpdated(item.Snapshot())
		return pipeErr
	}

	if err := item.FailStage(opts.Stage, string(pipeErr.Kind), message, attempts, finished); err != nil {
		return err
	}
	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.String("error_kind", string(pipeErr.Kind)),
		logging.Int("attempts", attempts),
		logging.String("item_status", string(item.Status)),
		logging.String(logging.FieldErrorHint, hintFor(pipeErr.Kind)),
		logging.Error(pipeErr),
	)
	opts.Metrics.StageFinished(string(opts.Stage), metrics.OutcomeFailed, string(pipeErr.Kind), elapsed)
	emit(100)
	reporter.ItemUpdated(item.Snapshot())
	return pipeErr
}

func asPipelineError(err error, attempts int) *services.PipelineError {
	var pipeErr *services.PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr
	}
	return services.NewPipelineError(err, attempts)
}

func encodeData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(data)
}

func hintFor(kind services.Kind) string {
	switch kind {
	case services.KindValidation:
		return "fix the product input and resume the batch"
	case services.KindTimeout:
		return "generation backend is slow; raise polling.max_attempts or resume later"
	case services.KindNetwork:
		return "check gateway connectivity"
	default:
		return "inspect gateway logs for this product"
	}
}
