package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"assetpipe/internal/config"
	"assetpipe/internal/gateway"
	"assetpipe/internal/logging"
	"assetpipe/internal/metrics"
	"assetpipe/internal/notifications"
	"assetpipe/internal/progress"
	"assetpipe/internal/queue"
	"assetpipe/internal/retry"
	"assetpipe/internal/services"
	"assetpipe/internal/stage"
)

// Coordinator runs batches through the bulk save, bulk background removal,
// and per-item model phases.
type Coordinator struct {
	gateway  gateway.Gateway
	registry *stage.Registry
	policy   retry.Policy
	settings stage.Settings
	weights  Weights
	logger   *slog.Logger
	metrics  *metrics.Collector
	notifier notifications.Service
	now      func() time.Time
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records stage and batch metrics on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithNotifier sends batch lifecycle notifications through svc.
func WithNotifier(svc notifications.Service) Option {
	return func(c *Coordinator) {
		if svc != nil {
			c.notifier = svc
		}
	}
}

// WithRegistry replaces the stage registry.
func WithRegistry(r *stage.Registry) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithPolicy replaces the retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

// WithSettings replaces the stage settings.
func WithSettings(s stage.Settings) Option {
	return func(c *Coordinator) { c.settings = s }
}

// WithWeights replaces the phase progress weights.
func WithWeights(w Weights) Option {
	return func(c *Coordinator) { c.weights = w }
}

// WithClock sets the time source used for stage timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator builds a coordinator configured from cfg. cfg may be nil in
// which case package defaults apply.
func NewCoordinator(gw gateway.Gateway, cfg *config.Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		gateway:  gw,
		registry: stage.NewRegistry(),
		policy:   retry.FromConfig(cfg),
		weights:  DefaultWeights(),
		logger:   logging.NewNop(),
		notifier: notifications.NewService(nil),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if cfg != nil {
		c.settings = stage.SettingsFromConfig(cfg)
		c.weights = WeightsFromConfig(cfg)
		c.notifier = notifications.NewService(cfg)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.String(logging.FieldComponent, "batch"))
	return c
}

// Run drives items through every phase and returns the batch summary. Items
// whose stages already completed are not re-executed, so Run also resumes a
// stored batch. A cancelled context stops the run at the next mutation point
// and returns the context error with the partial summary.
func (c *Coordinator) Run(ctx context.Context, batchID string, items []*queue.Item, reporter progress.Reporter) (Summary, error) {
	if c.gateway == nil {
		return Summary{}, errors.New("workflow: gateway is required")
	}
	if reporter == nil {
		reporter = progress.Nop{}
	}
	ctx = services.WithBatchID(ctx, batchID)
	run := newBatchRun(batchID, items, c.weights, c.now())
	b := &batchContext{
		Coordinator: c,
		run:         run,
		reporter:    reporter,
		logger:      logging.WithContext(ctx, c.logger),
	}

	b.logger.Info(
		"batch started",
		logging.String(logging.FieldEventType, "batch_start"),
		logging.Int("items", len(items)),
	)
	b.notify(ctx, "batch started", func(ctx context.Context) error {
		return c.notifier.NotifyBatchStarted(ctx, batchID, len(items))
	})
	b.emit(-1, "", 0)

	phases := []struct {
		phase Phase
		run   func(context.Context) error
	}{
		{PhaseSave, b.bulkSave},
		{PhaseBackground, b.bulkBackground},
		{PhaseModels, b.perItem},
	}
	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			return b.abort(err)
		}
		run.Phase = p.phase
		started := time.Now()
		b.logger.Info("phase started",
			logging.String(logging.FieldEventType, "phase_start"),
			logging.String("phase", string(p.phase)),
		)
		if err := p.run(ctx); err != nil {
			return b.abort(err)
		}
		b.logger.Info("phase completed",
			logging.String(logging.FieldEventType, "phase_complete"),
			logging.String("phase", string(p.phase)),
			logging.Duration("elapsed", time.Since(started)),
			logging.Float64("batch_progress", run.Progress),
		)
	}

	run.Phase = PhaseDone
	run.EndedAt = c.now()
	b.emit(-1, "", 100)
	summary := run.summary()
	b.logger.Info(
		"batch completed",
		logging.String(logging.FieldEventType, "batch_complete"),
		logging.Int("completed", summary.Completed),
		logging.Int("failed", summary.Failed),
		logging.Float64("cost", summary.Cost),
		logging.Duration("duration", summary.Duration),
	)
	b.notify(ctx, "batch completed", func(ctx context.Context) error {
		return c.notifier.NotifyBatchCompleted(ctx, notifications.BatchSummary{
			BatchID:   summary.BatchID,
			Completed: summary.Completed,
			Failed:    summary.Failed,
			Cost:      summary.Cost,
			Duration:  summary.Duration,
		})
	})
	return summary, nil
}

// batchContext carries one run's state through the phases.
type batchContext struct {
	*Coordinator
	run      *BatchRun
	reporter progress.Reporter
	logger   *slog.Logger
}

func (b *batchContext) abort(err error) (Summary, error) {
	b.run.EndedAt = b.now()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		b.logger.Info("batch cancelled",
			logging.String(logging.FieldEventType, "batch_cancel"),
			logging.String("phase", string(b.run.Phase)),
			logging.Float64("batch_progress", b.run.Progress),
		)
	} else {
		logging.ErrorWithContext(b.logger, "batch aborted", "batch_abort",
			logging.String("phase", string(b.run.Phase)),
			logging.Error(err),
		)
	}
	return b.run.summary(), err
}

// emit publishes a progress event for itemIndex (-1 for batch-level events).
func (b *batchContext) emit(itemIndex int, st queue.Stage, stageProgress float64) {
	pct := b.run.advance()
	b.metrics.SetBatchProgress(b.run.ID, pct)
	b.reporter.Progress(progress.Event{
		Stage:         st,
		ItemIndex:     itemIndex,
		StageProgress: progress.ClampPercent(stageProgress),
		BatchProgress: pct,
	})
}

// finished records metrics and notifications for an item that just became
// terminal.
func (b *batchContext) finished(ctx context.Context, item *queue.Item, st queue.Stage, err error) {
	if !item.Status.IsTerminal() {
		return
	}
	b.metrics.BatchItemFinished(string(item.Status))
	if item.Status != queue.StatusFailed {
		return
	}
	label := stage.Label(st)
	if def, ok := b.registry.Lookup(st); ok {
		label = def.Label
	}
	b.notify(ctx, "item failure", func(ctx context.Context) error {
		return b.notifier.NotifyItemFailed(ctx, item.Name, label, err)
	})
}

func (b *batchContext) notify(ctx context.Context, what string, send func(context.Context) error) {
	if err := send(ctx); err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Debug(fmt.Sprintf("%s notification failed", what), logging.Error(err))
	}
}

func (b *batchContext) retryPolicy(logger *slog.Logger, st queue.Stage) retry.Policy {
	p := b.policy
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn(
			"bulk gateway call failed; retrying",
			logging.String(logging.FieldEventType, "stage_retry"),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.String("error_kind", string(services.Classify(err))),
			logging.Error(err),
		)
		b.metrics.StageRetried(string(st))
	}
	return p
}
