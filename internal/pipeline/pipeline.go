// Package pipeline drives one product through the interactive stage sequence.
//
// A Pipeline is a state machine with one state per planned stage plus the
// terminal saved state. Advance runs the current stage; a surfaced failure
// leaves the stage open so the caller can Advance again (retry) or Dismiss it.
// Retreat only moves the pointer back and never replays a gateway call.
package pipeline

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
	"assetpipe/internal/progress"
	"assetpipe/internal/queue"
	"assetpipe/internal/retry"
	"assetpipe/internal/services"
	"assetpipe/internal/stage"
	"assetpipe/internal/stageexec"
)

// StateSaved is the terminal state reached once the save stage completed.
const StateSaved = "saved"

var (
	// ErrSaved is returned by Advance once the item is saved.
	ErrSaved = errors.New("item already saved")
	// ErrDismissed is returned by Advance after a failure was dismissed.
	ErrDismissed = errors.New("item failed; stage was dismissed")
	// ErrNothingToDismiss is returned by Dismiss when no failure is pending.
	ErrNothingToDismiss = errors.New("no pending failure to dismiss")
)

// Options wires a pipeline's collaborators.
type Options struct {
	Gateway  gateway.Gateway
	Registry *stage.Registry
	Policy   retry.Policy
	Settings stage.Settings
	Logger   *slog.Logger
	Metrics  *metrics.Collector
	Reporter progress.Reporter
	Now      func() time.Time
}

// OptionsFromConfig fills policy and settings from cfg.
func OptionsFromConfig(cfg *config.Config, gw gateway.Gateway) Options {
	return Options{
		Gateway:  gw,
		Registry: stage.NewRegistry(),
		Policy:   retry.FromConfig(cfg),
		Settings: stage.SettingsFromConfig(cfg),
	}
}

// Pipeline owns one item for its interactive lifetime. It is not safe for
// concurrent use; observers get snapshots through the reporter.
type Pipeline struct {
	opts     Options
	item     *queue.Item
	cursor   int
	lastErr  *services.PipelineError
	progress float64
}

// New starts a pipeline for a product URL using the interactive plan.
func New(productURL string, opts Options) *Pipeline {
	return Resume(queue.NewItem("", productURL, queue.InteractivePlan), opts)
}

// Resume attaches a pipeline to an existing item. The initial state is the
// first stage the registry says still needs to run.
func Resume(item *queue.Item, opts Options) *Pipeline {
	if opts.Registry == nil {
		opts.Registry = stage.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.Nop{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if len(item.Plan) == 0 {
		item.Plan = append([]queue.Stage(nil), queue.InteractivePlan...)
	}
	p := &Pipeline{
		opts: opts,
		item: item,
	}
	p.cursor = p.firstOpenFrom(0)
	p.lastErr = p.pendingFailure()
	p.progress = p.completedFraction() * 100
	return p
}

// State returns the current stage name or StateSaved.
func (p *Pipeline) State() string {
	if p.cursor >= len(p.item.Plan) {
		return StateSaved
	}
	return string(p.item.Plan[p.cursor])
}

// Stage returns the current stage, false once saved.
func (p *Pipeline) Stage() (queue.Stage, bool) {
	if p.cursor >= len(p.item.Plan) {
		return "", false
	}
	return p.item.Plan[p.cursor], true
}

// Saved reports whether the terminal state was reached.
func (p *Pipeline) Saved() bool {
	return p.cursor >= len(p.item.Plan) && p.item.StageCompleted(queue.StageSave)
}

// Item returns a snapshot of the item.
func (p *Pipeline) Item() *queue.Item {
	return p.item.Snapshot()
}

// LastError returns the failure awaiting retry or dismissal, if any.
func (p *Pipeline) LastError() *services.PipelineError {
	return p.lastErr
}

// Advance executes the current stage and moves to the next stage that still
// needs work. A stage that is already completed is stepped over without any
// gateway call.
func (p *Pipeline) Advance(ctx context.Context, in stage.Input) error {
	current, ok := p.Stage()
	if !ok {
		return ErrSaved
	}
	if p.item.Status == queue.StatusFailed {
		return ErrDismissed
	}
	if p.item.StageCompleted(current) {
		p.moveForward()
		return nil
	}

	err := stageexec.Run(ctx, stageexec.Options{
		Logger:   p.opts.Logger,
		Registry: p.opts.Registry,
		Gateway:  p.opts.Gateway,
		Policy:   p.opts.Policy,
		Settings: p.opts.Settings,
		Input:    in,
		Metrics:  p.opts.Metrics,
		Reporter: p.opts.Reporter,
		Progress: func(stageProgress float64) { p.emit(current, stageProgress) },
		Stage:    current,
		Item:     p.item,
		Defer:    true,
		Now:      p.opts.Now,
	})
	switch {
	case err == nil, errors.Is(err, stageexec.ErrSkipped):
		p.lastErr = nil
		p.moveForward()
		return nil
	case ctx.Err() != nil:
		return err
	}

	var pipeErr *services.PipelineError
	if errors.As(err, &pipeErr) {
		p.lastErr = pipeErr
	}
	return err
}

// Retreat moves the state pointer to the previous stage without re-running
// anything. It returns false at the first stage.
func (p *Pipeline) Retreat() bool {
	if p.cursor == 0 {
		return false
	}
	p.cursor--
	p.lastErr = p.pendingFailure()
	return true
}

// Dismiss seals the pending failure on the current stage; the item fails.
func (p *Pipeline) Dismiss() error {
	current, ok := p.Stage()
	if !ok {
		return ErrNothingToDismiss
	}
	res, ok := p.item.Result(current)
	if !ok || res.Status != queue.StatusPending || res.Error == "" {
		return ErrNothingToDismiss
	}
	if err := p.item.FailStage(current, res.ErrorKind, res.Error, 0, p.opts.Now()); err != nil {
		return fmt.Errorf("dismiss %s: %w", current, err)
	}
	logging.WarnWithContext(p.opts.Logger, "stage failure dismissed", "stage_dismiss",
		logging.String(logging.FieldItemID, p.item.CorrelationKey),
		logging.String(logging.FieldStage, string(current)),
		logging.String("error_kind", res.ErrorKind),
		logging.String(logging.FieldErrorHint, "start a new pipeline for this product to try again"),
	)
	p.lastErr = nil
	p.opts.Reporter.ItemUpdated(p.item.Snapshot())
	return nil
}

func (p *Pipeline) moveForward() {
	p.cursor = p.firstOpenFrom(p.cursor + 1)
	p.lastErr = p.pendingFailure()
	if p.Saved() {
		p.opts.Logger.Info("product saved",
			logging.String(logging.FieldEventType, "item_saved"),
			logging.String(logging.FieldItemID, p.item.CorrelationKey),
			logging.String("server_id", p.item.ServerID),
			logging.Float64("cost", p.item.Cost),
		)
	}
}

// pendingFailure rebuilds the surfaced error of the current stage from its
// result, so a failure stays dismissable after the cursor moves away and back.
func (p *Pipeline) pendingFailure() *services.PipelineError {
	current, ok := p.Stage()
	if !ok {
		return nil
	}
	res, ok := p.item.Result(current)
	if !ok || res.Status != queue.StatusPending || res.Error == "" {
		return nil
	}
	kind := services.Kind(res.ErrorKind)
	if kind == "" {
		kind = services.KindUnknown
	}
	return &services.PipelineError{
		Kind:      kind,
		Message:   res.Error,
		Retryable: kind.Retryable(),
		Attempts:  res.Attempts,
	}
}

// firstOpenFrom returns the first plan index >= start whose stage is not
// completed, or len(plan).
func (p *Pipeline) firstOpenFrom(start int) int {
	for i := start; i < len(p.item.Plan); i++ {
		if !p.item.StageCompleted(p.item.Plan[i]) {
			return i
		}
	}
	return len(p.item.Plan)
}

func (p *Pipeline) completedFraction() float64 {
	if len(p.item.Plan) == 0 {
		return 1
	}
	done := 0
	for _, s := range p.item.Plan {
		if p.item.StageCompleted(s) {
			done++
		}
	}
	return float64(done) / float64(len(p.item.Plan))
}

// emit reports single-item progress as completed stages plus the current
// stage's share, never decreasing.
func (p *Pipeline) emit(current queue.Stage, stageProgress float64) {
	n := float64(len(p.item.Plan))
	overall := p.completedFraction() * 100
	if n > 0 && !p.item.StageCompleted(current) {
		overall += stageProgress / n
	}
	overall = progress.ClampPercent(overall)
	if overall < p.progress {
		overall = p.progress
	}
	p.progress = overall
	p.opts.Reporter.Progress(progress.Event{
		Stage:         current,
		ItemIndex:     0,
		StageProgress: stageProgress,
		BatchProgress: overall,
	})
}
