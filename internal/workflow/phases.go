package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"assetpipe/internal/gateway"
	"assetpipe/internal/logging"
	"assetpipe/internal/metrics"
	"assetpipe/internal/queue"
	"assetpipe/internal/retry"
	"assetpipe/internal/services"
	"assetpipe/internal/stage"
	"assetpipe/internal/stageexec"
)

// bulkSave persists every item whose save stage is still open in one gateway
// call and records each item's server id.
func (b *batchContext) bulkSave(ctx context.Context) error {
	st := queue.StageSave
	logger := logging.WithContext(services.WithStage(ctx, string(st)), b.logger)
	pending := b.open(ctx, st)

	if len(pending) > 0 {
		started := b.now()
		requests := make([]gateway.SaveRequest, 0, len(pending))
		for _, item := range pending {
			if _, err := item.BeginStage(st, started); err != nil {
				return err
			}
			requests = append(requests, gateway.SaveRequest{
				CorrelationKey: item.CorrelationKey,
				Name:           item.Name,
				URL:            item.SourceURL,
				ImageURLs:      append([]string(nil), item.SelectedImages...),
			})
		}

		resp, attempts, callErr := retry.Value(ctx, b.retryPolicy(logger, st),
			func(ctx context.Context) (gateway.SaveResponse, error) {
				return b.gateway.BulkSaveProducts(ctx, requests)
			})
		if err := ctx.Err(); err != nil {
			return err
		}

		if callErr != nil {
			for _, item := range pending {
				b.settle(ctx, item, st, stage.Outcome{}, callErr, attempts, started)
			}
		} else {
			corr := correlate(pending, resp.Items)
			for _, name := range corr.ambiguous {
				logging.WarnWithContext(logger, "bulk save matched by ambiguous product name", "correlation_ambiguous",
					logging.String("product", name),
					logging.Alert("gateway_contract_change"),
					logging.String(logging.FieldErrorHint, "gateway should echo correlation_key in bulk save responses"),
				)
			}
			for _, rec := range corr.unmatched {
				logging.WarnWithContext(logger, "bulk save returned a product no item could claim", "correlation_unmatched",
					logging.String("server_id", rec.ID),
					logging.String("record_correlation_key", rec.CorrelationKey),
					logging.String("product", rec.Name),
					logging.Alert("gateway_contract_change"),
				)
			}
			for _, item := range pending {
				m, ok := corr.matches[item.CorrelationKey]
				if !ok {
					err := services.Wrap(services.ErrValidation, string(st), "correlate",
						"bulk save response did not include this product", nil)
					b.settle(ctx, item, st, stage.Outcome{}, err, attempts, started)
					continue
				}
				if m.by == matchByName {
					logger.Debug("bulk save record matched by name",
						logging.String(logging.FieldItemID, item.CorrelationKey),
						logging.String("server_id", m.saved.ID),
					)
				}
				saved := m.saved
				b.settle(ctx, item, st, stage.Outcome{
					Data:  saved,
					Apply: func(item *queue.Item) { item.ServerID = saved.ID },
				}, nil, attempts, started)
			}
		}
	}

	b.run.saveDone = true
	b.publishPhase(st)
	return nil
}

// bulkBackground removes backgrounds for every saved item in one gateway call,
// addressing products by their server ids.
func (b *batchContext) bulkBackground(ctx context.Context) error {
	st := queue.StageRemoveBackground
	logger := logging.WithContext(services.WithStage(ctx, string(st)), b.logger)
	started := b.now()

	var pending []*queue.Item
	for _, item := range b.open(ctx, st) {
		if strings.TrimSpace(item.ServerID) == "" || len(item.SelectedImages) == 0 {
			msg := "product has no images to process"
			if strings.TrimSpace(item.ServerID) == "" {
				msg = "product has no server id"
			}
			err := services.Wrap(services.ErrValidation, string(st), "prepare", msg, nil)
			b.settle(ctx, item, st, stage.Outcome{}, err, 1, started)
			continue
		}
		pending = append(pending, item)
	}

	if len(pending) > 0 {
		requests := make([]gateway.BackgroundRequest, 0, len(pending))
		for _, item := range pending {
			if _, err := item.BeginStage(st, started); err != nil {
				return err
			}
			requests = append(requests, gateway.BackgroundRequest{
				ID:        item.ServerID,
				ImageURLs: append([]string(nil), item.SelectedImages...),
			})
		}

		resp, attempts, callErr := retry.Value(ctx, b.retryPolicy(logger, st),
			func(ctx context.Context) (gateway.BackgroundResponse, error) {
				return b.gateway.BulkRemoveBackgrounds(ctx, requests)
			})
		if err := ctx.Err(); err != nil {
			return err
		}

		results := make(map[string]gateway.BackgroundResult, len(resp.Items))
		for _, res := range resp.Items {
			results[res.ID] = res
		}
		for _, item := range pending {
			if callErr != nil {
				b.settle(ctx, item, st, stage.Outcome{}, callErr, attempts, started)
				continue
			}
			res, ok := results[item.ServerID]
			if !ok {
				err := services.Wrap(services.ErrProcessing, string(st), "result",
					"bulk background response did not include this product", nil)
				b.settle(ctx, item, st, stage.Outcome{}, err, attempts, started)
				continue
			}
			outcome, err := stage.ApplyBackgroundResult(res)
			b.settle(ctx, item, st, outcome, err, attempts, started)
		}
	}

	b.run.backgroundDone = true
	b.publishPhase(st)
	return nil
}

// perItem walks each live item through its remaining stages, one item at a
// time. A failure ends that item only.
func (b *batchContext) perItem(ctx context.Context) error {
	for idx, item := range b.run.Items {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := b.remaining(item)
		for pos, st := range remaining {
			if item.Status.IsTerminal() {
				break
			}
			err := stageexec.Run(ctx, stageexec.Options{
				Logger:   b.logger,
				Registry: b.registry,
				Gateway:  b.gateway,
				Policy:   b.policy,
				Settings: b.settings,
				Metrics:  b.metrics,
				Reporter: b.reporter,
				Progress: func(p float64) {
					b.run.partial = (float64(pos) + p/100) / float64(len(remaining))
					b.emit(idx, st, p)
				},
				Stage: st,
				Item:  item,
				Now:   b.now,
			})
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			switch {
			case err == nil, errors.Is(err, stageexec.ErrSkipped):
			default:
				var pipeErr *services.PipelineError
				if !errors.As(err, &pipeErr) {
					return fmt.Errorf("run %s for %s: %w", st, item.CorrelationKey, err)
				}
				b.finished(ctx, item, st, pipeErr)
			}
		}
		if item.Status == queue.StatusCompleted && len(remaining) > 0 {
			b.finished(ctx, item, "", nil)
		}
		b.run.resolve(item)
		b.emit(idx, "", 100)
	}
	return nil
}

// remaining lists the plan stages still open for item, in plan order.
func (b *batchContext) remaining(item *queue.Item) []queue.Stage {
	if item.Status.IsTerminal() {
		return nil
	}
	var out []queue.Stage
	for _, st := range item.Plan {
		def, ok := b.registry.Lookup(st)
		if ok && def.Skip(item) {
			continue
		}
		out = append(out, st)
	}
	return out
}

// open returns the live items whose st result is not yet completed. Items that
// already carry st's work are logged as skipped.
func (b *batchContext) open(ctx context.Context, st queue.Stage) []*queue.Item {
	def, ok := b.registry.Lookup(st)
	var out []*queue.Item
	for _, item := range b.run.Items {
		if item.Status.IsTerminal() || !planned(item, st) {
			continue
		}
		if (ok && def.Skip(item)) || item.StageCompleted(st) {
			logging.WithContext(services.WithItemID(services.WithStage(ctx, string(st)), item.CorrelationKey), b.logger).Info(
				"stage skipped",
				logging.String(logging.FieldEventType, "stage_skip"),
				logging.String("reason", "already completed"),
			)
			b.metrics.StageFinished(string(st), metrics.OutcomeSkipped, "", 0)
			continue
		}
		out = append(out, item)
	}
	return out
}

// settle seals st for item with the outcome of a bulk call.
func (b *batchContext) settle(ctx context.Context, item *queue.Item, st queue.Stage, outcome stage.Outcome, err error, attempts int, started time.Time) {
	logger := logging.WithContext(services.WithItemID(services.WithStage(ctx, string(st)), item.CorrelationKey), b.logger)
	finished := b.now()
	elapsed := finished.Sub(started)
	item.AddCost(outcome.Cost)
	b.metrics.AddCost(outcome.Cost)

	if err == nil {
		data, encErr := json.Marshal(outcome.Data)
		if encErr != nil {
			err = services.Wrap(services.ErrProcessing, string(st), "encode result", "", encErr)
		} else {
			if outcome.Apply != nil {
				outcome.Apply(item)
			}
			if sealErr := item.CompleteStage(st, data, attempts, finished); sealErr != nil {
				logger.Warn("stage result already sealed", logging.Error(sealErr))
				return
			}
			logger.Info(
				"stage completed",
				logging.String(logging.FieldEventType, "stage_complete"),
				logging.Int("attempts", attempts),
				logging.String("server_id", item.ServerID),
				logging.Float64("cost", outcome.Cost),
			)
			b.metrics.StageFinished(string(st), metrics.OutcomeCompleted, "", elapsed)
			b.finished(ctx, item, st, nil)
			return
		}
	}

	pipeErr := services.NewPipelineError(err, attempts)
	var existing *services.PipelineError
	if errors.As(err, &existing) {
		pipeErr = existing
	}
	if sealErr := item.FailStage(st, string(pipeErr.Kind), services.Message(pipeErr), max(pipeErr.Attempts, attempts), finished); sealErr != nil {
		logger.Warn("stage result already sealed", logging.Error(sealErr))
		return
	}
	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.String("error_kind", string(pipeErr.Kind)),
		logging.Int("attempts", max(pipeErr.Attempts, attempts)),
		logging.String("product", item.Name),
		logging.Error(pipeErr),
	)
	b.metrics.StageFinished(string(st), metrics.OutcomeFailed, string(pipeErr.Kind), elapsed)
	b.finished(ctx, item, st, pipeErr)
}

// publishPhase hands every item's snapshot to the reporter and advances batch
// progress once a bulk phase is over.
func (b *batchContext) publishPhase(st queue.Stage) {
	for idx, item := range b.run.Items {
		b.reporter.ItemUpdated(item.Snapshot())
		b.emit(idx, st, 100)
	}
}

func planned(item *queue.Item, st queue.Stage) bool {
	for _, s := range item.Plan {
		if s == st {
			return true
		}
	}
	return false
}
