package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"assetpipe/internal/config"
	"assetpipe/internal/logging"
	"assetpipe/internal/metrics"
	"assetpipe/internal/notifications"
	"assetpipe/internal/preflight"
	"assetpipe/internal/progress"
	"assetpipe/internal/queue"
	"assetpipe/internal/workflow"
)

// runBatch runs the coordinator while a second goroutine follows the progress
// hub, persisting snapshots and printing progress. Final item state is written
// once the coordinator returns.
func runBatch(cmd *cobra.Command, cctx *commandContext, cfg *config.Config, store *queue.Store, batchID string, items []*queue.Item) error {
	ctx := cmd.Context()
	logger, err := cctx.logger(cfg)
	if err != nil {
		return err
	}
	if failed := preflight.Failed(preflight.RunAll(ctx, cfg)); len(failed) > 0 {
		details := make([]string, 0, len(failed))
		for _, r := range failed {
			details = append(details, r.Name+": "+r.Detail)
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(details, "; "))
	}
	collector := metrics.New()
	stopMetrics, err := serveMetrics(cctx.metricsAddr(cfg), collector, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	started := time.Now().UTC()
	if prior, err := store.GetBatch(ctx, batchID); err == nil && prior != nil && !prior.StartedAt.IsZero() {
		started = prior.StartedAt
	}
	record := queue.BatchRecord{ID: batchID, Status: queue.BatchRunning, Total: len(items), StartedAt: started}
	if err := store.SaveBatch(ctx, record); err != nil {
		return err
	}
	for _, item := range items {
		if err := store.SaveItem(ctx, item); err != nil {
			return err
		}
	}

	coord := workflow.NewCoordinator(cctx.gateway(cfg), cfg,
		workflow.WithLogger(logger),
		workflow.WithMetrics(collector),
		workflow.WithNotifier(notifications.NewService(cfg)),
	)
	hub := progress.NewHub()
	out := cmd.OutOrStdout()

	var summary workflow.Summary
	var runErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return followProgress(context.WithoutCancel(gctx), hub, store, out, logger)
	})
	g.Go(func() error {
		defer hub.Close()
		summary, runErr = coord.Run(gctx, batchID, items, hub)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	persistCtx := context.WithoutCancel(ctx)
	for _, item := range items {
		if err := store.SaveItem(persistCtx, item); err != nil {
			return err
		}
	}
	record.Completed = summary.Completed
	record.Failed = summary.Failed
	record.Cost = summary.Cost
	record.CompletedAt = time.Now().UTC()
	record.Status = queue.BatchCompleted
	if runErr != nil {
		record.Status = queue.BatchAborted
	}
	if err := store.SaveBatch(persistCtx, record); err != nil {
		return err
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Fprintf(out, "Batch %s interrupted at %.0f%%; resume with `assetpipe batch resume %s`\n", batchID, summary.Progress, batchID)
		}
		return runErr
	}
	fmt.Fprintf(out, "Batch %s: %d completed, %d failed, cost %s in %s\n",
		batchID, summary.Completed, summary.Failed, formatCost(summary.Cost), formatDuration(summary.Duration))
	return nil
}

// followProgress drains hub until it closes.
func followProgress(ctx context.Context, hub *progress.Hub, store *queue.Store, out io.Writer, logger *slog.Logger) error {
	colorize := shouldColorize(out)
	last := -1
	reported := make(map[string]bool)
	for u := range hub.Subscribe(ctx) {
		if u.Item != nil {
			if err := store.SaveItem(ctx, u.Item); err != nil {
				logger.Warn("persist item snapshot failed",
					logging.String(logging.FieldItemID, u.Item.CorrelationKey),
					logging.Error(err),
				)
			}
			if u.Item.Status.IsTerminal() && !reported[u.Item.CorrelationKey] {
				reported[u.Item.CorrelationKey] = true
				fmt.Fprintf(out, "  %-40s %s\n", truncate(u.Item.Name, 40), colorStatus(string(u.Item.Status), colorize))
			}
		}
		if u.Event != nil {
			pct := int(u.Event.BatchProgress)
			if pct/10 > last/10 || (pct == 100 && last != 100) {
				fmt.Fprintf(out, "Progress %3d%%\n", pct)
				last = pct
			}
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
