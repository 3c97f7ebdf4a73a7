package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"assetpipe/internal/config"
	"assetpipe/internal/logging"
	"assetpipe/internal/metrics"
	"assetpipe/internal/pipeline"
	"assetpipe/internal/progress"
	"assetpipe/internal/queue"
	"assetpipe/internal/services"
	"assetpipe/internal/stage"
)

// failureChoice is what to do with a surfaced stage failure.
type failureChoice string

const (
	choiceRetry   failureChoice = "retry"
	choiceDismiss failureChoice = "dismiss"
	choiceAsk     failureChoice = "ask"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var selectFlag string
	var onFailure string
	var maxRetries int

	cmd := &cobra.Command{
		Use:   "process <product-url>",
		Short: "Drive one product page through every stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			indexes, err := parseSelection(selectFlag)
			if err != nil {
				return err
			}
			choice := failureChoice(strings.ToLower(strings.TrimSpace(onFailure)))
			switch choice {
			case choiceRetry, choiceDismiss:
			case choiceAsk:
				if !isTerminal(cmd.InOrStdin()) {
					choice = choiceDismiss
				}
			default:
				return fmt.Errorf("--on-failure must be retry, dismiss, or ask")
			}

			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				logger, err := ctx.logger(cfg)
				if err != nil {
					return err
				}
				collector := metrics.New()
				stopMetrics, err := serveMetrics(ctx.metricsAddr(cfg), collector, logger)
				if err != nil {
					return err
				}
				defer stopMetrics()

				out := cmd.OutOrStdout()
				opts := pipeline.OptionsFromConfig(cfg, ctx.gateway(cfg))
				opts.Logger = logger
				opts.Metrics = collector
				opts.Reporter = progress.Funcs{OnItem: func(item *queue.Item) {
					if err := store.SaveItem(cmd.Context(), item); err != nil {
						logger.Warn("persist item snapshot failed", logging.Error(err))
					}
				}}
				p := pipeline.New(args[0], opts)
				fmt.Fprintf(out, "Item %s\n", p.Item().CorrelationKey)

				prompt := bufio.NewReader(cmd.InOrStdin())
				retries := 0
				for !p.Saved() {
					current := p.State()
					in := stage.Input{}
					if current == string(queue.StageSelectImages) {
						in.SelectedIndexes = indexes
						printCandidates(out, p.Item())
					}
					err := p.Advance(cmd.Context(), in)
					if err == nil {
						fmt.Fprintf(out, "  %-20s done\n", stage.Label(queue.Stage(current)))
						retries = 0
						continue
					}
					var pipeErr *services.PipelineError
					if !errors.As(err, &pipeErr) {
						return err
					}
					fmt.Fprintf(out, "  %-20s failed: %s\n", stage.Label(queue.Stage(current)), pipeErr.Error())

					next := choice
					if next == choiceAsk {
						next = askFailure(out, prompt)
					}
					if next == choiceRetry && pipeErr.Retryable && retries < maxRetries {
						retries++
						continue
					}
					if err := p.Dismiss(); err != nil {
						return err
					}
					return fmt.Errorf("%s failed: %w", current, pipeErr)
				}

				item := p.Item()
				renderItemDetail(out, item, shouldColorize(out))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&selectFlag, "select", "0", "Comma-separated candidate image indexes to use")
	cmd.Flags().StringVar(&onFailure, "on-failure", string(choiceAsk), "What to do when a stage fails: retry, dismiss, or ask")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 2, "Manual retries allowed per stage with --on-failure=retry")
	return cmd
}

func parseSelection(value string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx, err := strconv.Atoi(part)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid image index %q", part)
		}
		out = append(out, idx)
	}
	if len(out) == 0 {
		return nil, errors.New("--select needs at least one image index")
	}
	return out, nil
}

func printCandidates(out io.Writer, item *queue.Item) {
	for i, u := range item.CandidateImages {
		fmt.Fprintf(out, "    [%d] %s\n", i, u)
	}
}

func askFailure(out io.Writer, in *bufio.Reader) failureChoice {
	fmt.Fprint(out, "  retry or dismiss? [r/d] ")
	line, _ := in.ReadString('\n')
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "r") {
		return choiceRetry
	}
	return choiceDismiss
}
