package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"assetpipe/internal/config"
	"assetpipe/internal/queue"
	"assetpipe/internal/workflow"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Run and inspect product batches",
	}
	batchCmd.AddCommand(newBatchRunCommand(ctx))
	batchCmd.AddCommand(newBatchResumeCommand(ctx))
	batchCmd.AddCommand(newBatchListCommand(ctx))
	batchCmd.AddCommand(newBatchShowCommand(ctx))
	return batchCmd
}

func newBatchRunCommand(ctx *commandContext) *cobra.Command {
	var inputPath string
	var batchID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a JSON list of pre-scraped products",
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := readInputs(inputPath)
			if err != nil {
				return err
			}
			id := strings.TrimSpace(batchID)
			if id == "" {
				id = uuid.NewString()
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				existing, err := store.GetBatch(cmd.Context(), id)
				if err != nil {
					return err
				}
				if existing != nil {
					return fmt.Errorf("batch %s already exists; use `assetpipe batch resume %s`", id, id)
				}
				items := workflow.NewItems(id, inputs)
				return ctx.withWriterLock(cfg, func() error {
					return runBatch(cmd, ctx, cfg, store, id, items)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "JSON file with [{name, url, image_urls}] rows")
	cmd.Flags().StringVar(&batchID, "id", "", "Batch id (generated when empty)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newBatchResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <batch-id>",
		Short: "Continue a batch from its stored stage results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				items, err := store.ListItems(cmd.Context(), id)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					return fmt.Errorf("batch %s has no stored items", id)
				}
				return ctx.withWriterLock(cfg, func() error {
					return runBatch(cmd, ctx, cfg, store, id, items)
				})
			})
		},
	}
}

func newBatchListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				batches, err := store.ListBatches(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, batches)
				}
				out := cmd.OutOrStdout()
				if len(batches) == 0 {
					fmt.Fprintln(out, "No batches recorded")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(batches))
				for _, b := range batches {
					rows = append(rows, []string{
						b.ID,
						colorStatus(string(b.Status), colorize),
						fmt.Sprintf("%d", b.Total),
						fmt.Sprintf("%d", b.Completed),
						fmt.Sprintf("%d", b.Failed),
						formatCost(b.Cost),
						formatTime(b.StartedAt),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Batch", "Status", "Items", "Done", "Failed", "Cost", "Started"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of batches to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newBatchShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show every item of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				items, err := store.ListItems(cmd.Context(), id)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					return fmt.Errorf("batch %s not found", id)
				}
				if asJSON {
					return writeJSON(cmd, items)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{
						fmt.Sprintf("%d", item.Position+1),
						shortKey(item.CorrelationKey),
						item.Name,
						item.ServerID,
						colorStatus(string(item.Status), colorize),
						failedStage(item),
						formatCost(item.Cost),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"#", "Key", "Name", "Server ID", "Status", "Failed Stage", "Cost"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func failedStage(item *queue.Item) string {
	for _, st := range item.Plan {
		if item.StageFailed(st) {
			return string(st)
		}
	}
	return ""
}

func readInputs(path string) ([]workflow.Input, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("--input is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	var inputs []workflow.Input
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("parse input %s: %w", path, err)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("input %s lists no products", path)
	}
	for i, in := range inputs {
		if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.URL) == "" {
			return nil, fmt.Errorf("input row %d needs a name and url", i+1)
		}
	}
	return inputs, nil
}
