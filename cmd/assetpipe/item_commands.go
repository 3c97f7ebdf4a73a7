package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"assetpipe/internal/config"
	"assetpipe/internal/queue"
)

func newItemCommand(ctx *commandContext) *cobra.Command {
	itemCmd := &cobra.Command{
		Use:   "item",
		Short: "Inspect stored items",
	}
	itemCmd.AddCommand(newItemShowCommand(ctx))
	return itemCmd
}

func newItemShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <correlation-key>",
		Short: "Show an item and its stage results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.TrimSpace(args[0])
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				item, err := store.GetItem(cmd.Context(), key)
				if err != nil {
					return err
				}
				if item == nil {
					return fmt.Errorf("item %s not found", key)
				}
				if asJSON {
					return writeJSON(cmd, item)
				}
				out := cmd.OutOrStdout()
				renderItemDetail(out, item, shouldColorize(out))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
