package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"assetpipe/internal/queue"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTerminal(v any) bool {
	file, ok := v.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func shouldColorize(writer io.Writer) bool {
	return isTerminal(writer)
}

func colorStatus(status string, colorize bool) string {
	if !colorize {
		return status
	}
	var color string
	switch status {
	case string(queue.StatusCompleted):
		color = ansiGreen
	case string(queue.StatusFailed), string(queue.BatchAborted):
		color = ansiRed
	case string(queue.StatusProcessing), string(queue.BatchRunning):
		color = ansiYellow
	default:
		color = ansiBlue
	}
	return color + status + ansiReset
}

func formatCost(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func shortKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) > 8 {
		return key[:8]
	}
	return key
}

// renderItemDetail prints one item with its per-stage results.
func renderItemDetail(out io.Writer, item *queue.Item, colorize bool) {
	fmt.Fprintf(out, "Item:       %s\n", item.CorrelationKey)
	fmt.Fprintf(out, "Name:       %s\n", item.Name)
	fmt.Fprintf(out, "Source:     %s\n", item.SourceURL)
	if item.ServerID != "" {
		fmt.Fprintf(out, "Server ID:  %s\n", item.ServerID)
	}
	if item.BatchID != "" {
		fmt.Fprintf(out, "Batch:      %s\n", item.BatchID)
	}
	fmt.Fprintf(out, "Status:     %s\n", colorStatus(string(item.Status), colorize))
	fmt.Fprintf(out, "Cost:       %s\n", formatCost(item.Cost))
	if item.ModelURL != "" {
		fmt.Fprintf(out, "Model:      %s\n", item.ModelURL)
	}
	for _, lod := range item.LODs {
		fmt.Fprintf(out, "  LOD %-6s %s\n", lod.Level, lod.URL)
	}

	rows := make([][]string, 0, len(item.Plan))
	for _, st := range item.Plan {
		res, ok := item.Result(st)
		if !ok {
			rows = append(rows, []string{string(st), colorStatus(string(queue.StatusPending), colorize), "", ""})
			continue
		}
		detail := res.Error
		if res.ErrorKind != "" {
			detail = fmt.Sprintf("[%s] %s", res.ErrorKind, res.Error)
		}
		attempts := ""
		if res.Attempts > 0 {
			attempts = fmt.Sprintf("%d", res.Attempts)
		}
		rows = append(rows, []string{string(st), colorStatus(string(res.Status), colorize), attempts, detail})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Stage", "Status", "Attempts", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	))
}
