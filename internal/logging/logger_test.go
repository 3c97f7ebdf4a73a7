package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"assetpipe/internal/config"
	"assetpipe/internal/logging"
	"assetpipe/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from config")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "assetpipe.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello from config") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsSourceForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "workflow").Info("phase done", logging.String("phase", "bulk save"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no source information in info logs, got %q", line)
	}
	if !strings.Contains(line, "workflow: phase done") {
		t.Fatalf("expected component prefix, got %q", line)
	}
	if !strings.Contains(line, `phase="bulk save"`) {
		t.Fatalf("expected quoted attribute, got %q", line)
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithItemID(context.Background(), "item-1")
	ctx = services.WithStage(ctx, "optimize")
	ctx = services.WithBatchID(ctx, "batch-9")
	logging.WithContext(ctx, logger).Info("stage started")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(content, &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	for key, want := range map[string]string{
		"msg":                "stage started",
		"level":              "info",
		logging.FieldItemID:  "item-1",
		logging.FieldStage:   "optimize",
		logging.FieldBatchID: "batch-9",
	} {
		if got, _ := record[key].(string); got != want {
			t.Fatalf("expected %s=%q, got %v", key, want, record[key])
		}
	}
	if _, ok := record["ts"]; !ok {
		t.Fatal("expected ts key")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "ambiguous match", "correlation_fallback")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), `"event_type":"correlation_fallback"`) {
		t.Fatalf("expected event_type, got %q", content)
	}
	if !strings.Contains(string(content), `"error_hint"`) {
		t.Fatalf("expected error_hint, got %q", content)
	}
}
