package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"assetpipe/internal/config"
)

const userAgent = "assetpipe/0.1.0"

// BatchSummary is the tally reported when a batch finishes.
type BatchSummary struct {
	BatchID   string
	Completed int
	Failed    int
	Cost      float64
	Duration  time.Duration
}

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyBatchStarted(ctx context.Context, batchID string, count int) error
	NotifyItemFailed(ctx context.Context, itemName, stage string, err error) error
	NotifyBatchCompleted(ctx context.Context, summary BatchSummary) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		batchEvents: cfg.Notifications.Batch,
		errorEvents: cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	batchEvents bool
	errorEvents bool
}

func (n *ntfyService) NotifyBatchStarted(ctx context.Context, batchID string, count int) error {
	if !n.batchEvents {
		return nil
	}
	data := payload{
		title:   "assetpipe - Batch Started",
		message: fmt.Sprintf("Started batch %s with %d products", shortID(batchID), count),
		tags:    []string{"assetpipe", "batch", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyItemFailed(ctx context.Context, itemName, stage string, err error) error {
	if !n.errorEvents {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ ")
	if itemName = strings.TrimSpace(itemName); itemName != "" {
		builder.WriteString(itemName)
	} else {
		builder.WriteString("Item")
	}
	if stage = strings.TrimSpace(stage); stage != "" {
		builder.WriteString(" failed at ")
		builder.WriteString(stage)
	} else {
		builder.WriteString(" failed")
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "assetpipe - Item Failed",
		message:  builder.String(),
		tags:     []string{"assetpipe", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, summary BatchSummary) error {
	if !n.batchEvents {
		return nil
	}
	duration := summary.Duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	title := "assetpipe - Batch Complete"
	message := fmt.Sprintf("Batch %s complete: %d products in %s, cost $%.2f",
		shortID(summary.BatchID), summary.Completed, duration, summary.Cost)
	if summary.Failed > 0 {
		title = "assetpipe - Batch Complete (with errors)"
		message = fmt.Sprintf("Batch %s complete: %d succeeded, %d failed in %s, cost $%.2f",
			shortID(summary.BatchID), summary.Completed, summary.Failed, duration, summary.Cost)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"assetpipe", "batch", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "assetpipe - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"assetpipe", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type noopService struct{}

func (noopService) NotifyBatchStarted(context.Context, string, int) error         { return nil }
func (noopService) NotifyItemFailed(context.Context, string, string, error) error { return nil }
func (noopService) NotifyBatchCompleted(context.Context, BatchSummary) error      { return nil }
func (noopService) TestNotification(context.Context) error                        { return nil }
