package stage

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"assetpipe/internal/gateway"
	"assetpipe/internal/queue"
	"assetpipe/internal/services"
)

func scrape(ctx context.Context, env *Env, item *queue.Item) (Outcome, error) {
	target := strings.TrimSpace(item.SourceURL)
	if err := ValidateProductURL(target); err != nil {
		return Outcome{}, err
	}

	result, err := Call(ctx, env, func(ctx context.Context) (gateway.ScrapeResult, error) {
		return env.Gateway.ScrapeProduct(ctx, target)
	})
	if err != nil {
		return Outcome{}, err
	}
	if len(result.Images) == 0 {
		return Outcome{}, services.Wrap(services.ErrValidation, string(queue.StageScrape), "images",
			"product page has no images", nil)
	}

	return Outcome{
		Data: result,
		Apply: func(item *queue.Item) {
			if id := strings.TrimSpace(result.Product.ID); id != "" {
				item.ServerID = id
			}
			if name := strings.TrimSpace(result.Product.Name); name != "" {
				item.Name = name
			}
			item.CandidateImages = append([]string(nil), result.Images...)
		},
	}, nil
}

// ValidateProductURL accepts absolute http(s) URLs with a host.
func ValidateProductURL(raw string) error {
	if raw == "" {
		return services.Wrap(services.ErrValidation, string(queue.StageScrape), "url", "product url is required", nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return services.Wrap(services.ErrValidation, string(queue.StageScrape), "url",
			fmt.Sprintf("unsupported product url %q", raw), err)
	}
	return nil
}

func selectImages(_ context.Context, env *Env, item *queue.Item) (Outcome, error) {
	selected, err := resolveSelection(item.CandidateImages, env.Input)
	if err != nil {
		return Outcome{}, err
	}
	if limit := env.Settings.MaxImages; limit > 0 && len(selected) > limit {
		return Outcome{}, services.Wrap(services.ErrValidation, string(queue.StageSelectImages), "select",
			fmt.Sprintf("selected %d images, at most %d allowed", len(selected), limit), nil)
	}
	return Outcome{
		Data:  map[string]any{"selected": selected},
		Apply: func(item *queue.Item) { item.SelectedImages = selected },
	}, nil
}

func resolveSelection(candidates []string, in Input) ([]string, error) {
	var selected []string
	for _, idx := range in.SelectedIndexes {
		if idx < 0 || idx >= len(candidates) {
			return nil, services.Wrap(services.ErrValidation, string(queue.StageSelectImages), "select",
				fmt.Sprintf("image index %d out of range (%d candidates)", idx, len(candidates)), nil)
		}
		selected = appendUnique(selected, candidates[idx])
	}
	for _, u := range in.SelectedImages {
		u = strings.TrimSpace(u)
		if !slices.Contains(candidates, u) {
			return nil, services.Wrap(services.ErrValidation, string(queue.StageSelectImages), "select",
				fmt.Sprintf("image %q is not a candidate", u), nil)
		}
		selected = appendUnique(selected, u)
	}
	if len(selected) == 0 {
		return nil, services.Wrap(services.ErrValidation, string(queue.StageSelectImages), "select",
			"select at least one image", nil)
	}
	return selected, nil
}

func appendUnique(values []string, v string) []string {
	if slices.Contains(values, v) {
		return values
	}
	return append(values, v)
}

func removeBackground(ctx context.Context, env *Env, item *queue.Item) (Outcome, error) {
	images := item.SelectedImages
	if len(images) == 0 {
		return Outcome{}, services.Wrap(services.ErrValidation, string(queue.StageRemoveBackground), "request",
			"no images selected", nil)
	}
	req := gateway.BackgroundRequest{ID: item.Identity(), ImageURLs: append([]string(nil), images...)}

	resp, err := Call(ctx, env, func(ctx context.Context) (gateway.BackgroundResponse, error) {
		return env.Gateway.BulkRemoveBackgrounds(ctx, []gateway.BackgroundRequest{req})
	})
	if err != nil {
		return Outcome{}, err
	}
	for _, res := range resp.Items {
		if res.ID == req.ID {
			return ApplyBackgroundResult(res)
		}
	}
	return Outcome{}, services.Wrap(services.ErrProcessing, string(queue.StageRemoveBackground), "response",
		fmt.Sprintf("product %s missing from background removal response", req.ID), nil)
}

// ApplyBackgroundResult interprets one product's background removal result.
// A product where every image failed is a processing failure.
func ApplyBackgroundResult(res gateway.BackgroundResult) (Outcome, error) {
	out := Outcome{Data: res, Cost: res.Cost}
	if res.TotalCount > 0 && res.SuccessCount == 0 {
		return out, services.Wrap(services.ErrProcessing, string(queue.StageRemoveBackground), "result",
			fmt.Sprintf("background removal failed for all %d images", res.TotalCount), nil)
	}
	processed := append([]string(nil), res.ProcessedURLs...)
	out.Apply = func(item *queue.Item) {
		if len(processed) > 0 {
			item.ProcessedImages = processed
		}
	}
	return out, nil
}

// generationImages prefers background-free images and caps them at max.
func generationImages(item *queue.Item, limit int) []string {
	images := item.ProcessedImages
	if len(images) == 0 {
		images = item.SelectedImages
	}
	if limit > 0 && len(images) > limit {
		images = images[:limit]
	}
	return append([]string(nil), images...)
}

func generate3D(ctx context.Context, env *Env, item *queue.Item) (Outcome, error) {
	productID := item.Identity()
	images := generationImages(item, env.Settings.MaxImages)
	if len(images) == 0 {
		return Outcome{}, services.Wrap(services.ErrValidation, string(queue.StageGenerate3D), "request",
			"no images available for generation", nil)
	}

	task, err := Call(ctx, env, func(ctx context.Context) (gateway.GenerationTask, error) {
		return env.Gateway.Generate3D(ctx, productID, images, env.Settings.Generation)
	})
	if err != nil {
		return Outcome{}, err
	}
	// Submission is billable from here on, whatever polling does.
	out := Outcome{Cost: task.Cost}
	if strings.TrimSpace(task.TaskID) == "" {
		return out, services.Wrap(services.ErrProcessing, string(queue.StageGenerate3D), "submit",
			"gateway returned no task id", nil)
	}
	env.progress(1)

	status, err := pollModel(ctx, env, task.TaskID)
	if err != nil {
		return out, err
	}
	if status.Cost > task.Cost {
		out.Cost = status.Cost
	}
	out.Data = map[string]any{"task": task, "status": status}
	out.Apply = func(item *queue.Item) {
		item.TaskID = task.TaskID
		item.ModelURL = status.ModelURL
		item.ThumbnailURL = status.ThumbnailURL
	}
	return out, nil
}

// pollModel watches a generation task on a ticker owned by this call. The
// ticker is stopped on every exit path.
func pollModel(ctx context.Context, env *Env, taskID string) (gateway.ModelStatus, error) {
	maxAttempts := env.Settings.PollAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var tick <-chan time.Time
	if env.Settings.PollInterval > 0 {
		ticker := time.NewTicker(env.Settings.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return gateway.ModelStatus{}, ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return gateway.ModelStatus{}, err
		}

		status, err := Call(ctx, env, func(ctx context.Context) (gateway.ModelStatus, error) {
			return env.Gateway.PollModelStatus(ctx, taskID)
		})
		if err != nil {
			return gateway.ModelStatus{}, err
		}

		switch status.Status {
		case gateway.ModelCompleted:
			if strings.TrimSpace(status.ModelURL) == "" {
				return status, services.Wrap(services.ErrProcessing, string(queue.StageGenerate3D), "poll",
					"task completed without a model url", nil)
			}
			return status, nil
		case gateway.ModelFailed:
			msg := strings.TrimSpace(status.Error)
			if msg == "" {
				msg = "generation task failed"
			}
			return status, services.Wrap(services.ErrProcessing, string(queue.StageGenerate3D), "poll", msg, nil)
		}

		percent := float64(attempt) / float64(maxAttempts) * 100
		if status.Progress > 0 {
			percent = status.Progress
		}
		env.progress(min(percent, 99))
	}

	return gateway.ModelStatus{}, services.Wrap(services.ErrTimeout, string(queue.StageGenerate3D), "poll",
		fmt.Sprintf("task %s still processing after %d polls", taskID, maxAttempts), nil)
}

func optimize(ctx context.Context, env *Env, item *queue.Item) (Outcome, error) {
	productID := item.Identity()
	images := generationImages(item, env.Settings.MaxImages)
	settings := env.Settings.Optimize
	settings.LODs = append([]string(nil), settings.LODs...)
	settings.ModelURL = item.ModelURL

	result, err := Call(ctx, env, func(ctx context.Context) (gateway.OptimizeResult, error) {
		return env.Gateway.OptimizeModel(ctx, productID, images, settings)
	})
	if err != nil {
		return Outcome{}, err
	}
	lods := make([]queue.LOD, 0, len(result.LODs))
	for _, lod := range result.LODs {
		lods = append(lods, queue.LOD{
			Level:         lod.Level,
			URL:           lod.URL,
			FileSizeBytes: lod.FileSizeBytes,
			Triangles:     lod.Triangles,
		})
	}
	return Outcome{
		Data: result,
		Cost: result.Cost,
		Apply: func(item *queue.Item) {
			if u := strings.TrimSpace(result.ModelURL); u != "" {
				item.ModelURL = u
			}
			item.LODs = lods
		},
	}, nil
}

func saveFinal(ctx context.Context, env *Env, item *queue.Item) (Outcome, error) {
	productID := item.Identity()
	metadata := map[string]any{
		"name":             item.Name,
		"source_url":       item.SourceURL,
		"selected_images":  item.SelectedImages,
		"processed_images": item.ProcessedImages,
		"model_url":        item.ModelURL,
		"thumbnail_url":    item.ThumbnailURL,
		"lods":             item.LODs,
		"cost":             item.Cost,
	}
	result, err := Call(ctx, env, func(ctx context.Context) (gateway.SaveFinalResult, error) {
		return env.Gateway.SaveFinal(ctx, productID, string(queue.StatusCompleted), metadata)
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Data: result,
		Apply: func(item *queue.Item) {
			if id := strings.TrimSpace(result.ProductID); id != "" && item.ServerID == "" {
				item.ServerID = id
			}
		},
	}, nil
}
