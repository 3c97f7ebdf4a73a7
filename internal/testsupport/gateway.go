package testsupport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"assetpipe/internal/gateway"
)

// FakeGateway is an in-memory gateway.Gateway. Every method succeeds with
// deterministic data unless the matching hook is set; calls are counted and
// requests recorded for assertions.
type FakeGateway struct {
	ScrapeFunc     func(ctx context.Context, url string) (gateway.ScrapeResult, error)
	BulkSaveFunc   func(ctx context.Context, products []gateway.SaveRequest) (gateway.SaveResponse, error)
	BackgroundFunc func(ctx context.Context, requests []gateway.BackgroundRequest) (gateway.BackgroundResponse, error)
	GenerateFunc   func(ctx context.Context, productID string, images []string, settings gateway.GenerationSettings) (gateway.GenerationTask, error)
	PollFunc       func(ctx context.Context, taskID string) (gateway.ModelStatus, error)
	OptimizeFunc   func(ctx context.Context, productID string, images []string, settings gateway.OptimizeSettings) (gateway.OptimizeResult, error)
	SaveFinalFunc  func(ctx context.Context, productID, status string, metadata map[string]any) (gateway.SaveFinalResult, error)

	mu                 sync.Mutex
	calls              map[string]int
	saveRequests       [][]gateway.SaveRequest
	backgroundRequests [][]gateway.BackgroundRequest
	generateIDs        []string
}

// Method names used by Calls.
const (
	CallScrape     = "ScrapeProduct"
	CallBulkSave   = "BulkSaveProducts"
	CallBackground = "BulkRemoveBackgrounds"
	CallGenerate   = "Generate3D"
	CallPoll       = "PollModelStatus"
	CallOptimize   = "OptimizeModel"
	CallSaveFinal  = "SaveFinal"
)

func (f *FakeGateway) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

// Calls returns how many times method was invoked.
func (f *FakeGateway) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// SaveRequests returns every BulkSaveProducts payload.
func (f *FakeGateway) SaveRequests() [][]gateway.SaveRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]gateway.SaveRequest(nil), f.saveRequests...)
}

// BackgroundRequests returns every BulkRemoveBackgrounds payload.
func (f *FakeGateway) BackgroundRequests() [][]gateway.BackgroundRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]gateway.BackgroundRequest(nil), f.backgroundRequests...)
}

// GenerateProductIDs returns the product id of every Generate3D call.
func (f *FakeGateway) GenerateProductIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.generateIDs...)
}

func (f *FakeGateway) ScrapeProduct(ctx context.Context, url string) (gateway.ScrapeResult, error) {
	f.record(CallScrape)
	if f.ScrapeFunc != nil {
		return f.ScrapeFunc(ctx, url)
	}
	return gateway.ScrapeResult{
		Product: gateway.Product{ID: "srv-scraped", Name: "Scraped Product", URL: url},
		Images:  []string{url + "/img0.jpg", url + "/img1.jpg", url + "/img2.jpg"},
	}, nil
}

func (f *FakeGateway) BulkSaveProducts(ctx context.Context, products []gateway.SaveRequest) (gateway.SaveResponse, error) {
	f.record(CallBulkSave)
	f.mu.Lock()
	f.saveRequests = append(f.saveRequests, append([]gateway.SaveRequest(nil), products...))
	f.mu.Unlock()
	if f.BulkSaveFunc != nil {
		return f.BulkSaveFunc(ctx, products)
	}
	resp := gateway.SaveResponse{}
	for i, p := range products {
		resp.Items = append(resp.Items, gateway.SavedProduct{
			CorrelationKey: p.CorrelationKey,
			ID:             fmt.Sprintf("srv-%d", i+1),
			Name:           p.Name,
		})
	}
	return resp, nil
}

func (f *FakeGateway) BulkRemoveBackgrounds(ctx context.Context, requests []gateway.BackgroundRequest) (gateway.BackgroundResponse, error) {
	f.record(CallBackground)
	f.mu.Lock()
	f.backgroundRequests = append(f.backgroundRequests, append([]gateway.BackgroundRequest(nil), requests...))
	f.mu.Unlock()
	if f.BackgroundFunc != nil {
		return f.BackgroundFunc(ctx, requests)
	}
	resp := gateway.BackgroundResponse{}
	for _, req := range requests {
		processed := make([]string, 0, len(req.ImageURLs))
		for _, u := range req.ImageURLs {
			processed = append(processed, u+"?nobg")
		}
		resp.Items = append(resp.Items, gateway.BackgroundResult{
			ID:            req.ID,
			SuccessCount:  len(req.ImageURLs),
			TotalCount:    len(req.ImageURLs),
			ProcessedURLs: processed,
		})
	}
	return resp, nil
}

func (f *FakeGateway) Generate3D(ctx context.Context, productID string, images []string, settings gateway.GenerationSettings) (gateway.GenerationTask, error) {
	f.record(CallGenerate)
	f.mu.Lock()
	f.generateIDs = append(f.generateIDs, productID)
	f.mu.Unlock()
	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, productID, images, settings)
	}
	return gateway.GenerationTask{
		TaskID:              "task-" + productID,
		EstimatedCompletion: time.Now().Add(time.Minute),
		Cost:                0.5,
	}, nil
}

func (f *FakeGateway) PollModelStatus(ctx context.Context, taskID string) (gateway.ModelStatus, error) {
	f.record(CallPoll)
	if f.PollFunc != nil {
		return f.PollFunc(ctx, taskID)
	}
	return gateway.ModelStatus{
		Status:       gateway.ModelCompleted,
		ModelURL:     "https://models.example/" + taskID + ".glb",
		ThumbnailURL: "https://models.example/" + taskID + ".png",
		Cost:         0.5,
	}, nil
}

func (f *FakeGateway) OptimizeModel(ctx context.Context, productID string, images []string, settings gateway.OptimizeSettings) (gateway.OptimizeResult, error) {
	f.record(CallOptimize)
	if f.OptimizeFunc != nil {
		return f.OptimizeFunc(ctx, productID, images, settings)
	}
	result := gateway.OptimizeResult{ModelURL: settings.ModelURL}
	for _, level := range settings.LODs {
		result.LODs = append(result.LODs, gateway.LOD{
			Level: level,
			URL:   fmt.Sprintf("https://models.example/%s-%s.%s", productID, level, settings.TargetFormat),
		})
	}
	return result, nil
}

func (f *FakeGateway) SaveFinal(ctx context.Context, productID, status string, metadata map[string]any) (gateway.SaveFinalResult, error) {
	f.record(CallSaveFinal)
	if f.SaveFinalFunc != nil {
		return f.SaveFinalFunc(ctx, productID, status, metadata)
	}
	return gateway.SaveFinalResult{ProductID: productID, SavedAt: time.Now().UTC()}, nil
}

var _ gateway.Gateway = (*FakeGateway)(nil)
