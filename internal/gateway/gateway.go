// Package gateway defines the boundary to the remote processing API that
// scrapes product pages, stores product records, removes image backgrounds,
// generates and optimizes 3D models, and persists final results.
//
// Orchestration code depends only on the Gateway interface; HTTPClient is the
// production implementation and tests substitute in-memory fakes.
package gateway

import (
	"context"
	"time"
)

// Gateway is the set of remote operations the pipeline drives.
type Gateway interface {
	ScrapeProduct(ctx context.Context, url string) (ScrapeResult, error)
	BulkSaveProducts(ctx context.Context, products []SaveRequest) (SaveResponse, error)
	BulkRemoveBackgrounds(ctx context.Context, requests []BackgroundRequest) (BackgroundResponse, error)
	Generate3D(ctx context.Context, productID string, imageURLs []string, settings GenerationSettings) (GenerationTask, error)
	PollModelStatus(ctx context.Context, taskID string) (ModelStatus, error)
	OptimizeModel(ctx context.Context, productID string, imageURLs []string, settings OptimizeSettings) (OptimizeResult, error)
	SaveFinal(ctx context.Context, productID string, status string, metadata map[string]any) (SaveFinalResult, error)
}

// Product is the record returned by a scrape.
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	Brand       string  `json:"brand,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	Description string  `json:"description,omitempty"`
}

// ScrapeResult is the product plus its candidate image URLs.
type ScrapeResult struct {
	Product Product  `json:"product"`
	Images  []string `json:"images"`
}

// SaveRequest is one pre-scraped product to persist.
type SaveRequest struct {
	CorrelationKey string   `json:"correlation_key"`
	Name           string   `json:"name"`
	URL            string   `json:"url"`
	ImageURLs      []string `json:"image_urls"`
}

// SavedProduct maps a request back to its server-assigned id.
type SavedProduct struct {
	CorrelationKey string `json:"correlation_key,omitempty"`
	ID             string `json:"id"`
	Name           string `json:"name"`
}

// SaveResponse lists every product the server stored.
type SaveResponse struct {
	Items []SavedProduct `json:"items"`
}

// BackgroundRequest asks for background removal on a product's images.
type BackgroundRequest struct {
	ID        string   `json:"id"`
	ImageURLs []string `json:"image_urls"`
}

// BackgroundResult reports per-product background removal.
type BackgroundResult struct {
	ID            string   `json:"id"`
	SuccessCount  int      `json:"success_count"`
	TotalCount    int      `json:"total_count"`
	ProcessedURLs []string `json:"processed_urls"`
	Cost          float64  `json:"cost,omitempty"`
}

// BackgroundResponse lists results for each requested product.
type BackgroundResponse struct {
	Items []BackgroundResult `json:"items"`
}

// GenerationSettings configures a 3D generation task.
type GenerationSettings struct {
	AIModel         string `json:"ai_model"`
	Topology        string `json:"topology"`
	TargetPolycount int    `json:"target_polycount"`
}

// GenerationTask is the accepted generation submission.
type GenerationTask struct {
	TaskID              string    `json:"task_id"`
	EstimatedCompletion time.Time `json:"estimated_completion,omitzero"`
	Cost                float64   `json:"cost"`
}

// Model task states reported by PollModelStatus.
const (
	ModelProcessing = "processing"
	ModelCompleted  = "completed"
	ModelFailed     = "failed"
)

// ModelStatus is one poll of a generation task.
type ModelStatus struct {
	Status         string  `json:"status"`
	Progress       float64 `json:"progress,omitempty"`
	ModelURL       string  `json:"model_url,omitempty"`
	ThumbnailURL   string  `json:"thumbnail_url,omitempty"`
	ProcessingTime float64 `json:"processing_time,omitempty"`
	Cost           float64 `json:"cost,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// OptimizeSettings configures LOD generation.
type OptimizeSettings struct {
	LODs         []string `json:"lods"`
	TargetFormat string   `json:"target_format"`
	ModelURL     string   `json:"model_url,omitempty"`
}

// LOD is one optimized variant.
type LOD struct {
	Level         string `json:"level"`
	URL           string `json:"url"`
	FileSizeBytes int64  `json:"file_size_bytes,omitempty"`
	Triangles     int64  `json:"triangles,omitempty"`
}

// OptimizeResult is the optimized model and its LODs.
type OptimizeResult struct {
	ModelURL string  `json:"model_url"`
	LODs     []LOD   `json:"lods"`
	Cost     float64 `json:"cost,omitempty"`
}

// SaveFinalResult confirms the final product record.
type SaveFinalResult struct {
	ProductID string    `json:"product_id"`
	SavedAt   time.Time `json:"saved_at,omitzero"`
}
