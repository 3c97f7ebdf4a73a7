package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"assetpipe/internal/config"
	"assetpipe/internal/services"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	userAgent          = "assetpipe/0.1.0"
	requestIDHeader    = "X-Request-ID"
)

// HTTPClient talks to the processing API over JSON.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *HTTPClient) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// NewHTTPClient constructs a client rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds a client from the [gateway] section.
func NewFromConfig(cfg *config.Config) *HTTPClient {
	timeout := cfg.GatewayTimeout()
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return NewHTTPClient(cfg.Gateway.BaseURL,
		WithAPIKey(cfg.Gateway.APIKey),
		WithHTTPClient(&http.Client{Timeout: timeout}),
	)
}

func (c *HTTPClient) ScrapeProduct(ctx context.Context, productURL string) (ScrapeResult, error) {
	var out ScrapeResult
	err := c.do(ctx, http.MethodPost, "/api/scrape", map[string]string{"url": productURL}, &out)
	return out, err
}

func (c *HTTPClient) BulkSaveProducts(ctx context.Context, products []SaveRequest) (SaveResponse, error) {
	var out SaveResponse
	err := c.do(ctx, http.MethodPost, "/api/products/bulk", map[string]any{"products": products}, &out)
	return out, err
}

func (c *HTTPClient) BulkRemoveBackgrounds(ctx context.Context, requests []BackgroundRequest) (BackgroundResponse, error) {
	var out BackgroundResponse
	err := c.do(ctx, http.MethodPost, "/api/remove-backgrounds/bulk", map[string]any{"products": requests}, &out)
	return out, err
}

func (c *HTTPClient) Generate3D(ctx context.Context, productID string, imageURLs []string, settings GenerationSettings) (GenerationTask, error) {
	body := struct {
		ProductID string   `json:"product_id"`
		ImageURLs []string `json:"image_urls"`
		GenerationSettings
	}{productID, imageURLs, settings}
	var out GenerationTask
	err := c.do(ctx, http.MethodPost, "/api/generate-3d", body, &out)
	return out, err
}

func (c *HTTPClient) PollModelStatus(ctx context.Context, taskID string) (ModelStatus, error) {
	var out ModelStatus
	err := c.do(ctx, http.MethodGet, "/api/model-status/"+url.PathEscape(taskID), nil, &out)
	return out, err
}

func (c *HTTPClient) OptimizeModel(ctx context.Context, productID string, imageURLs []string, settings OptimizeSettings) (OptimizeResult, error) {
	body := struct {
		ProductID string   `json:"product_id"`
		ImageURLs []string `json:"image_urls"`
		OptimizeSettings
	}{productID, imageURLs, settings}
	var out OptimizeResult
	err := c.do(ctx, http.MethodPost, "/api/optimize-model", body, &out)
	return out, err
}

func (c *HTTPClient) SaveFinal(ctx context.Context, productID string, status string, metadata map[string]any) (SaveFinalResult, error) {
	body := map[string]any{"status": status, "metadata": metadata}
	var out SaveFinalResult
	err := c.do(ctx, http.MethodPost, "/api/save-product/"+url.PathEscape(productID), body, &out)
	if err == nil && out.ProductID == "" {
		out.ProductID = productID
	}
	return out, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	operation := method + " " + path
	endpoint := c.baseURL + path

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return services.Wrap(services.ErrValidation, "gateway", operation, "encode request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return services.Wrap(services.ErrValidation, "gateway", operation, "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	requestID, ok := services.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	req.Header.Set(requestIDHeader, requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		marker := services.ErrNetwork
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			marker = services.ErrTimeout
		}
		return services.Wrap(marker, "gateway", operation, "request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return services.Wrap(services.ErrNetwork, "gateway", operation, "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(operation, resp.StatusCode, payload)
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return services.Wrap(services.ErrProcessing, "gateway", operation, "decode response", err)
	}
	return nil
}

// statusError maps an HTTP failure onto the error taxonomy.
func statusError(operation string, status int, body []byte) error {
	var marker error
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		marker = services.ErrValidation
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		marker = services.ErrTimeout
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
		marker = services.ErrNetwork
	default:
		marker = services.ErrProcessing
	}
	return services.Wrap(marker, "gateway", operation,
		fmt.Sprintf("status %d: %s", status, detailFromBody(body)), nil)
}

func detailFromBody(body []byte) string {
	var envelope struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch {
		case envelope.Message != "":
			return envelope.Message
		case envelope.Error != "":
			return envelope.Error
		case envelope.Detail != nil:
			if s, ok := envelope.Detail.(string); ok {
				return s
			}
			encoded, _ := json.Marshal(envelope.Detail)
			return string(encoded)
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return "no body"
	}
	return text
}
