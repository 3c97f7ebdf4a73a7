package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"assetpipe/internal/config"
	"assetpipe/internal/gateway"
	"assetpipe/internal/queue"
)

// stubAPI answers every gateway endpoint with canned successes. Products
// whose name contains "broken" fail 3D generation.
type stubAPI struct {
	mu    sync.Mutex
	calls map[string]int
}

func (s *stubAPI) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *stubAPI) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(path string) {
		s.mu.Lock()
		s.calls[path]++
		s.mu.Unlock()
	}
	names := map[string]string{}
	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("POST /api/scrape", func(w http.ResponseWriter, r *http.Request) {
		record("scrape")
		var body struct{ URL string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		write(w, gateway.ScrapeResult{
			Product: gateway.Product{ID: "srv-scraped", Name: "Walnut Chair", URL: body.URL},
			Images:  []string{body.URL + "/0.jpg", body.URL + "/1.jpg"},
		})
	})
	mux.HandleFunc("POST /api/products/bulk", func(w http.ResponseWriter, r *http.Request) {
		record("bulk-save")
		var body struct{ Products []gateway.SaveRequest }
		_ = json.NewDecoder(r.Body).Decode(&body)
		resp := gateway.SaveResponse{}
		s.mu.Lock()
		for i, p := range body.Products {
			id := fmt.Sprintf("srv-%d", i+1)
			names[id] = p.Name
			resp.Items = append(resp.Items, gateway.SavedProduct{CorrelationKey: p.CorrelationKey, ID: id, Name: p.Name})
		}
		s.mu.Unlock()
		write(w, resp)
	})
	mux.HandleFunc("POST /api/remove-backgrounds/bulk", func(w http.ResponseWriter, r *http.Request) {
		record("bulk-background")
		var body struct{ Products []gateway.BackgroundRequest }
		_ = json.NewDecoder(r.Body).Decode(&body)
		resp := gateway.BackgroundResponse{}
		for _, p := range body.Products {
			resp.Items = append(resp.Items, gateway.BackgroundResult{
				ID: p.ID, SuccessCount: len(p.ImageURLs), TotalCount: len(p.ImageURLs), ProcessedURLs: p.ImageURLs,
			})
		}
		write(w, resp)
	})
	mux.HandleFunc("POST /api/generate-3d", func(w http.ResponseWriter, r *http.Request) {
		record("generate")
		var body struct {
			ProductID string `json:"product_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		name := names[body.ProductID]
		s.mu.Unlock()
		if strings.Contains(name, "broken") {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":"images unusable"}`))
			return
		}
		write(w, gateway.GenerationTask{TaskID: "task-" + body.ProductID, Cost: 0.25})
	})
	mux.HandleFunc("GET /api/model-status/{task}", func(w http.ResponseWriter, r *http.Request) {
		record("poll")
		task := r.PathValue("task")
		write(w, gateway.ModelStatus{Status: gateway.ModelCompleted, ModelURL: "https://models.example/" + task + ".glb", Cost: 0.5})
	})
	mux.HandleFunc("POST /api/optimize-model", func(w http.ResponseWriter, r *http.Request) {
		record("optimize")
		var body struct {
			ProductID string   `json:"product_id"`
			LODs      []string `json:"lods"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		resp := gateway.OptimizeResult{ModelURL: "https://models.example/" + body.ProductID + ".glb"}
		for _, level := range body.LODs {
			resp.LODs = append(resp.LODs, gateway.LOD{Level: level, URL: "https://models.example/" + body.ProductID + "-" + level + ".glb"})
		}
		write(w, resp)
	})
	mux.HandleFunc("POST /api/save-product/{id}", func(w http.ResponseWriter, r *http.Request) {
		record("save-final")
		write(w, gateway.SaveFinalResult{ProductID: r.PathValue("id")})
	})
	return mux
}

type cliEnv struct {
	api        *stubAPI
	configPath string
	stateDir   string
}

func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	api := &stubAPI{calls: map[string]int{}}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("ASSETPIPE_API_KEY", "")
	stateDir := filepath.Join(base, "state")
	configPath := filepath.Join(base, "config.toml")
	cfg := fmt.Sprintf(`[paths]
state_dir = %q
log_dir = %q

[gateway]
base_url = %q
api_key = "test-key"

[retry]
max_retries = 2
base_delay_ms = 0

[polling]
interval_seconds = 1
max_attempts = 3

[logging]
format = "json"
level = "error"
`, stateDir, filepath.Join(base, "logs"), srv.URL)
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliEnv{api: api, configPath: configPath, stateDir: stateDir}
}

func runCLI(t *testing.T, env *cliEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--config", env.configPath, "--env-file", ""}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func writeInputs(t *testing.T, rows []map[string]any) string {
	t.Helper()
	data, err := json.Marshal(rows)
	if err != nil {
		t.Fatalf("marshal inputs: %v", err)
	}
	path := filepath.Join(t.TempDir(), "items.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write inputs: %v", err)
	}
	return path
}

func openStore(t *testing.T, env *cliEnv) *queue.Store {
	t.Helper()
	cfg, _, _, err := config.Load(env.configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBatchRunPersistsItemsAndSummary(t *testing.T) {
	env := setupCLI(t)
	input := writeInputs(t, []map[string]any{
		{"name": "Oak Desk", "url": "https://shop.example/desk", "image_urls": []string{"https://cdn.example/desk.jpg"}},
		{"name": "broken lamp", "url": "https://shop.example/lamp", "image_urls": []string{"https://cdn.example/lamp.jpg"}},
	})

	out, err := runCLI(t, env, "batch", "run", "--input", input, "--id", "b-1")
	if err != nil {
		t.Fatalf("batch run: %v\n%s", err, out)
	}
	requireContains(t, out, "Batch b-1: 1 completed, 1 failed, cost $0.50")
	requireContains(t, out, "Progress 100%")

	if got := env.api.count("bulk-save"); got != 1 {
		t.Fatalf("bulk save calls = %d, want 1", got)
	}
	if got := env.api.count("bulk-background"); got != 1 {
		t.Fatalf("bulk background calls = %d, want 1", got)
	}

	store := openStore(t, env)
	items, err := store.ListItems(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("stored items = %d, want 2", len(items))
	}
	if items[0].Status != queue.StatusCompleted || len(items[0].LODs) != 3 {
		t.Fatalf("first item = %s with %d LODs", items[0].Status, len(items[0].LODs))
	}
	if !items[1].StageFailed(queue.StageGenerate3D) {
		t.Fatalf("second item should fail generation, got %+v", items[1].StageResults)
	}
	rec, err := store.GetBatch(context.Background(), "b-1")
	if err != nil || rec == nil {
		t.Fatalf("get batch: %v", err)
	}
	if rec.Status != queue.BatchCompleted || rec.Completed != 1 || rec.Failed != 1 {
		t.Fatalf("batch record = %+v", rec)
	}

	out, err = runCLI(t, env, "batch", "list")
	if err != nil {
		t.Fatalf("batch list: %v", err)
	}
	requireContains(t, out, "b-1")
	requireContains(t, out, "$0.50")

	out, err = runCLI(t, env, "item", "show", items[1].CorrelationKey)
	if err != nil {
		t.Fatalf("item show: %v", err)
	}
	requireContains(t, out, "broken lamp")
	requireContains(t, out, "[validation]")

	out, err = runCLI(t, env, "batch", "show", "b-1")
	if err != nil {
		t.Fatalf("batch show: %v", err)
	}
	requireContains(t, out, "generate-3d")
}

func TestBatchResumeSkipsCompletedStages(t *testing.T) {
	env := setupCLI(t)
	input := writeInputs(t, []map[string]any{
		{"name": "Oak Desk", "url": "https://shop.example/desk", "image_urls": []string{"https://cdn.example/desk.jpg"}},
	})
	if out, err := runCLI(t, env, "batch", "run", "--input", input, "--id", "b-2"); err != nil {
		t.Fatalf("batch run: %v\n%s", err, out)
	}

	out, err := runCLI(t, env, "batch", "resume", "b-2")
	if err != nil {
		t.Fatalf("batch resume: %v\n%s", err, out)
	}
	requireContains(t, out, "Batch b-2: 1 completed, 0 failed")
	if got := env.api.count("bulk-save"); got != 1 {
		t.Fatalf("bulk save calls after resume = %d, want 1", got)
	}
	if got := env.api.count("generate"); got != 1 {
		t.Fatalf("generate calls after resume = %d, want 1", got)
	}

	if _, err := runCLI(t, env, "batch", "run", "--input", input, "--id", "b-2"); err == nil {
		t.Fatal("expected duplicate batch id to be rejected")
	}
}

func TestBatchRunRejectsBadInput(t *testing.T) {
	env := setupCLI(t)
	input := writeInputs(t, []map[string]any{{"name": "", "url": "https://shop.example/x"}})

	_, err := runCLI(t, env, "batch", "run", "--input", input)
	if err == nil || !strings.Contains(err.Error(), "needs a name and url") {
		t.Fatalf("expected input validation error, got %v", err)
	}
}

func TestProcessDrivesOneProductToSaved(t *testing.T) {
	env := setupCLI(t)

	out, err := runCLI(t, env, "process", "https://shop.example/chair", "--select", "1")
	if err != nil {
		t.Fatalf("process: %v\n%s", err, out)
	}
	requireContains(t, out, "Walnut Chair")
	requireContains(t, out, "completed")
	for _, call := range []string{"scrape", "bulk-background", "generate", "optimize", "save-final"} {
		if got := env.api.count(call); got != 1 {
			t.Fatalf("%s calls = %d, want 1", call, got)
		}
	}
}

func TestProcessRejectsInvalidSelection(t *testing.T) {
	env := setupCLI(t)
	if _, err := runCLI(t, env, "process", "https://shop.example/chair", "--select", "x"); err == nil {
		t.Fatal("expected invalid selection error")
	}
}

func TestConfigInitShowAndValidate(t *testing.T) {
	env := setupCLI(t)

	out, err := runCLI(t, env, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	out, err = runCLI(t, env, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "********")
	if strings.Contains(out, "test-key") {
		t.Fatalf("config show leaked the api key:\n%s", out)
	}

	target := filepath.Join(t.TempDir(), "config.toml")
	out, err = runCLI(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLI(t)
	out, err := runCLI(t, env, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Notifications disabled")
}

func TestStatusReportsChecks(t *testing.T) {
	env := setupCLI(t)
	out, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	requireContains(t, out, "Gateway:")
	requireContains(t, out, "[OK]")
	requireContains(t, out, "Notifications:")
}
