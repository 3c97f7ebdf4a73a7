package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"assetpipe/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good-key":
			w.WriteHeader(http.StatusNotFound)
		case "Bearer broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	if result := CheckGateway(context.Background(), srv.URL, "good-key"); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result := CheckGateway(context.Background(), srv.URL, "bad-key"); result.Passed || !strings.Contains(result.Detail, "auth failed") {
		t.Fatalf("expected auth failure, got: %+v", result)
	}
	if result := CheckGateway(context.Background(), srv.URL, "broken"); result.Passed || !strings.Contains(result.Detail, "502") {
		t.Fatalf("expected server error, got: %+v", result)
	}
}

func TestCheckGateway_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	result := CheckGateway(context.Background(), addr, "")
	if result.Passed || !strings.Contains(result.Detail, "unreachable") {
		t.Fatalf("expected unreachable, got: %+v", result)
	}
	if result := CheckGateway(context.Background(), "  ", ""); result.Passed {
		t.Fatal("expected failure for empty base url")
	}
}

func TestCheckNtfyTopic(t *testing.T) {
	if r := CheckNtfyTopic("https://ntfy.sh/assets"); !r.Passed || r.Detail != "ntfy.sh/assets" {
		t.Fatalf("unexpected result %+v", r)
	}
	if r := CheckNtfyTopic("assets"); r.Passed {
		t.Fatal("expected bare topic name to fail")
	}
}

func TestRunAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithGatewayURL(srv.URL))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	results := RunAll(context.Background(), cfg)
	if len(results) != 3 {
		t.Fatalf("expected 3 results without a topic, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}

	cfg.Notifications.NtfyTopic = "not a url"
	results = RunAll(context.Background(), cfg)
	if failed := Failed(results); len(failed) != 1 || failed[0].Name != "Notifications" {
		t.Fatalf("expected notification failure, got %+v", failed)
	}
	if RunAll(context.Background(), nil) != nil {
		t.Fatal("nil config should produce no results")
	}
}
