package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"doctools/internal/testsupport"
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
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
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

func TestCheckCredentials(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if result := CheckCredentials(cfg.OCR); !result.Passed {
		t.Fatalf("expected configured keys to pass, got: %s", result.Detail)
	}

	missing := testsupport.NewConfig(t, testsupport.WithoutCredentials())
	if result := CheckCredentials(missing.OCR); result.Passed {
		t.Fatal("expected failure without keys or credentials file")
	}

	if err := os.WriteFile(missing.OCR.CredentialsFile, []byte(`{"API_KEY":"a","SECRET_KEY":"b"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if result := CheckCredentials(missing.OCR); !result.Passed {
		t.Fatalf("expected credentials file to satisfy the check, got: %s", result.Detail)
	}
}

func TestCheckEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	if result := CheckEndpoint(context.Background(), "OCR", srv.URL+"/token"); !result.Passed {
		t.Fatalf("expected any client error to count as reachable, got: %s", result.Detail)
	}
	if result := CheckEndpoint(context.Background(), "OCR", srv.URL+"/broken"); result.Passed {
		t.Fatal("expected server error to fail")
	}
	if result := CheckEndpoint(context.Background(), "OCR", ""); result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestCheckSystemDeps(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("pdftoppm", "soffice"))
	statuses := CheckSystemDeps(context.Background(), cfg)
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	for _, s := range statuses[:2] {
		if !s.Available {
			t.Fatalf("expected %s to be available, got %q", s.Name, s.Detail)
		}
	}
	if !statuses[2].Optional {
		t.Fatal("expected tesseract to be optional for the remote engine")
	}

	cfg.OCR.Engine = "tesseract"
	if statuses := CheckSystemDeps(context.Background(), cfg); statuses[2].Optional {
		t.Fatal("expected tesseract to be required for the local engine")
	}
}

func TestCheckCacheFromConfig_Disabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if result := CheckCacheFromConfig(context.Background(), cfg); !result.Passed || result.Detail != "Disabled" {
		t.Fatalf("expected disabled cache to pass, got %#v", result)
	}
	cfg.Cache.Enabled = true
	cfg.Cache.RedisURL = ""
	if result := CheckCacheFromConfig(context.Background(), cfg); result.Passed {
		t.Fatal("expected missing redis URL to fail")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(cfg.Paths.OutputDir, 0o755); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg)
	// state + output directories + credentials
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %#v", failed)
	}
}

func TestRunAll_ReportsMissingOutputDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.OCR.Engine = "tesseract"
	if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatal(err)
	}

	failed := Failed(RunAll(context.Background(), cfg))
	if len(failed) != 1 || failed[0].Name != "Output directory" {
		t.Fatalf("expected only the output directory to fail, got %#v", failed)
	}
}
