package server

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/badgeratu/nupkgd/internal/config"
)

func testConfig(dataDir string) *config.Config {
	return &config.Config{
		DataDir:           dataDir,
		SearchPattern:     "*.nupkg",
		CheckCount:        true,
		CacheEnabled:      true,
		ResponseCacheSize: 1024 * 1024,
		ResponseTTL:       time.Minute,
		Port:              "0",
		LogLevel:          "ERROR",
	}
}

// nupkgBytes builds a minimal real .nupkg archive in memory.
func nupkgBytes(t *testing.T, id, version string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(id + ".nuspec")
	if err != nil {
		t.Fatalf("zip create failed: %v", err)
	}
	fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?>
<package xmlns="http://schemas.microsoft.com/packaging/2013/05/nuspec.xsd">
  <metadata>
    <id>%s</id>
    <version>%s</version>
    <authors>tester</authors>
    <description>test package</description>
  </metadata>
</package>`, id, version)
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close failed: %v", err)
	}
	return buf.Bytes()
}

func writeNupkg(t *testing.T, dir, id, version string) {
	t.Helper()
	name := fmt.Sprintf("%s.%s.nupkg", id, version)
	if err := os.WriteFile(filepath.Join(dir, name), nupkgBytes(t, id, version), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func doRequest(t *testing.T, srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

type listingResponse struct {
	Count    int `json:"count"`
	Packages []struct {
		ID      string `json:"id"`
		Version string `json:"version"`
	} `json:"packages"`
}

func decodeListing(t *testing.T, rec *httptest.ResponseRecorder) listingResponse {
	t.Helper()
	var resp listingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode listing: %v (body: %s)", err, rec.Body.String())
	}
	return resp
}

func TestNew(t *testing.T) {
	srv := New(testConfig(t.TempDir()))
	if srv == nil {
		t.Fatal("New() returned nil")
	}
	if srv.Router() == nil {
		t.Error("Router not initialized")
	}
}

func TestHandleHealth(t *testing.T) {
	srv := New(testConfig(t.TempDir()))

	rec := doRequest(t, srv, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %v", resp["status"])
	}
}

func TestHandleListPackages(t *testing.T) {
	dir := t.TempDir()
	srv := New(testConfig(dir))

	t.Run("empty directory", func(t *testing.T) {
		rec := doRequest(t, srv, "GET", "/api/packages", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		if resp := decodeListing(t, rec); resp.Count != 0 {
			t.Errorf("Expected empty listing, got %d", resp.Count)
		}
	})

	t.Run("after adding packages", func(t *testing.T) {
		writeNupkg(t, dir, "Contoso.Utils", "1.0.0")
		writeNupkg(t, dir, "Contoso.Utils", "1.1.0")

		rec := doRequest(t, srv, "GET", "/api/packages", nil)
		resp := decodeListing(t, rec)
		if resp.Count != 2 {
			t.Fatalf("Expected 2 packages, got %d", resp.Count)
		}
		if resp.Packages[0].Version != "1.0.0" || resp.Packages[1].Version != "1.1.0" {
			t.Errorf("Unexpected version order: %+v", resp.Packages)
		}
	})

	t.Run("file change invalidates listing", func(t *testing.T) {
		writeNupkg(t, dir, "Fabrikam.Core", "2.0.0")

		rec := doRequest(t, srv, "GET", "/api/packages", nil)
		if resp := decodeListing(t, rec); resp.Count != 3 {
			t.Errorf("Expected 3 packages after adding one, got %d", resp.Count)
		}
	})

	t.Run("non-matching file does not invalidate", func(t *testing.T) {
		before := decodeListing(t, doRequest(t, srv, "GET", "/api/packages", nil))

		if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
			t.Fatalf("write failed: %v", err)
		}

		after := decodeListing(t, doRequest(t, srv, "GET", "/api/packages", nil))
		if before.Count != after.Count {
			t.Errorf("Non-matching file changed the listing: %d vs %d", before.Count, after.Count)
		}
	})
}

func TestHandlePackageVersions(t *testing.T) {
	dir := t.TempDir()
	writeNupkg(t, dir, "Contoso.Utils", "1.0.0")
	writeNupkg(t, dir, "Contoso.Utils", "2.0.0")
	srv := New(testConfig(dir))

	t.Run("existing package", func(t *testing.T) {
		rec := doRequest(t, srv, "GET", "/api/packages/contoso.utils", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		var resp struct {
			ID       string            `json:"id"`
			Count    int               `json:"count"`
			Versions []json.RawMessage `json:"versions"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if resp.ID != "Contoso.Utils" || resp.Count != 2 {
			t.Errorf("Unexpected response: %+v", resp)
		}
	})

	t.Run("unknown package", func(t *testing.T) {
		rec := doRequest(t, srv, "GET", "/api/packages/nope", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", rec.Code)
		}
	})
}

func TestHandlePackageVersion(t *testing.T) {
	dir := t.TempDir()
	writeNupkg(t, dir, "Contoso.Utils", "1.0.0")
	srv := New(testConfig(dir))

	rec := doRequest(t, srv, "GET", "/api/packages/Contoso.Utils/1.0.0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, srv, "GET", "/api/packages/Contoso.Utils/9.9.9", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown version, got %d", rec.Code)
	}
}

func TestHandleDownload(t *testing.T) {
	dir := t.TempDir()
	writeNupkg(t, dir, "Contoso.Utils", "1.0.0")
	srv := New(testConfig(dir))

	rec := doRequest(t, srv, "GET", "/packages/Contoso.Utils/1.0.0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	want, err := os.ReadFile(filepath.Join(dir, "Contoso.Utils.1.0.0.nupkg"))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(rec.Body.Bytes(), want) {
		t.Error("Downloaded bytes differ from the stored archive")
	}
}

func TestHandlePush(t *testing.T) {
	dir := t.TempDir()
	srv := New(testConfig(dir))

	pkg := nupkgBytes(t, "Pushed.Package", "3.1.4")

	t.Run("valid push", func(t *testing.T) {
		rec := doRequest(t, srv, "PUT", "/api/packages", pkg)
		if rec.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
		}

		if _, err := os.Stat(filepath.Join(dir, "Pushed.Package.3.1.4.nupkg")); err != nil {
			t.Errorf("Pushed package not stored: %v", err)
		}

		resp := decodeListing(t, doRequest(t, srv, "GET", "/api/packages", nil))
		if resp.Count != 1 || resp.Packages[0].ID != "Pushed.Package" {
			t.Errorf("Pushed package missing from listing: %+v", resp)
		}
	})

	t.Run("duplicate push rejected", func(t *testing.T) {
		rec := doRequest(t, srv, "PUT", "/api/packages", pkg)
		if rec.Code != http.StatusConflict {
			t.Errorf("Expected 409, got %d", rec.Code)
		}
	})

	t.Run("duplicate in subdirectory rejected", func(t *testing.T) {
		sub := filepath.Join(dir, "legacy")
		if err := os.MkdirAll(sub, 0755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		writeNupkg(t, sub, "Nested.Package", "1.0.0")

		rec := doRequest(t, srv, "PUT", "/api/packages", nupkgBytes(t, "Nested.Package", "1.0.0"))
		if rec.Code != http.StatusConflict {
			t.Errorf("Expected 409 for duplicate indexed from subdirectory, got %d", rec.Code)
		}
	})

	t.Run("invalid archive rejected", func(t *testing.T) {
		rec := doRequest(t, srv, "PUT", "/api/packages", []byte("not a zip"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rec.Code)
		}
	})
}

func TestHandleDelete(t *testing.T) {
	dir := t.TempDir()
	writeNupkg(t, dir, "Contoso.Utils", "1.0.0")
	srv := New(testConfig(dir))

	rec := doRequest(t, srv, "DELETE", "/api/packages/Contoso.Utils/1.0.0", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}

	if _, err := os.Stat(filepath.Join(dir, "Contoso.Utils.1.0.0.nupkg")); !os.IsNotExist(err) {
		t.Error("Package file still present after delete")
	}

	rec = doRequest(t, srv, "DELETE", "/api/packages/Contoso.Utils/1.0.0", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for second delete, got %d", rec.Code)
	}
}

func TestListPackagesEnumerationFailure(t *testing.T) {
	dir := t.TempDir()
	writeNupkg(t, dir, "Contoso.Utils", "1.0.0")

	// A malformed glob makes validation fail on every request; the error
	// must surface as a 500, not get masked into an empty listing.
	cfg := testConfig(dir)
	cfg.SearchPattern = "["
	srv := New(cfg)

	rec := doRequest(t, srv, "GET", "/api/packages", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 for failed validation, got %d", rec.Code)
	}
}

func TestDisabledCacheStillServes(t *testing.T) {
	dir := t.TempDir()
	writeNupkg(t, dir, "Contoso.Utils", "1.0.0")

	cfg := testConfig(dir)
	cfg.CacheEnabled = false
	srv := New(cfg)

	// Every request rescans, but results stay correct.
	for i := 0; i < 3; i++ {
		resp := decodeListing(t, doRequest(t, srv, "GET", "/api/packages", nil))
		if resp.Count != 1 {
			t.Fatalf("Request %d: expected 1 package, got %d", i, resp.Count)
		}
	}
}
