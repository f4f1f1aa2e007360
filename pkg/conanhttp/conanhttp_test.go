package conanhttp

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/artipie/conan-revindex/pkg/indexer"
	"github.com/artipie/conan-revindex/pkg/store"
)

const testPkg = "zlib/1.2.11/_/_"

func seedRecipe(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	for _, f := range indexer.RecipeManifest {
		key := testPkg + "/0/export/" + f
		if err := s.Save(ctx, key, []byte("x")); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
}

func TestRecipeDownloadURLs(t *testing.T) {
	s := store.NewMemStore()
	seedRecipe(t, s)
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/v1/conans/"+testPkg+"/download_urls", nil)
	req.Host = "localhost"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	var urls map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &urls); err != nil {
		t.Fatalf("unmarshal: %v, body=%s", err, rec.Body.String())
	}
	if len(urls) != len(indexer.RecipeManifest) {
		t.Fatalf("got %d urls, want %d: %v", len(urls), len(indexer.RecipeManifest), urls)
	}
	want := "http://localhost/" + testPkg + "/0/export/conanfile.py"
	if urls["conanfile.py"] != want {
		t.Fatalf("urls[conanfile.py] = %q, want %q", urls["conanfile.py"], want)
	}
}

func TestRecipeDownloadURLsNotFound(t *testing.T) {
	s := store.NewMemStore()
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/v1/conans/"+testPkg+"/download_urls", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=UTF-8" {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestBinaryDownloadURLs(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	const hash = "6af9cc7cb931c5ad942174fd7838eb655717c709"
	for _, f := range indexer.BinaryManifest {
		key := testPkg + "/0/package/" + hash + "/0/" + f
		if err := s.Save(ctx, key, []byte("x")); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/v1/conans/"+testPkg+"/packages/"+hash+"/download_urls", nil)
	req.Host = "localhost"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var urls map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &urls); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(urls) != len(indexer.BinaryManifest) {
		t.Fatalf("got %d urls, want %d", len(urls), len(indexer.BinaryManifest))
	}
}

func TestPackageInfoMD5(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	const hash = "6af9cc7cb931c5ad942174fd7838eb655717c709"
	content := []byte("conan_package contents")
	for _, f := range indexer.BinaryManifest {
		key := testPkg + "/0/package/" + hash + "/0/" + f
		if err := s.Save(ctx, key, content); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/v1/conans/"+testPkg+"/packages/"+hash, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var hashes map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &hashes); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	sum := md5.Sum(content)
	want := new(big.Int).SetBytes(sum[:]).Text(16)
	for _, f := range indexer.BinaryManifest {
		if hashes[f] != want {
			t.Fatalf("hashes[%s] = %q, want %q", f, hashes[f], want)
		}
	}
}

func TestSearchRecipes(t *testing.T) {
	s := store.NewMemStore()
	seedRecipe(t, s)
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/v1/search?q=zlib", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Results []string `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Results) != 1 || body.Results[0] != "zlib/1.2.11" {
		t.Fatalf("results = %v, want [zlib/1.2.11]", body.Results)
	}
}

func TestSearchBinaries(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	const hash = "6af9cc7cb931c5ad942174fd7838eb655717c709"
	conaninfo := "[settings]\nos=Linux\n\n[recipe_hash]\nabc123\n"
	if err := s.Save(ctx, testPkg+"/0/package/"+hash+"/0/conaninfo.txt", []byte(conaninfo)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/v1/conans/"+testPkg+"/search", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var body map[string]map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	pkg, ok := body[hash]
	if !ok {
		t.Fatalf("expected top-level key %s, got %v", hash, body)
	}
	if pkg["recipe_hash"] != "abc123" {
		t.Fatalf("recipe_hash = %v, want abc123", pkg["recipe_hash"])
	}
}

func TestSearchBinariesNotFound(t *testing.T) {
	s := store.NewMemStore()
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/v1/conans/"+testPkg+"/search", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body=%s", rec.Code, rec.Body.String())
	}
}
