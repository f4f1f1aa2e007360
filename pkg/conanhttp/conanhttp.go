// Package conanhttp implements the read-side Conan v1 HTTP endpoints:
// download_urls, search, and package info, pure functions of store contents
// translated into the JSON/text shapes the Conan client expects (spec
// section 4.7), the Go rendering of ConansEntity/PathWrap
// (original_source), routed with gorilla/pat the way dzyanis-ent routes its
// bucket/key endpoints.
package conanhttp

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/pat"

	"github.com/artipie/conan-revindex/internal/inihash"
	"github.com/artipie/conan-revindex/pkg/indexer"
	"github.com/artipie/conan-revindex/pkg/store"
)

// revisionDir is the pinned recipe-revision subdirectory the Conan v1
// protocol addresses ("0"), per spec section 4.7.1.
const revisionDir = "0"

// NewRouter registers the five read endpoints on a fresh gorilla/pat router.
// More specific "packages/..." routes are registered ahead of the bare
// download_urls/search routes so pat's first-match-wins dispatch can't let
// the greedy {path:.*} capture swallow the packages segment.
func NewRouter(s store.Store) http.Handler {
	r := pat.New()
	r.Get("/v1/conans/{path:.*}/packages/{hash}/download_urls", handleBinaryDownloadURLs(s))
	r.Get("/v1/conans/{path:.*}/packages/{hash}", handlePackageInfo(s))
	r.Get("/v1/conans/{path:.*}/download_urls", handleRecipeDownloadURLs(s))
	r.Get("/v1/conans/{path:.*}/search", handleSearchBinaries(s))
	r.Get("/v1/search", handleSearchRecipes(s))
	return r
}

func handleRecipeDownloadURLs(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get(":path")
		files, err := existingManifestFiles(r.Context(), s, indexer.RecipeManifest, func(name string) string {
			return strings.Join([]string{path, revisionDir, "export", name}, "/")
		})
		if err != nil {
			writeServerError(w, err)
			return
		}
		writeDownloadURLs(w, r, files)
	}
}

func handleBinaryDownloadURLs(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get(":path")
		hash := r.URL.Query().Get(":hash")
		files, err := existingManifestFiles(r.Context(), s, indexer.BinaryManifest, func(name string) string {
			return strings.Join([]string{path, revisionDir, "package", hash, revisionDir, name}, "/")
		})
		if err != nil {
			writeServerError(w, err)
			return
		}
		writeDownloadURLs(w, r, files)
	}
}

// existingManifestFiles probes keyOf(name) for every file in manifest and
// returns the (file, key) pairs that exist.
func existingManifestFiles(ctx context.Context, s store.Store, manifest []string, keyOf func(name string) string) (map[string]string, error) {
	found := make(map[string]string)
	for _, name := range manifest {
		key := keyOf(name)
		ok, err := s.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			found[name] = key
		}
	}
	return found, nil
}

func writeDownloadURLs(w http.ResponseWriter, r *http.Request, files map[string]string) {
	if len(files) == 0 {
		writeNotFound(w, r)
		return
	}
	urls := make(map[string]string, len(files))
	for name, key := range files {
		urls[name] = fmt.Sprintf("http://%s/%s", r.Host, key)
	}
	writeJSON(w, urls)
}

func handlePackageInfo(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get(":path")
		hash := r.URL.Query().Get(":hash")
		ctx := r.Context()

		out := make(map[string]string)
		for _, name := range indexer.BinaryManifest {
			key := strings.Join([]string{path, revisionDir, "package", hash, revisionDir, name}, "/")
			ok, err := s.Exists(ctx, key)
			if err != nil {
				writeServerError(w, err)
				return
			}
			if !ok {
				continue
			}
			data, err := s.Value(ctx, key)
			if err != nil {
				writeServerError(w, err)
				return
			}
			out[name] = md5HexNoPadding(data)
		}
		if len(out) == 0 {
			writeNotFound(w, r)
			return
		}
		writeJSON(w, out)
	}
}

// md5HexNoPadding renders the MD5 digest as unsigned big-integer hex without
// leading-zero padding (spec section 4.7.3/9): new(big.Int).SetBytes(sum[:])
// then .Text(16), preserving the client-compatibility quirk of the
// original's new BigInteger(1, digest).toString(16) instead of the more
// usual fixed-width 32-char lowercase hex.
func md5HexNoPadding(data []byte) string {
	sum := md5.Sum(data)
	return new(big.Int).SetBytes(sum[:]).Text(16)
}

func handleSearchBinaries(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get(":path")
		ctx := r.Context()
		pkgPath := path + "/" + revisionDir + "/package"

		keys, err := s.List(ctx, pkgPath)
		if err != nil {
			writeServerError(w, err)
			return
		}

		var infoKey string
		for _, k := range keys {
			if strings.HasSuffix(k, "conaninfo.txt") {
				infoKey = k
				break
			}
		}
		if infoKey == "" {
			writeNotFoundBody(w, fmt.Sprintf("Package binaries not found: %s", pkgPath))
			return
		}

		data, err := s.Value(ctx, infoKey)
		if err != nil {
			writeServerError(w, err)
			return
		}
		sections, err := inihash.Parse(data)
		if err != nil {
			writeServerError(w, err)
			return
		}

		hash := indexer.NextSegment(pkgPath, infoKey)
		writeJSON(w, map[string]interface{}{hash: sections})
	}
}

func handleSearchRecipes(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		ctx := r.Context()

		keys, err := s.List(ctx, "")
		if err != nil {
			writeServerError(w, err)
			return
		}

		seen := make(map[string]struct{})
		for _, key := range keys {
			start := strings.Index(key, "/0/export/")
			if start <= 0 {
				continue
			}
			recipe := key[:start]
			if extra := strings.Index(recipe, "/_/_"); extra >= 0 {
				recipe = key[:extra]
			}
			if strings.Contains(recipe, query) {
				seen[recipe] = struct{}{}
			}
		}
		results := make([]string, 0, len(seen))
		for recipe := range seen {
			results = append(results, recipe)
		}
		sort.Strings(results)
		writeJSON(w, map[string][]string{"results": results})
	}
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

func writeNotFound(w http.ResponseWriter, r *http.Request) {
	writeNotFoundBody(w, fmt.Sprintf("URI %s not found.", r.URL.RequestURI()))
}

func writeNotFoundBody(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprint(w, body)
}

func writeServerError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprintf(w, "error: %v", err)
}
