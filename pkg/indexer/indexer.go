// Package indexer rebuilds a single revisions index by scanning the store
// for numeric revision subdirectories and verifying a fixed file manifest is
// present for each, the Go rendering of RevisionsIndex.buildIndex and its
// getNextSubdir/getRevDirValue path helpers (original_source).
package indexer

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/artipie/conan-revindex/pkg/revindex"
	"github.com/artipie/conan-revindex/pkg/store"
)

// RecipeManifest is the fixed set of files a recipe revision must contain
// (spec section 3).
var RecipeManifest = []string{
	"conanmanifest.txt", "conan_export.tgz", "conanfile.py", "conan_sources.tgz",
}

// BinaryManifest is the fixed set of files a package binary revision must
// contain (spec section 3).
var BinaryManifest = []string{
	"conanmanifest.txt", "conaninfo.txt", "conan_package.tgz",
}

// IndexFile is the name the rebuilt index is written under, relative to the
// path passed to Build.
const IndexFile = "revisions.txt"

// PathFunc builds the store key for file name at revision rev, given the
// base path Build was called with.
type PathFunc func(name string, rev int) string

// NextSegment returns the substring of key strictly between
// len(base)+1 and the next "/" after that position, or "" if key has no
// further segment. key is assumed to begin with base + "/".
func NextSegment(base, key string) string {
	if len(key) <= len(base)+1 {
		return ""
	}
	rest := key[len(base)+1:]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return ""
}

// RevisionOf interprets NextSegment(base, key) as a decimal integer,
// returning -1 if it is empty or not numeric.
func RevisionOf(base, key string) int {
	seg := NextSegment(base, key)
	if seg == "" {
		return -1
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return -1
	}
	return n
}

// ListPackages enumerates the direct subdirectory names under prefix,
// deduplicated, in no particular order (spec section 4.4).
func ListPackages(ctx context.Context, s store.Store, prefix string) ([]string, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, k := range keys {
		seg := NextSegment(prefix, k)
		if seg == "" {
			continue
		}
		if _, ok := seen[seg]; ok {
			continue
		}
		seen[seg] = struct{}{}
		out = append(out, seg)
	}
	return out, nil
}

// Build rebuilds the index file at path: it lists path, projects every key
// to a candidate revision number via RevisionOf, and for each unique
// candidate probes every file in manifest via pathOf. A revision is kept
// iff all of its manifest files exist. Exists probes for every
// (revision, file) pair run concurrently; the first failure fails the whole
// rebuild. The result is written to path/revisions.txt with empty
// timestamps and also returned as a sorted, deduplicated []int.
func Build(ctx context.Context, s store.Store, path string, manifest []string, pathOf PathFunc) ([]int, error) {
	keys, err := s.List(ctx, path)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]struct{})
	var candidates []int
	for _, k := range keys {
		rev := RevisionOf(path, k)
		if rev < 0 {
			continue
		}
		if _, ok := seen[rev]; ok {
			continue
		}
		seen[rev] = struct{}{}
		candidates = append(candidates, rev)
	}

	complete := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, rev := range candidates {
		i, rev := i, rev
		g.Go(func() error {
			ok, err := allFilesExist(gctx, s, manifest, pathOf, rev)
			if err != nil {
				return err
			}
			complete[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var revs []int
	for i, rev := range candidates {
		if complete[i] {
			revs = append(revs, rev)
		}
	}
	sort.Ints(revs)

	entries := make([]revindex.Entry, 0, len(revs))
	for _, r := range revs {
		entries = append(entries, revindex.Entry{Revision: strconv.Itoa(r), Timestamp: ""})
	}
	data, err := revindex.Encode(entries)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, path+"/"+IndexFile, data); err != nil {
		return nil, err
	}
	if revs == nil {
		revs = []int{}
	}
	return revs, nil
}

func allFilesExist(ctx context.Context, s store.Store, manifest []string, pathOf PathFunc, rev int) (bool, error) {
	g, gctx := errgroup.WithContext(ctx)
	results := make([]bool, len(manifest))
	for i, name := range manifest {
		i, name := i, name
		g.Go(func() error {
			ok, err := s.Exists(gctx, pathOf(name, rev))
			if err != nil {
				return err
			}
			results[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	for _, ok := range results {
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
