package indexer

import (
	"context"
	"fmt"
	"testing"

	"github.com/artipie/conan-revindex/pkg/revindex"
	"github.com/artipie/conan-revindex/pkg/store"
)

func TestNextSegment(t *testing.T) {
	const base = "zlib/1.2.11/_/_"
	if got := NextSegment(base, base+"/x/y"); got != "x" {
		t.Fatalf("NextSegment = %q, want %q", got, "x")
	}
	if got := NextSegment(base, base+"/x"); got != "" {
		t.Fatalf("NextSegment = %q, want empty", got)
	}
}

func TestRevisionOf(t *testing.T) {
	const base = "zlib/1.2.11/_/_"
	if got := RevisionOf(base, base+"/0/export/conanfile.py"); got != 0 {
		t.Fatalf("RevisionOf = %d, want 0", got)
	}
	if got := RevisionOf(base, base+"/export"); got != -1 {
		t.Fatalf("RevisionOf = %d, want -1", got)
	}
	if got := RevisionOf(base, base+"/abc/export"); got != -1 {
		t.Fatalf("RevisionOf non-numeric = %d, want -1", got)
	}
}

func seedRecipe(t *testing.T, s store.Store, pkg string, rev int, complete bool) {
	t.Helper()
	ctx := context.Background()
	files := RecipeManifest
	if !complete {
		files = files[:len(files)-1]
	}
	for _, f := range files {
		key := fmt.Sprintf("%s/%d/export/%s", pkg, rev, f)
		if err := s.Save(ctx, key, []byte("x")); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
}

func TestBuildRecipeIndex(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	const pkg = "zlib/1.2.11/_/_"
	seedRecipe(t, s, pkg, 0, true)
	seedRecipe(t, s, pkg, 1, false)

	pathOf := func(name string, rev int) string {
		return fmt.Sprintf("%s/%d/export/%s", pkg, rev, name)
	}
	revs, err := Build(ctx, s, pkg, RecipeManifest, pathOf)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(revs) != 1 || revs[0] != 0 {
		t.Fatalf("revs = %v, want [0]", revs)
	}

	entries, err := revindex.Load(ctx, s, pkg+"/"+IndexFile)
	if err != nil {
		t.Fatalf("load written index: %v", err)
	}
	if len(entries) != 1 || entries[0].Revision != "0" || entries[0].Timestamp != "" {
		t.Fatalf("written index = %+v, want single empty-timestamp entry for revision 0", entries)
	}
}

func TestBuildDedupesRevisionCandidates(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	const pkg = "zlib/1.2.11/_/_"
	seedRecipe(t, s, pkg, 0, true)
	// extra keys under the same revision subdir should not produce duplicate candidates
	if err := s.Save(ctx, pkg+"/0/export/extra.txt", []byte("x")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	pathOf := func(name string, rev int) string {
		return fmt.Sprintf("%s/%d/export/%s", pkg, rev, name)
	}
	revs, err := Build(ctx, s, pkg, RecipeManifest, pathOf)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(revs) != 1 {
		t.Fatalf("revs = %v, want exactly one entry", revs)
	}
}

func TestListPackages(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	const prefix = "zlib/1.2.11/_/_/0/package"
	hashes := []string{
		"6af9cc7cb931c5ad942174fd7838eb655717c709",
		"abc123abc123abc123abc123abc123abc123abc1",
	}
	for _, h := range hashes {
		if err := s.Save(ctx, prefix+"/"+h+"/0/conaninfo.txt", []byte("x")); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	got, err := ListPackages(ctx, s, prefix)
	if err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	if len(got) != len(hashes) {
		t.Fatalf("ListPackages = %v, want %d entries", got, len(hashes))
	}
}
