// Package revindex implements the revisions index core: atomic
// read-modify-write access to a single revisions.txt file, as described by
// the original Java source's RevisionsIndex load/addToRevdata/removeRevision
// helpers (com.artipie.conan.RevisionsIndex).
package revindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/artipie/conan-revindex/pkg/lock"
	"github.com/artipie/conan-revindex/pkg/store"
)

// ErrCorrupt is returned by Load when the index file exists but cannot be
// parsed as the expected JSON shape.
var ErrCorrupt = errors.New("revindex: corrupt index")

// Entry is one element of the revisions array.
type Entry struct {
	Revision  string `json:"revision"`
	Timestamp string `json:"timestamp"`
}

// index is the on-disk JSON shape: {"revisions": [...]}.
type index struct {
	Revisions []Entry `json:"revisions"`
}

// Load returns the revisions array at path. A missing file is equivalent to
// an empty array (spec invariant I3); malformed JSON, or a document without
// the "revisions" key, is ErrCorrupt.
func Load(ctx context.Context, s store.Store, path string) ([]Entry, error) {
	data, err := s.Value(ctx, path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []Entry{}, nil
		}
		return nil, err
	}
	var idx struct {
		Revisions *[]Entry `json:"revisions"`
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if idx.Revisions == nil {
		return nil, fmt.Errorf("%w: %s: missing revisions key", ErrCorrupt, path)
	}
	return *idx.Revisions, nil
}

// Encode renders entries in the on-disk JSON shape ({"revisions": [...]}),
// shared with pkg/indexer so a rebuilt index is byte-for-byte the same shape
// a mutation through Add/Remove would produce.
func Encode(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return json.Marshal(index{Revisions: entries})
}

func save(ctx context.Context, s store.Store, path string, entries []Entry) error {
	data, err := Encode(entries)
	if err != nil {
		return err
	}
	return s.Save(ctx, path, data)
}

func indexOf(entries []Entry, revision int) int {
	want := strconv.Itoa(revision)
	for i, e := range entries {
		if e.Revision == want {
			return i
		}
	}
	return -1
}

// Add appends revision to the index at path, removing any prior entry for
// the same revision first (so re-adding refreshes the timestamp without
// duplicating the entry). Runs under Lock(path).
func Add(ctx context.Context, s store.Store, l lock.Locker, revision int, path string) error {
	return lock.With(ctx, l, path, func(ctx context.Context) error {
		entries, err := Load(ctx, s, path)
		if err != nil {
			return err
		}
		if i := indexOf(entries, revision); i >= 0 {
			entries = append(entries[:i], entries[i+1:]...)
		}
		entries = append(entries, Entry{
			Revision:  strconv.Itoa(revision),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})
		return save(ctx, s, path, entries)
	})
}

// Remove deletes revision from the index at path, reporting whether it was
// present. A missing file yields (false, nil) without writing. Runs under
// Lock(path).
func Remove(ctx context.Context, s store.Store, l lock.Locker, revision int, path string) (bool, error) {
	var found bool
	err := lock.With(ctx, l, path, func(ctx context.Context) error {
		exists, err := s.Exists(ctx, path)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		entries, err := Load(ctx, s, path)
		if err != nil {
			return err
		}
		i := indexOf(entries, revision)
		if i < 0 {
			return nil
		}
		found = true
		entries = append(entries[:i], entries[i+1:]...)
		return save(ctx, s, path, entries)
	})
	return found, err
}

// Last returns the maximum revision present at path as an integer, or -1 if
// the array is empty or the file is absent.
func Last(ctx context.Context, s store.Store, path string) (int, error) {
	entries, err := Load(ctx, s, path)
	if err != nil {
		return 0, err
	}
	best := -1
	for _, e := range entries {
		n, err := strconv.Atoi(e.Revision)
		if err != nil {
			return 0, fmt.Errorf("revindex: bad revision %q in %s: %w", e.Revision, path, err)
		}
		if n > best {
			best = n
		}
	}
	return best, nil
}

// List returns the revision values at path as integers, preserving array
// order.
func List(ctx context.Context, s store.Store, path string) ([]int, error) {
	entries, err := Load(ctx, s, path)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		n, err := strconv.Atoi(e.Revision)
		if err != nil {
			return nil, fmt.Errorf("revindex: bad revision %q in %s: %w", e.Revision, path, err)
		}
		out = append(out, n)
	}
	return out, nil
}
