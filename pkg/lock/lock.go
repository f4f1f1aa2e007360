// Package lock provides a storage-backed mutual-exclusion lease, modeled on
// the original Java source's StorageLock (com.artipie.asto.lock.storage):
// a lock is itself just a small record in the same Store the index files
// live in, not a separate lock service.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/artipie/conan-revindex/pkg/store"
)

// ErrUnavailable is returned by Acquire when ctx is done before the lease
// could be obtained.
var ErrUnavailable = errors.New("lock: unavailable")

// Expiration is the fixed lease duration from spec section 3 ("Lock leases
// are acquired per index-file key, one hour expiration").
const Expiration = time.Hour

// pollInterval is how often Acquire retries a contended lease.
const pollInterval = 20 * time.Millisecond

// Lock is a lease on a single key, acquired against a Locker.
type Lock interface {
	Acquire(ctx context.Context) error
	// Release is best-effort: callers must not treat a release error as
	// fatal to the operation it guarded (spec section 9, open question).
	Release(ctx context.Context) error
}

// Locker creates leases for storage keys.
type Locker interface {
	NewLock(key string) Lock
}

type lease struct {
	Expires time.Time `json:"expires"`
}

// StorageLock is the default Locker: leases are JSON records written to
// "<key>.lock" in the same Store the caller is protecting.
type StorageLock struct {
	s store.Store
}

// NewStorageLock returns a Locker backed by s.
func NewStorageLock(s store.Store) *StorageLock {
	return &StorageLock{s: s}
}

func (l *StorageLock) NewLock(key string) Lock {
	return &storageKeyLock{s: l.s, key: key + ".lock"}
}

type storageKeyLock struct {
	s   store.Store
	key string
}

// Acquire polls the lease key: if it is absent, or present but expired, it
// writes a fresh lease and succeeds. Otherwise it retries until the lease
// lapses or ctx is done.
func (l *storageKeyLock) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		held, err := l.currentlyHeld(ctx)
		if err != nil {
			return err
		}
		if !held {
			data, err := json.Marshal(lease{Expires: time.Now().UTC().Add(Expiration)})
			if err != nil {
				return err
			}
			if err := l.s.Save(ctx, l.key, data); err != nil {
				return err
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (l *storageKeyLock) currentlyHeld(ctx context.Context) (bool, error) {
	exists, err := l.s.Exists(ctx, l.key)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	data, err := l.s.Value(ctx, l.key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	var ls lease
	if err := json.Unmarshal(data, &ls); err != nil {
		// A corrupt lease record is treated as expired rather than fatal;
		// a production lock service would not be in this state.
		return false, nil
	}
	return time.Now().UTC().Before(ls.Expires), nil
}

// Release deletes the lease key. Per spec section 9 this is best-effort: the
// source wraps operations as acquire -> operation -> release with no
// guaranteed release on failure, leaving expiration to reclaim a leaked
// lease after at most Expiration.
func (l *storageKeyLock) Release(ctx context.Context) error {
	return l.s.Delete(ctx, l.key)
}

// With runs fn while holding a lease on key, releasing it afterward
// regardless of fn's outcome. This is the Go rendering of the source's
// doWithLock helper.
func With(ctx context.Context, l Locker, key string, fn func(ctx context.Context) error) error {
	lk := l.NewLock(key)
	if err := lk.Acquire(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	_ = lk.Release(ctx)
	return err
}
