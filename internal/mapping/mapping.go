// Package mapping resolves which users can see a path in a storage,
// backed by the app database with a TTL-bounded cache in front.
package mapping

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/filecloud/pushgate/internal/metrics"
	"github.com/filecloud/pushgate/internal/user"
)

// cacheTTL bounds how long a loaded storage mapping is served before
// the next lookup goes back to the database.
const cacheTTL = 5 * time.Minute

// UserStorageAccess is one mount row: the user has read access to any
// path that begins with Root.
type UserStorageAccess struct {
	User user.ID
	Root string
}

// Loader fetches the access rows for one storage from the database.
type Loader interface {
	LoadStorageMapping(ctx context.Context, storage uint32) ([]UserStorageAccess, error)
}

type cachedAccess struct {
	access    []UserStorageAccess
	validTill time.Time
}

// valid reports whether the entry may still be served. An entry
// queried exactly at validTill counts as expired (strict before).
func (c cachedAccess) valid(now time.Time) bool {
	return now.Before(c.validTill)
}

// StorageMapping memoizes storage access rows for cacheTTL. Concurrent
// misses for the same storage may each issue a load; loads are
// idempotent and the last install wins. The lock is never held across
// a database query.
type StorageMapping struct {
	loader  Loader
	metrics *metrics.Metrics
	now     func() time.Time

	queryCount atomic.Uint64

	mu    sync.RWMutex
	cache map[uint32]cachedAccess
}

func New(loader Loader, m *metrics.Metrics) *StorageMapping {
	return &StorageMapping{
		loader:  loader,
		metrics: m,
		now:     time.Now,
		cache:   make(map[uint32]cachedAccess),
	}
}

// GetUsersForStoragePath returns the user of every access row whose
// root is a prefix of path. Matching is a plain byte prefix with no
// path-segment awareness: a root of "/a" matches the path "/ab".
// Duplicates are preserved; a user mounting the same storage at
// multiple roots appears once per matching root.
func (m *StorageMapping) GetUsersForStoragePath(ctx context.Context, storage uint32, path string) ([]user.ID, error) {
	access, err := m.getAccess(ctx, storage)
	if err != nil {
		return nil, err
	}

	var users []user.ID
	for _, row := range access {
		if strings.HasPrefix(path, row.Root) {
			users = append(users, row.User)
		}
	}
	return users, nil
}

// AccessCount returns the number of access rows cached or loaded for
// the storage.
func (m *StorageMapping) AccessCount(ctx context.Context, storage uint32) (int, error) {
	access, err := m.getAccess(ctx, storage)
	if err != nil {
		return 0, err
	}
	return len(access), nil
}

// QueryCount reports how many database loads have been executed.
func (m *StorageMapping) QueryCount() uint64 {
	return m.queryCount.Load()
}

func (m *StorageMapping) getAccess(ctx context.Context, storage uint32) ([]UserStorageAccess, error) {
	m.mu.RLock()
	cached, ok := m.cache[storage]
	m.mu.RUnlock()

	if ok && cached.valid(m.now()) {
		return cached.access, nil
	}

	// Load outside the lock. A failed load installs nothing, so the
	// next event for this storage retries.
	access, err := m.loader.LoadStorageMapping(ctx, storage)
	if err != nil {
		m.metrics.MappingErrors.Inc()
		return nil, err
	}
	m.queryCount.Add(1)
	m.metrics.MappingQueries.Inc()

	m.mu.Lock()
	m.cache[storage] = cachedAccess{
		access:    access,
		validTill: m.now().Add(cacheTTL),
	}
	m.mu.Unlock()

	return access, nil
}
