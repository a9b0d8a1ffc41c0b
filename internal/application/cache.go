package application

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"bitrix24-mcp-server/internal/domain"
)

// Fetcher loads a fresh response from upstream.
type Fetcher func(ctx context.Context) (*domain.QueryResponse, error)

type cacheEntry struct {
	storedAt   time.Time
	data       []map[string]interface{}
	nextCursor *string
	total      *int
}

// QueryCache memoizes dictionary-style resource responses for a fixed TTL.
// It is a bounded LRU, so the least recently used keys are evicted once
// maxEntries is reached. Concurrent misses on one key share a single fetch.
type QueryCache struct {
	ttl     time.Duration
	entries *lru.Cache[string, cacheEntry]
	group   singleflight.Group
	now     func() time.Time
	logger  *StructuredLogger
}

// NewQueryCache creates a cache holding at most maxEntries responses.
func NewQueryCache(ttl time.Duration, maxEntries int, logger *StructuredLogger) (*QueryCache, error) {
	if maxEntries <= 0 {
		maxEntries = domain.DefaultCacheMaxEntries
	}
	entries, err := lru.New[string, cacheEntry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}
	if logger == nil {
		logger = NewStructuredLogger(nil)
	}
	return &QueryCache{
		ttl:     ttl,
		entries: entries,
		now:     time.Now,
		logger:  logger,
	}, nil
}

// Len returns the number of stored entries, live or stale.
func (c *QueryCache) Len() int {
	return c.entries.Len()
}

// GetOrFetch returns the cached response for (resource, params) when it is
// younger than the TTL, otherwise calls fetch and stores a copy of its result.
// A non-nil cursor always bypasses the cache. A failed fetch leaves any
// existing entry in place. Callers always receive their own copy of the data.
func (c *QueryCache) GetOrFetch(
	ctx context.Context,
	resource string,
	params map[string]interface{},
	cursor *string,
	metadata domain.Metadata,
	fetch Fetcher,
) (*domain.QueryResponse, error) {
	if cursor != nil {
		return fetch(ctx)
	}

	key := CacheKey(resource, params)
	if entry, ok := c.entries.Get(key); ok && c.now().Sub(entry.storedAt) <= c.ttl {
		c.logger.LogDebug("cache hit", map[string]interface{}{"resource": resource})
		return entry.response(metadata), nil
	}

	c.logger.LogDebug("cache miss", map[string]interface{}{"resource": resource})
	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		response, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, cacheEntry{
			storedAt:   c.now(),
			data:       deepCopyRecords(response.Data),
			nextCursor: copyString(response.NextCursor),
			total:      copyInt(response.Total),
		})
		return response, nil
	})
	if err != nil {
		return nil, err
	}

	// The fetched response may be shared with concurrent callers
	shared := value.(*domain.QueryResponse)
	return &domain.QueryResponse{
		Metadata:   shared.Metadata,
		Data:       deepCopyRecords(shared.Data),
		NextCursor: copyString(shared.NextCursor),
		Total:      copyInt(shared.Total),
	}, nil
}

func (e cacheEntry) response(metadata domain.Metadata) *domain.QueryResponse {
	return &domain.QueryResponse{
		Metadata:   metadata,
		Data:       deepCopyRecords(e.data),
		NextCursor: copyString(e.nextCursor),
		Total:      copyInt(e.total),
	}
}

// CacheKey derives the cache key of a query from its resource and the
// canonical JSON of its parameters (encoding/json sorts map keys).
// Parameters that cannot be encoded fall back to their %#v rendering.
func CacheKey(resource string, params map[string]interface{}) string {
	if len(params) == 0 {
		return resource + "::{}"
	}

	blob, err := json.Marshal(params)
	if err != nil {
		blob = []byte(fmt.Sprintf("%#v", params))
	}
	digest := blake3.Sum256(blob)
	return resource + "::" + hex.EncodeToString(digest[:])
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyInt(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}
