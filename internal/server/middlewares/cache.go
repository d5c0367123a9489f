package middleware

// Rendered state objects are immutable for a given entity version, so an LRU
// keyed by version never serves stale data.

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

type StateCache struct {
	cache *lru.Cache
}

// NewStateCache sets up an in-memory LRU cache.
func NewStateCache(size int) (*StateCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &StateCache{cache: cache}, nil
}

// GetOrRender returns the cached value for the key or stores render's result.
func (s *StateCache) GetOrRender(uniqueID string, version uint64, attempt time.Time, render func() interface{}) interface{} {
	key := generateCacheKey(uniqueID, version, attempt)
	if cached, ok := s.cache.Get(key); ok {
		return cached
	}
	v := render()
	s.cache.Add(key, v)
	return v
}

// Len reports the number of cached entries.
func (s *StateCache) Len() int {
	return s.cache.Len()
}

func (s *StateCache) contains(uniqueID string, version uint64, attempt time.Time) bool {
	return s.cache.Contains(generateCacheKey(uniqueID, version, attempt))
}

func generateCacheKey(uniqueID string, version uint64, attempt time.Time) string {
	return fmt.Sprintf("%s@%d@%d", uniqueID, version, attempt.UnixNano())
}
