package hashing

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNoBackend is returned when a pool's live set is empty.
var ErrNoBackend = errNoBackend{}

type errNoBackend struct{}

func (errNoBackend) Error() string { return "no live backend" }

// Router picks a backend id for a key under one of the three distribution
// policies. It is stateless with respect to routing logic, but keeps a
// small LRU memoization cache of recent key→backend decisions that must
// be invalidated whenever the live set changes.
type Router struct {
	cache *lru.Cache[string, int]
}

// NewRouter creates a Router with a bounded decision cache of size cap.
func NewRouter(cap int) *Router {
	c, _ := lru.New[string, int](cap)
	return &Router{cache: c}
}

// InvalidateCache drops every memoized decision. Call this on every
// backend `ready`/`lost` transition that changes a pool's live set:
// recomputation of the live set is incremental.
func (r *Router) InvalidateCache() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

// RouteModulo resolves key via the Modulo policy, consulting and
// populating the memoization cache. A cached decision is returned as-is
// for the same cacheKey, so callers must call InvalidateCache whenever
// liveIDs changes.
func (r *Router) RouteModulo(cacheKey string, key []byte, liveIDs []int) (int, error) {
	if len(liveIDs) == 0 {
		return 0, ErrNoBackend
	}
	if r.cache != nil {
		if v, ok := r.cache.Get(cacheKey); ok {
			return v, nil
		}
	}
	backend := Modulo(key, liveIDs)
	if r.cache != nil {
		r.cache.Add(cacheKey, backend)
	}
	return backend, nil
}

// RouteKetama resolves key via a pre-built Ketama ring, consulting and
// populating the memoization cache.
func (r *Router) RouteKetama(cacheKey string, key []byte, ring *Ketama) (int, error) {
	if ring == nil || ring.Empty() {
		return 0, ErrNoBackend
	}
	if r.cache != nil {
		if v, ok := r.cache.Get(cacheKey); ok {
			return v, nil
		}
	}
	backend, ok := ring.Lookup(key)
	if !ok {
		return 0, ErrNoBackend
	}
	if r.cache != nil {
		r.cache.Add(cacheKey, backend)
	}
	return backend, nil
}
