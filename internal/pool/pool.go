// Package pool implements one sharded backend pool: the live
// set of backend connections, the routing decision for each request, and
// (for `cluster` pools) Redis Cluster slot discovery and redirection.
package pool

import (
	"sort"
	"sync"

	"github.com/compozy/redishard/internal/backend"
	"github.com/compozy/redishard/internal/config"
	"github.com/compozy/redishard/internal/hashing"
	"github.com/compozy/redishard/internal/logger"
	"github.com/compozy/redishard/internal/request"
	"github.com/compozy/redishard/internal/resp"
)

// Outcome classifies a Dispatch result so callers branch on outcome kind
// instead of a sentinel error.
type Outcome int

const (
	// Routed means the request was enqueued on a live backend.
	Routed Outcome = iota
	// Unavailable means no live backend could take the request; the
	// caller must synthesize -ERROR: Not connected.
	Unavailable
	// NeedsReconnect means routing picked a backend that is still part of
	// the live set (its ejection policy hasn't dropped it yet) but isn't
	// currently Ready; the caller must reconnect it before dispatching.
	NeedsReconnect
)

// DispatchResult is the result of routing one request through a Pool.
type DispatchResult struct {
	Outcome   Outcome
	BackendID int
}

const slotCount = 16384

// Pool owns N backends and the live-set/routing state for one configured
// pool.
type Pool struct {
	Name   string
	Config config.PoolConfig

	mu       sync.Mutex
	backends map[int]*backend.Backend
	order    []int

	router  *hashing.Router
	ring    *hashing.Ketama
	liveIDs []int

	slots      [slotCount]int
	slotAddrs  map[int]string
	slotsReady bool

	log logger.Logger
}

// New builds a Pool and its N backend state machines (not yet connected;
// the reactor dials them). specs must align 1:1 with cfg.Backends or, for
// a cluster pool, cfg.ClusterHosts.
func New(cfg config.PoolConfig, specs []config.BackendSpec, log logger.Logger) *Pool {
	p := &Pool{
		Name:     cfg.Name,
		Config:   cfg,
		backends: make(map[int]*backend.Backend, len(specs)),
		router:   hashing.NewRouter(4096),
		slotAddrs: make(map[int]string, len(specs)),
	}
	for i := range p.slots {
		p.slots[i] = -1
	}
	for i, spec := range specs {
		id := i
		b := backend.New(id, spec.Addr(), log)
		b.Weight = spec.Weight
		if b.Weight == 0 {
			b.Weight = 1
		}
		b.AuthPassword = cfg.Auth
		b.DBIndex = cfg.DB
		b.RetryTimeout = cfg.RetryTimeout()
		b.FailureLimit = cfg.FailureLimit
		b.AutoEject = cfg.AutoEjectHosts
		p.backends[id] = b
		p.order = append(p.order, id)
		p.slotAddrs[id] = spec.Addr()
	}
	return p
}

// Backend returns the backend with the given id, or nil.
func (p *Pool) Backend(id int) *backend.Backend {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backends[id]
}

// AllBackends returns every backend in this pool in configuration order.
func (p *Pool) AllBackends() []*backend.Backend {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*backend.Backend, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.backends[id])
	}
	return out
}

// IsCluster reports whether this pool uses Redis Cluster slot routing.
func (p *Pool) IsCluster() bool { return p.Config.IsCluster() }

// OnReady must be called when a backend transitions into Ready. Cluster pools ignore live-set membership entirely; routing
// there is governed by the slot map alone, and backends never self-eject.
func (p *Pool) OnReady(id int) {
	if p.IsCluster() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addLive(id)
	p.rebuildRouting()
}

// OnLost must be called when a backend leaves Ready.
func (p *Pool) OnLost(id int) {
	if p.IsCluster() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLive(id)
	p.rebuildRouting()
}

func (p *Pool) addLive(id int) {
	for _, existing := range p.liveIDs {
		if existing == id {
			return
		}
	}
	p.liveIDs = append(p.liveIDs, id)
	sort.Ints(p.liveIDs)
}

func (p *Pool) removeLive(id int) {
	for i, existing := range p.liveIDs {
		if existing == id {
			p.liveIDs = append(p.liveIDs[:i], p.liveIDs[i+1:]...)
			return
		}
	}
}

func (p *Pool) rebuildRouting() {
	p.router.InvalidateCache()
	if p.Config.Distribution != config.Ketama {
		return
	}
	members := make([]hashing.KetamaBackend, 0, len(p.liveIDs))
	for _, id := range p.liveIDs {
		b := p.backends[id]
		members = append(members, hashing.KetamaBackend{ID: id, Addr: b.Addr, Weight: b.Weight})
	}
	p.ring = hashing.BuildKetama(members)
}

// Ready reports whether this pool can currently accept dispatches: a
// modulo/ketama pool with at least one live backend, or a cluster pool
// that has successfully discovered its slot map.
func (p *Pool) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.IsCluster() {
		return p.slotsReady
	}
	return len(p.liveIDs) > 0
}

// Dispatch routes req to a live backend, returning Unavailable when no
// backend can take it. It does not itself handle cluster redirection
// retries; the reactor's retryRedirected does that.
func (p *Pool) Dispatch(req *request.Request) DispatchResult {
	id, ok := p.route(req.Key, req.HasKey)
	if !ok {
		return DispatchResult{Outcome: Unavailable}
	}
	b := p.Backend(id)
	if b == nil {
		return DispatchResult{Outcome: Unavailable}
	}
	switch b.State() {
	case backend.Ready:
		b.Dispatch(req)
		return DispatchResult{Outcome: Routed, BackendID: id}
	case backend.Failed:
		return DispatchResult{Outcome: NeedsReconnect, BackendID: id}
	default:
		return DispatchResult{Outcome: Unavailable}
	}
}

// route resolves the backend id a key (or keyless command) belongs to. The
// hash_tag substring rule applies to
// every distribution, cluster included: it runs once, here, before any
// hashing.
func (p *Pool) route(key []byte, hasKey bool) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !hasKey && !p.IsCluster() {
		// Keyless commands route to the first live backend of the pool
		// (no key to distribute on).
		if len(p.liveIDs) == 0 {
			return 0, false
		}
		return p.liveIDs[0], true
	}

	hashKey := key
	if p.Config.HashTag != "" {
		hashKey = resp.HashTagSubstring(key, p.Config.HashTag)
	}

	if p.IsCluster() {
		if !p.slotsReady {
			return 0, false
		}
		slot := hashing.ClusterSlot(hashKey)
		id := p.slots[slot]
		if id < 0 {
			return 0, false
		}
		return id, true
	}

	var (
		id  int
		err error
	)
	switch p.Config.Distribution {
	case config.Ketama:
		id, err = p.router.RouteKetama(p.cacheKey(hashKey), hashKey, p.ring)
	default:
		id, err = p.router.RouteModulo(p.cacheKey(hashKey), hashKey, p.liveIDs)
	}
	if err != nil {
		return 0, false
	}
	return id, true
}

// cacheKey is the memoization key the router caches a routing decision
// under. It is just the hash key itself; correctness after a live-set
// change relies entirely on rebuildRouting calling InvalidateCache on
// every OnReady/OnLost, not on anything folded in here.
func (p *Pool) cacheKey(key []byte) string {
	return string(key)
}

// ClusterSlots returns a copy of the pool's current slot→backend map; every
// entry is -1 until slots have been discovered.
func (p *Pool) ClusterSlots() [slotCount]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots
}

// ApplySlots installs a freshly discovered slot map. Entries naming an address this
// pool has no configured backend for are left unassigned (-1).
func (p *Pool) ApplySlots(addrBySlot [slotCount]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byAddr := make(map[string]int, len(p.slotAddrs))
	for id, addr := range p.slotAddrs {
		byAddr[addr] = id
	}
	for slot, addr := range addrBySlot {
		if id, ok := byAddr[addr]; ok {
			p.slots[slot] = id
		} else {
			p.slots[slot] = -1
		}
	}
	p.slotsReady = true
	p.router.InvalidateCache()
}

// MarkSlotsUnready records a failed `CLUSTER SLOTS` discovery attempt
//.
func (p *Pool) MarkSlotsUnready() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slotsReady = false
}

// NextSlotDiscoveryBackend returns the id of a live backend (cluster
// pools don't track a live set, so this is "the first backend in
// Ready") to issue `CLUSTER SLOTS` against, or false if none is ready.
func (p *Pool) NextSlotDiscoveryBackend() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.order {
		if b := p.backends[id]; b != nil && b.State().Live() {
			return id, true
		}
	}
	return 0, false
}

// BackendIDForAddr resolves a "host:port" string (as named by a
// `-MOVED`/`-ASK` redirect) to one of this pool's configured backend ids.
func (p *Pool) BackendIDForAddr(addr string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, a := range p.slotAddrs {
		if a == addr {
			return id, true
		}
	}
	return 0, false
}

// ClusterSlotsCommand is the raw RESP command issued for slot discovery.
func ClusterSlotsCommand() []byte {
	return resp.EncodeArray([][]byte{
		resp.EncodeBulkString([]byte("CLUSTER")),
		resp.EncodeBulkString([]byte("SLOTS")),
	})
}
