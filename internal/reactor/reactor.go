// Package reactor implements the single state-owning event loop: one
// goroutine holds every pool/backend/client's mutable state and
// communicates with per-connection I/O goroutines (package backend,
// package frontend) exclusively over channels, rather than a hand-rolled
// epoll/kqueue reactor.
package reactor

import (
	"time"

	"github.com/segmentio/ksuid"

	"github.com/compozy/redishard/internal/backend"
	"github.com/compozy/redishard/internal/frontend"
	"github.com/compozy/redishard/internal/logger"
	"github.com/compozy/redishard/internal/metrics"
	"github.com/compozy/redishard/internal/pool"
	"github.com/compozy/redishard/internal/request"
	"github.com/compozy/redishard/internal/resp"
)

// backendConnEvent wraps a backend.ConnEvent with the pool it belongs to,
// since a single reactor fans in events from every pool's backends.
type backendConnEvent struct {
	pool string
	ev   backend.ConnEvent
}

// Loop is the single mutator of Runtime state. Every field below is touched only from the
// goroutine running Run.
type Loop struct {
	Pools     map[string]*pool.Pool
	Listeners map[string]*frontend.Listener

	backendEvents  chan backendConnEvent
	frontendEvents chan frontend.FrameEvent
	submit         chan func()
	tick           *time.Ticker
	stop           chan struct{}

	log     logger.Logger
	metrics *metrics.Metrics
}

// New builds an empty Loop. Pools and Listeners are populated by the
// owning proxy.Runtime as it brings up configuration.
func New(log logger.Logger, m *metrics.Metrics) *Loop {
	return &Loop{
		Pools:          make(map[string]*pool.Pool),
		Listeners:      make(map[string]*frontend.Listener),
		backendEvents:  make(chan backendConnEvent, 4096),
		frontendEvents: make(chan frontend.FrameEvent, 4096),
		submit:         make(chan func(), 16),
		tick:           time.NewTicker(time.Millisecond),
		stop:           make(chan struct{}),
		log:            log,
		metrics:        m,
	}
}

// BackendEvents returns the channel a newly dialed backend.Conn should be
// constructed with so its events reach this loop, tagged with poolName.
func (l *Loop) BackendEvents(poolName string) chan<- backend.ConnEvent {
	relay := make(chan backend.ConnEvent, 256)
	go func() {
		for ev := range relay {
			l.backendEvents <- backendConnEvent{pool: poolName, ev: ev}
		}
	}()
	return relay
}

// FrontendEvents returns the shared channel every frontend.Listener for
// this loop should forward FrameEvents to.
func (l *Loop) FrontendEvents() chan<- frontend.FrameEvent { return l.frontendEvents }

// Stop ends Run on its next iteration.
func (l *Loop) Stop() { close(l.stop) }

// Submit schedules fn to run on the loop goroutine and returns
// immediately: any code outside this package (the admin handler, in
// particular) that needs to touch Pools/Listeners must marshal the
// mutation through here rather than taking a lock, preserving the
// no-locking invariant of the single-mutator design.
func (l *Loop) Submit(fn func()) { l.submit <- fn }

// SubmitSync schedules fn and blocks until it has run, for callers (e.g.
// SWITCHCONFIG) that need the mutation applied before they reply.
func (l *Loop) SubmitSync(fn func()) {
	done := make(chan struct{})
	l.submit <- func() {
		fn()
		close(done)
	}
	<-done
}

// Run is the event loop itself.
func (l *Loop) Run() {
	for {
		select {
		case <-l.stop:
			l.tick.Stop()
			return
		case ev := <-l.backendEvents:
			l.handleBackendEvent(ev)
		case ev := <-l.frontendEvents:
			l.handleFrontendEvent(ev)
		case fn := <-l.submit:
			fn()
		case now := <-l.tick.C:
			l.handleTick(now)
		}
	}
}

func (l *Loop) handleBackendEvent(wrapped backendConnEvent) {
	p := l.Pools[wrapped.pool]
	if p == nil {
		return
	}
	b := p.Backend(wrapped.ev.BackendID)
	if b == nil {
		return
	}
	switch wrapped.ev.Kind {
	case backend.EventFrame:
		if readyEv := b.HandleFrame(wrapped.ev.Frame); readyEv != nil {
			p.OnReady(readyEv.BackendID)
			l.log.Info("backend ready", "pool", wrapped.pool, "backend", readyEv.BackendID)
			if p.IsCluster() && !p.Ready() {
				l.refreshSlots(wrapped.pool, p)
			}
		}
	case backend.EventIOError:
		if lost := b.HandleIOError(wrapped.ev.Err); lost != nil {
			p.OnLost(lost.BackendID)
			l.log.Warn("backend lost", "pool", wrapped.pool, "backend", lost.BackendID, "reason", lost.Reason)
		}
	}
}

func (l *Loop) handleFrontendEvent(ev frontend.FrameEvent) {
	switch ev.Kind {
	case frontend.EventFrame:
		l.dispatchClientFrame(ev)
	case frontend.EventIOError, frontend.EventClosed:
		l.closeClient(ev)
	}
}

// dispatchClientFrame validates, routes and dispatches one parsed client
// command.
func (l *Loop) dispatchClientFrame(ev frontend.FrameEvent) {
	lst := l.Listeners[ev.PoolName]
	if lst == nil {
		return
	}
	c := lst.Client(ev.Client.ID)
	if c == nil || c.Handle.Generation != ev.Client.Generation {
		return
	}
	p := l.Pools[ev.PoolName]
	seq := c.NextSeq()
	finalReply := c.ReplyChan(seq)

	if errReply := frontend.Validate(ev.Frame); errReply != nil {
		req := &request.Request{Seq: seq, Client: ev.Client, ReplyTo: finalReply}
		req.Complete(request.Reply{Data: errReply})
		return
	}

	key, hasKey := ev.Frame.Key()
	req := &request.Request{
		Raw:        ev.Frame.Raw,
		Key:        key,
		HasKey:     hasKey,
		Client:     ev.Client,
		Seq:        seq,
		EnqueuedAt: time.Now(),
		ReplyTo:    finalReply,
	}
	if p != nil {
		req.Deadline = req.EnqueuedAt.Add(p.Config.Timeout())
	}
	// handleID is a k-sortable trace id, logged (never stored) purely for
	// correlating a request across pool/backend log lines when debugging
	// listener generation churn across a config switch.
	handleID := ksuid.New().String()
	l.log.Debug("dispatch", "pool", ev.PoolName, "request_id", handleID, "client_id", ev.Client.ID, "seq", seq)

	if p == nil {
		req.Complete(request.Reply{Data: resp.NotConnected})
		if l.metrics != nil {
			l.metrics.Requests.Inc()
		}
		return
	}
	if l.metrics != nil {
		l.metrics.Requests.Inc()
	}
	if p.IsCluster() {
		l.dispatchClusterAware(ev.PoolName, p, req, finalReply, false)
		return
	}
	l.dispatchResult(ev.PoolName, p, req, p.Dispatch(req))
}

// dispatchResult applies the outcome of a Pool.Dispatch call. NeedsReconnect
// means routing picked a backend that its ejection policy hasn't dropped
// from the live set yet but that isn't currently Ready (closed after a
// timeout); reconnecting it here, synchronously, is what lets a pool with
// auto_eject_hosts enabled retry the same backend on every request up to
// failure_limit consecutive failures instead of going unroutable after the
// first one.
func (l *Loop) dispatchResult(poolName string, p *pool.Pool, req *request.Request, result pool.DispatchResult) {
	switch result.Outcome {
	case pool.Unavailable:
		req.Complete(request.Reply{Data: resp.NotConnected})
	case pool.NeedsReconnect:
		b := p.Backend(result.BackendID)
		l.reconnect(poolName, p, b)
		if b.State() == backend.Ready {
			b.Dispatch(req)
			return
		}
		p.OnLost(result.BackendID)
		req.Complete(request.Reply{Data: resp.NotConnected})
	}
}

// dispatchClusterAware dispatches req against a cluster pool but, unlike the
// plain path, intercepts the backend's reply on its way back to the
// client: the reactor is otherwise never on the reply path
// (backend.HandleFrame completes requests by writing straight to
// ReplyTo), so -MOVED/-ASK can't be observed without this detour. retried
// guards against following more than one redirect: a redirect seen on a
// retry is delivered to the client as-is rather than chased again.
func (l *Loop) dispatchClusterAware(
	poolName string,
	p *pool.Pool,
	req *request.Request,
	finalReply chan<- request.Reply,
	retried bool,
) {
	intercept := make(chan request.Reply, 1)
	req.ReplyTo = intercept
	l.dispatchResult(poolName, p, req, p.Dispatch(req))
	go func() {
		reply := <-intercept
		l.submit <- func() {
			l.handleClusterReply(poolName, p, req, reply, finalReply, retried)
		}
	}()
}

// handleClusterReply runs on the loop goroutine: it inspects the
// intercepted reply for a redirect and either retries once against the
// redirect target or forwards the reply to the client unchanged.
func (l *Loop) handleClusterReply(
	poolName string,
	p *pool.Pool,
	orig *request.Request,
	reply request.Reply,
	finalReply chan<- request.Reply,
	retried bool,
) {
	if retried {
		finalReply <- reply
		return
	}
	line := string(reply.Data)
	if addr, ok := pool.ParseMoved(line); ok {
		l.retryRedirected(poolName, p, orig, addr, false, finalReply)
		return
	}
	if addr, ok := pool.ParseAsk(line); ok {
		l.retryRedirected(poolName, p, orig, addr, true, finalReply)
		return
	}
	finalReply <- reply
}

// retryRedirected resends the original command to the backend named by a
// -MOVED/-ASK redirect. For ASK, a fire-and-forget ASKING
// precedes it on the same backend, per the Redis Cluster client contract.
func (l *Loop) retryRedirected(
	poolName string,
	p *pool.Pool,
	orig *request.Request,
	addr string,
	asking bool,
	finalReply chan<- request.Reply,
) {
	id, ok := p.BackendIDForAddr(addr)
	if !ok {
		finalReply <- request.Reply{Data: resp.NotConnected}
		return
	}
	b := p.Backend(id)
	if b == nil || !b.State().Live() {
		finalReply <- request.Reply{Data: resp.NotConnected}
		return
	}
	if asking {
		b.Dispatch(&request.Request{
			Raw:        pool.AskingCommand(),
			EnqueuedAt: time.Now(),
			Deadline:   orig.Deadline,
			ReplyTo:    make(chan request.Reply, 1),
		})
	}
	retry := &request.Request{
		Raw:        orig.Raw,
		Key:        orig.Key,
		HasKey:     orig.HasKey,
		Client:     orig.Client,
		Seq:        orig.Seq,
		EnqueuedAt: time.Now(),
		Deadline:   orig.Deadline,
	}
	l.dispatchClusterAware(poolName, p, retry, finalReply, true)
}

// refreshSlots issues a CLUSTER SLOTS discovery request against the first
// live backend of a cluster pool. The reply is observed on the
// loop goroutine via the same forwarding-into-submit pattern used for
// client replies, so Pool.ApplySlots/MarkSlotsUnready still only ever run
// on the single loop goroutine.
func (l *Loop) refreshSlots(poolName string, p *pool.Pool) {
	id, ok := p.NextSlotDiscoveryBackend()
	if !ok {
		p.MarkSlotsUnready()
		return
	}
	b := p.Backend(id)
	replyCh := make(chan request.Reply, 1)
	req := &request.Request{
		Raw:        pool.ClusterSlotsCommand(),
		Tag:        request.ClusterSlots,
		EnqueuedAt: time.Now(),
		ReplyTo:    replyCh,
	}
	b.Dispatch(req)
	go func() {
		reply := <-replyCh
		l.submit <- func() {
			l.applySlotsReply(poolName, p, reply)
		}
	}()
}

func (l *Loop) applySlotsReply(poolName string, p *pool.Pool, reply request.Reply) {
	slots, err := pool.ParseClusterSlotsReply(reply.Data)
	if err != nil {
		p.MarkSlotsUnready()
		l.log.Warn("cluster slots discovery failed", "pool", poolName, "error", err)
		return
	}
	p.ApplySlots(slots)
}

func (l *Loop) closeClient(ev frontend.FrameEvent) {
	if lst := l.Listeners[ev.PoolName]; lst != nil {
		lst.Forget(ev.Client.ID)
	}
}

// handleTick drives deadline expiry, retry/probe transitions and
// ejection.
func (l *Loop) handleTick(now time.Time) {
	for name, p := range l.Pools {
		for _, b := range p.AllBackends() {
			if lost := b.TickExpireDeadline(now); lost != nil {
				p.OnLost(lost.BackendID)
			}
			if b.ReadyToRetryConnect(now) {
				l.reconnect(name, p, b)
			}
			if b.ReadyToProbe(now) {
				l.probe(name, p, b)
			}
			if b.ShouldEject() {
				if lost := b.Eject(); lost != nil {
					p.OnLost(lost.BackendID)
					l.log.Warn("backend ejected", "pool", name, "backend", lost.BackendID)
				}
			}
		}
	}
}

// ConnectAll dials every currently Disconnected backend across every pool.
// Callers (proxy.Runtime.Start) must invoke this via Submit/SubmitSync so
// the dial, like every other mutation of backend state, happens on the
// loop goroutine.
func (l *Loop) ConnectAll() {
	for name, p := range l.Pools {
		for _, b := range p.AllBackends() {
			if b.State() == backend.Disconnected {
				l.reconnect(name, p, b)
			}
		}
	}
}

func (l *Loop) reconnect(poolName string, p *pool.Pool, b *backend.Backend) {
	b.BeginConnecting()
	conn, err := backend.Dial(b.ID, b.Addr, l.BackendEvents(poolName), l.metrics)
	if err != nil {
		if lost := b.HandleIOError(err); lost != nil {
			p.OnLost(lost.BackendID)
		}
		return
	}
	// AttachConn advances straight through to Ready when the backend needs
	// no AUTH/SELECT prelude, without a frame round-trip to observe; when a
	// prelude is needed, AttachConn already queued and sent it, and Ready is
	// instead reached later via HandleFrame's ReadyEvent in
	// handleBackendEvent.
	b.AttachConn(conn)
	if b.State() == backend.Ready {
		p.OnReady(b.ID)
	}
}

func (l *Loop) probe(poolName string, p *pool.Pool, b *backend.Backend) {
	conn, err := backend.Dial(b.ID, b.Addr, l.BackendEvents(poolName), l.metrics)
	if err != nil {
		if lost := b.HandleIOError(err); lost != nil {
			p.OnLost(lost.BackendID)
		}
		return
	}
	b.BeginProbing(conn)
}
