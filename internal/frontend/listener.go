package frontend

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/compozy/redishard/internal/logger"
	"github.com/compozy/redishard/internal/metrics"
)

// Listener accepts client connections for one configured pool's
// `listen_port`.
type Listener struct {
	PoolName string
	Addr     string

	// Metrics is optional; when set, accepted/closed connections are
	// counted for the admin STATS command.
	Metrics *metrics.Metrics

	ln         net.Listener
	events     chan<- FrameEvent
	generation uint64
	nextID     uint64

	mu      sync.Mutex
	clients map[uint64]*Client

	log logger.Logger
}

// Listen opens the TCP listener for addr and returns a Listener ready to
// Serve. generation identifies the configuration epoch this listener
// belongs to, so stale client handles from a
// replaced listener are never confused with a new one's.
func Listen(poolName, addr string, generation uint64, events chan<- FrameEvent, log logger.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		PoolName:   poolName,
		Addr:       addr,
		ln:         ln,
		events:     events,
		generation: generation,
		clients:    make(map[uint64]*Client),
		log:        log,
	}, nil
}

// Serve accepts connections until the listener is closed. It always
// returns the accept error that ended it (net.ErrClosed after Close).
func (l *Listener) Serve() error {
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			return err
		}
		id := atomic.AddUint64(&l.nextID, 1)
		handle := ClientHandle{ID: id, Generation: l.generation}
		c := Accept(l.PoolName, handle, nc, l.events, l.Metrics)
		l.mu.Lock()
		l.clients[id] = c
		l.mu.Unlock()
		if l.Metrics != nil {
			l.Metrics.AcceptedClients.Inc()
			l.Metrics.ClientConns.Inc()
		}
		// session is a logging-only correlation id; routing and the arena
		// model both key off ClientHandle{ID, Generation}, not this.
		session := uuid.NewString()
		l.log.Debug("client connected", "pool", l.PoolName, "addr", c.Addr, "client_id", id, "session", session)
	}
}

// ListenAddr returns the listener's bound address, useful when Addr was
// configured with an ephemeral port (":0").
func (l *Listener) ListenAddr() net.Addr { return l.ln.Addr() }

// Client returns the Client for id, or nil if it has since disconnected.
func (l *Listener) Client(id uint64) *Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clients[id]
}

// Forget drops a disconnected client's bookkeeping.
func (l *Listener) Forget(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.clients[id]; ok {
		c.Close()
		delete(l.clients, id)
		if l.Metrics != nil {
			l.Metrics.ClientConns.Dec()
		}
	}
}

// Clients returns every currently tracked client, for draining on
// SWITCHCONFIG/SHUTDOWN.
func (l *Listener) Clients() []*Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Client, 0, len(l.clients))
	for _, c := range l.clients {
		out = append(out, c)
	}
	return out
}

// Close stops accepting new connections. In-flight clients are closed
// separately by the caller once drained.
func (l *Listener) Close() error { return l.ln.Close() }
