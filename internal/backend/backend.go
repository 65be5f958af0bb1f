package backend

import (
	"time"

	"github.com/compozy/redishard/internal/logger"
	"github.com/compozy/redishard/internal/request"
	"github.com/compozy/redishard/internal/resp"
)

// Lost is the event a Backend emits when it leaves Ready. The Pool consumes
// these to recompute its live set; Backend itself never touches Pool
// state directly.
type Lost struct {
	BackendID int
	Reason    string
}

// ReadyEvent is emitted when a Backend enters Ready.
type ReadyEvent struct {
	BackendID int
}

// Backend owns one TCP connection and drives its connect/auth/select
// state machine.
type Backend struct {
	ID           int
	Addr         string
	Weight       uint32
	AuthPassword string
	DBIndex      uint32

	RetryTimeout time.Duration
	FailureLimit uint32
	AutoEject    bool

	state               State
	conn                *Conn
	queue               Queue
	consecutiveFailures uint32
	retryAt             time.Time
	log                 logger.Logger
}

// New creates a Backend in the Disconnected state.
func New(id int, addr string, log logger.Logger) *Backend {
	return &Backend{ID: id, Addr: addr, state: Disconnected, log: log}
}

// State returns the current state.
func (b *Backend) State() State { return b.state }

// ConsecutiveFailures returns the current failure streak.
func (b *Backend) ConsecutiveFailures() uint32 { return b.consecutiveFailures }

// QueueLen reports how many requests are in flight on this backend.
func (b *Backend) QueueLen() int { return b.queue.Len() }

// RetryAt returns when this backend should next attempt reconnect/probe.
func (b *Backend) RetryAt() time.Time { return b.retryAt }

// AttachConn installs a freshly dialed connection and advances through the
// Connecting→Authenticating/SelectingDb→Ready prelude. It
// returns any prelude request that must be sent immediately, or nil if the
// backend went straight to Ready.
func (b *Backend) AttachConn(conn *Conn) *request.Request {
	b.conn = conn
	b.state = Connecting
	return b.advancePrelude()
}

// advancePrelude synthesizes the next AUTH/SELECT prelude request, or
// transitions to Ready when none remain.
func (b *Backend) advancePrelude() *request.Request {
	switch b.state {
	case Connecting:
		if b.AuthPassword != "" {
			b.state = Authenticating
			return b.synthesize(request.Auth, authCommand(b.AuthPassword))
		}
		fallthrough
	case Authenticating:
		if b.DBIndex != 0 {
			b.state = SelectingDB
			return b.synthesize(request.SelectDB, selectCommand(b.DBIndex))
		}
		fallthrough
	default:
		b.enterReady()
		return nil
	}
}

func (b *Backend) synthesize(tag request.Tag, raw []byte) *request.Request {
	req := &request.Request{Raw: raw, Tag: tag, EnqueuedAt: time.Now()}
	b.queue.Push(req)
	b.conn.Send(raw)
	return req
}

func authCommand(password string) []byte {
	return resp.EncodeArray([][]byte{
		resp.EncodeBulkString([]byte("AUTH")),
		resp.EncodeBulkString([]byte(password)),
	})
}

func selectCommand(db uint32) []byte {
	return resp.EncodeArray([][]byte{
		resp.EncodeBulkString([]byte("SELECT")),
		resp.EncodeBulkString([]byte(itoa(db))),
	})
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (b *Backend) enterReady() {
	b.state = Ready
}

// Dispatch enqueues a user request and writes it to the socket. Callers
// must only call this when State() == Ready.
func (b *Backend) Dispatch(req *request.Request) {
	b.queue.Push(req)
	b.conn.Send(req.Raw)
}

// HandleFrame pairs a received reply with the queue head.
// It returns a *ReadyEvent when this frame makes the backend Ready (it
// completes the auth/select prelude, or answers a health-check PING without
// error), or nil otherwise.
func (b *Backend) HandleFrame(frame resp.Frame) *ReadyEvent {
	head := b.queue.Pop()
	if head == nil {
		// Protocol error: a reply with no matching request. Treat as a
		// connection fault.
		b.fail("unsolicited reply")
		return nil
	}
	isErr := frame.Kind == resp.Error
	switch head.Tag {
	case request.Auth, request.SelectDB:
		if isErr {
			b.fail(head.Tag.String() + " prelude failed")
			return nil
		}
		if next := b.advancePrelude(); next == nil && b.state == Ready {
			return &ReadyEvent{BackendID: b.ID}
		}
		return nil
	case request.PingProbe:
		if isErr {
			b.rearmProbe()
			return nil
		}
		b.enterReady()
		return &ReadyEvent{BackendID: b.ID}
	default:
		b.consecutiveFailures = 0
		head.Complete(request.Reply{Data: frame.Raw})
		return nil
	}
}

// HandleIOError tears down the connection after a socket/protocol fault,
// failing every queued request with "Not connected" and
// transitioning to Failed.
func (b *Backend) HandleIOError(err error) *Lost {
	b.closeConn()
	for _, req := range b.queue.DrainAll() {
		req.Complete(request.Reply{Data: resp.NotConnected})
	}
	wasReady := b.state == Ready || b.state == Probing
	b.consecutiveFailures++
	b.state = Failed
	b.scheduleRetry()
	if wasReady || b.consecutiveFailures == 1 {
		return &Lost{BackendID: b.ID, Reason: err.Error()}
	}
	return nil
}

func (b *Backend) fail(reason string) *Lost {
	b.closeConn()
	for _, req := range b.queue.DrainAll() {
		req.Complete(request.Reply{Data: resp.NotConnected})
	}
	b.consecutiveFailures++
	b.state = Failed
	b.scheduleRetry()
	return &Lost{BackendID: b.ID, Reason: reason}
}

func (b *Backend) closeConn() {
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

func (b *Backend) scheduleRetry() {
	retry := b.RetryTimeout
	if retry <= 0 {
		retry = time.Second
	}
	b.retryAt = time.Now().Add(retry)
}

// rearmProbe re-arms the ejection timer after a failed health-check PING
//.
func (b *Backend) rearmProbe() {
	b.closeConn()
	b.state = Ejected
	b.scheduleRetry()
}

// TickExpireDeadline fails the head request with ProxyTimedOut if its
// deadline has passed, then closes the socket because protocol alignment
// is now lost. Returns the Lost event when the backend must leave the live
// set, or nil when no expiry occurred, when the backend was not Ready, or
// when an ejection policy still keeps it routable (see below).
func (b *Backend) TickExpireDeadline(now time.Time) *Lost {
	head := b.queue.Head()
	if head == nil || !head.Expired(now) {
		return nil
	}
	b.queue.Pop()
	head.Complete(request.Reply{Data: resp.ProxyTimedOut})
	for _, req := range b.queue.DrainAll() {
		req.Complete(request.Reply{Data: resp.NotConnected})
	}
	wasReady := b.state == Ready
	b.closeConn()
	b.consecutiveFailures++
	b.state = Failed
	b.scheduleRetry()
	if !wasReady {
		return nil
	}
	// A pending ejection policy keeps the backend eligible for routing
	// through failure_limit consecutive timeouts, retried on each dispatch
	// instead of waiting out retry_timeout_ms; only Eject (once the limit
	// is reached) removes it from the live set.
	if b.AutoEject && b.FailureLimit > 0 && b.consecutiveFailures < b.FailureLimit {
		return nil
	}
	return &Lost{BackendID: b.ID, Reason: "request timeout"}
}

// ShouldEject reports whether a Failed backend has crossed failure_limit
// and auto_eject_hosts is enabled.
func (b *Backend) ShouldEject() bool {
	return b.state == Failed && b.AutoEject && b.FailureLimit > 0 &&
		b.consecutiveFailures >= b.FailureLimit
}

// Eject transitions Failed→Ejected.
func (b *Backend) Eject() *Lost {
	b.state = Ejected
	b.scheduleRetry()
	return &Lost{BackendID: b.ID, Reason: "ejected after repeated failures"}
}

// ReadyToRetryConnect reports whether a Failed backend's retry_timeout_ms
// has elapsed.
func (b *Backend) ReadyToRetryConnect(now time.Time) bool {
	return b.state == Failed && !now.Before(b.retryAt)
}

// ReadyToProbe reports whether an Ejected backend's retry_timeout_ms has
// elapsed.
func (b *Backend) ReadyToProbe(now time.Time) bool {
	return b.state == Ejected && !now.Before(b.retryAt)
}

// BeginConnecting marks the backend as attempting a fresh TCP dial.
func (b *Backend) BeginConnecting() { b.state = Connecting }

// BeginProbing marks the backend Ejected→Probing and returns the synthetic
// PING request that must be dialed and sent.
func (b *Backend) BeginProbing(conn *Conn) *request.Request {
	b.conn = conn
	b.state = Probing
	req := &request.Request{
		Raw:        resp.EncodeArray([][]byte{resp.EncodeBulkString([]byte("PING"))}),
		Tag:        request.PingProbe,
		EnqueuedAt: time.Now(),
	}
	b.queue.Push(req)
	b.conn.Send(req.Raw)
	return req
}

// Drain transitions Ready→Draining ahead of a config switch;
// the backend is closed once its queue empties.
func (b *Backend) Drain() {
	if b.state == Ready {
		b.state = Draining
	}
}

// DrainComplete reports whether a Draining backend's queue has emptied and
// it may be closed.
func (b *Backend) DrainComplete() bool {
	return b.state == Draining && b.queue.Len() == 0
}

// Shutdown fails any remaining requests and closes the connection,
// transitioning to Closed.
func (b *Backend) Shutdown() {
	for _, req := range b.queue.DrainAll() {
		req.Complete(request.Reply{Data: resp.NotConnected})
	}
	b.closeConn()
	b.state = Closed
}
