package frontend

import (
	"net"
	"time"

	"github.com/compozy/redishard/internal/metrics"
	"github.com/compozy/redishard/internal/request"
	"github.com/compozy/redishard/internal/resp"
)

// FrameEventKind identifies what a client connection's reader goroutine
// observed.
type FrameEventKind int

const (
	EventFrame FrameEventKind = iota
	EventIOError
	EventClosed
)

// FrameEvent is sent from a Client's reader goroutine to the reactor loop
//.
type FrameEvent struct {
	PoolName string
	Client   ClientHandle
	Kind     FrameEventKind
	Frame    resp.Frame
	Err      error
}

// ClientHandle identifies one accepted connection for the lifetime of the
// listener's current configuration generation.
type ClientHandle struct {
	ID         uint64
	Generation uint64
}

// Client owns one accepted client socket: its read loop (parsing RESP
// frames and validating commands), its reply loop (reassembling backend
// replies into per-client FIFO order via ReplyBuffer and writing them
// out), and the next-sequence-number counter used to tag outgoing
// requests.
type Client struct {
	Handle   ClientHandle
	PoolName string
	Addr     string

	nc      net.Conn
	events  chan<- FrameEvent
	replies chan taggedReply
	closeCh chan struct{}
	seqNext uint64
	buffer  *ReplyBuffer
	metrics *metrics.Metrics
}

type taggedReply struct {
	seq  uint64
	data []byte
}

// Accept wraps an already-accepted net.Conn as a Client and starts its
// reader/reply goroutines. m is optional and may be nil.
func Accept(poolName string, handle ClientHandle, nc net.Conn, events chan<- FrameEvent, m *metrics.Metrics) *Client {
	c := &Client{
		Handle:   handle,
		PoolName: poolName,
		Addr:     nc.RemoteAddr().String(),
		nc:       nc,
		events:   events,
		replies:  make(chan taggedReply, 256),
		closeCh:  make(chan struct{}),
		buffer:   NewReplyBuffer(),
		metrics:  m,
	}
	go c.readLoop()
	go c.replyLoop()
	return c
}

// NextSeq allocates the next per-client sequence number for a freshly
// parsed request.
func (c *Client) NextSeq() uint64 {
	seq := c.seqNext
	c.seqNext++
	return seq
}

// ReplyChan exposes the channel a Request.ReplyTo should be wired to so
// that backend-originated replies flow into this client's reordering
// buffer without the reactor touching Client state directly.
func (c *Client) ReplyChan(seq uint64) chan<- request.Reply {
	ch := make(chan request.Reply, 1)
	go func() {
		reply, ok := <-ch
		if !ok {
			return
		}
		select {
		case c.replies <- taggedReply{seq: seq, data: reply.Data}:
		case <-c.closeCh:
		}
	}()
	return ch
}

func (c *Client) readLoop() {
	reader := resp.NewReader()
	buf := make([]byte, 64*1024)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			if c.metrics != nil {
				c.metrics.RecvClientBytes.Add(float64(n))
			}
			reader.Feed(buf[:n])
			for {
				frame, ferr := reader.Next()
				if ferr == resp.ErrNeedMore {
					break
				}
				if ferr != nil {
					c.emit(FrameEvent{PoolName: c.PoolName, Client: c.Handle, Kind: EventIOError, Err: ferr})
					return
				}
				c.emit(FrameEvent{PoolName: c.PoolName, Client: c.Handle, Kind: EventFrame, Frame: frame.Clone()})
			}
		}
		if err != nil {
			c.emit(FrameEvent{PoolName: c.PoolName, Client: c.Handle, Kind: EventClosed, Err: err})
			return
		}
	}
}

// replyLoop writes out replies as the reorder buffer releases them.
func (c *Client) replyLoop() {
	writer := newBufferedWriter(c.nc)
	defer writer.Flush()
	for {
		select {
		case r := <-c.replies:
			for _, out := range c.buffer.Submit(r.seq, r.data) {
				if err := writer.Write(out); err != nil {
					c.Close()
					return
				}
				if c.metrics != nil {
					c.metrics.Responses.Inc()
					c.metrics.SendClientBytes.Add(float64(len(out)))
				}
			}
			writer.Flush()
		case <-c.closeCh:
			return
		}
	}
}

func (c *Client) emit(ev FrameEvent) {
	select {
	case c.events <- ev:
	case <-c.closeCh:
	}
}

// Close tears down the socket once (idempotent via closeCh).
func (c *Client) Close() error {
	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}
	return c.nc.Close()
}

// SetDeadline bounds how long the client socket may keep reading or
// writing, d from now.
func (c *Client) SetDeadline(d time.Duration) {
	_ = c.nc.SetDeadline(time.Now().Add(d))
}
