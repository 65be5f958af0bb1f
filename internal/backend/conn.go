package backend

import (
	"net"

	"github.com/compozy/redishard/internal/metrics"
	"github.com/compozy/redishard/internal/resp"
)

// ConnEventKind identifies what happened on a backend socket.
type ConnEventKind int

const (
	EventFrame ConnEventKind = iota
	EventIOError
	EventConnected
)

// ConnEvent is sent from a connection's reader goroutine to the reactor
// loop.
type ConnEvent struct {
	BackendID int
	Kind      ConnEventKind
	Frame     resp.Frame
	Err       error
}

// Conn owns one TCP socket to a Redis server. Its reader goroutine is the
// only goroutine that blocks on socket reads; all shared backend/pool
// state is mutated exclusively by the reactor goroutine that consumes
// Events.
type Conn struct {
	BackendID int
	nc        net.Conn
	events    chan<- ConnEvent
	writeCh   chan []byte
	closeCh   chan struct{}
	metrics   *metrics.Metrics
}

// Dial opens a TCP connection to addr and starts its reader/writer
// goroutines, forwarding events to events. Non-blocking I/O is
// approximated with per-connection goroutines feeding a channel-driven
// single mutator goroutine, rather than a raw epoll reactor. m is
// optional and may be nil.
func Dial(backendID int, addr string, events chan<- ConnEvent, m *metrics.Metrics) (*Conn, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		BackendID: backendID,
		nc:        nc,
		events:    events,
		writeCh:   make(chan []byte, 256),
		closeCh:   make(chan struct{}),
		metrics:   m,
	}
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	reader := resp.NewReader()
	buf := make([]byte, 64*1024)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			if c.metrics != nil {
				c.metrics.RecvBackendBytes.Add(float64(n))
			}
			reader.Feed(buf[:n])
			for {
				frame, ferr := reader.Next()
				if ferr == resp.ErrNeedMore {
					break
				}
				if ferr != nil {
					c.emit(ConnEvent{BackendID: c.BackendID, Kind: EventIOError, Err: ferr})
					return
				}
				c.emit(ConnEvent{BackendID: c.BackendID, Kind: EventFrame, Frame: frame.Clone()})
			}
		}
		if err != nil {
			c.emit(ConnEvent{BackendID: c.BackendID, Kind: EventIOError, Err: err})
			return
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}
			if _, err := c.nc.Write(data); err != nil {
				c.emit(ConnEvent{BackendID: c.BackendID, Kind: EventIOError, Err: err})
				return
			}
			if c.metrics != nil {
				c.metrics.SendBackendBytes.Add(float64(len(data)))
			}
		case <-c.closeCh:
			return
		}
	}
}

func (c *Conn) emit(ev ConnEvent) {
	select {
	case c.events <- ev:
	case <-c.closeCh:
	}
}

// Send queues data for the write goroutine.
func (c *Conn) Send(data []byte) {
	select {
	case c.writeCh <- data:
	case <-c.closeCh:
	}
}

// Close tears down the socket and stops both goroutines.
func (c *Conn) Close() error {
	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}
	return c.nc.Close()
}
