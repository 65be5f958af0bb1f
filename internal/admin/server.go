package admin

import (
	"net"

	"github.com/compozy/redishard/internal/logger"
	"github.com/compozy/redishard/internal/resp"
	"github.com/google/uuid"
)

// Server accepts admin connections on a dedicated TCP port and dispatches
// each parsed command to a Handler. Unlike a pool's frontend.Listener, admin connections are not
// pipelined or reply-reordered: each command is answered before the next
// is read.
type Server struct {
	Addr    string
	Handler *Handler

	ln  net.Listener
	log logger.Logger
}

// Listen opens the admin TCP listener.
func Listen(addr string, h *Handler, log logger.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{Addr: addr, Handler: h, ln: ln, log: log}, nil
}

// Serve accepts admin connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return err
		}
		sessionID := uuid.NewString()
		go s.serveConn(nc, sessionID)
	}
}

// Close stops accepting new admin connections.
func (s *Server) Close() error { return s.ln.Close() }

// ListenAddr returns the listener's bound address, useful when Addr was
// configured with an ephemeral port (":0").
func (s *Server) ListenAddr() net.Addr { return s.ln.Addr() }

func (s *Server) serveConn(nc net.Conn, sessionID string) {
	defer nc.Close()
	log := s.log.With("admin_session", sessionID, "remote", nc.RemoteAddr().String())
	log.Debug("admin connected")
	reader := resp.NewReader()
	buf := make([]byte, 4096)
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			reader.Feed(buf[:n])
			for {
				frame, ferr := reader.Next()
				if ferr == resp.ErrNeedMore {
					break
				}
				if ferr != nil {
					nc.Write(resp.InvalidProtocol)
					return
				}
				reply, shutdown := s.Handler.Handle(frame)
				if _, werr := nc.Write(reply); werr != nil {
					return
				}
				if shutdown {
					log.Debug("admin requested shutdown")
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}
