// Package httpdebug provides the optional /healthz and /metrics HTTP
// surface, enabled only when the top-level `debug_http_addr` is configured.
// It carries no routing or state-machine semantics of its own; it only
// exposes what internal/metrics already tracks.
package httpdebug

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/compozy/redishard/internal/metrics"
)

// Server wraps a gin engine serving /healthz and /metrics.
type Server struct {
	Addr string

	httpServer *http.Server
	ready      func() bool
}

// New builds a Server bound to addr. ready reports whether the proxy is
// currently accepting clients, backing /healthz's 200/503 split.
func New(addr string, m *metrics.Metrics, ready func() bool) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{Addr: addr, ready: ready}
	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

func (s *Server) handleHealthz(c *gin.Context) {
	if s.ready == nil || s.ready() {
		c.String(http.StatusOK, "ok")
		return
	}
	c.String(http.StatusServiceUnavailable, "not ready")
}

// Serve runs the HTTP server until Shutdown is called. It returns
// http.ErrServerClosed on a clean shutdown.
func (s *Server) Serve() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
