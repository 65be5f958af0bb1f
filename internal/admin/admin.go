// Package admin implements the admin RESP command subset:
// INFO, STATS, LOADCONFIG, SWITCHCONFIG, SHUTDOWN. It is deliberately
// decoupled from the client pool path — Handler only parses commands
// and returns reply bytes; actually applying a config switch or shutdown
// is delegated to caller-supplied callbacks that run on the reactor loop.
package admin

import (
	"fmt"
	"sync"
	"time"

	"github.com/compozy/redishard/internal/config"
	"github.com/compozy/redishard/internal/metrics"
	"github.com/compozy/redishard/internal/resp"
)

// Version is the proxy's reported build version.
const Version = "redishard/1.0"

// Handler processes one admin connection's RESP commands.
type Handler struct {
	mu        sync.Mutex
	active    *config.Config
	staged    *config.Config
	startedAt time.Time
	metrics   *metrics.Metrics

	// ApplyPlan is invoked on a non-identical SWITCHCONFIG with the diff
	// plan and the staged config; it must bring listeners/pools in line
	// with staged (create/drain/reuse) before returning. A non-nil error
	// aborts the switch and its text is surfaced to the admin client.
	ApplyPlan func(plan config.Plan, staged *config.Config) error
	// Shutdown is invoked on SHUTDOWN, before Handle returns the +OK reply
	// for the caller to write.
	Shutdown func()
}

// New builds a Handler bound to the currently active config.
func New(active *config.Config, m *metrics.Metrics) *Handler {
	return &Handler{active: active, startedAt: time.Now(), metrics: m}
}

// Active returns the currently active config.
func (h *Handler) Active() *config.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// setActive is called by switchConfig, with h.mu held, once ApplyPlan has
// successfully brought the runtime in line with a switched config.
func (h *Handler) setActive(cfg *config.Config) {
	h.active = cfg
	h.staged = nil
}

// Handle dispatches one parsed admin command frame and
// returns the RESP reply to write back. shutdownRequested is true only
// after a successful SHUTDOWN, once Shutdown() has been invoked.
func (h *Handler) Handle(frame resp.Frame) (reply []byte, shutdownRequested bool) {
	cmd := frame.Command()
	switch cmd {
	case "INFO":
		return h.info(), false
	case "STATS":
		return h.stats(), false
	case "LOADCONFIG":
		return h.loadConfig(frame), false
	case "SWITCHCONFIG":
		return h.switchConfig(), false
	case "SHUTDOWN":
		return h.shutdown()
	default:
		return resp.UnsupportedCommand, false
	}
}

func (h *Handler) info() []byte {
	uptime := time.Since(h.startedAt).Round(time.Second)
	body := fmt.Sprintf("version:%s\r\nuptime_seconds:%d\r\n", Version, int64(uptime.Seconds()))
	return resp.EncodeBulkString([]byte(body))
}

func (h *Handler) stats() []byte {
	if h.metrics == nil {
		return resp.EncodeBulkString(nil)
	}
	s := h.metrics.Snapshot()
	body := fmt.Sprintf(
		"accepted_clients:%.0f\r\nclient_connections:%.0f\r\nrequests:%.0f\r\nresponses:%.0f\r\n"+
			"send_client_bytes:%.0f\r\nrecv_client_bytes:%.0f\r\nsend_backend_bytes:%.0f\r\nrecv_backend_bytes:%.0f\r\n",
		s.AcceptedClients, s.ClientConns, s.Requests, s.Responses,
		s.SendClientBytes, s.RecvClientBytes, s.SendBackendBytes, s.RecvBackendBytes,
	)
	return resp.EncodeBulkString([]byte(body))
}

func (h *Handler) loadConfig(frame resp.Frame) []byte {
	if len(frame.Array) < 2 {
		return resp.InvalidProtocol
	}
	path := string(frame.Array[1])
	cfg, err := config.Load(path)
	if err != nil {
		return resp.SimpleErrorf("%s", err.Error())
	}
	h.mu.Lock()
	h.staged = cfg
	h.mu.Unlock()
	return resp.SimpleOK
}

// switchConfig compares staged vs. active; identical configs are
// rejected with a fixed error text rather than silently applying a no-op.
func (h *Handler) switchConfig() []byte {
	h.mu.Lock()
	staged := h.staged
	active := h.active
	h.mu.Unlock()
	if staged == nil {
		return resp.SimpleErrorf("no staged config; run LOADCONFIG first")
	}
	plan := config.Diff(active, staged)
	if plan.Identical {
		return resp.IdenticalConfigError
	}
	if h.ApplyPlan != nil {
		if err := h.ApplyPlan(plan, staged); err != nil {
			return resp.SimpleErrorf("%s", err.Error())
		}
	}
	h.mu.Lock()
	h.setActive(staged)
	h.mu.Unlock()
	return resp.SimpleOK
}

func (h *Handler) shutdown() ([]byte, bool) {
	if h.Shutdown != nil {
		h.Shutdown()
	}
	return resp.SimpleOK, true
}
