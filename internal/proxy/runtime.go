// Package proxy wires configuration, the reactor loop, frontend listeners,
// the admin surface, metrics and the optional debug HTTP server into one
// running process.
package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/compozy/redishard/internal/admin"
	"github.com/compozy/redishard/internal/config"
	"github.com/compozy/redishard/internal/frontend"
	"github.com/compozy/redishard/internal/httpdebug"
	"github.com/compozy/redishard/internal/logger"
	"github.com/compozy/redishard/internal/metrics"
	"github.com/compozy/redishard/internal/pool"
	"github.com/compozy/redishard/internal/reactor"
)

// Runtime owns every long-lived component of a running redishard process.
type Runtime struct {
	log     logger.Logger
	metrics *metrics.Metrics
	loop    *reactor.Loop

	adminHandler *admin.Handler
	adminServer  *admin.Server
	debugServer  *httpdebug.Server

	generation uint64

	shutdownRequested chan struct{}
	shutdownOnce      sync.Once
}

// New builds a Runtime from a validated config, constructing every pool
// and listener named by it but not yet accepting connections (call Start
// for that).
func New(cfg *config.Config, log logger.Logger) (*Runtime, error) {
	m := metrics.New()
	loop := reactor.New(log, m)

	rt := &Runtime{log: log, metrics: m, loop: loop, shutdownRequested: make(chan struct{})}
	rt.adminHandler = admin.New(cfg, m)
	rt.adminHandler.ApplyPlan = rt.applyPlan
	rt.adminHandler.Shutdown = rt.requestShutdown

	adminSrv, err := admin.Listen(fmt.Sprintf(":%d", cfg.AdminPort), rt.adminHandler, log.With("component", "admin"))
	if err != nil {
		return nil, fmt.Errorf("starting admin listener: %w", err)
	}
	rt.adminServer = adminSrv

	if cfg.DebugHTTP != "" {
		rt.debugServer = httpdebug.New(cfg.DebugHTTP, m, rt.ready)
	}

	for name, poolCfg := range cfg.Pools {
		if err := rt.buildPool(name, poolCfg); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

func (rt *Runtime) ready() bool {
	for _, p := range rt.loop.Pools {
		if !p.Ready() {
			return false
		}
	}
	return true
}

// buildSpecs resolves a pool's backend list (or, for cluster pools, its
// seed cluster_hosts) into BackendSpecs.
func buildSpecs(cfg config.PoolConfig) ([]config.BackendSpec, error) {
	raw := cfg.Backends
	if cfg.IsCluster() {
		raw = cfg.ClusterHosts
	}
	specs := make([]config.BackendSpec, 0, len(raw))
	for _, r := range raw {
		spec, err := config.ParseBackendSpec(r)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (rt *Runtime) buildPool(name string, poolCfg config.PoolConfig) error {
	specs, err := buildSpecs(poolCfg)
	if err != nil {
		return fmt.Errorf("pool %q: %w", name, err)
	}
	p := pool.New(poolCfg, specs, rt.log.With("pool", name))
	rt.loop.Pools[name] = p

	rt.generation++
	lst, err := frontend.Listen(name, fmt.Sprintf(":%d", poolCfg.ListenPort), rt.generation, rt.loop.FrontendEvents(), rt.log.With("pool", name))
	if err != nil {
		return fmt.Errorf("pool %q: listening on port %d: %w", name, poolCfg.ListenPort, err)
	}
	lst.Metrics = rt.metrics
	rt.loop.Listeners[name] = lst
	return nil
}

// Start brings the runtime fully online: the reactor goroutine, every
// pool's initial backend dials, every pool's client listener, the admin
// listener and (if configured) the debug HTTP server.
func (rt *Runtime) Start() {
	go rt.loop.Run()
	rt.loop.SubmitSync(rt.loop.ConnectAll)

	for name, lst := range rt.loop.Listeners {
		go func(name string, lst *frontend.Listener) {
			if err := lst.Serve(); err != nil {
				rt.log.Debug("listener stopped", "pool", name, "error", err)
			}
		}(name, lst)
	}

	go func() {
		if err := rt.adminServer.Serve(); err != nil {
			rt.log.Debug("admin server stopped", "error", err)
		}
	}()

	if rt.debugServer != nil {
		go func() {
			if err := rt.debugServer.Serve(); err != nil {
				rt.log.Debug("debug http server stopped", "error", err)
			}
		}()
	}
}

// Shutdown implements SHUTDOWN: stop accepting new
// connections, give in-flight requests up to the configured grace period
// to drain, then force-close whatever remains.
func (rt *Runtime) Shutdown(ctx context.Context, grace time.Duration) {
	if cfg := config.FromContext(ctx); cfg != nil {
		rt.log.Info("shutdown starting", "pools", len(cfg.Pools), "grace", grace)
	}
	rt.adminServer.Close()
	for _, lst := range rt.loop.Listeners {
		lst.Close()
	}

	drained := make(chan struct{})
	go func() {
		for rt.anyClientsOpen() {
			time.Sleep(10 * time.Millisecond)
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(grace):
	}

	for _, lst := range rt.loop.Listeners {
		for _, c := range lst.Clients() {
			c.Close()
		}
	}
	if rt.debugServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rt.debugServer.Shutdown(shutdownCtx); err != nil {
			// Prefer the caller's context logger (carries request-scoped
			// fields set up in cmd/redishard) when one was attached.
			logger.FromContext(ctx).Warn("debug http server shutdown error", "error", err)
		}
	}
	rt.loop.Stop()
}

// AdminAddr returns the admin listener's bound address, useful in tests
// that configure an ephemeral port.
func (rt *Runtime) AdminAddr() net.Addr { return rt.adminServer.ListenAddr() }

// PoolAddr returns the bound address of a named pool's client listener,
// or false if no such pool is currently wired. Reading Listeners is
// marshaled through SubmitSync since only the loop goroutine may touch it.
func (rt *Runtime) PoolAddr(name string) (net.Addr, bool) {
	var addr net.Addr
	var ok bool
	rt.loop.SubmitSync(func() {
		var lst *frontend.Listener
		lst, ok = rt.loop.Listeners[name]
		if ok {
			addr = lst.ListenAddr()
		}
	})
	return addr, ok
}

// Done returns a channel closed once a client has issued the admin
// SHUTDOWN command, so the process entrypoint can drive the
// same graceful Shutdown it uses for SIGINT/SIGTERM.
func (rt *Runtime) Done() <-chan struct{} { return rt.shutdownRequested }

func (rt *Runtime) requestShutdown() {
	rt.shutdownOnce.Do(func() { close(rt.shutdownRequested) })
}

func (rt *Runtime) anyClientsOpen() bool {
	for _, lst := range rt.loop.Listeners {
		if len(lst.Clients()) > 0 {
			return true
		}
	}
	return false
}

// applyPlan is the admin.Handler.ApplyPlan callback for SWITCHCONFIG: it
// closes and removes pools no longer present (see drainAndRemovePool),
// builds newly added pools, and leaves reused pools untouched, all under a
// single SubmitSync so the reactor never observes a half-applied plan.
func (rt *Runtime) applyPlan(plan config.Plan, staged *config.Config) error {
	var buildErr error
	rt.loop.SubmitSync(func() {
		for _, name := range plan.Removed {
			rt.drainAndRemovePool(name)
		}
		for _, name := range plan.Added {
			if err := rt.buildPool(name, staged.Pools[name]); err != nil {
				buildErr = err
				return
			}
			lst := rt.loop.Listeners[name]
			go func(name string, lst *frontend.Listener) {
				if err := lst.Serve(); err != nil {
					rt.log.Debug("listener stopped", "pool", name, "error", err)
				}
			}(name, lst)
		}
	})
	if buildErr != nil {
		return buildErr
	}
	rt.loop.SubmitSync(rt.loop.ConnectAll)
	return nil
}

// drainAndRemovePool closes a removed pool's listener and every client
// connected to it, shuts down its backends (any request still queued on one
// is failed with -ERROR: Not connected), and drops the pool. It does so at
// once: in-flight requests are not waited for.
func (rt *Runtime) drainAndRemovePool(name string) {
	if lst, ok := rt.loop.Listeners[name]; ok {
		lst.Close()
		for _, c := range lst.Clients() {
			c.Close()
		}
		delete(rt.loop.Listeners, name)
	}
	if p, ok := rt.loop.Pools[name]; ok {
		for _, b := range p.AllBackends() {
			b.Shutdown()
		}
	}
	delete(rt.loop.Pools, name)
}
