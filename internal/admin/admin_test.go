package admin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/compozy/redishard/internal/config"
	"github.com/compozy/redishard/internal/metrics"
	"github.com/compozy/redishard/internal/resp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseConfig = `
admin_port = 7000

[pools.cache]
listen_port = 1531
backends = ["127.0.0.1:6380"]
distribution = "modulo"
timeout_ms = 200
`

const changedConfig = `
admin_port = 7000

[pools.cache]
listen_port = 1532
backends = ["127.0.0.1:6380"]
distribution = "modulo"
timeout_ms = 200
`

func mustCfg(t *testing.T, toml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(toml))
	require.NoError(t, err)
	return cfg
}

func writeTempConfig(t *testing.T, toml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "staged.toml")
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o600))
	return path
}

func bulkReplyBody(t *testing.T, reply []byte) string {
	t.Helper()
	require.True(t, len(reply) > 0 && reply[0] == '$')
	i := 1
	for reply[i] != '\r' {
		i++
	}
	return string(reply[i+2 : len(reply)-2])
}

func TestHandler_InfoAndStats(t *testing.T) {
	t.Run("Should answer INFO with a version/uptime bulk reply", func(t *testing.T) {
		h := New(mustCfg(t, baseConfig), metrics.New())
		reply, shutdown := h.Handle(cmdFrame("INFO"))
		assert.False(t, shutdown)
		assert.Contains(t, bulkReplyBody(t, reply), "version:")
	})

	t.Run("Should answer STATS with the named counters", func(t *testing.T) {
		m := metrics.New()
		m.Requests.Inc()
		h := New(mustCfg(t, baseConfig), m)
		reply, _ := h.Handle(cmdFrame("STATS"))
		body := bulkReplyBody(t, reply)
		assert.Contains(t, body, "requests:1")
		assert.Contains(t, body, "accepted_clients:0")
	})
}

func TestHandler_SwitchConfig(t *testing.T) {
	t.Run("Should reject SWITCHCONFIG when staged equals active", func(t *testing.T) {
		h := New(mustCfg(t, baseConfig), metrics.New())
		path := writeTempConfig(t, baseConfig)
		reply, _ := h.Handle(cmdFrame("LOADCONFIG", path))
		assert.Equal(t, resp.SimpleOK, reply)

		reply, _ = h.Handle(cmdFrame("SWITCHCONFIG"))
		assert.Equal(t, resp.IdenticalConfigError, reply)
	})

	t.Run("Should apply a plan and promote staged to active on a real change", func(t *testing.T) {
		h := New(mustCfg(t, baseConfig), metrics.New())
		var appliedPlan config.Plan
		h.ApplyPlan = func(plan config.Plan, staged *config.Config) error {
			appliedPlan = plan
			return nil
		}
		path := writeTempConfig(t, changedConfig)
		reply, _ := h.Handle(cmdFrame("LOADCONFIG", path))
		require.Equal(t, resp.SimpleOK, reply)

		reply, _ = h.Handle(cmdFrame("SWITCHCONFIG"))
		assert.Equal(t, resp.SimpleOK, reply)
		assert.Contains(t, appliedPlan.Removed, "cache")
		assert.Contains(t, appliedPlan.Added, "cache")
		assert.Equal(t, uint16(1532), h.Active().Pools["cache"].ListenPort)
	})

	t.Run("Should surface an ApplyPlan error instead of promoting staged", func(t *testing.T) {
		h := New(mustCfg(t, baseConfig), metrics.New())
		h.ApplyPlan = func(plan config.Plan, staged *config.Config) error {
			return assertErr{}
		}
		path := writeTempConfig(t, changedConfig)
		h.Handle(cmdFrame("LOADCONFIG", path))
		reply, _ := h.Handle(cmdFrame("SWITCHCONFIG"))
		assert.Contains(t, string(reply), "simulated")
		assert.Equal(t, uint16(1531), h.Active().Pools["cache"].ListenPort)
	})
}

func TestHandler_Shutdown(t *testing.T) {
	t.Run("Should invoke the Shutdown callback and report shutdownRequested", func(t *testing.T) {
		h := New(mustCfg(t, baseConfig), metrics.New())
		called := false
		h.Shutdown = func() { called = true }
		reply, shutdown := h.Handle(cmdFrame("SHUTDOWN"))
		assert.Equal(t, resp.SimpleOK, reply)
		assert.True(t, shutdown)
		assert.True(t, called)
	})
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated failure" }

func cmdFrame(args ...string) resp.Frame {
	elems := make([][]byte, len(args))
	for i, a := range args {
		elems[i] = []byte(a)
	}
	return resp.Frame{Kind: resp.Array, Array: elems}
}
