package proxy

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/compozy/redishard/internal/config"
	"github.com/compozy/redishard/internal/logger"
)

// freePort asks the OS for a currently unused TCP port, for config values
// that must pass validator's `required` (nonzero) rule on admin_port and
// listen_port when loaded through config.Load rather than wired directly.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func sendAndRead(t *testing.T, addr net.Addr, raw string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(raw))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func baseConfig(t *testing.T, poolName, backendAddr string) *config.Config {
	t.Helper()
	spec, err := config.ParseBackendSpec(backendAddr)
	require.NoError(t, err)
	return &config.Config{
		AdminPort: 0,
		Pools: map[string]config.PoolConfig{
			poolName: {
				Name:         poolName,
				ListenPort:   0,
				Distribution: config.Modulo,
				TimeoutMS:    1000,
				Backends:     []string{spec.Addr()},
			},
		},
	}
}

func TestRuntime_StartServesClientsAndAdmin(t *testing.T) {
	t.Run("Should route client traffic and answer admin INFO/STATS", func(t *testing.T) {
		m, err := miniredis.Run()
		require.NoError(t, err)
		defer m.Close()
		m.Set("foo", "bar")

		cfg := baseConfig(t, "cache", m.Addr())
		rt, err := New(cfg, logger.Discard())
		require.NoError(t, err)
		rt.Start()
		defer rt.Shutdown(context.Background(), time.Second)

		poolAddr, ok := rt.PoolAddr("cache")
		require.True(t, ok)
		require.Eventually(t, func() bool {
			reply := sendAndRead(t, poolAddr, "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n")
			return len(reply) > 0 && reply[0] != '-'
		}, 2*time.Second, 10*time.Millisecond)

		reply := sendAndRead(t, poolAddr, "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n")
		require.Contains(t, reply, "bar")

		info := sendAndRead(t, rt.AdminAddr(), "*1\r\n$4\r\nINFO\r\n")
		require.Contains(t, info, "version:redishard")

		stats := sendAndRead(t, rt.AdminAddr(), "*1\r\n$5\r\nSTATS\r\n")
		require.Contains(t, stats, "requests:")
	})
}

func TestRuntime_SwitchConfig(t *testing.T) {
	t.Run("Should drain the removed pool and serve the added one after SWITCHCONFIG", func(t *testing.T) {
		mOld, err := miniredis.Run()
		require.NoError(t, err)
		defer mOld.Close()
		mNew, err := miniredis.Run()
		require.NoError(t, err)
		defer mNew.Close()
		mNew.Set("k", "v")

		cfg := baseConfig(t, "cache", mOld.Addr())
		rt, err := New(cfg, logger.Discard())
		require.NoError(t, err)
		rt.Start()
		defer rt.Shutdown(context.Background(), time.Second)

		oldAddr, ok := rt.PoolAddr("cache")
		require.True(t, ok)
		require.Eventually(t, func() bool {
			reply := sendAndRead(t, oldAddr, "*1\r\n$4\r\nPING\r\n")
			return len(reply) > 0
		}, 2*time.Second, 10*time.Millisecond)

		staged := baseConfig(t, "hotcache", mNew.Addr())
		staged.AdminPort = uint16(freePort(t))
		staged.Pools["hotcache"] = func() config.PoolConfig {
			p := staged.Pools["hotcache"]
			p.ListenPort = uint16(freePort(t))
			return p
		}()
		stagedPath := filepath.Join(t.TempDir(), "staged.toml")
		writeTOML(t, stagedPath, staged)

		loadReply := sendAndRead(t, rt.AdminAddr(), loadConfigCmd(stagedPath))
		require.Contains(t, loadReply, "+OK")

		switchReply := sendAndRead(t, rt.AdminAddr(), "*1\r\n$12\r\nSWITCHCONFIG\r\n")
		require.Contains(t, switchReply, "+OK")

		_, err = net.DialTimeout("tcp", oldAddr.String(), 500*time.Millisecond)
		require.Error(t, err, "the removed pool's listener should have been closed")

		newAddr, ok := rt.PoolAddr("hotcache")
		require.True(t, ok)
		require.Eventually(t, func() bool {
			reply := sendAndRead(t, newAddr, "*2\r\n$3\r\nGET\r\n$1\r\nk\r\n")
			return reply == "$1\r\nv\r\n"
		}, 2*time.Second, 10*time.Millisecond)
	})
}

// loadConfigCmd builds the RESP array for `LOADCONFIG <path>`.
func loadConfigCmd(path string) string {
	return "*2\r\n$10\r\nLOADCONFIG\r\n$" +
		itoa(len(path)) + "\r\n" + path + "\r\n"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// writeTOML renders a minimal config.Config by hand (the admin/config
// packages only decode TOML, not encode it) and writes it to path.
func writeTOML(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	body := "admin_port = " + itoa(int(cfg.AdminPort)) + "\n"
	for name, p := range cfg.Pools {
		body += "[pools." + name + "]\n"
		body += "listen_port = " + itoa(int(p.ListenPort)) + "\n"
		body += "distribution = \"" + string(p.Distribution) + "\"\n"
		body += "timeout_ms = " + itoa(int(p.TimeoutMS)) + "\n"
		body += "backends = ["
		for i, b := range p.Backends {
			if i > 0 {
				body += ", "
			}
			body += "\"" + b + "\""
		}
		body += "]\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}
