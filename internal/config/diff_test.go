package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, toml string) *Config {
	t.Helper()
	cfg, err := Parse([]byte(toml))
	require.NoError(t, err)
	return cfg
}

func TestDiff(t *testing.T) {
	base := `
admin_port = 21211
[pools.a]
listen_port = 1531
backends = ["127.0.0.1:6380"]
distribution = "modulo"
timeout_ms = 200
`
	t.Run("Should report identical configs", func(t *testing.T) {
		a := mustParse(t, base)
		b := mustParse(t, base)
		plan := Diff(a, b)
		assert.True(t, plan.Identical)
	})

	t.Run("Should reuse a pool whose address, policy and members are unchanged", func(t *testing.T) {
		changedTimeout := `
admin_port = 21211
[pools.a]
listen_port = 1531
backends = ["127.0.0.1:6380"]
distribution = "modulo"
timeout_ms = 999
`
		a := mustParse(t, base)
		b := mustParse(t, changedTimeout)
		plan := Diff(a, b)
		assert.False(t, plan.Identical)
		assert.Contains(t, plan.Reused, "a")
		assert.Empty(t, plan.Removed)
		assert.Empty(t, plan.Added)
	})

	t.Run("Should drain and recreate a pool whose listen_port changed", func(t *testing.T) {
		movedPort := `
admin_port = 21211
[pools.a]
listen_port = 1540
backends = ["127.0.0.1:6380"]
distribution = "modulo"
timeout_ms = 200
`
		a := mustParse(t, base)
		b := mustParse(t, movedPort)
		plan := Diff(a, b)
		assert.Contains(t, plan.Removed, "a")
		assert.Contains(t, plan.Added, "a")
	})

	t.Run("Should add new pools and remove dropped pools", func(t *testing.T) {
		secondPool := `
admin_port = 21211
[pools.b]
listen_port = 1600
backends = ["127.0.0.1:7000"]
distribution = "modulo"
timeout_ms = 200
`
		a := mustParse(t, base)
		b := mustParse(t, secondPool)
		plan := Diff(a, b)
		assert.Contains(t, plan.Removed, "a")
		assert.Contains(t, plan.Added, "b")
	})
}
