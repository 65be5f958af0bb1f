// Package config defines redishard's validated runtime configuration: the
// set of pools, their backends, and the routing/failure policy each pool
// applies. Parsing lives in loader.go, the file watcher behind
// `redishard validate --watch` in watcher.go, and the SWITCHCONFIG diff
// algorithm in diff.go.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// Distribution is a pool's routing policy.
type Distribution string

const (
	Modulo  Distribution = "modulo"
	Ketama  Distribution = "ketama"
	Cluster Distribution = "cluster"
)

// HashFunction identifies the keyspace hash used before distribution.
// crc16 is the only accepted value; validation rejects any other name.
type HashFunction string

const (
	HashCRC16 HashFunction = "crc16"
)

// BackendSpec is one `host:port[:weight]` entry or a cluster seed host.
type BackendSpec struct {
	Host   string `toml:"-" validate:"-"`
	Port   uint16 `toml:"-" validate:"-"`
	Weight uint32 `toml:"-" validate:"-"`
}

// Addr renders "host:port".
func (b BackendSpec) Addr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// ParseBackendSpec parses "host:port" or "host:port:weight" as used in a
// pool's `backends` list.
func ParseBackendSpec(raw string) (BackendSpec, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return BackendSpec{}, fmt.Errorf("invalid backend spec %q: want host:port[:weight]", raw)
	}
	port, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return BackendSpec{}, fmt.Errorf("invalid backend port in %q: %w", raw, err)
	}
	weight := uint64(1)
	if len(parts) == 3 {
		weight, err = strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			return BackendSpec{}, fmt.Errorf("invalid backend weight in %q: %w", raw, err)
		}
	}
	return BackendSpec{Host: parts[0], Port: uint16(port), Weight: uint32(weight)}, nil
}

// PoolConfig is one front-end pool.
type PoolConfig struct {
	Name           string       `toml:"-"           validate:"required"`
	ListenPort     uint16       `toml:"listen_port"  validate:"required"`
	Backends       []string     `toml:"backends"`
	ClusterHosts   []string     `toml:"cluster_hosts"`
	ClusterName    string       `toml:"cluster_name"`
	HashFunction   HashFunction `toml:"hash_function" validate:"omitempty,oneof=crc16"`
	HashTag        string       `toml:"hash_tag"      validate:"omitempty,len=2"`
	TimeoutMS      uint32       `toml:"timeout_ms"    validate:"required"`
	RetryTimeoutMS uint32       `toml:"retry_timeout_ms"`
	FailureLimit   uint32       `toml:"failure_limit"`
	AutoEjectHosts bool         `toml:"auto_eject_hosts"`
	Distribution   Distribution `toml:"distribution"  validate:"required,oneof=modulo ketama cluster"`
	Auth           string       `toml:"auth"`
	DB             uint32       `toml:"db"`
}

// Timeout returns TimeoutMS as a time.Duration.
func (p PoolConfig) Timeout() time.Duration { return time.Duration(p.TimeoutMS) * time.Millisecond }

// RetryTimeout returns RetryTimeoutMS as a time.Duration.
func (p PoolConfig) RetryTimeout() time.Duration {
	return time.Duration(p.RetryTimeoutMS) * time.Millisecond
}

// IsCluster reports whether this pool uses Redis Cluster slot routing.
func (p PoolConfig) IsCluster() bool { return p.Distribution == Cluster }

// Config is the top-level, fully validated configuration.
type Config struct {
	AdminPort     uint16                `toml:"admin_port"      validate:"required"`
	DebugHTTP     string                `toml:"debug_http_addr"`
	LogLevel      string                `toml:"log_level"`
	Pools         map[string]PoolConfig `toml:"pools"            validate:"required,dive"`
	ShutdownMS    uint32                `toml:"shutdown_grace_ms"`
	ShutdownGraceStr string             `toml:"shutdown_grace"`
}

// ShutdownGrace returns the configured shutdown grace period, preferring a
// human-readable `shutdown_grace` duration string (e.g. "5s") over the
// legacy `shutdown_grace_ms` integer field, and defaulting to 5s.
func (c Config) ShutdownGrace() time.Duration {
	if c.ShutdownGraceStr != "" {
		if d, err := str2duration.ParseDuration(c.ShutdownGraceStr); err == nil {
			return d
		}
	}
	if c.ShutdownMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ShutdownMS) * time.Millisecond
}
