package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
)

// rawConfig mirrors Config but keeps Pools as a map decoded straight from
// TOML tables; Parse copies each pool's map key into PoolConfig.Name and
// validates the assembled Config.
type rawConfig struct {
	AdminPort        uint16                `toml:"admin_port"`
	DebugHTTP        string                `toml:"debug_http_addr"`
	LogLevel         string                `toml:"log_level"`
	Pools            map[string]PoolConfig `toml:"pools"`
	ShutdownMS       uint32                `toml:"shutdown_grace_ms"`
	ShutdownGraceStr string                `toml:"shutdown_grace"`
}

var validate = validator.New()

// Load reads, parses and validates the TOML config file at path. On any
// parse or validation failure the process is expected to exit(1); Load
// itself only returns the error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates raw TOML bytes into a Config.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg := &Config{
		AdminPort:        raw.AdminPort,
		DebugHTTP:        raw.DebugHTTP,
		LogLevel:         raw.LogLevel,
		Pools:            raw.Pools,
		ShutdownMS:       raw.ShutdownMS,
		ShutdownGraceStr: raw.ShutdownGraceStr,
	}
	for name, pool := range cfg.Pools {
		pool.Name = name
		cfg.Pools[name] = pool
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs struct-tag validation plus the cross-field rules that
// validator tags alone cannot express (cluster vs. non-cluster field
// exclusivity).
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	for name, pool := range cfg.Pools {
		if err := validatePool(name, pool); err != nil {
			return err
		}
	}
	return nil
}

func validatePool(name string, pool PoolConfig) error {
	if err := validate.Struct(pool); err != nil {
		return fmt.Errorf("pool %q: %w", name, err)
	}
	if pool.IsCluster() {
		if len(pool.ClusterHosts) == 0 || pool.ClusterName == "" {
			return fmt.Errorf("pool %q: cluster pools require cluster_hosts and cluster_name", name)
		}
		if len(pool.Backends) != 0 {
			return fmt.Errorf("pool %q: cluster pools must not set backends", name)
		}
		return nil
	}
	if len(pool.Backends) == 0 {
		return fmt.Errorf("pool %q: non-cluster pools require backends", name)
	}
	if len(pool.ClusterHosts) != 0 || pool.ClusterName != "" {
		return fmt.Errorf("pool %q: non-cluster pools must not set cluster_hosts/cluster_name", name)
	}
	for _, spec := range pool.Backends {
		if _, err := ParseBackendSpec(spec); err != nil {
			return fmt.Errorf("pool %q: %w", name, err)
		}
	}
	return nil
}
