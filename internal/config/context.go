package config

import "context"

type ctxKey struct{}

// CtxKey is exported so callers/tests can detect or stub context values.
var CtxKey = ctxKey{}

// ContextWithConfig attaches cfg to ctx.
func ContextWithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, CtxKey, cfg)
}

// FromContext returns the Config attached to ctx, or nil if absent.
func FromContext(ctx context.Context) *Config {
	if ctx == nil {
		return nil
	}
	cfg, _ := ctx.Value(CtxKey).(*Config)
	return cfg
}
