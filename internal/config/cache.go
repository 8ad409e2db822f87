package config

import (
	"strings"
	"time"
)

// CacheConfig defines settings for the response cache middleware.
// When Enabled is false or no Redis client is configured, caching is
// disabled.  KeyStrategy determines which parts of the request
// contribute to the cache key.
type CacheConfig struct {
	Enabled      bool          `env:"ENABLED" envDefault:"true"`
	Methods      []string      `env:"METHODS" envDefault:"GET" envSeparator:","`
	TTL          time.Duration `env:"TTL" envDefault:"30s"`
	KeyStrategy  string        `env:"KEY_STRATEGY" envDefault:"route_query" validate:"oneof=route method_route method_route_query route_query"`
	Prefix       string        `env:"PREFIX" envDefault:"cache"`
	MaxBodyBytes int           `env:"MAX_BODY_BYTES" envDefault:"1048576" validate:"min=0"`
}

// MethodSet returns the cached methods upper-cased.
func (c CacheConfig) MethodSet() map[string]bool {
	m := map[string]bool{}
	for _, p := range c.Methods {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p != "" {
			m[p] = true
		}
	}
	return m
}
