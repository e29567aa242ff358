package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds configuration for metrics collection.
type Config struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// Registry is the Prometheus registry to use. If nil, uses prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Registry: prometheus.DefaultRegisterer,
	}
}

// registries memoizes one Registry per registerer. The metric series are
// process-wide per registerer; registering them a second time would panic.
var (
	registriesMu sync.Mutex
	registries   = map[prometheus.Registerer]*Registry{}
)

// Resolve returns the Registry described by the config, or nil when
// metrics are disabled. Configs naming the same registerer share one
// Registry, so any number of streams can point at it.
func (c Config) Resolve() *Registry {
	if !c.Enabled {
		return nil
	}
	if c.Registry == nil || c.Registry == prometheus.DefaultRegisterer {
		return DefaultRegistry
	}
	registriesMu.Lock()
	defer registriesMu.Unlock()
	if reg, ok := registries[c.Registry]; ok {
		return reg
	}
	reg := NewRegistry(c.Registry)
	registries[c.Registry] = reg
	return reg
}
