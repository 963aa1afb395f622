package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "goboot"

// Config selects where boot, pipeline and scaler metrics are registered.
type Config struct {
	// Enabled turns recording on. FromConfig returns nil otherwise.
	Enabled bool

	// Registry receives the collectors. Nil means prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Namespace prefixes metric names. Empty means DefaultNamespace.
	Namespace string

	// Labels are constant labels attached to every collector, such as the
	// host or deployment of the control process.
	Labels prometheus.Labels
}

// DefaultConfig records into the default Prometheus registry.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Registry:  prometheus.DefaultRegisterer,
		Namespace: DefaultNamespace,
	}
}

// FromConfig returns the registry described by config, or nil when metrics
// are disabled. Components treat a nil registry as "do not record".
func FromConfig(config Config) *Registry {
	if !config.Enabled {
		return nil
	}
	if config.Registry == nil || config.Registry == prometheus.DefaultRegisterer {
		if config.Namespace == "" || config.Namespace == DefaultNamespace {
			if len(config.Labels) == 0 {
				return DefaultRegistry
			}
		}
	}
	return NewRegistryWithConfig(config)
}
