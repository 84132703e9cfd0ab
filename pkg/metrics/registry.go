// Package metrics defines the observability interfaces the transport calls
// into, kept free of any Prometheus import so packages that only need the
// interface (transport, ctrlr, io) don't pull in the client library. The
// concrete Prometheus-backed implementation lives in pkg/metrics/prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// Init creates the process-wide metrics registry. Called once at startup
// when metrics are enabled; subsequent calls are no-ops so tests and
// repeated config reloads can call it freely.
func Init() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return registry
}

// IsEnabled reports whether Init has been called. Constructors in
// pkg/metrics/prometheus use this to return a nil implementation (and
// therefore zero overhead) when metrics are disabled.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the process-wide registry, initializing it on first
// use so callers that forgot to call Init still get a working registry
// rather than a nil-pointer panic.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	r := registry
	mu.RUnlock()
	if r != nil {
		return r
	}
	return Init()
}

// Reset discards the registry. Tests use this to get a clean set of
// collectors between cases without sharing global Prometheus state.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
}
