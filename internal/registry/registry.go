// Package registry tracks which providers currently have a measurement in
// flight. It is the mutual-exclusion source for the scheduler (skip-if-busy)
// and the status endpoint.
package registry

import (
	"sync"
	"time"

	"speedchecker/internal/provider"
)

// ActiveTest records one in-flight provider run.
type ActiveTest struct {
	Provider  provider.Provider `json:"provider"`
	StartTime time.Time         `json:"start_time"`
	Timestamp float64           `json:"timestamp"`
}

// Registry is an ephemeral in-memory set keyed by provider.
type Registry struct {
	mu     sync.RWMutex
	active map[provider.Provider]ActiveTest
}

func New() *Registry {
	return &Registry{active: make(map[provider.Provider]ActiveTest)}
}

// Register marks a provider run as active. A zero start means "now".
func (r *Registry) Register(p provider.Provider, start time.Time) {
	if start.IsZero() {
		start = time.Now().UTC()
	}
	r.mu.Lock()
	r.active[p] = ActiveTest{
		Provider:  p,
		StartTime: start,
		Timestamp: float64(start.UnixNano()) / float64(time.Second),
	}
	r.mu.Unlock()
}

// Unregister removes a provider run. Removing an absent key is a no-op so
// every failure path can clean up unconditionally.
func (r *Registry) Unregister(p provider.Provider) {
	r.mu.Lock()
	delete(r.active, p)
	r.mu.Unlock()
}

// Snapshot returns a copy of the active set.
func (r *Registry) Snapshot() map[provider.Provider]ActiveTest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[provider.Provider]ActiveTest, len(r.active))
	for k, v := range r.active {
		out[k] = v
	}
	return out
}

// AnyActive reports whether any provider run is in flight.
func (r *Registry) AnyActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active) > 0
}
