package circuitbreaker

import (
	"sort"
	"sync"
)

// Registry hands out one shared Breaker per destination host.
type Registry struct {
	config Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry whose breakers share config.
func NewRegistry(config Config) *Registry {
	return &Registry{config: config, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for host, creating it on first use.
func (r *Registry) Get(host string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[host]
	if !ok {
		b = New(host, r.config)
		r.breakers[host] = b
	}
	return b
}

// Reset closes the breaker for host. It reports false when no call to host
// has been made yet.
func (r *Registry) Reset(host string) bool {
	r.mu.Lock()
	b, ok := r.breakers[host]
	r.mu.Unlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// Snapshot returns stats for every known host, sorted by host.
func (r *Registry) Snapshot() []Stats {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	stats := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		stats = append(stats, b.GetStats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
