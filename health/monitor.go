package health

import (
	"encoding/json"
	"net/http"
	"sync"
)

// Source produces the current status of one component.
type Source func() Status

// Monitor aggregates the health of registered sources on demand.
type Monitor struct {
	mu      sync.RWMutex
	sources map[string]Source
	onCheck func(name string, healthy bool)
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		sources: make(map[string]Source),
	}
}

// Register adds or replaces the source for name.
func (m *Monitor) Register(name string, src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = src
}

// RegisterComponent registers a component's Health method.
func (m *Monitor) RegisterComponent(name string, health func() Status) {
	m.Register(name, health)
}

// OnCheck sets a callback invoked for every source on each Check, typically
// to update the health gauge.
func (m *Monitor) OnCheck(fn func(name string, healthy bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCheck = fn
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, name)
}

// Count returns the number of registered sources
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sources)
}

// Check evaluates every source and returns the aggregate.
func (m *Monitor) Check(systemName string) Status {
	m.mu.RLock()
	sources := make(map[string]Source, len(m.sources))
	for name, src := range m.sources {
		sources[name] = src
	}
	onCheck := m.onCheck
	m.mu.RUnlock()

	subs := make([]Status, 0, len(sources))
	for name, src := range sources {
		s := src()
		s.Component = name
		subs = append(subs, s)
		if onCheck != nil {
			onCheck(name, s.Healthy)
		}
	}
	return Aggregate(systemName, subs)
}

// Handler serves the aggregate as JSON: 200 unless unhealthy, then 503.
func (m *Monitor) Handler(systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.Check(systemName)

		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
