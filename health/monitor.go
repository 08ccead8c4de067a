package health

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// Monitor collects the latest status per component. All methods are safe
// for concurrent use; the health poll writes while the HTTP handler reads.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor returns an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Set stores the status under name. The stored copy always carries the
// registered name and a non-zero check time, whatever the caller filled in.
func (m *Monitor) Set(name string, status Status) {
	status.Component = name
	if status.CheckedAt.IsZero() {
		status.CheckedAt = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
}

// SetHealthy records name as healthy.
func (m *Monitor) SetHealthy(name, message string) {
	m.Set(name, NewHealthy(name, message))
}

// SetDegraded records name as degraded.
func (m *Monitor) SetDegraded(name, message string) {
	m.Set(name, NewDegraded(name, message))
}

// SetUnhealthy records name as unhealthy.
func (m *Monitor) SetUnhealthy(name, message string) {
	m.Set(name, NewUnhealthy(name, message))
}

// Get returns the stored status for name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Snapshot returns a copy of every stored status keyed by component name.
func (m *Monitor) Snapshot() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.statuses)
}

// Components returns the registered component names in no particular order.
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Collect(maps.Keys(m.statuses))
}

// Count returns the number of registered components.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}

// Report rolls every stored status into one report for the whole service.
func (m *Monitor) Report(serviceName string) Status {
	m.mu.RLock()
	subs := slices.Collect(maps.Values(m.statuses))
	m.mu.RUnlock()

	return Aggregate(serviceName, subs)
}

// Aggregate combines member statuses under one name. Any unhealthy member
// makes the aggregate unhealthy; otherwise any degraded member makes it
// degraded. No members at all counts as healthy, so a service reports
// healthy while its components are still registering.
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(component, "No components registered")
	}

	unhealthy, degraded := 0, 0
	for _, sub := range subs {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var agg Status
	switch {
	case unhealthy > 0:
		agg = NewUnhealthy(component,
			fmt.Sprintf("%d of %d components unhealthy", unhealthy, len(subs)))
	case degraded > 0:
		agg = NewDegraded(component,
			fmt.Sprintf("%d of %d components degraded", degraded, len(subs)))
	default:
		agg = NewHealthy(component,
			fmt.Sprintf("All %d components healthy", len(subs)))
	}

	agg.Components = append([]Status(nil), subs...)
	return agg
}
