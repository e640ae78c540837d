package health

import (
	"sync"
	"time"
)

// Monitor tracks the health of named components. Safe for concurrent use.
type Monitor struct {
	mu       sync.RWMutex
	system   string
	statuses map[string]Status
}

// NewMonitor creates a monitor for the named system.
func NewMonitor(system string) *Monitor {
	return &Monitor{
		system:   system,
		statuses: make(map[string]Status),
	}
}

// Update records a component's status, stamping it if unstamped.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
}

// SetHealthy marks a component healthy.
func (m *Monitor) SetHealthy(name, message string) {
	m.Update(name, NewStatus(name, Healthy, message))
}

// SetDegraded marks a component degraded.
func (m *Monitor) SetDegraded(name, message string) {
	m.Update(name, NewStatus(name, Degraded, message))
}

// SetUnhealthy marks a component unhealthy.
func (m *Monitor) SetUnhealthy(name, message string) {
	m.Update(name, NewStatus(name, Unhealthy, message))
}

// Get returns a component's status.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	return s, ok
}

// Remove drops a component from monitoring.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.statuses, name)
	m.mu.Unlock()
}

// Report aggregates every tracked component into a system report.
func (m *Monitor) Report() Report {
	m.mu.RLock()
	statuses := make(map[string]Status, len(m.statuses))
	for name, s := range m.statuses {
		statuses[name] = s
	}
	m.mu.RUnlock()

	return Aggregate(m.system, statuses)
}
