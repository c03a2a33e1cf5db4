// Package health aggregates the health of partition components.
//
// Components push their status into a [Monitor]; the monitor keeps the latest
// report per component and derives an overall status. Transition steps use it
// to publish the state of the resources they manage.
package health

import (
	"sort"
	"sync"
	"time"
)

// Status is the health of a single component.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText renders the status as its name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sink receives component health updates.
type Sink interface {
	Report(component string, status Status, detail string)
	Remove(component string)
}

// Report is the last status pushed by one component.
type Report struct {
	Component string    `json:"component"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Monitor is a concurrency-safe Sink that keeps the latest report per component.
type Monitor struct {
	mu      sync.RWMutex
	reports map[string]Report
	now     func() time.Time
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		reports: make(map[string]Report),
		now:     time.Now,
	}
}

// Report records the status of component, replacing any earlier report.
func (m *Monitor) Report(component string, status Status, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[component] = Report{
		Component: component,
		Status:    status,
		Detail:    detail,
		UpdatedAt: m.now(),
	}
}

// Remove forgets component. Removing an unknown component is a no-op.
func (m *Monitor) Remove(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reports, component)
}

// Get returns the report of component.
func (m *Monitor) Get(component string) (Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[component]
	return r, ok
}

// Snapshot returns all reports sorted by component name.
func (m *Monitor) Snapshot() []Report {
	m.mu.RLock()
	out := make([]Report, 0, len(m.reports))
	for _, r := range m.reports {
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// Overall is unhealthy if any component is unhealthy, healthy if at least one
// component reported and none is unhealthy, unknown otherwise.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	overall := StatusUnknown
	for _, r := range m.reports {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusHealthy:
			overall = StatusHealthy
		}
	}
	return overall
}
