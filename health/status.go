package health

import "time"

// The three states a component can report. Healthy and degraded both keep
// the pipeline running; degraded signals reduced capacity worth watching.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is one component's health report. It is a value type: copies are
// independent and the With helpers return modified copies.
type Status struct {
	Component  string    `json:"component"`
	State      string    `json:"state"` // one of the State constants
	Message    string    `json:"message"`
	CheckedAt  time.Time `json:"checked_at"`
	Components []Status  `json:"components,omitempty"`
	Metrics    *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries the operational counters a component attaches to its
// health report.
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	Errors       int64         `json:"errors"`
	Processed    int64         `json:"processed,omitempty"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

// NewHealthy reports a component as fully operational.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewDegraded reports a component as operating with reduced capacity.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// NewUnhealthy reports a component as down.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		State:     state,
		Message:   message,
		CheckedAt: time.Now(),
	}
}

// FromError reports unhealthy with the error text sanitized, so connection
// strings, paths and credentials never reach the health endpoint. A nil
// error reports healthy.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "Component healthy")
	}
	return NewUnhealthy(component, sanitizeMessage(err.Error()))
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool { return s.State == StateHealthy }

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool { return s.State == StateDegraded }

// IsUnhealthy reports whether the status is unhealthy.
func (s Status) IsUnhealthy() bool { return s.State == StateUnhealthy }

// WithMetrics returns a copy of the status with metrics attached.
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}
