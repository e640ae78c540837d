// Package health tracks per-component health and exposes an aggregated
// report over HTTP for liveness probes and operators.
package health

import (
	"time"
)

// Level is the coarse health classification of a component.
type Level string

const (
	// Healthy means the component is fully operational.
	Healthy Level = "healthy"
	// Degraded means the component works with reduced capability, such
	// as a fallback chain with some transports down.
	Degraded Level = "degraded"
	// Unhealthy means the component cannot serve its purpose.
	Unhealthy Level = "unhealthy"
)

// Status is one component's health report.
type Status struct {
	Component string         `json:"component"`
	Level     Level          `json:"level"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewStatus builds a status stamped with the current time.
func NewStatus(component string, level Level, message string) Status {
	return Status{
		Component: component,
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Report is the aggregated system view returned by the HTTP endpoint.
type Report struct {
	System     string            `json:"system"`
	Level      Level             `json:"level"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]Status `json:"components"`
}

// Aggregate folds component statuses into a system level: any unhealthy
// component makes the system unhealthy, any degraded one makes it
// degraded, otherwise healthy. An empty set is healthy.
func Aggregate(system string, statuses map[string]Status) Report {
	level := Healthy
	for _, s := range statuses {
		switch s.Level {
		case Unhealthy:
			level = Unhealthy
		case Degraded:
			if level == Healthy {
				level = Degraded
			}
		}
	}
	return Report{
		System:     system,
		Level:      level,
		Timestamp:  time.Now().UTC(),
		Components: statuses,
	}
}
