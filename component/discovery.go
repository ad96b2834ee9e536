package component

import (
	"fmt"
	"time"
)

// Discoverable is implemented by every bridge component so the process can
// report what it is connected to and how it is doing.
type Discoverable interface {
	// Meta returns basic component information
	Meta() Metadata

	// InputPorts returns the endpoints this component reads from
	InputPorts() []Port

	// OutputPorts returns the endpoints this component writes to
	OutputPorts() []Port

	// Health returns current health status
	Health() HealthStatus

	// DataFlow returns current flow metrics
	DataFlow() FlowMetrics
}

// Metadata describes a component
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "input" or "output"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus is the point-in-time health of a component
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics describes the current data flow through a component
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}

// Direction for data flow
type Direction string

// Direction constants for port data flow
const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// PortKind identifies the kind of endpoint behind a port
type PortKind string

// Port kinds used by the bridges
const (
	PortTopic PortKind = "topic"
	PortFile  PortKind = "file"
	PortKV    PortKind = "kv"
)

// Port describes one endpoint a component reads or writes
type Port struct {
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	Kind      PortKind  `json:"kind"`
	Address   string    `json:"address"`
	Exclusive bool      `json:"exclusive"`
}

// ResourceID identifies the underlying resource for conflict detection
func (p Port) ResourceID() string {
	return fmt.Sprintf("%s:%s", p.Kind, p.Address)
}

// ExclusiveConflicts returns the resource IDs that more than one component
// claims as an exclusive output. A file may only have one writer.
func ExclusiveConflicts(components ...Discoverable) []string {
	owners := make(map[string]string)
	var conflicts []string
	for _, c := range components {
		name := c.Meta().Name
		for _, p := range c.OutputPorts() {
			if !p.Exclusive {
				continue
			}
			id := p.ResourceID()
			if owner, ok := owners[id]; ok && owner != name {
				conflicts = append(conflicts, id)
				continue
			}
			owners[id] = name
		}
	}
	return conflicts
}
