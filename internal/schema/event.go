// Package schema defines the normalized security event envelope consumed
// by the correlation engine. Upstream collectors normalize raw logs to
// this structure before publishing them to the events topic.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// Event is the normalized security event envelope.
type Event struct {
	// Required fields
	EventID    uuid.UUID `json:"event_id" validate:"required"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
	SourceType string    `json:"source_type" validate:"required,max=256"`
	EventType  string    `json:"event_type" validate:"required,max=256,event_type_format"`

	// Optional fields
	Severity        string         `json:"severity,omitempty" validate:"max=32"`
	SourceIP        string         `json:"source_ip,omitempty" validate:"omitempty,ip"`
	DestinationIP   string         `json:"destination_ip,omitempty" validate:"omitempty,ip"`
	SourcePort      int            `json:"source_port,omitempty" validate:"omitempty,min=0,max=65535"`
	DestinationPort int            `json:"destination_port,omitempty" validate:"omitempty,min=0,max=65535"`
	Protocol        string         `json:"protocol,omitempty" validate:"max=32"`
	Raw             string         `json:"raw,omitempty" validate:"max=65536"`
	Metadata        map[string]any `json:"metadata,omitempty"`

	// Internal fields (set by system)
	SchemaVersion string    `json:"schema_version"`
	ReceivedAt    time.Time `json:"received_at"`
	TenantID      string    `json:"tenant_id,omitempty"`
}

// SchemaVersionCurrent is the current version of the event schema.
const SchemaVersionCurrent = "1.0.0"

// Field resolves a named field on the event. Envelope fields are matched
// first; anything else falls through to the metadata map, where a dotted
// path descends into nested maps. Returns nil when the field is absent.
func (e *Event) Field(name string) any {
	switch name {
	case "event_id":
		return e.EventID.String()
	case "event_type":
		return e.EventType
	case "source_type":
		return e.SourceType
	case "severity":
		return e.Severity
	case "source_ip", "sourceIp":
		return e.SourceIP
	case "destination_ip", "destinationIp":
		return e.DestinationIP
	case "source_port":
		return e.SourcePort
	case "destination_port":
		return e.DestinationPort
	case "protocol":
		return e.Protocol
	case "tenant_id":
		return e.TenantID
	}

	if e.Metadata == nil {
		return nil
	}
	return lookupPath(e.Metadata, name)
}

// lookupPath walks a dotted path through nested maps. A full-path match
// wins over traversal, so metadata keys containing dots still resolve.
func lookupPath(m map[string]any, path string) any {
	if v, ok := m[path]; ok {
		return v
	}

	cur := any(m)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		seg := path[start:i]
		start = i + 1

		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[seg]
		if !ok {
			return nil
		}
	}
	return cur
}
