// Package rules provides the correlation rule model and the rule catalog
// that loads, validates, and hot-reloads rule documents from a directory.
package rules

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lattice-siem/internal/schema"
)

// Severity levels for rules and the alerts they produce.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rule represents a correlation rule definition, one per document.
type Rule struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Enabled     bool           `yaml:"enabled"`
	Severity    Severity       `yaml:"severity"`
	Triggers    []Trigger      `yaml:"triggers"`
	Conditions  []Condition    `yaml:"conditions,omitempty"`
	Aggregation *Aggregation   `yaml:"aggregation,omitempty"`
	Actions     []Action       `yaml:"actions,omitempty"`
	Tags        []string       `yaml:"tags,omitempty"`
	Metadata    map[string]any `yaml:"metadata,omitempty"`
}

// Trigger filters which events a rule is evaluated against. Empty fields
// act as wildcards; a rule fires its conditions when any trigger matches.
type Trigger struct {
	Type      string         `yaml:"type,omitempty"`
	EventType string         `yaml:"eventType,omitempty"`
	Source    string         `yaml:"source,omitempty"`
	Filters   map[string]any `yaml:"filters,omitempty"`
}

// Matches reports whether the event passes this trigger's filters.
func (t *Trigger) Matches(event *schema.Event) bool {
	if t.Type != "" && !strings.EqualFold(t.Type, event.SourceType) {
		return false
	}
	if t.EventType != "" && !strings.EqualFold(t.EventType, event.EventType) {
		return false
	}
	if t.Source != "" {
		src, _ := event.Field("source").(string)
		if !strings.EqualFold(t.Source, src) {
			return false
		}
	}
	for field, want := range t.Filters {
		got := event.Field(field)
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

// Aggregation configures the sliding-window threshold for a rule. Rules
// without an aggregation fire immediately on a single matching event.
type Aggregation struct {
	Size    int     `yaml:"size"`
	Unit    string  `yaml:"unit"`
	GroupBy string  `yaml:"groupBy,omitempty"`
	Having  *Having `yaml:"having,omitempty"`
}

// Having holds the window threshold condition.
type Having struct {
	Gte int `yaml:"gte"`
}

// Window returns the aggregation window as a duration.
func (a *Aggregation) Window() time.Duration {
	if a == nil {
		return 0
	}
	switch strings.ToLower(a.Unit) {
	case "second", "seconds", "s":
		return time.Duration(a.Size) * time.Second
	case "minute", "minutes", "m":
		return time.Duration(a.Size) * time.Minute
	case "hour", "hours", "h":
		return time.Duration(a.Size) * time.Hour
	default:
		return time.Duration(a.Size) * time.Second
	}
}

// MinCount returns the minimum event count before the rule fires.
func (a *Aggregation) MinCount() int {
	if a == nil || a.Having == nil || a.Having.Gte < 1 {
		return 1
	}
	return a.Having.Gte
}

// GroupField returns the correlation field, defaulting to the source IP.
func (a *Aggregation) GroupField() string {
	if a == nil || a.GroupBy == "" {
		return "source_ip"
	}
	return a.GroupBy
}

// Action is an opaque downstream action. The engine forwards actions on
// alerts and never interprets them.
type Action struct {
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config,omitempty"`
}

// Validate validates the rule definition.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Severity == "" {
		return fmt.Errorf("rule severity is required")
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", r.Severity)
	}
	if len(r.Triggers) == 0 {
		return fmt.Errorf("at least one trigger is required")
	}

	for i, cond := range r.Conditions {
		if err := cond.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}

	if agg := r.Aggregation; agg != nil {
		if agg.Size <= 0 {
			return fmt.Errorf("aggregation size must be positive")
		}
		if agg.Window() <= 0 {
			return fmt.Errorf("aggregation window must be positive")
		}
		if agg.Having != nil && agg.Having.Gte < 1 {
			return fmt.Errorf("aggregation having.gte must be at least 1")
		}
	}

	return nil
}

// ParseRule parses a single rule document. Documents are YAML; JSON
// documents parse as well since YAML is a superset.
func ParseRule(data []byte) (*Rule, error) {
	var rule Rule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("failed to parse rule: %w", err)
	}
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule: %w", err)
	}
	return &rule, nil
}
