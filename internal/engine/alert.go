package engine

import (
	"time"

	"github.com/google/uuid"

	"lattice-siem/internal/rules"
	"lattice-siem/internal/schema"
)

// Alert is produced when a correlation rule's condition is satisfied.
// Actions are the rule's downstream actions, forwarded opaquely; the
// engine never interprets them.
type Alert struct {
	ID            uuid.UUID      `json:"id"`
	RuleID        string         `json:"rule_id"`
	RuleName      string         `json:"rule_name"`
	Severity      rules.Severity `json:"severity"`
	Timestamp     time.Time      `json:"timestamp"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	EventIDs      []uuid.UUID    `json:"event_ids"`
	EventCount    int            `json:"event_count"`
	SourceIP      string         `json:"source_ip,omitempty"`
	DestinationIP string         `json:"destination_ip,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Actions       []rules.Action `json:"actions,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// newAlert builds an alert for a fired rule. contributing holds every
// event inside the window at firing time; trigger is the event whose
// arrival crossed the threshold and supplies the correlating addresses.
func newAlert(rule *rules.Rule, contributing []*schema.Event, trigger *schema.Event) *Alert {
	ids := make([]uuid.UUID, len(contributing))
	for i, e := range contributing {
		ids[i] = e.EventID
	}

	return &Alert{
		ID:            uuid.New(),
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		Severity:      rule.Severity,
		Timestamp:     time.Now().UTC(),
		Title:         rule.Name,
		Description:   rule.Description,
		EventIDs:      ids,
		EventCount:    len(ids),
		SourceIP:      trigger.SourceIP,
		DestinationIP: trigger.DestinationIP,
		Tags:          rule.Tags,
		Actions:       rule.Actions,
		Metadata:      rule.Metadata,
	}
}
