// Package engine maps one normalized event plus the current rule
// snapshot and window state to zero or more alerts.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"lattice-siem/internal/logging"
	"lattice-siem/internal/rules"
	"lattice-siem/internal/schema"
	"lattice-siem/internal/windows"
)

// RuleSource supplies the current immutable rule snapshot.
type RuleSource interface {
	Rules() []*rules.Rule
}

// Engine evaluates events against the rule snapshot. It holds no
// per-event state of its own; all windowed state lives in the Store.
type Engine struct {
	rules RuleSource
	store windows.Store
}

// New creates a rule engine.
func New(source RuleSource, store windows.Store) *Engine {
	return &Engine{rules: source, store: store}
}

// Evaluate runs every enabled rule against the event and returns the
// alerts that fired. Rules evaluate independently: a failure in one rule
// never affects the others, and a nil event yields nothing.
func (e *Engine) Evaluate(ctx context.Context, event *schema.Event) []*Alert {
	if event == nil {
		return nil
	}

	var alerts []*Alert
	for _, rule := range e.rules.Rules() {
		if !rule.Enabled {
			continue
		}
		if !triggerMatch(rule, event) {
			continue
		}
		if !e.conditionsMatch(rule, event) {
			continue
		}

		alert, err := e.fire(ctx, rule, event)
		if err != nil {
			slog.Error("window store unavailable, skipping rule this cycle",
				"rule_id", rule.ID,
				"event_id", event.EventID,
				"error", err)
			continue
		}
		if alert != nil {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// triggerMatch reports whether any of the rule's triggers accept the event.
func triggerMatch(rule *rules.Rule, event *schema.Event) bool {
	for i := range rule.Triggers {
		if rule.Triggers[i].Matches(event) {
			return true
		}
	}
	return false
}

// conditionsMatch evaluates the rule's conditions conjunctively. An
// evaluation error on a single condition is logged and counts as a
// non-match for this rule only.
func (e *Engine) conditionsMatch(rule *rules.Rule, event *schema.Event) bool {
	for i := range rule.Conditions {
		cond := &rule.Conditions[i]
		value := event.Field(cond.Field)
		ok, err := cond.Match(value)
		if err != nil {
			slog.Debug("condition evaluation failed, treating as non-match",
				"rule_id", rule.ID,
				"field", cond.Field,
				"operator", cond.Operator,
				"value", logging.MaskValue(cond.Field, fmt.Sprintf("%v", value)),
				"error", err)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// fire decides whether a matched rule produces an alert. Threshold-1
// rules alert immediately with no window interaction; aggregating rules
// go through the window store and alert edge-triggered on reaching the
// minimum count, clearing the window so the same accumulation cannot
// re-fire without new events.
func (e *Engine) fire(ctx context.Context, rule *rules.Rule, event *schema.Event) (*Alert, error) {
	agg := rule.Aggregation
	if agg == nil || agg.MinCount() <= 1 {
		return newAlert(rule, []*schema.Event{event}, event), nil
	}

	groupValue := fmt.Sprintf("%v", event.Field(agg.GroupField()))
	if groupValue == "" || groupValue == "<nil>" {
		groupValue = "unknown"
	}
	groupKey := windows.GroupKey(rule.ID, groupValue)

	window, err := e.store.AddEvent(ctx, rule.ID, groupKey, event, agg.Window())
	if err != nil {
		return nil, err
	}
	if len(window) < agg.MinCount() {
		return nil, nil
	}

	alert := newAlert(rule, window, event)
	if err := e.store.ClearGroup(ctx, rule.ID, groupKey); err != nil {
		// The alert already fired; a failed clear only risks an early
		// re-trigger, which at-least-once delivery tolerates.
		slog.Warn("failed to clear fired window",
			"rule_id", rule.ID,
			"group_key", groupKey,
			"error", err)
	}
	return alert, nil
}
