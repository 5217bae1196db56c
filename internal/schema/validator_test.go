package schema

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func validEvent() *Event {
	return &Event{
		EventID:    uuid.New(),
		Timestamp:  time.Now().UTC(),
		SourceType: "auth-service",
		EventType:  "auth.failure",
		SourceIP:   "192.168.1.10",
	}
}

func TestValidatorAccepts(t *testing.T) {
	v := NewValidator()
	if err := v.Validate(validEvent()); err != nil {
		t.Fatalf("expected valid event, got error: %v", err)
	}
}

func TestValidatorRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing event type", func(e *Event) { e.EventType = "" }},
		{"missing source type", func(e *Event) { e.SourceType = "" }},
		{"bad event type format", func(e *Event) { e.EventType = "Auth.Failure" }},
		{"event type leading digit", func(e *Event) { e.EventType = "1auth.failure" }},
		{"bad source ip", func(e *Event) { e.SourceIP = "not-an-ip" }},
		{"bad destination ip", func(e *Event) { e.DestinationIP = "999.999.0.1" }},
		{"port out of range", func(e *Event) { e.SourcePort = 70000 }},
		{"timestamp too old", func(e *Event) { e.Timestamp = time.Now().Add(-8 * 24 * time.Hour) }},
		{"timestamp in future", func(e *Event) { e.Timestamp = time.Now().Add(time.Hour) }},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validEvent()
			tt.mutate(event)
			if err := v.Validate(event); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidatorCustomBounds(t *testing.T) {
	v := NewValidatorWithConfig(ValidatorConfig{
		MaxAge:    time.Hour,
		MaxFuture: time.Minute,
	})

	event := validEvent()
	event.Timestamp = time.Now().Add(-2 * time.Hour)
	if err := v.Validate(event); err == nil {
		t.Error("expected error for event older than custom max age")
	}

	event = validEvent()
	event.Timestamp = time.Now().Add(-30 * time.Minute)
	if err := v.Validate(event); err != nil {
		t.Errorf("expected event inside custom max age to pass, got %v", err)
	}
}

func TestValidateEventType(t *testing.T) {
	tests := []struct {
		eventType string
		want      bool
	}{
		{"auth.failure", true},
		{"network.connection", true},
		{"process.start", true},
		{"single", true},
		{"with_underscore.and_more", true},
		{"", false},
		{"Auth.failure", false},
		{"auth..failure", false},
		{"auth.", false},
		{".failure", false},
		{"9auth.failure", false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			if got := ValidateEventType(tt.eventType); got != tt.want {
				t.Errorf("ValidateEventType(%q) = %v, want %v", tt.eventType, got, tt.want)
			}
		})
	}
}
