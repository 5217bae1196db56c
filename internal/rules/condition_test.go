package rules

import (
	"testing"
)

func TestConditionMatch(t *testing.T) {
	tests := []struct {
		name  string
		cond  Condition
		value any
		want  bool
	}{
		{"equals match", Condition{Operator: OpEquals, Value: "ssh"}, "ssh", true},
		{"equals case insensitive by default", Condition{Operator: OpEquals, Value: "SSH"}, "ssh", true},
		{"equals case sensitive", Condition{Operator: OpEquals, Value: "SSH", CaseSensitive: true}, "ssh", false},
		{"equals mismatch", Condition{Operator: OpEquals, Value: "rdp"}, "ssh", false},
		{"not equals", Condition{Operator: OpNotEquals, Value: "rdp"}, "ssh", true},
		{"equals number formatting", Condition{Operator: OpEquals, Value: 443}, 443, true},

		{"contains", Condition{Operator: OpContains, Value: "fail"}, "login_failure", true},
		{"contains miss", Condition{Operator: OpContains, Value: "success"}, "login_failure", false},
		{"not contains", Condition{Operator: OpNotContains, Value: "success"}, "login_failure", true},
		{"starts with", Condition{Operator: OpStartsWith, Value: "login"}, "login_failure", true},
		{"starts with miss", Condition{Operator: OpStartsWith, Value: "failure"}, "login_failure", false},
		{"ends with", Condition{Operator: OpEndsWith, Value: "failure"}, "login_failure", true},

		{"greater than", Condition{Operator: OpGreaterThan, Value: 100}, 200, true},
		{"greater than equal boundary", Condition{Operator: OpGreaterThanOrEqual, Value: 100}, 100, true},
		{"greater than boundary", Condition{Operator: OpGreaterThan, Value: 100}, 100, false},
		{"less than", Condition{Operator: OpLessThan, Value: 100}, 50, true},
		{"less than equal boundary", Condition{Operator: OpLessThanOrEqual, Value: 100}, 100, true},
		{"numeric string field", Condition{Operator: OpGreaterThan, Value: 100}, "200", true},
		{"numeric string comparison value", Condition{Operator: OpLessThan, Value: "100"}, 50, true},

		{"in list any", Condition{Operator: OpIn, Value: []any{"bash", "sh", "zsh"}}, "sh", true},
		{"in list string", Condition{Operator: OpIn, Value: []string{"bash", "sh"}}, "zsh", false},
		{"in case insensitive", Condition{Operator: OpIn, Value: []any{"Bash"}}, "bash", true},
		{"in case sensitive", Condition{Operator: OpIn, Value: []any{"Bash"}, CaseSensitive: true}, "bash", false},
		{"not in", Condition{Operator: OpNotIn, Value: []any{"bash", "sh"}}, "zsh", true},

		{"regex match", Condition{Operator: OpRegex, Value: `^10\.0\.`}, "10.0.0.5", true},
		{"regex miss", Condition{Operator: OpRegex, Value: `^10\.0\.`}, "192.168.0.5", false},

		{"exists present", Condition{Operator: OpExists}, "anything", true},
		{"exists nil", Condition{Operator: OpExists}, nil, false},
		{"exists empty string", Condition{Operator: OpExists}, "", false},
		{"not exists nil", Condition{Operator: OpNotExists}, nil, true},
		{"not exists present", Condition{Operator: OpNotExists}, "x", false},

		{"negate equals", Condition{Operator: OpEquals, Value: "ssh", Negate: true}, "ssh", false},
		{"negate miss", Condition{Operator: OpEquals, Value: "rdp", Negate: true}, "ssh", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Match(tt.value)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Match(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestConditionMatchErrors(t *testing.T) {
	tests := []struct {
		name  string
		cond  Condition
		value any
	}{
		{"non-numeric field", Condition{Operator: OpGreaterThan, Value: 100}, "not-a-number"},
		{"non-numeric comparison", Condition{Operator: OpLessThan, Value: "abc"}, 50},
		{"bad regex", Condition{Operator: OpRegex, Value: "["}, "x"},
		{"unknown operator", Condition{Operator: Operator("fuzzy")}, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.cond.Match(tt.value); err == nil {
				t.Error("expected evaluation error, got nil")
			}
		})
	}
}

func TestConditionValidate(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		wantErr bool
	}{
		{"valid equals", Condition{Field: "protocol", Operator: OpEquals, Value: "ssh"}, false},
		{"valid exists without value", Condition{Field: "session_id", Operator: OpExists}, false},
		{"valid in", Condition{Field: "shell", Operator: OpIn, Value: []any{"bash"}}, false},
		{"valid regex", Condition{Field: "ip", Operator: OpRegex, Value: `^10\.`}, false},
		{"missing field", Condition{Operator: OpEquals, Value: "x"}, true},
		{"missing operator", Condition{Field: "f"}, true},
		{"invalid operator", Condition{Field: "f", Operator: Operator("like")}, true},
		{"equals without value", Condition{Field: "f", Operator: OpEquals}, true},
		{"in without values", Condition{Field: "f", Operator: OpIn}, true},
		{"in empty list", Condition{Field: "f", Operator: OpIn, Value: []any{}}, true},
		{"invalid regex", Condition{Field: "f", Operator: OpRegex, Value: "("}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
