package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Operator is the closed set of condition operators.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpStartsWith         Operator = "starts_with"
	OpEndsWith           Operator = "ends_with"
	OpGreaterThan        Operator = "greater_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThan           Operator = "less_than"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
	OpRegex              Operator = "regex"
	OpExists             Operator = "exists"
	OpNotExists          Operator = "not_exists"
)

var validOperators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true,
	OpContains: true, OpNotContains: true,
	OpStartsWith: true, OpEndsWith: true,
	OpGreaterThan: true, OpGreaterThanOrEqual: true,
	OpLessThan: true, OpLessThanOrEqual: true,
	OpIn: true, OpNotIn: true,
	OpRegex: true, OpExists: true, OpNotExists: true,
}

// Condition is a single field filter. All of a rule's conditions must
// hold for the rule to match an event.
type Condition struct {
	Field         string   `yaml:"field"`
	Operator      Operator `yaml:"operator"`
	Value         any      `yaml:"value,omitempty"`
	CaseSensitive bool     `yaml:"caseSensitive,omitempty"`
	Negate        bool     `yaml:"negate,omitempty"`
}

// Validate validates the condition.
func (c *Condition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("field is required")
	}
	if c.Operator == "" {
		return fmt.Errorf("operator is required")
	}
	if !validOperators[c.Operator] {
		return fmt.Errorf("invalid operator: %s", c.Operator)
	}

	switch c.Operator {
	case OpExists, OpNotExists:
		// No comparison value needed.
	case OpIn, OpNotIn:
		if len(c.listValues()) == 0 {
			return fmt.Errorf("values required for %s operator", c.Operator)
		}
	case OpRegex:
		if _, err := regexp.Compile(fmt.Sprintf("%v", c.Value)); err != nil {
			return fmt.Errorf("invalid regex: %w", err)
		}
	default:
		if c.Value == nil {
			return fmt.Errorf("value required for %s operator", c.Operator)
		}
	}

	return nil
}

// Match evaluates the condition against a resolved field value. The
// returned error marks an evaluation failure (bad pattern, incomparable
// types) which callers treat as a non-match for the owning rule only.
func (c *Condition) Match(value any) (bool, error) {
	result, err := c.eval(value)
	if err != nil {
		return false, err
	}
	if c.Negate {
		result = !result
	}
	return result, nil
}

func (c *Condition) eval(value any) (bool, error) {
	switch c.Operator {
	case OpExists:
		return exists(value), nil
	case OpNotExists:
		return !exists(value), nil
	}

	switch c.Operator {
	case OpEquals:
		return c.compareStrings(value, func(s, want string) bool { return s == want }), nil
	case OpNotEquals:
		return !c.compareStrings(value, func(s, want string) bool { return s == want }), nil
	case OpContains:
		return c.compareStrings(value, strings.Contains), nil
	case OpNotContains:
		return !c.compareStrings(value, strings.Contains), nil
	case OpStartsWith:
		return c.compareStrings(value, strings.HasPrefix), nil
	case OpEndsWith:
		return c.compareStrings(value, strings.HasSuffix), nil

	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		have, ok := toFloat64(value)
		if !ok {
			return false, fmt.Errorf("field value %v is not numeric", value)
		}
		want, ok := toFloat64(c.Value)
		if !ok {
			return false, fmt.Errorf("comparison value %v is not numeric", c.Value)
		}
		switch c.Operator {
		case OpGreaterThan:
			return have > want, nil
		case OpGreaterThanOrEqual:
			return have >= want, nil
		case OpLessThan:
			return have < want, nil
		default:
			return have <= want, nil
		}

	case OpIn:
		return c.matchIn(value), nil
	case OpNotIn:
		return !c.matchIn(value), nil

	case OpRegex:
		re, err := regexp.Compile(fmt.Sprintf("%v", c.Value))
		if err != nil {
			return false, fmt.Errorf("regex compile: %w", err)
		}
		return re.MatchString(fmt.Sprintf("%v", value)), nil
	}

	return false, fmt.Errorf("unknown operator: %s", c.Operator)
}

// compareStrings applies op to the field and comparison values as strings,
// lowercasing both unless the condition is case sensitive.
func (c *Condition) compareStrings(value any, op func(s, want string) bool) bool {
	s := fmt.Sprintf("%v", value)
	want := fmt.Sprintf("%v", c.Value)
	if !c.CaseSensitive {
		s = strings.ToLower(s)
		want = strings.ToLower(want)
	}
	return op(s, want)
}

func (c *Condition) matchIn(value any) bool {
	s := fmt.Sprintf("%v", value)
	for _, candidate := range c.listValues() {
		if c.CaseSensitive {
			if s == candidate {
				return true
			}
		} else if strings.EqualFold(s, candidate) {
			return true
		}
	}
	return false
}

// listValues normalizes the comparison value of in/not_in conditions,
// which YAML may decode as []any or []string.
func (c *Condition) listValues() []string {
	switch vals := c.Value.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, len(vals))
		for i, v := range vals {
			out[i] = fmt.Sprintf("%v", v)
		}
		return out
	}
	return nil
}

func exists(value any) bool {
	return value != nil && value != ""
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
