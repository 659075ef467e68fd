// Package filter provides the stateless predicate evaluator used by
// filtered pull sessions. A Spec is an ordered set of conditions over
// payload keys combined with AND or OR. A missing key makes that
// condition false, never an error.
package filter

import (
	"fmt"
	"strconv"

	"github.com/thinkerajay/event-streamer-service/errors"
	"github.com/thinkerajay/event-streamer-service/event"
)

// Operator is a comparison applied to a single payload field.
type Operator string

// Supported operators.
const (
	OpGreater Operator = ">"
	OpLess    Operator = "<"
	OpEqual   Operator = "=="
)

// Combinator joins the results of all conditions in a Spec.
type Combinator string

// Supported combinators.
const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

// Condition is one (key, operator, value) predicate.
type Condition struct {
	Key   string
	Op    Operator
	Value string
}

// Spec is an ordered set of conditions plus a combinator.
type Spec struct {
	Conditions []Condition
	Combinator Combinator
}

// FromRequest converts the wire-level filter list into a Spec,
// rejecting unknown operators and combinators.
func FromRequest(filters []event.Filter, operation string) (Spec, error) {
	comb := Combinator(operation)
	if comb != CombinatorAnd && comb != CombinatorOr {
		return Spec{}, errors.WrapInvalid(errors.ErrMalformedMessage,
			"Spec", "FromRequest", fmt.Sprintf("unknown combinator %q", operation))
	}

	conditions := make([]Condition, 0, len(filters))
	for _, f := range filters {
		op := Operator(f.Operation)
		switch op {
		case OpGreater, OpLess, OpEqual:
		default:
			return Spec{}, errors.WrapInvalid(errors.ErrMalformedMessage,
				"Spec", "FromRequest", fmt.Sprintf("unknown operator %q", f.Operation))
		}
		conditions = append(conditions, Condition{Key: f.Key, Op: op, Value: f.Value})
	}

	return Spec{Conditions: conditions, Combinator: comb}, nil
}

// Matches evaluates the Spec against a record payload.
// AND forwards iff every condition matched; OR iff at least one did.
// An empty condition set matches everything.
func (s Spec) Matches(payload map[string]any) bool {
	if len(s.Conditions) == 0 {
		return true
	}

	matched := 0
	for _, c := range s.Conditions {
		if c.matches(payload) {
			matched++
		}
	}

	if s.Combinator == CombinatorOr {
		return matched > 0
	}
	return matched == len(s.Conditions)
}

// matches evaluates one condition. A key absent from the payload is
// non-matching for that condition.
func (c Condition) matches(payload map[string]any) bool {
	value, ok := payload[c.Key]
	if !ok {
		return false
	}

	switch c.Op {
	case OpGreater:
		return compareValues(value, c.Value) > 0
	case OpLess:
		return compareValues(value, c.Value) < 0
	case OpEqual:
		// Equality match, consistent between catch-up and live phases.
		return fmt.Sprint(value) == c.Value
	default:
		return false
	}
}

// compareValues orders a payload value against a filter value. Both sides
// are compared numerically when they parse as numbers, falling back to
// lexicographic comparison of their string forms.
func compareValues(payloadValue any, filterValue string) int {
	pn, pok := toFloat64(payloadValue)
	fn, ferr := strconv.ParseFloat(filterValue, 64)
	if pok && ferr == nil {
		switch {
		case pn < fn:
			return -1
		case pn > fn:
			return 1
		default:
			return 0
		}
	}

	ps := fmt.Sprint(payloadValue)
	switch {
	case ps < filterValue:
		return -1
	case ps > filterValue:
		return 1
	default:
		return 0
	}
}

// toFloat64 converts a JSON payload value to float64 for comparison.
func toFloat64(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
