// Package condition implements the fixed trigger condition grammar: a
// conjunction of (field, operator, value) comparisons evaluated against an
// event's flattened payload. Conditions are parsed and validated once at
// definition-save time, then compiled into cached expr programs.
package condition

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Op is a comparison operator
type Op string

const (
	OpEquals      Op = "eq"
	OpNotEquals   Op = "ne"
	OpGreaterThan Op = "gt"
	OpLessThan    Op = "lt"
	OpContains    Op = "contains"
	OpIn          Op = "in"
)

// IsValid reports whether the operator is supported
func (o Op) IsValid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpIn:
		return true
	}
	return false
}

// Compare is a single (field, operator, value) triple. Field is a dotted path
// into the flattened payload, e.g. "invoice.amount".
type Compare struct {
	Field string      `json:"field"`
	Op    Op          `json:"op"`
	Value interface{} `json:"value"`
}

// Condition is a conjunction of comparisons. Every comparison must hold for
// the condition to match; an empty (or nil) condition always matches.
// There is deliberately no OR/NOT in this grammar.
type Condition struct {
	All []Compare `json:"all"`
}

// fieldPattern restricts field paths to characters that are safe to embed in
// a compiled expression source
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)

// Validate checks the condition against the grammar. A nil condition is valid.
func (c *Condition) Validate() error {
	if c == nil {
		return nil
	}
	for i, cmp := range c.All {
		if cmp.Field == "" {
			return fmt.Errorf("condition[%d]: field is required", i)
		}
		if !fieldPattern.MatchString(cmp.Field) {
			return fmt.Errorf("condition[%d]: invalid field path %q", i, cmp.Field)
		}
		if !cmp.Op.IsValid() {
			return fmt.Errorf("condition[%d]: unknown operator %q", i, cmp.Op)
		}
		if cmp.Op == OpIn {
			if _, ok := asSlice(cmp.Value); !ok {
				return fmt.Errorf("condition[%d]: operator 'in' requires an array value", i)
			}
		}
		if cmp.Op == OpContains {
			if _, ok := cmp.Value.(string); !ok {
				return fmt.Errorf("condition[%d]: operator 'contains' requires a string value", i)
			}
		}
	}
	return nil
}

// IsEmpty reports whether the condition matches every payload
func (c *Condition) IsEmpty() bool {
	return c == nil || len(c.All) == 0
}

// Parse decodes and validates a JSON-encoded condition. An empty input yields
// a nil condition (always matches).
func Parse(raw []byte) (*Condition, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var c Condition
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("invalid condition: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Fingerprint returns a stable identity for program caching
func (c *Condition) Fingerprint() string {
	raw, _ := json.Marshal(c)
	return string(raw)
}

// source builds the expr program source and the value environment for this
// condition. An absent payload field never matches (and never errors), so
// every comparison is guarded by a key-membership check.
func (c *Condition) source() (string, map[string]interface{}) {
	values := make(map[string]interface{}, len(c.All))
	clauses := make([]string, 0, len(c.All))

	for i, cmp := range c.All {
		ref := fmt.Sprintf("v%d", i)
		lookup := fmt.Sprintf("payload[%q]", cmp.Field)
		guard := fmt.Sprintf("(%q in payload)", cmp.Field)
		values[ref] = cmp.Value

		var clause string
		switch cmp.Op {
		case OpEquals:
			clause = fmt.Sprintf("%s && %s == %s", guard, lookup, ref)
		case OpNotEquals:
			clause = fmt.Sprintf("%s && %s != %s", guard, lookup, ref)
		case OpGreaterThan:
			clause = fmt.Sprintf("%s && %s > %s", guard, lookup, ref)
		case OpLessThan:
			clause = fmt.Sprintf("%s && %s < %s", guard, lookup, ref)
		case OpContains:
			clause = fmt.Sprintf("%s && string(%s) contains %s", guard, lookup, ref)
		case OpIn:
			clause = fmt.Sprintf("%s && %s in %s", guard, lookup, ref)
		}
		clauses = append(clauses, "("+clause+")")
	}

	return strings.Join(clauses, " && "), values
}

func asSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case []string:
		out := make([]interface{}, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]interface{}, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}
