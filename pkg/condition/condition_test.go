package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Matches(t *testing.T) {
	e := NewEngine()

	payload := map[string]interface{}{
		"invoice.amount":   1500.0,
		"invoice.currency": "EUR",
		"invoice.status":   "sent",
		"client.name":      "Acme Studios",
	}

	tests := []struct {
		name     string
		cond     *Condition
		expected bool
	}{
		{
			name:     "nil condition always matches",
			cond:     nil,
			expected: true,
		},
		{
			name:     "empty conjunction always matches",
			cond:     &Condition{},
			expected: true,
		},
		{
			name:     "greater-than fires above threshold",
			cond:     &Condition{All: []Compare{{Field: "invoice.amount", Op: OpGreaterThan, Value: 1000}}},
			expected: true,
		},
		{
			name:     "greater-than does not fire below threshold",
			cond:     &Condition{All: []Compare{{Field: "invoice.amount", Op: OpGreaterThan, Value: 2000}}},
			expected: false,
		},
		{
			name:     "equals on string",
			cond:     &Condition{All: []Compare{{Field: "invoice.currency", Op: OpEquals, Value: "EUR"}}},
			expected: true,
		},
		{
			name:     "not-equals",
			cond:     &Condition{All: []Compare{{Field: "invoice.status", Op: OpNotEquals, Value: "paid"}}},
			expected: true,
		},
		{
			name:     "less-than",
			cond:     &Condition{All: []Compare{{Field: "invoice.amount", Op: OpLessThan, Value: 1000}}},
			expected: false,
		},
		{
			name:     "contains",
			cond:     &Condition{All: []Compare{{Field: "client.name", Op: OpContains, Value: "Acme"}}},
			expected: true,
		},
		{
			name:     "in-set",
			cond:     &Condition{All: []Compare{{Field: "invoice.status", Op: OpIn, Value: []interface{}{"sent", "overdue"}}}},
			expected: true,
		},
		{
			name: "conjunction requires every comparison",
			cond: &Condition{All: []Compare{
				{Field: "invoice.amount", Op: OpGreaterThan, Value: 1000},
				{Field: "invoice.currency", Op: OpEquals, Value: "USD"},
			}},
			expected: false,
		},
		{
			name:     "absent field never matches",
			cond:     &Condition{All: []Compare{{Field: "invoice.missing", Op: OpGreaterThan, Value: 1}}},
			expected: false,
		},
		{
			name:     "absent field never matches even for not-equals",
			cond:     &Condition{All: []Compare{{Field: "invoice.missing", Op: OpNotEquals, Value: "x"}}},
			expected: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			matched, err := e.Matches(tc.cond, payload)
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, matched)
		})
	}
}

func TestEngine_ProgramCacheReuse(t *testing.T) {
	e := NewEngine()
	cond := &Condition{All: []Compare{{Field: "invoice.amount", Op: OpGreaterThan, Value: 100}}}

	for i := 0; i < 3; i++ {
		matched, err := e.Matches(cond, map[string]interface{}{"invoice.amount": 200})
		require.NoError(t, err)
		assert.True(t, matched)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.programCache, 1)
}

func TestCondition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cond    *Condition
		wantErr bool
	}{
		{"nil is valid", nil, false},
		{"valid triple", &Condition{All: []Compare{{Field: "invoice.amount", Op: OpGreaterThan, Value: 10}}}, false},
		{"missing field", &Condition{All: []Compare{{Op: OpEquals, Value: 1}}}, true},
		{"bad field path", &Condition{All: []Compare{{Field: "amount]; drop", Op: OpEquals, Value: 1}}}, true},
		{"unknown operator", &Condition{All: []Compare{{Field: "a", Op: "gte", Value: 1}}}, true},
		{"in requires array", &Condition{All: []Compare{{Field: "a", Op: OpIn, Value: "sent"}}}, true},
		{"in with array ok", &Condition{All: []Compare{{Field: "a", Op: OpIn, Value: []string{"sent"}}}}, false},
		{"contains requires string", &Condition{All: []Compare{{Field: "a", Op: OpContains, Value: 7}}}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cond.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParse(t *testing.T) {
	cond, err := Parse([]byte(`{"all":[{"field":"invoice.amount","op":"gt","value":1000}]}`))
	require.NoError(t, err)
	require.NotNil(t, cond)
	assert.Len(t, cond.All, 1)
	assert.Equal(t, OpGreaterThan, cond.All[0].Op)

	cond, err = Parse(nil)
	require.NoError(t, err)
	assert.Nil(t, cond)

	_, err = Parse([]byte(`{"all":[{"field":"a","op":"nope","value":1}]}`))
	assert.Error(t, err)
}
