package filter

import (
	"context"
	"testing"

	"github.com/awantoch/flowhook/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionEval(t *testing.T) {
	cases := []struct {
		cond Condition
		want bool
	}{
		{Condition{"paid", Equal, "paid"}, true},
		{Condition{"paid", NotEqual, "paid"}, false},
		{Condition{"invoice 42", Contains, "42"}, true},
		{Condition{"invoice 42", NotContains, "43"}, true},
		{Condition{float64(100), GreaterThan, "99.5"}, true},
		{Condition{"9", LessThan, "10"}, true},
		{Condition{"b", GreaterThanOrEqual, "a"}, true},
		{Condition{5, LessThanOrEqual, 5}, true},
		{Condition{"  ", IsEmpty, nil}, true},
		{Condition{nil, IsNotEmpty, nil}, false},
		{Condition{true, IsTrue, nil}, true},
		{Condition{"false", IsFalse, nil}, true},
		{Condition{"maybe", IsTrue, nil}, false},
	}
	for _, tc := range cases {
		got, err := tc.cond.Eval()
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%v %s %v", tc.cond.Key, tc.cond.Operator, tc.cond.Value)
	}

	_, err := Condition{"a", "matches", "b"}.Eval()
	assert.Error(t, err)
}

func TestContinueIfStops(t *testing.T) {
	c := &app.Context{Params: map[string]any{
		"match": "all",
		"conditions": []any{
			map[string]any{"key": float64(12), "operator": "greater_than", "value": "10"},
			map[string]any{"key": "EUR", "operator": "equal", "value": "USD"},
		},
	}}
	require.NoError(t, continueIf(context.Background(), c))
	stopped, reason := c.Stopped()
	assert.True(t, stopped)
	assert.NotEmpty(t, reason)
	out, ok := c.ActionItem()
	require.True(t, ok)
	assert.Equal(t, false, out["continue"])
	assert.Equal(t, []any{true, false}, out["results"])
}

func TestContinueIfAnyPasses(t *testing.T) {
	c := &app.Context{Params: map[string]any{
		"match": "any",
		"conditions": []any{
			map[string]any{"key": "EUR", "operator": "equal", "value": "USD"},
			map[string]any{"key": "EUR", "value": "EUR"},
		},
	}}
	require.NoError(t, continueIf(context.Background(), c))
	stopped, _ := c.Stopped()
	assert.False(t, stopped)
	out, _ := c.ActionItem()
	assert.Equal(t, true, out["continue"])
}

func TestContinueIfRejectsMalformedConditions(t *testing.T) {
	c := &app.Context{Params: map[string]any{"conditions": "amount > 10"}}
	assert.Error(t, continueIf(context.Background(), c))
}
