// Package filter stops an execution unless its conditions hold.
package filter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/utils"
)

type Operator string

const (
	Equal              Operator = "equal"
	NotEqual           Operator = "not_equal"
	Contains           Operator = "contains"
	NotContains        Operator = "not_contains"
	GreaterThan        Operator = "greater_than"
	GreaterThanOrEqual Operator = "greater_than_or_equal"
	LessThan           Operator = "less_than"
	LessThanOrEqual    Operator = "less_than_or_equal"
	IsEmpty            Operator = "is_empty"
	IsNotEmpty         Operator = "is_not_empty"
	IsTrue             Operator = "is_true"
	IsFalse            Operator = "is_false"
)

type Condition struct {
	Key      any
	Operator Operator
	Value    any
}

func App() *app.App {
	return &app.App{
		Key:  "filter",
		Name: "Filter",
		Actions: []*app.Action{
			{
				Key:         "continueIf",
				Name:        "Only continue if",
				Description: "Lets the execution continue only when the conditions match.",
				Arguments: []app.Argument{
					{
						Key:         "conditions",
						Label:       "Conditions",
						Description: "List of {key, operator, value} objects.",
						Type:        app.ArgList,
						Required:    true,
						Variables:   true,
					},
					{
						Key:     "match",
						Label:   "Match",
						Type:    app.ArgDropdown,
						Default: "all",
						Options: []app.Option{
							{Label: "All conditions", Value: "all"},
							{Label: "Any condition", Value: "any"},
						},
					},
				},
				Handler: continueIf,
			},
		},
	}
}

func continueIf(ctx context.Context, c *app.Context) error {
	conds, err := parseConditions(c.Param("conditions"))
	if err != nil {
		return err
	}
	matchAny := c.ParamString("match") == "any"

	results := make([]any, len(conds))
	pass := !matchAny
	for i, cond := range conds {
		ok, err := cond.Eval()
		if err != nil {
			return fmt.Errorf("condition %d: %w", i+1, err)
		}
		results[i] = ok
		if matchAny {
			pass = pass || ok
		} else {
			pass = pass && ok
		}
	}
	c.SetActionItem(map[string]any{"continue": pass, "results": results})
	if !pass {
		c.Stop("filter conditions did not match")
	}
	return nil
}

func parseConditions(v any) ([]Condition, error) {
	list, ok := utils.SafeSliceAssert(v)
	if !ok {
		if m, isMap := utils.SafeMapAssert(v); isMap {
			list = []any{m}
		} else {
			return nil, fmt.Errorf("conditions must be a list, got %T", v)
		}
	}
	out := make([]Condition, 0, len(list))
	for i, item := range list {
		m, ok := utils.SafeMapAssert(item)
		if !ok {
			return nil, fmt.Errorf("condition %d must be an object", i+1)
		}
		op := Operator(utils.Stringify(m["operator"]))
		if op == "" {
			op = Equal
		}
		out = append(out, Condition{Key: m["key"], Operator: op, Value: m["value"]})
	}
	return out, nil
}

// Eval applies the operator. Ordering operators compare numerically when both
// sides are numbers and lexically otherwise.
func (c Condition) Eval() (bool, error) {
	left, right := utils.Stringify(c.Key), utils.Stringify(c.Value)
	switch c.Operator {
	case Equal:
		return left == right, nil
	case NotEqual:
		return left != right, nil
	case Contains:
		return strings.Contains(left, right), nil
	case NotContains:
		return !strings.Contains(left, right), nil
	case GreaterThan:
		return compare(c.Key, c.Value) > 0, nil
	case GreaterThanOrEqual:
		return compare(c.Key, c.Value) >= 0, nil
	case LessThan:
		return compare(c.Key, c.Value) < 0, nil
	case LessThanOrEqual:
		return compare(c.Key, c.Value) <= 0, nil
	case IsEmpty:
		return strings.TrimSpace(left) == "", nil
	case IsNotEmpty:
		return strings.TrimSpace(left) != "", nil
	case IsTrue, IsFalse:
		b, err := strconv.ParseBool(strings.TrimSpace(left))
		if err != nil {
			return false, nil
		}
		return b == (c.Operator == IsTrue), nil
	default:
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
}

func compare(a, b any) int {
	x, okA := utils.ToFloat(a)
	y, okB := utils.ToFloat(b)
	if okA && okB {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(utils.Stringify(a), utils.Stringify(b))
}
