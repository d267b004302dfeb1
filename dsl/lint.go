package dsl

import (
	"fmt"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/model"
	"github.com/awantoch/flowhook/resolver"
)

// Lint runs the semantic checks the schema cannot express. With a non-nil
// registry it also checks that apps, triggers and actions exist, that
// required arguments are set and that authenticated apps have a connection.
func Lint(flow *model.Flow, reg *app.Registry) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if len(flow.Steps) == 0 {
		add("flow %q has no steps", flow.Name)
		return errs
	}

	preceding := map[string]bool{}
	for i := range flow.Steps {
		step := &flow.Steps[i]
		switch {
		case i == 0 && step.Type != model.StepTrigger:
			add("step %s: first step must be a trigger", step.ID)
		case i > 0 && step.Type != model.StepAction:
			add("step %s: only the first step may be a trigger", step.ID)
		}
		if i > 0 && step.Position <= flow.Steps[i-1].Position {
			add("step %s: position %d is not greater than %d", step.ID, step.Position, flow.Steps[i-1].Position)
		}
		if preceding[step.ID] {
			add("step %s: duplicate step id", step.ID)
		}
		literal := literalArguments(step, reg)
		for key, value := range step.Parameters {
			if literal[key] {
				continue
			}
			for _, ref := range resolver.References(value) {
				if !preceding[ref] {
					add("step %s: parameter %s references %q, which is not a preceding step", step.ID, key, ref)
				}
			}
		}
		if reg != nil {
			errs = append(errs, lintRunnable(step, reg)...)
		}
		preceding[step.ID] = true
	}
	return errs
}

// literalArguments lists the parameters taken verbatim, whose braces are not
// references.
func literalArguments(step *model.Step, reg *app.Registry) map[string]bool {
	out := map[string]bool{}
	if reg == nil {
		return out
	}
	r, err := reg.Runnable(step)
	if err != nil {
		return out
	}
	for _, arg := range r.Schema() {
		if !arg.Variables {
			out[arg.Key] = true
		}
	}
	return out
}

func lintRunnable(step *model.Step, reg *app.Registry) []error {
	a, err := reg.App(step.AppKey)
	if err != nil {
		return []error{fmt.Errorf("step %s: %w", step.ID, err)}
	}
	r, err := reg.Runnable(step)
	if err != nil {
		return []error{fmt.Errorf("step %s: %w", step.ID, err)}
	}
	var errs []error
	if a.Auth != nil && step.ConnectionID == nil {
		errs = append(errs, fmt.Errorf("step %s: app %s requires a connection", step.ID, a.Key))
	}
	for _, arg := range r.Schema() {
		if !arg.Required || arg.Default != nil {
			continue
		}
		if v, ok := step.Parameters[arg.Key]; !ok || v == nil || v == "" {
			errs = append(errs, fmt.Errorf("step %s: missing required parameter %q", step.ID, arg.Key))
		}
	}
	return errs
}
