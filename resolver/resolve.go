package resolver

import (
	"errors"
	"sort"
	"strings"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/errs"
	"github.com/awantoch/flowhook/utils"
)

// Resolve produces the effective parameters of a step. Parameters not in
// schema are substituted too. Optional arguments with an unresolved
// reference resolve to empty; required ones fail.
func Resolve(schema []app.Argument, params map[string]any, scope *Scope) (map[string]any, error) {
	out := make(map[string]any, len(params))
	known := make(map[string]bool, len(schema))
	for _, arg := range schema {
		known[arg.Key] = true
		v, present := params[arg.Key]
		if !present || v == nil {
			v = arg.Default
		}
		if arg.Variables {
			resolved, err := resolveValue(v, scope, !arg.Required)
			if err != nil {
				return nil, err
			}
			v = resolved
		}
		if arg.Required && isEmpty(v) {
			return nil, &errs.MissingArgumentError{Argument: arg.Key}
		}
		if v != nil || present {
			out[arg.Key] = v
		}
	}

	extra := make([]string, 0, len(params))
	for k := range params {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		v, err := resolveValue(params[k], scope, false)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// ResolveValue substitutes references in v, failing on any unresolved one.
func ResolveValue(v any, scope *Scope) (any, error) {
	return resolveValue(v, scope, false)
}

func resolveValue(v any, scope *Scope, lenient bool) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, scope, lenient)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := resolveValue(item, scope, lenient)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := resolveValue(item, scope, lenient)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, scope *Scope, lenient bool) (any, error) {
	tokens := Tokenize(s)
	if len(tokens) == 1 && tokens[0].Ref != nil {
		// a lone reference keeps the referenced value's type
		v, err := lookup(*tokens[0].Ref, scope, lenient)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	var b strings.Builder
	for _, tok := range tokens {
		if tok.Ref == nil {
			b.WriteString(tok.Literal)
			continue
		}
		v, err := lookup(*tok.Ref, scope, lenient)
		if err != nil {
			return nil, err
		}
		b.WriteString(utils.Stringify(v))
	}
	return b.String(), nil
}

func lookup(ref Reference, scope *Scope, lenient bool) (any, error) {
	v, err := scope.Lookup(ref)
	if err != nil {
		var unresolved *errs.UnresolvedVariableError
		if lenient && errors.As(err, &unresolved) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}

// References returns the distinct step IDs referenced anywhere in v, in
// order of first appearance.
func References(v any) []string {
	seen := map[string]bool{}
	var ids []string
	var walk func(any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			for _, tok := range Tokenize(val) {
				if tok.Ref != nil && !seen[tok.Ref.StepID] {
					seen[tok.Ref.StepID] = true
					ids = append(ids, tok.Ref.StepID)
				}
			}
		case map[string]any:
			keys := make([]string, 0, len(val))
			for k := range val {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(val[k])
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(v)
	return ids
}
