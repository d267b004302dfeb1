package resolver

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/awantoch/flowhook/errs"
	"github.com/tidwall/gjson"
)

// Scope holds the outputs of the steps executed so far in one execution.
type Scope struct {
	mu      sync.RWMutex
	outputs map[string]map[string]any
}

func NewScope() *Scope {
	return &Scope{outputs: make(map[string]map[string]any)}
}

// Set records the output of stepID. The output must be JSON-encodable, since
// it is persisted on the execution step.
func (s *Scope) Set(stepID string, output map[string]any) error {
	if _, err := json.Marshal(output); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[stepID] = output
	return nil
}

func (s *Scope) Has(stepID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.outputs[stepID]
	return ok
}

// Outputs returns a copy of the recorded outputs keyed by step ID.
func (s *Scope) Outputs() map[string]map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]any, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = v
	}
	return out
}

// Lookup returns the value ref points at, as stored: an int stays an int.
func (s *Scope) Lookup(ref Reference) (any, error) {
	s.mu.RLock()
	output, ok := s.outputs[ref.StepID]
	s.mu.RUnlock()
	if !ok {
		return nil, &errs.UnresolvedVariableError{Reference: ref.Raw, StepID: ref.StepID, Path: ref.Path(), Reason: "step has not executed"}
	}
	v, found := walk(output, ref.Segments)
	if !found {
		return nil, &errs.UnresolvedVariableError{Reference: ref.Raw, StepID: ref.StepID, Path: ref.Path(), Reason: "path not found in step output"}
	}
	return v, nil
}

func walk(v any, segments []string) (any, bool) {
	for i, seg := range segments {
		switch node := v.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			v = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			v = node[idx]
		default:
			return walkReflect(v, segments[i:])
		}
	}
	return v, true
}

// walkReflect descends into typed maps and slices a plugin may emit, such as
// map[string]string or []map[string]any. Structs are read through their JSON
// form.
func walkReflect(v any, segments []string) (any, bool) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	seg := segments[0]
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		next := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !next.IsValid() {
			return nil, false
		}
		return walk(next.Interface(), segments[1:])
	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= rv.Len() {
			return nil, false
		}
		return walk(rv.Index(idx).Interface(), segments[1:])
	case reflect.Struct:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		res := gjson.GetBytes(raw, gjsonPath(segments))
		if !res.Exists() {
			return nil, false
		}
		return gjsonValue(res), true
	default:
		return nil, false
	}
}

// gjsonValue is res.Value() with integers kept as int64.
func gjsonValue(res gjson.Result) any {
	if res.Type == gjson.Number {
		if n, err := strconv.ParseInt(res.Raw, 10, 64); err == nil {
			return n
		}
		return res.Float()
	}
	if res.IsObject() || res.IsArray() {
		var out any
		dec := json.NewDecoder(strings.NewReader(res.Raw))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return res.Value()
		}
		return normalizeNumbers(out)
	}
	return res.Value()
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	default:
		return v
	}
}

var gjsonEscaper = strings.NewReplacer(
	`\`, `\\`, `.`, `\.`, `*`, `\*`, `?`, `\?`, `|`, `\|`, `#`, `\#`, `@`, `\@`, `!`, `\!`, `=`, `\=`, `<`, `\<`, `>`, `\>`, `%`, `\%`,
)

func gjsonPath(segments []string) string {
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = gjsonEscaper.Replace(seg)
	}
	return strings.Join(escaped, ".")
}
