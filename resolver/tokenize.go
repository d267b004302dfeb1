// Package resolver substitutes {{stepId.path}} references in step
// parameters with values from earlier steps of the same execution.
package resolver

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Reference points into the output of a step: StepID plus a path of map keys
// and array indexes.
type Reference struct {
	Raw      string
	StepID   string
	Segments []string
}

func (r Reference) Path() string {
	return strings.Join(r.Segments, ".")
}

// Token is either literal text or a reference.
type Token struct {
	Literal string
	Ref     *Reference
}

// Tokenize splits s into literal and reference tokens. An unterminated "{{"
// and an empty "{{ }}" stay literal text.
func Tokenize(s string) []Token {
	var tokens []Token
	var lit strings.Builder
	rest := s
	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			lit.WriteString(rest)
			break
		}
		end := strings.Index(rest[start+len(openDelim):], closeDelim)
		if end < 0 {
			lit.WriteString(rest)
			break
		}
		end += start + len(openDelim)
		expr := strings.TrimSpace(rest[start+len(openDelim) : end])
		ref, err := ParseReference(expr)
		if err != nil {
			lit.WriteString(rest[:end+len(closeDelim)])
			rest = rest[end+len(closeDelim):]
			continue
		}
		lit.WriteString(rest[:start])
		if lit.Len() > 0 {
			tokens = append(tokens, Token{Literal: lit.String()})
			lit.Reset()
		}
		tokens = append(tokens, Token{Ref: &ref})
		rest = rest[end+len(closeDelim):]
	}
	if lit.Len() > 0 {
		tokens = append(tokens, Token{Literal: lit.String()})
	}
	return tokens
}

// ParseReference parses "stepId.a.0.b" or "stepId.a[0].b".
func ParseReference(expr string) (Reference, error) {
	if expr == "" {
		return Reference{}, fmt.Errorf("empty reference")
	}
	ref := Reference{Raw: expr}
	i := strings.IndexAny(expr, ".[")
	if i < 0 {
		ref.StepID = expr
		return ref, validStepID(ref.StepID)
	}
	ref.StepID = expr[:i]
	if err := validStepID(ref.StepID); err != nil {
		return Reference{}, err
	}
	rest := expr[i:]
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			j := strings.IndexAny(rest, ".[")
			if j < 0 {
				j = len(rest)
			}
			if j == 0 {
				return Reference{}, fmt.Errorf("empty path segment in %q", expr)
			}
			ref.Segments = append(ref.Segments, rest[:j])
			rest = rest[j:]
		case '[':
			j := strings.IndexByte(rest, ']')
			if j < 0 {
				return Reference{}, fmt.Errorf("unclosed index in %q", expr)
			}
			idx := rest[1:j]
			if _, err := strconv.Atoi(idx); err != nil {
				return Reference{}, fmt.Errorf("non-numeric index %q in %q", idx, expr)
			}
			ref.Segments = append(ref.Segments, idx)
			rest = rest[j+1:]
		default:
			return Reference{}, fmt.Errorf("unexpected %q in %q", rest[0], expr)
		}
	}
	return ref, nil
}

func validStepID(id string) error {
	if id == "" {
		return fmt.Errorf("missing step id")
	}
	for _, r := range id {
		if !(r == '_' || r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return fmt.Errorf("invalid step id %q", id)
		}
	}
	return nil
}
