package rag

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"Orion-Core/server/internal/models"
)

// Condition is one filter clause. Implementations are a closed set so new
// variants can be added without changing existing callers.
type Condition interface {
	// Matches reports whether the clause holds for payload.
	Matches(payload models.Payload) bool
	isCondition()
}

// MatchClause requires payload[Key] to equal Value. On array fields it
// matches when any element equals Value.
type MatchClause struct {
	Key   string
	Value any
}

// MatchAnyClause requires payload[Key] to equal one of Values.
type MatchAnyClause struct {
	Key    string
	Values []string
}

func (MatchClause) isCondition()    {}
func (MatchAnyClause) isCondition() {}

func (c MatchClause) Matches(payload models.Payload) bool {
	return fieldContains(payload[c.Key], c.Value)
}

func (c MatchAnyClause) Matches(payload models.Payload) bool {
	for _, v := range c.Values {
		if fieldContains(payload[c.Key], v) {
			return true
		}
	}
	return false
}

// Filter combines clauses. A nil *Filter matches everything.
type Filter struct {
	Must    []Condition
	Should  []Condition
	MustNot []Condition
}

// Match is a shorthand for a single-clause conjunction.
func Match(key string, value any) *Filter {
	return &Filter{Must: []Condition{MatchClause{Key: key, Value: value}}}
}

// And returns a filter requiring every clause of f plus c.
func (f *Filter) And(c ...Condition) *Filter {
	out := &Filter{}
	if f != nil {
		out.Must = append(out.Must, f.Must...)
		out.Should = append(out.Should, f.Should...)
		out.MustNot = append(out.MustNot, f.MustNot...)
	}
	out.Must = append(out.Must, c...)
	return out
}

// IsEmpty reports whether the filter has no clauses.
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.Must) == 0 && len(f.Should) == 0 && len(f.MustNot) == 0)
}

// Matches evaluates the filter against a payload.
func (f *Filter) Matches(payload models.Payload) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if !c.Matches(payload) {
			return false
		}
	}
	for _, c := range f.MustNot {
		if c.Matches(payload) {
			return false
		}
	}
	if len(f.Should) == 0 {
		return true
	}
	for _, c := range f.Should {
		if c.Matches(payload) {
			return true
		}
	}
	return false
}

func fieldContains(field, want any) bool {
	switch v := field.(type) {
	case nil:
		return false
	case []string:
		for _, e := range v {
			if scalarEqual(e, want) {
				return true
			}
		}
		return false
	case []any:
		for _, e := range v {
			if scalarEqual(e, want) {
				return true
			}
		}
		return false
	default:
		return scalarEqual(v, want)
	}
}

func scalarEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return scalarString(a) == scalarString(b)
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// filterJSON is the structured wire form:
//
//	{"must":[{"key":"type","match":{"value":"journal"}}],
//	 "should":[{"key":"tags","match":{"any":["a","b"]}}]}
type filterJSON struct {
	Must    []clauseJSON `json:"must"`
	Should  []clauseJSON `json:"should"`
	MustNot []clauseJSON `json:"must_not"`
}

type clauseJSON struct {
	Key   string `json:"key"`
	Match struct {
		Value any      `json:"value"`
		Any   []string `json:"any"`
	} `json:"match"`
}

// ParseFilter decodes either the structured form above or the flat map form
// {"type":"journal","tags":["a","b"]}, where a list requires every element.
// Empty input yields a nil filter.
func ParseFilter(raw json.RawMessage) (*Filter, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, models.Validation("filter.parse", "filter must be a JSON object: %v", err)
	}
	_, hasMust := probe["must"]
	_, hasShould := probe["should"]
	_, hasMustNot := probe["must_not"]
	if hasMust || hasShould || hasMustNot {
		return parseStructured(raw)
	}
	return parseFlat(probe)
}

func parseStructured(raw json.RawMessage) (*Filter, error) {
	var fj filterJSON
	if err := json.Unmarshal(raw, &fj); err != nil {
		return nil, models.Validation("filter.parse", "invalid filter: %v", err)
	}
	f := &Filter{}
	var err error
	if f.Must, err = toConditions(fj.Must); err != nil {
		return nil, err
	}
	if f.Should, err = toConditions(fj.Should); err != nil {
		return nil, err
	}
	if f.MustNot, err = toConditions(fj.MustNot); err != nil {
		return nil, err
	}
	return f, nil
}

func toConditions(clauses []clauseJSON) ([]Condition, error) {
	out := make([]Condition, 0, len(clauses))
	for i, c := range clauses {
		if c.Key == "" {
			return nil, models.Validation("filter.parse", "clause %d: key is required", i)
		}
		switch {
		case len(c.Match.Any) > 0:
			out = append(out, MatchAnyClause{Key: c.Key, Values: c.Match.Any})
		case c.Match.Value != nil:
			out = append(out, MatchClause{Key: c.Key, Value: c.Match.Value})
		default:
			return nil, models.Validation("filter.parse", "clause %d (%s): match.value or match.any is required", i, c.Key)
		}
	}
	return out, nil
}

func parseFlat(fields map[string]json.RawMessage) (*Filter, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f := &Filter{}
	for _, k := range keys {
		var v any
		if err := json.Unmarshal(fields[k], &v); err != nil {
			return nil, models.Validation("filter.parse", "field %s: %v", k, err)
		}
		switch val := v.(type) {
		case nil:
			continue
		case []any:
			for _, e := range val {
				f.Must = append(f.Must, MatchClause{Key: k, Value: e})
			}
		case map[string]any:
			return nil, models.Validation("filter.parse", "field %s: nested objects are not supported", k)
		default:
			f.Must = append(f.Must, MatchClause{Key: k, Value: val})
		}
	}
	return f, nil
}
