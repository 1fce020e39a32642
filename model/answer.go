package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// AnswerValue is the answer to a single field. It is a tagged union keyed by
// the field kind: list kinds carry a list, all other kinds carry a scalar.
// The zero value is an empty answer.
type AnswerValue struct {
	kind   FieldKind
	scalar string
	list   []string
}

// TextAnswer returns a text answer.
func TextAnswer(s string) AnswerValue { return AnswerValue{kind: KindText, scalar: s} }

// LongTextAnswer returns a long-text answer.
func LongTextAnswer(s string) AnswerValue { return AnswerValue{kind: KindLongText, scalar: s} }

// SingleSelectAnswer returns a single-select answer.
func SingleSelectAnswer(v string) AnswerValue { return AnswerValue{kind: KindSingleSelect, scalar: v} }

// SingleChoiceAnswer returns a single-choice (radio) answer.
func SingleChoiceAnswer(v string) AnswerValue { return AnswerValue{kind: KindSingleChoice, scalar: v} }

// MultiSelectAnswer returns a multi-select answer. Blank entries are dropped.
func MultiSelectAnswer(values ...string) AnswerValue {
	list := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			list = append(list, v)
		}
	}
	return AnswerValue{kind: KindMultiSelect, list: list}
}

// NewAnswer builds the answer variant for kind from a raw decoded JSON value
// (string, number, bool, or list of those).
func NewAnswer(kind FieldKind, raw any) (AnswerValue, error) {
	if !kind.Valid() {
		return AnswerValue{}, fmt.Errorf("unknown field kind %q", kind)
	}

	if kind.IsList() {
		switch v := raw.(type) {
		case nil:
			return AnswerValue{kind: kind}, nil
		case []string:
			return MultiSelectAnswer(v...), nil
		case []any:
			values := make([]string, 0, len(v))
			for _, item := range v {
				s, err := scalarString(item)
				if err != nil {
					return AnswerValue{}, err
				}
				values = append(values, s)
			}
			return MultiSelectAnswer(values...), nil
		case string:
			return MultiSelectAnswer(v), nil
		default:
			return AnswerValue{}, fmt.Errorf("multiSelect answer must be a list, got %T", raw)
		}
	}

	switch raw.(type) {
	case []any, []string:
		return AnswerValue{}, fmt.Errorf("%s answer must be a single value, got a list", kind)
	}
	if raw == nil {
		return AnswerValue{kind: kind}, nil
	}
	s, err := scalarString(raw)
	if err != nil {
		return AnswerValue{}, err
	}
	return AnswerValue{kind: kind, scalar: s}, nil
}

func scalarString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case float64, int, int64, bool, json.Number:
		return fmt.Sprint(s), nil
	default:
		return "", fmt.Errorf("unsupported answer value type %T", v)
	}
}

// Kind returns the field kind this answer was built for.
func (a AnswerValue) Kind() FieldKind { return a.kind }

// Scalar returns the scalar value; empty for list answers.
func (a AnswerValue) Scalar() string { return a.scalar }

// List returns a copy of the list value; nil for scalar answers.
func (a AnswerValue) List() []string {
	if a.list == nil {
		return nil
	}
	return slices.Clone(a.list)
}

// IsList reports whether the answer holds a list.
func (a AnswerValue) IsList() bool { return a.kind.IsList() }

// IsEmpty reports whether the answer carries no information: a blank scalar
// or an empty list.
func (a AnswerValue) IsEmpty() bool {
	if a.IsList() {
		return len(a.list) == 0
	}
	return strings.TrimSpace(a.scalar) == ""
}

// Raw returns the wire representation used by the backend: a string for
// scalar kinds and a []string for list kinds.
func (a AnswerValue) Raw() any {
	if a.IsList() {
		return a.List()
	}
	return a.scalar
}

// Equal reports whether two answers have the same kind and value.
func (a AnswerValue) Equal(b AnswerValue) bool {
	return a.kind == b.kind && a.scalar == b.scalar && slices.Equal(a.list, b.list)
}

func (a AnswerValue) String() string {
	if a.IsList() {
		return strings.Join(a.list, ", ")
	}
	return a.scalar
}

type answerJSON struct {
	Kind  FieldKind       `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the answer with its kind tag.
func (a AnswerValue) MarshalJSON() ([]byte, error) {
	value, err := json.Marshal(a.Raw())
	if err != nil {
		return nil, err
	}
	return json.Marshal(answerJSON{Kind: a.kind, Value: value})
}

// UnmarshalJSON decodes a kind-tagged answer.
func (a *AnswerValue) UnmarshalJSON(data []byte) error {
	var aj answerJSON
	if err := json.Unmarshal(data, &aj); err != nil {
		return err
	}
	var raw any
	if len(aj.Value) > 0 {
		if err := json.Unmarshal(aj.Value, &raw); err != nil {
			return err
		}
	}
	v, err := NewAnswer(aj.Kind, raw)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// AnswerSet maps field names to answers. It never holds empty answers, so a
// field is answered exactly when its name is a key.
type AnswerSet map[string]AnswerValue

// Set stores v under name, or removes name when v is empty.
func (s AnswerSet) Set(name string, v AnswerValue) {
	if v.IsEmpty() {
		delete(s, name)
		return
	}
	s[name] = v
}

// Has reports whether name has a non-empty answer.
func (s AnswerSet) Has(name string) bool {
	v, ok := s[name]
	return ok && !v.IsEmpty()
}

// Clone returns a copy of s. Answer values are immutable, so a shallow copy
// of the map suffices.
func (s AnswerSet) Clone() AnswerSet {
	out := make(AnswerSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Overlay copies every answer of other into s, replacing existing entries.
func (s AnswerSet) Overlay(other AnswerSet) {
	for k, v := range other {
		s.Set(k, v)
	}
}

// Equal reports whether both sets hold the same answers.
func (s AnswerSet) Equal(other AnswerSet) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Names returns the answered field names in sorted order.
func (s AnswerSet) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
