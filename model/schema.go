package model

// FieldKind is the input kind of a questionnaire field.
type FieldKind string

// Field kinds.
const (
	KindText         FieldKind = "text"
	KindLongText     FieldKind = "longText"
	KindSingleSelect FieldKind = "singleSelect"
	KindMultiSelect  FieldKind = "multiSelect"
	KindSingleChoice FieldKind = "singleChoice"
)

// Valid reports whether k is one of the known field kinds.
func (k FieldKind) Valid() bool {
	switch k {
	case KindText, KindLongText, KindSingleSelect, KindMultiSelect, KindSingleChoice:
		return true
	}
	return false
}

// IsList reports whether answers of this kind are lists.
func (k FieldKind) IsList() bool {
	return k == KindMultiSelect
}

// HasOptions reports whether the kind restricts answers to a fixed option set.
func (k FieldKind) HasOptions() bool {
	switch k {
	case KindSingleSelect, KindMultiSelect, KindSingleChoice:
		return true
	}
	return false
}

// FieldOption is one selectable value of a select or choice field.
type FieldOption struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// FieldSpec describes one field of the questionnaire. Field names are unique
// across the whole schema.
type FieldSpec struct {
	Name        string        `json:"name" yaml:"name"`
	Label       string        `json:"label" yaml:"label"`
	Kind        FieldKind     `json:"kind" yaml:"kind"`
	Required    bool          `json:"required" yaml:"required"`
	Options     []FieldOption `json:"options,omitempty" yaml:"options,omitempty"`
	Placeholder string        `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	MaxLength   int           `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Pattern     string        `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// HasOption reports whether value is one of the field's option values.
func (f FieldSpec) HasOption(value string) bool {
	for _, o := range f.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// StepSpec is one page of the questionnaire.
type StepSpec struct {
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []FieldSpec `json:"fields" yaml:"fields"`
}

// SchemaDefinition is the serialized form of a questionnaire schema.
type SchemaDefinition struct {
	Version string     `json:"version" yaml:"version"`
	Steps   []StepSpec `json:"steps" yaml:"steps"`
}
