package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pitabwire/msdsdraft/model"
)

// Schema is an immutable, validated questionnaire definition. It is safe for
// concurrent use.
type Schema struct {
	version  string
	steps    []model.StepSpec
	patterns map[string]*regexp.Regexp
}

// New validates def and builds a Schema from it.
func New(def model.SchemaDefinition) (*Schema, error) {
	if verrs := NewValidator().Validate(def); len(verrs) > 0 {
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, e.Error())
		}
		return nil, fmt.Errorf("schema: invalid definition: %s", strings.Join(msgs, "; "))
	}

	s := &Schema{
		version:  def.Version,
		steps:    make([]model.StepSpec, len(def.Steps)),
		patterns: make(map[string]*regexp.Regexp),
	}
	for i, step := range def.Steps {
		fields := make([]model.FieldSpec, len(step.Fields))
		copy(fields, step.Fields)
		step.Fields = fields
		s.steps[i] = step
		for _, f := range fields {
			if f.Pattern != "" {
				s.patterns[f.Name] = regexp.MustCompile(f.Pattern)
			}
		}
	}
	return s, nil
}

// Version returns the schema version recorded in drafts.
func (s *Schema) Version() string {
	return s.version
}

// Steps returns the ordered steps. The returned slice must not be modified.
func (s *Schema) Steps() []model.StepSpec {
	return s.steps
}

// StepCount returns the number of steps.
func (s *Schema) StepCount() int {
	return len(s.steps)
}

// Step returns the step at index i.
func (s *Schema) Step(i int) (model.StepSpec, error) {
	if i < 0 || i >= len(s.steps) {
		return model.StepSpec{}, model.NewSchemaError(fmt.Sprintf("step %d is out of range [0, %d)", i, len(s.steps)))
	}
	return s.steps[i], nil
}

// FieldStep returns the index of the step that holds the named field.
func (s *Schema) FieldStep(name string) (int, error) {
	for i, step := range s.steps {
		for _, f := range step.Fields {
			if f.Name == name {
				return i, nil
			}
		}
	}
	return -1, unknownField(name)
}

// Field returns the named field.
func (s *Schema) Field(name string) (model.FieldSpec, error) {
	for _, step := range s.steps {
		for _, f := range step.Fields {
			if f.Name == name {
				return f, nil
			}
		}
	}
	return model.FieldSpec{}, unknownField(name)
}

// Pattern returns the compiled pattern of the named field, or nil.
func (s *Schema) Pattern(name string) *regexp.Regexp {
	return s.patterns[name]
}

// Definition returns the serializable form of the schema.
func (s *Schema) Definition() model.SchemaDefinition {
	return model.SchemaDefinition{Version: s.version, Steps: s.steps}
}

// Decode converts a raw backend value for the named field into its answer
// variant. Unknown fields yield SCHEMA_ERROR; values of the wrong shape
// yield VALIDATION_ERROR.
func (s *Schema) Decode(name string, raw any) (model.AnswerValue, error) {
	f, err := s.Field(name)
	if err != nil {
		return model.AnswerValue{}, err
	}
	v, err := model.NewAnswer(f.Kind, raw)
	if err != nil {
		step, _ := s.FieldStep(name)
		return model.AnswerValue{}, model.NewValidationError([]model.FieldError{{
			Field:   name,
			Step:    step,
			Code:    "INVALID_KIND",
			Message: err.Error(),
		}})
	}
	return v, nil
}

// DecodeResponses turns backend response entries into an answer set. Entries
// for fields this schema does not define are skipped and reported in the
// returned slice so callers can log them.
func (s *Schema) DecodeResponses(entries []model.ResponseEntry) (model.AnswerSet, []string, error) {
	answers := model.AnswerSet{}
	var skipped []string
	for _, e := range entries {
		v, err := s.Decode(e.FieldName, e.FieldValue)
		if err != nil {
			if model.HasCode(err, model.ErrSchemaError) {
				skipped = append(skipped, e.FieldName)
				continue
			}
			return nil, skipped, err
		}
		answers.Set(e.FieldName, v)
	}
	return answers, skipped, nil
}

// Encode turns an answer set into backend response entries in schema order.
func (s *Schema) Encode(answers model.AnswerSet) []model.ResponseEntry {
	entries := make([]model.ResponseEntry, 0, len(answers))
	for i, step := range s.steps {
		for _, f := range step.Fields {
			v, ok := answers[f.Name]
			if !ok || v.IsEmpty() {
				continue
			}
			entries = append(entries, model.ResponseEntry{
				FieldName:  f.Name,
				FieldValue: v.Raw(),
				StepNumber: i,
			})
		}
	}
	return entries
}

// Filter returns the answers whose field exists in this schema with a
// matching kind. It is used when a draft was captured under another schema
// version.
func (s *Schema) Filter(answers model.AnswerSet) (model.AnswerSet, []string) {
	out := make(model.AnswerSet, len(answers))
	var dropped []string
	for _, name := range answers.Names() {
		v := answers[name]
		f, err := s.Field(name)
		if err != nil || f.Kind.IsList() != v.IsList() {
			dropped = append(dropped, name)
			continue
		}
		if f.Kind != v.Kind() {
			nv, err := model.NewAnswer(f.Kind, v.Raw())
			if err != nil {
				dropped = append(dropped, name)
				continue
			}
			v = nv
		}
		out.Set(name, v)
	}
	return out, dropped
}

func unknownField(name string) error {
	return model.NewSchemaError(fmt.Sprintf("unknown field %q", name))
}
