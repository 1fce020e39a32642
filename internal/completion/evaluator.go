// Package completion computes questionnaire progress and validates answers
// against the schema. Everything here is pure and safe to call on every edit.
package completion

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/pitabwire/msdsdraft/internal/schema"
	"github.com/pitabwire/msdsdraft/model"
)

// Field validation codes.
const (
	CodeRequired        = "REQUIRED"
	CodeInvalidKind     = "INVALID_KIND"
	CodeInvalidOption   = "INVALID_OPTION"
	CodeTooLong         = "TOO_LONG"
	CodePatternMismatch = "PATTERN_MISMATCH"
)

// Evaluator evaluates answer sets against one schema.
type Evaluator struct {
	schema *schema.Schema
}

// NewEvaluator creates an Evaluator for s.
func NewEvaluator(s *schema.Schema) *Evaluator {
	return &Evaluator{schema: s}
}

// EvaluateStep returns the completion of step stepIndex. A field counts as
// complete when it has a non-empty answer. A step without required fields is
// 100% required-complete.
func (e *Evaluator) EvaluateStep(stepIndex int, answers model.AnswerSet) (model.CompletionStatus, error) {
	step, err := e.schema.Step(stepIndex)
	if err != nil {
		return model.CompletionStatus{}, err
	}
	var c counter
	c.add(step.Fields, answers)
	return c.status(), nil
}

// EvaluateSteps returns the completion of every step in order.
func (e *Evaluator) EvaluateSteps(answers model.AnswerSet) []model.CompletionStatus {
	out := make([]model.CompletionStatus, 0, e.schema.StepCount())
	for _, step := range e.schema.Steps() {
		var c counter
		c.add(step.Fields, answers)
		out = append(out, c.status())
	}
	return out
}

// EvaluateOverall returns completion across all steps, weighted per field
// rather than per step.
func (e *Evaluator) EvaluateOverall(answers model.AnswerSet) model.CompletionStatus {
	var c counter
	for _, step := range e.schema.Steps() {
		c.add(step.Fields, answers)
	}
	return c.status()
}

type counter struct {
	requiredTotal, requiredDone int
	fieldsTotal, fieldsDone     int
}

func (c *counter) add(fields []model.FieldSpec, answers model.AnswerSet) {
	for _, f := range fields {
		answered := answers.Has(f.Name)
		c.fieldsTotal++
		if answered {
			c.fieldsDone++
		}
		if f.Required {
			c.requiredTotal++
			if answered {
				c.requiredDone++
			}
		}
	}
}

func (c *counter) status() model.CompletionStatus {
	return model.CompletionStatus{
		RequiredTotal:      c.requiredTotal,
		RequiredCompleted:  c.requiredDone,
		Percentage:         percent(c.requiredDone, c.requiredTotal),
		FieldsTotal:        c.fieldsTotal,
		FieldsAnswered:     c.fieldsDone,
		AnsweredPercentage: percent(c.fieldsDone, c.fieldsTotal),
	}
}

func percent(done, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(done) * 100 / float64(total)))
}

// ValidateStep checks every field of step stepIndex and returns the problems
// in schema order, so the first entry is the first invalid field.
func (e *Evaluator) ValidateStep(stepIndex int, answers model.AnswerSet) ([]model.FieldError, error) {
	step, err := e.schema.Step(stepIndex)
	if err != nil {
		return nil, err
	}
	var errs []model.FieldError
	for _, f := range step.Fields {
		errs = append(errs, e.validate(stepIndex, f, answers)...)
	}
	return errs, nil
}

// ValidateAll checks every field of every step in schema order.
func (e *Evaluator) ValidateAll(answers model.AnswerSet) []model.FieldError {
	var errs []model.FieldError
	for i, step := range e.schema.Steps() {
		for _, f := range step.Fields {
			errs = append(errs, e.validate(i, f, answers)...)
		}
	}
	return errs
}

// ValidateAnswer checks a single answer for the named field without looking
// at required-ness. Unknown fields yield SCHEMA_ERROR.
func (e *Evaluator) ValidateAnswer(name string, v model.AnswerValue) ([]model.FieldError, error) {
	f, err := e.schema.Field(name)
	if err != nil {
		return nil, err
	}
	step, _ := e.schema.FieldStep(name)
	return e.check(step, f, v), nil
}

func (e *Evaluator) validate(step int, f model.FieldSpec, answers model.AnswerSet) []model.FieldError {
	v, ok := answers[f.Name]
	if !ok || v.IsEmpty() {
		if f.Required {
			return []model.FieldError{{
				Field:   f.Name,
				Step:    step,
				Code:    CodeRequired,
				Message: fmt.Sprintf("%s is required", f.Label),
			}}
		}
		return nil
	}
	return e.check(step, f, v)
}

func (e *Evaluator) check(step int, f model.FieldSpec, v model.AnswerValue) []model.FieldError {
	fail := func(code, msg string) []model.FieldError {
		return []model.FieldError{{Field: f.Name, Step: step, Code: code, Message: msg}}
	}

	if v.IsEmpty() {
		return nil
	}
	if v.Kind() != f.Kind {
		return fail(CodeInvalidKind, fmt.Sprintf("%s expects a %s answer", f.Label, f.Kind))
	}

	if f.Kind.HasOptions() {
		values := v.List()
		if !v.IsList() {
			values = []string{v.Scalar()}
		}
		for _, value := range values {
			if !f.HasOption(value) {
				return fail(CodeInvalidOption, fmt.Sprintf("%q is not an option of %s", value, f.Label))
			}
		}
		return nil
	}

	if f.MaxLength > 0 && utf8.RuneCountInString(v.Scalar()) > f.MaxLength {
		return fail(CodeTooLong, fmt.Sprintf("%s must be at most %d characters", f.Label, f.MaxLength))
	}
	if re := e.schema.Pattern(f.Name); re != nil && !re.MatchString(v.Scalar()) {
		return fail(CodePatternMismatch, fmt.Sprintf("%s has an invalid format", f.Label))
	}
	return nil
}
