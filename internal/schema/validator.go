package schema

import (
	"fmt"
	"regexp"

	"github.com/pitabwire/msdsdraft/model"
)

// VError describes a single structural problem in a schema definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks schema definitions structurally.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns every problem found in def, in document order.
func (v *Validator) Validate(def model.SchemaDefinition) []VError {
	var errs []VError

	if len(def.Steps) == 0 {
		errs = append(errs, VError{Path: "steps", Code: "REQUIRED", Message: "at least one step is required"})
	}

	seen := make(map[string]string)
	for i, step := range def.Steps {
		sp := fmt.Sprintf("steps[%d]", i)
		if step.Title == "" {
			errs = append(errs, VError{Path: sp + ".title", Code: "REQUIRED", Message: "title is required"})
		}
		if len(step.Fields) == 0 {
			errs = append(errs, VError{Path: sp + ".fields", Code: "REQUIRED", Message: "at least one field is required"})
		}
		for j, f := range step.Fields {
			fp := fmt.Sprintf("%s.fields[%d]", sp, j)
			errs = append(errs, v.validateField(fp, f)...)
			if f.Name == "" {
				continue
			}
			if prev, dup := seen[f.Name]; dup {
				errs = append(errs, VError{
					Path:    fp + ".name",
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("field %q is already defined at %s", f.Name, prev),
				})
				continue
			}
			seen[f.Name] = fp
		}
	}

	return errs
}

func (v *Validator) validateField(fp string, f model.FieldSpec) []VError {
	var errs []VError

	if f.Name == "" {
		errs = append(errs, VError{Path: fp + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if f.Label == "" {
		errs = append(errs, VError{Path: fp + ".label", Code: "REQUIRED", Message: "label is required"})
	}
	if !f.Kind.Valid() {
		errs = append(errs, VError{
			Path:    fp + ".kind",
			Code:    "INVALID_KIND",
			Message: fmt.Sprintf("unknown kind %q", f.Kind),
		})
	}

	if f.Kind.HasOptions() && len(f.Options) == 0 {
		errs = append(errs, VError{Path: fp + ".options", Code: "REQUIRED", Message: "select and choice fields need options"})
	}
	if !f.Kind.HasOptions() && len(f.Options) > 0 {
		errs = append(errs, VError{Path: fp + ".options", Code: "UNEXPECTED", Message: fmt.Sprintf("%s fields take no options", f.Kind)})
	}
	values := make(map[string]bool, len(f.Options))
	for k, o := range f.Options {
		op := fmt.Sprintf("%s.options[%d]", fp, k)
		if o.Value == "" {
			errs = append(errs, VError{Path: op + ".value", Code: "REQUIRED", Message: "option value is required"})
			continue
		}
		if values[o.Value] {
			errs = append(errs, VError{Path: op + ".value", Code: "DUPLICATE", Message: fmt.Sprintf("option %q is listed twice", o.Value)})
		}
		values[o.Value] = true
	}

	if f.MaxLength < 0 {
		errs = append(errs, VError{Path: fp + ".max_length", Code: "INVALID", Message: "max_length must not be negative"})
	}
	if f.Pattern != "" {
		if _, err := regexp.Compile(f.Pattern); err != nil {
			errs = append(errs, VError{Path: fp + ".pattern", Code: "INVALID", Message: err.Error()})
		}
	}

	return errs
}
