package schema

import (
	"strings"
	"testing"

	"github.com/pitabwire/msdsdraft/model"
)

func mustLoad(t *testing.T, path string) *Schema {
	t.Helper()
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error = %v", path, err)
	}
	return s
}

func TestDefault_isValid(t *testing.T) {
	s, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if s.StepCount() != 5 {
		t.Errorf("StepCount() = %d, want 5", s.StepCount())
	}
	if s.Version() == "" {
		t.Error("Version() should not be empty")
	}
}

func TestDefault_firstStepFields(t *testing.T) {
	s, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	step, err := s.Step(0)
	if err != nil {
		t.Fatalf("Step(0) error = %v", err)
	}

	want := map[string]bool{"materialName": true, "supplierName": true, "casNumber": false}
	if len(step.Fields) != len(want) {
		t.Fatalf("step 0 has %d fields, want %d", len(step.Fields), len(want))
	}
	for _, f := range step.Fields {
		required, ok := want[f.Name]
		if !ok {
			t.Errorf("unexpected field %q on step 0", f.Name)
			continue
		}
		if f.Required != required {
			t.Errorf("%s.Required = %v, want %v", f.Name, f.Required, required)
		}
	}
}

func TestLoad_emptyPathUsesDefault(t *testing.T) {
	s := mustLoad(t, "")
	d, _ := Default()
	if s.Version() != d.Version() || s.StepCount() != d.StepCount() {
		t.Error("Load(\"\") should return the built-in schema")
	}
}

func TestLoad_file(t *testing.T) {
	s := mustLoad(t, "testdata/minimal.yaml")
	if s.Version() != "test-1" {
		t.Errorf("Version() = %q, want test-1", s.Version())
	}
	if s.StepCount() != 2 {
		t.Errorf("StepCount() = %d, want 2", s.StepCount())
	}
}

func TestLoad_errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"missing file", "testdata/nope.yaml", "reading"},
		{"bad yaml", "testdata/not_yaml.yaml", "parsing"},
		{"duplicate field", "testdata/duplicate_field.yaml", "already defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestFieldStep(t *testing.T) {
	s := mustLoad(t, "testdata/minimal.yaml")

	tests := []struct {
		field string
		want  int
	}{
		{"materialName", 0},
		{"casNumber", 0},
		{"hazardClasses", 1},
	}
	for _, tt := range tests {
		got, err := s.FieldStep(tt.field)
		if err != nil {
			t.Errorf("FieldStep(%q) error = %v", tt.field, err)
			continue
		}
		if got != tt.want {
			t.Errorf("FieldStep(%q) = %d, want %d", tt.field, got, tt.want)
		}
	}
}

func TestFieldStep_unknownIsSchemaError(t *testing.T) {
	s := mustLoad(t, "testdata/minimal.yaml")

	_, err := s.FieldStep("flashPoint")
	if !model.HasCode(err, model.ErrSchemaError) {
		t.Errorf("FieldStep(unknown) error = %v, want SCHEMA_ERROR", err)
	}
	_, err = s.Field("flashPoint")
	if !model.HasCode(err, model.ErrSchemaError) {
		t.Errorf("Field(unknown) error = %v, want SCHEMA_ERROR", err)
	}
}

func TestStep_outOfRange(t *testing.T) {
	s := mustLoad(t, "testdata/minimal.yaml")
	for _, i := range []int{-1, 2, 10} {
		if _, err := s.Step(i); !model.HasCode(err, model.ErrSchemaError) {
			t.Errorf("Step(%d) error = %v, want SCHEMA_ERROR", i, err)
		}
	}
}

func TestDecode(t *testing.T) {
	s := mustLoad(t, "testdata/minimal.yaml")

	v, err := s.Decode("materialName", "Acetone")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if v.Kind() != model.KindText || v.Scalar() != "Acetone" {
		t.Errorf("Decode() = %v (%s), want text Acetone", v, v.Kind())
	}

	v, err = s.Decode("hazardClasses", []any{"flammable", "toxic"})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(v.List()) != 2 {
		t.Errorf("Decode() list = %v, want 2 entries", v.List())
	}
}

func TestDecode_errors(t *testing.T) {
	s := mustLoad(t, "testdata/minimal.yaml")

	if _, err := s.Decode("unknown", "x"); !model.HasCode(err, model.ErrSchemaError) {
		t.Errorf("Decode(unknown) error = %v, want SCHEMA_ERROR", err)
	}
	_, err := s.Decode("materialName", []any{"a", "b"})
	ee, ok := model.AsEnvelope(err)
	if !ok || ee.Code != model.ErrValidationError {
		t.Fatalf("Decode(list for text) error = %v, want VALIDATION_ERROR", err)
	}
	if ee.Details[0].Field != "materialName" || ee.Details[0].Step != 0 {
		t.Errorf("detail = %+v, want materialName on step 0", ee.Details[0])
	}
}

func TestDecodeResponses_skipsUnknownFields(t *testing.T) {
	s := mustLoad(t, "testdata/minimal.yaml")

	answers, skipped, err := s.DecodeResponses([]model.ResponseEntry{
		{FieldName: "materialName", FieldValue: "Acetone", StepNumber: 0},
		{FieldName: "legacyField", FieldValue: "x", StepNumber: 0},
		{FieldName: "casNumber", FieldValue: "", StepNumber: 0},
	})
	if err != nil {
		t.Fatalf("DecodeResponses() error = %v", err)
	}
	if !answers.Has("materialName") {
		t.Error("materialName should be decoded")
	}
	if answers.Has("casNumber") {
		t.Error("empty value should not be stored")
	}
	if len(skipped) != 1 || skipped[0] != "legacyField" {
		t.Errorf("skipped = %v, want [legacyField]", skipped)
	}
}

func TestEncode_schemaOrder(t *testing.T) {
	s := mustLoad(t, "testdata/minimal.yaml")

	answers := model.AnswerSet{}
	answers.Set("hazardClasses", model.MultiSelectAnswer("toxic"))
	answers.Set("supplierName", model.TextAnswer("Sigma"))
	answers.Set("materialName", model.TextAnswer("Acetone"))

	entries := s.Encode(answers)
	if len(entries) != 3 {
		t.Fatalf("Encode() = %d entries, want 3", len(entries))
	}
	wantOrder := []string{"materialName", "supplierName", "hazardClasses"}
	for i, name := range wantOrder {
		if entries[i].FieldName != name {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].FieldName, name)
		}
	}
	if entries[2].StepNumber != 1 {
		t.Errorf("hazardClasses step = %d, want 1", entries[2].StepNumber)
	}
	if list, ok := entries[2].FieldValue.([]string); !ok || len(list) != 1 {
		t.Errorf("hazardClasses value = %#v, want []string{toxic}", entries[2].FieldValue)
	}
}

func TestFilter_dropsUnknownAndMismatched(t *testing.T) {
	s := mustLoad(t, "testdata/minimal.yaml")

	answers := model.AnswerSet{
		"materialName":  model.LongTextAnswer("Acetone"),
		"hazardClasses": model.TextAnswer("flammable"),
		"retired":       model.TextAnswer("x"),
	}
	got, dropped := s.Filter(answers)

	if v := got["materialName"]; v.Kind() != model.KindText || v.Scalar() != "Acetone" {
		t.Errorf("materialName = %v (%s), want retagged text answer", v, v.Kind())
	}
	if got.Has("hazardClasses") || got.Has("retired") {
		t.Errorf("Filter() kept %v, want only materialName", got.Names())
	}
	if len(dropped) != 2 {
		t.Errorf("dropped = %v, want 2 entries", dropped)
	}
}

func TestPattern(t *testing.T) {
	s, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	re := s.Pattern("casNumber")
	if re == nil {
		t.Fatal("Pattern(casNumber) = nil")
	}
	if !re.MatchString("67-64-1") {
		t.Error("CAS pattern should match 67-64-1")
	}
	if re.MatchString("67641") {
		t.Error("CAS pattern should not match 67641")
	}
	if s.Pattern("materialName") != nil {
		t.Error("Pattern(materialName) should be nil")
	}
}
