package completion

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/msdsdraft/internal/schema"
	"github.com/pitabwire/msdsdraft/model"
)

func newEvaluator(t *testing.T) (*Evaluator, *schema.Schema) {
	t.Helper()
	s, err := schema.Default()
	require.NoError(t, err)
	return NewEvaluator(s), s
}

func TestEvaluateStep_acetoneScenario(t *testing.T) {
	e, _ := newEvaluator(t)
	answers := model.AnswerSet{}
	answers.Set("materialName", model.TextAnswer("Acetone"))

	got, err := e.EvaluateStep(0, answers)
	require.NoError(t, err)

	assert.Equal(t, 2, got.RequiredTotal)
	assert.Equal(t, 1, got.RequiredCompleted)
	assert.Equal(t, 50, got.Percentage)
	assert.Equal(t, 3, got.FieldsTotal)
	assert.Equal(t, 1, got.FieldsAnswered)
	assert.Equal(t, 33, got.AnsweredPercentage)
}

func TestEvaluateStep_optionalDoesNotCount(t *testing.T) {
	e, _ := newEvaluator(t)
	answers := model.AnswerSet{}
	answers.Set("casNumber", model.TextAnswer("67-64-1"))

	got, err := e.EvaluateStep(0, answers)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RequiredCompleted)
	assert.Equal(t, 0, got.Percentage)
	assert.Equal(t, 1, got.FieldsAnswered)
}

func TestEvaluateStep_noRequiredFieldsIs100(t *testing.T) {
	s, err := schema.New(model.SchemaDefinition{Steps: []model.StepSpec{{
		Title:  "Notes",
		Fields: []model.FieldSpec{{Name: "notes", Label: "Notes", Kind: model.KindLongText}},
	}}})
	require.NoError(t, err)

	got, err := NewEvaluator(s).EvaluateStep(0, model.AnswerSet{})
	require.NoError(t, err)
	assert.Equal(t, 0, got.RequiredTotal)
	assert.Equal(t, 100, got.Percentage)
}

func TestEvaluateStep_outOfRange(t *testing.T) {
	e, _ := newEvaluator(t)
	_, err := e.EvaluateStep(99, model.AnswerSet{})
	assert.True(t, model.HasCode(err, model.ErrSchemaError), "error = %v", err)
}

func TestEvaluateStep_emptyListIsIncomplete(t *testing.T) {
	e, s := newEvaluator(t)
	step, err := s.FieldStep("hazardClasses")
	require.NoError(t, err)

	answers := model.AnswerSet{"hazardClasses": model.MultiSelectAnswer()}
	got, err := e.EvaluateStep(step, answers)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RequiredCompleted)
}

func TestEvaluateOverall_weightedPerField(t *testing.T) {
	e, s := newEvaluator(t)

	required := 0
	for _, step := range s.Steps() {
		for _, f := range step.Fields {
			if f.Required {
				required++
			}
		}
	}

	answers := model.AnswerSet{}
	answers.Set("materialName", model.TextAnswer("Acetone"))
	answers.Set("supplierName", model.TextAnswer("Sigma"))

	got := e.EvaluateOverall(answers)
	assert.Equal(t, required, got.RequiredTotal)
	assert.Equal(t, 2, got.RequiredCompleted)
	want := int(float64(2)*100/float64(required) + 0.5)
	assert.Equal(t, want, got.Percentage)
}

func TestEvaluateOverall_emptyAndFull(t *testing.T) {
	e, _ := newEvaluator(t)

	assert.Equal(t, 0, e.EvaluateOverall(model.AnswerSet{}).Percentage)
	assert.Equal(t, 100, e.EvaluateOverall(completeAnswers()).Percentage)
}

func TestEvaluateOverall_monotonic(t *testing.T) {
	e, s := newEvaluator(t)
	full := completeAnswers()
	names := full.Names()

	rng := rand.New(rand.NewPCG(1, 2))
	for range 200 {
		// Build A ⊆ B by adding fields in a random order.
		rng.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
		a, b := model.AnswerSet{}, model.AnswerSet{}
		cut := rng.IntN(len(names) + 1)
		for i, n := range names {
			if i < cut {
				a.Set(n, full[n])
			}
			b.Set(n, full[n])
			if rng.IntN(3) == 0 {
				break
			}
		}
		pa, pb := e.EvaluateOverall(a).Percentage, e.EvaluateOverall(b).Percentage
		if !isSubset(a, b) {
			continue
		}
		if pa > pb {
			t.Fatalf("EvaluateOverall(A)=%d > EvaluateOverall(B)=%d for A=%v B=%v", pa, pb, a.Names(), b.Names())
		}
		for i := range s.StepCount() {
			sa, _ := e.EvaluateStep(i, a)
			sb, _ := e.EvaluateStep(i, b)
			if sa.Percentage > sb.Percentage {
				t.Fatalf("step %d: %d > %d", i, sa.Percentage, sb.Percentage)
			}
		}
	}
}

func isSubset(a, b model.AnswerSet) bool {
	for k := range a {
		if !b.Has(k) {
			return false
		}
	}
	return true
}

func TestEvaluateSteps(t *testing.T) {
	e, s := newEvaluator(t)
	got := e.EvaluateSteps(completeAnswers())
	require.Len(t, got, s.StepCount())
	for i, st := range got {
		assert.Equal(t, 100, st.Percentage, "step %d", i)
	}
}

func completeAnswers() model.AnswerSet {
	a := model.AnswerSet{}
	a.Set("materialName", model.TextAnswer("Acetone"))
	a.Set("supplierName", model.TextAnswer("Sigma-Aldrich"))
	a.Set("casNumber", model.TextAnswer("67-64-1"))
	a.Set("physicalState", model.SingleSelectAnswer("liquid"))
	a.Set("flashPointC", model.TextAnswer("-20"))
	a.Set("appearance", model.LongTextAnswer("Clear, colourless liquid with a sweet odour"))
	a.Set("hazardClasses", model.MultiSelectAnswer("flammable", "irritant"))
	a.Set("signalWord", model.SingleChoiceAnswer("danger"))
	a.Set("hazardStatements", model.LongTextAnswer("H225, H319, H336"))
	a.Set("storageConditions", model.LongTextAnswer("Keep in a cool, well-ventilated place"))
	a.Set("protectiveEquipment", model.MultiSelectAnswer("gloves", "goggles"))
	a.Set("plantArea", model.TextAnswer("Solvent store B"))
	a.Set("sdsAvailable", model.SingleChoiceAnswer("yes"))
	a.Set("additionalComments", model.LongTextAnswer("None"))
	return a
}

func TestValidateStep_requiredInSchemaOrder(t *testing.T) {
	e, _ := newEvaluator(t)

	errs, err := e.ValidateStep(0, model.AnswerSet{})
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, "materialName", errs[0].Field)
	assert.Equal(t, CodeRequired, errs[0].Code)
	assert.Equal(t, "supplierName", errs[1].Field)
	assert.Equal(t, 0, errs[0].Step)
}

func TestValidateStep_outOfRange(t *testing.T) {
	e, _ := newEvaluator(t)
	_, err := e.ValidateStep(-1, model.AnswerSet{})
	assert.True(t, model.HasCode(err, model.ErrSchemaError))
}

func TestValidateAll_completeIsValid(t *testing.T) {
	e, _ := newEvaluator(t)
	assert.Empty(t, e.ValidateAll(completeAnswers()))
}

func TestValidateAll_rules(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value model.AnswerValue
		code  string
	}{
		{"bad pattern", "casNumber", model.TextAnswer("not-a-cas"), CodePatternMismatch},
		{"unknown option", "physicalState", model.SingleSelectAnswer("plasma"), CodeInvalidOption},
		{"unknown list option", "hazardClasses", model.MultiSelectAnswer("flammable", "radioactive"), CodeInvalidOption},
		{"wrong kind", "hazardClasses", model.TextAnswer("flammable"), CodeInvalidKind},
		{"too long", "materialName", model.TextAnswer(strings.Repeat("x", 201)), CodeTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEvaluator(t)
			answers := completeAnswers()
			answers[tt.field] = tt.value

			errs := e.ValidateAll(answers)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
			assert.Equal(t, tt.code, errs[0].Code)
		})
	}
}

func TestValidateAnswer(t *testing.T) {
	e, _ := newEvaluator(t)

	errs, err := e.ValidateAnswer("casNumber", model.TextAnswer("67-64-1"))
	require.NoError(t, err)
	assert.Empty(t, errs)

	errs, err = e.ValidateAnswer("signalWord", model.SingleChoiceAnswer("maybe"))
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, CodeInvalidOption, errs[0].Code)
	assert.Equal(t, 2, errs[0].Step)

	_, err = e.ValidateAnswer("nope", model.TextAnswer("x"))
	assert.True(t, model.HasCode(err, model.ErrSchemaError))
}
