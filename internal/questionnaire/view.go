package questionnaire

import (
	"slices"

	"github.com/pitabwire/msdsdraft/internal/queries"
	draftsync "github.com/pitabwire/msdsdraft/internal/sync"
	"github.com/pitabwire/msdsdraft/model"
)

// View is a read-only snapshot of a controller for rendering.
type View struct {
	WorkflowID     string                   `json:"workflow_id"`
	WorkflowStatus string                   `json:"workflow_status,omitempty"`
	MaterialName   string                   `json:"material_name,omitempty"`
	State          State                    `json:"state"`
	// Offline is set while disconnected and after a load that ran without
	// the backend, until the backend's copy has been reloaded.
	Offline        bool                     `json:"offline"`
	SchemaVersion  string                   `json:"schema_version"`
	StepIndex      int                      `json:"step_index"`
	StepCount      int                      `json:"step_count"`
	Step           model.StepSpec           `json:"step"`
	CompletedSteps []int                    `json:"completed_steps"`
	Answers        model.AnswerSet          `json:"answers"`
	FieldErrors    []model.FieldError       `json:"field_errors,omitempty"`
	StepCompletion []model.CompletionStatus `json:"step_completion"`
	Overall        model.CompletionStatus   `json:"overall"`
	Sync           draftsync.Status         `json:"sync"`
	Badges         map[string]queries.Badge `json:"badges"`
	OpenQueries    int                      `json:"open_queries"`
	TotalQueries   int                      `json:"total_queries"`
	QueriesStale   bool                     `json:"queries_stale"`
	Notices        []draftsync.Event        `json:"notices,omitempty"`
}

// View returns the current state for rendering. FieldErrors lists format
// problems of the answered fields on the current step; missing required
// answers are reported only when leaving the step.
func (c *Controller) View() View {
	c.mu.Lock()
	v := View{
		WorkflowID:     c.workflowID,
		WorkflowStatus: c.workflow.Status,
		MaterialName:   c.workflow.MaterialName,
		State:          c.state,
		Offline:        c.offline,
		SchemaVersion:  c.schema.Version(),
		StepIndex:      c.step,
		StepCount:      c.schema.StepCount(),
		CompletedSteps: slices.Clone(c.completed),
		Answers:        c.answers.Clone(),
		Notices:        slices.Clone(c.notices),
	}
	c.mu.Unlock()

	if step, err := c.schema.Step(v.StepIndex); err == nil {
		v.Step = step
		for _, f := range step.Fields {
			answer, ok := v.Answers[f.Name]
			if !ok {
				continue
			}
			problems, _ := c.eval.ValidateAnswer(f.Name, answer)
			v.FieldErrors = append(v.FieldErrors, problems...)
		}
	}
	if v.CompletedSteps == nil {
		v.CompletedSteps = []int{}
	}
	v.StepCompletion = c.eval.EvaluateSteps(v.Answers)
	v.Overall = c.eval.EvaluateOverall(v.Answers)
	v.Sync = c.coord.Status()
	v.Offline = v.Offline || !v.Sync.Online

	idx := c.tracker.Index()
	v.Badges = c.tracker.Badges()
	v.OpenQueries = idx.OpenCount()
	v.TotalQueries = idx.Total()
	v.QueriesStale = c.tracker.Stale()
	return v
}
