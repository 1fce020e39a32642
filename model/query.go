package model

import "time"

// QueryStatus is the state of a clarification thread.
type QueryStatus string

// Query statuses.
const (
	QueryStatusOpen     QueryStatus = "OPEN"
	QueryStatusResolved QueryStatus = "RESOLVED"
)

// QueryThread is a field-scoped clarification request raised against one
// step of a workflow's questionnaire. The backend owns it.
type QueryThread struct {
	ID           string      `json:"id"`
	WorkflowID   string      `json:"workflowId,omitempty"`
	FieldName    string      `json:"fieldName"`
	StepNumber   int         `json:"stepNumber"`
	Status       QueryStatus `json:"status"`
	Question     string      `json:"question"`
	Response     string      `json:"response,omitempty"`
	RaisedBy     string      `json:"raisedBy"`
	ResolvedBy   string      `json:"resolvedBy,omitempty"`
	AssignedTeam string      `json:"assignedTeam,omitempty"`
	Priority     string      `json:"priority,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	ResolvedAt   *time.Time  `json:"resolvedAt,omitempty"`
}

// IsOpen reports whether the thread still awaits a response.
func (q QueryThread) IsOpen() bool {
	return q.Status == QueryStatusOpen
}

// CreateQueryRequest is the payload for raising a new query.
type CreateQueryRequest struct {
	WorkflowID   string `json:"workflowId"`
	FieldName    string `json:"fieldName"`
	StepNumber   int    `json:"stepNumber"`
	Question     string `json:"question"`
	AssignedTeam string `json:"assignedTeam"`
	Priority     string `json:"priority"`
}

// CompletionStatus is derived from the answers and the schema and is never
// persisted. Percentage counts required fields only; AnsweredPercentage
// counts every field.
type CompletionStatus struct {
	RequiredTotal      int `json:"required_total"`
	RequiredCompleted  int `json:"required_completed"`
	Percentage         int `json:"percentage"`
	FieldsTotal        int `json:"fields_total"`
	FieldsAnswered     int `json:"fields_answered"`
	AnsweredPercentage int `json:"answered_percentage"`
}
