package model

import (
	"slices"
	"time"
)

// SyncStatus tells whether a draft has been confirmed by the backend.
type SyncStatus string

// Sync statuses.
const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
)

// DraftRecord is the local snapshot of an in-progress questionnaire for one
// workflow. The draft store owns exactly one record per workflow.
type DraftRecord struct {
	WorkflowID           string     `json:"workflow_id"`
	Answers              AnswerSet  `json:"answers"`
	CurrentStepIndex     int        `json:"current_step_index"`
	CompletedStepIndexes []int      `json:"completed_step_indexes"`
	CapturedAtEpochMs    int64      `json:"captured_at_epoch_ms"`
	SyncStatus           SyncStatus `json:"sync_status"`
	SchemaVersion        string     `json:"schema_version"`
}

// CapturedAt returns the capture time of the record.
func (r DraftRecord) CapturedAt() time.Time {
	return time.UnixMilli(r.CapturedAtEpochMs)
}

// StepState is the navigation part of a draft: where the user is and which
// steps were completed.
type StepState struct {
	CurrentStepIndex int   `json:"current_step_index"`
	CompletedSteps   []int `json:"completed_steps"`
}

// NormalizeSteps returns a sorted copy of steps without duplicates. Completed
// step indexes are a set; this keeps the serialized form stable.
func NormalizeSteps(steps []int) []int {
	out := slices.Clone(steps)
	slices.Sort(out)
	return slices.Compact(out)
}

// ResponseEntry is the backend wire shape of a single answer.
type ResponseEntry struct {
	FieldName  string `json:"fieldName"`
	FieldValue any    `json:"fieldValue"`
	StepNumber int    `json:"stepNumber"`
}
