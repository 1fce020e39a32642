// Package sync keeps a workflow's local draft and its backend copy
// eventually consistent. The Coordinator writes every save to the local draft
// store first and pushes it to the backend when online; saves made offline
// or while the backend fails stay pending until connectivity returns.
package sync

import (
	"time"

	"github.com/pitabwire/msdsdraft/model"
)

// EventType classifies coordinator events.
type EventType string

// Event types.
const (
	// EventSaved reports an explicit save that reached the backend.
	EventSaved EventType = "saved"
	// EventSavedLocally reports an explicit save kept only locally. Code
	// says why the push did not happen.
	EventSavedLocally EventType = "saved_locally"
	// EventSaveFailed reports a failed local write (PERSISTENCE_ERROR).
	EventSaveFailed EventType = "save_failed"
	// EventStatusChanged reports a change of Status.
	EventStatusChanged EventType = "status_changed"
)

// Status is the sync state of one workflow.
type Status struct {
	Online       bool      `json:"online"`
	PendingSync  bool      `json:"pending_sync"`
	// Held reports pushes wait for the backend's copy to be reloaded.
	Held         bool      `json:"held"`
	Dirty        bool      `json:"dirty"`
	InFlight     bool      `json:"in_flight"`
	LastSavedAt  time.Time `json:"last_saved_at,omitzero"`
	LastSyncedAt time.Time `json:"last_synced_at,omitzero"`
}

// Event is published to coordinator subscribers.
type Event struct {
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflow_id"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
	Status     Status    `json:"status"`
	At         time.Time `json:"at"`
}

// SaveOptions tunes a single save.
type SaveOptions struct {
	// Silent suppresses notices for outcomes the user did not ask about:
	// auto-save ticks, step transitions and reconnection flushes.
	Silent bool
}

// SaveResult is the outcome of SaveDraft.
type SaveResult struct {
	// Record is the draft as last written locally.
	Record model.DraftRecord
	// LocalErr is the PERSISTENCE_ERROR of a failed local write.
	LocalErr error
	// Pushed reports the backend accepted the draft.
	Pushed bool
	// PushErr is the classified push failure, if any.
	PushErr error
	// Skipped reports the push was not attempted because the coordinator was
	// offline or held, or when another push was in flight.
	Skipped bool
}
