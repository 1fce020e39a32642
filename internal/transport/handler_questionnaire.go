package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/msdsdraft/internal/questionnaire"
	"github.com/pitabwire/msdsdraft/model"
)

// controllerHandler is a handler that runs against an open questionnaire.
type controllerHandler func(w http.ResponseWriter, r *http.Request, c *questionnaire.Controller)

// withController resolves the {workflowId} questionnaire, which must have
// been opened.
func withController(m *questionnaire.Manager, h controllerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := m.Get(r.Context(), chi.URLParam(r, "workflowId"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		h(w, r, c)
	}
}

func handleOpen(m *questionnaire.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := m.Open(r.Context(), chi.URLParam(r, "workflowId"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, c.View())
	}
}

func handleView(w http.ResponseWriter, _ *http.Request, c *questionnaire.Controller) {
	WriteJSON(w, http.StatusOK, c.View())
}

func handleClose(m *questionnaire.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.Close(r.Context(), chi.URLParam(r, "workflowId")); err != nil {
			WriteError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSetAnswer(w http.ResponseWriter, r *http.Request, c *questionnaire.Controller) {
	var body struct {
		Value any `json:"value"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := c.SetAnswer(r.Context(), chi.URLParam(r, "field"), body.Value); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, c.View())
}

func handleClearAnswer(w http.ResponseWriter, r *http.Request, c *questionnaire.Controller) {
	if err := c.ClearAnswer(r.Context(), chi.URLParam(r, "field")); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, c.View())
}

func handleSetAnswers(w http.ResponseWriter, r *http.Request, c *questionnaire.Controller) {
	var body struct {
		Answers map[string]any `json:"answers"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	if len(body.Answers) == 0 {
		WriteError(w, r, model.NewBadRequestError("answers is required"))
		return
	}
	if err := c.SetAnswers(r.Context(), body.Answers); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, c.View())
}

func handleNext(w http.ResponseWriter, r *http.Request, c *questionnaire.Controller) {
	respondAfterMove(w, r, c, c.Next(r.Context()))
}

func handlePrevious(w http.ResponseWriter, r *http.Request, c *questionnaire.Controller) {
	respondAfterMove(w, r, c, c.Previous(r.Context()))
}

func handleGoToStep(w http.ResponseWriter, r *http.Request, c *questionnaire.Controller) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		WriteError(w, r, model.NewBadRequestError("step index must be an integer"))
		return
	}
	respondAfterMove(w, r, c, c.GoToStep(r.Context(), index))
}

func respondAfterMove(w http.ResponseWriter, r *http.Request, c *questionnaire.Controller, err error) {
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, c.View())
}

// saveResponse reports a manual save. Local and push failures are soft: the
// answers stay in memory and the draft stays pending.
type saveResponse struct {
	View       questionnaire.View   `json:"view"`
	Pushed     bool                 `json:"pushed"`
	Skipped    bool                 `json:"skipped"`
	LocalError *model.ErrorEnvelope `json:"local_error,omitempty"`
	PushError  *model.ErrorEnvelope `json:"push_error,omitempty"`
}

func handleSave(w http.ResponseWriter, r *http.Request, c *questionnaire.Controller) {
	var body struct {
		Silent bool `json:"silent"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	result, err := c.Save(r.Context(), body.Silent)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, saveResponse{
		View:       c.View(),
		Pushed:     result.Pushed,
		Skipped:    result.Skipped,
		LocalError: envelopeOf(result.LocalErr),
		PushError:  envelopeOf(result.PushErr),
	})
}

func handleSubmit(w http.ResponseWriter, r *http.Request, c *questionnaire.Controller) {
	var body struct {
		Confirm bool `json:"confirm"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	answers, err := c.Submit(r.Context(), body.Confirm)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"state":   c.State(),
		"answers": answers,
	})
}

func envelopeOf(err error) *model.ErrorEnvelope {
	if err == nil {
		return nil
	}
	if ee, ok := model.AsEnvelope(err); ok {
		return ee
	}
	return model.NewInternalError()
}
