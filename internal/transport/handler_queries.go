package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/msdsdraft/internal/observability"
	"github.com/pitabwire/msdsdraft/internal/queries"
	"github.com/pitabwire/msdsdraft/internal/questionnaire"
	"github.com/pitabwire/msdsdraft/model"
)

type queriesResponse struct {
	Threads []model.QueryThread      `json:"threads"`
	Badges  map[string]queries.Badge `json:"badges"`
	Open    int                      `json:"open"`
	Total   int                      `json:"total"`
	Stale   bool                     `json:"stale"`
}

// handleListQueries returns the cached threads; ?refresh=true reloads them
// first. A failed refresh still answers with the cached list marked stale.
func handleListQueries(w http.ResponseWriter, r *http.Request, c *questionnaire.Controller) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := c.RefreshQueries(r.Context()); err != nil {
			observability.LoggerFrom(r.Context(), zap.NewNop()).Warn("query refresh failed", zap.Error(err))
		}
	}
	t := c.Tracker()
	idx := t.Index()
	WriteJSON(w, http.StatusOK, queriesResponse{
		Threads: idx.Threads(),
		Badges:  t.Badges(),
		Open:    idx.OpenCount(),
		Total:   idx.Total(),
		Stale:   t.Stale(),
	})
}

func handleRaiseQuery(w http.ResponseWriter, r *http.Request, c *questionnaire.Controller) {
	var req model.CreateQueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	q, err := c.RaiseQuery(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, q)
}

func handleResolveQuery(w http.ResponseWriter, r *http.Request, c *questionnaire.Controller) {
	var body struct {
		Response string `json:"response"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	q, err := c.ResolveQuery(r.Context(), chi.URLParam(r, "queryId"), body.Response)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, q)
}

func handleFieldViewed(w http.ResponseWriter, r *http.Request, c *questionnaire.Controller) {
	if err := c.MarkFieldViewed(chi.URLParam(r, "field")); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
