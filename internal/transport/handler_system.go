package transport

import (
	"net/http"

	"github.com/pitabwire/msdsdraft/internal/schema"
	draftsync "github.com/pitabwire/msdsdraft/internal/sync"
)

// handleConnectivity lets the UI report connectivity it observed itself,
// such as the browser going offline.
func handleConnectivity(conn *draftsync.Connectivity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Online *bool `json:"online"`
		}
		if err := decodeBody(w, r, &body); err != nil {
			WriteError(w, r, err)
			return
		}
		changed := false
		if body.Online != nil {
			changed = conn.Set(r.Context(), *body.Online)
		}
		WriteJSON(w, http.StatusOK, map[string]bool{
			"online":  conn.Online(),
			"changed": changed,
		})
	}
}

func handleSchema(sch *schema.Schema) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, sch.Definition())
	}
}
