// Package transport contains the HTTP router, middleware chain, and the
// request handlers the questionnaire UI calls.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pitabwire/msdsdraft/internal/observability"
	"github.com/pitabwire/msdsdraft/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:           http.StatusBadRequest,
	model.ErrUnauthorized:         http.StatusForbidden,
	model.ErrAuthExpired:          http.StatusUnauthorized,
	model.ErrNotFound:             http.StatusNotFound,
	model.ErrConflict:             http.StatusConflict,
	model.ErrValidationError:      http.StatusUnprocessableEntity,
	model.ErrInvalidTransition:    http.StatusUnprocessableEntity,
	model.ErrSchemaError:          http.StatusBadRequest,
	model.ErrConfirmationRequired: http.StatusConflict,
	model.ErrNotReady:             http.StatusConflict,
	model.ErrPersistenceError:     http.StatusInternalServerError,
	model.ErrStorageFull:          http.StatusInsufficientStorage,
	model.ErrServerError:          http.StatusBadGateway,
	model.ErrNetworkUnavailable:   http.StatusServiceUnavailable,
	model.ErrInternalError:        http.StatusInternalServerError,
}

// StatusForCode returns the HTTP status for an error code, 500 when the code
// is unknown.
func StatusForCode(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteError writes the ErrorEnvelope in err's chain as a JSON response with
// the matching HTTP status. Errors without an envelope become a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		ee = model.NewInternalError()
	}
	out := *ee
	if r != nil {
		out.TraceID = observability.TraceIDFromContext(r.Context())
	}
	WriteJSON(w, StatusForCode(out.Code), errorResponse{Error: &out})
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched. Numbers are kept as json.Number.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return model.NewBadRequestError("invalid JSON body")
	}
	return nil
}
