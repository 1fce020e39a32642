package backend

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/msdsdraft/model"
)

// errorBody covers the error shapes the workflow backend returns: a message,
// a detail list, or a field-to-message map.
type errorBody struct {
	Message string             `json:"message"`
	Error   string             `json:"error"`
	Details []model.FieldError `json:"details"`
	Errors  map[string]string  `json:"errors"`
}

func (b errorBody) text() string {
	if b.Message != "" {
		return b.Message
	}
	return b.Error
}

// classifyStatus maps a backend HTTP status to an error envelope. It returns
// nil for 1xx-3xx.
func classifyStatus(status int, body []byte) error {
	if status < 400 {
		return nil
	}

	var eb errorBody
	if len(body) > 0 {
		_ = json.Unmarshal(body, &eb)
	}
	msg := strings.TrimSpace(eb.text())

	switch {
	case status == http.StatusUnauthorized:
		return model.NewAuthExpiredError()
	case status == http.StatusForbidden:
		return model.NewUnauthorizedError(orDefault(msg, "You are not allowed to perform this action"))
	case status == http.StatusNotFound:
		return model.NewNotFoundError(orDefault(msg, "Workflow record not found"))
	case status == http.StatusConflict:
		return model.NewConflictError(orDefault(msg, "The workflow changed on the server"))
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		ee := model.NewValidationError(fieldErrors(eb))
		if msg != "" {
			ee.Message = msg
		}
		return ee
	case status >= 500:
		return model.NewServerError(status)
	default:
		return model.NewBadRequestError(orDefault(msg, http.StatusText(status)))
	}
}

func fieldErrors(eb errorBody) []model.FieldError {
	details := slices.Clone(eb.Details)
	names := make([]string, 0, len(eb.Errors))
	for name := range eb.Errors {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		details = append(details, model.FieldError{
			Field:   name,
			Code:    "INVALID",
			Message: eb.Errors[name],
		})
	}
	return details
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// tokenExpired reports whether token is a JWT whose exp claim has passed.
// The signature is not checked; the backend does that. Opaque tokens and
// tokens without exp are never considered expired here.
func tokenExpired(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
