package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/msdsdraft/model"
)

var authNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func runForwarder(t *testing.T, header string) (*httptest.ResponseRecorder, *http.Request) {
	t.Helper()
	var seen *http.Request
	h := BearerForwarder(func() time.Time { return authNow })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/schema", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, seen
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("response has no error envelope")
	}
	return resp.Error.Code
}

func TestBearerForwarder_MissingHeader(t *testing.T) {
	w, seen := runForwarder(t, "")

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if code := errorCode(t, w); code != model.ErrUnauthorized {
		t.Errorf("code = %q, want %q", code, model.ErrUnauthorized)
	}
	if seen != nil {
		t.Error("handler should not run")
	}
}

func TestBearerForwarder_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Basic dXNlcjpwYXNz", "Bearer ", "bearer abc"} {
		t.Run(header, func(t *testing.T) {
			w, seen := runForwarder(t, header)
			if w.Code != http.StatusForbidden {
				t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
			}
			if seen != nil {
				t.Error("handler should not run")
			}
		})
	}
}

func TestBearerForwarder_ExpiredToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "operator-7",
		"exp": authNow.Add(-time.Minute).Unix(),
	})

	w, seen := runForwarder(t, "Bearer "+token)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if code := errorCode(t, w); code != model.ErrAuthExpired {
		t.Errorf("code = %q, want %q", code, model.ErrAuthExpired)
	}
	if seen != nil {
		t.Error("handler should not run")
	}
}

func TestBearerForwarder_ValidToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":   "operator-7",
		"email": "op7@plant.example.com",
		"exp":   authNow.Add(time.Hour).Unix(),
	})

	w, seen := runForwarder(t, "Bearer "+token)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	claims := ClaimsFrom(seen.Context())
	if claims["sub"] != "operator-7" {
		t.Errorf("sub = %v, want operator-7", claims["sub"])
	}
	if got := tokenFrom(seen.Context()); got != token {
		t.Errorf("forwarded token = %q, want the original", got)
	}
}

func TestBearerForwarder_OpaqueToken(t *testing.T) {
	w, seen := runForwarder(t, "Bearer opaque-session-token")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(ClaimsFrom(seen.Context())) != 0 {
		t.Errorf("claims = %v, want empty", ClaimsFrom(seen.Context()))
	}
	if got := tokenFrom(seen.Context()); got != "opaque-session-token" {
		t.Errorf("forwarded token = %q", got)
	}
}
