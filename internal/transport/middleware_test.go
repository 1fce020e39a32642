package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/msdsdraft/internal/config"
	"github.com/pitabwire/msdsdraft/internal/observability"
	"github.com/pitabwire/msdsdraft/model"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRecovery(t *testing.T) {
	h := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if code := errorCode(t, w); code != model.ErrInternalError {
		t.Errorf("code = %q, want %q", code, model.ErrInternalError)
	}
}

func TestCORS(t *testing.T) {
	cfg := config.CORSConfig{
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization"},
		MaxAge:         600,
	}
	h := CORS(cfg)(http.HandlerFunc(okHandler))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Errorf("Allow-Origin = %q", got)
		}
		if got := w.Header().Get("Access-Control-Max-Age"); got != "600" {
			t.Errorf("Max-Age = %q, want 600", got)
		}
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
		}
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Correlation-Id", "corr-123")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if seen != "corr-123" {
			t.Errorf("context id = %q, want corr-123", seen)
		}
		if got := w.Header().Get("X-Correlation-Id"); got != "corr-123" {
			t.Errorf("response header = %q, want corr-123", got)
		}
	})

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		if seen == "" {
			t.Error("expected a generated correlation id")
		}
		if got := w.Header().Get("X-Correlation-Id"); got != seen {
			t.Errorf("response header = %q, want %q", got, seen)
		}
	})
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(okHandler)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, header := range []string{"Strict-Transport-Security", "X-Frame-Options", "Cache-Control"} {
		if w.Header().Get(header) == "" {
			t.Errorf("%s not set", header)
		}
	}
}

func TestBuildRequestContext(t *testing.T) {
	var rctx *model.RequestContext
	h := BuildRequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx = model.RequestContextFrom(r.Context())
	}))

	ctx := WithClaims(context.Background(), map[string]any{
		"sub":   "operator-7",
		"email": "op7@plant.example.com",
		"roles": []any{"operator", 3, "reviewer"},
	})
	ctx = withToken(ctx, "tok")
	ctx = context.WithValue(ctx, correlationIDKey{}, "corr-1")
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if rctx == nil {
		t.Fatal("request context not set")
	}
	if rctx.SubjectID != "operator-7" || rctx.Email != "op7@plant.example.com" {
		t.Errorf("identity = %q/%q", rctx.SubjectID, rctx.Email)
	}
	if len(rctx.Roles) != 2 || rctx.Roles[1] != "reviewer" {
		t.Errorf("roles = %v, want [operator reviewer]", rctx.Roles)
	}
	if rctx.Token != "tok" || rctx.CorrelationID != "corr-1" {
		t.Errorf("token/correlation = %q/%q", rctx.Token, rctx.CorrelationID)
	}
}

func TestHandlerTimeout(t *testing.T) {
	var deadline time.Time
	var ok bool
	h := HandlerTimeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !ok || time.Until(deadline) > time.Second {
		t.Errorf("deadline = %v (set %v), want within 1s", deadline, ok)
	}

	passthrough := HandlerTimeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = r.Context().Deadline()
	}))
	passthrough.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if ok {
		t.Error("zero timeout should not set a deadline")
	}
}

func TestRequestLogging_CapturesStatus(t *testing.T) {
	var seenLogger bool
	h := RequestLogging(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenLogger = observability.LoggerFrom(r.Context(), nil) != nil
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTeapot)
	}
	if !seenLogger {
		t.Error("request logger not stored in context")
	}
}
