package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealth_returnsOK(t *testing.T) {
	// Set build-time variables for test.
	origVersion, origCommit := Version, Commit
	Version = "1.2.3"
	Commit = "abc1234"
	t.Cleanup(func() {
		Version = origVersion
		Commit = origCommit
	})

	handler := HandleHealth()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", resp.Version)
	}
	if resp.Commit != "abc1234" {
		t.Errorf("commit = %q, want abc1234", resp.Commit)
	}
}

func TestHandleHealth_defaultValues(t *testing.T) {
	handler := HandleHealth()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Version == "" {
		t.Error("version should have a default value")
	}
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(_ context.Context) error {
	return m.err
}

func serveReady(t *testing.T, checks ReadinessChecks) (int, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleReady(checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return rec.Code, resp
}

func TestHandleReady_allHealthy(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		SchemaLoaded: func() bool { return true },
		DraftStore:   &mockHealthChecker{},
		Backend:      &mockHealthChecker{},
	})

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready", resp.Status)
	}
	for _, name := range []string{"schema", "draft_store", "backend"} {
		if resp.Checks[name].Status != "ok" {
			t.Errorf("%s = %q, want ok", name, resp.Checks[name].Status)
		}
	}
}

func TestHandleReady_schemaNotLoaded(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		SchemaLoaded: func() bool { return false },
		DraftStore:   &mockHealthChecker{},
	})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if resp.Status != "not_ready" {
		t.Errorf("status = %q, want not_ready", resp.Status)
	}
	if resp.Checks["schema"].Error == "" {
		t.Error("schema check should carry an error message")
	}
}

func TestHandleReady_draftStoreDown(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		SchemaLoaded: func() bool { return true },
		DraftStore:   &mockHealthChecker{err: errors.New("database is locked")},
	})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if resp.Checks["draft_store"].Error != "database is locked" {
		t.Errorf("draft_store error = %q, want %q", resp.Checks["draft_store"].Error, "database is locked")
	}
}

func TestHandleReady_missingDraftStore(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		SchemaLoaded: func() bool { return true },
	})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if resp.Checks["draft_store"].Status != "error" {
		t.Errorf("draft_store = %q, want error", resp.Checks["draft_store"].Status)
	}
}

func TestHandleReady_backendDownIsDegradedNotFailing(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		SchemaLoaded: func() bool { return true },
		DraftStore:   &mockHealthChecker{},
		Backend:      &mockHealthChecker{err: errors.New("connection refused")},
	})

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready", resp.Status)
	}
	if resp.Checks["backend"].Status != "degraded" {
		t.Errorf("backend = %q, want degraded", resp.Checks["backend"].Status)
	}
	if resp.Checks["backend"].Error != "connection refused" {
		t.Errorf("backend error = %q, want connection refused", resp.Checks["backend"].Error)
	}
}

func TestHandleReady_withoutBackendCheck(t *testing.T) {
	_, resp := serveReady(t, ReadinessChecks{
		SchemaLoaded: func() bool { return true },
		DraftStore:   &mockHealthChecker{},
	})

	if _, ok := resp.Checks["backend"]; ok {
		t.Error("backend check should be absent when not configured")
	}
	if len(resp.Checks) != 2 {
		t.Errorf("checks = %d, want 2", len(resp.Checks))
	}
}

func TestHandleReady_nilCheckerFunctions(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if resp.Checks["schema"].Status != "error" {
		t.Errorf("schema = %q, want error", resp.Checks["schema"].Status)
	}
}

func TestHandleReady_contentType(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleReady(ReadinessChecks{
		SchemaLoaded: func() bool { return true },
		DraftStore:   &mockHealthChecker{},
	}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json; charset=utf-8", ct)
	}
}
