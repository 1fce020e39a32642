package draft

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func newTestSQLite(t *testing.T, maxBytes int64) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "drafts", "drafts.db"), maxBytes)
	if err != nil {
		t.Fatalf("NewSQLiteBackend error: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSQLiteBackend_RoundTrip(t *testing.T) {
	b := newTestSQLite(t, 0)
	ctx := context.Background()

	if err := b.Put(ctx, "msds_draft_42", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := b.Put(ctx, "msds_draft_42", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("overwrite error: %v", err)
	}

	got, found, err := b.Get(ctx, "msds_draft_42")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if string(got) != `{"a":2}` {
		t.Errorf("value = %s, want {\"a\":2}", got)
	}

	if err := b.Delete(ctx, "msds_draft_42"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	_, found, err = b.Get(ctx, "msds_draft_42")
	if err != nil {
		t.Fatalf("Get after delete error: %v", err)
	}
	if found {
		t.Error("found = true after delete")
	}
}

func TestSQLiteBackend_Keys(t *testing.T) {
	b := newTestSQLite(t, 0)
	ctx := context.Background()
	for _, k := range []string{"msds_draft_b", "msds_draft_a", "msds_draftless", "other"} {
		if err := b.Put(ctx, k, []byte("v")); err != nil {
			t.Fatalf("Put %s error: %v", k, err)
		}
	}

	keys, err := b.Keys(ctx, "msds_draft_")
	if err != nil {
		t.Fatalf("Keys error: %v", err)
	}
	if len(keys) != 2 || keys[0] != "msds_draft_a" || keys[1] != "msds_draft_b" {
		t.Errorf("keys = %v, want [msds_draft_a msds_draft_b]", keys)
	}
}

func TestSQLiteBackend_KeysPrefixIsLiteral(t *testing.T) {
	b := newTestSQLite(t, 0)
	ctx := context.Background()
	for _, k := range []string{"a%b_1", "axb_2"} {
		if err := b.Put(ctx, k, []byte("v")); err != nil {
			t.Fatalf("Put %s error: %v", k, err)
		}
	}

	keys, err := b.Keys(ctx, "a%b")
	if err != nil {
		t.Fatalf("Keys error: %v", err)
	}
	if len(keys) != 1 || keys[0] != "a%b_1" {
		t.Errorf("keys = %v, want [a%%b_1]", keys)
	}
}

func TestSQLiteBackend_Quota(t *testing.T) {
	b := newTestSQLite(t, 20)
	ctx := context.Background()

	if err := b.Put(ctx, "k1", []byte("0123456789")); err != nil {
		t.Fatalf("Put k1 error: %v", err)
	}
	err := b.Put(ctx, "k2", []byte("0123456789"))
	if !errors.Is(err, ErrStorageFull) {
		t.Fatalf("Put k2 err = %v, want ErrStorageFull", err)
	}
	// Replacing k1 excludes its old size from the total.
	if err := b.Put(ctx, "k1", []byte("012345678901234567")); err != nil {
		t.Errorf("overwrite k1 error: %v", err)
	}
	if _, found, _ := b.Get(ctx, "k2"); found {
		t.Error("rejected write was persisted")
	}
}

func TestSQLiteBackend_HealthCheck(t *testing.T) {
	b := newTestSQLite(t, 0)
	if err := b.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck error: %v", err)
	}
}

func TestSQLiteBackend_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drafts.db")
	ctx := context.Background()

	b, err := NewSQLiteBackend(path, 0)
	if err != nil {
		t.Fatalf("NewSQLiteBackend error: %v", err)
	}
	if err := b.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	b.Close()

	reopened, err := NewSQLiteBackend(path, 0)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()
	got, found, err := reopened.Get(ctx, "k")
	if err != nil || !found || string(got) != "v" {
		t.Errorf("Get after reopen = %q, %v, %v", got, found, err)
	}
}

func TestSQLiteBackend_OpenError(t *testing.T) {
	orig := openDB
	defer func() { openDB = orig }()
	openDB = func(string, string) (*sql.DB, error) {
		return nil, errors.New("driver unavailable")
	}

	_, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "x.db"), 0)
	if err == nil {
		t.Fatal("expected error from NewSQLiteBackend")
	}
}

type sqliteCodeErr int

func (e sqliteCodeErr) Error() string { return "sqlite error" }
func (e sqliteCodeErr) Code() int     { return int(e) }

func TestSQLiteBackend_ClassifyFull(t *testing.T) {
	b := &SQLiteBackend{}

	if err := b.classify("put", sqliteCodeErr(13)); !errors.Is(err, ErrStorageFull) {
		t.Errorf("SQLITE_FULL classified as %v", err)
	}
	// Extended result codes keep the primary code in the low byte.
	if err := b.classify("put", sqliteCodeErr(13|(1<<8))); !errors.Is(err, ErrStorageFull) {
		t.Errorf("extended SQLITE_FULL classified as %v", err)
	}
	if err := b.classify("put", sqliteCodeErr(5)); errors.Is(err, ErrStorageFull) {
		t.Errorf("SQLITE_BUSY classified as storage full")
	}
}
