package sledstore

import (
	"errors"
	"path/filepath"
	"testing"
)

func setupTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := setupTempStore(t)

	if err := s.Set("k1", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok, err := s.Get("k1")
	if err != nil || !ok || v != "v1" {
		t.Fatalf("want (v1, true, nil), got (%q, %v, %v)", v, ok, err)
	}
}

func TestGetMissingKeyIsNotError(t *testing.T) {
	s := setupTempStore(t)

	v, ok, err := s.Get("missing")
	if err != nil || ok || v != "" {
		t.Fatalf("want (\"\", false, nil), got (%q, %v, %v)", v, ok, err)
	}
}

func TestRemoveMissingKeyReturnsErrKeyNotFound(t *testing.T) {
	s := setupTempStore(t)

	if err := s.Remove("nope"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
}

func TestRemoveDeletesKey(t *testing.T) {
	s := setupTempStore(t)

	_ = s.Set("k1", "v1")
	if err := s.Remove("k1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	_, ok, err := s.Get("k1")
	if err != nil || ok {
		t.Fatalf("want key gone, got ok=%v err=%v", ok, err)
	}
}

func TestReopenPersistsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = s.Set("a", "1")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	v, ok, err := reopened.Get("a")
	if err != nil || !ok || v != "1" {
		t.Fatalf("want a=1 after reopen, got (%q, %v, %v)", v, ok, err)
	}
}
