package bitcask

import (
	"os"
	"testing"
)

// setupTempDB opens a fresh DB in a temp directory and registers cleanup.
func setupTempDB(tb testing.TB, opts ...Option) (db *DB, dir string) {
	tb.Helper()

	dir, err := os.MkdirTemp("", "bitcask_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp: %v", err)
	}

	db, err = Open(dir, opts...)
	if err != nil {
		_ = os.RemoveAll(dir)
		tb.Fatalf("Open(%q): %v", dir, err)
	}

	tb.Cleanup(func() {
		_ = db.Close()
		_ = os.RemoveAll(dir)
	})

	return db, dir
}
