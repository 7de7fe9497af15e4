package bitcask

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestSetGetRoundTrip(t *testing.T) {
	db, _ := setupTempDB(t)

	if err := db.Set("k1", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok, err := db.Get("k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || v != "v1" {
		t.Fatalf("want (v1, true), got (%q, %v)", v, ok)
	}
}

func TestGetMissingKeyIsNotError(t *testing.T) {
	db, _ := setupTempDB(t)

	v, ok, err := db.Get("missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok || v != "" {
		t.Fatalf("want (\"\", false), got (%q, %v)", v, ok)
	}
}

func TestOverwriteKeepsLatestValue(t *testing.T) {
	db, _ := setupTempDB(t)

	_ = db.Set("k1", "old")
	_ = db.Set("k1", "new")

	v, ok, err := db.Get("k1")
	if err != nil || !ok || v != "new" {
		t.Fatalf("want (new, true, nil), got (%q, %v, %v)", v, ok, err)
	}
}

func TestRemoveDeletesKey(t *testing.T) {
	db, _ := setupTempDB(t)

	_ = db.Set("k1", "v1")
	if err := db.Remove("k1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	_, ok, err := db.Get("k1")
	if err != nil {
		t.Fatalf("Get after remove: %v", err)
	}
	if ok {
		t.Fatalf("expected key gone after Remove")
	}
}

func TestRemoveMissingKeyReturnsErrKeyNotFound(t *testing.T) {
	db, _ := setupTempDB(t)

	err := db.Remove("nope")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
}

func TestRemoveThenSetRevivesKey(t *testing.T) {
	db, _ := setupTempDB(t)

	_ = db.Set("k1", "v1")
	_ = db.Remove("k1")
	_ = db.Set("k1", "v2")

	v, ok, err := db.Get("k1")
	if err != nil || !ok || v != "v2" {
		t.Fatalf("want (v2, true, nil), got (%q, %v, %v)", v, ok, err)
	}
}

func TestRolloverCreatesNewSegment(t *testing.T) {
	db, _ := setupTempDB(t,
		WithLogFileMaxBytes(40), // small enough that a handful of sets overflow it
		WithMergeEnabled(false),
	)

	for i := 0; i < 5; i++ {
		if err := db.Set(fmt.Sprintf("k%d", i), "vvvvvvvv"); err != nil {
			t.Fatalf("Set %d: %v", i, err)
		}
	}

	db.mu.RLock()
	n := len(db.segments)
	db.mu.RUnlock()

	if n < 2 {
		t.Fatalf("expected rollover to have produced >1 segment, got %d", n)
	}

	for i := 0; i < 5; i++ {
		v, ok, err := db.Get(fmt.Sprintf("k%d", i))
		if err != nil || !ok || v != "vvvvvvvv" {
			t.Fatalf("k%d: got (%q, %v, %v)", i, v, ok, err)
		}
	}
}

func TestRecoveryFromLogAfterReopen(t *testing.T) {
	db, dir := setupTempDB(t, WithMergeEnabled(false))

	_ = db.Set("a", "1")
	_ = db.Set("b", "2")
	_ = db.Remove("a")

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, WithMergeEnabled(false))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if _, ok, _ := reopened.Get("a"); ok {
		t.Fatalf("expected a to stay removed after recovery")
	}
	v, ok, err := reopened.Get("b")
	if err != nil || !ok || v != "2" {
		t.Fatalf("want b=2 after recovery, got (%q, %v, %v)", v, ok, err)
	}
}

func TestRecoveryToleratesTornTail(t *testing.T) {
	db, dir := setupTempDB(t, WithMergeEnabled(false))

	_ = db.Set("a", "1")
	_ = db.Set("b", "22")
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	info, err := db.active.f.Stat()
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := db.active.f.Truncate(info.Size() - 1); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dir, WithMergeEnabled(false))
	if err != nil {
		t.Fatalf("reopen after torn tail: %v", err)
	}
	defer reopened.Close()

	v, ok, err := reopened.Get("a")
	if err != nil || !ok || v != "1" {
		t.Fatalf("want a=1 to survive torn tail, got (%q, %v, %v)", v, ok, err)
	}
	if _, ok, _ := reopened.Get("b"); ok {
		t.Fatalf("expected b's torn record to be dropped by recovery")
	}
}

func TestHintFileAcceleratesRecovery(t *testing.T) {
	db, dir := setupTempDB(t,
		WithLogFileMaxBytes(40),
		WithMergeTriggerThreshold(1),
		WithMergeEnabled(true),
	)

	for i := 0; i < 6; i++ {
		_ = db.Set("k", fmt.Sprintf("v%d", i))
	}

	// Give the async merge a chance to run and produce hint files.
	for i := 0; i < 100; i++ {
		select {
		case err := <-db.MergeErrors():
			t.Fatalf("merge error: %v", err)
		default:
		}
		db.mu.RLock()
		n := len(db.segments)
		db.mu.RUnlock()
		if n <= 2 {
			break
		}
	}

	v, ok, err := db.Get("k")
	if err != nil || !ok || v != "v5" {
		t.Fatalf("want k=v5, got (%q, %v, %v)", v, ok, err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dir, WithMergeEnabled(false))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	v, ok, err = reopened.Get("k")
	if err != nil || !ok || v != "v5" {
		t.Fatalf("want k=v5 after reopen, got (%q, %v, %v)", v, ok, err)
	}
}

func TestStaleTempFilesAreRemovedOnOpen(t *testing.T) {
	db, dir := setupTempDB(t)
	_ = db.Set("a", "1")
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	leftover := segmentPath(dir, 99, "log.temp")
	if err := os.WriteFile(leftover, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write leftover temp: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if _, err := os.Stat(leftover); err == nil {
		t.Fatalf("expected stale .log.temp to be removed on Open")
	}
}

func TestDiskSizeReflectsSegments(t *testing.T) {
	db, _ := setupTempDB(t)

	before, err := db.DiskSize()
	if err != nil {
		t.Fatalf("DiskSize: %v", err)
	}

	_ = db.Set("k1", "hello world")
	if err := db.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	after, err := db.DiskSize()
	if err != nil {
		t.Fatalf("DiskSize: %v", err)
	}
	if after <= before {
		t.Fatalf("want DiskSize to grow after a write, before=%d after=%d", before, after)
	}
}
