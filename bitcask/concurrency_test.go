package bitcask

import (
	"fmt"
	"sync"
	"testing"
)

// TestConcurrentReadersDuringWrites runs eight goroutines reading the same
// keys while one goroutine keeps writing them, with rollover and merge
// enabled, and checks that no Get returns an error and no merge fails.
func TestConcurrentReadersDuringWrites(t *testing.T) {
	db, _ := setupTempDB(t,
		WithLogFileMaxBytes(256),
		WithMergeEnabled(true),
		WithMergeTriggerThreshold(64),
	)

	const (
		numKeys  = 50
		numWrites = 200
	)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numWrites; i++ {
			key := fmt.Sprintf("k%d", i%numKeys)
			if err := db.Set(key, fmt.Sprintf("v%d", i)); err != nil {
				t.Errorf("Set(%s): %v", key, err)
			}
		}
	}()

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < numWrites; i++ {
				key := fmt.Sprintf("k%d", i%numKeys)
				// A concurrent Get must never error just because a write is
				// in flight for the same or another key.
				if _, _, err := db.Get(key); err != nil {
					t.Errorf("Get(%s): %v", key, err)
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-db.MergeErrors():
		t.Fatalf("unexpected merge error: %v", err)
	default:
	}
}

// TestConcurrentSetsToSameKeyConverge verifies that racing writers to the
// same key leave the directory pointing at exactly one of the values
// written, never a mix of two records' bytes.
func TestConcurrentSetsToSameKeyConverge(t *testing.T) {
	db, _ := setupTempDB(t)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = db.Set("shared", fmt.Sprintf("value-%03d", i))
		}(i)
	}
	wg.Wait()

	v, ok, err := db.Get("shared")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected shared key to be present")
	}

	valid := false
	for i := 0; i < n; i++ {
		if v == fmt.Sprintf("value-%03d", i) {
			valid = true
			break
		}
	}
	if !valid {
		t.Fatalf("got value %q that matches none of the written records", v)
	}
}

// TestConcurrentRemoveAndSetRace ensures Set/Remove races on one key leave
// it resolvable: Get afterwards neither errors nor returns an empty value
// for a live key.
func TestConcurrentRemoveAndSetRace(t *testing.T) {
	db, _ := setupTempDB(t)

	_ = db.Set("k", "v0")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = db.Set("k", fmt.Sprintf("v%d", i))
			} else {
				_ = db.Remove("k")
			}
		}(i)
	}
	wg.Wait()

	// Whatever the outcome, Get must not error: either the key is live with
	// a fully-formed value, or it is absent.
	v, ok, err := db.Get("k")
	if err != nil {
		t.Fatalf("Get after race: %v", err)
	}
	if ok && v == "" {
		t.Fatalf("live key resolved to an empty value, suggests a torn read")
	}
}
