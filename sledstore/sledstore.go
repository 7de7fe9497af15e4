// Package sledstore is the alternative embedded-store engine named in
// the storage engine's external interfaces: a backing store built on a
// third-party embedded database rather than the bitcask log. It is
// grounded on the original program's sled-backed engine (open, get,
// set, remove, flush; KeyNotFound on removing an absent key), wired
// here to go.etcd.io/bbolt as the idiomatic Go analogue of sled — a
// single-file, transactional, embedded B+tree store occupying the same
// "boring, durable, embedded" niche.
package sledstore

import (
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/aurorakv/kvs/engine"
)

// ErrKeyNotFound mirrors bitcask.ErrKeyNotFound so callers that only
// depend on engine.Engine can still detect a missing-key Remove without
// importing bitcask.
var ErrKeyNotFound = errors.New("key not found")

var bucketName = []byte("kvs")

// Store is a single bbolt-backed key/value store.
type Store struct {
	db *bbolt.DB
}

var _ engine.Engine = (*Store)(nil)

// Open opens (creating if necessary) the bbolt file at path and ensures
// the single bucket kvs uses exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt store %q: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Set writes key=value and fsyncs the bbolt file, matching the source's
// set-then-flush pairing.
func (s *Store) Set(key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(value))
	})
}

// Get returns the current value of key, or ok=false if absent.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	var ok bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return nil
		}
		ok = true
		value = string(v)
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}

	return value, ok, nil
}

// Remove deletes key, returning ErrKeyNotFound if it was not present.
func (s *Store) Remove(key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b.Get([]byte(key)) == nil {
			return ErrKeyNotFound
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		}
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}
