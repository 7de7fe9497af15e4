// Package bitcask implements a Bitcask-style append-only log storage
// engine: an in-memory key directory backed by immutable log segments,
// with segment rollover, crash recovery, and a merge (compaction)
// procedure that rewrites live data into hint-indexed segments.
package bitcask

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	defaultLogFileMaxBytes       = 1 * 1024 * 1024 * 1024
	defaultMergeTriggerThreshold = 1 * 1024 * 1024 * 1024
	defaultWriteFlushInterval    = 4 * 1024 * 1024
)

// Option configures a DB at Open time.
type Option func(*DB)

// WithLogFileMaxBytes caps the size of any single segment.
func WithLogFileMaxBytes(n int64) Option {
	return func(db *DB) { db.logFileMaxBytes = n }
}

// WithMergeTriggerThreshold sets the superseded-byte count that triggers a
// merge.
func WithMergeTriggerThreshold(n int64) Option {
	return func(db *DB) { db.mergeTriggerThreshold = n }
}

// WithWriteFlushInterval sets the buffered-byte flush threshold of the
// active writer. appendRecord flushes after every record, so the writer
// never holds buffered bytes between appends and this threshold never
// decides when a flush happens.
func WithWriteFlushInterval(n int64) Option {
	return func(db *DB) { db.writeFlushInterval = n }
}

// WithFsync enables fsync of the active segment after every write, trading
// throughput for durability against power loss.
func WithFsync(b bool) Option {
	return func(db *DB) { db.fsync = b }
}

// WithMergeEnabled controls whether crossing mergeTriggerThreshold
// triggers a merge. Tests disable this to observe pre-merge state.
func WithMergeEnabled(b bool) Option {
	return func(db *DB) { db.mergeEnabled = b }
}

// WithOnMergeStart installs a test hook invoked once merge has snapshotted
// its input segments and is about to start scanning them.
func WithOnMergeStart(f func()) Option {
	return func(db *DB) { db.onMergeStart = f }
}

// DB is a single Bitcask store rooted at one directory. It is safe for
// concurrent use by many goroutines.
type DB struct {
	dir string

	mu       sync.RWMutex // guards segments and activeID together
	segments []uint64     // ascending; last element is the active segment
	activeID uint64

	writerMu sync.Mutex // guards the active writer's append/rollover/flush
	active   *writer

	readers *readerCache
	index   *keyDirectory

	uselessBytes int64 // atomic; coarse estimate of reclaimable value bytes

	mergeSem chan struct{} // one-slot semaphore; buffered send = "merge running"
	mergeErr chan error
	onMergeStart func()

	logFileMaxBytes       int64
	mergeTriggerThreshold int64
	writeFlushInterval    int64
	fsync                 bool
	mergeEnabled          bool
}

// Open opens (creating if necessary) the Bitcask store rooted at dir.
func Open(dir string, opts ...Option) (db *DB, err error) {
	db = &DB{
		dir:                   dir,
		index:                 newKeyDirectory(),
		readers:               newReaderCache(),
		mergeSem:              make(chan struct{}, 1),
		mergeErr:              make(chan error, 1),
		onMergeStart:          func() {},
		logFileMaxBytes:       defaultLogFileMaxBytes,
		mergeTriggerThreshold: defaultMergeTriggerThreshold,
		writeFlushInterval:    defaultWriteFlushInterval,
		mergeEnabled:          true,
	}

	for _, opt := range opts {
		opt(db)
	}

	defer func() {
		if err != nil {
			_ = db.readers.closeAll()
			if db.active != nil {
				_ = db.active.close()
			}
		}
	}()

	if err = os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %q: %w", dir, err)
	}

	// A crash mid-merge may leave *.log.temp/*.hint.temp behind (spec §9
	// Q5); these must never be interpreted as segments.
	if err = removeTempFiles(dir); err != nil {
		return nil, fmt.Errorf("remove temp files: %w", err)
	}

	ids, err := listSegments(dir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	if err = db.warnOrphanedFiles(ids); err != nil {
		return nil, fmt.Errorf("check orphaned files: %w", err)
	}

	for _, id := range ids {
		var useless int64
		useless, err = db.loadSegment(id)
		if err != nil {
			return nil, fmt.Errorf("load segment %d: %w", id, err)
		}
		db.uselessBytes += useless
	}

	db.segments = ids

	if len(ids) == 0 {
		if err = db.createActiveSegment(0); err != nil {
			return nil, fmt.Errorf("create initial segment: %w", err)
		}
	} else {
		db.activeID = ids[len(ids)-1]
		db.active, err = newWriter(segmentPath(dir, db.activeID, "log"))
		if err != nil {
			return nil, fmt.Errorf("open active segment %d: %w", db.activeID, err)
		}
	}

	return db, nil
}

// loadSegment opens a reader for segment id, installs it in the reader
// cache, and populates the key directory either from its hint file (fast
// path) or by scanning its log (slow path, returning the superseded-byte
// count accumulated while doing so).
func (db *DB) loadSegment(id uint64) (int64, error) {
	f, err := os.Open(segmentPath(db.dir, id, "log"))
	if err != nil {
		return 0, fmt.Errorf("open log: %w", err)
	}
	db.readers.install(id, f)

	hintPath := segmentPath(db.dir, id, "hint")
	if hf, err := os.Open(hintPath); err == nil {
		defer hf.Close()
		if err := db.loadFromHint(id, hf); err != nil {
			return 0, fmt.Errorf("load hint: %w", err)
		}
		return 0, nil
	} else if !os.IsNotExist(err) {
		return 0, fmt.Errorf("open hint: %w", err)
	}

	return db.loadFromLog(id, f)
}

// loadFromLog scans a segment's log in file order, applying puts and
// tombstones to the directory (spec I3/I4), and returns the superseded
// bytes discovered along the way.
func (db *DB) loadFromLog(id uint64, f *os.File) (int64, error) {
	r := newReader(f)

	var useless int64
	for {
		rec, pos, err := decodeLogRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			// Best-effort terminating recovery (spec §4.2): a torn tail
			// after a crash mid-append simply ends the scan here.
			break
		}

		if rec.isTombstone() {
			if old, ok := db.index.removeReturningOld(rec.key); ok {
				useless += old.vSize + 1
			}
			continue
		}

		entry := directoryEntry{segmentID: id, vPos: pos, vSize: int64(len(rec.value))}
		if old, ok := db.index.insertReturningOld(rec.key, entry); ok {
			useless += old.vSize
		}
	}

	return useless, nil
}

// loadFromHint is the accelerated counterpart of loadFromLog: it trusts
// the hint file's recorded positions wholesale (spec I5).
func (db *DB) loadFromHint(id uint64, f *os.File) error {
	r := newReader(f)

	for {
		hr, err := decodeHintRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		db.index.insertReturningOld(hr.key, directoryEntry{
			segmentID: id,
			vPos:      hr.vPos,
			vSize:     hr.vSize,
		})
	}

	return nil
}

// warnOrphanedFiles logs (but never fails on) segment files on disk that
// the listed ids don't account for — e.g. a .hint with no matching .log
// left by a partially-applied merge rename. Grounded on the teacher's
// checkOrphanedSegments, using the same set-diff library.
func (db *DB) warnOrphanedFiles(ids []uint64) error {
	entries, err := os.ReadDir(db.dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}

	expected := mapset.NewSet[string]()
	for _, id := range ids {
		expected.Add(filepath.Base(segmentPath(db.dir, id, "log")))
		expected.Add(filepath.Base(segmentPath(db.dir, id, "hint")))
	}

	actual := mapset.NewSet[string]()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		actual.Add(e.Name())
	}

	if orphans := actual.Difference(expected); orphans.Cardinality() != 0 {
		log.Printf("bitcask: warning: orphaned segment files in %s: %v", db.dir, orphans.ToSlice())
	}

	return nil
}

func (db *DB) createActiveSegment(id uint64) error {
	w, err := newWriter(segmentPath(db.dir, id, "log"))
	if err != nil {
		return err
	}

	f, err := os.Open(segmentPath(db.dir, id, "log"))
	if err != nil {
		_ = w.close()
		return err
	}

	db.readers.install(id, f)
	db.active = w
	db.activeID = id
	db.segments = append(db.segments, id)
	return nil
}

// Close flushes and fsyncs the active segment and closes every open
// handle. It does not run a final merge.
func (db *DB) Close() error {
	db.writerMu.Lock()
	err := db.active.sync()
	db.writerMu.Unlock()
	if err != nil {
		return fmt.Errorf("sync active segment: %w", err)
	}

	if err := db.active.close(); err != nil {
		return fmt.Errorf("close active segment: %w", err)
	}

	return db.readers.closeAll()
}

// Flush flushes the active writer's buffer to the OS without fsyncing.
func (db *DB) Flush() error {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()
	return db.active.flush()
}

// Set appends key=value as a LogRecord, publishes the directory entry, and
// triggers a merge if the superseded-byte count crosses the threshold.
func (db *DB) Set(key, value string) error {
	rec := encodeLogRecord(key, []byte(value))

	pos, segID, err := db.appendRecord(rec)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}

	entry := directoryEntry{segmentID: segID, vPos: pos, vSize: int64(len(value))}
	old, hadOld := db.index.insertReturningOld(key, entry)
	if hadOld {
		db.accountSuperseded(old.vSize)
	}

	return nil
}

// Get returns the current value of key, or ok=false if the key is absent.
func (db *DB) Get(key string) (string, bool, error) {
	entry, ok := db.index.get(key)
	if !ok {
		return "", false, nil
	}

	f, ok := db.readers.get(entry.segmentID)
	if !ok {
		return "", false, internalErrorf("no reader for segment %d (key %q)", entry.segmentID, key)
	}

	buf := make([]byte, entry.vSize)
	if _, err := f.ReadAt(buf, entry.vPos-entry.vSize); err != nil {
		return "", false, fmt.Errorf("read value at segment %d offset %d: %w", entry.segmentID, entry.vPos-entry.vSize, err)
	}

	if !utf8.ValidString(string(buf)) {
		return "", false, codecError(fmt.Errorf("value for key %q is not valid UTF-8", key))
	}

	return string(buf), true, nil
}

// Remove deletes key, appending a tombstone record. It returns
// ErrKeyNotFound if the key is not currently live.
func (db *DB) Remove(key string) error {
	if !db.index.contains(key) {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}

	rec := encodeTombstone(key)
	if _, _, err := db.appendRecord(rec); err != nil {
		return fmt.Errorf("append tombstone: %w", err)
	}

	old, ok := db.index.removeReturningOld(key)
	if ok {
		db.accountSuperseded(old.vSize + 1)
	}

	return nil
}

// appendRecord appends rec to the active segment under the single append
// lock, rolling over to a new segment first if rec would overflow the
// current one, and flushing the writer after every record (spec §9 Q1,
// option (a): the directory is never published pointing at unflushed
// bytes, which Get could not see through its own file handle). With
// fsync enabled the flush is a full sync. It returns the record's v_pos
// and the segment it landed in.
func (db *DB) appendRecord(rec []byte) (pos int64, segID uint64, err error) {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()

	if db.active.pos+int64(len(rec)) > db.logFileMaxBytes {
		if err := db.rollover(); err != nil {
			return 0, 0, fmt.Errorf("rollover: %w", err)
		}
	}

	if _, err := db.active.write(rec); err != nil {
		return 0, 0, err
	}

	if db.fsync {
		if err := db.active.sync(); err != nil {
			return 0, 0, err
		}
	} else if err := db.active.flush(); err != nil {
		return 0, 0, err
	}

	return db.active.pos, db.activeID, nil
}

// rollover seals the current active segment (flushing it so every
// directory entry it already backs is durable against a process-level
// read) and opens the next one for append. Callers hold writerMu.
func (db *DB) rollover() error {
	if err := db.active.flush(); err != nil {
		return err
	}

	newID := db.activeID + 1

	w, err := newWriter(segmentPath(db.dir, newID, "log"))
	if err != nil {
		return err
	}

	f, err := os.Open(segmentPath(db.dir, newID, "log"))
	if err != nil {
		_ = w.close()
		return err
	}

	db.readers.install(newID, f)

	db.mu.Lock()
	db.activeID = newID
	db.segments = append(db.segments, newID)
	db.mu.Unlock()

	db.active = w
	return nil
}

// accountSuperseded adds n to uselessBytes and, if mergeEnabled, triggers a
// merge once the threshold is crossed. Saturating: never driven below
// zero, and concurrent adds can't overflow it in any realistic run (spec
// §9 Q3).
func (db *DB) accountSuperseded(n int64) {
	newVal := atomic.AddInt64(&db.uselessBytes, n)
	if db.mergeEnabled && newVal > db.mergeTriggerThreshold {
		db.tryMerge()
	}
}

// DiskSize returns the sum of all on-disk segment (.log and .hint) file
// sizes.
func (db *DB) DiskSize() (int64, error) {
	db.mu.RLock()
	ids := append([]uint64(nil), db.segments...)
	db.mu.RUnlock()

	var total int64
	for _, id := range ids {
		for _, ext := range []string{"log", "hint"} {
			info, err := os.Stat(segmentPath(db.dir, id, ext))
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return 0, fmt.Errorf("stat segment %d.%s: %w", id, ext, err)
			}
			total += info.Size()
		}
	}
	return total, nil
}

// MergeErrors returns the channel merge failures are reported on.
func (db *DB) MergeErrors() <-chan error { return db.mergeErr }
