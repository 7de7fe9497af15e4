package bitcask

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

// tryMerge acquires the one-slot merge semaphore with a non-blocking send
// and, if successful, runs merge on a new goroutine. A merge already in
// flight means this trigger is simply dropped, not queued; bytes the
// in-flight merge does not reclaim stay counted in uselessBytes, so a
// later Set or Remove that finds the counter still over the threshold
// triggers the next merge.
func (db *DB) tryMerge() {
	select {
	case db.mergeSem <- struct{}{}:
		go func() {
			defer func() { <-db.mergeSem }()
			if err := db.merge(); err != nil {
				select {
				case db.mergeErr <- err:
				default:
				}
			}
		}()
	default:
	}
}

// mergeOutput accumulates the new segments written during a merge pass, so
// they can all be cleaned up together on failure.
type mergeOutput struct {
	ids []uint64
}

// merge rewrites every sealed (non-active) segment into a fresh,
// hint-indexed run starting at id 0, keeping only each key's live record,
// then atomically swaps the results in. It never touches the active
// segment, so concurrent appends proceed undisturbed throughout.
func (db *DB) merge() (rerr error) {
	db.mu.RLock()
	toMerge := append([]uint64(nil), db.segments[:len(db.segments)-1]...)
	db.mu.RUnlock()

	db.onMergeStart()

	if len(toMerge) == 0 {
		return nil
	}

	out := &mergeOutput{}

	defer func() {
		if rerr != nil {
			db.abortMerge(out)
		}
	}()

	mergedID := uint64(0)
	logW, hintW, err := openMergePair(db.dir, mergedID)
	if err != nil {
		return fmt.Errorf("open merge pair 0: %w", err)
	}
	out.ids = append(out.ids, mergedID)

	for _, segID := range toMerge {
		f, err := os.Open(segmentPath(db.dir, segID, "log"))
		if err != nil {
			return fmt.Errorf("open segment %d for merge: %w", segID, err)
		}

		r := newReader(f)
		for {
			rec, pos, derr := decodeLogRecord(r)
			if derr == io.EOF {
				break
			}
			if derr != nil {
				// A torn tail can only exist on the active segment, which
				// is never a merge input; treat any truncation here the
				// same way recovery does — stop at the last clean record.
				break
			}

			entry, live := db.index.get(rec.key)
			switch {
			case !live:
				// Tombstoned since this log was written.
				db.saturatingSubUseless(1)
				continue
			case entry.segmentID != segID || entry.vPos != pos:
				// Superseded by a later write.
				db.saturatingSubUseless(int64(len(rec.value)))
				continue
			}

			buf := encodeLogRecord(rec.key, rec.value)
			if logW.pos+int64(len(buf)) > db.logFileMaxBytes {
				if err := logW.sync(); err != nil {
					_ = f.Close()
					return fmt.Errorf("sync merge log %d: %w", mergedID, err)
				}
				if err := hintW.sync(); err != nil {
					_ = f.Close()
					return fmt.Errorf("sync merge hint %d: %w", mergedID, err)
				}

				mergedID++
				logW, hintW, err = openMergePair(db.dir, mergedID)
				if err != nil {
					_ = f.Close()
					return fmt.Errorf("open merge pair %d: %w", mergedID, err)
				}
				out.ids = append(out.ids, mergedID)
			}

			if _, err := logW.write(buf); err != nil {
				_ = f.Close()
				return fmt.Errorf("write merge log %d: %w", mergedID, err)
			}

			hintBuf := encodeHintRecord(rec.key, logW.pos, int64(len(rec.value)))
			if _, err := hintW.write(hintBuf); err != nil {
				_ = f.Close()
				return fmt.Errorf("write merge hint %d: %w", mergedID, err)
			}
		}

		if err := f.Close(); err != nil {
			return fmt.Errorf("close segment %d after merge scan: %w", segID, err)
		}
	}

	if err := logW.sync(); err != nil {
		return fmt.Errorf("sync final merge log %d: %w", mergedID, err)
	}
	if err := hintW.sync(); err != nil {
		return fmt.Errorf("sync final merge hint %d: %w", mergedID, err)
	}
	if err := logW.close(); err != nil {
		return fmt.Errorf("close final merge log %d: %w", mergedID, err)
	}
	if err := hintW.close(); err != nil {
		return fmt.Errorf("close final merge hint %d: %w", mergedID, err)
	}

	// Install new readers and load hint files before deleting old ones or
	// evicting old readers, so a concurrent Get for a continuously-live
	// key never observes neither the old nor the new location (spec §5).
	for _, mid := range out.ids {
		if err := os.Rename(segmentPath(db.dir, mid, "log.temp"), segmentPath(db.dir, mid, "log")); err != nil {
			return fmt.Errorf("rename merged log %d: %w", mid, err)
		}
		if err := os.Rename(segmentPath(db.dir, mid, "hint.temp"), segmentPath(db.dir, mid, "hint")); err != nil {
			return fmt.Errorf("rename merged hint %d: %w", mid, err)
		}

		f, err := os.Open(segmentPath(db.dir, mid, "log"))
		if err != nil {
			return fmt.Errorf("open merged log %d: %w", mid, err)
		}
		// mid can collide with an id still in toMerge (merge output is
		// renumbered from 0, not disjoint from its inputs), so the
		// rename above already replaced that segment's file in place.
		// Close whatever reader was cached for it under the old file
		// rather than leaking it; the final cleanup loop below must
		// not also evict/remove this id.
		if old, hadOld := db.readers.install(mid, f); hadOld {
			if err := old.Close(); err != nil {
				log.Printf("bitcask: close displaced reader for segment %d: %v", mid, err)
			}
		}

		hf, err := os.Open(segmentPath(db.dir, mid, "hint"))
		if err != nil {
			return fmt.Errorf("open merged hint %d: %w", mid, err)
		}
		if err := db.loadFromHint(mid, hf); err != nil {
			_ = hf.Close()
			return fmt.Errorf("load merged hint %d: %w", mid, err)
		}
		_ = hf.Close()
	}

	db.mu.Lock()
	rest := db.segments[len(toMerge):]
	db.segments = append(append([]uint64(nil), out.ids...), rest...)
	db.mu.Unlock()

	reused := make(map[uint64]bool, len(out.ids))
	for _, id := range out.ids {
		reused[id] = true
	}

	for _, id := range toMerge {
		if reused[id] {
			// This id was reassigned to a merged segment above: its
			// reader and file were already replaced in place by the
			// rename/install step, not superseded by a separate file.
			continue
		}
		if err := db.readers.evict(id); err != nil {
			log.Printf("bitcask: close old segment %d after merge: %v", id, err)
		}
		if err := os.Remove(segmentPath(db.dir, id, "log")); err != nil {
			log.Printf("bitcask: remove old segment %d after merge: %v", id, err)
		}
	}

	return nil
}

// saturatingSubUseless decrements uselessBytes by n without driving it
// below zero. A concurrent put to a key also being merged can otherwise
// cause merge to double-discredit bytes that a racing Set already
// accounted for via accountSuperseded (spec §9 Q3).
func (db *DB) saturatingSubUseless(n int64) {
	for {
		cur := atomic.LoadInt64(&db.uselessBytes)
		next := cur - n
		if next < 0 {
			next = 0
		}
		if atomic.CompareAndSwapInt64(&db.uselessBytes, cur, next) {
			return
		}
	}
}

func openMergePair(dir string, id uint64) (*writer, *writer, error) {
	logW, err := newWriter(segmentPath(dir, id, "log.temp"))
	if err != nil {
		return nil, nil, err
	}

	hintW, err := newWriter(segmentPath(dir, id, "hint.temp"))
	if err != nil {
		_ = logW.close()
		return nil, nil, err
	}

	return logW, hintW, nil
}

// abortMerge removes every *.temp file this merge attempt produced. Errors
// are logged, not returned: we're already unwinding from a failure.
func (db *DB) abortMerge(out *mergeOutput) {
	for _, id := range out.ids {
		for _, ext := range []string{"log.temp", "hint.temp"} {
			if err := os.Remove(segmentPath(db.dir, id, ext)); err != nil && !os.IsNotExist(err) {
				log.Printf("bitcask: abort merge cleanup %d.%s: %v", id, ext, err)
			}
		}
	}
}
