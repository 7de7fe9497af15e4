package bitcask

import (
	"encoding/binary"
	"io"
)

// deletedCode is the sole byte of a tombstone value.
const deletedCode = 0xFF

// logRecord is the on-disk unit of a write: a key and its value (or a
// one-byte tombstone marking the key deleted).
//
// Wire shape: u64_be(k_size) || u64_be(v_size) || key || value.
type logRecord struct {
	key   string
	value []byte
}

func (r logRecord) isTombstone() bool {
	return len(r.value) == 1 && r.value[0] == deletedCode
}

func encodeLogRecord(key string, value []byte) []byte {
	buf := make([]byte, 16+len(key)+len(value))
	binary.BigEndian.PutUint64(buf[0:8], uint64(len(key)))
	binary.BigEndian.PutUint64(buf[8:16], uint64(len(value)))
	copy(buf[16:], key)
	copy(buf[16+len(key):], value)
	return buf
}

func encodeTombstone(key string) []byte {
	return encodeLogRecord(key, []byte{deletedCode})
}

// decodeLogRecord reads one logRecord from r, returning it along with the
// reader's absolute position immediately after the value bytes (v_pos).
// A clean end-of-segment (no bytes at all before the k_size field) reports
// io.EOF so scanning can stop without error. Any other truncation — the
// hallmark of a torn tail left by a crash mid-append — also stops the
// scan, but by returning io.ErrUnexpectedEOF so the caller can distinguish
// "nothing more to read" from "best-effort terminated early".
func decodeLogRecord(r *reader) (logRecord, int64, error) {
	kSize, err := r.readU64()
	if err != nil {
		return logRecord{}, 0, err
	}

	vSize, err := r.readU64()
	if err != nil {
		return logRecord{}, 0, io.ErrUnexpectedEOF
	}

	key := make([]byte, kSize)
	if err := r.readFull(key); err != nil {
		return logRecord{}, 0, io.ErrUnexpectedEOF
	}

	value := make([]byte, vSize)
	if err := r.readFull(value); err != nil {
		return logRecord{}, 0, io.ErrUnexpectedEOF
	}

	return logRecord{key: string(key), value: value}, r.pos, nil
}

// hintRecord is the on-disk unit of a compacted index entry, produced only
// by merge. v_pos follows the same one-past-end-of-value convention as a
// directoryEntry.
//
// Wire shape: u64_be(k_size) || u64_be(v_size) || u64_be(v_pos) || key.
type hintRecord struct {
	key   string
	vPos  int64
	vSize int64
}

func encodeHintRecord(key string, vPos, vSize int64) []byte {
	buf := make([]byte, 24+len(key))
	binary.BigEndian.PutUint64(buf[0:8], uint64(len(key)))
	binary.BigEndian.PutUint64(buf[8:16], uint64(vSize))
	binary.BigEndian.PutUint64(buf[16:24], uint64(vPos))
	copy(buf[24:], key)
	return buf
}

// decodeHintRecord is the symmetric partner of decodeLogRecord: a clean
// EOF at the first field returns io.EOF, any other truncation
// io.ErrUnexpectedEOF.
func decodeHintRecord(r *reader) (hintRecord, error) {
	kSize, err := r.readU64()
	if err != nil {
		return hintRecord{}, err
	}

	vSize, err := r.readU64()
	if err != nil {
		return hintRecord{}, io.ErrUnexpectedEOF
	}

	vPos, err := r.readU64()
	if err != nil {
		return hintRecord{}, io.ErrUnexpectedEOF
	}

	key := make([]byte, kSize)
	if err := r.readFull(key); err != nil {
		return hintRecord{}, io.ErrUnexpectedEOF
	}

	return hintRecord{key: string(key), vPos: int64(vPos), vSize: int64(vSize)}, nil
}
