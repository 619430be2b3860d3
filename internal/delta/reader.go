package delta

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/dreamware/kvfabric/internal/errkind"
	"github.com/dreamware/kvfabric/internal/logging"
)

const metaChecksumSize = 8

// RecoveryCallback is invoked when a corrupted region is skipped during a
// read. The default implementation (used when nil is passed) logs and
// continues, matching spec §4.A "default: log + continue".
type RecoveryCallback func(offset int64, err error)

func defaultRecovery(offset int64, err error) {
	logging.Warningf("delta: skipping corrupted region at byte %d: %v", offset, err)
}

// Reader reads a single delta file sequentially. It is not safe for
// concurrent use by multiple goroutines; use ConcurrentReader to fan a
// single file out across workers.
type Reader struct {
	rs        io.ReadSeeker
	meta      *FileMetadata
	dataStart int64
}

// NewReader wraps a seekable byte source as a delta Reader.
func NewReader(rs io.ReadSeeker) *Reader {
	return &Reader{rs: rs}
}

// Metadata parses and returns the file's header. It is callable once before
// record iteration begins (spec §4.A); repeated calls return the cached
// result.
func (r *Reader) Metadata() (FileMetadata, error) {
	if r.meta != nil {
		return *r.meta, nil
	}
	if _, err := r.rs.Seek(0, io.SeekStart); err != nil {
		return FileMetadata{}, errkind.Wrap(errkind.Internal, err, "seek to file start")
	}
	lenBuf, err := readExactly(r.rs, 4)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return FileMetadata{}, errkind.NotFoundf("delta: file has no metadata header")
	}
	if err != nil {
		return FileMetadata{}, errkind.Wrap(errkind.Internal, err, "read metadata length")
	}
	length := binary.BigEndian.Uint32(lenBuf)
	payload, err := readExactly(r.rs, int(length))
	if err != nil {
		return FileMetadata{}, errkind.Wrap(errkind.Internal, err, "read metadata payload")
	}
	sumBuf, err := readExactly(r.rs, metaChecksumSize)
	if err != nil {
		return FileMetadata{}, errkind.Wrap(errkind.Internal, err, "read metadata checksum")
	}
	full := append(append([]byte{}, lenBuf...), payload...)
	want := binary.BigEndian.Uint64(sumBuf)
	if xxhash.Sum64(full) != want {
		return FileMetadata{}, errkind.Internalf("delta: metadata checksum mismatch")
	}
	var meta FileMetadata
	if err := unmarshalMetadata(payload, &meta); err != nil {
		return FileMetadata{}, errkind.Wrap(errkind.Internal, err, "decode metadata")
	}
	r.meta = &meta
	pos, err := r.rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return FileMetadata{}, errkind.Wrap(errkind.Internal, err, "seek after metadata")
	}
	r.dataStart = pos
	return meta, nil
}

// ReadRecords invokes callback(record) for every record in file order.
// The callback has no error result. A record whose payload fails to
// decode is logged and skipped, and iteration continues; an I/O error on
// the underlying stream other than EOF ends iteration and is returned.
func (r *Reader) ReadRecords(callback func(Record)) error {
	if r.meta == nil {
		if _, err := r.Metadata(); err != nil {
			return err
		}
	}
	res, err := readShardRange(r.rs, r.dataStart, -1, true, callback, defaultRecovery)
	if err != nil {
		return err
	}
	_ = res
	return nil
}

// peekFrame scans forward from curPos looking for the next valid record
// frame, without consuming it from br. Bytes skipped while scanning (i.e.
// bytes that did not begin a valid, checksum-verified frame) are permanently
// discarded from br and reported via garbageBytes.
func peekFrame(br *bufio.Reader, curPos int64) (hdr frameHeader, framePos int64, payload []byte, garbageBytes int64, err error) {
	pos := curPos
	var skipped int64
	for {
		head, perr := br.Peek(headerFixedSize)
		if len(head) < headerFixedSize {
			if perr == nil {
				perr = io.EOF
			}
			return frameHeader{}, pos, nil, skipped, io.EOF
		}
		if candidate, ok := parseFixedHeader(head); ok {
			total := headerFixedSize + int(candidate.payloadLen) + checksumSize
			full, perr2 := br.Peek(total)
			if perr2 == nil && verifyChecksum(full) {
				return candidate, pos, append([]byte{}, full[headerFixedSize:headerFixedSize+int(candidate.payloadLen)]...), skipped, nil
			}
		}
		if _, derr := br.Discard(1); derr != nil {
			return frameHeader{}, pos, nil, skipped, derr
		}
		pos++
		skipped++
	}
}

func verifyChecksum(full []byte) bool {
	if len(full) < headerFixedSize+checksumSize {
		return false
	}
	body := full[4 : len(full)-checksumSize] // flags, type, length, payload
	want := binary.BigEndian.Uint64(full[len(full)-checksumSize:])
	return xxhash.Sum64(body) == want
}

// shardResult is an alias of ShardResult; nothing in this package refers
// to it.
type shardResult = ShardResult

// readShardRange reads every whole record whose start byte lies in
// [start, end) — or, when isLast is true, every record through EOF
// regardless of end — invoking callback for each and reporting corruption
// to recovery. It never consumes a record that starts at or after end
// unless isLast, so the caller can determine exactly where the next
// shard's reader should begin (spec §4.A concurrent variant).
func readShardRange(rs io.ReadSeeker, start, end int64, isLast bool, callback func(Record), recovery RecoveryCallback) (ShardResult, error) {
	if recovery == nil {
		recovery = defaultRecovery
	}
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return ShardResult{}, errkind.Wrap(errkind.Internal, err, "seek to shard start")
	}
	br := bufio.NewReaderSize(rs, 1<<20)

	pos := start
	firstRecordPos := int64(-1)
	var numRead int64

	for {
		hdr, framePos, payload, garbage, err := peekFrame(br, pos)
		if garbage > 0 {
			recovery(pos, errkind.Internalf("skipped %d byte(s) while resynchronizing", garbage))
		}
		if err == io.EOF {
			pos = framePos
			break
		}
		if err != nil {
			return ShardResult{}, errkind.Wrap(errkind.Internal, err, "resynchronize delta stream")
		}
		if !isLast && framePos >= end {
			pos = framePos
			break
		}
		if firstRecordPos == -1 {
			firstRecordPos = framePos
		}
		total := int64(headerFixedSize + len(payload) + checksumSize)
		if _, derr := br.Discard(int(total)); derr != nil {
			return ShardResult{}, errkind.Wrap(errkind.Internal, derr, "advance past record")
		}
		decoded, derr := decodeFramePayload(hdr, payload)
		if derr != nil {
			recovery(framePos, derr)
		} else if rec, derr2 := decodePayload(hdr.typ, decoded); derr2 != nil {
			recovery(framePos, derr2)
		} else {
			callback(rec)
			numRead++
		}
		pos = framePos + total
	}

	if firstRecordPos == -1 {
		firstRecordPos = pos
	}
	return ShardResult{
		FirstRecordPos:          firstRecordPos,
		NextShardFirstRecordPos: pos,
		NumRecordsRead:          numRead,
	}, nil
}
