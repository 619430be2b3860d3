package delta

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/dreamware/kvfabric/internal/errkind"
)

// Writer produces a delta file in the format Reader and ConcurrentReader
// consume. Production delta files are produced upstream of kvfabric (spec
// §1 "out of scope: the pipeline that produces delta files"); Writer exists
// so tests can build fixtures without hand-assembling frames.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteMetadata must be called exactly once, before any record is written.
func (wr *Writer) WriteMetadata(m FileMetadata) error {
	payload, err := marshalMetadata(m)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "encode metadata")
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	full := append(append([]byte{}, lenBuf[:]...), payload...)
	sum := xxhash.Sum64(full)
	var sumBuf [8]byte
	binary.BigEndian.PutUint64(sumBuf[:], sum)
	if _, err := wr.w.Write(full); err != nil {
		return err
	}
	_, err = wr.w.Write(sumBuf[:])
	return err
}

// WriteMutation appends a Mutation record.
func (wr *Writer) WriteMutation(m Mutation) error {
	return wr.writeRecord(RecordTypeMutation, Record{Type: RecordTypeMutation, Mutation: &m})
}

// WriteUDFConfig appends a UDFConfig record.
func (wr *Writer) WriteUDFConfig(c UDFConfig) error {
	return wr.writeRecord(RecordTypeUDFConfig, Record{Type: RecordTypeUDFConfig, UDFConfig: &c})
}

// WriteShardMapping appends a ShardMapping record.
func (wr *Writer) WriteShardMapping(m ShardMapping) error {
	return wr.writeRecord(RecordTypeShardMapping, Record{Type: RecordTypeShardMapping, ShardMapping: &m})
}

func (wr *Writer) writeRecord(t RecordType, r Record) error {
	buf, err := encodeFrame(t, r)
	if err != nil {
		return err
	}
	_, err = wr.w.Write(buf)
	return err
}

// WriteGarbage writes b verbatim with no frame structure, used by
// tests to exercise resynchronization.
func (wr *Writer) WriteGarbage(b []byte) error {
	_, err := wr.w.Write(b)
	return err
}
