// Package delta implements the on-disk record format that drives cache
// ingestion (spec §3 "Delta file", §4.A "Delta Record Reader"): a seekable,
// self-describing stream of immutable Mutation, UdfConfig, and ShardMapping
// records, framed so that corrupted regions can be skipped without
// aborting the whole file and so that a single file can be read
// concurrently by splitting it into byte-range shards.
//
// The framing is grounded on cockroachdb-pebble's record package (record/
// record.go): a fixed-size header carrying a length and an xxhash64
// checksum over the payload, with a 4-byte magic used to resynchronize a
// reader that lands mid-record after seeking to an arbitrary byte offset —
// pebble's own log recycling/recovery code performs the analogous
// resynchronization when a log segment is reused. Large payloads are
// snappy-compressed (github.com/golang/snappy, also present in pebble's
// dependency graph) the way a real columnar delta producer would compress
// value blocks.
package delta

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"

	"github.com/dreamware/kvfabric/internal/errkind"
)

// RecordType tags the sum-type payload of a delta record (spec §3
// "Record schema is an extensible sum type").
type RecordType uint8

const (
	RecordTypeInvalid RecordType = iota
	RecordTypeMutation
	RecordTypeUDFConfig
	RecordTypeShardMapping
)

// recordMagic prefixes every record so a reader that seeks to an arbitrary
// byte offset (as concurrent shard reads must) can resynchronize onto a
// record boundary by scanning for this pattern and verifying the checksum
// that follows it.
var recordMagic = [4]byte{0xDE, 0x17, 0xA0, 0x51}

// compressThreshold is the payload size above which a record is
// snappy-compressed on write.
const compressThreshold = 256

const (
	flagCompressed = 1 << 0
)

// header layout, all fixed-width fields following recordMagic:
//
//	magic(4) | flags(1) | type(1) | payloadLen(4) | payload(N) | checksum(8)
const headerFixedSize = 4 + 1 + 1 + 4
const checksumSize = 8

// Op distinguishes Update from Delete for a Mutation record (spec §3).
type Op uint8

const (
	OpUpdate Op = iota
	OpDelete
)

// Mutation is the wire shape of a KVMutation record.
type Mutation struct {
	Key      string   `json:"key"`
	Value    []byte   `json:"value,omitempty"`
	SetValue []string `json:"set_value,omitempty"`
	LCT      int64    `json:"lct"`
	Op       Op       `json:"op"`
	IsSet    bool     `json:"is_set"`
}

// UDFConfig is the wire shape of a UdfConfig record (spec §3 "UDF code object").
type UDFConfig struct {
	HandlerName string `json:"handler_name"`
	Source      string `json:"source"`
	WasmBlob    []byte `json:"wasm_blob,omitempty"`
	Version     string `json:"version"`
	LCT         int64  `json:"lct"`
}

// ShardMapping is the wire shape of a ShardMapping record (spec §3).
type ShardMapping struct {
	LogicalShard  int      `json:"logical_shard"`
	PhysicalShard string   `json:"physical_shard"`
	Replicas      []string `json:"replicas,omitempty"`
}

// Record is one decoded delta record, tagged by Type with exactly one of
// the payload fields populated.
type Record struct {
	Mutation     *Mutation
	UDFConfig    *UDFConfig
	ShardMapping *ShardMapping
	Type         RecordType
}

// FileMetadata is the per-file header (spec §3 "metadata header").
type FileMetadata struct {
	ShardID     int32 `json:"shard_id"`
	MinLCT      int64 `json:"min_lct"`
	MaxLCT      int64 `json:"max_lct"`
	RecordCount int64 `json:"record_count"`
}

func encodePayload(t RecordType, r Record) ([]byte, error) {
	switch t {
	case RecordTypeMutation:
		return json.Marshal(r.Mutation)
	case RecordTypeUDFConfig:
		return json.Marshal(r.UDFConfig)
	case RecordTypeShardMapping:
		return json.Marshal(r.ShardMapping)
	default:
		return nil, errkind.Internalf("delta: unknown record type %d", t)
	}
}

func decodePayload(t RecordType, payload []byte) (Record, error) {
	switch t {
	case RecordTypeMutation:
		var m Mutation
		if err := json.Unmarshal(payload, &m); err != nil {
			return Record{}, errkind.Wrap(errkind.Internal, err, "decode mutation record")
		}
		return Record{Type: t, Mutation: &m}, nil
	case RecordTypeUDFConfig:
		var c UDFConfig
		if err := json.Unmarshal(payload, &c); err != nil {
			return Record{}, errkind.Wrap(errkind.Internal, err, "decode udf config record")
		}
		return Record{Type: t, UDFConfig: &c}, nil
	case RecordTypeShardMapping:
		var m ShardMapping
		if err := json.Unmarshal(payload, &m); err != nil {
			return Record{}, errkind.Wrap(errkind.Internal, err, "decode shard mapping record")
		}
		return Record{Type: t, ShardMapping: &m}, nil
	default:
		return Record{}, errkind.Internalf("delta: unknown record type %d in stream", t)
	}
}

// encodeFrame serializes one record into its on-disk framed form.
func encodeFrame(t RecordType, r Record) ([]byte, error) {
	payload, err := encodePayload(t, r)
	if err != nil {
		return nil, err
	}

	flags := byte(0)
	if len(payload) > compressThreshold {
		compressed := snappy.Encode(nil, payload)
		if len(compressed) < len(payload) {
			payload = compressed
			flags |= flagCompressed
		}
	}

	buf := make([]byte, 0, headerFixedSize+len(payload)+checksumSize)
	buf = append(buf, recordMagic[:]...)
	buf = append(buf, flags, byte(t))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)

	sum := xxhash.Sum64(buf[4:]) // checksum covers flags, type, length, payload
	var sumBuf [8]byte
	binary.BigEndian.PutUint64(sumBuf[:], sum)
	buf = append(buf, sumBuf[:]...)
	return buf, nil
}

// frameHeader is the parsed fixed-size portion of a frame, used both by
// sequential decoding and by resynchronization scanning.
type frameHeader struct {
	flags      byte
	typ        RecordType
	payloadLen uint32
}

func parseFixedHeader(b []byte) (frameHeader, bool) {
	if len(b) < headerFixedSize || b[0] != recordMagic[0] || b[1] != recordMagic[1] || b[2] != recordMagic[2] || b[3] != recordMagic[3] {
		return frameHeader{}, false
	}
	return frameHeader{
		flags:      b[4],
		typ:        RecordType(b[5]),
		payloadLen: binary.BigEndian.Uint32(b[6:10]),
	}, true
}

func decodeFramePayload(h frameHeader, payload []byte) ([]byte, error) {
	if h.flags&flagCompressed != 0 {
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, err, "snappy decompress delta record")
		}
		return out, nil
	}
	return payload, nil
}

func readExactly(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	return buf, err
}

func marshalMetadata(m FileMetadata) ([]byte, error) {
	return json.Marshal(m)
}

func unmarshalMetadata(b []byte, m *FileMetadata) error {
	return json.Unmarshal(b, m)
}
