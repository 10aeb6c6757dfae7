package store

import (
	"errors"
	"time"
)

// RecordType names the role of a zone and of the records it holds.
type RecordType int

const (
	// TypeDump holds one crash dump per zone, rotating across slots.
	TypeDump RecordType = iota
	// TypeConsole is a single ring of console output.
	TypeConsole
	// TypeTrace holds fixed-stride trace records, sharded per producer.
	TypeTrace
	// TypeMsg is the externally sourced message ring.
	TypeMsg
)

func (t RecordType) String() string {
	switch t {
	case TypeDump:
		return "dump"
	case TypeConsole:
		return "console"
	case TypeTrace:
		return "trace"
	case TypeMsg:
		return "msg"
	default:
		return "unknown"
	}
}

// ParseRecordType maps the textual form back to a RecordType.
func ParseRecordType(s string) (RecordType, error) {
	switch s {
	case "dump":
		return TypeDump, nil
	case "console":
		return TypeConsole, nil
	case "trace":
		return TypeTrace, nil
	case "msg":
		return TypeMsg, nil
	}
	return 0, ErrBadType
}

// TraceRecordStride is the fixed byte length of one trace record: a
// little-endian u64 timestamp followed by two u64 code locations. The
// merge of trace shards orders records by that leading timestamp.
const TraceRecordStride = 24

// Record is one unit handed out by the read path or accepted by Write.
type Record struct {
	Type     RecordType
	Instance int // zone index within the type: dump slot or trace shard

	// Part sequences multi-part dumps at the source. Only the first
	// part is stored; later parts are rejected.
	Part int

	Time       time.Time
	Compressed bool
	Payload    []byte

	// Notice is the redundancy summary for the zones this record came
	// from, empty when redundancy is disabled.
	Notice string
}

var (
	// ErrClosed is returned once the store has been closed.
	ErrClosed = errors.New("store: store closed")

	// ErrNoSession is returned by Read outside an open read session.
	ErrNoSession = errors.New("store: no open read session")

	// ErrSessionActive is returned by OpenSession while a session is
	// already open.
	ErrSessionActive = errors.New("store: read session already open")

	// ErrBadType marks a record type the store does not know.
	ErrBadType = errors.New("store: unknown record type")

	// ErrNoZone is returned when the region was carved without any zone
	// of the requested type, or the instance is out of range.
	ErrNoZone = errors.New("store: no zone for record type")

	// ErrMultiPart rejects dump parts past the first: each dump slot
	// holds exactly one part.
	ErrMultiPart = errors.New("store: only the first dump part is stored")

	// ErrExternalOnly rejects message payloads sent through Write;
	// the message ring accepts bytes only via WriteFrom.
	ErrExternalOnly = errors.New("store: message records are written via WriteFrom")
)
