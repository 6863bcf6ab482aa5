package schema

// SchemaVersion is the current record schema version.
const SchemaVersion uint16 = 1

// RecordKind defines the category of an append-only audit record.
type RecordKind uint16

const (
	RecordUnknown RecordKind = iota
	RecordSignal
	RecordDecision
	RecordRejection
	RecordOrder
	RecordFill
	RecordPosition
	RecordBreaker
	RecordAnomaly
)

var recordKindNames = [...]string{
	RecordUnknown:   "unknown",
	RecordSignal:    "signal",
	RecordDecision:  "decision",
	RecordRejection: "rejection",
	RecordOrder:     "order",
	RecordFill:      "fill",
	RecordPosition:  "position",
	RecordBreaker:   "breaker",
	RecordAnomaly:   "anomaly",
}

func (k RecordKind) String() string {
	if int(k) < len(recordKindNames) {
		return recordKindNames[k]
	}
	return recordKindNames[RecordUnknown]
}

// RecordHeader is the common metadata attached to every audit record.
type RecordHeader struct {
	Kind    RecordKind
	Version uint16
	Seq     uint64
	Time    int64
}

// NewHeader builds a header with the current schema version.
func NewHeader(kind RecordKind, seq uint64, ts int64) RecordHeader {
	return RecordHeader{
		Kind:    kind,
		Version: SchemaVersion,
		Seq:     seq,
		Time:    ts,
	}
}
