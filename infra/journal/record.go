package journal

import "time"

// Kind discriminates what a record's payload means. The journal itself
// treats it as opaque; the service defines the values.
type Kind uint8

// Record is one journaled operation: the kind, the sequence assigned by
// the service, the wall-clock append time, and the payload. Only
// operations that applied successfully are journaled, so replaying
// every record in order reproduces the exact region state.
type Record struct {
	Kind Kind
	Seq  uint64
	Time int64
	Data []byte
}

// NewRecord stamps a record with the current time.
func NewRecord(kind Kind, seq uint64, data []byte) *Record {
	return &Record{
		Kind: kind,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}
