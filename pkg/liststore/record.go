package liststore

import (
	"encoding/binary"
	"fmt"
)

// Record is the capability a fixed-size storable record must satisfy.
// MarshalRecord fills buf, whose length is exactly the factory's
// RecordSize.
type Record interface {
	MarshalRecord(buf []byte) error
}

// RecordFactory produces records of one fixed size from their serialized
// form. It parameterizes the list and metadata stores over any record type.
type RecordFactory[R Record] interface {
	// RecordSize returns the fixed serialized size in bytes
	RecordSize() int
	// UnmarshalRecord decodes one record from buf (len == RecordSize)
	UnmarshalRecord(buf []byte) (R, error)
}

// Int32Record is a 4-byte integer record, the smallest useful record type
type Int32Record int32

// MarshalRecord encodes the value big-endian into buf
func (r Int32Record) MarshalRecord(buf []byte) error {
	if len(buf) != 4 {
		return fmt.Errorf("int32 record needs 4 bytes, got %d", len(buf))
	}
	binary.BigEndian.PutUint32(buf, uint32(r))
	return nil
}

// Int32Factory produces Int32Records
type Int32Factory struct{}

// RecordSize returns 4
func (Int32Factory) RecordSize() int { return 4 }

// UnmarshalRecord decodes one big-endian int32
func (Int32Factory) UnmarshalRecord(buf []byte) (Int32Record, error) {
	if len(buf) != 4 {
		return 0, fmt.Errorf("int32 record needs 4 bytes, got %d", len(buf))
	}
	return Int32Record(int32(binary.BigEndian.Uint32(buf))), nil
}
