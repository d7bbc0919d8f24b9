package serde

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Encoding is Big Endian as per the protocol
var Encoding = binary.BigEndian

// ErrBufferUnderflow is returned when a decoder runs past the end of its buffer
var ErrBufferUnderflow = errors.New("buffer underflow")

// Encoder is a byte slice with an offset
type Encoder struct {
	b      []byte // Buffer to hold encoded data
	offset int    // Current position in the buffer
}

// BufferIncrement is the size of increment when buffer limit is reached
const BufferIncrement = 4096

// NewEncoder creates a new Encoder with an initial buffer
func NewEncoder() Encoder {
	return Encoder{b: make([]byte, BufferIncrement)}
}

// ensureBufferSpace ensures the buffer has enough space to accommodate the new data
func (e *Encoder) ensureBufferSpace(off int) {
	if off+e.offset <= len(e.b) {
		return
	}
	size := len(e.b) + BufferIncrement
	for off+e.offset > size {
		size += BufferIncrement
	}
	newBuffer := make([]byte, size)
	copy(newBuffer, e.b[:e.offset])
	e.b = newBuffer
}

// PutInt32 encodes a uint32 value into the buffer
func (e *Encoder) PutInt32(i uint32) {
	e.ensureBufferSpace(4)
	Encoding.PutUint32(e.b[e.offset:], i)
	e.offset += 4
}

// PutInt64 encodes a uint64 value into the buffer
func (e *Encoder) PutInt64(i uint64) {
	e.ensureBufferSpace(8)
	Encoding.PutUint64(e.b[e.offset:], i)
	e.offset += 8
}

// PutInt16 encodes a uint16 value into the buffer
func (e *Encoder) PutInt16(i uint16) {
	e.ensureBufferSpace(2)
	Encoding.PutUint16(e.b[e.offset:], i)
	e.offset += 2
}

// PutInt8 encodes a uint8 value into the buffer
func (e *Encoder) PutInt8(i uint8) {
	e.ensureBufferSpace(1)
	e.b[e.offset] = byte(i)
	e.offset++
}

// PutBool encodes a boolean value into the buffer
func (e *Encoder) PutBool(b bool) {
	e.ensureBufferSpace(1)
	e.b[e.offset] = byte(0)
	if b {
		e.b[e.offset] = byte(1)
	}
	e.offset++
}

// PutUUID encodes a 16-byte UUID
func (e *Encoder) PutUUID(id uuid.UUID) {
	e.PutBytes(id[:])
}

// PutUvarint encodes a value as an unsigned varint
func (e *Encoder) PutUvarint(v uint64) {
	e.ensureBufferSpace(binary.MaxVarintLen64)
	e.offset += binary.PutUvarint(e.b[e.offset:], v)
}

// PutVarint encodes a value as a signed varint
func (e *Encoder) PutVarint(v int64) {
	e.ensureBufferSpace(binary.MaxVarintLen64)
	e.offset += binary.PutVarint(e.b[e.offset:], v)
}

// PutCompactString encodes a string using a compressed length format
func (e *Encoder) PutCompactString(s string) {
	e.PutUvarint(uint64(len(s) + 1))
	e.ensureBufferSpace(len(s))
	copy(e.b[e.offset:], s)
	e.offset += len(s)
}

// PutCompactNullableString encodes a nullable string. nil is written as length 0.
func (e *Encoder) PutCompactNullableString(s *string) {
	if s == nil {
		e.PutUvarint(0)
		return
	}
	e.PutCompactString(*s)
}

// PutBytes encodes a byte slice into the buffer
func (e *Encoder) PutBytes(b []byte) {
	e.ensureBufferSpace(len(b))
	copy(e.b[e.offset:], b)
	e.offset += len(b)
}

// PutCompactBytes encodes a byte slice using a compressed length format
func (e *Encoder) PutCompactBytes(b []byte) {
	e.PutUvarint(uint64(len(b) + 1))
	e.PutBytes(b)
}

// PutCompactArrayLen encodes the length of a compact array
func (e *Encoder) PutCompactArrayLen(l int) {
	e.PutUvarint(uint64(l + 1))
}

// PutLen encodes the total length of the buffer at the start
func (e *Encoder) PutLen() {
	lengthBytes := Encoding.AppendUint32([]byte{}, uint32(e.offset))
	e.b = slices.Insert(e.b[:e.offset], 0, lengthBytes...)
	e.offset += len(lengthBytes)
}

// EndStruct marks the end of a structure (empty tagged fields, KIP-482)
func (e *Encoder) EndStruct() {
	e.PutUvarint(0)
}

// Bytes returns the encoded data as a byte slice
func (e *Encoder) Bytes() []byte {
	return e.b[:e.offset]
}

// Decoder is a byte slice and offset. Reads past the end of the buffer
// return zero values and make Err return ErrBufferUnderflow.
type Decoder struct {
	b      []byte
	Offset int
	err    error
}

// NewDecoder creates a new Decoder from a byte slice
func NewDecoder(b []byte) Decoder {
	return Decoder{b: b}
}

// Err returns the first error encountered while decoding
func (d *Decoder) Err() error {
	return d.err
}

// Remaining returns the number of bytes left to decode
func (d *Decoder) Remaining() int {
	return len(d.b) - d.Offset
}

// Fail records err unless an earlier error was already recorded
func (d *Decoder) Fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Decoder) has(n int) bool {
	if d.err != nil {
		return false
	}
	if n < 0 || n > d.Remaining() {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrBufferUnderflow, n, d.Offset, d.Remaining())
		return false
	}
	return true
}

// UInt32 decodes a uint32 value from the buffer
func (d *Decoder) UInt32() uint32 {
	if !d.has(4) {
		return 0
	}
	res := Encoding.Uint32(d.b[d.Offset:])
	d.Offset += 4
	return res
}

// UInt64 decodes a uint64 value from the buffer
func (d *Decoder) UInt64() uint64 {
	if !d.has(8) {
		return 0
	}
	res := Encoding.Uint64(d.b[d.Offset:])
	d.Offset += 8
	return res
}

// UInt16 decodes a uint16 value from the buffer
func (d *Decoder) UInt16() uint16 {
	if !d.has(2) {
		return 0
	}
	res := Encoding.Uint16(d.b[d.Offset:])
	d.Offset += 2
	return res
}

// UInt8 decodes a uint8 value from the buffer
func (d *Decoder) UInt8() uint8 {
	if !d.has(1) {
		return 0
	}
	res := uint8(d.b[d.Offset])
	d.Offset++
	return res
}

// Bool decodes a boolean value from the buffer
func (d *Decoder) Bool() bool {
	return d.UInt8() > 0
}

// UUID decodes a 16-byte UUID from the buffer
func (d *Decoder) UUID() uuid.UUID {
	if !d.has(16) {
		return uuid.Nil
	}
	var id uuid.UUID
	copy(id[:], d.b[d.Offset:d.Offset+16])
	d.Offset += 16
	return id
}

// Uvarint decodes an unsigned varint
func (d *Decoder) Uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.b[d.Offset:])
	if n <= 0 {
		d.Fail(fmt.Errorf("%w: malformed uvarint at offset %d", ErrBufferUnderflow, d.Offset))
		return 0
	}
	d.Offset += n
	return v
}

// Varint decodes a signed varint
func (d *Decoder) Varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.b[d.Offset:])
	if n <= 0 {
		d.Fail(fmt.Errorf("%w: malformed varint at offset %d", ErrBufferUnderflow, d.Offset))
		return 0
	}
	d.Offset += n
	return v
}

// CompactNullableString decodes a nullable compact string. Length 0 means null.
func (d *Decoder) CompactNullableString() *string {
	l := d.Uvarint()
	if l == 0 {
		return nil
	}
	s := string(d.GetNBytes(int(l - 1)))
	return &s
}

// CompactString decodes a string with a compact format. A null string decodes as "".
func (d *Decoder) CompactString() string {
	if s := d.CompactNullableString(); s != nil {
		return *s
	}
	return ""
}

// CompactBytes decodes a byte slice with a compressed length format
func (d *Decoder) CompactBytes() []byte {
	l := d.Uvarint()
	if l == 0 {
		return nil
	}
	return d.GetNBytes(int(l - 1))
}

// GetNBytes decodes `n` bytes from the buffer
func (d *Decoder) GetNBytes(n int) []byte {
	if !d.has(n) {
		return nil
	}
	res := d.b[d.Offset : d.Offset+n]
	d.Offset += n
	return res
}

// CompactArrayLen decodes the length of a compact array, -1 for a null array
func (d *Decoder) CompactArrayLen() int {
	l := d.Uvarint()
	if l == 0 {
		return -1
	}
	if l-1 > uint64(d.Remaining()) {
		// every element takes at least one byte
		d.Fail(fmt.Errorf("%w: array of %d elements at offset %d", ErrBufferUnderflow, l-1, d.Offset))
		return 0
	}
	return int(l - 1)
}

// EndStruct skips the tagged fields closing a structure (KIP-482).
// Unknown tags are ignored.
func (d *Decoder) EndStruct() {
	numTaggedFields := d.Uvarint()
	for i := uint64(0); i < numTaggedFields && d.err == nil; i++ {
		d.Uvarint() // tag
		size := d.Uvarint()
		if size > uint64(d.Remaining()) {
			d.Fail(fmt.Errorf("%w: tagged field of %d bytes at offset %d", ErrBufferUnderflow, size, d.Offset))
			return
		}
		d.GetNBytes(int(size))
	}
}
