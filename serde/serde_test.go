package serde

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoderDecoder(t *testing.T) {
	id := uuid.New()
	rack := "rack-1"

	encoder := NewEncoder()
	encoder.PutInt32(42)
	encoder.PutInt64(uint64(1) << 40)
	encoder.PutInt16(9092)
	encoder.PutInt8(7)
	encoder.PutBool(true)
	encoder.PutUUID(id)
	encoder.PutCompactString("INTERNAL")
	encoder.PutCompactNullableString(nil)
	encoder.PutCompactNullableString(&rack)
	encoder.PutCompactArrayLen(3)
	encoder.PutVarint(-5)
	encoder.PutCompactBytes([]byte{1, 2})
	encoder.EndStruct()

	decoder := NewDecoder(encoder.Bytes())
	assert.Equal(t, uint32(42), decoder.UInt32())
	assert.Equal(t, uint64(1)<<40, decoder.UInt64())
	assert.Equal(t, uint16(9092), decoder.UInt16())
	assert.Equal(t, uint8(7), decoder.UInt8())
	assert.True(t, decoder.Bool())
	assert.Equal(t, id, decoder.UUID())
	assert.Equal(t, "INTERNAL", decoder.CompactString())
	assert.Nil(t, decoder.CompactNullableString())
	got := decoder.CompactNullableString()
	require.NotNil(t, got)
	assert.Equal(t, rack, *got)
	nullArray := NewDecoder([]byte{0})
	assert.Equal(t, -1, nullArray.CompactArrayLen())
	assert.Equal(t, uint64(4), decoder.Uvarint())
	assert.Equal(t, int64(-5), decoder.Varint())
	assert.Equal(t, []byte{1, 2}, decoder.CompactBytes())
	decoder.EndStruct()
	require.NoError(t, decoder.Err())
	assert.Equal(t, 0, decoder.Remaining())
}

func TestEncoderGrowsPastIncrement(t *testing.T) {
	big := strings.Repeat("x", 3*BufferIncrement)
	encoder := NewEncoder()
	encoder.PutInt32(1)
	encoder.PutCompactString(big)

	decoder := NewDecoder(encoder.Bytes())
	assert.Equal(t, uint32(1), decoder.UInt32())
	assert.Equal(t, big, decoder.CompactString())
	require.NoError(t, decoder.Err())
}

func TestPutLen(t *testing.T) {
	encoder := NewEncoder()
	encoder.PutInt16(1)
	encoder.PutLen()
	assert.Equal(t, []byte{0, 0, 0, 2, 0, 1}, encoder.Bytes())
}

func TestDecoderUnderflow(t *testing.T) {
	decoder := NewDecoder([]byte{0, 1})
	assert.Equal(t, uint32(0), decoder.UInt32())
	require.ErrorIs(t, decoder.Err(), ErrBufferUnderflow)
	// the error is sticky
	assert.Equal(t, uint16(0), decoder.UInt16())
	assert.Equal(t, 0, decoder.Offset)

	// a string claiming more bytes than the buffer holds
	decoder = NewDecoder([]byte{10, 'a'})
	assert.Equal(t, "", decoder.CompactString())
	require.ErrorIs(t, decoder.Err(), ErrBufferUnderflow)

	// an array claiming more elements than bytes left
	decoder = NewDecoder([]byte{100})
	assert.Equal(t, 0, decoder.CompactArrayLen())
	require.ErrorIs(t, decoder.Err(), ErrBufferUnderflow)
}

func TestDecoderSkipsTaggedFields(t *testing.T) {
	encoder := NewEncoder()
	encoder.PutUvarint(2) // two tagged fields
	encoder.PutUvarint(0) // tag
	encoder.PutUvarint(2) // size
	encoder.PutBytes([]byte{9, 9})
	encoder.PutUvarint(5)
	encoder.PutUvarint(1)
	encoder.PutBytes([]byte{7})
	encoder.PutInt8(1)

	decoder := NewDecoder(encoder.Bytes())
	decoder.EndStruct()
	require.NoError(t, decoder.Err())
	assert.Equal(t, uint8(1), decoder.UInt8())
}

func TestDecoderRejectsHugeLengths(t *testing.T) {
	decoder := NewDecoder([]byte{1, 2, 3})
	decoder.Offset = 1
	assert.Nil(t, decoder.GetNBytes(int(^uint(0)>>1)))
	require.ErrorIs(t, decoder.Err(), ErrBufferUnderflow)
	assert.Equal(t, 1, decoder.Offset)

	// a compact string whose length wraps around int
	encoder := NewEncoder()
	encoder.PutUvarint(1<<64 - 1)
	decoder = NewDecoder(encoder.Bytes())
	assert.Equal(t, "", decoder.CompactString())
	require.ErrorIs(t, decoder.Err(), ErrBufferUnderflow)

	encoder = NewEncoder()
	encoder.PutUvarint(1)
	encoder.PutUvarint(0)
	encoder.PutUvarint(1<<63 - 1)
	decoder = NewDecoder(encoder.Bytes())
	decoder.EndStruct()
	require.ErrorIs(t, decoder.Err(), ErrBufferUnderflow)
}
