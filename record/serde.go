package record

import (
	"fmt"

	"github.com/CefBoud/monkafka-registry/serde"
)

// frameVersion is the version of the metadata record frame itself
const frameVersion = 1

// Write frames a record for the metadata log:
// uvarint frame version | uvarint api key | uvarint record version | record body
func Write(m ApiMessageAndVersion) ([]byte, error) {
	encoder := serde.NewEncoder()
	encoder.PutUvarint(frameVersion)
	encoder.PutUvarint(uint64(m.Message.APIKey()))
	encoder.PutUvarint(uint64(m.Version))
	if err := m.Message.Write(&encoder, m.Version); err != nil {
		return nil, err
	}
	return encoder.Bytes(), nil
}

// Read parses a frame produced by Write
func Read(b []byte) (ApiMessageAndVersion, error) {
	decoder := serde.NewDecoder(b)
	fv := decoder.Uvarint()
	apiKey := decoder.Uvarint()
	version := decoder.Uvarint()
	if err := decoder.Err(); err != nil {
		return ApiMessageAndVersion{}, fmt.Errorf("could not read record frame: %w", err)
	}
	if fv != frameVersion {
		return ApiMessageAndVersion{}, fmt.Errorf("%w: frame version %d", ErrUnsupportedVersion, fv)
	}
	if apiKey > 1<<15-1 || version > 1<<15-1 {
		return ApiMessageAndVersion{}, fmt.Errorf("%w: api key %d version %d", ErrUnknownRecordType, apiKey, version)
	}
	m, err := NewMessage(int16(apiKey))
	if err != nil {
		return ApiMessageAndVersion{}, err
	}
	if err := m.Read(&decoder, int16(version)); err != nil {
		return ApiMessageAndVersion{}, fmt.Errorf("could not read record with api key %d: %w", apiKey, err)
	}
	if decoder.Remaining() != 0 {
		return ApiMessageAndVersion{}, fmt.Errorf("found %d trailing bytes after record with api key %d", decoder.Remaining(), apiKey)
	}
	return ApiMessageAndVersion{Message: m, Version: int16(version)}, nil
}
