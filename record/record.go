package record

import (
	"errors"
	"fmt"

	"github.com/CefBoud/monkafka-registry/serde"
)

// https://github.com/apache/kafka/tree/trunk/metadata/src/main/resources/common/metadata
const (
	RegisterBrokerRecordKey           int16 = 0
	UnregisterBrokerRecordKey         int16 = 1
	BrokerRegistrationChangeRecordKey int16 = 17
)

var (
	// ErrUnsupportedVersion is returned when a record cannot be read or written at a version
	ErrUnsupportedVersion = errors.New("unsupported version")
	// ErrUnknownRecordType is returned when a frame carries an api key we have no record for
	ErrUnknownRecordType = errors.New("unknown metadata record type")
)

// Message is a versioned metadata record
type Message interface {
	APIKey() int16
	LowestSupportedVersion() int16
	HighestSupportedVersion() int16
	Write(e *serde.Encoder, version int16) error
	Read(d *serde.Decoder, version int16) error
}

// ApiMessageAndVersion pairs a record with the schema version it is written at
type ApiMessageAndVersion struct {
	Message Message
	Version int16
}

func (m ApiMessageAndVersion) String() string {
	return fmt.Sprintf("ApiMessageAndVersion(%v at version %d)", m.Message, m.Version)
}

// NewMessage returns an empty record for the given api key
func NewMessage(apiKey int16) (Message, error) {
	switch apiKey {
	case RegisterBrokerRecordKey:
		return NewRegisterBrokerRecord(), nil
	case UnregisterBrokerRecordKey:
		return &UnregisterBrokerRecord{}, nil
	case BrokerRegistrationChangeRecordKey:
		return &BrokerRegistrationChangeRecord{}, nil
	default:
		return nil, fmt.Errorf("%w: api key %d", ErrUnknownRecordType, apiKey)
	}
}

func checkVersion(m Message, version int16) error {
	if version < m.LowestSupportedVersion() || version > m.HighestSupportedVersion() {
		return fmt.Errorf("%w: %T can't be handled at version %d (supported %d-%d)",
			ErrUnsupportedVersion, m, version, m.LowestSupportedVersion(), m.HighestSupportedVersion())
	}
	return nil
}
