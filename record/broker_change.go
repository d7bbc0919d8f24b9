package record

import (
	"fmt"

	"github.com/CefBoud/monkafka-registry/serde"
)

// UnregisterBrokerRecord (api key 1) removes a broker registration
type UnregisterBrokerRecord struct {
	BrokerID    int32
	BrokerEpoch int64
}

func (r *UnregisterBrokerRecord) APIKey() int16                  { return UnregisterBrokerRecordKey }
func (r *UnregisterBrokerRecord) LowestSupportedVersion() int16  { return 0 }
func (r *UnregisterBrokerRecord) HighestSupportedVersion() int16 { return 0 }

func (r *UnregisterBrokerRecord) Write(e *serde.Encoder, version int16) error {
	if err := checkVersion(r, version); err != nil {
		return err
	}
	e.PutInt32(uint32(r.BrokerID))
	e.PutInt64(uint64(r.BrokerEpoch))
	e.EndStruct()
	return nil
}

func (r *UnregisterBrokerRecord) Read(d *serde.Decoder, version int16) error {
	if err := checkVersion(r, version); err != nil {
		return err
	}
	r.BrokerID = int32(d.UInt32())
	r.BrokerEpoch = int64(d.UInt64())
	d.EndStruct()
	return d.Err()
}

func (r *UnregisterBrokerRecord) String() string {
	return fmt.Sprintf("UnregisterBrokerRecord(brokerId=%d, brokerEpoch=%d)", r.BrokerID, r.BrokerEpoch)
}

// BrokerRegistrationChangeRecord (api key 17) changes the fencing or
// controlled shutdown state of a registered broker.
// Fenced is -1 to unfence, 0 for no change, 1 to fence.
// InControlledShutdown (version 1+) is 0 for no change, 1 to enter controlled shutdown.
type BrokerRegistrationChangeRecord struct {
	BrokerID             int32
	BrokerEpoch          int64
	Fenced               int8
	InControlledShutdown int8
}

func (r *BrokerRegistrationChangeRecord) APIKey() int16 {
	return BrokerRegistrationChangeRecordKey
}
func (r *BrokerRegistrationChangeRecord) LowestSupportedVersion() int16  { return 0 }
func (r *BrokerRegistrationChangeRecord) HighestSupportedVersion() int16 { return 1 }

func (r *BrokerRegistrationChangeRecord) Write(e *serde.Encoder, version int16) error {
	if err := checkVersion(r, version); err != nil {
		return err
	}
	if version < 1 && r.InControlledShutdown != 0 {
		return fmt.Errorf("%w: attempted to write a non-default inControlledShutdown at version %d", ErrUnsupportedVersion, version)
	}
	e.PutInt32(uint32(r.BrokerID))
	e.PutInt64(uint64(r.BrokerEpoch))
	e.PutInt8(uint8(r.Fenced))
	if version >= 1 {
		e.PutInt8(uint8(r.InControlledShutdown))
	}
	e.EndStruct()
	return nil
}

func (r *BrokerRegistrationChangeRecord) Read(d *serde.Decoder, version int16) error {
	if err := checkVersion(r, version); err != nil {
		return err
	}
	r.BrokerID = int32(d.UInt32())
	r.BrokerEpoch = int64(d.UInt64())
	r.Fenced = int8(d.UInt8())
	r.InControlledShutdown = 0
	if version >= 1 {
		r.InControlledShutdown = int8(d.UInt8())
	}
	d.EndStruct()
	return d.Err()
}

func (r *BrokerRegistrationChangeRecord) String() string {
	return fmt.Sprintf("BrokerRegistrationChangeRecord(brokerId=%d, brokerEpoch=%d, fenced=%d, inControlledShutdown=%d)",
		r.BrokerID, r.BrokerEpoch, r.Fenced, r.InControlledShutdown)
}
