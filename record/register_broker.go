package record

import (
	"fmt"

	"github.com/CefBoud/monkafka-registry/serde"
	"github.com/google/uuid"
)

// RegisterBrokerRecord (api key 0) registers a broker in the metadata log.
//
// Version 1 adds InControlledShutdown. Version 2 adds MigratingZkBrokerEpoch.
type RegisterBrokerRecord struct {
	BrokerID               int32
	MigratingZkBrokerEpoch int64 // -1 if the broker is not migrating from ZooKeeper
	IncarnationID          uuid.UUID
	BrokerEpoch            int64
	EndPoints              []BrokerEndpoint
	Features               []BrokerFeature
	Rack                   *string
	Fenced                 bool
	InControlledShutdown   bool
}

// BrokerEndpoint is a listener of a registered broker
type BrokerEndpoint struct {
	Name             string
	Host             string
	Port             uint16
	SecurityProtocol int16
}

// BrokerFeature is a feature version range a registered broker supports
type BrokerFeature struct {
	Name                string
	MinSupportedVersion int16
	MaxSupportedVersion int16
}

// NewRegisterBrokerRecord returns a record holding the schema defaults
func NewRegisterBrokerRecord() *RegisterBrokerRecord {
	return &RegisterBrokerRecord{MigratingZkBrokerEpoch: -1, Fenced: true}
}

func (r *RegisterBrokerRecord) APIKey() int16                  { return RegisterBrokerRecordKey }
func (r *RegisterBrokerRecord) LowestSupportedVersion() int16  { return 0 }
func (r *RegisterBrokerRecord) HighestSupportedVersion() int16 { return 2 }

// Write encodes the record. Non-default values for fields the version lacks are rejected.
func (r *RegisterBrokerRecord) Write(e *serde.Encoder, version int16) error {
	if err := checkVersion(r, version); err != nil {
		return err
	}
	if version < 1 && r.InControlledShutdown {
		return fmt.Errorf("%w: attempted to write a non-default inControlledShutdown at version %d", ErrUnsupportedVersion, version)
	}
	if version < 2 && r.MigratingZkBrokerEpoch != -1 {
		return fmt.Errorf("%w: attempted to write a non-default migratingZkBrokerEpoch at version %d", ErrUnsupportedVersion, version)
	}
	e.PutInt32(uint32(r.BrokerID))
	if version >= 2 {
		e.PutInt64(uint64(r.MigratingZkBrokerEpoch))
	}
	e.PutUUID(r.IncarnationID)
	e.PutInt64(uint64(r.BrokerEpoch))
	e.PutCompactArrayLen(len(r.EndPoints))
	for _, ep := range r.EndPoints {
		e.PutCompactString(ep.Name)
		e.PutCompactString(ep.Host)
		e.PutInt16(ep.Port)
		e.PutInt16(uint16(ep.SecurityProtocol))
		e.EndStruct()
	}
	e.PutCompactArrayLen(len(r.Features))
	for _, f := range r.Features {
		e.PutCompactString(f.Name)
		e.PutInt16(uint16(f.MinSupportedVersion))
		e.PutInt16(uint16(f.MaxSupportedVersion))
		e.EndStruct()
	}
	e.PutCompactNullableString(r.Rack)
	e.PutBool(r.Fenced)
	if version >= 1 {
		e.PutBool(r.InControlledShutdown)
	}
	e.EndStruct()
	return nil
}

// Read decodes the record. Fields absent at the version keep their defaults.
func (r *RegisterBrokerRecord) Read(d *serde.Decoder, version int16) error {
	if err := checkVersion(r, version); err != nil {
		return err
	}
	*r = *NewRegisterBrokerRecord()
	r.BrokerID = int32(d.UInt32())
	if version >= 2 {
		r.MigratingZkBrokerEpoch = int64(d.UInt64())
	}
	r.IncarnationID = d.UUID()
	r.BrokerEpoch = int64(d.UInt64())
	n := d.CompactArrayLen()
	if n < 0 {
		return fmt.Errorf("non-nullable field endPoints was serialized as null")
	}
	for i := 0; i < n && d.Err() == nil; i++ {
		ep := BrokerEndpoint{
			Name: d.CompactString(),
			Host: d.CompactString(),
			Port: d.UInt16(),
		}
		ep.SecurityProtocol = int16(d.UInt16())
		d.EndStruct()
		r.EndPoints = append(r.EndPoints, ep)
	}
	n = d.CompactArrayLen()
	if n < 0 {
		return fmt.Errorf("non-nullable field features was serialized as null")
	}
	for i := 0; i < n && d.Err() == nil; i++ {
		f := BrokerFeature{Name: d.CompactString()}
		f.MinSupportedVersion = int16(d.UInt16())
		f.MaxSupportedVersion = int16(d.UInt16())
		d.EndStruct()
		r.Features = append(r.Features, f)
	}
	r.Rack = d.CompactNullableString()
	r.Fenced = d.Bool()
	if version >= 1 {
		r.InControlledShutdown = d.Bool()
	}
	d.EndStruct()
	return d.Err()
}

func (r *RegisterBrokerRecord) String() string {
	rack := "null"
	if r.Rack != nil {
		rack = fmt.Sprintf("'%s'", *r.Rack)
	}
	return fmt.Sprintf("RegisterBrokerRecord(brokerId=%d, migratingZkBrokerEpoch=%d, incarnationId=%s, brokerEpoch=%d, endPoints=%v, features=%v, rack=%s, fenced=%t, inControlledShutdown=%t)",
		r.BrokerID, r.MigratingZkBrokerEpoch, r.IncarnationID, r.BrokerEpoch, r.EndPoints, r.Features, rack, r.Fenced, r.InControlledShutdown)
}
