package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/CefBoud/monkafka-registry/record"
	"github.com/CefBoud/monkafka-registry/types"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// ErrInvalidArgument is returned when a registration is built from invalid input
var ErrInvalidArgument = errors.New("invalid argument")

// Loss descriptions passed to WriterOptions.HandleLoss
const (
	InControlledShutdownLoss = "the inControlledShutdown state of one or more brokers"
	MigratingZkBrokerLoss    = "the isMigratingZkBroker state of one or more brokers"
)

// BrokerRegistration is the registration of a broker in the metadata log.
// It is immutable: state changes produce a new value through CloneWith,
// so a registration can be shared between goroutines without locking.
type BrokerRegistration struct {
	id                     int32
	epoch                  int64
	incarnationID          uuid.UUID
	listeners              map[string]types.Endpoint
	supportedFeatures      map[string]types.VersionRange
	rack                   *string
	fenced                 bool
	inControlledShutdown   bool
	migratingZkBrokerEpoch *int64
}

// NewBrokerRegistration builds a registration. Every listener endpoint must be
// named; listeners and supportedFeatures are copied. rack and
// migratingZkBrokerEpoch are optional and may be nil.
func NewBrokerRegistration(
	id int32,
	epoch int64,
	incarnationID uuid.UUID,
	listeners map[string]types.Endpoint,
	supportedFeatures map[string]types.VersionRange,
	rack *string,
	fenced bool,
	inControlledShutdown bool,
	migratingZkBrokerEpoch *int64,
) (*BrokerRegistration, error) {
	for name, endpoint := range listeners {
		if !endpoint.HasListenerName() {
			return nil, fmt.Errorf("%w: broker listeners must be named (broker %d, listener key %q)", ErrInvalidArgument, id, name)
		}
	}
	r := &BrokerRegistration{
		id:                   id,
		epoch:                epoch,
		incarnationID:        incarnationID,
		listeners:            make(map[string]types.Endpoint, len(listeners)),
		supportedFeatures:    make(map[string]types.VersionRange, len(supportedFeatures)),
		fenced:               fenced,
		inControlledShutdown: inControlledShutdown,
	}
	maps.Copy(r.listeners, listeners)
	maps.Copy(r.supportedFeatures, supportedFeatures)
	if rack != nil {
		rackCopy := *rack
		r.rack = &rackCopy
	}
	if migratingZkBrokerEpoch != nil {
		epochCopy := *migratingZkBrokerEpoch
		r.migratingZkBrokerEpoch = &epochCopy
	}
	return r, nil
}

// NewBrokerRegistrationFromEndpoints is NewBrokerRegistration with listeners
// keyed by their own listener name. When two endpoints share a name the last one wins.
func NewBrokerRegistrationFromEndpoints(
	id int32,
	epoch int64,
	incarnationID uuid.UUID,
	listeners []types.Endpoint,
	supportedFeatures map[string]types.VersionRange,
	rack *string,
	fenced bool,
	inControlledShutdown bool,
	migratingZkBrokerEpoch *int64,
) (*BrokerRegistration, error) {
	listenersMap := make(map[string]types.Endpoint, len(listeners))
	for _, endpoint := range listeners {
		listenersMap[endpoint.ListenerName] = endpoint
	}
	return NewBrokerRegistration(id, epoch, incarnationID, listenersMap, supportedFeatures,
		rack, fenced, inControlledShutdown, migratingZkBrokerEpoch)
}

// FromRecord builds a registration from a RegisterBrokerRecord.
// A MigratingZkBrokerEpoch of -1 means the broker is not migrating.
func FromRecord(rec *record.RegisterBrokerRecord) (*BrokerRegistration, error) {
	listeners := make(map[string]types.Endpoint, len(rec.EndPoints))
	for _, ep := range rec.EndPoints {
		listeners[ep.Name] = types.Endpoint{
			ListenerName:     ep.Name,
			SecurityProtocol: types.SecurityProtocol(ep.SecurityProtocol),
			Host:             ep.Host,
			Port:             ep.Port,
		}
	}
	supportedFeatures := make(map[string]types.VersionRange, len(rec.Features))
	for _, f := range rec.Features {
		supportedFeatures[f.Name] = types.VersionRange{Min: f.MinSupportedVersion, Max: f.MaxSupportedVersion}
	}
	var migratingZkBrokerEpoch *int64
	if rec.MigratingZkBrokerEpoch != -1 {
		migratingZkBrokerEpoch = &rec.MigratingZkBrokerEpoch
	}
	return NewBrokerRegistration(rec.BrokerID, rec.BrokerEpoch, rec.IncarnationID, listeners, supportedFeatures,
		rec.Rack, rec.Fenced, rec.InControlledShutdown, migratingZkBrokerEpoch)
}

func (r *BrokerRegistration) ID() int32                  { return r.id }
func (r *BrokerRegistration) Epoch() int64               { return r.epoch }
func (r *BrokerRegistration) IncarnationID() uuid.UUID   { return r.incarnationID }
func (r *BrokerRegistration) Fenced() bool               { return r.fenced }
func (r *BrokerRegistration) InControlledShutdown() bool { return r.inControlledShutdown }

// IsMigratingZkBroker reports whether the broker is migrating from ZooKeeper
func (r *BrokerRegistration) IsMigratingZkBroker() bool {
	return r.migratingZkBrokerEpoch != nil
}

// Listener returns the endpoint of the named listener
func (r *BrokerRegistration) Listener(name string) (types.Endpoint, bool) {
	endpoint, ok := r.listeners[name]
	return endpoint, ok
}

// Listeners returns a copy of the listeners, keyed by listener name
func (r *BrokerRegistration) Listeners() map[string]types.Endpoint {
	return maps.Clone(r.listeners)
}

// ListenerNames returns the listener names in sorted order
func (r *BrokerRegistration) ListenerNames() []string {
	return slices.Sorted(maps.Keys(r.listeners))
}

// SupportedFeatures returns a copy of the supported feature ranges, keyed by feature name
func (r *BrokerRegistration) SupportedFeatures() map[string]types.VersionRange {
	return maps.Clone(r.supportedFeatures)
}

// Rack returns the broker's rack, if it has one
func (r *BrokerRegistration) Rack() (string, bool) {
	if r.rack == nil {
		return "", false
	}
	return *r.rack, true
}

// MigratingZkBrokerEpoch returns the ZooKeeper epoch of a broker migrating from ZooKeeper
func (r *BrokerRegistration) MigratingZkBrokerEpoch() (int64, bool) {
	if r.migratingZkBrokerEpoch == nil {
		return 0, false
	}
	return *r.migratingZkBrokerEpoch, true
}

// Node returns the broker as reachable through the named listener
func (r *BrokerRegistration) Node(listenerName string) (types.Node, bool) {
	endpoint, ok := r.listeners[listenerName]
	if !ok {
		return types.Node{}, false
	}
	rack, _ := r.Rack()
	return types.Node{NodeID: r.id, Host: endpoint.Host, Port: endpoint.Port, Rack: rack}, true
}

// ToRecord converts the registration to a RegisterBrokerRecord written at the
// options' metadata version. State the version can't carry is dropped and
// reported through options.HandleLoss; false controlled shutdown state and an
// absent migrating epoch are defaults and never reported.
func (r *BrokerRegistration) ToRecord(options WriterOptions) record.ApiMessageAndVersion {
	rec := record.NewRegisterBrokerRecord()
	rec.BrokerID = r.id
	if r.rack != nil {
		rack := *r.rack
		rec.Rack = &rack
	}
	rec.BrokerEpoch = r.epoch
	rec.IncarnationID = r.incarnationID
	rec.Fenced = r.fenced

	if r.inControlledShutdown {
		if options.IsInControlledShutdownStateSupported() {
			rec.InControlledShutdown = true
		} else {
			options.HandleLoss(InControlledShutdownLoss)
		}
	}

	if r.migratingZkBrokerEpoch != nil {
		if options.IsMigrationSupported() {
			rec.MigratingZkBrokerEpoch = *r.migratingZkBrokerEpoch
		} else {
			options.HandleLoss(MigratingZkBrokerLoss)
		}
	}

	for _, name := range r.ListenerNames() {
		endpoint := r.listeners[name]
		rec.EndPoints = append(rec.EndPoints, record.BrokerEndpoint{
			Name:             name,
			Host:             endpoint.Host,
			Port:             endpoint.Port,
			SecurityProtocol: int16(endpoint.SecurityProtocol),
		})
	}
	for _, name := range slices.Sorted(maps.Keys(r.supportedFeatures)) {
		versionRange := r.supportedFeatures[name]
		rec.Features = append(rec.Features, record.BrokerFeature{
			Name:                name,
			MinSupportedVersion: versionRange.Min,
			MaxSupportedVersion: versionRange.Max,
		})
	}
	return record.ApiMessageAndVersion{Message: rec, Version: options.RegisterBrokerRecordVersion()}
}

// CloneWith returns the registration with the given fencing and controlled
// shutdown changes applied. A nil change keeps the current value. When
// nothing changes the receiver itself is returned.
func (r *BrokerRegistration) CloneWith(fencingChange, inControlledShutdownChange *bool) *BrokerRegistration {
	newFenced := r.fenced
	if fencingChange != nil {
		newFenced = *fencingChange
	}
	newInControlledShutdown := r.inControlledShutdown
	if inControlledShutdownChange != nil {
		newInControlledShutdown = *inControlledShutdownChange
	}
	if newFenced == r.fenced && newInControlledShutdown == r.inControlledShutdown {
		return r
	}
	clone := *r
	clone.fenced = newFenced
	clone.inControlledShutdown = newInControlledShutdown
	return &clone
}

// Equal reports whether both registrations hold the same state
func (r *BrokerRegistration) Equal(other *BrokerRegistration) bool {
	if r == other {
		return true
	}
	if r == nil || other == nil {
		return false
	}
	return r.id == other.id &&
		r.epoch == other.epoch &&
		r.incarnationID == other.incarnationID &&
		maps.Equal(r.listeners, other.listeners) &&
		maps.Equal(r.supportedFeatures, other.supportedFeatures) &&
		equalOptional(r.rack, other.rack) &&
		r.fenced == other.fenced &&
		r.inControlledShutdown == other.inControlledShutdown &&
		equalOptional(r.migratingZkBrokerEpoch, other.migratingZkBrokerEpoch)
}

func equalOptional[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Hash returns a hash of the registration consistent with Equal
func (r *BrokerRegistration) Hash() uint64 {
	d := xxhash.New()
	var buf [8]byte
	putInt := func(v int64) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		d.Write(buf[:])
	}
	putBool := func(b bool) {
		if b {
			d.Write([]byte{1})
		} else {
			d.Write([]byte{0})
		}
	}

	putInt(int64(r.id))
	putInt(r.epoch)
	d.Write(r.incarnationID[:])

	// map entries are summed so the result doesn't depend on iteration order
	var listenersHash uint64
	for name, endpoint := range r.listeners {
		listenersHash += xxhash.Sum64String(name + "\x00" + endpoint.String())
	}
	putInt(int64(listenersHash))
	var featuresHash uint64
	for name, versionRange := range r.supportedFeatures {
		featuresHash += xxhash.Sum64String(name + "\x00" + versionRange.String())
	}
	putInt(int64(featuresHash))

	putBool(r.rack != nil)
	if r.rack != nil {
		d.WriteString(*r.rack)
	}
	putBool(r.fenced)
	putBool(r.inControlledShutdown)
	putBool(r.migratingZkBrokerEpoch != nil)
	if r.migratingZkBrokerEpoch != nil {
		putInt(*r.migratingZkBrokerEpoch)
	}
	return d.Sum64()
}

// String renders the registration with listeners and features sorted by name,
// so equal registrations always render the same way.
func (r *BrokerRegistration) String() string {
	var bld strings.Builder
	fmt.Fprintf(&bld, "BrokerRegistration(id=%d, epoch=%d, incarnationId=%s, listeners=[", r.id, r.epoch, r.incarnationID)
	for i, name := range r.ListenerNames() {
		if i > 0 {
			bld.WriteString(", ")
		}
		bld.WriteString(r.listeners[name].String())
	}
	bld.WriteString("], supportedFeatures={")
	for i, name := range slices.Sorted(maps.Keys(r.supportedFeatures)) {
		if i > 0 {
			bld.WriteString(", ")
		}
		fmt.Fprintf(&bld, "%s: %s", name, r.supportedFeatures[name])
	}
	rack := "null"
	if r.rack != nil {
		rack = fmt.Sprintf("%q", *r.rack)
	}
	migratingZkBrokerEpoch := int64(-1)
	if r.migratingZkBrokerEpoch != nil {
		migratingZkBrokerEpoch = *r.migratingZkBrokerEpoch
	}
	fmt.Fprintf(&bld, "}, rack=%s, fenced=%t, inControlledShutdown=%t, migratingZkBrokerEpoch=%d)",
		rack, r.fenced, r.inControlledShutdown, migratingZkBrokerEpoch)
	return bld.String()
}
