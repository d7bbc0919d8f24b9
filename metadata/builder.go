package metadata

import (
	"maps"

	"github.com/CefBoud/monkafka-registry/types"
	"github.com/google/uuid"
)

// Builder assembles a BrokerRegistration field by field. Rack and the
// migrating ZK broker epoch stay absent unless set.
type Builder struct {
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

// NewBuilder returns an empty Builder
func NewBuilder() *Builder {
	return &Builder{
		listeners:         map[string]types.Endpoint{},
		supportedFeatures: map[string]types.VersionRange{},
	}
}

func (b *Builder) SetID(id int32) *Builder {
	b.id = id
	return b
}

func (b *Builder) SetEpoch(epoch int64) *Builder {
	b.epoch = epoch
	return b
}

func (b *Builder) SetIncarnationID(incarnationID uuid.UUID) *Builder {
	b.incarnationID = incarnationID
	return b
}

// AddListener adds an endpoint keyed by its listener name, replacing any previous one
func (b *Builder) AddListener(endpoint types.Endpoint) *Builder {
	b.listeners[endpoint.ListenerName] = endpoint
	return b
}

// SetListeners replaces all listeners with a copy of listeners
func (b *Builder) SetListeners(listeners map[string]types.Endpoint) *Builder {
	b.listeners = make(map[string]types.Endpoint, len(listeners))
	maps.Copy(b.listeners, listeners)
	return b
}

func (b *Builder) SetSupportedFeature(name string, versionRange types.VersionRange) *Builder {
	b.supportedFeatures[name] = versionRange
	return b
}

func (b *Builder) SetRack(rack string) *Builder {
	b.rack = &rack
	return b
}

func (b *Builder) SetFenced(fenced bool) *Builder {
	b.fenced = fenced
	return b
}

func (b *Builder) SetInControlledShutdown(inControlledShutdown bool) *Builder {
	b.inControlledShutdown = inControlledShutdown
	return b
}

func (b *Builder) SetMigratingZkBrokerEpoch(epoch int64) *Builder {
	b.migratingZkBrokerEpoch = &epoch
	return b
}

// Build validates and returns the registration
func (b *Builder) Build() (*BrokerRegistration, error) {
	return NewBrokerRegistration(b.id, b.epoch, b.incarnationID, b.listeners, b.supportedFeatures,
		b.rack, b.fenced, b.inControlledShutdown, b.migratingZkBrokerEpoch)
}
