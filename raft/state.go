package raft

import (
	"cmp"
	"maps"
	"slices"
	"sync"

	"github.com/CefBoud/monkafka-registry/compress"
	"github.com/CefBoud/monkafka-registry/metadata"
	"github.com/CefBoud/monkafka-registry/types"
	"github.com/google/btree"
)

type brokerItem struct {
	id           int32
	registration *metadata.BrokerRegistration
}

func lessBroker(a, b brokerItem) bool { return a.id < b.id }

// FSM is the finite-state-machine of the raft log: the registered brokers keyed by id
type FSM struct {
	NodeID int32
	// MetadataVersion and Compression are what snapshots get written with
	MetadataVersion metadata.MetadataVersion
	Compression     compress.CompressionType
	// LossHandler receives state dropped while writing snapshots; nil means metadata.LogLoss
	LossHandler metadata.LossHandler

	brokers *btree.BTreeG[brokerItem]
	// unregistered holds the last registration of each unregistered id,
	// so a later registration of that id continues from its epoch
	unregistered map[int32]*metadata.BrokerRegistration
	sync.RWMutex
}

// NewFSM returns an empty FSM
func NewFSM(nodeID int32, version metadata.MetadataVersion, compression compress.CompressionType) *FSM {
	return &FSM{
		NodeID:          nodeID,
		MetadataVersion: version,
		Compression:     compression,
		brokers:         btree.NewG(8, lessBroker),
		unregistered:    map[int32]*metadata.BrokerRegistration{},
	}
}

// StoreBroker stores a registration, replacing any previous one with the same id
func (fsm *FSM) StoreBroker(registration *metadata.BrokerRegistration) {
	fsm.Lock()
	defer fsm.Unlock()
	fsm.storeBroker(registration)
}

// storeBroker must be called with the lock held
func (fsm *FSM) storeBroker(registration *metadata.BrokerRegistration) {
	if last, ok := fsm.unregistered[registration.ID()]; ok && last.Epoch() <= registration.Epoch() {
		delete(fsm.unregistered, registration.ID())
	}
	fsm.brokers.ReplaceOrInsert(brokerItem{id: registration.ID(), registration: registration})
}

// removeBroker must be called with the lock held
func (fsm *FSM) removeBroker(registration *metadata.BrokerRegistration) {
	fsm.brokers.Delete(brokerItem{id: registration.ID()})
	if last, ok := fsm.unregistered[registration.ID()]; !ok || last.Epoch() < registration.Epoch() {
		fsm.unregistered[registration.ID()] = registration
	}
}

// GetBroker retrieves a registration from the FSM
func (fsm *FSM) GetBroker(brokerID int32) (*metadata.BrokerRegistration, bool) {
	fsm.RLock()
	defer fsm.RUnlock()
	item, exists := fsm.brokers.Get(brokerItem{id: brokerID})
	return item.registration, exists
}

// Brokers returns every registration ordered by broker id
func (fsm *FSM) Brokers() []*metadata.BrokerRegistration {
	fsm.RLock()
	defer fsm.RUnlock()
	return collect(fsm.brokers)
}

// BrokerNodes returns the nodes of the unfenced brokers exposing listenerName
func (fsm *FSM) BrokerNodes(listenerName string) []types.Node {
	var nodes []types.Node
	for _, registration := range fsm.Brokers() {
		if registration.Fenced() {
			continue
		}
		if node, ok := registration.Node(listenerName); ok {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// NextEpoch is the epoch the next registration of brokerID gets: one more
// than any epoch the id had, including before it was unregistered.
func (fsm *FSM) NextEpoch(brokerID int32) int64 {
	fsm.RLock()
	defer fsm.RUnlock()
	var epoch int64
	if item, ok := fsm.brokers.Get(brokerItem{id: brokerID}); ok {
		epoch = item.registration.Epoch()
	}
	if last, ok := fsm.unregistered[brokerID]; ok {
		epoch = max(epoch, last.Epoch())
	}
	return epoch + 1
}

// collectUnregistered must be called with the lock held
func (fsm *FSM) collectUnregistered() []*metadata.BrokerRegistration {
	registrations := slices.Collect(maps.Values(fsm.unregistered))
	slices.SortFunc(registrations, func(a, b *metadata.BrokerRegistration) int {
		return cmp.Compare(a.ID(), b.ID())
	})
	return registrations
}

func collect(tree *btree.BTreeG[brokerItem]) []*metadata.BrokerRegistration {
	registrations := make([]*metadata.BrokerRegistration, 0, tree.Len())
	tree.Ascend(func(item brokerItem) bool {
		registrations = append(registrations, item.registration)
		return true
	})
	return registrations
}
