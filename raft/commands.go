package raft

import (
	"errors"
	"fmt"

	log "github.com/CefBoud/monkafka-registry/logging"
	"github.com/CefBoud/monkafka-registry/metadata"
	"github.com/CefBoud/monkafka-registry/record"
)

var (
	// ErrUnknownBroker is returned when a record targets a broker that isn't registered
	ErrUnknownBroker = errors.New("unknown broker")
	// ErrStaleEpoch is returned when a record carries an epoch other than the registered one
	ErrStaleEpoch = errors.New("stale broker epoch")
)

// ApplyRecord applies a decoded metadata record to the FSM
func (fsm *FSM) ApplyRecord(m record.ApiMessageAndVersion) error {
	log.Debug("Raft ApplyRecord %v", m)
	switch rec := m.Message.(type) {
	case *record.RegisterBrokerRecord:
		registration, err := metadata.FromRecord(rec)
		if err != nil {
			return fmt.Errorf("could not apply broker registration: %w", err)
		}
		fsm.StoreBroker(registration)

	case *record.UnregisterBrokerRecord:
		fsm.Lock()
		defer fsm.Unlock()
		current, err := fsm.checkEpoch(rec.BrokerID, rec.BrokerEpoch)
		if err != nil {
			return err
		}
		fsm.removeBroker(current)

	case *record.BrokerRegistrationChangeRecord:
		fencingChange, err := metadata.FencingChangeFromValue(rec.Fenced)
		if err != nil {
			return err
		}
		shutdownChange, err := metadata.InControlledShutdownChangeFromValue(rec.InControlledShutdown)
		if err != nil {
			return err
		}
		fsm.Lock()
		defer fsm.Unlock()
		current, err := fsm.checkEpoch(rec.BrokerID, rec.BrokerEpoch)
		if err != nil {
			return err
		}
		fsm.brokers.ReplaceOrInsert(brokerItem{
			id:           current.ID(),
			registration: current.CloneWith(fencingChange.AsBool(), shutdownChange.AsBool()),
		})

	default:
		return fmt.Errorf("%w: %T", record.ErrUnknownRecordType, m.Message)
	}
	return nil
}

// checkEpoch must be called with the lock held
func (fsm *FSM) checkEpoch(brokerID int32, epoch int64) (*metadata.BrokerRegistration, error) {
	item, ok := fsm.brokers.Get(brokerItem{id: brokerID})
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBroker, brokerID)
	}
	if item.registration.Epoch() != epoch {
		return nil, fmt.Errorf("%w: broker %d is at epoch %d, record has %d",
			ErrStaleEpoch, brokerID, item.registration.Epoch(), epoch)
	}
	return item.registration, nil
}

// EncodeLogEntry converts a metadata record into a raft log entry
func EncodeLogEntry(m record.ApiMessageAndVersion) ([]byte, error) {
	return record.Write(m)
}
