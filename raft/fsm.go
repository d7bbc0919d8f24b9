package raft

import (
	"fmt"
	"io"
	"strconv"

	"github.com/CefBoud/monkafka-registry/compress"
	"github.com/CefBoud/monkafka-registry/logging"
	"github.com/CefBoud/monkafka-registry/metadata"
	"github.com/CefBoud/monkafka-registry/record"
	"github.com/CefBoud/monkafka-registry/serde"
	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/raft"
)

// ApplyMetricKey counts applied log entries, labelled by record api key and outcome
var ApplyMetricKey = []string{"registry", "fsm", "apply"}

// Apply applies a `raft.Log` to the FSM. The returned value is nil or an error.
func (fsm *FSM) Apply(l *raft.Log) any {
	switch l.Type {
	case raft.LogCommand:
		m, err := record.Read(l.Data)
		if err != nil {
			return fsm.countApply("unknown", fmt.Errorf("could not parse log entry at index %d: %w", l.Index, err))
		}
		return fsm.countApply(strconv.Itoa(int(m.Message.APIKey())), fsm.ApplyRecord(m))
	default:
		return fmt.Errorf("unknown raft log type: %#v", l.Type)
	}
}

func (fsm *FSM) countApply(apiKey string, err error) error {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		logging.Warn("Raft Apply failed: %v", err)
	}
	metrics.IncrCounterWithLabels(ApplyMetricKey, 1, []metrics.Label{
		{Name: "api_key", Value: apiKey},
		{Name: "outcome", Value: outcome},
	})
	return err
}

// brokersSnapshot holds the registrations at snapshot time. They are immutable
// so persisting them doesn't need the FSM lock.
type brokersSnapshot struct {
	registrations []*metadata.BrokerRegistration
	unregistered  []*metadata.BrokerRegistration
	options       metadata.WriterOptions
	compression   compress.CompressionType
}

// Snapshot snapshots the FSM into a struct that implements the raft.FSMSnapshot interface
func (fsm *FSM) Snapshot() (raft.FSMSnapshot, error) {
	fsm.RLock()
	defer fsm.RUnlock()
	return &brokersSnapshot{
		registrations: collect(fsm.brokers),
		unregistered:  fsm.collectUnregistered(),
		options:       metadata.NewImageWriterOptions(fsm.MetadataVersion, fsm.LossHandler),
		compression:   fsm.Compression,
	}, nil
}

// Persist writes: compression type byte | compressed (uvarint length | record frame)*.
// An unregistered id is written as its last registration followed by its unregistration.
func (s *brokersSnapshot) Persist(sink raft.SnapshotSink) error {
	data, err := s.encode()
	if err == nil {
		_, err = sink.Write(data)
	}
	if err != nil {
		sink.Cancel()
		return fmt.Errorf("could not persist snapshot: %w", err)
	}
	return sink.Close()
}

func (s *brokersSnapshot) encode() ([]byte, error) {
	encoder := serde.NewEncoder()
	putFrame := func(m record.ApiMessageAndVersion) error {
		frame, err := record.Write(m)
		if err != nil {
			return err
		}
		encoder.PutUvarint(uint64(len(frame)))
		encoder.PutBytes(frame)
		return nil
	}
	// unregistered ids go first so a live registration of the same id replays after them
	for _, registration := range s.unregistered {
		err := putFrame(registration.ToRecord(s.options))
		if err == nil {
			err = putFrame(record.ApiMessageAndVersion{
				Message: &record.UnregisterBrokerRecord{BrokerID: registration.ID(), BrokerEpoch: registration.Epoch()},
			})
		}
		if err != nil {
			return nil, fmt.Errorf("could not write unregistered broker %d: %w", registration.ID(), err)
		}
	}
	for _, registration := range s.registrations {
		if err := putFrame(registration.ToRecord(s.options)); err != nil {
			return nil, fmt.Errorf("could not write broker %d: %w", registration.ID(), err)
		}
	}
	compressor, err := compress.GetCompressor(s.compression)
	if err != nil {
		return nil, err
	}
	body, err := compressor.Compress(encoder.Bytes())
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(s.compression)}, body...), nil
}

func (s *brokersSnapshot) Release() {}

// Restore replaces the FSM state with a snapshot written by Persist.
// Records that fail to decode or apply are skipped and reported together.
func (fsm *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("could not read snapshot: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("empty snapshot")
	}
	compressor, err := compress.GetCompressor(compress.CompressionType(data[0]))
	if err != nil {
		return fmt.Errorf("could not restore snapshot: %w", err)
	}
	body, err := compressor.Decompress(data[1:])
	if err != nil {
		return fmt.Errorf("could not decompress snapshot: %w", err)
	}

	restored := NewFSM(fsm.NodeID, fsm.MetadataVersion, fsm.Compression)
	var result *multierror.Error
	decoder := serde.NewDecoder(body)
	for decoder.Remaining() > 0 {
		frame := decoder.GetNBytes(int(decoder.Uvarint()))
		if err := decoder.Err(); err != nil {
			result = multierror.Append(result, fmt.Errorf("truncated snapshot: %w", err))
			break
		}
		m, err := record.Read(frame)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := restored.ApplyRecord(m); err != nil {
			result = multierror.Append(result, err)
		}
	}

	fsm.Lock()
	fsm.brokers = restored.brokers
	fsm.unregistered = restored.unregistered
	fsm.Unlock()
	logging.Info("Restored %d brokers from snapshot", restored.brokers.Len())
	return result.ErrorOrNil()
}
