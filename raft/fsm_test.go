package raft

import (
	"bytes"
	"io"
	"testing"

	"github.com/CefBoud/monkafka-registry/compress"
	"github.com/CefBoud/monkafka-registry/metadata"
	"github.com/CefBoud/monkafka-registry/record"
	"github.com/CefBoud/monkafka-registry/types"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistration(t *testing.T, id int32, epoch int64) *metadata.BrokerRegistration {
	r, err := metadata.NewBuilder().
		SetID(id).
		SetEpoch(epoch).
		SetIncarnationID(uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(id)})).
		AddListener(types.Endpoint{ListenerName: "INTERNAL", SecurityProtocol: types.PLAINTEXT, Host: "localhost", Port: 9090 + uint16(id)}).
		SetSupportedFeature("metadata.version", types.VersionRange{Min: 1, Max: 11}).
		SetRack("rack-a").
		SetFenced(true).
		Build()
	require.NoError(t, err)
	return r
}

func applyRecord(t *testing.T, fsm *FSM, m record.ApiMessageAndVersion) any {
	data, err := EncodeLogEntry(m)
	require.NoError(t, err)
	return fsm.Apply(&raft.Log{Type: raft.LogCommand, Index: 1, Data: data})
}

func register(t *testing.T, fsm *FSM, r *metadata.BrokerRegistration) {
	res := applyRecord(t, fsm, r.ToRecord(metadata.NewImageWriterOptions(metadata.LatestMetadataVersion, nil)))
	require.Nil(t, res)
}

func TestApplyRegisterAndUnregister(t *testing.T) {
	fsm := NewFSM(1, metadata.LatestMetadataVersion, compress.NONE)
	register(t, fsm, testRegistration(t, 2, 1))
	register(t, fsm, testRegistration(t, 1, 1))

	got, ok := fsm.GetBroker(2)
	require.True(t, ok)
	assert.True(t, got.Equal(testRegistration(t, 2, 1)))
	assert.Equal(t, int64(2), fsm.NextEpoch(2))
	assert.Equal(t, int64(1), fsm.NextEpoch(7))

	brokers := fsm.Brokers()
	require.Len(t, brokers, 2)
	assert.Equal(t, int32(1), brokers[0].ID())

	// re-registering replaces
	register(t, fsm, testRegistration(t, 2, 5))
	got, _ = fsm.GetBroker(2)
	assert.Equal(t, int64(5), got.Epoch())

	res := applyRecord(t, fsm, record.ApiMessageAndVersion{Message: &record.UnregisterBrokerRecord{BrokerID: 2, BrokerEpoch: 1}})
	assert.ErrorIs(t, res.(error), ErrStaleEpoch)

	res = applyRecord(t, fsm, record.ApiMessageAndVersion{Message: &record.UnregisterBrokerRecord{BrokerID: 2, BrokerEpoch: 5}})
	assert.Nil(t, res)
	_, ok = fsm.GetBroker(2)
	assert.False(t, ok)

	res = applyRecord(t, fsm, record.ApiMessageAndVersion{Message: &record.UnregisterBrokerRecord{BrokerID: 2, BrokerEpoch: 5}})
	assert.ErrorIs(t, res.(error), ErrUnknownBroker)
}

func TestApplyRegistrationChange(t *testing.T) {
	fsm := NewFSM(1, metadata.LatestMetadataVersion, compress.NONE)
	original := testRegistration(t, 3, 4)
	register(t, fsm, original)
	assert.Empty(t, fsm.BrokerNodes("INTERNAL"))

	res := applyRecord(t, fsm, record.ApiMessageAndVersion{
		Message: &record.BrokerRegistrationChangeRecord{BrokerID: 3, BrokerEpoch: 4, Fenced: int8(metadata.Unfence)},
	})
	require.Nil(t, res)
	got, _ := fsm.GetBroker(3)
	assert.False(t, got.Fenced())
	assert.False(t, got.InControlledShutdown())
	assert.Equal(t, []types.Node{{NodeID: 3, Host: "localhost", Port: 9093, Rack: "rack-a"}}, fsm.BrokerNodes("INTERNAL"))
	assert.Empty(t, fsm.BrokerNodes("EXTERNAL"))

	res = applyRecord(t, fsm, record.ApiMessageAndVersion{
		Message: &record.BrokerRegistrationChangeRecord{BrokerID: 3, BrokerEpoch: 4, InControlledShutdown: int8(metadata.EnterControlledShutdown)},
		Version: 1,
	})
	require.Nil(t, res)
	got, _ = fsm.GetBroker(3)
	assert.False(t, got.Fenced())
	assert.True(t, got.InControlledShutdown())
	// the stored value was replaced, never mutated
	assert.True(t, original.Fenced())

	res = applyRecord(t, fsm, record.ApiMessageAndVersion{
		Message: &record.BrokerRegistrationChangeRecord{BrokerID: 3, BrokerEpoch: 4, Fenced: 3},
	})
	assert.Error(t, res.(error))

	res = applyRecord(t, fsm, record.ApiMessageAndVersion{
		Message: &record.BrokerRegistrationChangeRecord{BrokerID: 9, BrokerEpoch: 4, Fenced: 1},
	})
	assert.ErrorIs(t, res.(error), ErrUnknownBroker)
}

func TestApplyRejectsGarbage(t *testing.T) {
	fsm := NewFSM(1, metadata.LatestMetadataVersion, compress.NONE)
	res := fsm.Apply(&raft.Log{Type: raft.LogCommand, Data: []byte{1, 42, 0}})
	assert.ErrorIs(t, res.(error), record.ErrUnknownRecordType)

	res = fsm.Apply(&raft.Log{Type: raft.LogNoop})
	assert.Error(t, res.(error))
}

type testSink struct {
	bytes.Buffer
	cancelled bool
}

func (s *testSink) ID() string    { return "test" }
func (s *testSink) Cancel() error { s.cancelled = true; return nil }
func (s *testSink) Close() error  { return nil }

func TestSnapshotRestore(t *testing.T) {
	for _, compression := range []compress.CompressionType{compress.NONE, compress.GZIP, compress.SNAPPY, compress.LZ4, compress.ZSTD} {
		t.Run(compression.String(), func(t *testing.T) {
			fsm := NewFSM(1, metadata.LatestMetadataVersion, compression)
			for id := int32(1); id <= 3; id++ {
				register(t, fsm, testRegistration(t, id, int64(id)))
			}
			snapshot, err := fsm.Snapshot()
			require.NoError(t, err)
			// changes after the snapshot aren't part of it
			register(t, fsm, testRegistration(t, 4, 1))

			sink := &testSink{}
			require.NoError(t, snapshot.Persist(sink))
			snapshot.Release()
			assert.False(t, sink.cancelled)
			assert.Equal(t, byte(compression), sink.Bytes()[0])

			restored := NewFSM(2, metadata.LatestMetadataVersion, compress.NONE)
			register(t, restored, testRegistration(t, 9, 1))
			require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

			brokers := restored.Brokers()
			require.Len(t, brokers, 3)
			for i, r := range brokers {
				assert.True(t, r.Equal(testRegistration(t, int32(i+1), int64(i+1))))
			}
		})
	}
}

func TestSnapshotReportsLossAtOldVersion(t *testing.T) {
	var losses []string
	fsm := NewFSM(1, metadata.IBP_3_3_IV2, compress.NONE)
	fsm.LossHandler = func(err *metadata.UnwritableMetadataError) { losses = append(losses, err.Loss) }
	fsm.StoreBroker(testRegistration(t, 1, 1).CloneWith(nil, func() *bool { b := true; return &b }()))

	snapshot, err := fsm.Snapshot()
	require.NoError(t, err)
	sink := &testSink{}
	require.NoError(t, snapshot.Persist(sink))
	assert.Equal(t, []string{metadata.InControlledShutdownLoss}, losses)

	restored := NewFSM(1, metadata.IBP_3_3_IV2, compress.NONE)
	require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))
	got, ok := restored.GetBroker(1)
	require.True(t, ok)
	assert.False(t, got.InControlledShutdown())
}

func TestRestoreAggregatesErrors(t *testing.T) {
	good, err := record.Write(testRegistration(t, 1, 1).ToRecord(metadata.NewImageWriterOptions(metadata.LatestMetadataVersion, nil)))
	require.NoError(t, err)
	unregister, err := record.Write(record.ApiMessageAndVersion{Message: &record.UnregisterBrokerRecord{BrokerID: 1}})
	require.NoError(t, err)

	data := []byte{byte(compress.NONE)}
	for _, frame := range [][]byte{good, {1, 99, 0}, unregister} {
		data = append(data, byte(len(frame)))
		data = append(data, frame...)
	}

	fsm := NewFSM(1, metadata.LatestMetadataVersion, compress.NONE)
	err = fsm.Restore(io.NopCloser(bytes.NewReader(data)))
	require.Error(t, err)
	assert.ErrorIs(t, err, record.ErrUnknownRecordType)
	assert.Contains(t, err.Error(), "2 errors occurred")
	assert.Len(t, fsm.Brokers(), 1)

	assert.Error(t, fsm.Restore(io.NopCloser(bytes.NewReader([]byte{7, 1, 2}))))
	assert.Error(t, fsm.Restore(io.NopCloser(bytes.NewReader(nil))))
}

func TestEpochsSurviveUnregistration(t *testing.T) {
	fsm := NewFSM(1, metadata.LatestMetadataVersion, compress.ZSTD)
	register(t, fsm, testRegistration(t, 2, 5))
	res := applyRecord(t, fsm, record.ApiMessageAndVersion{Message: &record.UnregisterBrokerRecord{BrokerID: 2, BrokerEpoch: 5}})
	require.Nil(t, res)
	assert.Equal(t, int64(6), fsm.NextEpoch(2))

	// a registration at a lower epoch doesn't lower the next one
	register(t, fsm, testRegistration(t, 2, 3))
	assert.Equal(t, int64(6), fsm.NextEpoch(2))
	register(t, fsm, testRegistration(t, 3, 1))
	res = applyRecord(t, fsm, record.ApiMessageAndVersion{Message: &record.UnregisterBrokerRecord{BrokerID: 3, BrokerEpoch: 1}})
	require.Nil(t, res)

	snapshot, err := fsm.Snapshot()
	require.NoError(t, err)
	sink := &testSink{}
	require.NoError(t, snapshot.Persist(sink))

	restored := NewFSM(1, metadata.LatestMetadataVersion, compress.NONE)
	require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))
	brokers := restored.Brokers()
	require.Len(t, brokers, 1)
	assert.Equal(t, int64(3), brokers[0].Epoch())
	assert.Equal(t, int64(6), restored.NextEpoch(2))
	assert.Equal(t, int64(2), restored.NextEpoch(3))
	assert.Equal(t, int64(1), restored.NextEpoch(4))
}
