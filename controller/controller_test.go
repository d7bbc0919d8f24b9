package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CefBoud/monkafka-registry/metadata"
	"github.com/CefBoud/monkafka-registry/raft"
	"github.com/CefBoud/monkafka-registry/record"
	"github.com/CefBoud/monkafka-registry/types"
	"github.com/CefBoud/monkafka-registry/zkmigration"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	hraft "github.com/hashicorp/raft"
	"github.com/hashicorp/serf/serf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, version string) *types.Configuration {
	return &types.Configuration{
		LogDir:              t.TempDir(),
		NodeID:              1,
		Dev:                 true,
		RaftAddress:         "node-1",
		Listeners:           []string{"PLAINTEXT://localhost:9092"},
		Rack:                "rack-a",
		MetadataVersion:     version,
		SnapshotCompression: "zstd",
	}
}

// testController returns the leader of a single node in-memory raft cluster
func testController(t *testing.T, version string) *Controller {
	c, err := NewController(testConfig(t, version))
	require.NoError(t, err)
	require.NoError(t, c.SetupInmemRaft())
	t.Cleanup(func() { c.Raft.Shutdown() })
	require.Eventually(t, c.IsController, 5*time.Second, 10*time.Millisecond)
	return c
}

func testRegistration(t *testing.T, id int32) *metadata.BrokerRegistration {
	r, err := metadata.NewBuilder().
		SetID(id).
		SetIncarnationID(uuid.New()).
		AddListener(types.Endpoint{ListenerName: "INTERNAL", SecurityProtocol: types.SASL_SSL, Host: "broker", Port: 9093}).
		AddListener(types.Endpoint{ListenerName: "EXTERNAL", SecurityProtocol: types.SecurityProtocol(42), Host: "broker.example.com", Port: 19093}).
		SetSupportedFeature(metadata.FeatureName, types.VersionRange{Min: 1, Max: 11}).
		SetRack("rack-b").
		Build()
	require.NoError(t, err)
	return r
}

func TestRegisterBrokerAssignsEpochs(t *testing.T) {
	c := testController(t, "3.5")

	r := testRegistration(t, 5)
	stored, err := c.RegisterBroker(r)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Epoch())
	assert.True(t, stored.Fenced())

	got, ok := c.FSM.GetBroker(5)
	require.True(t, ok)
	assert.True(t, got.Equal(stored))

	stored, err = c.RegisterBroker(r)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Epoch())
}

func TestFencingAndControlledShutdown(t *testing.T) {
	c := testController(t, "3.5")
	_, err := c.RegisterBroker(testRegistration(t, 5))
	require.NoError(t, err)

	require.NoError(t, c.UnfenceBroker(5))
	got, _ := c.FSM.GetBroker(5)
	assert.False(t, got.Fenced())

	// no change, nothing written
	require.NoError(t, c.UnfenceBroker(5))

	require.NoError(t, c.BeginControlledShutdown(5))
	got, _ = c.FSM.GetBroker(5)
	assert.True(t, got.InControlledShutdown())
	assert.False(t, got.Fenced())

	require.NoError(t, c.FenceBroker(5))
	got, _ = c.FSM.GetBroker(5)
	assert.True(t, got.Fenced())
	assert.True(t, got.InControlledShutdown())

	assert.ErrorIs(t, c.FenceBroker(6), raft.ErrUnknownBroker)
}

func TestControlledShutdownFallsBackToFencing(t *testing.T) {
	c := testController(t, "3.3-IV2")
	var losses []string
	c.Options = metadata.NewImageWriterOptions(c.Options.MetadataVersion(), func(err *metadata.UnwritableMetadataError) {
		losses = append(losses, err.Loss)
	})
	_, err := c.RegisterBroker(testRegistration(t, 5))
	require.NoError(t, err)
	require.NoError(t, c.UnfenceBroker(5))

	require.NoError(t, c.BeginControlledShutdown(5))
	got, _ := c.FSM.GetBroker(5)
	assert.True(t, got.Fenced())
	assert.False(t, got.InControlledShutdown())
	assert.Equal(t, []string{metadata.InControlledShutdownLoss}, losses)
}

func TestUnregisterBroker(t *testing.T) {
	c := testController(t, "3.5")
	_, err := c.RegisterBroker(testRegistration(t, 5))
	require.NoError(t, err)

	require.NoError(t, c.UnregisterBroker(5))
	_, ok := c.FSM.GetBroker(5)
	assert.False(t, ok)
	assert.ErrorIs(t, c.UnregisterBroker(5), raft.ErrUnknownBroker)

	// the id comes back at a later epoch, so records of the old one are stale
	stored, err := c.RegisterBroker(testRegistration(t, 5))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Epoch())
	err = c.AppendRaftEntry(record.ApiMessageAndVersion{
		Message: &record.BrokerRegistrationChangeRecord{BrokerID: 5, BrokerEpoch: 1, Fenced: int8(metadata.Unfence)},
	})
	assert.ErrorIs(t, err, raft.ErrStaleEpoch)
}

func TestImportZkBrokers(t *testing.T) {
	c := testController(t, "3.5")
	stub := zkmigration.NewStub()
	stub.Set("/brokers/ids/1001", `{"endpoints":["PLAINTEXT://kafka-1001:9092"],"listener_security_protocol_map":{"PLAINTEXT":"PLAINTEXT"},"rack":"a"}`)
	stub.Set("/brokers/ids/1002", `{"endpoints":["PLAINTEXT://kafka-1002:9092"],"listener_security_protocol_map":{"PLAINTEXT":"PLAINTEXT"}}`)
	scanner, err := zkmigration.NewScanner(stub, "", 8)
	require.NoError(t, err)

	imported, err := c.ImportZkBrokers(context.Background(), scanner)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)

	got, ok := c.FSM.GetBroker(1001)
	require.True(t, ok)
	assert.True(t, got.IsMigratingZkBroker())
	epoch, _ := got.MigratingZkBrokerEpoch()
	assert.Equal(t, got.Epoch(), epoch)

	imported, err = c.ImportZkBrokers(context.Background(), scanner)
	require.NoError(t, err)
	assert.Equal(t, 0, imported)
}

func TestImportZkBrokersBeforeMigrationSupport(t *testing.T) {
	c := testController(t, "3.3-IV3")
	var losses []string
	c.Options = metadata.NewImageWriterOptions(c.Options.MetadataVersion(), func(err *metadata.UnwritableMetadataError) {
		losses = append(losses, err.Loss)
	})
	stub := zkmigration.NewStub()
	stub.Set("/brokers/ids/1001", `{"endpoints":["PLAINTEXT://kafka-1001:9092"],"listener_security_protocol_map":{"PLAINTEXT":"PLAINTEXT"}}`)
	scanner, err := zkmigration.NewScanner(stub, "", 8)
	require.NoError(t, err)

	_, err = c.ImportZkBrokers(context.Background(), scanner)
	require.NoError(t, err)
	assert.Equal(t, []string{metadata.MigratingZkBrokerLoss}, losses)
	got, ok := c.FSM.GetBroker(1001)
	require.True(t, ok)
	assert.False(t, got.IsMigratingZkBroker())
}

func TestRegistrationTagsRoundTrip(t *testing.T) {
	r := testRegistration(t, 7)
	decoded, err := RegistrationFromTags(RegistrationTags(r), r.Epoch())
	require.NoError(t, err)
	assert.True(t, decoded.Equal(r.CloneWith(func() *bool { b := true; return &b }(), nil)), "%v != %v", decoded, r)

	tags := RegistrationTags(r)
	delete(tags, tagRack)
	decoded, err = RegistrationFromTags(tags, 1)
	require.NoError(t, err)
	_, ok := decoded.Rack()
	assert.False(t, ok)

	for _, bad := range []map[string]string{
		{tagID: "x"},
		{tagID: "1", tagIncarnationID: "nope"},
		{tagID: "1", tagIncarnationID: uuid.NewString(), tagFeatures: "metadata.version=1"},
		{tagID: "1", tagIncarnationID: uuid.NewString(), tagListeners: "CUSTOM://h:1"},
	} {
		_, err := RegistrationFromTags(bad, 1)
		assert.Error(t, err, bad)
	}
}

func member(r *metadata.BrokerRegistration, status serf.MemberStatus) serf.Member {
	return serf.Member{Name: r.IncarnationID().String(), Tags: RegistrationTags(r), Status: status}
}

func TestSerfMembershipDrivesRegistrations(t *testing.T) {
	c := testController(t, "3.5")
	r := testRegistration(t, 8)
	event := serf.MemberEvent{Type: serf.EventMemberJoin, Members: []serf.Member{member(r, serf.StatusAlive)}}

	require.NoError(t, c.handleSerfMemberJoin(event))
	got, ok := c.FSM.GetBroker(8)
	require.True(t, ok)
	assert.False(t, got.Fenced())
	assert.Equal(t, int64(1), got.Epoch())

	// an unchanged member keeps its epoch
	require.NoError(t, c.handleSerfMemberJoin(event))
	got, _ = c.FSM.GetBroker(8)
	assert.Equal(t, int64(1), got.Epoch())

	require.NoError(t, c.handleSerfMemberFailed(serf.MemberEvent{Members: event.Members}))
	got, _ = c.FSM.GetBroker(8)
	assert.True(t, got.Fenced())

	// the broker comes back
	require.NoError(t, c.handleSerfMemberJoin(event))
	got, _ = c.FSM.GetBroker(8)
	assert.False(t, got.Fenced())
	assert.Equal(t, int64(1), got.Epoch())

	// a restart registers a new incarnation at the next epoch
	restarted := testRegistration(t, 8)
	require.NoError(t, c.handleSerfMemberJoin(serf.MemberEvent{Members: []serf.Member{member(restarted, serf.StatusAlive)}}))
	got, _ = c.FSM.GetBroker(8)
	assert.Equal(t, int64(2), got.Epoch())
	assert.Equal(t, restarted.IncarnationID(), got.IncarnationID())

	// leave of the old incarnation doesn't touch the new one
	require.NoError(t, c.handleSerfMemberLeft(event))
	_, ok = c.FSM.GetBroker(8)
	assert.True(t, ok)

	require.NoError(t, c.handleSerfMemberLeft(serf.MemberEvent{Members: []serf.Member{member(restarted, serf.StatusLeft)}}))
	_, ok = c.FSM.GetBroker(8)
	assert.False(t, ok)

	// non brokers are ignored
	require.NoError(t, c.handleSerfMemberJoin(serf.MemberEvent{Members: []serf.Member{{Name: "client", Tags: map[string]string{tagRole: "client"}}}}))
	assert.Empty(t, c.FSM.Brokers())
}

func TestDevStartupRegistersItself(t *testing.T) {
	c, err := NewController(testConfig(t, "3.5"))
	require.NoError(t, err)
	require.NoError(t, c.Startup())
	t.Cleanup(c.Shutdown)

	require.Eventually(t, func() bool {
		r, ok := c.FSM.GetBroker(1)
		return ok && !r.Fenced()
	}, 5*time.Second, 10*time.Millisecond)

	r, _ := c.FSM.GetBroker(1)
	assert.Equal(t, c.IncarnationID, r.IncarnationID())
	rack, _ := r.Rack()
	assert.Equal(t, "rack-a", rack)
	assert.Equal(t, types.VersionRange{Min: 1, Max: 11}, r.SupportedFeatures()[metadata.FeatureName])
	assert.Equal(t, []types.Node{{NodeID: 1, Host: "localhost", Port: 9092, Rack: "rack-a"}}, c.FSM.BrokerNodes("PLAINTEXT"))
}

func TestNewControllerRejectsBadConfig(t *testing.T) {
	config := testConfig(t, "2.8")
	_, err := NewController(config)
	assert.Error(t, err)

	config = testConfig(t, "3.5")
	config.SnapshotCompression = "brotli"
	_, err = NewController(config)
	assert.Error(t, err)

	config = testConfig(t, "3.5")
	config.Listeners = []string{"CUSTOM://localhost:1"}
	_, err = NewController(config)
	assert.Error(t, err)
}

type failingSource struct {
	registrations []*metadata.BrokerRegistration
	err           error
}

func (s failingSource) Brokers(context.Context) ([]*metadata.BrokerRegistration, error) {
	return s.registrations, s.err
}

func TestImportZkBrokersCollectsErrors(t *testing.T) {
	c := testController(t, "3.5")
	scanErr := errors.New("broker 1003 unreadable")
	require.NoError(t, c.Raft.Shutdown().Error())

	imported, err := c.ImportZkBrokers(context.Background(), failingSource{
		registrations: []*metadata.BrokerRegistration{testRegistration(t, 1001)},
		err:           scanErr,
	})
	assert.Equal(t, 0, imported)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
	assert.ErrorIs(t, err, scanErr)
	assert.ErrorIs(t, err, hraft.ErrRaftShutdown)
}
