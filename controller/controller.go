package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/CefBoud/monkafka-registry/compress"
	log "github.com/CefBoud/monkafka-registry/logging"
	"github.com/CefBoud/monkafka-registry/metadata"
	"github.com/CefBoud/monkafka-registry/raft"
	"github.com/CefBoud/monkafka-registry/record"
	"github.com/CefBoud/monkafka-registry/types"
	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-multierror"
	hraft "github.com/hashicorp/raft"
	"github.com/hashicorp/serf/serf"
)

const (
	// serfEventChSize is the size of the buffered channel to get Serf
	// events. If this is exhausted we will block Serf and Memberlist.
	serfEventChSize = 2048

	raftApplyTimeout = 10 * time.Second
)

// LeaveDrainTime is how long Shutdown waits after leaving serf so other nodes get notified
var LeaveDrainTime = 5 * time.Second

// BrokersGaugeKey reports the number of registered brokers
var BrokersGaugeKey = []string{"registry", "brokers"}

// BrokerSource lists registrations to import, such as the brokers of a ZooKeeper cluster
type BrokerSource interface {
	Brokers(ctx context.Context) ([]*metadata.BrokerRegistration, error)
}

// Controller is a registry node. The raft leader is the cluster's controller:
// it turns serf membership into broker registration records.
type Controller struct {
	Config         *types.Configuration
	ShutDownSignal chan bool
	Serf           *serf.Serf  // Serf cluster the brokers gossip their registrations in
	Raft           *hraft.Raft // Raft cluster replicating the metadata log
	FSM            *raft.FSM
	// IncarnationID identifies this process; a restarted node registers with a new one
	IncarnationID uuid.UUID
	Options       *metadata.ImageWriterOptions

	RaftNotifyCh <-chan bool     // raftNotifyCh ensures that we get reliable leader transition notifications from the Raft layer.
	SerfEventCh  chan serf.Event // eventCh is used to receive events from the serf cluster

	// serializes read-modify-write of registrations
	writeLock sync.Mutex
	shutdown  sync.Once
}

// NewController creates a new Controller with the provided configuration
func NewController(config *types.Configuration) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	version, err := metadata.ParseMetadataVersion(config.MetadataVersion)
	if err != nil {
		return nil, err
	}
	compression, err := compress.ParseCompressionType(config.SnapshotCompression)
	if err != nil {
		return nil, err
	}
	if config.SerfConfig == nil {
		config.SerfConfig = serf.DefaultConfig()
	}
	if config.RaftID == "" {
		config.RaftID = fmt.Sprintf("raft-broker-%d", config.NodeID)
	}
	return &Controller{
		Config:         config,
		ShutDownSignal: make(chan bool),
		FSM:            raft.NewFSM(int32(config.NodeID), version, compression),
		IncarnationID:  uuid.New(),
		Options:        metadata.NewImageWriterOptions(version, nil),
		SerfEventCh:    make(chan serf.Event, serfEventChSize),
	}, nil
}

// Startup starts raft and serf and the goroutines reacting to them
func (c *Controller) Startup() error {
	c.Config.LogDir = filepath.Join(c.Config.LogDir, fmt.Sprintf("MonKafka-%v", c.Config.NodeID))

	if c.Config.Dev {
		if err := c.SetupInmemRaft(); err != nil {
			return fmt.Errorf("raft setup failed: %w", err)
		}
	} else {
		if err := c.SetupRaft(); err != nil {
			return fmt.Errorf("raft setup failed: %w", err)
		}
		if err := c.SetupSerf(); err != nil {
			return fmt.Errorf("serf setup failed: %w", err)
		}
		go c.handleSerfEvent()
	}
	go c.monitorLeadership()
	go c.printClusteringInfo()
	return nil
}

// Shutdown gracefully shuts down the controller and its components
func (c *Controller) Shutdown() {
	c.shutdown.Do(c.doShutdown)
}

func (c *Controller) doShutdown() {
	// close ShutDownSignal so any goroutine waiting on it will run
	close(c.ShutDownSignal)
	log.Info("Controller shutting down...")

	if c.Raft != nil && c.IsController() {
		raftServers, err := c.getRaftServers()
		if err != nil {
			log.Error("failed to get raft server %v", err)
		} else if len(raftServers) > 2 {
			log.Info("Node is raft leader and there are >2 raft servers, removing self")
			future := c.Raft.RemoveServer(hraft.ServerID(c.Config.RaftID), 0, 0)
			if err := future.Error(); err != nil {
				log.Error("failed to remove self from raft cluster %v", err)
			}
		}
	}

	if c.Serf != nil {
		log.Info("Shutting down Serf ...")
		if err := c.Serf.Leave(); err != nil {
			log.Error("Serf leave failed: %s", err)
		}
		log.Info("Waiting a bit after Serf leaving to allow other servers to be notified")
		time.Sleep(LeaveDrainTime)
		c.Serf.Shutdown()
	}

	if c.Raft != nil {
		future := c.Raft.Shutdown()
		if err := future.Error(); err != nil {
			log.Warn("error shutting down raft:  %v", err)
		}
	}
}

func (c *Controller) getRaftServers() ([]hraft.Server, error) {
	configFuture := c.Raft.GetConfiguration()
	if err := configFuture.Error(); err != nil {
		return nil, fmt.Errorf("can't get raft configuration: %w", err)
	}
	return configFuture.Configuration().Servers, nil
}

// AppendRaftEntry adds a metadata record to the raft log and waits for the FSM to apply it
func (c *Controller) AppendRaftEntry(m record.ApiMessageAndVersion) error {
	bytes, err := raft.EncodeLogEntry(m)
	if err != nil {
		return err
	}
	future := c.Raft.Apply(bytes, raftApplyTimeout)
	if err := future.Error(); err != nil {
		return err
	}
	if err, ok := future.Response().(error); ok && err != nil {
		return err
	}
	log.Debug("added entry to raft: %v", m)
	return nil
}

// IsController return if the node is the cluster's controller which is also the raft leader
func (c *Controller) IsController() bool {
	return c.Raft.State() == hraft.Leader
}

// RegisterBroker writes a registration for r's broker id. The epoch is
// assigned here: one more than the current registration's, 1 for a new broker.
// The stored registration is returned.
func (c *Controller) RegisterBroker(r *metadata.BrokerRegistration) (*metadata.BrokerRegistration, error) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	r, err := withEpoch(r, c.FSM.NextEpoch(r.ID()))
	if err != nil {
		return nil, err
	}
	if err := c.AppendRaftEntry(r.ToRecord(c.Options)); err != nil {
		return nil, fmt.Errorf("could not register broker %d: %w", r.ID(), err)
	}
	log.Info("Registered broker %d at epoch %d", r.ID(), r.Epoch())
	return r, nil
}

// UnregisterBroker removes the current registration of brokerID
func (c *Controller) UnregisterBroker(brokerID int32) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	current, ok := c.FSM.GetBroker(brokerID)
	if !ok {
		return fmt.Errorf("%w: %d", raft.ErrUnknownBroker, brokerID)
	}
	return c.AppendRaftEntry(record.ApiMessageAndVersion{
		Message: &record.UnregisterBrokerRecord{BrokerID: brokerID, BrokerEpoch: current.Epoch()},
	})
}

// FenceBroker fences the current registration of brokerID
func (c *Controller) FenceBroker(brokerID int32) error {
	return c.changeRegistration(brokerID, metadata.Fence, metadata.NoControlledShutdownChange)
}

// UnfenceBroker unfences the current registration of brokerID
func (c *Controller) UnfenceBroker(brokerID int32) error {
	return c.changeRegistration(brokerID, metadata.Unfence, metadata.NoControlledShutdownChange)
}

// BeginControlledShutdown moves brokerID into controlled shutdown. Metadata
// versions without the controlled shutdown state can't record it: the loss is
// reported and the broker is fenced instead.
func (c *Controller) BeginControlledShutdown(brokerID int32) error {
	if !c.Options.IsInControlledShutdownStateSupported() {
		c.Options.HandleLoss(metadata.InControlledShutdownLoss)
		return c.FenceBroker(brokerID)
	}
	return c.changeRegistration(brokerID, metadata.NoFencingChange, metadata.EnterControlledShutdown)
}

func (c *Controller) changeRegistration(brokerID int32, fencing metadata.FencingChange, shutdown metadata.InControlledShutdownChange) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	current, ok := c.FSM.GetBroker(brokerID)
	if !ok {
		return fmt.Errorf("%w: %d", raft.ErrUnknownBroker, brokerID)
	}
	if current.CloneWith(fencing.AsBool(), shutdown.AsBool()) == current {
		return nil
	}
	return c.AppendRaftEntry(record.ApiMessageAndVersion{
		Message: &record.BrokerRegistrationChangeRecord{
			BrokerID:             brokerID,
			BrokerEpoch:          current.Epoch(),
			Fenced:               int8(fencing),
			InControlledShutdown: int8(shutdown),
		},
		Version: c.Options.BrokerRegistrationChangeRecordVersion(),
	})
}

// ImportZkBrokers writes the registrations listed by source as they are,
// epochs included. Brokers already registered at the same epoch are skipped.
func (c *Controller) ImportZkBrokers(ctx context.Context, source BrokerSource) (int, error) {
	registrations, scanErr := source.Brokers(ctx)
	if scanErr != nil {
		log.Warn("ZooKeeper scan reported errors: %v", scanErr)
	}
	imported := 0
	for _, r := range registrations {
		if current, ok := c.FSM.GetBroker(r.ID()); ok && current.Epoch() == r.Epoch() {
			continue
		}
		if err := c.AppendRaftEntry(r.ToRecord(c.Options)); err != nil {
			return imported, multierror.Append(scanErr, fmt.Errorf("could not import broker %d: %w", r.ID(), err))
		}
		imported++
	}
	log.Info("Imported %d ZooKeeper brokers", imported)
	return imported, scanErr
}

// withEpoch returns r with the given epoch, fenced as every new registration is
func withEpoch(r *metadata.BrokerRegistration, epoch int64) (*metadata.BrokerRegistration, error) {
	var rack *string
	if v, ok := r.Rack(); ok {
		rack = &v
	}
	var migratingZkBrokerEpoch *int64
	if v, ok := r.MigratingZkBrokerEpoch(); ok {
		migratingZkBrokerEpoch = &v
	}
	return metadata.NewBrokerRegistration(r.ID(), epoch, r.IncarnationID(), r.Listeners(), r.SupportedFeatures(),
		rack, true, false, migratingZkBrokerEpoch)
}

func (c *Controller) printClusteringInfo() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			leaderAddr, leaderID := c.Raft.LeaderWithID()
			if c.Serf != nil {
				log.Debug("Serf members:  %v", c.Serf.Members())
			}
			log.Debug("Raft LeaderAddr: [%v] - leaderID [%v]", leaderAddr, leaderID)
			metrics.SetGauge(BrokersGaugeKey, float32(len(c.FSM.Brokers())))
		case <-c.ShutDownSignal:
			return
		}
	}
}
