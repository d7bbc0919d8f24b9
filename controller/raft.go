package controller

import (
	"fmt"
	"net"
	"path"
	"time"

	"github.com/CefBoud/monkafka-registry/logging"
	"github.com/CefBoud/monkafka-registry/utils"
	hraft "github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

func (c *Controller) raftConfig() *hraft.Config {
	raftCfg := hraft.DefaultConfig()
	raftCfg.Logger = logging.Logger().Named("raft")
	raftCfg.LocalID = hraft.ServerID(c.Config.RaftID)

	// Set up a channel for reliable leader notifications.
	raftNotifyCh := make(chan bool, 1)
	raftCfg.NotifyCh = raftNotifyCh
	c.RaftNotifyCh = raftNotifyCh
	return raftCfg
}

// SetupRaft inits Raft on a bolt store under the log dir
func (c *Controller) SetupRaft() error {
	raftAddress := c.Config.RaftAddress
	dir := path.Join(c.Config.LogDir, "raft"+c.Config.RaftID)
	if err := utils.EnsurePath(dir, true); err != nil {
		return fmt.Errorf("could not create data directory: %w", err)
	}

	store, err := raftboltdb.NewBoltStore(path.Join(dir, "bolt"))
	if err != nil {
		return fmt.Errorf("could not create bolt store: %w", err)
	}

	snapshots, err := hraft.NewFileSnapshotStoreWithLogger(path.Join(dir, "snapshot"), 2, logging.Logger().Named("snapshot"))
	if err != nil {
		return fmt.Errorf("could not create snapshot store: %w", err)
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", raftAddress)
	if err != nil {
		return fmt.Errorf("could not resolve address: %w", err)
	}

	transport, err := hraft.NewTCPTransportWithLogger(raftAddress, tcpAddr, 10, 10*time.Second, logging.Logger().Named("transport"))
	if err != nil {
		return fmt.Errorf("could not create tcp transport: %w", err)
	}

	return c.startRaft(store, store, snapshots, transport)
}

// SetupInmemRaft inits a Raft that keeps everything in memory, for dev mode and tests
func (c *Controller) SetupInmemRaft() error {
	store := hraft.NewInmemStore()
	_, transport := hraft.NewInmemTransport(hraft.ServerAddress(c.Config.RaftAddress))
	c.Config.Bootstrap = true
	return c.startRaft(store, store, hraft.NewInmemSnapshotStore(), transport)
}

func (c *Controller) startRaft(logs hraft.LogStore, stable hraft.StableStore, snapshots hraft.SnapshotStore, transport hraft.Transport) error {
	var err error
	raftCfg := c.raftConfig()
	c.Raft, err = hraft.NewRaft(raftCfg, c.FSM, logs, stable, snapshots, transport)
	if err != nil {
		return fmt.Errorf("could not create raft instance: %w", err)
	}

	if c.Config.Bootstrap {
		logging.Info("bootstrapping raft with nodeID %v ....", raftCfg.LocalID)
		hasState, err := hraft.HasExistingState(logs, stable, snapshots)
		if err != nil {
			return err
		}
		if !hasState {
			future := c.Raft.BootstrapCluster(hraft.Configuration{
				Servers: []hraft.Server{
					{
						ID:      raftCfg.LocalID,
						Address: transport.LocalAddr(),
					},
				},
			})
			if err := future.Error(); err != nil {
				logging.Error(" bootstrap cluster error: %s", err)
			}
		}
	}
	return nil
}
