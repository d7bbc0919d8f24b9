package controller

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/CefBoud/monkafka-registry/logging"
	"github.com/CefBoud/monkafka-registry/metadata"
	"github.com/CefBoud/monkafka-registry/types"
	"github.com/CefBoud/monkafka-registry/utils"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/serf/serf"
)

// LocalRegistration is the registration this node advertises for itself:
// its configured listeners, the metadata versions it supports and its rack.
func (c *Controller) LocalRegistration() (*metadata.BrokerRegistration, error) {
	endpoints, err := c.Config.Endpoints()
	if err != nil {
		return nil, err
	}
	builder := metadata.NewBuilder().
		SetID(int32(c.Config.NodeID)).
		SetIncarnationID(c.IncarnationID).
		SetFenced(true).
		SetSupportedFeature(metadata.FeatureName, types.VersionRange{
			Min: metadata.MinimumKRaftVersion.FeatureLevel(),
			Max: c.Options.MetadataVersion().FeatureLevel(),
		})
	for _, endpoint := range endpoints {
		if endpoint.Host, err = utils.AdvertisedHost(endpoint.Host); err != nil {
			return nil, err
		}
		builder.AddListener(endpoint)
	}
	if c.Config.Rack != "" {
		builder.SetRack(c.Config.Rack)
	}
	return builder.Build()
}

// localTags are the serf tags of this node
func (c *Controller) localTags() (map[string]string, error) {
	registration, err := c.LocalRegistration()
	if err != nil {
		return nil, err
	}
	tags := RegistrationTags(registration)
	tags[tagRaftServerID] = c.Config.RaftID
	tags[tagRaftAddr] = c.Config.RaftAddress
	return tags, nil
}

// SetupSerf to setup the serf agent and maybe join a serf cluster
func (c *Controller) SetupSerf() error {
	var err error
	conf := c.Config.SerfConfig
	conf.Init()
	conf.NodeName = c.Config.RaftID
	bindIP, bindPort, err := net.SplitHostPort(c.Config.SerfAddress)
	if err != nil {
		return err
	}
	log.Debug("SetupSerf: bindIP=%v bindPort=%v", bindIP, bindPort)
	conf.MemberlistConfig.BindAddr = bindIP
	conf.MemberlistConfig.BindPort, err = strconv.Atoi(bindPort)
	if err != nil {
		return err
	}
	logger := log.Logger().Named("serf").StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})
	conf.Logger = logger
	conf.MemberlistConfig.Logger = logger

	tags, err := c.localTags()
	if err != nil {
		return err
	}
	for k, v := range tags {
		conf.Tags[k] = v
	}

	conf.EventCh = c.SerfEventCh
	conf.SnapshotPath = filepath.Join(c.Config.LogDir, "serf-snapshot")

	if err = utils.EnsurePath(conf.SnapshotPath, false); err != nil {
		return fmt.Errorf("could not serf SnapshotPath dir: %w", err)
	}

	c.Serf, err = serf.Create(conf)
	if err != nil {
		return fmt.Errorf("could not create serf: %w", err)
	}

	if len(c.Config.SerfJoinAddress) > 0 {
		existingSerfNodes := strings.Split(c.Config.SerfJoinAddress, ",")
		log.Info("joining serf nodes: %v", existingSerfNodes)
		n, err := c.Serf.Join(existingSerfNodes, true)
		if err != nil {
			log.Error("Couldn't join cluster, starting own: %v", err)
		} else {
			log.Info("Serf join: successfully contacted %v node. Members: %v", n, c.Serf.Members())
		}
	}
	return nil
}

func (c *Controller) handleSerfEvent() {
	for {
		select {
		case e := <-c.SerfEventCh:
			log.Debug("serf EventType: %v", e.EventType())
			var err error
			switch e.EventType() {
			case serf.EventMemberJoin, serf.EventMemberUpdate:
				err = c.handleSerfMemberJoin(e.(serf.MemberEvent))
			case serf.EventMemberFailed:
				// a node is moved from `fail` to `reap` (completely ousted from the cluster) after `reconnect_timeout` (defaults to 24h)
				err = c.handleSerfMemberFailed(e.(serf.MemberEvent))
			case serf.EventMemberReap, serf.EventMemberLeave:
				err = c.handleSerfMemberLeft(e.(serf.MemberEvent))
			}
			if err != nil {
				log.Error("handleSerfEvent %v: %v", e.EventType(), err)
			}
		case <-c.ShutDownSignal:
			return
		}
	}
}

// members returns the serf members, or only this node when running without serf
func (c *Controller) members() ([]serf.Member, error) {
	if c.Serf != nil {
		return c.Serf.Members(), nil
	}
	tags, err := c.localTags()
	if err != nil {
		return nil, err
	}
	return []serf.Member{{Name: c.Config.RaftID, Tags: tags, Status: serf.StatusAlive}}, nil
}
