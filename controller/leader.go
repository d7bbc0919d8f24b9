package controller

import (
	log "github.com/CefBoud/monkafka-registry/logging"
	"github.com/hashicorp/go-multierror"
	hraft "github.com/hashicorp/raft"
	"github.com/hashicorp/serf/serf"
)

func isBroker(m serf.Member) bool {
	return m.Tags[tagRole] == roleBroker
}

func (c *Controller) handleSerfMemberJoin(event serf.MemberEvent) error {
	if !c.IsController() {
		// the next leader reconciles every member when it takes over
		log.Debug("handleSerfMemberJoin: node is not the leader, ignoring join event")
		return nil
	}

	newMembers := make(map[string]serf.Member)
	for _, m := range event.Members {
		if !isBroker(m) {
			log.Info("handleSerfMemberJoin: new member [%v - %v] is not a broker", m.Name, m.Addr)
			continue
		}
		if raftAddr := m.Tags[tagRaftAddr]; raftAddr != "" {
			newMembers[raftAddr] = m
		}
	}
	if err := c.addVoters(newMembers); err != nil {
		return err
	}

	var result *multierror.Error
	for _, m := range event.Members {
		if isBroker(m) {
			if err := c.registerMember(m); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// addVoters adds the members, keyed by raft address, that aren't raft servers yet
func (c *Controller) addVoters(newMembers map[string]serf.Member) error {
	if len(newMembers) == 0 {
		return nil
	}
	raftServers, err := c.getRaftServers()
	if err != nil {
		return err
	}
	for _, server := range raftServers {
		for raftAddr, m := range newMembers {
			if server.Address == hraft.ServerAddress(raftAddr) || server.ID == hraft.ServerID(m.Tags[tagRaftServerID]) {
				log.Debug("handleSerfMemberJoin: member [%v] already in raft cluster", raftAddr)
				delete(newMembers, raftAddr)
			}
		}
	}
	for raftAddr, m := range newMembers {
		log.Info("handleSerfMemberJoin: adding voter to the raft cluster with addr %s", raftAddr)
		err := c.Raft.AddVoter(hraft.ServerID(m.Tags[tagRaftServerID]), hraft.ServerAddress(raftAddr), 0, 0).Error()
		if err != nil {
			log.Error("Failed to add follower: %s", err)
			return err
		}
	}
	return nil
}

// registerMember registers an alive broker, fenced at a new epoch, then unfences it.
// A member whose registration is unchanged keeps its epoch and is only unfenced.
func (c *Controller) registerMember(m serf.Member) error {
	id, err := brokerIDFromTags(m.Tags)
	if err != nil {
		return err
	}
	current, registered := c.FSM.GetBroker(id)
	var epoch int64
	if registered {
		epoch = current.Epoch()
	}
	candidate, err := RegistrationFromTags(m.Tags, epoch)
	if err != nil {
		return err
	}
	if registered {
		fenced, inControlledShutdown := current.Fenced(), current.InControlledShutdown()
		if candidate.CloneWith(&fenced, &inControlledShutdown).Equal(current) {
			if !fenced {
				return nil
			}
			return c.UnfenceBroker(id)
		}
	}
	if _, err := c.RegisterBroker(candidate); err != nil {
		return err
	}
	return c.UnfenceBroker(id)
}

// handleSerfMemberFailed fences the failed brokers; they stay registered until they leave or are reaped
func (c *Controller) handleSerfMemberFailed(event serf.MemberEvent) error {
	if !c.IsController() {
		log.Debug("handleSerfMemberFailed: node is not the leader, ignoring failed event")
		return nil
	}
	var result *multierror.Error
	for _, m := range event.Members {
		if !isBroker(m) {
			continue
		}
		if id, registered := c.registeredMember(m); registered {
			log.Info("handleSerfMemberFailed: fencing broker %d", id)
			if err := c.FenceBroker(id); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

func (c *Controller) handleSerfMemberLeft(event serf.MemberEvent) error {
	if !c.IsController() {
		log.Debug("handleSerfMemberLeft: node is not the leader, ignoring left/reap event")
		return nil
	}

	eventMembers := make(map[string]serf.Member)
	for _, m := range event.Members {
		if !isBroker(m) {
			log.Info("handleSerfMemberLeft: member [%v - %v] is not a broker", m.Name, m.Addr)
			continue
		}
		if raftAddr := m.Tags[tagRaftAddr]; raftAddr != "" {
			eventMembers[raftAddr] = m
		}
	}

	if len(eventMembers) > 0 {
		raftServers, err := c.getRaftServers()
		if err != nil {
			return err
		}
		for _, server := range raftServers {
			if server.ID == hraft.ServerID(c.Config.RaftID) {
				continue
			}
			if _, ok := eventMembers[string(server.Address)]; ok || leavingServer(eventMembers, server.ID) {
				log.Info("handleSerfMemberLeft: removing member [%v] from raft cluster", server.Address)
				future := c.Raft.RemoveServer(server.ID, 0, 0)
				if err := future.Error(); err != nil {
					log.Error("handleSerfMemberLeft: remove server [%v] from raft error: %s", server.Address, err)
					return err
				}
			}
		}
	}

	var result *multierror.Error
	for _, m := range event.Members {
		if !isBroker(m) {
			continue
		}
		if id, registered := c.registeredMember(m); registered {
			log.Info("handleSerfMemberLeft: unregistering broker %d", id)
			if err := c.UnregisterBroker(id); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

func leavingServer(members map[string]serf.Member, id hraft.ServerID) bool {
	for _, m := range members {
		if hraft.ServerID(m.Tags[tagRaftServerID]) == id {
			return true
		}
	}
	return false
}

// registeredMember returns the broker id of m if the current registration of
// that id is m's incarnation. A broker restarted under the same id is left alone.
func (c *Controller) registeredMember(m serf.Member) (int32, bool) {
	id, err := brokerIDFromTags(m.Tags)
	if err != nil {
		log.Warn("ignoring member %s: %v", m.Name, err)
		return 0, false
	}
	current, ok := c.FSM.GetBroker(id)
	if !ok || current.IncarnationID().String() != m.Tags[tagIncarnationID] {
		return id, false
	}
	return id, true
}

// reconcile brings the registrations in line with the current membership.
// It runs when this node becomes the leader, since events were ignored while it wasn't.
func (c *Controller) reconcile() error {
	members, err := c.members()
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, m := range members {
		if !isBroker(m) {
			continue
		}
		event := serf.MemberEvent{Members: []serf.Member{m}}
		var err error
		switch m.Status {
		case serf.StatusAlive:
			err = c.handleSerfMemberJoin(event)
		case serf.StatusFailed:
			err = c.handleSerfMemberFailed(event)
		case serf.StatusLeft:
			err = c.handleSerfMemberLeft(event)
		}
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (c *Controller) monitorLeadership() {
	for {
		select {
		case isLeader := <-c.RaftNotifyCh:
			log.Info("monitorLeadership isLeader: %v", isLeader)
			if !isLeader {
				continue
			}
			// wait for entries of the previous term before reading the FSM
			if err := c.Raft.Barrier(raftApplyTimeout).Error(); err != nil {
				log.Error("monitorLeadership: barrier failed: %v", err)
				continue
			}
			if err := c.reconcile(); err != nil {
				log.Error("monitorLeadership: reconcile failed: %v", err)
			}
		case <-c.ShutDownSignal:
			return
		}
	}
}
