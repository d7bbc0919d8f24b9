package types

import (
	"fmt"
	"net"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/serf/serf"
)

// Configuration of a registry controller node
type Configuration struct {
	LogDir   string `mapstructure:"log_dir"`
	LogLevel string `mapstructure:"log_level"`

	NodeID      int    `mapstructure:"node_id"`
	Bootstrap   bool   `mapstructure:"bootstrap"`
	RaftID      string `mapstructure:"raft_id"`
	RaftAddress string `mapstructure:"raft_address"`
	// Dev runs a single node on in-memory raft, without serf
	Dev bool `mapstructure:"dev"`

	SerfAddress     string       `mapstructure:"serf_address"`
	SerfJoinAddress string       `mapstructure:"serf_join_address"`
	SerfConfig      *serf.Config `mapstructure:"-"`

	// Listeners this node advertises for itself, as NAME://host:port
	Listeners                   []string          `mapstructure:"listeners"`
	ListenerSecurityProtocolMap map[string]string `mapstructure:"listener_security_protocol_map"`
	Rack                        string            `mapstructure:"rack"`

	// MetadataVersion is the version records and snapshots are written at
	MetadataVersion     string `mapstructure:"metadata_version"`
	SnapshotCompression string `mapstructure:"snapshot_compression"`

	ZkConnect string `mapstructure:"zk_connect"`
	ZkPrefix  string `mapstructure:"zk_prefix"`
}

// ProtocolMap returns the listener security protocol map with parsed values
func (c *Configuration) ProtocolMap() (map[string]SecurityProtocol, error) {
	res := make(map[string]SecurityProtocol, len(c.ListenerSecurityProtocolMap))
	for listener, name := range c.ListenerSecurityProtocolMap {
		p, err := ParseSecurityProtocol(name)
		if err != nil {
			return nil, fmt.Errorf("listener %s: %w", listener, err)
		}
		res[strings.ToUpper(listener)] = p
	}
	return res, nil
}

// Endpoints parses the configured listeners
func (c *Configuration) Endpoints() ([]Endpoint, error) {
	protocols, err := c.ProtocolMap()
	if err != nil {
		return nil, err
	}
	var res []Endpoint
	for _, l := range c.Listeners {
		e, err := ParseEndpoint(l, protocols)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// Validate reports every configuration problem at once
func (c *Configuration) Validate() error {
	var result *multierror.Error
	if c.NodeID < 0 {
		result = multierror.Append(result, fmt.Errorf("node_id must not be negative, got %d", c.NodeID))
	}
	if c.LogDir == "" {
		result = multierror.Append(result, fmt.Errorf("log_dir must be set"))
	}
	if _, _, err := net.SplitHostPort(c.RaftAddress); err != nil && !c.Dev {
		result = multierror.Append(result, fmt.Errorf("invalid raft_address %q: %w", c.RaftAddress, err))
	}
	if c.SerfAddress != "" {
		if _, _, err := net.SplitHostPort(c.SerfAddress); err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid serf_address %q: %w", c.SerfAddress, err))
		}
	}
	if _, err := c.Endpoints(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
