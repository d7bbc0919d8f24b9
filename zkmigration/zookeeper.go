package zkmigration

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CefBoud/monkafka-registry/logging"
	"github.com/go-zookeeper/zk"
	"github.com/hashicorp/go-hclog"
)

// ErrNoNode is returned by Handler.Get and Handler.Children for a missing znode
var ErrNoNode = errors.New("znode doesn't exist")

// Handler provides the read-only ZooKeeper operations the importer needs
type Handler interface {
	Children(string) ([]string, error)
	// Get returns the data of a znode along with its stat; the importer
	// uses Czxid as the broker's ZK epoch.
	Get(string) ([]byte, *zk.Stat, error)
	Close()
}

// ZKHandler implements the Handler interface
// for real ZooKeeper clusters.
type ZKHandler struct {
	client  *zk.Conn
	Connect string
}

// NewHandler connects to the ensemble in the connect string (host:port,host:port)
func NewHandler(connect string, sessionTimeout time.Duration) (*ZKHandler, error) {
	z := &ZKHandler{Connect: connect}
	logger := logging.Logger().Named("zookeeper").StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})

	var err error
	z.client, _, err = zk.Connect(zk.FormatServers(splitConnect(connect)), sessionTimeout, zk.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("could not connect to zookeeper %s: %w", connect, err)
	}
	return z, nil
}

// Close calls close on the *ZKHandler
func (z *ZKHandler) Close() {
	z.client.Close()
}

// Get returns the data and stat of the znode at p
func (z *ZKHandler) Get(p string) ([]byte, *zk.Stat, error) {
	data, stat, err := z.client.Get(p)
	if err != nil {
		if errors.Is(err, zk.ErrNoNode) {
			return nil, nil, fmt.Errorf("[%s] %w", p, ErrNoNode)
		}
		return nil, nil, fmt.Errorf("[%s] %s", p, err)
	}
	return data, stat, nil
}

// Children returns the children names of the znode at p
func (z *ZKHandler) Children(p string) ([]string, error) {
	children, _, err := z.client.Children(p)
	if err != nil {
		if errors.Is(err, zk.ErrNoNode) {
			return nil, fmt.Errorf("[%s] %w", p, ErrNoNode)
		}
		return nil, fmt.Errorf("[%s] %s", p, err)
	}
	return children, nil
}

func splitConnect(connect string) []string {
	var servers []string
	for _, s := range strings.Split(connect, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return servers
}
