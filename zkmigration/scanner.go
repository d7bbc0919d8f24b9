package zkmigration

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	log "github.com/CefBoud/monkafka-registry/logging"
	"github.com/CefBoud/monkafka-registry/metadata"
	"github.com/CefBoud/monkafka-registry/types"
	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru"
)

// ScanMetricKey counts broker znodes read by a scan, labelled by outcome
var ScanMetricKey = []string{"registry", "zk", "scan"}

// incarnationNamespace derives stable incarnation ids for ZK brokers,
// which have none of their own.
var incarnationNamespace = uuid.MustParse("3d1b6c8e-2f4a-5e7b-9c0d-1a2b3c4d5e6f")

// BrokerMeta is the JSON stored by a ZooKeeper-mode broker at /brokers/ids/<id>
type BrokerMeta struct {
	ListenerSecurityProtocolMap map[string]string       `json:"listener_security_protocol_map"`
	Endpoints                   []string                `json:"endpoints"`
	Rack                        *string                 `json:"rack"`
	JMXPort                     int                     `json:"jmx_port"`
	Features                    map[string]FeatureRange `json:"features"`
	Host                        string                  `json:"host"`
	Timestamp                   string                  `json:"timestamp"`
	Port                        int                     `json:"port"`
	Version                     int                     `json:"version"`
}

// FeatureRange is a supported feature range as written in the broker znode
type FeatureRange struct {
	MinVersion int16 `json:"min_version"`
	MaxVersion int16 `json:"max_version"`
}

type cacheKey struct {
	id           int32
	czxid, mzxid int64
}

// Scanner reads the broker registrations of a ZooKeeper-mode cluster
type Scanner struct {
	Handler Handler
	// Prefix is the chroot Kafka uses on the ensemble, without slashes
	Prefix string
	// parsed registrations, keyed by znode identity and version
	cache *lru.Cache
}

// NewScanner returns a Scanner keeping up to cacheSize parsed znodes
func NewScanner(handler Handler, prefix string, cacheSize int) (*Scanner, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create znode cache: %w", err)
	}
	return &Scanner{Handler: handler, Prefix: prefix, cache: cache}, nil
}

func (s *Scanner) brokersPath() string {
	return path.Join("/", s.Prefix, "brokers", "ids")
}

// Brokers returns a fenced, migrating registration for every broker znode, ordered by id.
// A znode that can't be read or parsed is skipped; the returned error lists all of them.
func (s *Scanner) Brokers(ctx context.Context) ([]*metadata.BrokerRegistration, error) {
	entries, err := s.Handler.Children(s.brokersPath())
	if err != nil {
		return nil, fmt.Errorf("could not list brokers: %w", err)
	}

	var result *multierror.Error
	var registrations []*metadata.BrokerRegistration
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return registrations, multierror.Append(result, err)
		}
		// In case we encounter non-ints (broker IDs) for
		// whatever reason, just continue.
		id, err := strconv.ParseInt(entry, 10, 32)
		if err != nil {
			log.Debug("Skipping non broker znode %s", entry)
			continue
		}
		registration, err := s.broker(int32(id))
		if err != nil {
			metrics.IncrCounterWithLabels(ScanMetricKey, 1, []metrics.Label{{Name: "outcome", Value: "error"}})
			result = multierror.Append(result, err)
			continue
		}
		metrics.IncrCounterWithLabels(ScanMetricKey, 1, []metrics.Label{{Name: "outcome", Value: "ok"}})
		registrations = append(registrations, registration)
	}
	sort.Slice(registrations, func(i, j int) bool { return registrations[i].ID() < registrations[j].ID() })
	return registrations, result.ErrorOrNil()
}

func (s *Scanner) broker(id int32) (*metadata.BrokerRegistration, error) {
	data, stat, err := s.Handler.Get(path.Join(s.brokersPath(), strconv.Itoa(int(id))))
	if err != nil {
		return nil, fmt.Errorf("could not read broker %d: %w", id, err)
	}
	key := cacheKey{id: id, czxid: stat.Czxid, mzxid: stat.Mzxid}
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*metadata.BrokerRegistration), nil
	}

	var meta BrokerMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("could not parse broker %d: %w", id, err)
	}
	registration, err := RegistrationFromBrokerMeta(id, stat.Czxid, &meta)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, registration)
	return registration, nil
}

// RegistrationFromBrokerMeta converts a broker znode. The znode's creation
// zxid is both the registration epoch and the migrating ZK broker epoch.
func RegistrationFromBrokerMeta(id int32, czxid int64, meta *BrokerMeta) (*metadata.BrokerRegistration, error) {
	protocols := make(map[string]types.SecurityProtocol, len(meta.ListenerSecurityProtocolMap))
	for listener, name := range meta.ListenerSecurityProtocolMap {
		p, err := types.ParseSecurityProtocol(name)
		if err != nil {
			return nil, fmt.Errorf("broker %d listener %s: %w", id, listener, err)
		}
		protocols[strings.ToUpper(listener)] = p
	}
	endpoints := meta.Endpoints
	// znodes older than version 2 only carry host and port
	if len(endpoints) == 0 && meta.Host != "" {
		endpoints = []string{types.FormatListener(types.Endpoint{ListenerName: "PLAINTEXT", Host: meta.Host, Port: uint16(meta.Port)})}
	}

	builder := metadata.NewBuilder().
		SetID(id).
		SetEpoch(czxid).
		SetIncarnationID(uuid.NewSHA1(incarnationNamespace, []byte(fmt.Sprintf("%d/%d", id, czxid)))).
		SetFenced(true).
		SetMigratingZkBrokerEpoch(czxid)
	for _, l := range endpoints {
		endpoint, err := types.ParseEndpoint(l, protocols)
		if err != nil {
			return nil, fmt.Errorf("broker %d: %w", id, err)
		}
		builder.AddListener(endpoint)
	}
	for name, r := range meta.Features {
		builder.SetSupportedFeature(name, types.VersionRange{Min: r.MinVersion, Max: r.MaxVersion})
	}
	if meta.Rack != nil {
		builder.SetRack(*meta.Rack)
	}
	return builder.Build()
}
