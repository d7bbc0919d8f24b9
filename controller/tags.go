package controller

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/CefBoud/monkafka-registry/metadata"
	"github.com/CefBoud/monkafka-registry/types"
	"github.com/google/uuid"
)

// Serf tags a broker gossips its registration with
const (
	tagRole          = "role"
	tagID            = "ID"
	tagListeners     = "listeners"
	tagProtocols     = "security_protocols"
	tagFeatures      = "features"
	tagRack          = "rack"
	tagIncarnationID = "incarnation_id"
	tagRaftServerID  = "raft_server_id"
	tagRaftAddr      = "raft_addr"

	roleBroker = "broker"
)

// RegistrationTags encodes the registration's broker-provided state as serf tags:
// listeners as NAME://host:port, protocols and features as name=value lists.
func RegistrationTags(r *metadata.BrokerRegistration) map[string]string {
	var listeners, protocols, features []string
	for _, name := range r.ListenerNames() {
		endpoint, _ := r.Listener(name)
		listeners = append(listeners, types.FormatListener(endpoint))
		protocols = append(protocols, fmt.Sprintf("%s=%d", name, int16(endpoint.SecurityProtocol)))
	}
	supportedFeatures := r.SupportedFeatures()
	for _, name := range slices.Sorted(maps.Keys(supportedFeatures)) {
		versionRange := supportedFeatures[name]
		features = append(features, fmt.Sprintf("%s=%d-%d", name, versionRange.Min, versionRange.Max))
	}

	tags := map[string]string{
		tagRole:          roleBroker,
		tagID:            strconv.Itoa(int(r.ID())),
		tagListeners:     strings.Join(listeners, ","),
		tagProtocols:     strings.Join(protocols, ","),
		tagFeatures:      strings.Join(features, ","),
		tagIncarnationID: r.IncarnationID().String(),
	}
	if rack, ok := r.Rack(); ok {
		tags[tagRack] = rack
	}
	return tags
}

// RegistrationFromTags decodes RegistrationTags into a fenced registration at epoch
func RegistrationFromTags(tags map[string]string, epoch int64) (*metadata.BrokerRegistration, error) {
	id, err := brokerIDFromTags(tags)
	if err != nil {
		return nil, err
	}
	incarnationID, err := uuid.Parse(tags[tagIncarnationID])
	if err != nil {
		return nil, fmt.Errorf("broker %d: invalid %s tag: %w", id, tagIncarnationID, err)
	}

	protocols := map[string]types.SecurityProtocol{}
	for _, entry := range splitList(tags[tagProtocols]) {
		name, value, _ := strings.Cut(entry, "=")
		p, err := strconv.ParseInt(value, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("broker %d: invalid security protocol %q: %w", id, entry, err)
		}
		protocols[strings.ToUpper(name)] = types.SecurityProtocol(p)
	}

	builder := metadata.NewBuilder().
		SetID(id).
		SetEpoch(epoch).
		SetIncarnationID(incarnationID).
		SetFenced(true)
	for _, listener := range splitList(tags[tagListeners]) {
		endpoint, err := types.ParseEndpoint(listener, protocols)
		if err != nil {
			return nil, fmt.Errorf("broker %d: %w", id, err)
		}
		builder.AddListener(endpoint)
	}
	for _, entry := range splitList(tags[tagFeatures]) {
		name, versions, _ := strings.Cut(entry, "=")
		minStr, maxStr, found := strings.Cut(versions, "-")
		minVersion, minErr := strconv.ParseInt(minStr, 10, 16)
		maxVersion, maxErr := strconv.ParseInt(maxStr, 10, 16)
		if !found || minErr != nil || maxErr != nil {
			return nil, fmt.Errorf("broker %d: invalid feature %q", id, entry)
		}
		builder.SetSupportedFeature(name, types.VersionRange{Min: int16(minVersion), Max: int16(maxVersion)})
	}
	if rack, ok := tags[tagRack]; ok {
		builder.SetRack(rack)
	}
	return builder.Build()
}

func brokerIDFromTags(tags map[string]string) (int32, error) {
	id, err := strconv.ParseInt(tags[tagID], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s tag %q: %w", tagID, tags[tagID], err)
	}
	return int32(id), nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
