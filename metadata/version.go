package metadata

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver"
)

// MetadataVersion is the metadata.version feature level records are written at
type MetadataVersion int16

// FeatureName is the name brokers list metadata versions under in their supported features
const FeatureName = "metadata.version"

// Metadata versions, by feature level
const (
	IBP_3_0_IV1 MetadataVersion = iota + 1
	IBP_3_1_IV0
	IBP_3_2_IV0
	IBP_3_3_IV0
	IBP_3_3_IV1
	IBP_3_3_IV2
	IBP_3_3_IV3
	IBP_3_4_IV0
	IBP_3_5_IV0
	IBP_3_5_IV1
	IBP_3_5_IV2
)

// LatestMetadataVersion is the highest version this package can write
const LatestMetadataVersion = IBP_3_5_IV2

// MinimumKRaftVersion is the lowest version a KRaft cluster can run
const MinimumKRaftVersion = IBP_3_0_IV1

var metadataVersionNames = []struct {
	release string
	subVer  string
}{
	IBP_3_0_IV1: {"3.0", "IV1"},
	IBP_3_1_IV0: {"3.1", "IV0"},
	IBP_3_2_IV0: {"3.2", "IV0"},
	IBP_3_3_IV0: {"3.3", "IV0"},
	IBP_3_3_IV1: {"3.3", "IV1"},
	IBP_3_3_IV2: {"3.3", "IV2"},
	IBP_3_3_IV3: {"3.3", "IV3"},
	IBP_3_4_IV0: {"3.4", "IV0"},
	IBP_3_5_IV0: {"3.5", "IV0"},
	IBP_3_5_IV1: {"3.5", "IV1"},
	IBP_3_5_IV2: {"3.5", "IV2"},
}

// FeatureLevel is the metadata.version feature level
func (v MetadataVersion) FeatureLevel() int16 {
	return int16(v)
}

// Valid reports whether v is a known version
func (v MetadataVersion) Valid() bool {
	return v >= MinimumKRaftVersion && v <= LatestMetadataVersion
}

// Release returns the release the version shipped with, e.g. 3.3
func (v MetadataVersion) Release() string {
	if !v.Valid() {
		return ""
	}
	return metadataVersionNames[v].release
}

func (v MetadataVersion) String() string {
	if !v.Valid() {
		return fmt.Sprintf("UNKNOWN(%d)", int16(v))
	}
	return metadataVersionNames[v].release + "-" + metadataVersionNames[v].subVer
}

// IsAtLeast reports whether v is the same as or newer than other
func (v MetadataVersion) IsAtLeast(other MetadataVersion) bool {
	return v >= other
}

// IsInControlledShutdownStateSupported reports whether registrations can carry
// the controlled shutdown state
func (v MetadataVersion) IsInControlledShutdownStateSupported() bool {
	return v.IsAtLeast(IBP_3_3_IV3)
}

// IsMigrationSupported reports whether registrations can carry a migrating ZK broker epoch
func (v MetadataVersion) IsMigrationSupported() bool {
	return v.IsAtLeast(IBP_3_4_IV0)
}

// RegisterBrokerRecordVersion is the RegisterBrokerRecord schema version to write at v
func (v MetadataVersion) RegisterBrokerRecordVersion() int16 {
	if v.IsMigrationSupported() {
		return 2
	} else if v.IsInControlledShutdownStateSupported() {
		return 1
	}
	return 0
}

// BrokerRegistrationChangeRecordVersion is the BrokerRegistrationChangeRecord schema version to write at v
func (v MetadataVersion) BrokerRegistrationChangeRecordVersion() int16 {
	if v.IsInControlledShutdownStateSupported() {
		return 1
	}
	return 0
}

// ParseMetadataVersion accepts either an exact version (3.3-IV3) or a release
// (3.3, 3.3.0), which resolves to the latest version of that release.
func ParseMetadataVersion(s string) (MetadataVersion, error) {
	s = strings.TrimSpace(s)
	for v := MinimumKRaftVersion; v <= LatestMetadataVersion; v++ {
		if strings.EqualFold(v.String(), s) {
			return v, nil
		}
	}
	if strings.Contains(strings.ToUpper(s), "-IV") {
		return 0, fmt.Errorf("unknown metadata version %q", s)
	}
	release, err := semver.NewVersion(s)
	if err != nil {
		return 0, fmt.Errorf("could not parse metadata version %q: %w", s, err)
	}
	want := fmt.Sprintf("%d.%d", release.Major(), release.Minor())
	for v := LatestMetadataVersion; v >= MinimumKRaftVersion; v-- {
		if v.Release() == want {
			return v, nil
		}
	}
	return 0, fmt.Errorf("no metadata version for release %s", want)
}
