package types

import "fmt"

// VersionRange is a closed interval of supported feature versions
type VersionRange struct {
	Min int16
	Max int16
}

// Contains reports whether v falls within the range
func (r VersionRange) Contains(v int16) bool {
	return v >= r.Min && v <= r.Max
}

func (r VersionRange) String() string {
	return fmt.Sprintf("[%d-%d]", r.Min, r.Max)
}

// Node represents a broker as seen through one of its listeners
type Node struct {
	NodeID int32
	Host   string
	Port   uint16
	Rack   string
}

func (n Node) String() string {
	return fmt.Sprintf("%s:%d (id: %d rack: %s)", n.Host, n.Port, n.NodeID, n.Rack)
}
