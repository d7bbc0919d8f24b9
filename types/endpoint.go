package types

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// SecurityProtocol is the wire id of a listener's security protocol
type SecurityProtocol int16

// Security protocols known to Kafka brokers
const (
	PLAINTEXT      SecurityProtocol = 0
	SSL            SecurityProtocol = 1
	SASL_PLAINTEXT SecurityProtocol = 2
	SASL_SSL       SecurityProtocol = 3
)

var securityProtocolNames = map[SecurityProtocol]string{
	PLAINTEXT:      "PLAINTEXT",
	SSL:            "SSL",
	SASL_PLAINTEXT: "SASL_PLAINTEXT",
	SASL_SSL:       "SASL_SSL",
}

// String returns the protocol name, or UNKNOWN(id) for ids outside the table.
// Unknown ids are kept as-is so they survive a decode/encode round trip.
func (p SecurityProtocol) String() string {
	if name, ok := securityProtocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int16(p))
}

// ParseSecurityProtocol returns the protocol with the given (case-insensitive) name
func ParseSecurityProtocol(name string) (SecurityProtocol, error) {
	for p, n := range securityProtocolNames {
		if strings.EqualFold(n, name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown security protocol %q", name)
}

// Endpoint is a named network address a broker listens on.
// An empty ListenerName means the endpoint is unnamed.
type Endpoint struct {
	ListenerName     string
	SecurityProtocol SecurityProtocol
	Host             string
	Port             uint16
}

// HasListenerName reports whether the endpoint carries a listener name
func (e Endpoint) HasListenerName() bool {
	return e.ListenerName != ""
}

func (e Endpoint) String() string {
	return fmt.Sprintf("Endpoint(listenerName='%s', securityProtocol=%s, host='%s', port=%d)",
		e.ListenerName, e.SecurityProtocol, e.Host, e.Port)
}

// ParseEndpoint parses a listener of the form NAME://host:port.
// protocolMap maps listener names to security protocols; when a listener is
// missing from it, the listener name itself must be a protocol name (PLAINTEXT://...).
func ParseEndpoint(listener string, protocolMap map[string]SecurityProtocol) (Endpoint, error) {
	name, address, found := strings.Cut(listener, "://")
	if !found || name == "" {
		return Endpoint{}, fmt.Errorf("listener %q is not of the form NAME://host:port", listener)
	}
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Endpoint{}, fmt.Errorf("could not parse listener %q address: %w", listener, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("could not parse listener %q port: %w", listener, err)
	}
	name = strings.ToUpper(name)
	protocol, ok := protocolMap[name]
	if !ok {
		protocol, err = ParseSecurityProtocol(name)
		if err != nil {
			return Endpoint{}, fmt.Errorf("no security protocol mapped for listener %s", name)
		}
	}
	return Endpoint{ListenerName: name, SecurityProtocol: protocol, Host: host, Port: uint16(port)}, nil
}

// FormatListener is the inverse of ParseEndpoint
func FormatListener(e Endpoint) string {
	return fmt.Sprintf("%s://%s", e.ListenerName, net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port))))
}
