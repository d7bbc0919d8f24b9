package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	protocols := map[string]SecurityProtocol{"INTERNAL": SASL_SSL}

	e, err := ParseEndpoint("internal://broker-1:9093", protocols)
	require.NoError(t, err)
	assert.Equal(t, Endpoint{ListenerName: "INTERNAL", SecurityProtocol: SASL_SSL, Host: "broker-1", Port: 9093}, e)
	assert.Equal(t, "INTERNAL://broker-1:9093", FormatListener(e))

	e, err = ParseEndpoint("SSL://[::1]:9094", nil)
	require.NoError(t, err)
	assert.Equal(t, SSL, e.SecurityProtocol)
	assert.Equal(t, "::1", e.Host)
	assert.Equal(t, "SSL://[::1]:9094", FormatListener(e))

	e, err = ParseEndpoint("PLAINTEXT://:9092", nil)
	require.NoError(t, err)
	assert.Equal(t, "", e.Host)

	for _, bad := range []string{"broker-1:9092", "://h:1", "CUSTOM://h:1", "PLAINTEXT://h", "PLAINTEXT://h:70000"} {
		_, err := ParseEndpoint(bad, protocols)
		assert.Error(t, err, bad)
	}
}

func TestSecurityProtocol(t *testing.T) {
	assert.Equal(t, "SASL_PLAINTEXT", SASL_PLAINTEXT.String())
	assert.Equal(t, "UNKNOWN(42)", SecurityProtocol(42).String())
	p, err := ParseSecurityProtocol("sasl_ssl")
	require.NoError(t, err)
	assert.Equal(t, SASL_SSL, p)
	_, err = ParseSecurityProtocol("TLS")
	assert.Error(t, err)
}

func TestEndpointString(t *testing.T) {
	e := Endpoint{ListenerName: "INTERNAL", SecurityProtocol: PLAINTEXT, Host: "localhost", Port: 9092}
	assert.Equal(t, "Endpoint(listenerName='INTERNAL', securityProtocol=PLAINTEXT, host='localhost', port=9092)", e.String())
	assert.True(t, e.HasListenerName())
	assert.False(t, Endpoint{Host: "localhost"}.HasListenerName())
	assert.Equal(t, "[1-11]", VersionRange{Min: 1, Max: 11}.String())
	assert.True(t, VersionRange{Min: 1, Max: 11}.Contains(7))
	assert.False(t, VersionRange{Min: 1, Max: 11}.Contains(12))
}

func TestConfigurationValidate(t *testing.T) {
	config := Configuration{
		LogDir:                      "/tmp/registry",
		RaftAddress:                 "localhost:9093",
		Listeners:                   []string{"INTERNAL://localhost:9092"},
		ListenerSecurityProtocolMap: map[string]string{"internal": "SSL"},
	}
	require.NoError(t, config.Validate())
	endpoints, err := config.Endpoints()
	require.NoError(t, err)
	assert.Equal(t, []Endpoint{{ListenerName: "INTERNAL", SecurityProtocol: SSL, Host: "localhost", Port: 9092}}, endpoints)

	bad := Configuration{
		NodeID:      -1,
		RaftAddress: "nope",
		SerfAddress: "also-nope",
		Listeners:   []string{"CUSTOM://localhost:1"},
	}
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "5 errors occurred")

	bad.ListenerSecurityProtocolMap = map[string]string{"CUSTOM": "TLS"}
	_, err = bad.Endpoints()
	assert.Error(t, err)

	dev := Configuration{LogDir: "/tmp/registry", RaftAddress: "node-1", Dev: true}
	assert.NoError(t, dev.Validate())
}
