package tlsutil

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig_EnforcesMinimumTLS12AndAEADCipherSuites(t *testing.T) {
	cfg := DefaultTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.NotEmpty(t, cfg.CipherSuites)
	for _, suite := range cfg.CipherSuites {
		info := tls.CipherSuiteName(suite)
		assert.NotContains(t, info, "RC4", "cipher suite must not be a legacy stream cipher")
		assert.NotContains(t, info, "3DES", "cipher suite must not be a legacy block cipher")
	}
}

func TestSecureTransport_EnablesHTTP2AndPoolsConnections(t *testing.T) {
	tr := SecureTransport()
	assert.True(t, tr.ForceAttemptHTTP2)
	assert.Equal(t, DefaultTLSConfig().MinVersion, tr.TLSClientConfig.MinVersion)
	assert.Greater(t, tr.MaxIdleConns, 0)
	assert.Greater(t, tr.MaxIdleConnsPerHost, 0)
	assert.Greater(t, tr.IdleConnTimeout, time.Duration(0))
}

func TestSecureHTTPClient_CarriesTheGivenTimeoutAndHardenedTransport(t *testing.T) {
	c := SecureHTTPClient(5 * time.Second)
	assert.Equal(t, 5*time.Second, c.Timeout)
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, DefaultTLSConfig().MinVersion, tr.TLSClientConfig.MinVersion)
}

func TestSecureHTTPClient_EachCallReturnsAnIndependentTransport(t *testing.T) {
	a := SecureHTTPClient(time.Second)
	b := SecureHTTPClient(time.Second)
	assert.NotSame(t, a.Transport, b.Transport)
}
