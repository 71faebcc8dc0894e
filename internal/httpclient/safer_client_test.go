package httpclient

import (
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	c := New(5 * time.Second)

	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{"public https", "https://hooks.example.com/crewline", ""},
		{"public http", "http://hooks.example.com/crewline", ""},
		{"file scheme", "file:///etc/passwd", "not allowed"},
		{"gopher scheme", "gopher://example.com", "not allowed"},
		{"credential confusion", "https://evil.com@localhost/", "@ character"},
		{"localhost", "https://localhost/hook", "localhost"},
		{"localhost subdomain", "https://api.localhost/hook", "localhost"},
		{"loopback ip", "http://127.0.0.1:8080/hook", "private IP"},
		{"rfc1918 ten", "http://10.1.2.3/hook", "private IP"},
		{"rfc1918 oneseventwo", "http://172.20.0.1/hook", "private IP"},
		{"rfc1918 oneninetwo", "http://192.168.1.10/hook", "private IP"},
		{"link local", "http://169.254.169.254/latest/meta-data", "private IP"},
		{"ipv6 loopback", "http://[::1]/hook", "private IP"},
		{"missing hostname", "https:///hook", "missing hostname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ValidateURL(tt.url)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateURLWithBlockingDisabled(t *testing.T) {
	off := false
	c := NewWithOptions(5*time.Second, Options{BlockPrivateIP: &off})

	_, err := c.ValidateURL("http://127.0.0.1:9999/hook")
	assert.NoError(t, err, "loopback should be allowed when blocking is disabled")

	_, err = c.ValidateURL("file:///etc/passwd")
	assert.Error(t, err, "scheme allowlist still applies")
}

func TestIsPrivateIP(t *testing.T) {
	private := []string{
		"10.0.0.1", "172.16.0.1", "172.31.255.255", "192.168.0.1",
		"127.0.0.1", "169.254.1.1", "0.0.0.1", "224.0.0.1", "240.0.0.1",
		"::1", "fe80::1", "fc00::1", "fd12:3456::1", "ff02::1", "::",
		"2001:db8::1",
	}
	for _, s := range private {
		ip := net.ParseIP(s)
		require.NotNil(t, ip, s)
		assert.True(t, isPrivateIP(ip), "%s should be private", s)
	}

	public := []string{"8.8.8.8", "1.1.1.1", "93.184.216.34", "2607:f8b0::1"}
	for _, s := range public {
		ip := net.ParseIP(s)
		require.NotNil(t, ip, s)
		assert.False(t, isPrivateIP(ip), "%s should be public", s)
	}
}

func TestIsLocalhost(t *testing.T) {
	assert.True(t, isLocalhost("localhost"))
	assert.True(t, isLocalhost("LOCALHOST"))
	assert.True(t, isLocalhost("localhost.localdomain"))
	assert.True(t, isLocalhost("api.localhost"))
	assert.False(t, isLocalhost("notlocalhost.example.com"))
	assert.False(t, isLocalhost("localhost.example.com"))
}

func TestWrapClientAllowsLoopback(t *testing.T) {
	c := WrapClient(&http.Client{Timeout: time.Second})
	_, err := c.ValidateURL("http://127.0.0.1:8080/hook")
	assert.NoError(t, err)
}
