package httputil

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *ClientConfig
		wantTimeout time.Duration
		wantPerHost int
	}{
		{"nil uses defaults", nil, 30 * time.Second, 20},
		{"token endpoint", TokenEndpointConfig(), 15 * time.Second, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.cfg)
			require.Equal(t, tt.wantTimeout, client.Timeout)

			transport, ok := client.Transport.(*http.Transport)
			require.True(t, ok)
			require.Equal(t, tt.wantPerHost, transport.MaxIdleConnsPerHost)
			require.Equal(t, tt.wantTimeout, transport.ResponseHeaderTimeout)
			require.True(t, transport.ForceAttemptHTTP2)
		})
	}
}
