package websocket

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCheckOrigin(t *testing.T) {
	appURL := "https://dashboard.sensorpulse.example.com/app"

	tests := []struct {
		name          string
		origin        string
		isDevelopment bool
		want          bool
	}{
		// Always allowed
		{"empty origin", "", false, true},
		{"app origin", "https://dashboard.sensorpulse.example.com", false, true},

		// Rejected in production
		{"different host", "https://evil.com", false, false},
		{"different port", "https://dashboard.sensorpulse.example.com:9090", false, false},
		{"http instead of https", "http://dashboard.sensorpulse.example.com", false, false},
		{"subdomain", "https://sub.dashboard.sensorpulse.example.com", false, false},
		{"file origin", "file://", false, false},

		// Localhost: allowed in dev, rejected in prod
		{"localhost dev", "http://localhost:5173", true, true},
		{"localhost no port dev", "http://localhost", true, true},
		{"127.0.0.1 dev", "http://127.0.0.1:3000", true, true},
		{"ipv6 loopback dev", "http://[::1]:3000", true, true},
		{"localhost prod rejected", "http://localhost:5173", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewCheckOrigin(appURL, tt.isDevelopment)
			r, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checker(r))
		})
	}
}

func TestExtractOrigin(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
		want   string
	}{
		{"full URL with path", "https://example.com/app/dashboard", "https://example.com"},
		{"URL with port", "https://example.com:8443/path", "https://example.com:8443"},
		{"http URL", "http://localhost:8000/", "http://localhost:8000"},
		{"empty string", "", ""},
		{"no host", "mailto:ops@example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractOrigin(tt.rawURL))
		})
	}
}
