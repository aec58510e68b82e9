package service

import "testing"

func TestJWKSHealthPath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"путь JWKS", "https://auth.example.com/.well-known/jwks.json", "/.well-known/jwks.json"},
		{"realm Keycloak", "https://kc:8443/realms/app/protocol/openid-connect/certs", "/realms/app/protocol/openid-connect/certs"},
		{"без пути", "https://auth.example.com", "/health"},
		{"некорректный URL", "://bad", "/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jwksHealthPath(tt.input); got != tt.expected {
				t.Errorf("jwksHealthPath(%q) = %q, ожидалось %q", tt.input, got, tt.expected)
			}
		})
	}
}
