package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"HTTP://LocalHost:8080", "not a url", " ", "https://chat.example"}, zerolog.Nop())

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "configured origin", origin: "http://localhost:8080", want: true},
		{name: "case differences", origin: "http://LOCALHOST:8080", want: true},
		{name: "second origin", origin: "https://chat.example", want: true},
		{name: "wrong port", origin: "http://localhost:9090", want: false},
		{name: "wrong scheme", origin: "https://localhost:8080", want: false},
		{name: "missing origin", origin: "", want: false},
		{name: "garbage origin", origin: "::::", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, policy.checkOrigin(r))
		})
	}

	assert.ElementsMatch(t, []string{"http://localhost:8080", "https://chat.example"}, policy.corsOrigins())
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := newOriginPolicy([]string{"*"}, zerolog.Nop())

	r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	r.Header.Set("Origin", "https://anywhere.example")
	assert.True(t, policy.allows(r))
	assert.Equal(t, []string{"*"}, policy.corsOrigins())
}
