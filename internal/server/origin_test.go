package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func requestWithOrigin(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"wildcard allows any", []string{"*"}, "https://anything.example", true},
		{"wildcard allows missing origin", []string{"*"}, "", true},
		{"exact match", []string{"https://chat.example"}, "https://chat.example", true},
		{"case-insensitive host and scheme", []string{"HTTPS://Chat.Example"}, "https://chat.EXAMPLE", true},
		{"port matters", []string{"http://localhost:8080"}, "http://localhost:9090", false},
		{"path is ignored", []string{"https://chat.example/app"}, "https://chat.example", true},
		{"missing origin rejected", []string{"https://chat.example"}, "", false},
		{"garbage origin rejected", []string{"https://chat.example"}, "::not a url", false},
		{"invalid config entries skipped", []string{"chat.example", " ", "https://ok.example"}, "https://ok.example", true},
		{"nothing configured", nil, "https://chat.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOriginPolicy(tt.allowed, zerolog.Nop())
			assert.Equal(t, tt.want, p.check(requestWithOrigin(tt.origin)))
		})
	}
}
