package server

import (
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		header  string
		want    bool
	}{
		{"exact match", []string{"http://localhost:3000"}, "http://localhost:3000", true},
		{"case insensitive", []string{"http://localhost:3000"}, "HTTP://LocalHost:3000", true},
		{"different port", []string{"http://localhost:3000"}, "http://localhost:4000", false},
		{"different scheme", []string{"http://localhost:3000"}, "https://localhost:3000", false},
		{"missing header", []string{"http://localhost:3000"}, "", false},
		{"wildcard", []string{"*"}, "http://anything.example", true},
		{"wildcard missing header", []string{"*"}, "", true},
		{"invalid config entry ignored", []string{"not a url", " http://ok.example "}, "http://ok.example", true},
		{"garbage header", []string{"http://localhost:3000"}, "::::", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOriginPolicy(tt.origins, zerolog.Nop())
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.header != "" {
				r.Header.Set("Origin", tt.header)
			}
			if got := p.check(r); got != tt.want {
				t.Fatalf("check(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}
