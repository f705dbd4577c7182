package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSameOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want bool
	}{
		{"https://pantry.example.com/menu", "https://pantry.example.com", true},
		{"https://pantry.example.com:443/", "https://pantry.example.com", true},
		{"http://pantry.example.com:80/", "http://pantry.example.com", true},
		{"HTTPS://Pantry.Example.com/", "https://pantry.example.com", true},
		{"http://[::1]/", "http://[::1]:80", true},
		{"https://pantry.example.com:8443/", "https://pantry.example.com", false},
		{"http://pantry.example.com/", "https://pantry.example.com", false},
		{"https://cdn.example.net/", "https://pantry.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"~"+tt.b, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SameOrigin(mustParse(t, tt.a), mustParse(t, tt.b)))
			assert.Equal(t, tt.want, SameOrigin(mustParse(t, tt.b), mustParse(t, tt.a)))
		})
	}

	assert.False(t, SameOrigin(nil, mustParse(t, "https://pantry.example.com")))
}
