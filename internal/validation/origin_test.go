package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginPattern(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		expectErr bool
	}{
		{name: "plain host", pattern: "example.com"},
		{name: "host with port", pattern: "localhost:3000"},
		{name: "wildcard subdomain", pattern: "*.example.com"},
		{name: "wildcard port", pattern: "localhost:*"},
		{name: "https scheme", pattern: "https://graphs.example.com"},
		{name: "empty", pattern: "", expectErr: true},
		{name: "whitespace", pattern: "example .com", expectErr: true},
		{name: "javascript scheme", pattern: "javascript://x", expectErr: true},
		{name: "scheme without host", pattern: "https://", expectErr: true},
		{name: "path", pattern: "example.com/graphs", expectErr: true},
		{name: "credentials", pattern: "user@example.com", expectErr: true},
		{name: "malformed class", pattern: "[a-", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := OriginPattern(tt.pattern)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOriginPatterns(t *testing.T) {
	assert.NoError(t, OriginPatterns(nil))
	assert.NoError(t, OriginPatterns([]string{"a.example.com", "b.example.com"}))

	err := OriginPatterns([]string{"ok.example.com", "bad/path"})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "bad/path")
	}
}
