// Package validation checks user-supplied values that end up in security
// decisions, such as which browser origins may open the refresh channel.
package validation

import (
	"fmt"
	"path"
	"strings"
)

// OriginPattern validates a websocket origin pattern. Patterns match the
// origin host (with port) using path.Match syntax, for example
// "example.com", "*.example.com" or "localhost:*". A pattern may carry an
// http or https scheme to match the full origin instead of the host.
func OriginPattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("origin pattern cannot be empty")
	}
	if strings.ContainsAny(pattern, " \t\r\n") {
		return fmt.Errorf("origin pattern contains whitespace")
	}

	host := pattern
	if scheme, rest, ok := strings.Cut(pattern, "://"); ok {
		if scheme != "http" && scheme != "https" {
			return fmt.Errorf("invalid origin scheme: %s (only http/https allowed)", scheme)
		}
		host = rest
	}
	if host == "" {
		return fmt.Errorf("origin pattern must have a host")
	}
	if strings.ContainsAny(host, "/?#@") {
		return fmt.Errorf("origin pattern must not contain a path, query or credentials")
	}

	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid origin pattern: %w", err)
	}
	return nil
}

// OriginPatterns validates every pattern and reports the first problem.
func OriginPatterns(patterns []string) error {
	for _, p := range patterns {
		if err := OriginPattern(p); err != nil {
			return fmt.Errorf("%q: %w", p, err)
		}
	}
	return nil
}
