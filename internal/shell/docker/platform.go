package docker

import (
	"fmt"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// ParsePlatform parses "os/arch[/variant]". An empty string yields nil,
// meaning the daemon default.
func ParsePlatform(s string) (*ocispec.Platform, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(strings.ToLower(s), "/")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("%w: %q (want os/arch[/variant])", ErrInvalidPlatform, s)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q has an empty component", ErrInvalidPlatform, s)
		}
	}

	platform := &ocispec.Platform{OS: parts[0], Architecture: parts[1]}
	if len(parts) == 3 {
		platform.Variant = parts[2]
	}
	return platform, nil
}

// FormatPlatform is the inverse of ParsePlatform.
func FormatPlatform(p *ocispec.Platform) string {
	if p == nil {
		return ""
	}
	out := p.OS + "/" + p.Architecture
	if p.Variant != "" {
		out += "/" + p.Variant
	}
	return out
}

// NormalizePlatform validates s and returns it in canonical lower-case form.
func NormalizePlatform(s string) (string, error) {
	p, err := ParsePlatform(s)
	if err != nil {
		return "", err
	}
	return FormatPlatform(p), nil
}
