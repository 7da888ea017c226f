// Package urlutil contains the canonicalization rules that define URL
// identity across the crawler, every deduplication decision goes through
// these functions
package urlutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Normalize canonicalizes a raw URL: the scheme and host are lowercased,
// the fragment is dropped, trailing slashes are stripped from the path
// (an empty path becomes "/") and the query string is preserved verbatim.
// It returns the re-serialized URL or an error if the input cannot be
// parsed or misses a scheme or a host.
func Normalize(rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("normalize: empty URL")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("normalize %q: %w", rawURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("normalize %q: missing scheme or host", rawURL)
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	if parsed.RawPath != "" {
		parsed.RawPath = strings.TrimRight(parsed.RawPath, "/")
		if parsed.RawPath == "" {
			parsed.RawPath = "/"
		}
	}
	return parsed.String(), nil
}

// Hash returns the SHA-256 hex digest of the normalized form of the URL.
// Two URLs that normalize equally always hash equally, making the digest
// the canonical identity for queue uniqueness and page lookup.
func Hash(rawURL string) (string, error) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}

// Domain extracts the host authority of the URL.
func Domain(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("extract domain from %q: %w", rawURL, err)
	}
	return strings.ToLower(parsed.Host), nil
}

// BaseURL returns the <scheme>://<host> portion of the URL, the anchor
// point for the domain robots.txt and default sitemap locations.
func BaseURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("base URL of %q: %w", rawURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("base URL of %q: missing scheme or host", rawURL)
	}
	return fmt.Sprintf("%s://%s", strings.ToLower(parsed.Scheme), strings.ToLower(parsed.Host)), nil
}
