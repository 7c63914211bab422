// Package fingerprint derives the deduplication key for download jobs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
)

// ErrInvalidURL is returned when the source URL is empty, malformed, or not
// from a supported host.
var ErrInvalidURL = errors.New("invalid or unsupported source URL")

// Hosts we accept video page URLs from. Subdomains (www., m., web.) match too.
var supportedHosts = []string{
	"facebook.com",
	"fb.com",
	"fb.watch",
}

// Query parameters that never affect which video is resolved.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"ref":          true,
	"refsrc":       true,
	"mibextid":     true,
}

// Compute returns the deterministic fingerprint for a (url, format, quality)
// triple. The URL is normalized first so that cosmetic variants of the same
// page collapse to one key. Identical triples always produce identical
// fingerprints.
func Compute(rawURL, format, quality string) (string, error) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return "", err
	}
	if format == "" {
		format = "best"
	}
	if quality == "" {
		quality = "best"
	}

	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(format))
	h.Write([]byte{0})
	h.Write([]byte(quality))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Normalize canonicalizes a video page URL: lowercases scheme and host,
// strips default ports, fragments, tracking params, and trailing slashes.
// Returns ErrInvalidURL if the URL is malformed or not a supported host.
func Normalize(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", ErrInvalidURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidURL
	}
	if u.Host == "" {
		return "", ErrInvalidURL
	}

	host := strings.ToLower(u.Hostname())
	if !SupportedHost(host) {
		return "", ErrInvalidURL
	}

	port := u.Port()
	if port == "80" || port == "443" {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}

	path := strings.TrimSuffix(u.EscapedPath(), "/")

	query := ""
	if u.RawQuery != "" {
		values := u.Query()
		keys := make([]string, 0, len(values))
		for k := range values {
			if trackingParams[k] {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			for _, v := range values[k] {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		query = strings.Join(parts, "&")
	}

	normalized := strings.ToLower(u.Scheme) + "://" + host + path
	if query != "" {
		normalized += "?" + query
	}
	return normalized, nil
}

// SupportedHost reports whether the host belongs to a supported video site.
func SupportedHost(host string) bool {
	host = strings.ToLower(host)
	for _, h := range supportedHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
