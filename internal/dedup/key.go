// Package dedup implements the deduplication & idempotency service
// (component B): canonical key derivation and a short-lived seen-set
// consulted before the normalize stage calls the CMS collaborator. The
// seen-set's per-key TTL cache is grounded on the teacher's politeness
// host cache, which holds the same shape of problem — a sync.Map keyed
// by a derived string, populated lazily, read far more often than
// written.
package dedup

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ingestlane/pipeline/internal/hash/sha256"
)

var hasher = sha256.New()

// strippedExact holds the tracking query parameters removed by exact name
// during canonicalization; utm_* is matched by prefix in CanonicalizeURL.
var strippedExact = map[string]bool{
	"ref":    true,
	"source": true,
}

// CanonicalizeURL lowercases the host, strips the fixed set of tracking
// query parameters, and collapses trailing slashes. It is idempotent:
// CanonicalizeURL(CanonicalizeURL(u)) == CanonicalizeURL(u).
func CanonicalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	parsed.Host = strings.ToLower(parsed.Host)

	if parsed.RawQuery != "" {
		values := parsed.Query()
		for key := range values {
			lower := strings.ToLower(key)
			if strings.HasPrefix(lower, "utm_") || strippedExact[lower] {
				values.Del(key)
			}
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		encoded := url.Values{}
		for _, k := range keys {
			encoded[k] = values[k]
		}
		parsed.RawQuery = encoded.Encode()
	}

	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.Fragment = ""
	return parsed.String(), nil
}

// DeriveKey implements the §4.B key-derivation algorithm: canonical URL if
// present, else a digest of title+published_at, else a non-deduplicating
// random key.
func DeriveKey(itemURL, title string, publishedAt *time.Time) string {
	if itemURL != "" {
		if canonical, err := CanonicalizeURL(itemURL); err == nil {
			return canonical
		}
	}
	if title != "" {
		published := ""
		if publishedAt != nil {
			published = publishedAt.UTC().Format(time.RFC3339)
		}
		digest, err := hasher.Hash([]byte(title + "|" + published))
		if err != nil {
			return randomKey()
		}
		return digest[:32]
	}
	return randomKey()
}

func randomKey() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("rand-%d-%s", time.Now().UnixNano(), hex.EncodeToString(buf))
}
